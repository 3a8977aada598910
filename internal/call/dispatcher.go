package call

import (
	"context"
	"encoding/json"

	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

const scope = "call"

// Dispatcher routes inbound signaling events to the machine.
type Dispatcher struct {
	machine *Machine
	sub     transport.Subscriber
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher for machine on sub.
func NewDispatcher(machine *Machine, sub transport.Subscriber, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{machine: machine, sub: sub, logger: logger.Named("call.dispatch")}
}

// Bind subscribes to the signaling events. Binding again replaces the
// previous handlers.
func (d *Dispatcher) Bind() {
	m := d.machine
	d.sub.Subscribe(scope, "incoming_call", decode(d, "incoming_call", m.incoming))
	d.sub.Subscribe(scope, "call_accepted", decode(d, "call_accepted", m.accepted))
	d.sub.Subscribe(scope, "call_rejected", decode(d, "call_rejected", m.rejected))
	d.sub.Subscribe(scope, "call_ended", decode(d, "call_ended", m.ended))
	d.sub.Subscribe(scope, "call_failed", decode(d, "call_failed", m.failed))
	d.sub.Subscribe(scope, "webrtc_offer", decode(d, "webrtc_offer", m.offer))
	d.sub.Subscribe(scope, "webrtc_answer", decode(d, "webrtc_answer", m.answer))
	d.sub.Subscribe(scope, "webrtc_ice_candidate", decode(d, "webrtc_ice_candidate", m.candidate))
	d.sub.Subscribe(scope, transport.EventDisconnected, func(json.RawMessage) { m.transportLost() })
}

// Close releases the subscriptions.
func (d *Dispatcher) Close() {
	d.sub.Release(scope)
}

// InitiateCall starts an outgoing call.
func (d *Dispatcher) InitiateCall(ctx context.Context, to model.User, kind Kind) (Session, error) {
	return d.machine.Initiate(ctx, to, kind)
}

func decode[T any](d *Dispatcher, event string, fn func(T)) transport.Handler {
	return func(data json.RawMessage) {
		var p T
		if len(data) > 0 {
			if err := json.Unmarshal(data, &p); err != nil {
				d.logger.Warn("dropping malformed signaling event", zap.String("event", event), zap.Error(err))
				return
			}
		}
		fn(p)
	}
}
