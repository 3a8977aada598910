package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wpprtc/internal/bus"
	"github.com/matheus3301/wpprtc/internal/conversation"
	"github.com/matheus3301/wpprtc/internal/model"
	"github.com/matheus3301/wpprtc/internal/transport"
	"go.uber.org/zap"
)

type fakeRemote struct {
	mu       sync.Mutex
	convs    []model.Conversation
	msgs     map[string][]model.Message
	msgsGate map[string]chan struct{}
	sendGate chan struct{}
	markGate chan struct{}
	sendErr  error
	markErr  error
	nextID   int
	marked   [][]string
	deleted  []string
}

func (f *fakeRemote) Conversations(context.Context) ([]model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Conversation(nil), f.convs...), nil
}

func (f *fakeRemote) Messages(_ context.Context, id string) ([]model.Message, error) {
	f.mu.Lock()
	gate := f.msgsGate[id]
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Message(nil), f.msgs[id]...), nil
}

func (f *fakeRemote) SendMessage(_ context.Context, d model.Draft) (model.Message, error) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return model.Message{}, f.sendErr
	}
	f.nextID++
	return model.Message{
		ID:             fmt.Sprintf("m-%d", f.nextID),
		Sender:         model.User{ID: d.SenderID},
		Receiver:       model.User{ID: d.ReceiverID},
		ConversationID: "c1",
		Content:        d.Content,
		ContentType:    d.Kind(),
		Status:         model.StatusSent,
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (f *fakeRemote) MarkRead(_ context.Context, ids []string) error {
	f.mu.Lock()
	gate := f.markGate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked = append(f.marked, append([]string(nil), ids...))
	return nil
}

func (f *fakeRemote) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) markedBatches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.marked...)
}

type emitted struct {
	event   string
	payload any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event, payload})
	return nil
}

func (r *recorder) find(event string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

func newTestEngine(t *testing.T, remote *fakeRemote, b *bus.Bus) (*Engine, *recorder) {
	t.Helper()
	if remote.convs == nil {
		remote.convs = []model.Conversation{
			{ID: "c1", Participants: []model.User{{ID: "me"}, {ID: "bob"}}},
			{ID: "c2", Participants: []model.User{{ID: "me"}, {ID: "amy"}}},
		}
	}
	logger, _ := zap.NewDevelopment()
	rec := &recorder{}
	e := NewEngine("me", remote, rec, conversation.NewIndex(), nil, b, logger)
	if _, err := e.FetchConversations(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e, rec
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func assertUnique(t *testing.T, msgs []model.Message) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range msgs {
		if seen[m.Key()] {
			t.Fatalf("duplicate entry %s in %+v", m.Key(), msgs)
		}
		seen[m.Key()] = true
	}
}

// TestSendToOfflineUser: one optimistic entry with status sent, then exactly
// one entry with the durable id.
func TestSendToOfflineUser(t *testing.T) {
	remote := &fakeRemote{sendGate: make(chan struct{})}
	e, rec := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	type result struct {
		msg model.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
		done <- result{m, err}
	}()

	waitFor(t, "optimistic entry", func() bool { return len(e.Messages()) == 1 })
	opt := e.Messages()[0]
	if !opt.Pending() || opt.TempID == "" {
		t.Fatalf("optimistic entry = %+v, want a temporary id", opt)
	}
	if opt.Status != model.StatusSent {
		t.Errorf("optimistic status = %s, want sent", opt.Status)
	}
	if opt.ConversationID != "c1" || opt.ContentType != model.KindText {
		t.Errorf("optimistic entry = %+v", opt)
	}

	close(remote.sendGate)
	r := <-done
	if r.err != nil {
		t.Fatal(r.err)
	}

	msgs := e.Messages()
	if len(msgs) != 1 {
		t.Fatalf("len = %d, want 1", len(msgs))
	}
	if msgs[0].ID != r.msg.ID || msgs[0].TempID != "" {
		t.Errorf("entry = %+v, want durable %s", msgs[0], r.msg.ID)
	}
	if got := rec.find("send_message"); len(got) != 1 {
		t.Errorf("send_message emitted %d times, want 1", len(got))
	}
}

func TestSendFailureKeepsEntryForRetry(t *testing.T) {
	b := bus.New()
	failures, unsub := b.Subscribe(bus.MessageSendFailed, 4)
	defer unsub()

	remote := &fakeRemote{sendErr: errors.New("store down")}
	e, _ := newTestEngine(t, remote, b)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	failed, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
	if err == nil {
		t.Fatal("Send should surface the remote error")
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].Status != model.StatusFailed {
		t.Fatalf("messages = %+v, want one failed entry", msgs)
	}
	select {
	case <-failures:
	case <-time.After(time.Second):
		t.Fatal("message.send_failed not published")
	}

	remote.mu.Lock()
	remote.sendErr = nil
	remote.mu.Unlock()

	confirmed, err := e.Retry(context.Background(), failed.TempID)
	if err != nil {
		t.Fatal(err)
	}
	msgs = e.Messages()
	if len(msgs) != 1 || msgs[0].ID != confirmed.ID {
		t.Errorf("messages after retry = %+v", msgs)
	}
	if _, err := e.Retry(context.Background(), failed.TempID); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("second Retry error = %v, want ErrUnknownMessage", err)
	}
}

func TestDiscardFailed(t *testing.T) {
	remote := &fakeRemote{sendErr: errors.New("store down")}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	failed, _ := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
	if err := e.Discard(failed.TempID); err != nil {
		t.Fatal(err)
	}
	if len(e.Messages()) != 0 || len(e.Pending()) != 0 {
		t.Error("discarded entry still present")
	}
	if err := e.Discard(failed.TempID); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Discard twice = %v, want ErrUnknownMessage", err)
	}
}

func TestRestoreComesBackFailed(t *testing.T) {
	remote := &fakeRemote{}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	if !e.Restore("temp-old", "c1", model.Draft{ReceiverID: "bob", Content: "from last run"}, at) {
		t.Fatal("Restore rejected a new temp id")
	}
	if e.Restore("temp-old", "c1", model.Draft{ReceiverID: "bob", Content: "again"}, at) {
		t.Error("Restore accepted a duplicate temp id")
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].Status != model.StatusFailed || msgs[0].Content != "from last run" {
		t.Fatalf("messages = %+v, want one failed entry", msgs)
	}

	confirmed, err := e.Retry(context.Background(), "temp-old")
	if err != nil {
		t.Fatal(err)
	}
	if msgs := e.Messages(); len(msgs) != 1 || msgs[0].ID != confirmed.ID {
		t.Errorf("messages after retry = %+v", msgs)
	}
}

// TestEchoBeforeConfirmation covers the push of our own message arriving
// before the remote write returns.
func TestEchoBeforeConfirmation(t *testing.T) {
	remote := &fakeRemote{sendGate: make(chan struct{})}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
		done <- err
	}()
	waitFor(t, "optimistic entry", func() bool { return len(e.Messages()) == 1 })

	e.Receive(model.Message{
		ID: "m-1", ConversationID: "c1",
		Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"},
		Content: "hi", ContentType: model.KindText, Status: model.StatusDelivered,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if n := len(e.Messages()); n != 1 {
		t.Fatalf("len after echo = %d, want 1", n)
	}

	close(remote.sendGate)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m-1" {
		t.Fatalf("messages = %+v, want single m-1", msgs)
	}
}

// TestSendErrorAfterEcho: the service stored and pushed the message but the
// write still reported an error. The echo is the one entry, before and after
// a refetch, and nothing is left to retry.
func TestSendErrorAfterEcho(t *testing.T) {
	b := bus.New()
	confirmations, unsub := b.Subscribe(bus.MessageConfirmed, 4)
	defer unsub()

	remote := &fakeRemote{sendGate: make(chan struct{}), sendErr: errors.New("gateway timeout")}
	e, _ := newTestEngine(t, remote, b)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	type result struct {
		msg model.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
		done <- result{m, err}
	}()
	waitFor(t, "optimistic entry", func() bool { return len(e.Messages()) == 1 })
	tempID := e.Messages()[0].TempID

	echo := model.Message{
		ID: "m-1", ConversationID: "c1",
		Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"},
		Content: "hi", ContentType: model.KindText, Status: model.StatusDelivered,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	e.Receive(echo)
	close(remote.sendGate)

	r := <-done
	if r.err != nil || r.msg.ID != "m-1" {
		t.Fatalf("Send = %+v, %v; want the echo and no error", r.msg, r.err)
	}
	select {
	case evt := <-confirmations:
		if c := evt.Payload.(Confirmation); c.TempID != tempID || c.Message.ID != "m-1" {
			t.Errorf("confirmation = %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("message.confirmed not published")
	}
	if len(e.Pending()) != 0 {
		t.Errorf("pending = %+v, want none", e.Pending())
	}

	remote.mu.Lock()
	remote.msgs = map[string][]model.Message{"c1": {echo}}
	remote.mu.Unlock()
	msgs, err := e.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "m-1" {
		t.Fatalf("refetch = %+v, want only m-1", msgs)
	}
	if _, err := e.Retry(context.Background(), tempID); !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("Retry = %v, want ErrUnknownMessage", err)
	}
}

// TestEchoAfterFailure: the echo of a send already marked failed settles it.
func TestEchoAfterFailure(t *testing.T) {
	b := bus.New()
	confirmations, unsub := b.Subscribe(bus.MessageConfirmed, 4)
	defer unsub()

	remote := &fakeRemote{sendErr: errors.New("gateway timeout")}
	e, _ := newTestEngine(t, remote, b)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	failed, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})
	if err == nil {
		t.Fatal("Send should fail")
	}

	e.Receive(model.Message{
		ID: "m-7", ConversationID: "c1",
		Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"},
		Content: "hi", ContentType: model.KindText, Status: model.StatusSent,
	})

	msgs := e.Messages()
	if len(msgs) != 1 || msgs[0].ID != "m-7" {
		t.Fatalf("messages = %+v, want only m-7", msgs)
	}
	if len(e.Pending()) != 0 {
		t.Error("failed send still pending after its echo")
	}
	select {
	case evt := <-confirmations:
		if c := evt.Payload.(Confirmation); c.TempID != failed.TempID {
			t.Errorf("confirmation temp id = %q, want %q", c.TempID, failed.TempID)
		}
	case <-time.After(time.Second):
		t.Fatal("message.confirmed not published")
	}
}

// TestReadReceiptsNeverOverlap: a burst of incoming messages is marked read
// with every id in exactly one batch.
func TestReadReceiptsNeverOverlap(t *testing.T) {
	remote := &fakeRemote{markGate: make(chan struct{})}
	e, rec := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"b1", "b2", "b3"} {
		e.Receive(model.Message{
			ID: id, ConversationID: "c1", Content: id,
			Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, Status: model.StatusDelivered,
		})
	}
	close(remote.markGate)

	count := func() int {
		n := 0
		for _, batch := range remote.markedBatches() {
			n += len(batch)
		}
		return n
	}
	waitFor(t, "read receipts", func() bool { return count() >= 3 })
	time.Sleep(50 * time.Millisecond)

	marked := map[string]int{}
	for _, batch := range remote.markedBatches() {
		for _, id := range batch {
			marked[id]++
		}
	}
	for _, id := range []string{"b1", "b2", "b3"} {
		if marked[id] != 1 {
			t.Errorf("%s marked %d times, want 1 (batches %v)", id, marked[id], remote.markedBatches())
		}
	}
	notified := map[string]int{}
	for _, p := range rec.find("message_read") {
		for _, id := range p.(readReceipt).MessageIDs {
			notified[id]++
		}
	}
	for id, n := range notified {
		if n != 1 {
			t.Errorf("message_read carried %s %d times", id, n)
		}
	}
	for _, m := range e.Messages() {
		if m.Status != model.StatusSeen {
			t.Errorf("%s status = %s, want seen", m.ID, m.Status)
		}
	}
}

func TestManySendsNeverDuplicate(t *testing.T) {
	remote := &fakeRemote{}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: fmt.Sprintf("msg %d", i)})
		}(i)
	}
	wg.Wait()

	msgs := e.Messages()
	if len(msgs) != 20 {
		t.Fatalf("len = %d, want 20", len(msgs))
	}
	assertUnique(t, msgs)
	for _, m := range msgs {
		if m.Pending() {
			t.Errorf("temporary id %s persisted after confirmation", m.TempID)
		}
	}
}

func TestReceiveDedupAndUnread(t *testing.T) {
	remote := &fakeRemote{}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	other := model.Message{ID: "x1", ConversationID: "c2", Sender: model.User{ID: "amy"}, Receiver: model.User{ID: "me"}, CreatedAt: "2024-05-01T10:00:00Z"}
	e.Receive(other)
	e.Receive(other)
	if len(e.Messages()) != 0 {
		t.Error("message for another conversation must not be displayed")
	}
	c2, _ := e.index.Get("c2")
	if c2.UnreadCount != 1 || c2.LastMessage == nil || c2.LastMessage.ID != "x1" {
		t.Errorf("c2 = %+v, want unread 1 and last x1", c2)
	}

	mine := model.Message{ID: "y1", ConversationID: "c1", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, CreatedAt: "2024-05-01T10:00:00Z"}
	e.Receive(mine)
	e.Receive(mine)
	if n := len(e.Messages()); n != 1 {
		t.Fatalf("len = %d, want 1", n)
	}
	c1, _ := e.index.Get("c1")
	if c1.UnreadCount != 0 {
		t.Errorf("active conversation unread = %d, want 0", c1.UnreadCount)
	}

	// Incoming message in the open conversation is read automatically.
	waitFor(t, "automatic read receipt", func() bool { return len(remote.markedBatches()) == 1 })
	if got := remote.markedBatches()[0]; len(got) != 1 || got[0] != "y1" {
		t.Errorf("marked = %v, want [y1]", got)
	}
}

func TestMarkReadOnlyIncoming(t *testing.T) {
	remote := &fakeRemote{msgs: map[string][]model.Message{
		"c1": {
			{ID: "m1", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, Status: model.StatusDelivered},
			{ID: "m2", Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"}, Status: model.StatusSent},
			{ID: "m3", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, Status: model.StatusSeen},
		},
	}}
	e, rec := newTestEngine(t, remote, nil)

	msgs, err := e.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d", len(msgs))
	}

	batches := remote.markedBatches()
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "m1" {
		t.Fatalf("marked = %v, want [[m1]]", batches)
	}
	for _, m := range e.Messages() {
		switch m.ID {
		case "m1":
			if m.Status != model.StatusSeen {
				t.Errorf("m1 status = %s, want seen", m.Status)
			}
		case "m2":
			if m.Status != model.StatusSent {
				t.Errorf("own message m2 flipped to %s", m.Status)
			}
		}
	}
	receipts := rec.find("message_read")
	if len(receipts) != 1 {
		t.Fatalf("message_read emitted %d times", len(receipts))
	}
	if r := receipts[0].(readReceipt); r.SenderID != "bob" || len(r.MessageIDs) != 1 {
		t.Errorf("receipt = %+v", r)
	}

	// Nothing left to mark.
	if err := e.MarkRead(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(remote.markedBatches()) != 1 {
		t.Error("MarkRead issued a call with nothing unread")
	}
}

func TestMarkReadFailureLeavesState(t *testing.T) {
	remote := &fakeRemote{
		markErr: errors.New("nope"),
		msgs: map[string][]model.Message{
			"c1": {{ID: "m1", Sender: model.User{ID: "bob"}, Receiver: model.User{ID: "me"}, Status: model.StatusDelivered}},
		},
	}
	e, rec := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkRead(context.Background()); err == nil {
		t.Fatal("MarkRead should return the remote error")
	}
	if e.Messages()[0].Status != model.StatusDelivered {
		t.Error("status changed despite failure")
	}
	if len(rec.find("message_read")) != 0 {
		t.Error("message_read emitted despite failure")
	}
}

func TestFetchMessagesSuperseded(t *testing.T) {
	gate := make(chan struct{})
	remote := &fakeRemote{
		msgs: map[string][]model.Message{
			"c1": {{ID: "a"}},
			"c2": {{ID: "b"}},
		},
		msgsGate: map[string]chan struct{}{"c1": gate},
	}
	e, _ := newTestEngine(t, remote, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := e.FetchMessages(context.Background(), "c1")
		errc <- err
	}()
	waitFor(t, "first fetch in flight", func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.fetchSeq == 1
	})
	if _, err := e.FetchMessages(context.Background(), "c2"); err != nil {
		t.Fatal(err)
	}
	close(gate)

	if err := <-errc; !errors.Is(err, ErrSuperseded) {
		t.Errorf("stale fetch error = %v, want ErrSuperseded", err)
	}
	if e.Active() != "c2" {
		t.Errorf("active = %s, want c2", e.Active())
	}
	if msgs := e.Messages(); len(msgs) != 1 || msgs[0].ID != "b" {
		t.Errorf("messages = %+v, want c2 snapshot", msgs)
	}
}

func TestFetchKeepsUnconfirmedSends(t *testing.T) {
	remote := &fakeRemote{sendErr: errors.New("down"), msgs: map[string][]model.Message{"c1": {{ID: "old"}}}}
	e, _ := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}
	_, _ = e.Send(context.Background(), model.Draft{ReceiverID: "bob", Content: "hi"})

	msgs, err := e.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[1].Status != model.StatusFailed {
		t.Errorf("messages = %+v, want snapshot plus failed entry", msgs)
	}
}

func TestInboundMutations(t *testing.T) {
	remote := &fakeRemote{msgs: map[string][]model.Message{
		"c1": {{ID: "m1", Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"}, Status: model.StatusSent}},
	}}
	e, _ := newTestEngine(t, remote, nil)
	ch := transport.New(transport.Config{}, nil, nil)
	e.Bind(ch)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	ch.Dispatch("message_status_update", json.RawMessage(`{"messageId":"m1","messageStatus":"delivered"}`))
	if got := e.Messages()[0].Status; got != model.StatusDelivered {
		t.Errorf("status = %s, want delivered", got)
	}
	ch.Dispatch("message_status_update", json.RawMessage(`{"messageId":"m1","messageStatus":"read"}`))
	if got := e.Messages()[0].Status; got != model.StatusSeen {
		t.Errorf("status = %s, want seen", got)
	}

	ch.Dispatch("reaction_update", json.RawMessage(`{"messageId":"m1","reactions":[{"user":"bob","emoji":"👍"}]}`))
	if r := e.Messages()[0].Reactions; len(r) != 1 || r[0].User.ID != "bob" {
		t.Errorf("reactions = %+v", r)
	}

	// Unknown ids and garbage are ignored.
	ch.Dispatch("message_status_update", json.RawMessage(`{"messageId":"nope","messageStatus":"seen"}`))
	ch.Dispatch("reaction_update", json.RawMessage(`not json`))

	ch.Dispatch("message", json.RawMessage(`{"deletedMessageId":"m1"}`))
	if n := len(e.Messages()); n != 0 {
		t.Errorf("len after deletion = %d", n)
	}

	ch.Dispatch("receive_message", json.RawMessage(`{"_id":"m9","conversation":"c1","sender":{"_id":"me"},"receiver":{"_id":"bob"},"createdAt":"2024-05-01T10:00:00Z"}`))
	if n := len(e.Messages()); n != 1 {
		t.Errorf("len after receive_message = %d", n)
	}
}

func TestReactionAndDeleteArePassThrough(t *testing.T) {
	remote := &fakeRemote{msgs: map[string][]model.Message{
		"c1": {{ID: "m1", Sender: model.User{ID: "me"}, Receiver: model.User{ID: "bob"}}},
	}}
	e, rec := newTestEngine(t, remote, nil)
	if _, err := e.FetchMessages(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	if err := e.AddReaction("m1", "🔥"); err != nil {
		t.Fatal(err)
	}
	if got := rec.find("add_reaction"); len(got) != 1 || got[0].(reaction).ReactionUserID != "me" {
		t.Errorf("add_reaction = %+v", got)
	}
	if len(e.Messages()[0].Reactions) != 0 {
		t.Error("reaction applied before confirmation")
	}

	if err := e.Delete(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "m1" {
		t.Errorf("deleted = %v", remote.deleted)
	}
	if len(e.Messages()) != 0 {
		t.Error("entry still present after confirmed deletion")
	}
}

func TestSendValidation(t *testing.T) {
	e, _ := newTestEngine(t, &fakeRemote{}, nil)
	if _, err := e.Send(context.Background(), model.Draft{Content: "hi"}); err == nil {
		t.Error("send without receiver should fail")
	}
	if _, err := e.Send(context.Background(), model.Draft{ReceiverID: "bob"}); err == nil {
		t.Error("empty send should fail")
	}
}
