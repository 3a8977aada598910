package call

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// IceQueue holds remote candidates that arrive before the remote description
// is set. Candidates come out in arrival order.
type IceQueue struct {
	mu    sync.Mutex
	items []webrtc.ICECandidateInit
}

// Push appends a candidate.
func (q *IceQueue) Push(c webrtc.ICECandidateInit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, c)
}

// Drain removes and returns every queued candidate.
func (q *IceQueue) Drain() []webrtc.ICECandidateInit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Len returns the number of queued candidates.
func (q *IceQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Reset discards every queued candidate.
func (q *IceQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}
