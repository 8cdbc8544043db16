package queue

import (
	"context"
	"sync"
)

// MemQueue - in-process publisher capturing messages, for tests and
// the local harness.
type MemQueue struct {
	mu       sync.Mutex
	messages []string

	// FailWith, when set, is returned by SendMessage.
	FailWith error
}

// NewMemQueue ...
func NewMemQueue() *MemQueue {
	return &MemQueue{}
}

// SendMessage ...
func (q *MemQueue) SendMessage(ctx context.Context, message string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailWith != nil {
		return q.FailWith
	}
	q.messages = append(q.messages, message)
	return nil
}

// Messages - snapshot copy.
func (q *MemQueue) Messages() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.messages))
	copy(out, q.messages)
	return out
}
