package escalation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process review queue used when no broker is configured.
type MemoryQueue struct {
	mu    sync.Mutex
	cases []ReviewCase
}

// NewMemoryQueue creates an empty in-process review queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// CreateCase records a review case and returns its handle.
func (q *MemoryQueue) CreateCase(_ context.Context, transactionID string) (string, error) {
	reviewCase := ReviewCase{
		CaseID:        uuid.New().String(),
		TransactionID: transactionID,
		CreatedAt:     time.Now().UTC(),
	}

	q.mu.Lock()
	q.cases = append(q.cases, reviewCase)
	q.mu.Unlock()

	return reviewCase.CaseID, nil
}

// Cases returns a snapshot of the recorded review cases.
func (q *MemoryQueue) Cases() []ReviewCase {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]ReviewCase, len(q.cases))
	copy(out, q.cases)
	return out
}
