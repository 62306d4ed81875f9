package executor

import (
	"fmt"
	"sync"

	"github.com/avolkov/arbengine/internal/domain"
)

// AttemptRegistry tracks execution attempts in memory and indexes them by the
// order references they produce, so asynchronous fill events can be
// reconciled back to their attempt.
type AttemptRegistry struct {
	mu         sync.RWMutex
	byID       map[string]*domain.ExecutionAttempt
	byOrderRef map[string]string // order ref -> attempt ID
}

// NewAttemptRegistry returns an empty attempt registry.
func NewAttemptRegistry() *AttemptRegistry {
	return &AttemptRegistry{
		byID:       make(map[string]*domain.ExecutionAttempt),
		byOrderRef: make(map[string]string),
	}
}

// Put stores or replaces the attempt and indexes any order refs it carries.
func (r *AttemptRegistry) Put(attempt domain.ExecutionAttempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := attempt
	r.byID[attempt.ID] = &cp
	if attempt.BuyOrderRef != "" {
		r.byOrderRef[attempt.BuyOrderRef] = attempt.ID
	}
	if attempt.SellOrderRef != "" {
		r.byOrderRef[attempt.SellOrderRef] = attempt.ID
	}
}

// Get returns the attempt by ID.
func (r *AttemptRegistry) Get(id string) (domain.ExecutionAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return domain.ExecutionAttempt{}, fmt.Errorf("attempt %s: %w", id, domain.ErrNotFound)
	}
	return *a, nil
}

// GetByOrderRef resolves an order reference to its attempt.
func (r *AttemptRegistry) GetByOrderRef(orderRef string) (domain.ExecutionAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byOrderRef[orderRef]
	if !ok {
		return domain.ExecutionAttempt{}, fmt.Errorf("order ref %s: %w", orderRef, domain.ErrNotFound)
	}
	return *r.byID[id], nil
}

// List returns a snapshot of all tracked attempts.
func (r *AttemptRegistry) List() []domain.ExecutionAttempt {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ExecutionAttempt, 0, len(r.byID))
	for _, a := range r.byID {
		out = append(out, *a)
	}
	return out
}
