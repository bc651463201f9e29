package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dontdude/goscribe/internal/domain"
)

// Slot is one engine state owned by a Pool.
// The state is only reachable through Transcribe, which holds the slot lock for the whole call.
type Slot struct {
	index int
	// mu is held while the state runs; it is the only busy/free marker a slot has.
	mu    sync.Mutex
	state domain.State
}

// Index returns the position of the slot in its pool.
func (s *Slot) Index() int {
	return s.index
}

// Transcribe runs the engine on samples with exclusive use of the slot's state.
// Concurrent callers holding the same slot queue up on the slot lock.
func (s *Slot) Transcribe(ctx context.Context, samples []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Transcribe(ctx, samples)
}

// Pool hands out a fixed set of engine states in round-robin order.
// The size never changes after construction.
type Pool struct {
	slots []*Slot
	// mu protects cursor.
	mu sync.Mutex
	// cursor is the index handed out last, -1 before the first Acquire.
	cursor int
}

// NewPool wraps the given states into a pool. At least one state is required.
func NewPool(states ...domain.State) (*Pool, error) {
	if len(states) == 0 {
		return nil, fmt.Errorf("pool needs at least one engine state: %w", domain.ErrStartup)
	}

	slots := make([]*Slot, len(states))
	for i, st := range states {
		slots[i] = &Slot{index: i, state: st}
	}

	slog.Info("Engine pool ready", "states", len(slots))
	return &Pool{
		slots:  slots,
		cursor: -1,
	}, nil
}

// Size returns the number of states in the pool.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Acquire advances the cursor exactly once and returns the selected slot.
// The first call returns slot 0; after the last slot it wraps to 0.
func (p *Pool) Acquire() *Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cursor = (p.cursor + 1) % len(p.slots)
	return p.slots[p.cursor]
}

// Close waits for every slot to become idle and closes its state.
func (p *Pool) Close() error {
	slog.Info("Stopping engine pool, waiting for states to drain...")
	var errs []error
	for _, s := range p.slots {
		s.mu.Lock()
		if err := s.state.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing state %d: %w", s.index, err))
		}
		s.mu.Unlock()
	}
	slog.Info("Engine pool stopped")
	return errors.Join(errs...)
}
