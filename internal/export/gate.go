package export

import (
	"context"
	stderrors "errors"
	"sync/atomic"
)

// ErrNoPermit is returned when Export is called without a held permit.
var ErrNoPermit = stderrors.New("export: no write permit held")

// Gate admits one vault writer at a time.
type Gate struct {
	slot chan struct{}
}

// NewGate returns an open gate with a single slot.
func NewGate() *Gate {
	return &Gate{slot: make(chan struct{}, 1)}
}

// Acquire blocks until the slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) (*Permit, error) {
	select {
	case g.slot <- struct{}{}:
		return &Permit{gate: g}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the slot if it is free.
func (g *Gate) TryAcquire() (*Permit, bool) {
	select {
	case g.slot <- struct{}{}:
		return &Permit{gate: g}, true
	default:
		return nil, false
	}
}

// Permit is proof that the holder owns the gate's slot.
type Permit struct {
	gate     *Gate
	released atomic.Bool
}

// Held reports whether p still owns the slot.
func (p *Permit) Held() bool {
	return p != nil && p.gate != nil && !p.released.Load()
}

// Release frees the slot. Releasing twice is a no-op.
func (p *Permit) Release() {
	if p == nil || p.gate == nil {
		return
	}
	if p.released.CompareAndSwap(false, true) {
		<-p.gate.slot
	}
}
