package tool

import "context"

// Gate bounds the number of simultaneously in-flight tool calls with a
// counting semaphore. Excess callers block cooperatively until a slot
// frees; there is no polling.
type Gate struct {
	slots chan struct{}
}

// NewGate creates a gate admitting at most max concurrent calls. A max of
// zero or less returns nil, which the executor treats as unbounded.
func NewGate(max int) *Gate {
	if max <= 0 {
		return nil
	}
	return &Gate{slots: make(chan struct{}, max)}
}

// Acquire blocks until a slot is free or the context is cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (g *Gate) Release() {
	<-g.slots
}

// InFlight reports the number of currently held slots.
func (g *Gate) InFlight() int {
	return len(g.slots)
}
