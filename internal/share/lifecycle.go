package share

import (
	"context"
	"time"
)

// IsAlive reports whether rec may still be read at now. It is a fast-path
// check only; ConsumeRead makes the binding decision.
func IsAlive(rec FileRecord, now time.Time) bool {
	if !now.Before(rec.ExpiresAt) {
		return false
	}
	if rec.MaxReads > 0 && rec.RemainingReads <= 0 {
		return false
	}
	return true
}

type decrementer interface {
	ConditionalDecrement(ctx context.Context, id string, now time.Time) (Decrement, error)
}

// Guard enforces the read budget against the metadata store.
type Guard struct {
	store decrementer
}

// NewGuard builds a Guard over store.
func NewGuard(store decrementer) *Guard {
	return &Guard{store: store}
}

// ConsumeRead takes one read from rec's budget in a single store round trip.
// Unlimited records are never written.
func (g *Guard) ConsumeRead(ctx context.Context, rec FileRecord, now time.Time) (Decrement, error) {
	if rec.Unlimited() {
		return Decrement{Outcome: OutcomeConsumed, Remaining: 0}, nil
	}
	return g.store.ConditionalDecrement(ctx, rec.ID, now)
}
