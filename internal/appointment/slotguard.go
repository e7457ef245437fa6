package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotGuard keeps a doctor's non-cancelled appointments at least Window apart.
type SlotGuard struct {
	Window time.Duration
}

func NewSlotGuard(window time.Duration) SlotGuard {
	return SlotGuard{Window: window}
}

// Bounds returns the half-open window [proposed-Window, proposed+Window).
func (g SlotGuard) Bounds(proposed time.Time) (time.Time, time.Time) {
	return proposed.Add(-g.Window), proposed.Add(g.Window)
}

// Reserve reports a *SlotConflictError when the doctor already has an
// occupying appointment inside the window. It only reads; the caller creates
// the appointment in the same transaction after a nil result.
func (g SlotGuard) Reserve(ctx context.Context, repo Repository, doctorID uuid.UUID, proposed time.Time) error {
	from, to := g.Bounds(proposed)

	existing, err := repo.FindConflicting(ctx, doctorID, from, to)
	if err != nil {
		return fmt.Errorf("check slot window: %w", err)
	}
	if existing != nil {
		return &SlotConflictError{
			DoctorID:      doctorID,
			WindowStart:   from,
			WindowEnd:     to,
			ConflictingID: existing.ID,
		}
	}
	return nil
}
