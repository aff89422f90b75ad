package crawler

import (
	"fmt"
	"time"
)

// Apply returns j with update applied, enforcing the job lifecycle: nothing
// leaves a terminal state, a running job cannot return to pending and
// counters never decrease. StartedAt is stamped on the move to running and
// CompletedAt on the move to a terminal state.
func (j Job) Apply(update JobUpdate, now time.Time) (Job, error) {
	if j.Status.Terminal() {
		return j, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if update.ProductsProcessed != nil {
		if *update.ProductsProcessed < j.ProductsProcessed {
			return j, fmt.Errorf("%w: products_processed %d -> %d", ErrInvalidTransition, j.ProductsProcessed, *update.ProductsProcessed)
		}
		j.ProductsProcessed = *update.ProductsProcessed
	}
	if update.ProductsUpdated != nil {
		if *update.ProductsUpdated < j.ProductsUpdated {
			return j, fmt.Errorf("%w: products_updated %d -> %d", ErrInvalidTransition, j.ProductsUpdated, *update.ProductsUpdated)
		}
		j.ProductsUpdated = *update.ProductsUpdated
	}
	if update.ErrorMessage != nil {
		j.ErrorMessage = *update.ErrorMessage
	}
	if update.Status != nil && *update.Status != j.Status {
		next := *update.Status
		switch {
		case next == JobStatusPending:
			return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, next)
		case next == JobStatusRunning:
			if j.StartedAt == nil {
				j.StartedAt = timePtr(now)
			}
		case next.Terminal():
			if j.StartedAt == nil {
				j.StartedAt = timePtr(now)
			}
			j.CompletedAt = timePtr(now)
		default:
			return j, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
		}
		j.Status = next
	}
	return j, nil
}

// StatusUpdate is shorthand for a JobUpdate that only changes status.
func StatusUpdate(status JobStatus) JobUpdate {
	return JobUpdate{Status: &status}
}

// Progress builds a JobUpdate carrying both counters.
func Progress(processed, updated int) JobUpdate {
	return JobUpdate{ProductsProcessed: &processed, ProductsUpdated: &updated}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
