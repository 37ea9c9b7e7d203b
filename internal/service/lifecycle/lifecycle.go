// Package lifecycle holds the pure transition rules for a single trip.
// Transitions mutate the aggregate in memory and return the domain events to
// emit; persistence and collaborator calls are the caller's concern.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
)

// Cancellation reasons used by the monitoring scheduler
const (
	ReasonDriverCancelled = "cancelled by driver"
	ReasonNoRiders        = "no riders at departure"
	ReasonDriverBusy      = "driver has a conflicting in-progress trip"
	ReasonAutoStart       = "auto-started at scheduled time"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNoConfirmedRiders = errors.New("trip has no confirmed riders")
	ErrPendingRequests   = errors.New("trip has unresolved pending join requests")
)

// CanTransition reports whether the state machine allows from -> to.
// States only move forward; completed and cancelled are terminal.
func CanTransition(from, to trip.State) bool {
	switch from {
	case trip.StateActive:
		return to == trip.StateInProgress || to == trip.StateCancelled
	case trip.StateInProgress:
		return to == trip.StateCompleted || to == trip.StateCancelled
	}
	return false
}

// Start moves an active trip into progress. Re-applying to a trip already in
// progress is a no-op so overlapping monitoring passes stay safe. Guards:
// at least one confirmed rider and no unresolved pending requests. The
// no-simultaneous-in-progress guard is the caller's responsibility since it
// needs the user's other trips.
func Start(t *trip.Trip, now time.Time) (changed bool, events []collab.Event, err error) {
	if t.State == trip.StateInProgress {
		return false, nil, nil
	}
	if !CanTransition(t.State, trip.StateInProgress) {
		return false, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, trip.StateInProgress)
	}
	if len(t.ConfirmedRiders()) == 0 {
		return false, nil, ErrNoConfirmedRiders
	}
	if t.HasPendingRequests() {
		return false, nil, ErrPendingRequests
	}

	t.State = trip.StateInProgress
	t.UpdatedAt = now

	return true, []collab.Event{{
		Type:       collab.EventTripStarted,
		TripID:     t.ID,
		OccurredAt: now,
	}}, nil
}

// Complete finishes an in-progress trip, recording the completion time.
// Re-applying to a completed trip is a no-op.
func Complete(t *trip.Trip, now time.Time) (changed bool, events []collab.Event, err error) {
	if t.State == trip.StateCompleted {
		return false, nil, nil
	}
	if !CanTransition(t.State, trip.StateCompleted) {
		return false, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, trip.StateCompleted)
	}

	t.State = trip.StateCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now

	return true, []collab.Event{{
		Type:       collab.EventTripCompleted,
		TripID:     t.ID,
		OccurredAt: now,
		Payload:    map[string]any{"completed_at": now},
	}}, nil
}

// Cancel cancels an active or in-progress trip and emits one cancellation
// event per pending or confirmed rider, so notification and refund
// collaborators can each act once per affected rider. Re-applying to a
// cancelled trip is a no-op.
func Cancel(t *trip.Trip, now time.Time, reason string) (changed bool, events []collab.Event, err error) {
	if t.State == trip.StateCancelled {
		return false, nil, nil
	}
	if !CanTransition(t.State, trip.StateCancelled) {
		return false, nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, trip.StateCancelled)
	}

	t.State = trip.StateCancelled
	t.UpdatedAt = now

	for _, r := range t.Riders {
		if r.Status != trip.RiderPending && r.Status != trip.RiderConfirmed {
			continue
		}
		events = append(events, collab.Event{
			Type:       collab.EventTripCancelled,
			TripID:     t.ID,
			UserID:     r.RiderID,
			OccurredAt: now,
			Payload: map[string]any{
				"reason":        reason,
				"rider_status":  string(r.Status),
				"was_confirmed": r.Status == trip.RiderConfirmed,
			},
		})
	}
	return true, events, nil
}

// RidersToRefund returns the riders owed a refund when the trip is cancelled:
// everyone whose request was confirmed at cancellation time.
func RidersToRefund(t *trip.Trip) []uuid.UUID {
	var out []uuid.UUID
	for _, r := range t.ConfirmedRiders() {
		out = append(out, r.RiderID)
	}
	return out
}
