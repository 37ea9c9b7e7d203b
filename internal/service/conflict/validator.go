// Package conflict detects schedule conflicts between a candidate trip window
// and a user's other commitments, accounting for the travel time between trip
// endpoints rather than clock overlap alone.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/geomath"
	"github.com/uniride/carpool/pkg/logger"
)

// Conflict reasons
const (
	ReasonTemporalOverlap    = "solapamiento_temporal"
	ReasonInsufficientBuffer = "tiempo_traslado_insuficiente"
	ReasonSimultaneousTrips  = "viajes_simultaneos"
)

// Candidate is the trip window being validated
type Candidate struct {
	DepartureTime time.Time
	Origin        trip.GeoPoint
	Destination   trip.GeoPoint
}

// Conflict describes the first schedule conflict found
type Conflict struct {
	Reason           string    `json:"reason"`
	TripID           uuid.UUID `json:"trip_id"`
	RequiredMinutes  int       `json:"required_minutes,omitempty"`
	AvailableMinutes int       `json:"available_minutes,omitempty"`
}

// Message renders a human-readable rejection. A zero trip id means the
// conflicting window is another leg of the same submission.
func (c *Conflict) Message() string {
	ref := "the other leg of this trip"
	if c.TripID != uuid.Nil {
		ref = fmt.Sprintf("trip %s", c.TripID)
	}
	switch c.Reason {
	case ReasonTemporalOverlap:
		return fmt.Sprintf("the schedule overlaps %s", ref)
	case ReasonInsufficientBuffer:
		return fmt.Sprintf("insufficient transfer time before/after %s: %d minutes required, %d available",
			ref, c.RequiredMinutes, c.AvailableMinutes)
	case ReasonSimultaneousTrips:
		return fmt.Sprintf("%s is already in progress for this user", ref)
	}
	return c.Reason
}

// Config holds validator tuning
type Config struct {
	// TransferBufferMinutes is the fixed safety margin added on top of the
	// estimated travel time between consecutive trip endpoints.
	TransferBufferMinutes int
}

// Validator checks a user's candidate trip windows against their existing
// active and in-progress trips. All checks are pure functions over data
// loaded from the repository; nothing is mutated.
type Validator struct {
	repo   trip.Repository
	cfg    Config
	logger *logger.Logger
}

// NewValidator creates a conflict validator
func NewValidator(repo trip.Repository, cfg Config, log *logger.Logger) *Validator {
	if cfg.TransferBufferMinutes <= 0 {
		cfg.TransferBufferMinutes = 10
	}
	return &Validator{repo: repo, cfg: cfg, logger: log}
}

// window is a [start, end) occupancy interval derived from a departure time
// and the travel-time estimate for the route.
type window struct {
	start, end time.Time
}

func windowOf(departure time.Time, origin, destination trip.GeoPoint) window {
	minutes := geomath.EstimatedTravelMinutes(geomath.RoadDistanceKm(origin, destination))
	return window{start: departure, end: departure.Add(time.Duration(minutes) * time.Minute)}
}

func tripWindow(t *trip.Trip) window {
	return windowOf(t.DepartureTime, t.Origin.Location, t.Destination.Location)
}

func (w window) overlaps(other window) bool {
	return w.start.Before(other.end) && other.start.Before(w.end)
}

// ValidateNoConflict checks the candidate against every active or in-progress
// trip the user participates in, excluding excludeTripID (edit flows). It
// returns the first conflict found, or nil when the schedule is clean.
func (v *Validator) ValidateNoConflict(ctx context.Context, userID uuid.UUID, cand Candidate, excludeTripID *uuid.UUID) (*Conflict, error) {
	existing, err := v.repo.FindActiveOrInProgressByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user commitments: %w", err)
	}

	cw := windowOf(cand.DepartureTime, cand.Origin, cand.Destination)

	for _, t := range existing {
		if excludeTripID != nil && t.ID == *excludeTripID {
			continue
		}
		if c := v.checkPair(cw, cand, t); c != nil {
			v.logger.Info("Schedule conflict detected",
				logger.String("user_id", userID.String()),
				logger.String("conflicting_trip_id", c.TripID.String()),
				logger.String("reason", c.Reason),
			)
			return c, nil
		}
	}
	return nil, nil
}

// CheckCandidates validates two not-yet-persisted trip windows against each
// other with the same overlap and transfer-buffer rules applied to stored
// trips. Used for the legs of a round trip before either leg is saved; the
// returned conflict carries a zero trip id.
func (v *Validator) CheckCandidates(cand, other Candidate) *Conflict {
	cw := windowOf(cand.DepartureTime, cand.Origin, cand.Destination)
	ow := windowOf(other.DepartureTime, other.Origin, other.Destination)
	return v.checkWindows(cw, cand, ow, other, uuid.Nil)
}

// checkPair applies the direct-overlap test and, failing that, the transfer
// buffer test between the candidate window and one existing trip.
func (v *Validator) checkPair(cw window, cand Candidate, existing *trip.Trip) *Conflict {
	return v.checkWindows(cw, cand, tripWindow(existing), Candidate{
		DepartureTime: existing.DepartureTime,
		Origin:        existing.Origin.Location,
		Destination:   existing.Destination.Location,
	}, existing.ID)
}

func (v *Validator) checkWindows(cw window, cand Candidate, ew window, existing Candidate, existingID uuid.UUID) *Conflict {
	if cw.overlaps(ew) {
		return &Conflict{Reason: ReasonTemporalOverlap, TripID: existingID}
	}

	// The windows are disjoint: one trip strictly precedes the other.
	// Check whether the gap leaves enough time to travel between them.
	if !cw.start.Before(ew.end) {
		// Existing ends first; transfer from its destination to the candidate origin.
		required := geomath.EstimatedTravelMinutes(
			geomath.RoadDistanceKm(existing.Destination, cand.Origin)) + v.cfg.TransferBufferMinutes
		available := int(cw.start.Sub(ew.end).Minutes())
		if available < required {
			return &Conflict{
				Reason:           ReasonInsufficientBuffer,
				TripID:           existingID,
				RequiredMinutes:  required,
				AvailableMinutes: available,
			}
		}
		return nil
	}

	// Candidate ends first; transfer from its destination to the existing origin.
	required := geomath.EstimatedTravelMinutes(
		geomath.RoadDistanceKm(cand.Destination, existing.Origin)) + v.cfg.TransferBufferMinutes
	available := int(ew.start.Sub(cw.end).Minutes())
	if available < required {
		return &Conflict{
			Reason:           ReasonInsufficientBuffer,
			TripID:           existingID,
			RequiredMinutes:  required,
			AvailableMinutes: available,
		}
	}
	return nil
}

// ValidateDriverDuringRiderCommitments forbids publishing a trip as driver
// whose window overlaps a trip where the user rides as a pending or confirmed
// passenger. Only the direct-overlap test applies; no buffer.
func (v *Validator) ValidateDriverDuringRiderCommitments(ctx context.Context, userID uuid.UUID, cand Candidate) (*Conflict, error) {
	existing, err := v.repo.FindActiveOrInProgressByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user commitments: %w", err)
	}

	cw := windowOf(cand.DepartureTime, cand.Origin, cand.Destination)

	for _, t := range existing {
		if t.DriverID == userID {
			continue // only rider commitments matter here
		}
		if cw.overlaps(tripWindow(t)) {
			return &Conflict{Reason: ReasonTemporalOverlap, TripID: t.ID}, nil
		}
	}
	return nil, nil
}

// ValidateNoSimultaneousInProgress forbids a user from having two trips in
// progress at once, as driver or confirmed rider. excludeTripID exempts the
// trip about to start.
func (v *Validator) ValidateNoSimultaneousInProgress(ctx context.Context, userID uuid.UUID, excludeTripID *uuid.UUID) (*Conflict, error) {
	existing, err := v.repo.FindActiveOrInProgressByParticipant(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user commitments: %w", err)
	}

	for _, t := range existing {
		if t.State != trip.StateInProgress {
			continue
		}
		if excludeTripID != nil && t.ID == *excludeTripID {
			continue
		}
		if t.IsConfirmedParticipant(userID) {
			return &Conflict{Reason: ReasonSimultaneousTrips, TripID: t.ID}, nil
		}
	}
	return nil, nil
}
