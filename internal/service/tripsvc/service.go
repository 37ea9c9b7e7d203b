// Package tripsvc is the command layer over the trip aggregate: publishing,
// joining, confirming, removing riders and explicit state changes. Every
// mutation follows load -> guard -> compare-and-swap save, with one automatic
// retry of the guard check when the swap is lost.
package tripsvc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/conflict"
	"github.com/uniride/carpool/internal/service/geomath"
	"github.com/uniride/carpool/internal/service/lifecycle"
	apperrors "github.com/uniride/carpool/pkg/errors"
	"github.com/uniride/carpool/pkg/logger"
)

// Service wires the trip engine to its collaborators
type Service struct {
	repo      trip.Repository
	validator *conflict.Validator
	users     collab.UserAccountLookup
	vehicles  collab.VehicleLookup
	payments  collab.PaymentService
	notifier  collab.NotificationService
	chat      collab.ChatService
	logger    *logger.Logger
}

// NewService creates the trip application service
func NewService(
	repo trip.Repository,
	validator *conflict.Validator,
	users collab.UserAccountLookup,
	vehicles collab.VehicleLookup,
	payments collab.PaymentService,
	notifier collab.NotificationService,
	chat collab.ChatService,
	log *logger.Logger,
) *Service {
	return &Service{
		repo:      repo,
		validator: validator,
		users:     users,
		vehicles:  vehicles,
		payments:  payments,
		notifier:  notifier,
		chat:      chat,
		logger:    log,
	}
}

// EndpointInput is one trip endpoint as submitted by the driver
type EndpointInput struct {
	DisplayName string
	Lat, Lng    float64
}

// CreateInput carries everything needed to publish a trip
type CreateInput struct {
	VehicleID     uuid.UUID
	Origin        EndpointInput
	Destination   EndpointInput
	DepartureTime time.Time
	ReturnTime    *time.Time
	RoundTrip     bool
	MaxSeats      int
	WomenOnly     bool
	Price         float64
}

func (in *EndpointInput) toEndpoint() (trip.Endpoint, error) {
	if in.DisplayName == "" {
		return trip.Endpoint{}, apperrors.BadRequest("Endpoint display name is required", nil)
	}
	p := trip.GeoPoint{Lat: in.Lat, Lng: in.Lng}
	if !p.IsValid() {
		return trip.Endpoint{}, apperrors.BadRequest("Endpoint coordinates out of range", nil)
	}
	return trip.Endpoint{DisplayName: in.DisplayName, Location: p}, nil
}

// Create publishes a trip. A round trip becomes two independent aggregates,
// one per direction, each validated against the driver's schedule.
func (s *Service) Create(ctx context.Context, driverID uuid.UUID, in CreateInput) ([]*trip.Trip, error) {
	origin, err := in.Origin.toEndpoint()
	if err != nil {
		return nil, err
	}
	destination, err := in.Destination.toEndpoint()
	if err != nil {
		return nil, err
	}
	if in.MaxSeats < 1 {
		return nil, apperrors.BadRequest("Trip must offer at least one seat", nil)
	}
	if in.Price < 0 {
		return nil, apperrors.BadRequest("Price cannot be negative", nil)
	}
	now := time.Now().UTC()
	if !in.DepartureTime.After(now) {
		return nil, apperrors.BadRequest("Departure time must be in the future", nil)
	}
	if in.RoundTrip {
		if in.ReturnTime == nil {
			return nil, apperrors.BadRequest("Round trips require a return time", nil)
		}
		if !in.ReturnTime.After(in.DepartureTime) {
			return nil, apperrors.BadRequest("Return time must be after departure", nil)
		}
	}

	account, err := s.users.Account(ctx, driverID)
	if err != nil {
		return nil, apperrors.ErrUserNotFound
	}
	if in.WomenOnly && account.Gender != collab.GenderFemale {
		return nil, apperrors.ErrWomenOnlyTrip
	}

	vehicle, err := s.vehicles.Vehicle(ctx, in.VehicleID, driverID)
	if err != nil {
		return nil, apperrors.ErrVehicleNotFound
	}
	if in.MaxSeats > vehicle.Seats {
		return nil, apperrors.BadRequest("Trip offers more seats than the vehicle has", nil)
	}

	legs := []struct {
		origin, destination trip.Endpoint
		departure           time.Time
	}{
		{origin, destination, in.DepartureTime},
	}
	if in.RoundTrip {
		legs = append(legs, struct {
			origin, destination trip.Endpoint
			departure           time.Time
		}{destination, origin, *in.ReturnTime})
	}

	// Validate every leg before persisting any
	cands := make([]conflict.Candidate, len(legs))
	for i, leg := range legs {
		cands[i] = conflict.Candidate{
			DepartureTime: leg.departure,
			Origin:        leg.origin.Location,
			Destination:   leg.destination.Location,
		}
		if c, err := s.validator.ValidateDriverDuringRiderCommitments(ctx, driverID, cands[i]); err != nil {
			return nil, apperrors.Internal("validating rider commitments", err)
		} else if c != nil {
			return nil, scheduleConflictError(c)
		}
		if c, err := s.validator.ValidateNoConflict(ctx, driverID, cands[i], nil); err != nil {
			return nil, apperrors.Internal("validating schedule", err)
		} else if c != nil {
			return nil, scheduleConflictError(c)
		}
	}
	// The legs of a round trip must also clear each other; nothing is
	// persisted yet, so the stored-trip checks above cannot see this pair.
	if len(cands) == 2 {
		if c := s.validator.CheckCandidates(cands[1], cands[0]); c != nil {
			return nil, scheduleConflictError(c)
		}
	}

	created := make([]*trip.Trip, 0, len(legs))
	for _, leg := range legs {
		created = append(created, &trip.Trip{
			ID:            uuid.New(),
			DriverID:      driverID,
			VehicleID:     vehicle.ID,
			Origin:        leg.origin,
			Destination:   leg.destination,
			DepartureTime: leg.departure,
			ReturnTime:    in.ReturnTime,
			RoundTrip:     in.RoundTrip,
			MaxSeats:      in.MaxSeats,
			WomenOnly:     in.WomenOnly,
			Price:         in.Price,
			RouteKm:       geomath.RoadDistanceKm(leg.origin.Location, leg.destination.Location),
			State:         trip.StateActive,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	// A round trip is stored all or nothing: a failed second leg rolls the
	// first back before the error surfaces.
	for i, t := range created {
		if err := s.repo.Create(ctx, t); err != nil {
			for _, prev := range created[:i] {
				if derr := s.repo.Delete(ctx, prev.ID); derr != nil {
					s.logger.Error("Failed to roll back round trip leg",
						logger.String("trip_id", prev.ID.String()), logger.Err(derr))
				}
			}
			return nil, apperrors.Internal("persisting trip", err)
		}
	}

	for _, t := range created {
		// Collaborator side effects are best effort and never roll back the trip
		if err := s.chat.CreateGroupChat(ctx, t.ID); err != nil {
			s.logger.Warn("Failed to create trip group chat",
				logger.String("trip_id", t.ID.String()), logger.Err(err))
		}
		s.emit(ctx, collab.Event{
			Type:       collab.EventTripCreated,
			TripID:     t.ID,
			UserID:     driverID,
			OccurredAt: now,
			Payload:    map[string]any{"departure_time": t.DepartureTime, "route_km": t.RouteKm},
		})
	}

	s.logger.Info("Trip published",
		logger.String("driver_id", driverID.String()),
		logger.Int("legs", len(created)),
	)
	return created, nil
}

// Get returns a trip by id
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*trip.Trip, error) {
	t, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, trip.ErrNotFound) {
		return nil, apperrors.ErrTripNotFound
	}
	if err != nil {
		return nil, apperrors.Internal("loading trip", err)
	}
	return t, nil
}

// ListByParticipant returns the user's active and in-progress trips,
// as driver or rider
func (s *Service) ListByParticipant(ctx context.Context, userID uuid.UUID) ([]*trip.Trip, error) {
	trips, err := s.repo.FindActiveOrInProgressByParticipant(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("loading user trips", err)
	}
	return trips, nil
}

// Join creates a pending rider request after validating the rider's schedule.
// paymentRef carries the join-with-payment hold reference, empty otherwise.
func (s *Service) Join(ctx context.Context, riderID, tripID uuid.UUID, seats int, paymentRef string) (*trip.Trip, error) {
	if seats < 1 {
		return nil, apperrors.BadRequest("At least one seat must be requested", nil)
	}

	account, err := s.users.Account(ctx, riderID)
	if err != nil {
		return nil, apperrors.ErrUserNotFound
	}

	t, err := s.mutateTrip(ctx, tripID, func(t *trip.Trip) error {
		if t.State != trip.StateActive {
			return apperrors.ErrTripNotEditable
		}
		if t.DriverID == riderID {
			return apperrors.BadRequest("Driver cannot join their own trip", nil)
		}
		if t.WomenOnly && account.Gender != collab.GenderFemale {
			return apperrors.ErrWomenOnlyTrip
		}
		if t.Rider(riderID) != nil {
			return apperrors.ErrDuplicateJoin
		}
		// A full trip rejects new requests outright. While seats remain, the
		// pending queue may grow past them; capacity is re-checked at
		// confirmation.
		if seats > t.AvailableSeats() {
			return apperrors.ErrCapacityExceeded.WithDetails(map[string]any{
				"available_seats": t.AvailableSeats(),
				"requested_seats": seats,
			})
		}

		cand := conflict.Candidate{
			DepartureTime: t.DepartureTime,
			Origin:        t.Origin.Location,
			Destination:   t.Destination.Location,
		}
		if c, err := s.validator.ValidateNoConflict(ctx, riderID, cand, &t.ID); err != nil {
			return apperrors.Internal("validating rider schedule", err)
		} else if c != nil {
			return scheduleConflictError(c)
		}

		t.Riders = append(t.Riders, trip.RiderRequest{
			RiderID:        riderID,
			Status:         trip.RiderPending,
			RequestedSeats: seats,
			RequestedAt:    time.Now().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"requested_seats": seats}
	if paymentRef != "" {
		payload["payment_ref"] = paymentRef
	}
	s.emit(ctx, collab.Event{
		Type:       collab.EventRiderJoined,
		TripID:     t.ID,
		UserID:     riderID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	return t, nil
}

// ConfirmRider accepts a pending request, enforcing the seat-capacity guard
// under the trip's version so two concurrent confirms cannot both pass it.
func (s *Service) ConfirmRider(ctx context.Context, driverID, tripID, riderID uuid.UUID) (*trip.Trip, error) {
	t, err := s.mutateTrip(ctx, tripID, func(t *trip.Trip) error {
		if t.DriverID != driverID {
			return apperrors.ErrNotTripDriver
		}
		if t.State != trip.StateActive {
			return apperrors.ErrTripNotEditable
		}
		req := t.Rider(riderID)
		if req == nil {
			return apperrors.ErrRiderNotFound
		}
		if req.Status != trip.RiderPending {
			return apperrors.BadRequest("Join request is not pending", nil)
		}
		if t.ConfirmedSeats()+req.RequestedSeats > t.MaxSeats {
			return apperrors.ErrCapacityExceeded.WithDetails(map[string]any{
				"max_seats":       t.MaxSeats,
				"confirmed_seats": t.ConfirmedSeats(),
				"requested_seats": req.RequestedSeats,
			})
		}
		req.Status = trip.RiderConfirmed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.chat.AddParticipant(ctx, tripID, riderID); err != nil {
		s.logger.Warn("Failed to add rider to trip chat",
			logger.String("trip_id", tripID.String()), logger.Err(err))
	}
	s.emit(ctx, collab.Event{
		Type:       collab.EventRiderConfirmed,
		TripID:     tripID,
		UserID:     riderID,
		OccurredAt: time.Now().UTC(),
	})
	return t, nil
}

// RejectRider declines a pending request
func (s *Service) RejectRider(ctx context.Context, driverID, tripID, riderID uuid.UUID) (*trip.Trip, error) {
	t, err := s.mutateTrip(ctx, tripID, func(t *trip.Trip) error {
		if t.DriverID != driverID {
			return apperrors.ErrNotTripDriver
		}
		req := t.Rider(riderID)
		if req == nil {
			return apperrors.ErrRiderNotFound
		}
		if req.Status != trip.RiderPending {
			return apperrors.BadRequest("Join request is not pending", nil)
		}
		req.Status = trip.RiderRejected
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(ctx, collab.Event{
		Type:       collab.EventRiderRejected,
		TripID:     tripID,
		UserID:     riderID,
		OccurredAt: time.Now().UTC(),
	})
	return t, nil
}

// RemoveRider deletes a rider's request on the driver's behalf, triggering a
// refund when the request was confirmed
func (s *Service) RemoveRider(ctx context.Context, driverID, tripID, riderID uuid.UUID) (*trip.Trip, error) {
	if err := s.authorizeDriver(ctx, tripID, driverID); err != nil {
		return nil, err
	}
	return s.removeRider(ctx, tripID, riderID)
}

// Abandon lets a rider remove themselves from a trip
func (s *Service) Abandon(ctx context.Context, riderID, tripID uuid.UUID) (*trip.Trip, error) {
	return s.removeRider(ctx, tripID, riderID)
}

func (s *Service) authorizeDriver(ctx context.Context, tripID, userID uuid.UUID) error {
	t, err := s.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != userID {
		return apperrors.ErrNotTripDriver
	}
	return nil
}

func (s *Service) removeRider(ctx context.Context, tripID, riderID uuid.UUID) (*trip.Trip, error) {
	var wasConfirmed bool
	t, err := s.mutateTrip(ctx, tripID, func(t *trip.Trip) error {
		if t.State.IsTerminal() {
			return apperrors.ErrTripNotEditable
		}
		removed, confirmed := t.RemoveRider(riderID)
		if !removed {
			return apperrors.ErrRiderNotFound
		}
		wasConfirmed = confirmed
		return nil
	})
	if err != nil {
		return nil, err
	}

	if wasConfirmed {
		if err := s.payments.Refund(ctx, riderID, tripID); err != nil {
			s.logger.Warn("Refund trigger failed",
				logger.String("trip_id", tripID.String()),
				logger.String("rider_id", riderID.String()),
				logger.Err(err))
		}
		if err := s.chat.RemoveParticipant(ctx, tripID, riderID); err != nil {
			s.logger.Warn("Failed to remove rider from trip chat",
				logger.String("trip_id", tripID.String()), logger.Err(err))
		}
	}
	s.emit(ctx, collab.Event{
		Type:       collab.EventRiderRemoved,
		TripID:     tripID,
		UserID:     riderID,
		OccurredAt: time.Now().UTC(),
		Payload:    map[string]any{"was_confirmed": wasConfirmed},
	})
	return t, nil
}

// ChangeState applies an explicit driver-requested transition, subject to the
// lifecycle guards. A start request on a trip without confirmed riders routes
// to cancellation instead, mirroring the scheduler's safety net.
func (s *Service) ChangeState(ctx context.Context, userID, tripID uuid.UUID, target trip.State) (*trip.Trip, error) {
	var events []collab.Event
	var refunds []uuid.UUID

	t, err := s.mutateTrip(ctx, tripID, func(t *trip.Trip) error {
		events, refunds = nil, nil
		if t.DriverID != userID {
			return apperrors.ErrNotTripDriver
		}
		now := time.Now().UTC()

		switch target {
		case trip.StateInProgress:
			if c, err := s.validator.ValidateNoSimultaneousInProgress(ctx, userID, &t.ID); err != nil {
				return apperrors.Internal("validating simultaneous trips", err)
			} else if c != nil {
				return scheduleConflictError(c)
			}
			_, evs, err := lifecycle.Start(t, now)
			if errors.Is(err, lifecycle.ErrNoConfirmedRiders) {
				// No one to drive: route the start request to cancellation
				_, evs, err = lifecycle.Cancel(t, now, lifecycle.ReasonNoRiders)
				if err != nil {
					return apperrors.ErrInvalidTransition
				}
				events = evs
				refunds = lifecycle.RidersToRefund(t)
				return nil
			}
			if errors.Is(err, lifecycle.ErrPendingRequests) {
				return apperrors.Conflict("PENDING_REQUESTS", "Resolve pending join requests before starting", nil)
			}
			if err != nil {
				return apperrors.ErrInvalidTransition
			}
			events = evs

		case trip.StateCompleted:
			_, evs, err := lifecycle.Complete(t, now)
			if err != nil {
				return apperrors.ErrInvalidTransition
			}
			events = evs

		case trip.StateCancelled:
			refunds = lifecycle.RidersToRefund(t)
			_, evs, err := lifecycle.Cancel(t, now, lifecycle.ReasonDriverCancelled)
			if err != nil {
				return apperrors.ErrInvalidTransition
			}
			events = evs

		default:
			return apperrors.BadRequest("Unknown target state", nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		s.emit(ctx, ev)
	}
	for _, riderID := range refunds {
		if err := s.payments.Refund(ctx, riderID, tripID); err != nil {
			s.logger.Warn("Refund trigger failed",
				logger.String("trip_id", tripID.String()),
				logger.String("rider_id", riderID.String()),
				logger.Err(err))
		}
	}
	return t, nil
}

// Delete removes an unstarted trip permanently, notifying and refunding its
// riders as if it were cancelled
func (s *Service) Delete(ctx context.Context, driverID, tripID uuid.UUID) error {
	t, err := s.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.DriverID != driverID {
		return apperrors.ErrNotTripDriver
	}
	if t.State != trip.StateActive {
		return apperrors.ErrTripNotEditable
	}

	now := time.Now().UTC()
	_, events, err := lifecycle.Cancel(t, now, lifecycle.ReasonDriverCancelled)
	if err != nil {
		return apperrors.ErrInvalidTransition
	}
	refunds := lifecycle.RidersToRefund(t)

	if err := s.repo.Delete(ctx, tripID); err != nil {
		if errors.Is(err, trip.ErrNotFound) {
			return apperrors.ErrTripNotFound
		}
		return apperrors.Internal("deleting trip", err)
	}

	for _, ev := range events {
		s.emit(ctx, ev)
	}
	for _, riderID := range refunds {
		if err := s.payments.Refund(ctx, riderID, tripID); err != nil {
			s.logger.Warn("Refund trigger failed",
				logger.String("trip_id", tripID.String()),
				logger.String("rider_id", riderID.String()),
				logger.Err(err))
		}
	}
	s.logger.Info("Trip deleted",
		logger.String("trip_id", tripID.String()),
		logger.String("driver_id", driverID.String()),
	)
	return nil
}

// mutateTrip runs the guard-and-mutate closure against a fresh load of the
// trip and saves it with a compare-and-swap. A lost swap reruns the guard
// once; a second loss surfaces as a concurrency conflict for the caller.
func (s *Service) mutateTrip(ctx context.Context, tripID uuid.UUID, fn func(*trip.Trip) error) (*trip.Trip, error) {
	for attempt := 0; ; attempt++ {
		t, err := s.repo.FindByID(ctx, tripID)
		if errors.Is(err, trip.ErrNotFound) {
			return nil, apperrors.ErrTripNotFound
		}
		if err != nil {
			return nil, apperrors.Internal("loading trip", err)
		}

		if err := fn(t); err != nil {
			return nil, err
		}

		err = s.repo.Save(ctx, t)
		if err == nil {
			return t, nil
		}
		if errors.Is(err, trip.ErrVersionConflict) {
			if attempt == 0 {
				s.logger.Info("Lost trip version race, retrying guard check",
					logger.String("trip_id", tripID.String()))
				continue
			}
			return nil, apperrors.ErrConcurrencyConflict
		}
		return nil, apperrors.Internal("saving trip", err)
	}
}

func (s *Service) emit(ctx context.Context, ev collab.Event) {
	if err := s.notifier.Emit(ctx, ev); err != nil {
		s.logger.Warn("Failed to emit event",
			logger.String("event", ev.Type),
			logger.String("trip_id", ev.TripID.String()),
			logger.Err(err))
	}
}

func scheduleConflictError(c *conflict.Conflict) *apperrors.AppError {
	details := map[string]any{"reason": c.Reason}
	if c.TripID != uuid.Nil {
		details["conflicting_trip_id"] = c.TripID.String()
	}
	if c.RequiredMinutes > 0 || c.AvailableMinutes > 0 {
		details["required_minutes"] = c.RequiredMinutes
		details["available_minutes"] = c.AvailableMinutes
	}
	// Schedule conflicts are a rejected input, not a lost race, so they map
	// to 400 rather than 409.
	return apperrors.NewAppError("SCHEDULE_CONFLICT", c.Message(), http.StatusBadRequest, nil).WithDetails(details)
}
