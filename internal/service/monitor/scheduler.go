// Package monitor implements the recurring background pass that advances due
// trips through the state machine without user action: auto-start trips with
// confirmed riders at departure time and safety-net cancel the rest.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/conflict"
	"github.com/uniride/carpool/internal/service/lifecycle"
	"github.com/uniride/carpool/pkg/logger"
	"github.com/uniride/carpool/pkg/monitoring"
)

// Config holds scheduler tuning
type Config struct {
	// Interval between passes
	Interval time.Duration
	// InitialDelay before the first pass after process start, to drain backlog
	InitialDelay time.Duration
	// GraceMinutes past departure before a trip is considered due
	GraceMinutes int
	// TickBudget is the soft wall-clock budget for one pass
	TickBudget time.Duration
}

// Summary reports one monitoring pass
type Summary struct {
	Scanned   int `json:"scanned"`
	Started   int `json:"started"`
	Cancelled int `json:"cancelled"`
	Errors    int `json:"errors"`
}

// Scheduler runs the monitoring pass on a fixed interval. Passes are safely
// re-entrant: transitions are idempotent against current state, so an
// overlapping slow run plus the next tick cannot double-apply.
type Scheduler struct {
	repo      trip.Repository
	validator *conflict.Validator
	notifier  collab.NotificationService
	payments  collab.PaymentService
	nrApp     *monitoring.NewRelicApp
	cfg       Config
	logger    *logger.Logger
}

// NewScheduler creates a monitoring scheduler
func NewScheduler(repo trip.Repository, validator *conflict.Validator, notifier collab.NotificationService, payments collab.PaymentService, nrApp *monitoring.NewRelicApp, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 10 * time.Second
	}
	if cfg.GraceMinutes <= 0 {
		cfg.GraceMinutes = 5
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = cfg.Interval
	}
	return &Scheduler{
		repo:      repo,
		validator: validator,
		notifier:  notifier,
		payments:  payments,
		nrApp:     nrApp,
		cfg:       cfg,
		logger:    log,
	}
}

// Run ticks the monitoring pass until the context is cancelled. One early
// run drains the backlog accumulated while the process was down.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Monitoring scheduler started",
		logger.Duration("interval", s.cfg.Interval),
		logger.Int("grace_minutes", s.cfg.GraceMinutes),
	)

	first := time.NewTimer(s.cfg.InitialDelay)
	defer first.Stop()
	select {
	case <-ctx.Done():
		return
	case <-first.C:
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitoring scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one pass under the soft wall-clock budget. An overrun is logged
// and left to the next tick rather than queuing runs.
func (s *Scheduler) tick(ctx context.Context) {
	passCtx, cancel := context.WithTimeout(ctx, s.cfg.TickBudget)
	defer cancel()

	start := time.Now()
	summary := s.RunPass(passCtx)
	elapsed := time.Since(start)

	if elapsed > s.cfg.TickBudget {
		s.logger.Warn("Monitoring pass exceeded tick budget",
			logger.Duration("elapsed", elapsed),
			logger.Duration("budget", s.cfg.TickBudget),
		)
	}

	if s.nrApp != nil {
		s.nrApp.RecordMonitoringPass(summary.Scanned, summary.Started, summary.Cancelled, summary.Errors,
			float64(elapsed.Milliseconds()))
	}
}

// RunPass scans due trips and applies one automatic transition each:
// cancel with no confirmed riders, cancel when the driver is already on an
// in-progress trip, otherwise auto-start. A failure on one trip never aborts
// the rest of the pass. The same entry point backs the operator endpoint.
func (s *Scheduler) RunPass(ctx context.Context) Summary {
	var summary Summary
	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(s.cfg.GraceMinutes) * time.Minute)

	due, err := s.repo.FindByState(ctx, trip.StateActive, cutoff)
	if err != nil {
		s.logger.Error("Monitoring pass failed to load due trips", logger.Err(err))
		summary.Errors++
		return summary
	}
	summary.Scanned = len(due)

	for _, t := range due {
		if err := s.processTrip(ctx, t, now, &summary); err != nil {
			// Collect and continue: one bad trip must not starve the rest.
			summary.Errors++
			s.logger.Error("Monitoring pass failed to transition trip",
				logger.String("trip_id", t.ID.String()),
				logger.Err(err),
			)
		}
	}

	s.logger.Info("Monitoring pass completed",
		logger.Int("scanned", summary.Scanned),
		logger.Int("started", summary.Started),
		logger.Int("cancelled", summary.Cancelled),
		logger.Int("errors", summary.Errors),
	)
	return summary
}

func (s *Scheduler) processTrip(ctx context.Context, t *trip.Trip, now time.Time, summary *Summary) error {
	if len(t.ConfirmedRiders()) == 0 {
		return s.cancelTrip(ctx, t, now, lifecycle.ReasonNoRiders, summary)
	}

	busy, err := s.validator.ValidateNoSimultaneousInProgress(ctx, t.DriverID, &t.ID)
	if err != nil {
		return err
	}
	if busy != nil {
		return s.cancelTrip(ctx, t, now, lifecycle.ReasonDriverBusy, summary)
	}

	// The driver had their window to decide: requests still pending at
	// departure are rejected so the start guard holds, and each rejected
	// rider is notified once the transition sticks.
	var rejected []uuid.UUID
	t.Riders, rejected = resolveStalePending(t.Riders)
	changed, events, err := lifecycle.Start(t, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	saved, err := s.save(ctx, t)
	if err != nil {
		return err
	}
	if !saved {
		return nil
	}
	summary.Started++
	for _, riderID := range rejected {
		events = append(events, collab.Event{
			Type:       collab.EventRiderRejected,
			TripID:     t.ID,
			UserID:     riderID,
			OccurredAt: now,
		})
	}
	s.emit(ctx, events)
	s.logger.Info("Trip auto-started",
		logger.String("trip_id", t.ID.String()),
		logger.String("reason", lifecycle.ReasonAutoStart),
	)
	return nil
}

// resolveStalePending rejects join requests still pending at departure,
// returning the affected rider ids so their rejection can be announced.
func resolveStalePending(riders []trip.RiderRequest) ([]trip.RiderRequest, []uuid.UUID) {
	var rejected []uuid.UUID
	for i := range riders {
		if riders[i].Status == trip.RiderPending {
			riders[i].Status = trip.RiderRejected
			rejected = append(rejected, riders[i].RiderID)
		}
	}
	return riders, rejected
}

func (s *Scheduler) cancelTrip(ctx context.Context, t *trip.Trip, now time.Time, reason string, summary *Summary) error {
	changed, events, err := lifecycle.Cancel(t, now, reason)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	saved, err := s.save(ctx, t)
	if err != nil {
		return err
	}
	if !saved {
		return nil
	}
	summary.Cancelled++
	s.emit(ctx, events)
	s.refund(ctx, t)
	s.logger.Info("Trip auto-cancelled",
		logger.String("trip_id", t.ID.String()),
		logger.String("reason", reason),
	)
	return nil
}

// save persists a transition, treating a lost version race as benign: the
// concurrent writer (an overlapping pass or a user action) already advanced
// the trip, and transitions are idempotent against current state.
func (s *Scheduler) save(ctx context.Context, t *trip.Trip) (saved bool, err error) {
	err = s.repo.Save(ctx, t)
	if errors.Is(err, trip.ErrVersionConflict) {
		s.logger.Info("Monitoring transition lost version race, skipping",
			logger.String("trip_id", t.ID.String()),
		)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) emit(ctx context.Context, events []collab.Event) {
	for _, ev := range events {
		if err := s.notifier.Emit(ctx, ev); err != nil {
			s.logger.Warn("Failed to emit monitoring event",
				logger.String("event", ev.Type),
				logger.String("trip_id", ev.TripID.String()),
				logger.Err(err),
			)
		}
	}
}

// refund fires refund processing for each confirmed rider of a cancelled
// trip. Best effort: a collaborator failure never rolls back the transition.
func (s *Scheduler) refund(ctx context.Context, t *trip.Trip) {
	for _, riderID := range lifecycle.RidersToRefund(t) {
		if err := s.payments.Refund(ctx, riderID, t.ID); err != nil {
			s.logger.Warn("Refund trigger failed",
				logger.String("trip_id", t.ID.String()),
				logger.String("rider_id", riderID.String()),
				logger.Err(err),
			)
		}
	}
}
