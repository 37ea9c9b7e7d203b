package tripsvc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/domain/trip/triptest"
	"github.com/uniride/carpool/internal/service/conflict"
	apperrors "github.com/uniride/carpool/pkg/errors"
	"github.com/uniride/carpool/pkg/logger"
)

type fakeUsers struct {
	accounts map[uuid.UUID]*collab.Account
}

func (f *fakeUsers) Account(_ context.Context, id uuid.UUID) (*collab.Account, error) {
	a, ok := f.accounts[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return a, nil
}

type fakeVehicles struct {
	vehicles map[uuid.UUID]*collab.Vehicle
}

func (f *fakeVehicles) Vehicle(_ context.Context, id, ownerID uuid.UUID) (*collab.Vehicle, error) {
	v, ok := f.vehicles[id]
	if !ok || v.OwnerID != ownerID {
		return nil, trip.ErrNotFound
	}
	return v, nil
}

type refundCall struct {
	RiderID uuid.UUID
	TripID  uuid.UUID
}

type recordingPayments struct {
	mu      sync.Mutex
	refunds []refundCall
}

func (p *recordingPayments) Refund(_ context.Context, riderID, tripID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refunds = append(p.refunds, refundCall{RiderID: riderID, TripID: tripID})
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []collab.Event
}

func (n *recordingNotifier) Emit(_ context.Context, ev collab.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) ofType(t string) []collab.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []collab.Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingChat struct {
	mu      sync.Mutex
	created []uuid.UUID
	added   []uuid.UUID
	removed []uuid.UUID
}

func (c *recordingChat) CreateGroupChat(_ context.Context, tripID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, tripID)
	return nil
}

func (c *recordingChat) AddParticipant(_ context.Context, _, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.added = append(c.added, userID)
	return nil
}

func (c *recordingChat) RemoveParticipant(_ context.Context, _, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, userID)
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

type fixture struct {
	svc      *Service
	repo     *triptest.Repo
	users    *fakeUsers
	vehicles *fakeVehicles
	payments *recordingPayments
	notifier *recordingNotifier
	chat     *recordingChat

	driverID  uuid.UUID
	vehicleID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:      triptest.NewRepo(),
		payments:  &recordingPayments{},
		notifier:  &recordingNotifier{},
		chat:      &recordingChat{},
		driverID:  uuid.New(),
		vehicleID: uuid.New(),
	}
	f.users = &fakeUsers{accounts: map[uuid.UUID]*collab.Account{
		f.driverID: {ID: f.driverID, Name: "driver", Gender: collab.GenderMale},
	}}
	f.vehicles = &fakeVehicles{vehicles: map[uuid.UUID]*collab.Vehicle{
		f.vehicleID: {ID: f.vehicleID, OwnerID: f.driverID, Plate: "AB1234", Seats: 4},
	}}
	log := testLogger(t)
	validator := conflict.NewValidator(f.repo, conflict.Config{TransferBufferMinutes: 10}, log)
	f.svc = NewService(f.repo, validator, f.users, f.vehicles, f.payments, f.notifier, f.chat, log)
	return f
}

func (f *fixture) addRider(t *testing.T, gender collab.Gender) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.users.accounts[id] = &collab.Account{ID: id, Name: "rider", Gender: gender}
	return id
}

func (f *fixture) createInput(departure time.Time) CreateInput {
	return CreateInput{
		VehicleID:     f.vehicleID,
		Origin:        EndpointInput{DisplayName: "Campus", Lat: -36.6, Lng: -72.1},
		Destination:   EndpointInput{DisplayName: "Centro", Lat: -36.5, Lng: -72.0},
		DepartureTime: departure,
		MaxSeats:      3,
		Price:         1500,
	}
}

func (f *fixture) publish(t *testing.T, departure time.Time) *trip.Trip {
	t.Helper()
	created, err := f.svc.Create(context.Background(), f.driverID, f.createInput(departure))
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func TestCreatePublishesTrip(t *testing.T) {
	f := newFixture(t)
	departure := time.Now().UTC().Add(2 * time.Hour)

	created := f.publish(t, departure)

	assert.Equal(t, trip.StateActive, created.State)
	assert.Equal(t, f.driverID, created.DriverID)
	assert.Greater(t, created.RouteKm, 0.0)
	assert.Equal(t, 3, created.AvailableSeats())

	assert.Contains(t, f.chat.created, created.ID)
	assert.Len(t, f.notifier.ofType(collab.EventTripCreated), 1)
}

func TestCreateRoundTripYieldsTwoTrips(t *testing.T) {
	f := newFixture(t)
	departure := time.Now().UTC().Add(2 * time.Hour)
	returnTime := departure.Add(6 * time.Hour)

	in := f.createInput(departure)
	in.RoundTrip = true
	in.ReturnTime = &returnTime

	created, err := f.svc.Create(context.Background(), f.driverID, in)
	require.NoError(t, err)
	require.Len(t, created, 2)

	outbound, inbound := created[0], created[1]
	assert.NotEqual(t, outbound.ID, inbound.ID)
	assert.Equal(t, outbound.Origin, inbound.Destination)
	assert.Equal(t, outbound.Destination, inbound.Origin)
	assert.Equal(t, returnTime, inbound.DepartureTime)
	assert.Len(t, f.notifier.ofType(collab.EventTripCreated), 2)
}

func TestCreateRoundTripLegsMustNotOverlap(t *testing.T) {
	f := newFixture(t)
	departure := time.Now().UTC().Add(2 * time.Hour)
	// The route's travel estimate is about 40 minutes, so a return leg 5
	// minutes after departure sits inside the outbound window.
	returnTime := departure.Add(5 * time.Minute)

	in := f.createInput(departure)
	in.RoundTrip = true
	in.ReturnTime = &returnTime

	created, err := f.svc.Create(context.Background(), f.driverID, in)
	require.Error(t, err)
	assert.Nil(t, created)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "SCHEDULE_CONFLICT", appErr.Code)
	assert.Equal(t, "solapamiento_temporal", appErr.Details["reason"])
	assert.Equal(t, 0, f.repo.Len(), "neither leg persisted")
}

func TestCreateRoundTripPersistsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.repo.CreateErrAt = 2
	f.repo.CreateErr = errors.New("insert failed")

	departure := time.Now().UTC().Add(2 * time.Hour)
	returnTime := departure.Add(6 * time.Hour)
	in := f.createInput(departure)
	in.RoundTrip = true
	in.ReturnTime = &returnTime

	created, err := f.svc.Create(context.Background(), f.driverID, in)
	require.Error(t, err)
	assert.Nil(t, created)
	assert.Equal(t, 0, f.repo.Len(), "first leg rolled back")
	assert.Empty(t, f.notifier.ofType(collab.EventTripCreated))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	future := time.Now().UTC().Add(2 * time.Hour)

	t.Run("departure in the past", func(t *testing.T) {
		in := f.createInput(time.Now().UTC().Add(-time.Minute))
		_, err := f.svc.Create(context.Background(), f.driverID, in)
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", apperrors.GetAppError(err).Code)
	})

	t.Run("more seats than the vehicle has", func(t *testing.T) {
		in := f.createInput(future)
		in.MaxSeats = 9
		_, err := f.svc.Create(context.Background(), f.driverID, in)
		require.Error(t, err)
		assert.Equal(t, "VALIDATION_ERROR", apperrors.GetAppError(err).Code)
	})

	t.Run("round trip without return time", func(t *testing.T) {
		in := f.createInput(future)
		in.RoundTrip = true
		_, err := f.svc.Create(context.Background(), f.driverID, in)
		require.Error(t, err)
	})

	t.Run("unknown vehicle", func(t *testing.T) {
		in := f.createInput(future)
		in.VehicleID = uuid.New()
		_, err := f.svc.Create(context.Background(), f.driverID, in)
		require.Error(t, err)
		assert.Equal(t, 404, apperrors.GetAppError(err).Status)
	})
}

func TestCreateWomenOnlyRequiresFemaleDriver(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(time.Now().UTC().Add(2 * time.Hour))
	in.WomenOnly = true

	_, err := f.svc.Create(context.Background(), f.driverID, in)
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.GetAppError(err).Status)

	f.users.accounts[f.driverID].Gender = collab.GenderFemale
	created, err := f.svc.Create(context.Background(), f.driverID, in)
	require.NoError(t, err)
	assert.True(t, created[0].WomenOnly)
}

func TestCreateRejectsOverlappingSchedule(t *testing.T) {
	f := newFixture(t)
	departure := time.Now().UTC().Add(2 * time.Hour)
	f.publish(t, departure)

	_, err := f.svc.Create(context.Background(), f.driverID, f.createInput(departure))
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	require.NotNil(t, appErr)
	assert.Equal(t, "SCHEDULE_CONFLICT", appErr.Code)
	assert.Equal(t, 400, appErr.Status)
	assert.Equal(t, "solapamiento_temporal", appErr.Details["reason"])
}

func TestJoinAddsPendingRequest(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)

	updated, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)

	req := updated.Rider(riderID)
	require.NotNil(t, req)
	assert.Equal(t, trip.RiderPending, req.Status)
	assert.Equal(t, 3, updated.AvailableSeats(), "pending requests do not take seats")
	assert.Len(t, f.notifier.ofType(collab.EventRiderJoined), 1)

	_, err = f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.Error(t, err)
	assert.Equal(t, "DUPLICATE_JOIN", apperrors.GetAppError(err).Code)
}

func TestJoinWithPaymentCarriesReference(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderFemale)

	_, err := f.svc.Join(context.Background(), riderID, created.ID, 2, "hold-991")
	require.NoError(t, err)

	joined := f.notifier.ofType(collab.EventRiderJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "hold-991", joined[0].Payload["payment_ref"])
	assert.Equal(t, 2, joined[0].Payload["requested_seats"])
}

func TestJoinGuards(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))

	t.Run("driver cannot join own trip", func(t *testing.T) {
		_, err := f.svc.Join(context.Background(), f.driverID, created.ID, 1, "")
		require.Error(t, err)
		assert.Equal(t, 400, apperrors.GetAppError(err).Status)
	})

	t.Run("women only trip rejects non-female rider", func(t *testing.T) {
		f := newFixture(t)
		f.users.accounts[f.driverID].Gender = collab.GenderFemale
		in := f.createInput(time.Now().UTC().Add(2 * time.Hour))
		in.WomenOnly = true
		created, err := f.svc.Create(context.Background(), f.driverID, in)
		require.NoError(t, err)

		male := f.addRider(t, collab.GenderMale)
		_, err = f.svc.Join(context.Background(), male, created[0].ID, 1, "")
		require.Error(t, err)
		assert.Equal(t, 403, apperrors.GetAppError(err).Status)

		female := f.addRider(t, collab.GenderFemale)
		_, err = f.svc.Join(context.Background(), female, created[0].ID, 1, "")
		require.NoError(t, err)
	})

	t.Run("rider with overlapping commitment rejected", func(t *testing.T) {
		riderID := f.addRider(t, collab.GenderMale)
		other := &trip.Trip{
			ID:            uuid.New(),
			DriverID:      uuid.New(),
			Origin:        created.Origin,
			Destination:   created.Destination,
			DepartureTime: created.DepartureTime,
			MaxSeats:      2,
			State:         trip.StateActive,
			Riders: []trip.RiderRequest{
				{RiderID: riderID, Status: trip.RiderConfirmed, RequestedSeats: 1, RequestedAt: time.Now().UTC()},
			},
		}
		f.repo.Put(other)

		_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
		require.Error(t, err)
		assert.Equal(t, "SCHEDULE_CONFLICT", apperrors.GetAppError(err).Code)
	})

	t.Run("full trip rejects further joins", func(t *testing.T) {
		f := newFixture(t)
		in := f.createInput(time.Now().UTC().Add(2 * time.Hour))
		in.MaxSeats = 1
		created, err := f.svc.Create(context.Background(), f.driverID, in)
		require.NoError(t, err)
		tripID := created[0].ID

		first := f.addRider(t, collab.GenderMale)
		_, err = f.svc.Join(context.Background(), first, tripID, 1, "")
		require.NoError(t, err)
		_, err = f.svc.ConfirmRider(context.Background(), f.driverID, tripID, first)
		require.NoError(t, err)

		second := f.addRider(t, collab.GenderMale)
		_, err = f.svc.Join(context.Background(), second, tripID, 1, "")
		require.Error(t, err)
		appErr := apperrors.GetAppError(err)
		require.NotNil(t, appErr)
		assert.Equal(t, "CAPACITY_EXCEEDED", appErr.Code)
	})
}

func TestConfirmRiderEnforcesCapacity(t *testing.T) {
	f := newFixture(t)
	in := f.createInput(time.Now().UTC().Add(2 * time.Hour))
	in.MaxSeats = 2
	created, err := f.svc.Create(context.Background(), f.driverID, in)
	require.NoError(t, err)
	tripID := created[0].ID

	var riders []uuid.UUID
	for i := 0; i < 3; i++ {
		riderID := f.addRider(t, collab.GenderFemale)
		riders = append(riders, riderID)
		_, err := f.svc.Join(context.Background(), riderID, tripID, 1, "")
		require.NoError(t, err)
	}

	for _, riderID := range riders[:2] {
		updated, err := f.svc.ConfirmRider(context.Background(), f.driverID, tripID, riderID)
		require.NoError(t, err)
		assert.Equal(t, trip.RiderConfirmed, updated.Rider(riderID).Status)
	}

	_, err = f.svc.ConfirmRider(context.Background(), f.driverID, tripID, riders[2])
	require.Error(t, err)
	appErr := apperrors.GetAppError(err)
	assert.Equal(t, "CAPACITY_EXCEEDED", appErr.Code)
	assert.Equal(t, 2, appErr.Details["confirmed_seats"])

	assert.ElementsMatch(t, riders[:2], f.chat.added)
	assert.Len(t, f.notifier.ofType(collab.EventRiderConfirmed), 2)
}

func TestConfirmRiderRequiresDriver(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)

	_, err = f.svc.ConfirmRider(context.Background(), riderID, created.ID, riderID)
	require.Error(t, err)
	assert.Equal(t, 403, apperrors.GetAppError(err).Status)
}

func TestRejectRider(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)

	updated, err := f.svc.RejectRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)
	assert.Equal(t, trip.RiderRejected, updated.Rider(riderID).Status)
	assert.Len(t, f.notifier.ofType(collab.EventRiderRejected), 1)

	// A rejected request cannot be rejected or confirmed again
	_, err = f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
	require.Error(t, err)
}

func TestRemoveConfirmedRiderTriggersRefund(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderFemale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)

	updated, err := f.svc.RemoveRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)
	assert.Nil(t, updated.Rider(riderID))

	require.Len(t, f.payments.refunds, 1)
	assert.Equal(t, refundCall{RiderID: riderID, TripID: created.ID}, f.payments.refunds[0])
	assert.Contains(t, f.chat.removed, riderID)
}

func TestAbandonPendingRequestSkipsRefund(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)

	updated, err := f.svc.Abandon(context.Background(), riderID, created.ID)
	require.NoError(t, err)
	assert.Nil(t, updated.Rider(riderID))
	assert.Empty(t, f.payments.refunds)
	assert.Len(t, f.notifier.ofType(collab.EventRiderRemoved), 1)
}

func TestChangeStateStart(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	pendingID := f.addRider(t, collab.GenderFemale)
	for _, id := range []uuid.UUID{riderID, pendingID} {
		_, err := f.svc.Join(context.Background(), id, created.ID, 1, "")
		require.NoError(t, err)
	}
	_, err := f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)

	// Unresolved requests block the start
	_, err = f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateInProgress)
	require.Error(t, err)
	assert.Equal(t, "PENDING_REQUESTS", apperrors.GetAppError(err).Code)

	_, err = f.svc.RejectRider(context.Background(), f.driverID, created.ID, pendingID)
	require.NoError(t, err)

	updated, err := f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateInProgress)
	require.NoError(t, err)
	assert.Equal(t, trip.StateInProgress, updated.State)
	assert.Len(t, f.notifier.ofType(collab.EventTripStarted), 1)
}

func TestChangeStateStartWithoutConfirmedRidersCancels(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	pendingID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), pendingID, created.ID, 1, "")
	require.NoError(t, err)

	updated, err := f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateInProgress)
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, updated.State)

	cancelled := f.notifier.ofType(collab.EventTripCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "no riders at departure", cancelled[0].Payload["reason"])
	assert.Empty(t, f.payments.refunds, "pending riders are not refunded")
}

func TestChangeStateCancelRefundsConfirmedRiders(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))

	confirmed := []uuid.UUID{f.addRider(t, collab.GenderFemale), f.addRider(t, collab.GenderMale)}
	pending := f.addRider(t, collab.GenderMale)
	for _, id := range append(confirmed, pending) {
		_, err := f.svc.Join(context.Background(), id, created.ID, 1, "")
		require.NoError(t, err)
	}
	for _, id := range confirmed {
		_, err := f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, id)
		require.NoError(t, err)
	}

	updated, err := f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateCancelled)
	require.NoError(t, err)
	assert.Equal(t, trip.StateCancelled, updated.State)

	var refunded []uuid.UUID
	for _, r := range f.payments.refunds {
		refunded = append(refunded, r.RiderID)
	}
	assert.ElementsMatch(t, confirmed, refunded, "only confirmed riders are refunded")
}

func TestChangeStateComplete(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)
	_, err = f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateInProgress)
	require.NoError(t, err)

	updated, err := f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateCompleted)
	require.NoError(t, err)
	assert.Equal(t, trip.StateCompleted, updated.State)
	require.NotNil(t, updated.CompletedAt)

	// Completing from active is not allowed
	other := f.publish(t, time.Now().UTC().Add(30*time.Hour))
	_, err = f.svc.ChangeState(context.Background(), f.driverID, other.ID, trip.StateCompleted)
	require.Error(t, err)
	assert.Equal(t, "INVALID_TRANSITION", apperrors.GetAppError(err).Code)
}

func TestDeleteOnlyRemovesUnstartedTrips(t *testing.T) {
	f := newFixture(t)
	created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
	riderID := f.addRider(t, collab.GenderMale)
	_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
	require.NoError(t, err)
	_, err = f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
	require.NoError(t, err)

	t.Run("only the driver may delete", func(t *testing.T) {
		err := f.svc.Delete(context.Background(), riderID, created.ID)
		require.Error(t, err)
		assert.Equal(t, 403, apperrors.GetAppError(err).Status)
	})

	t.Run("delete refunds confirmed riders and removes the trip", func(t *testing.T) {
		require.NoError(t, f.svc.Delete(context.Background(), f.driverID, created.ID))
		_, err := f.svc.Get(context.Background(), created.ID)
		require.Error(t, err)
		require.Len(t, f.payments.refunds, 1)
		assert.Equal(t, riderID, f.payments.refunds[0].RiderID)
	})

	t.Run("started trips cannot be deleted", func(t *testing.T) {
		f := newFixture(t)
		created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
		riderID := f.addRider(t, collab.GenderMale)
		_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
		require.NoError(t, err)
		_, err = f.svc.ConfirmRider(context.Background(), f.driverID, created.ID, riderID)
		require.NoError(t, err)
		_, err = f.svc.ChangeState(context.Background(), f.driverID, created.ID, trip.StateInProgress)
		require.NoError(t, err)

		err = f.svc.Delete(context.Background(), f.driverID, created.ID)
		require.Error(t, err)
		assert.Equal(t, "TRIP_NOT_EDITABLE", apperrors.GetAppError(err).Code)
	})
}

func TestMutationRetriesLostVersionRace(t *testing.T) {
	t.Run("single lost race is retried transparently", func(t *testing.T) {
		f := newFixture(t)
		created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
		riderID := f.addRider(t, collab.GenderMale)

		f.repo.SaveErrOnce[created.ID] = trip.ErrVersionConflict

		updated, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
		require.NoError(t, err)
		assert.NotNil(t, updated.Rider(riderID))
	})

	t.Run("repeated losses surface a concurrency conflict", func(t *testing.T) {
		f := newFixture(t)
		created := f.publish(t, time.Now().UTC().Add(2*time.Hour))
		riderID := f.addRider(t, collab.GenderMale)

		f.repo.SaveErr[created.ID] = trip.ErrVersionConflict

		_, err := f.svc.Join(context.Background(), riderID, created.ID, 1, "")
		require.Error(t, err)
		assert.Equal(t, "CONCURRENCY_CONFLICT", apperrors.GetAppError(err).Code)
	})
}
