package search

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/domain/trip/triptest"
	"github.com/uniride/carpool/pkg/logger"
)

var (
	campusOrigin = trip.GeoPoint{Lat: -36.6, Lng: -72.1}
	campusDest   = trip.GeoPoint{Lat: -36.5, Lng: -72.0}
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "console"})
	require.NoError(t, err)
	return log
}

func fixtureTrip(origin, dest trip.GeoPoint, departure time.Time) *trip.Trip {
	return &trip.Trip{
		ID:            uuid.New(),
		DriverID:      uuid.New(),
		VehicleID:     uuid.New(),
		Origin:        trip.Endpoint{DisplayName: "Origen", Location: origin},
		Destination:   trip.Endpoint{DisplayName: "Destino", Location: dest},
		DepartureTime: departure,
		MaxSeats:      3,
		State:         trip.StateActive,
	}
}

func newMatcher(t *testing.T, repo trip.Repository, cfg Config) *Matcher {
	t.Helper()
	return NewMatcher(repo, cfg, testLogger(t))
}

// TestSearchByRoute_AdmitsNearbyTrip tests that the fixture trip is returned
// when the requester's endpoints match the trip's, and excluded when far away
func TestSearchByRoute_AdmitsNearbyTrip(t *testing.T) {
	repo := triptest.NewRepo()
	departure := time.Now().Add(2 * time.Hour)
	fixture := fixtureTrip(campusOrigin, campusDest, departure)
	repo.Put(fixture)

	m := newMatcher(t, repo, Config{DefaultRadiusKm: 2})
	window := RouteQuery{
		Origin:      campusOrigin,
		Destination: campusDest,
		From:        time.Now(),
		To:          time.Now().Add(24 * time.Hour),
		SeatsNeeded: 1,
		RadiusKm:    2,
	}

	matches, err := m.SearchByRoute(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, fixture.ID, matches[0].Trip.ID)
	assert.Equal(t, 0.0, matches[0].ToOriginKm)
	assert.Equal(t, 0.0, matches[0].ToDestinationKm)

	// Same trip searched from ~55 km away falls outside every admission clause
	far := window
	far.Origin = trip.GeoPoint{Lat: -37.1, Lng: -72.1}
	far.Destination = trip.GeoPoint{Lat: -37.0, Lng: -72.0}
	matches, err = m.SearchByRoute(context.Background(), far)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// TestAdmitByDistance_Clauses tests each branch of the admission rule
func TestAdmitByDistance_Clauses(t *testing.T) {
	const r = 2.0

	tests := []struct {
		name           string
		dOrigin, dDest float64
		admitted       bool
	}{
		{"both on top of endpoints", 0, 0, true},
		{"sum within 2r", 1.5, 2.4, true},
		{"sum exactly 2r", 2.0, 2.0, true},
		{"origin close, dest within 1.5r", 1.9, 2.9, true},
		{"dest close, origin within 1.5r", 2.9, 1.9, true},
		{"origin close, dest too far", 1.0, 3.5, false},
		{"both past every clause", 2.5, 2.5, false},
		{"way out", 10, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.admitted, admitByDistance(tt.dOrigin, tt.dDest, r))
		})
	}
}

// TestSearchByRoute_Filters tests seat, date and state filtering
func TestSearchByRoute_Filters(t *testing.T) {
	repo := triptest.NewRepo()
	departure := time.Now().Add(2 * time.Hour)

	full := fixtureTrip(campusOrigin, campusDest, departure)
	full.MaxSeats = 1
	full.Riders = []trip.RiderRequest{{RiderID: uuid.New(), Status: trip.RiderConfirmed, RequestedSeats: 1}}
	repo.Put(full)

	cancelled := fixtureTrip(campusOrigin, campusDest, departure)
	cancelled.State = trip.StateCancelled
	repo.Put(cancelled)

	tomorrow := fixtureTrip(campusOrigin, campusDest, departure.Add(48*time.Hour))
	repo.Put(tomorrow)

	open := fixtureTrip(campusOrigin, campusDest, departure)
	repo.Put(open)

	m := newMatcher(t, repo, Config{})
	matches, err := m.SearchByRoute(context.Background(), RouteQuery{
		Origin:      campusOrigin,
		Destination: campusDest,
		From:        time.Now(),
		To:          time.Now().Add(24 * time.Hour),
		SeatsNeeded: 1,
		RadiusKm:    2,
	})
	require.NoError(t, err)
	require.Len(t, matches, 1, "full, cancelled and out-of-window trips are filtered")
	assert.Equal(t, open.ID, matches[0].Trip.ID)
}

// TestSearchByRoute_GenderRule tests women-only visibility
func TestSearchByRoute_GenderRule(t *testing.T) {
	repo := triptest.NewRepo()
	departure := time.Now().Add(2 * time.Hour)

	womenOnly := fixtureTrip(campusOrigin, campusDest, departure)
	womenOnly.WomenOnly = true
	repo.Put(womenOnly)

	mixed := fixtureTrip(campusOrigin, campusDest, departure)
	repo.Put(mixed)

	m := newMatcher(t, repo, Config{})
	base := RouteQuery{
		Origin:      campusOrigin,
		Destination: campusDest,
		From:        time.Now(),
		To:          time.Now().Add(24 * time.Hour),
		RadiusKm:    2,
	}

	t.Run("male requester never sees women-only trips", func(t *testing.T) {
		q := base
		q.RequesterGender = collab.GenderMale
		matches, err := m.SearchByRoute(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, mixed.ID, matches[0].Trip.ID)
	})

	t.Run("female requester sees both without the filter", func(t *testing.T) {
		q := base
		q.RequesterGender = collab.GenderFemale
		matches, err := m.SearchByRoute(context.Background(), q)
		require.NoError(t, err)
		assert.Len(t, matches, 2)
	})

	t.Run("women-only filter returns only women-only trips", func(t *testing.T) {
		q := base
		q.RequesterGender = collab.GenderFemale
		q.WomenOnly = true
		matches, err := m.SearchByRoute(context.Background(), q)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, womenOnly.ID, matches[0].Trip.ID)
	})

	t.Run("women-only filter yields nothing for male requester", func(t *testing.T) {
		q := base
		q.RequesterGender = collab.GenderMale
		q.WomenOnly = true
		matches, err := m.SearchByRoute(context.Background(), q)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

// TestSearchByRoute_SortOrder tests distance sort with departure tie-break
func TestSearchByRoute_SortOrder(t *testing.T) {
	repo := triptest.NewRepo()
	base := time.Now().Add(2 * time.Hour).Truncate(time.Minute)

	// ~1.11 km from the query origin
	offset := trip.GeoPoint{Lat: campusOrigin.Lat + 0.01, Lng: campusOrigin.Lng}

	later := fixtureTrip(campusOrigin, campusDest, base.Add(time.Hour))
	earlier := fixtureTrip(campusOrigin, campusDest, base)
	farther := fixtureTrip(offset, campusDest, base.Add(-time.Hour))
	repo.Put(later)
	repo.Put(earlier)
	repo.Put(farther)

	m := newMatcher(t, repo, Config{})
	matches, err := m.SearchByRoute(context.Background(), RouteQuery{
		Origin:      campusOrigin,
		Destination: campusDest,
		From:        time.Now(),
		To:          time.Now().Add(24 * time.Hour),
		RadiusKm:    2,
	})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, earlier.ID, matches[0].Trip.ID, "tie broken by earliest departure")
	assert.Equal(t, later.ID, matches[1].Trip.ID)
	assert.Equal(t, farther.ID, matches[2].Trip.ID, "larger summed distance sorts last")
}

// TestSearchByPoint_Radar tests ordering, the result cap and the IsOwn flag
func TestSearchByPoint_Radar(t *testing.T) {
	repo := triptest.NewRepo()
	departure := time.Now().Add(2 * time.Hour)
	requester := uuid.New()

	near := fixtureTrip(campusOrigin, campusDest, departure)
	near.DriverID = requester
	mid := fixtureTrip(trip.GeoPoint{Lat: campusOrigin.Lat + 0.01, Lng: campusOrigin.Lng}, campusDest, departure)
	far := fixtureTrip(trip.GeoPoint{Lat: campusOrigin.Lat + 0.02, Lng: campusOrigin.Lng}, campusDest, departure)
	repo.Put(near)
	repo.Put(mid)
	repo.Put(far)

	m := newMatcher(t, repo, Config{RadarMaxResults: 2})

	matches, err := m.SearchByPoint(context.Background(), RadarQuery{
		Point:        campusOrigin,
		RadiusMeters: 5000,
		RequesterID:  requester,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2, "results capped at the configured maximum")
	assert.Equal(t, near.ID, matches[0].Trip.ID)
	assert.True(t, matches[0].IsOwn, "own trips included and flagged by default")
	assert.Equal(t, mid.ID, matches[1].Trip.ID)
	assert.False(t, matches[1].IsOwn)
	assert.LessOrEqual(t, matches[0].DistanceKm, matches[1].DistanceKm)

	matches, err = m.SearchByPoint(context.Background(), RadarQuery{
		Point:        campusOrigin,
		RadiusMeters: 5000,
		RequesterID:  requester,
		ExcludeOwn:   true,
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, mid.ID, matches[0].Trip.ID, "own trip dropped when explicitly excluded")
}
