// Package triptest provides an in-memory trip.Repository for service tests.
package triptest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uniride/carpool/internal/domain/trip"
	"github.com/uniride/carpool/internal/service/geomath"
)

// Repo is an in-memory trip store. It honours the version compare-and-swap
// contract of the real store so concurrency paths can be exercised.
type Repo struct {
	mu    sync.Mutex
	trips map[uuid.UUID]*trip.Trip

	// SaveErr, when set, is returned by Save for the given trip ids.
	SaveErr map[uuid.UUID]error

	// SaveErrOnce, when set, is returned by the next Save for the given trip
	// id and then cleared. Used to exercise retry paths.
	SaveErrOnce map[uuid.UUID]error

	// CreateErrAt, when positive, makes the nth Create call (1-based) return
	// CreateErr. Used to exercise multi-leg rollback.
	CreateErrAt int
	CreateErr   error
	createCalls int
}

// NewRepo returns an empty in-memory repository
func NewRepo() *Repo {
	return &Repo{
		trips:       make(map[uuid.UUID]*trip.Trip),
		SaveErr:     make(map[uuid.UUID]error),
		SaveErrOnce: make(map[uuid.UUID]error),
	}
}

// Put stores a trip directly, bypassing version checks (test seeding)
func (r *Repo) Put(t *trip.Trip) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := clone(t)
	r.trips[cp.ID] = cp
}

func (r *Repo) Create(_ context.Context, t *trip.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.createCalls++
	if r.CreateErrAt > 0 && r.createCalls == r.CreateErrAt && r.CreateErr != nil {
		return r.CreateErr
	}
	t.Version = 1
	r.trips[t.ID] = clone(t)
	return nil
}

// Len reports how many trips the store holds
func (r *Repo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trips)
}

func (r *Repo) FindByID(_ context.Context, id uuid.UUID) (*trip.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trips[id]
	if !ok {
		return nil, trip.ErrNotFound
	}
	return clone(t), nil
}

func (r *Repo) FindActiveOrInProgressByParticipant(_ context.Context, userID uuid.UUID) ([]*trip.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trip.Trip
	for _, t := range r.trips {
		if t.State != trip.StateActive && t.State != trip.StateInProgress {
			continue
		}
		if t.IsParticipant(userID) {
			out = append(out, clone(t))
		}
	}
	return out, nil
}

func (r *Repo) FindByState(_ context.Context, state trip.State, departedBefore time.Time) ([]*trip.Trip, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*trip.Trip
	for _, t := range r.trips {
		if t.State == state && t.DepartureTime.Before(departedBefore) {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	return out, nil
}

func (r *Repo) FindNear(_ context.Context, point trip.GeoPoint, radiusMeters float64, filters trip.NearFilters) ([]trip.NearResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []trip.NearResult
	for _, t := range r.trips {
		if filters.State != "" && t.State != filters.State {
			continue
		}
		if filters.DateFrom != nil && t.DepartureTime.Before(*filters.DateFrom) {
			continue
		}
		if filters.DateTo != nil && t.DepartureTime.After(*filters.DateTo) {
			continue
		}
		if filters.MinSeats > 0 && t.AvailableSeats() < filters.MinSeats {
			continue
		}
		if filters.WomenOnly != nil && t.WomenOnly != *filters.WomenOnly {
			continue
		}
		d := geomath.HaversineKm(point, t.Origin.Location)
		if d*1000 > radiusMeters {
			continue
		}
		out = append(out, trip.NearResult{Trip: clone(t), DistanceKm: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (r *Repo) Save(_ context.Context, t *trip.Trip) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.SaveErr[t.ID]; ok && err != nil {
		return err
	}
	if err, ok := r.SaveErrOnce[t.ID]; ok && err != nil {
		delete(r.SaveErrOnce, t.ID)
		return err
	}
	stored, ok := r.trips[t.ID]
	if !ok {
		return trip.ErrNotFound
	}
	if stored.Version != t.Version {
		return trip.ErrVersionConflict
	}
	t.Version++
	t.UpdatedAt = time.Now().UTC()
	r.trips[t.ID] = clone(t)
	return nil
}

func (r *Repo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.trips[id]; !ok {
		return trip.ErrNotFound
	}
	delete(r.trips, id)
	return nil
}

func clone(t *trip.Trip) *trip.Trip {
	cp := *t
	cp.Riders = append([]trip.RiderRequest(nil), t.Riders...)
	if t.ReturnTime != nil {
		rt := *t.ReturnTime
		cp.ReturnTime = &rt
	}
	if t.CompletedAt != nil {
		ca := *t.CompletedAt
		cp.CompletedAt = &ca
	}
	return &cp
}
