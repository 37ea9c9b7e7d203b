package trip

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NearFilters narrows a geospatial query
type NearFilters struct {
	State    State
	DateFrom *time.Time
	DateTo   *time.Time
	MinSeats int
	// WomenOnly filters on the trip flag when set; nil means no filter
	WomenOnly *bool
}

// NearResult is a trip annotated with its distance from the query point
type NearResult struct {
	Trip       *Trip
	DistanceKm float64
}

// Repository defines the persistence surface the engine requires
type Repository interface {
	// Create persists a new trip
	Create(ctx context.Context, t *Trip) error

	// FindByID retrieves a trip by id
	FindByID(ctx context.Context, id uuid.UUID) (*Trip, error)

	// FindActiveOrInProgressByParticipant returns active and in-progress trips
	// where the user is the driver or holds a pending/confirmed rider request
	FindActiveOrInProgressByParticipant(ctx context.Context, userID uuid.UUID) ([]*Trip, error)

	// FindByState returns trips in the given state that departed before the cutoff
	FindByState(ctx context.Context, state State, departedBefore time.Time) ([]*Trip, error)

	// FindNear returns trips whose origin lies within radiusMeters of the point,
	// annotated with the distance, subject to the filters
	FindNear(ctx context.Context, point GeoPoint, radiusMeters float64, filters NearFilters) ([]NearResult, error)

	// Save persists a mutated trip. It performs a compare-and-swap on the
	// trip version and returns ErrVersionConflict on a lost race.
	Save(ctx context.Context, t *Trip) error

	// Delete removes a trip permanently
	Delete(ctx context.Context, id uuid.UUID) error
}
