package trip

import (
	"time"

	"github.com/google/uuid"
)

// State represents the lifecycle state of a trip
type State string

const (
	StateActive     State = "active"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

// IsValid validates the state
func (s State) IsValid() bool {
	switch s {
	case StateActive, StateInProgress, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// RiderStatus represents the status of a rider's join request
type RiderStatus string

const (
	RiderPending   RiderStatus = "pending"
	RiderConfirmed RiderStatus = "confirmed"
	RiderRejected  RiderStatus = "rejected"
)

// GeoPoint is a WGS84 coordinate pair in decimal degrees
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// IsValid validates coordinate ranges
func (p GeoPoint) IsValid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Endpoint is a named trip origin or destination. Immutable once the trip exists.
type Endpoint struct {
	DisplayName string   `json:"display_name"`
	Location    GeoPoint `json:"location"`
}

// RiderRequest is a rider's request to join a trip
type RiderRequest struct {
	RiderID        uuid.UUID   `json:"rider_id"`
	Status         RiderStatus `json:"status"`
	RequestedSeats int         `json:"requested_seats"`
	RequestedAt    time.Time   `json:"requested_at"`
}

// Trip represents one scheduled ride with a driver, a route and zero or more riders.
// A round trip is modelled as two independent Trip aggregates.
type Trip struct {
	ID            uuid.UUID      `json:"id"`
	DriverID      uuid.UUID      `json:"driver_id"`
	VehicleID     uuid.UUID      `json:"vehicle_id"`
	Origin        Endpoint       `json:"origin"`
	Destination   Endpoint       `json:"destination"`
	DepartureTime time.Time      `json:"departure_time"`
	ReturnTime    *time.Time     `json:"return_time,omitempty"`
	RoundTrip     bool           `json:"round_trip"`
	MaxSeats      int            `json:"max_seats"`
	WomenOnly     bool           `json:"women_only"`
	Price         float64        `json:"price"`
	RouteKm       float64        `json:"route_km"`
	Riders        []RiderRequest `json:"riders"`
	State         State          `json:"state"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`

	// Version backs optimistic concurrency in the store; rider-list and
	// state mutations on the same trip are serialized through it.
	Version int `json:"-"`
}

// ConfirmedSeats returns the number of seats taken by confirmed riders
func (t *Trip) ConfirmedSeats() int {
	n := 0
	for _, r := range t.Riders {
		if r.Status == RiderConfirmed {
			n += r.RequestedSeats
		}
	}
	return n
}

// ConfirmedRiders returns the riders with a confirmed request
func (t *Trip) ConfirmedRiders() []RiderRequest {
	var out []RiderRequest
	for _, r := range t.Riders {
		if r.Status == RiderConfirmed {
			out = append(out, r)
		}
	}
	return out
}

// AvailableSeats is derived from the rider list, never stored on its own
func (t *Trip) AvailableSeats() int {
	free := t.MaxSeats - t.ConfirmedSeats()
	if free < 0 {
		return 0
	}
	return free
}

// Rider returns the join request for the given rider, or nil
func (t *Trip) Rider(riderID uuid.UUID) *RiderRequest {
	for i := range t.Riders {
		if t.Riders[i].RiderID == riderID {
			return &t.Riders[i]
		}
	}
	return nil
}

// RemoveRider deletes the rider's request from the trip. It reports whether
// a request existed and, if so, whether it was confirmed.
func (t *Trip) RemoveRider(riderID uuid.UUID) (removed, wasConfirmed bool) {
	for i := range t.Riders {
		if t.Riders[i].RiderID == riderID {
			wasConfirmed = t.Riders[i].Status == RiderConfirmed
			t.Riders = append(t.Riders[:i], t.Riders[i+1:]...)
			return true, wasConfirmed
		}
	}
	return false, false
}

// HasPendingRequests reports whether any join request is still unresolved
func (t *Trip) HasPendingRequests() bool {
	for _, r := range t.Riders {
		if r.Status == RiderPending {
			return true
		}
	}
	return false
}

// IsParticipant reports whether the user is the driver or holds a
// pending/confirmed rider request
func (t *Trip) IsParticipant(userID uuid.UUID) bool {
	if t.DriverID == userID {
		return true
	}
	r := t.Rider(userID)
	return r != nil && (r.Status == RiderPending || r.Status == RiderConfirmed)
}

// IsConfirmedParticipant reports whether the user is the driver or a confirmed rider
func (t *Trip) IsConfirmedParticipant(userID uuid.UUID) bool {
	if t.DriverID == userID {
		return true
	}
	r := t.Rider(userID)
	return r != nil && r.Status == RiderConfirmed
}
