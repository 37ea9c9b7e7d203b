package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/domain/trip"
)

// EndpointPayload is one trip endpoint in requests and responses
type EndpointPayload struct {
	DisplayName string  `json:"display_name" binding:"required"`
	Lat         float64 `json:"lat" binding:"required"`
	Lng         float64 `json:"lng" binding:"required"`
}

// CreateTripRequest represents a request to publish a trip
type CreateTripRequest struct {
	VehicleID     string          `json:"vehicle_id" binding:"required,uuid"`
	Origin        EndpointPayload `json:"origin" binding:"required"`
	Destination   EndpointPayload `json:"destination" binding:"required"`
	DepartureTime time.Time       `json:"departure_time" binding:"required"`
	ReturnTime    *time.Time      `json:"return_time,omitempty"`
	RoundTrip     bool            `json:"round_trip"`
	MaxSeats      int             `json:"max_seats" binding:"required,min=1"`
	WomenOnly     bool            `json:"women_only"`
	Price         float64         `json:"price"`
}

// JoinTripRequest represents a rider asking to join a trip
type JoinTripRequest struct {
	Seats int `json:"seats" binding:"required,min=1"`
}

// JoinTripWithPaymentRequest carries the payment hold made when joining
type JoinTripWithPaymentRequest struct {
	Seats      int    `json:"seats" binding:"required,min=1"`
	PaymentRef string `json:"payment_ref" binding:"required"`
}

// ChangeStateRequest represents an explicit trip state change
type ChangeStateRequest struct {
	State string `json:"state" binding:"required"`
}

// SearchTripsRequest are the query parameters of a route search. The window
// is either a single day (date) or an explicit range (date_from/date_to).
type SearchTripsRequest struct {
	OriginLat      float64 `form:"origin_lat" binding:"required"`
	OriginLng      float64 `form:"origin_lng" binding:"required"`
	DestinationLat float64 `form:"destination_lat" binding:"required"`
	DestinationLng float64 `form:"destination_lng" binding:"required"`
	Date           string  `form:"date"`
	DateFrom       string  `form:"date_from"`
	DateTo         string  `form:"date_to"`
	Seats          int     `form:"seats"`
	WomenOnly      bool    `form:"women_only"`
	RadiusKm       float64 `form:"radius_km"`
	ExcludeOwn     bool    `form:"exclude_own"`
}

// RadarRequest is the body of a point proximity search
type RadarRequest struct {
	Lat        float64 `json:"lat" binding:"required"`
	Lng        float64 `json:"lng" binding:"required"`
	RadiusKm   float64 `json:"radius_km" binding:"required,gt=0"`
	Date       string  `json:"date"`
	ExcludeOwn bool    `json:"exclude_own"`
}

// RiderPayload is one join request in a trip response
type RiderPayload struct {
	RiderID        uuid.UUID `json:"rider_id"`
	Status         string    `json:"status"`
	RequestedSeats int       `json:"requested_seats"`
	RequestedAt    time.Time `json:"requested_at"`
}

// TripResponse is the API shape of a trip
type TripResponse struct {
	ID             uuid.UUID       `json:"id"`
	DriverID       uuid.UUID       `json:"driver_id"`
	VehicleID      uuid.UUID       `json:"vehicle_id"`
	Origin         EndpointPayload `json:"origin"`
	Destination    EndpointPayload `json:"destination"`
	DepartureTime  time.Time       `json:"departure_time"`
	ReturnTime     *time.Time      `json:"return_time,omitempty"`
	RoundTrip      bool            `json:"round_trip"`
	MaxSeats       int             `json:"max_seats"`
	AvailableSeats int             `json:"available_seats"`
	WomenOnly      bool            `json:"women_only"`
	Price          float64         `json:"price"`
	RouteKm        float64         `json:"route_km"`
	State          string          `json:"state"`
	Riders         []RiderPayload  `json:"riders"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// NewTripResponse converts the aggregate to its API shape
func NewTripResponse(t *trip.Trip) TripResponse {
	riders := make([]RiderPayload, 0, len(t.Riders))
	for _, r := range t.Riders {
		riders = append(riders, RiderPayload{
			RiderID:        r.RiderID,
			Status:         string(r.Status),
			RequestedSeats: r.RequestedSeats,
			RequestedAt:    r.RequestedAt,
		})
	}
	return TripResponse{
		ID:        t.ID,
		DriverID:  t.DriverID,
		VehicleID: t.VehicleID,
		Origin: EndpointPayload{
			DisplayName: t.Origin.DisplayName,
			Lat:         t.Origin.Location.Lat,
			Lng:         t.Origin.Location.Lng,
		},
		Destination: EndpointPayload{
			DisplayName: t.Destination.DisplayName,
			Lat:         t.Destination.Location.Lat,
			Lng:         t.Destination.Location.Lng,
		},
		DepartureTime:  t.DepartureTime,
		ReturnTime:     t.ReturnTime,
		RoundTrip:      t.RoundTrip,
		MaxSeats:       t.MaxSeats,
		AvailableSeats: t.AvailableSeats(),
		WomenOnly:      t.WomenOnly,
		Price:          t.Price,
		RouteKm:        t.RouteKm,
		State:          string(t.State),
		Riders:         riders,
		CreatedAt:      t.CreatedAt,
		CompletedAt:    t.CompletedAt,
	}
}

// NewTripResponses converts a list of trips
func NewTripResponses(trips []*trip.Trip) []TripResponse {
	out := make([]TripResponse, 0, len(trips))
	for _, t := range trips {
		out = append(out, NewTripResponse(t))
	}
	return out
}

// ErrorResponse is the API error envelope
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
