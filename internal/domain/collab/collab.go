// Package collab declares the narrow interfaces through which the trip engine
// consumes its external collaborators: account and vehicle lookups, payments,
// chat and notification delivery. The engine never reaches for process-wide
// state; every collaborator is injected at construction time.
package collab

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Gender of a user account, as reported by the account collaborator
type Gender string

const (
	GenderFemale      Gender = "female"
	GenderMale        Gender = "male"
	GenderUnspecified Gender = "unspecified"
)

// Account is the slice of a user account the engine needs
type Account struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Gender Gender    `json:"gender"`
}

// Vehicle is the slice of a vehicle record the engine needs
type Vehicle struct {
	ID      uuid.UUID `json:"id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Plate   string    `json:"plate"`
	Seats   int       `json:"seats"`
}

// UserAccountLookup resolves user accounts
type UserAccountLookup interface {
	Account(ctx context.Context, id uuid.UUID) (*Account, error)
}

// VehicleLookup resolves a vehicle owned by a given user
type VehicleLookup interface {
	Vehicle(ctx context.Context, id, ownerID uuid.UUID) (*Vehicle, error)
}

// PaymentService triggers refund processing when a rider is removed from a
// trip. Failures are logged by callers and never roll back trip state.
type PaymentService interface {
	Refund(ctx context.Context, riderID, tripID uuid.UUID) error
}

// ChatService manages the group chat attached to a trip
type ChatService interface {
	CreateGroupChat(ctx context.Context, tripID uuid.UUID) error
	AddParticipant(ctx context.Context, tripID, userID uuid.UUID) error
	RemoveParticipant(ctx context.Context, tripID, userID uuid.UUID) error
}

// Event types emitted by the engine
const (
	EventTripCreated     = "trip.created"
	EventTripStarted     = "trip.started"
	EventTripCompleted   = "trip.completed"
	EventTripCancelled   = "trip.cancelled"
	EventRiderJoined     = "trip.rider_joined"
	EventRiderConfirmed  = "trip.rider_confirmed"
	EventRiderRejected   = "trip.rider_rejected"
	EventRiderRemoved    = "trip.rider_removed"
	EventRefundRequested = "payment.refund_requested"

	EventChatCreated     = "chat.group_created"
	EventChatUserAdded   = "chat.participant_added"
	EventChatUserRemoved = "chat.participant_removed"
)

// Event is a state-change notification emitted for downstream collaborators
type Event struct {
	Type       string         `json:"type"`
	TripID     uuid.UUID      `json:"trip_id"`
	UserID     uuid.UUID      `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// NotificationService delivers emitted events. Delivery is best effort;
// a failed emit must not corrupt trip state.
type NotificationService interface {
	Emit(ctx context.Context, ev Event) error
}
