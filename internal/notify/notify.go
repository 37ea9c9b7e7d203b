// Package notify adapts the trip engine's collaborator interfaces onto the
// delivery channels this process actually has: the WebSocket hub for live
// updates, and the event stream for the external payment and chat services.
// Trip state never depends on any of these calls succeeding.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/uniride/carpool/internal/domain/collab"
	"github.com/uniride/carpool/pkg/logger"
	"github.com/uniride/carpool/pkg/websocket"
)

// WSNotifier delivers engine events over the WebSocket hub. Events land on
// the trip's subscription channel and, when addressed, on the target user's
// own connections.
type WSNotifier struct {
	hub    *websocket.Hub
	logger *logger.Logger
}

// NewWSNotifier creates a hub-backed notifier
func NewWSNotifier(hub *websocket.Hub, log *logger.Logger) *WSNotifier {
	return &WSNotifier{hub: hub, logger: log}
}

// Emit implements collab.NotificationService
func (n *WSNotifier) Emit(_ context.Context, ev collab.Event) error {
	msg := websocket.Message{Type: ev.Type, Data: ev}

	n.hub.BroadcastToTrip(ev.TripID.String(), msg)
	if ev.UserID != uuid.Nil {
		n.hub.SendToUser(ev.UserID.String(), msg)
	}

	n.logger.Debug("Event emitted",
		logger.String("event", ev.Type),
		logger.String("trip_id", ev.TripID.String()),
	)
	return nil
}

// EventPayments implements collab.PaymentService by emitting refund requests
// for the external payment processor to pick up. The engine only decides WHO
// gets a refund; moving money is not its job.
type EventPayments struct {
	notifier collab.NotificationService
}

// NewEventPayments creates the event-emitting payment adapter
func NewEventPayments(notifier collab.NotificationService) *EventPayments {
	return &EventPayments{notifier: notifier}
}

// Refund implements collab.PaymentService
func (p *EventPayments) Refund(ctx context.Context, riderID, tripID uuid.UUID) error {
	return p.notifier.Emit(ctx, collab.Event{
		Type:       collab.EventRefundRequested,
		TripID:     tripID,
		UserID:     riderID,
		OccurredAt: time.Now().UTC(),
	})
}

// EventChat implements collab.ChatService by emitting membership events for
// the external chat service
type EventChat struct {
	notifier collab.NotificationService
}

// NewEventChat creates the event-emitting chat adapter
func NewEventChat(notifier collab.NotificationService) *EventChat {
	return &EventChat{notifier: notifier}
}

// CreateGroupChat implements collab.ChatService
func (c *EventChat) CreateGroupChat(ctx context.Context, tripID uuid.UUID) error {
	return c.notifier.Emit(ctx, collab.Event{
		Type:       collab.EventChatCreated,
		TripID:     tripID,
		OccurredAt: time.Now().UTC(),
	})
}

// AddParticipant implements collab.ChatService
func (c *EventChat) AddParticipant(ctx context.Context, tripID, userID uuid.UUID) error {
	return c.notifier.Emit(ctx, collab.Event{
		Type:       collab.EventChatUserAdded,
		TripID:     tripID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
}

// RemoveParticipant implements collab.ChatService
func (c *EventChat) RemoveParticipant(ctx context.Context, tripID, userID uuid.UUID) error {
	return c.notifier.Emit(ctx, collab.Event{
		Type:       collab.EventChatUserRemoved,
		TripID:     tripID,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
	})
}
