package messenger

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for messenger events.
const (
	EventNameMessageSent         = "messenger.message.sent"
	EventNameMessageRead         = "messenger.message.read"
	EventNameNotificationCreated = "messenger.notification.created"
)

// MessageSentEvent is published when a direct message is stored.
// This is the primary event for notifying receivers of new messages.
type MessageSentEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Type           string    `json:"type"`
	SentAt         time.Time `json:"sent_at"`
}

// MessageReadEvent is published when a message is marked as read.
// Use this for read receipts.
type MessageReadEvent struct {
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	ReadAt         time.Time `json:"read_at"`
}

// NotificationCreatedEvent is published when a notification row is
// created for a user.
type NotificationCreatedEvent struct {
	NotificationID string    `json:"notification_id"`
	UserID         string    `json:"user_id"`
	Type           string    `json:"type"`
	CreatedAt      time.Time `json:"created_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MessageSent.Subscribe(ctx, handler)
//	svc.Events().MessageRead.Subscribe(ctx, handler)
//	svc.Events().NotificationCreated.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MessageSent is published when a direct message is stored.
	MessageSent event.Event[MessageSentEvent]

	// MessageRead is published when a message is marked as read.
	MessageRead event.Event[MessageReadEvent]

	// NotificationCreated is published when a notification is created.
	NotificationCreated event.Event[NotificationCreatedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MessageSent:         event.New[MessageSentEvent](namePrefix + "." + EventNameMessageSent),
		MessageRead:         event.New[MessageReadEvent](namePrefix + "." + EventNameMessageRead),
		NotificationCreated: event.New[NotificationCreatedEvent](namePrefix + "." + EventNameNotificationCreated),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MessageSent); err != nil {
		return fmt.Errorf("register MessageSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MessageRead); err != nil {
		return fmt.Errorf("register MessageRead: %w", err)
	}
	if err := event.Register(ctx, bus, events.NotificationCreated); err != nil {
		return fmt.Errorf("register NotificationCreated: %w", err)
	}
	return nil
}
