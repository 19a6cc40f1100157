// Package store provides interfaces and types for direct-message and
// notification storage. Implementations are in store/postgres and
// store/memory subpackages.
//
// # Architectural Principle: No Distributed Locks
//
// This package avoids distributed locks entirely. All concurrency
// concerns are handled through database-native atomicity:
//
//  1. Idempotency via Unique Constraints: conversations are keyed by the
//     normalized participant pair with a unique constraint. Concurrent
//     first-contact between the same two users resolves to a single row
//     via INSERT ... ON CONFLICT DO NOTHING followed by a lookup - no
//     external coordination needed.
//
//  2. Ownership via Filtered Updates: mutations that require ownership
//     (mark read, delete) encode the ownership check in the UPDATE/DELETE
//     predicate itself. Zero rows affected means not-found-or-not-yours;
//     callers never read-then-write.
//
//  3. Atomic Bulk Operations: retention sweeps and mark-all-read are
//     single statements, safe to run concurrently from multiple
//     instances - each row is affected exactly once.
package store

import (
	"context"
	"time"
)

// Store is the combined storage interface for the messaging subsystem.
//
// All operations must be safe for concurrent use. Implementations must
// use database-level atomicity rather than external locking mechanisms.
// See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	ConversationStore
	MessageStore
	NotificationStore
}

// ConversationStore provides operations for 1:1 conversations.
type ConversationStore interface {
	// FindOrCreateConversation atomically finds or creates the
	// conversation for the unordered pair (userA, userB). Both IDs must
	// be non-empty and distinct; ErrInvalidID otherwise.
	//
	// This operation MUST be atomic at the database level, e.g.
	// INSERT ... ON CONFLICT DO NOTHING followed by SELECT. Concurrent
	// calls for the same pair always converge on a single row.
	//
	// Returns:
	//   - (conv, true, nil): a new conversation was created
	//   - (conv, false, nil): the existing conversation was returned
	//   - (nil, false, error): operation failed
	FindOrCreateConversation(ctx context.Context, userA, userB string) (*Conversation, bool, error)

	// GetConversation retrieves a conversation by ID.
	// Returns ErrNotFound if it doesn't exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns the conversations userID participates in,
	// most recently active first, each with its last message and the
	// caller's unread count.
	ListConversations(ctx context.Context, userID string, opts ListOptions) (*ConversationList, error)

	// TouchConversation updates the denormalized last-message pointer.
	// Called after every successful message creation; failures here must
	// not fail the send.
	TouchConversation(ctx context.Context, id string, messageID string, at time.Time) error
}

// MessageStore provides operations for direct messages.
type MessageStore interface {
	// CreateMessage creates a new message and assigns its ID, sequence
	// number and creation time.
	CreateMessage(ctx context.Context, data MessageData) (*Message, error)

	// GetMessage retrieves a message by ID, including soft-deleted rows.
	// Returns ErrNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// ListMessages returns non-deleted messages in a conversation,
	// newest first. opts.BeforeID pages strictly older than the given
	// message.
	ListMessages(ctx context.Context, conversationID string, opts ListOptions) (*MessageList, error)

	// MarkMessageRead marks a single message as read. Only the receiver
	// may mark a message; the ownership check is part of the update
	// predicate. Returns ErrNotFound if the message doesn't exist or
	// userID is not its receiver, and ErrAlreadyRead if it was already
	// read.
	MarkMessageRead(ctx context.Context, id string, userID string) (*Message, error)

	// MarkConversationRead marks all unread messages addressed to userID
	// in the conversation as read. Returns the number of messages
	// changed; zero is not an error.
	MarkConversationRead(ctx context.Context, conversationID string, userID string) (int64, error)

	// SoftDeleteMessage soft-deletes a message. Only the sender may
	// delete; the ownership check is part of the update predicate.
	// Returns ErrNotFound if no row matched (missing, not the sender,
	// or already deleted).
	SoftDeleteMessage(ctx context.Context, id string, userID string) error

	// SearchMessages searches the text of non-deleted messages across
	// all conversations userID participates in, newest first.
	SearchMessages(ctx context.Context, userID string, query string, opts ListOptions) (*MessageList, error)

	// UnreadMessageCount returns the number of unread non-deleted
	// messages addressed to userID across all conversations.
	UnreadMessageCount(ctx context.Context, userID string) (int64, error)
}

// NotificationStore provides operations for notifications and per-user
// notification settings.
type NotificationStore interface {
	// CreateNotification creates a new notification row. It performs no
	// settings gating; callers decide whether to create at all.
	CreateNotification(ctx context.Context, data NotificationData) (*Notification, error)

	// ListNotifications returns userID's notifications, newest first.
	// opts.UnreadOnly restricts to unread rows.
	ListNotifications(ctx context.Context, userID string, opts ListOptions) (*NotificationList, error)

	// UnreadNotificationCount returns the number of unread notifications
	// for userID.
	UnreadNotificationCount(ctx context.Context, userID string) (int64, error)

	// MarkNotificationRead marks one notification as read. Ownership is
	// part of the update predicate. Returns whether a row matched; zero
	// rows (missing or not owned by userID) is reported through the bool,
	// not an error, so the caller chooses its own semantics. Marking an
	// already-read notification matches and succeeds without effect.
	MarkNotificationRead(ctx context.Context, id string, userID string) (bool, error)

	// MarkAllNotificationsRead marks all of userID's unread
	// notifications as read and returns the number changed.
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)

	// DeleteNotification permanently removes one notification. Ownership
	// is part of the delete predicate. Returns whether a row was
	// deleted; zero rows is reported through the bool, not an error.
	DeleteNotification(ctx context.Context, id string, userID string) (bool, error)

	// DeleteNotificationsBefore atomically deletes all notifications
	// older than cutoff, across all users. Safe to call concurrently
	// from multiple instances. Returns the number deleted.
	DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetNotificationSettings returns userID's settings, creating an
	// all-enabled row on first access.
	GetNotificationSettings(ctx context.Context, userID string) (*NotificationSettings, error)

	// SaveNotificationSettings upserts the given settings row.
	SaveNotificationSettings(ctx context.Context, settings *NotificationSettings) (*NotificationSettings, error)
}
