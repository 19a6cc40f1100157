package store

import "time"

// MessageType classifies the payload of a direct message.
type MessageType string

// Supported message types.
const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
	MessageTypeVideo MessageType = "video"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVideo:
		return true
	}
	return false
}

// NotificationType classifies what triggered a notification.
type NotificationType string

// Supported notification types.
const (
	NotificationComment NotificationType = "comment"
	NotificationLike    NotificationType = "like"
	NotificationMention NotificationType = "mention"
	NotificationFollow  NotificationType = "follow"
	NotificationReply   NotificationType = "reply"
	NotificationSystem  NotificationType = "system"
)

// Valid reports whether t is one of the supported notification types.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationComment, NotificationLike, NotificationMention,
		NotificationFollow, NotificationReply, NotificationSystem:
		return true
	}
	return false
}

// NormalizePair returns the unordered pair (a, b) in canonical order:
// the smaller user ID first. Every conversation between two users is
// stored under exactly one canonical pair regardless of who initiated.
func NormalizePair(a, b string) (low, high string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// Conversation is the canonical 1:1 conversation record for a pair of
// participants. Conversations are created lazily on first contact and
// never deleted; soft deletion happens at the message level only.
type Conversation struct {
	ID string

	// ParticipantLow and ParticipantHigh hold the normalized pair:
	// ParticipantLow is always the smaller user ID.
	ParticipantLow  string
	ParticipantHigh string

	// LastMessageID and LastMessageAt are denormalized pointers to the
	// most recent message, maintained best-effort for cheap list sorting.
	LastMessageID string
	LastMessageAt *time.Time

	CreatedAt time.Time
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantLow || userID == c.ParticipantHigh
}

// Other returns the participant that is not userID.
// Returns an empty string if userID is not a participant.
func (c *Conversation) Other(userID string) string {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh
	case c.ParticipantHigh:
		return c.ParticipantLow
	}
	return ""
}

// Attachment describes a file attached to a message. The blob itself
// lives outside this module; only the descriptor is stored.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Message is a direct message within a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	ReceiverID     string

	Content    string
	Type       MessageType
	Attachment *Attachment

	// ReplyToID references another message in the same conversation.
	ReplyToID string

	Read   bool
	ReadAt *time.Time

	// Soft-delete state. Deleted messages are excluded from list, search
	// and unread counts but remain resolvable as reply targets.
	Deleted   bool
	DeletedBy string
	DeletedAt *time.Time

	// Seq is the server-assigned ordering key within the store. Messages
	// in a conversation are ordered by (CreatedAt, Seq); client-supplied
	// timestamps never reorder the stored sequence.
	Seq int64

	CreatedAt time.Time
}

// MessageData contains the fields needed to create a message.
type MessageData struct {
	ConversationID string
	SenderID       string
	ReceiverID     string
	Content        string
	Type           MessageType
	Attachment     *Attachment
	ReplyToID      string
}

// Notification is a per-user notification row.
type Notification struct {
	ID     string
	UserID string
	Type   NotificationType

	Title   string
	Message string
	Link    string

	Read   bool
	ReadAt *time.Time

	CreatedAt time.Time
}

// NotificationData contains the fields needed to create a notification.
type NotificationData struct {
	UserID  string
	Type    NotificationType
	Title   string
	Message string
	Link    string
}

// NotificationSettings holds a user's per-type notification toggles plus
// the global push toggle. A row is created lazily with all types enabled
// on first access.
type NotificationSettings struct {
	UserID string

	Comment bool
	Like    bool
	Mention bool
	Follow  bool
	Reply   bool
	System  bool

	// Push is the global push-delivery toggle. It gates realtime
	// delivery, not row creation.
	Push bool

	UpdatedAt time.Time
}

// DefaultNotificationSettings returns all-enabled defaults for a user.
func DefaultNotificationSettings(userID string) *NotificationSettings {
	return &NotificationSettings{
		UserID:  userID,
		Comment: true,
		Like:    true,
		Mention: true,
		Follow:  true,
		Reply:   true,
		System:  true,
		Push:    true,
	}
}

// Enabled reports whether notifications of type t are enabled.
// Unknown types are treated as disabled.
func (s *NotificationSettings) Enabled(t NotificationType) bool {
	switch t {
	case NotificationComment:
		return s.Comment
	case NotificationLike:
		return s.Like
	case NotificationMention:
		return s.Mention
	case NotificationFollow:
		return s.Follow
	case NotificationReply:
		return s.Reply
	case NotificationSystem:
		return s.System
	}
	return false
}

// ListOptions controls pagination for list operations.
type ListOptions struct {
	// Limit is the maximum number of rows to return. Implementations
	// apply a default when zero.
	Limit int

	// Offset is the number of rows to skip (offset pagination).
	Offset int

	// BeforeID, when set, returns rows strictly older than the
	// referenced row (cursor pagination for infinite scroll).
	// Takes precedence over Offset.
	BeforeID string

	// UnreadOnly restricts notification listings to unread rows.
	UnreadOnly bool

	// Participant, when set, restricts conversation listings to
	// conversations whose other participant matches this ID.
	Participant string
}

// ConversationSummary is one entry in a user's conversation listing.
type ConversationSummary struct {
	Conversation *Conversation

	// OtherUserID is the participant that is not the requesting user.
	OtherUserID string

	// LastMessage is the most recent message, if any.
	LastMessage *Message

	// UnreadCount is the number of unread, non-deleted messages
	// addressed to the requesting user in this conversation.
	UnreadCount int64
}

// ConversationList is a page of conversation summaries.
type ConversationList struct {
	Conversations []ConversationSummary
	Total         int64
}

// MessageList is a page of messages.
type MessageList struct {
	// Messages are ordered newest-first as fetched from the store.
	// The facade reverses pages into reading order before returning
	// them to callers.
	Messages []*Message
	Total    int64
	HasMore  bool
}

// NotificationList is a page of notifications, newest first.
type NotificationList struct {
	Notifications []*Notification
	Total         int64
	HasMore       bool
}
