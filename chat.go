package messenger

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/messenger/store"
	"go.opentelemetry.io/otel/attribute"
)

// SendRequest describes a direct message to send.
type SendRequest struct {
	// To is the receiving user ID.
	To string

	// Content is the message text. May be empty when an attachment is
	// present.
	Content string

	// Type classifies the payload. Defaults to MessageTypeText.
	Type MessageType

	// Attachment is an optional attachment descriptor. The blob itself
	// lives in external storage; only the descriptor is recorded.
	Attachment *Attachment

	// ReplyToID optionally references an earlier message in the same
	// conversation.
	ReplyToID string
}

// ChatSender provides message sending.
type ChatSender interface {
	// SendMessage delivers a direct message to another user. The
	// conversation is created on first contact.
	SendMessage(ctx context.Context, req SendRequest) (*Message, error)
}

// ChatReader provides message and conversation retrieval.
type ChatReader interface {
	// Conversations lists the user's conversations, most recently
	// active first, with unread counts and last-message previews.
	Conversations(ctx context.Context, opts ListOptions) (*ConversationList, error)
	// ConversationWith returns the conversation with another user, or
	// ErrNotFound when the two have never exchanged messages.
	ConversationWith(ctx context.Context, otherUserID string) (*Conversation, error)
	// Messages returns a page of a conversation's messages in reading
	// order (oldest first within the page).
	Messages(ctx context.Context, conversationID string, opts ListOptions) (*MessageList, error)
	// Search finds the user's messages whose content matches the query.
	Search(ctx context.Context, query string, opts ListOptions) (*MessageList, error)
	// UnreadCount returns the number of unread messages addressed to
	// the user across all conversations.
	UnreadCount(ctx context.Context) (int64, error)
}

// ChatMutator provides read-state and deletion operations.
type ChatMutator interface {
	// MarkRead marks a single received message as read.
	// Returns ErrAlreadyRead if it was read before this call.
	MarkRead(ctx context.Context, messageID string) (*Message, error)
	// MarkConversationRead marks all received messages in a
	// conversation as read and returns how many changed state.
	MarkConversationRead(ctx context.Context, conversationID string) (int64, error)
	// DeleteMessage soft-deletes a message the user sent.
	DeleteMessage(ctx context.Context, messageID string) error
}

// Chat is a per-user client for direct messaging.
//
// Composed of:
//   - ChatSender: Sending (SendMessage)
//   - ChatReader: Retrieval (Conversations, Messages, Search, UnreadCount)
//   - ChatMutator: Read-state and deletion (MarkRead, DeleteMessage)
type Chat interface {
	ChatSender
	ChatReader
	ChatMutator

	// UserID returns the user this client acts as.
	UserID() string
}

// userChat is the default implementation of Chat.
type userChat struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

var _ Chat = (*userChat)(nil)

// UserID returns the user ID of this chat client.
func (c *userChat) UserID() string {
	return c.userID
}

// isConnected checks if the service is connected.
func (c *userChat) isConnected() bool {
	return atomic.LoadInt32(&c.service.state) == stateConnected
}

// checkAccess verifies the client is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (c *userChat) checkAccess() error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	if !c.validUserID {
		return ErrInvalidUserID
	}
	return nil
}

// validateSend checks a send request against configured limits.
func (c *userChat) validateSend(req *SendRequest) error {
	if !isValidUserID(req.To) {
		return newValidationError("to", ErrInvalidUserID, req.To)
	}
	if req.To == c.userID {
		return ErrSelfMessage
	}
	if req.Type == "" {
		req.Type = MessageTypeText
	}
	if !req.Type.Valid() {
		return newValidationError("type", ErrInvalidMessageType, string(req.Type))
	}
	if req.Content == "" && req.Attachment == nil {
		return ErrEmptyContent
	}
	if max := c.service.opts.maxContentSize; len(req.Content) > max {
		return newValidationError("content", ErrContentTooLarge,
			fmt.Sprintf("%d bytes exceeds limit of %d", len(req.Content), max))
	}
	if a := req.Attachment; a != nil {
		if a.URL == "" {
			return newValidationError("attachment.url", ErrInvalidAttachment, "missing URL")
		}
		if a.Size < 0 {
			return newValidationError("attachment.size", ErrInvalidAttachment, "negative size")
		}
		if max := c.service.opts.maxAttachmentSize; a.Size > max {
			return newValidationError("attachment.size", ErrInvalidAttachment,
				fmt.Sprintf("%d bytes exceeds limit of %d", a.Size, max))
		}
	}
	return nil
}

// SendMessage delivers a direct message to req.To.
//
// The flow is: validate, resolve the conversation (creating it on first
// contact), verify the reply target, persist the message, then advance
// the conversation's activity marker and fan out realtime and bus
// events. Persistence is the commit point: everything after it is
// best-effort and never fails the send.
func (c *userChat) SendMessage(ctx context.Context, req SendRequest) (*Message, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if err := c.validateSend(&req); err != nil {
		return nil, err
	}

	// Setup tracing
	ctx, endSpan := c.service.otel.startSpan(ctx, "messenger.send",
		attribute.String("user_id", c.userID),
		attribute.String("message_type", string(req.Type)),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		c.service.otel.recordSend(ctx, time.Since(start), sendErr)
	}()

	// Bound concurrent sends; Close waits on these slots for graceful shutdown.
	if err := c.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return nil, sendErr
	}
	defer c.service.sendSem.Release(1)

	conv, created, err := c.service.store.FindOrCreateConversation(ctx, c.userID, req.To)
	if err != nil {
		sendErr = fmt.Errorf("resolve conversation: %w", err)
		return nil, sendErr
	}
	if created {
		c.service.logger.Debug("conversation created",
			"conversation_id", conv.ID, "sender", c.userID, "receiver", req.To)
	}

	if req.ReplyToID != "" {
		if err := c.validateReplyTarget(ctx, conv.ID, req.ReplyToID); err != nil {
			sendErr = err
			return nil, sendErr
		}
	}

	msg, err := c.service.store.CreateMessage(ctx, store.MessageData{
		ConversationID: conv.ID,
		SenderID:       c.userID,
		ReceiverID:     req.To,
		Content:        req.Content,
		Type:           req.Type,
		Attachment:     req.Attachment,
		ReplyToID:      req.ReplyToID,
	})
	if err != nil {
		sendErr = fmt.Errorf("create message: %w", err)
		return nil, sendErr
	}

	// Best-effort from here on: the message is durable, a stale activity
	// marker or a missed realtime frame self-heal on the next send or
	// client refresh.
	if err := c.service.store.TouchConversation(ctx, conv.ID, msg.ID, msg.CreatedAt); err != nil {
		c.service.logger.Warn("failed to advance conversation activity",
			"error", err, "conversation_id", conv.ID)
	}

	c.service.realtime.publish(req.To, PayloadNewMessage, msg)

	if err := c.service.events.MessageSent.Publish(ctx, MessageSentEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		ReceiverID:     msg.ReceiverID,
		Type:           string(msg.Type),
		SentAt:         msg.CreatedAt,
	}); err != nil {
		c.service.opts.safeEventPublishFailure("MessageSent", err)
	}

	return msg, nil
}

// validateReplyTarget verifies the reply target lives in the same
// conversation and is visible.
func (c *userChat) validateReplyTarget(ctx context.Context, conversationID, replyToID string) error {
	target, err := c.service.store.GetMessage(ctx, replyToID)
	if err != nil {
		if store.IsNotFound(err) || store.IsInvalidID(err) {
			return newValidationError("reply_to_id", ErrInvalidReplyTo, "message not found")
		}
		return fmt.Errorf("fetch reply target: %w", err)
	}
	if target.ConversationID != conversationID {
		return newValidationError("reply_to_id", ErrInvalidReplyTo, "message belongs to another conversation")
	}
	if target.Deleted {
		return newValidationError("reply_to_id", ErrInvalidReplyTo, "message is deleted")
	}
	return nil
}

// Conversations lists the user's conversations, most recently active first.
func (c *userChat) Conversations(ctx context.Context, opts ListOptions) (*ConversationList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	opts.Limit = c.service.opts.clampLimit(opts.Limit)

	ctx, endSpan := c.service.otel.startSpan(ctx, "messenger.conversations",
		attribute.String("user_id", c.userID),
	)
	list, err := c.service.store.ListConversations(ctx, c.userID, opts)
	endSpan(err)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return list, nil
}

// ConversationWith returns the conversation with another user, if any.
func (c *userChat) ConversationWith(ctx context.Context, otherUserID string) (*Conversation, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if !isValidUserID(otherUserID) {
		return nil, newValidationError("other_user_id", ErrInvalidUserID, otherUserID)
	}

	list, err := c.service.store.ListConversations(ctx, c.userID, ListOptions{
		Limit:       1,
		Participant: otherUserID,
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(list.Conversations) == 0 {
		return nil, ErrNotFound
	}
	return list.Conversations[0].Conversation, nil
}

// Messages returns a page of conversation messages in reading order.
func (c *userChat) Messages(ctx context.Context, conversationID string, opts ListOptions) (*MessageList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	opts.Limit = c.service.opts.clampLimit(opts.Limit)

	ctx, endSpan := c.service.otel.startSpan(ctx, "messenger.messages",
		attribute.String("user_id", c.userID),
		attribute.String("conversation_id", conversationID),
	)
	start := time.Now()
	var listErr error
	var resultCount int
	defer func() {
		endSpan(listErr)
		c.service.otel.recordList(ctx, time.Since(start), resultCount, listErr)
	}()

	// Membership check doubles as existence check. Non-participants get
	// the same ErrNotFound as a missing conversation so they cannot
	// probe for conversations between other users.
	conv, err := c.service.store.GetConversation(ctx, conversationID)
	if err != nil {
		listErr = err
		return nil, listErr
	}
	if !conv.HasParticipant(c.userID) {
		listErr = ErrNotFound
		return nil, listErr
	}

	list, err := c.service.store.ListMessages(ctx, conversationID, opts)
	if err != nil {
		listErr = fmt.Errorf("list messages: %w", err)
		return nil, listErr
	}
	reverseMessages(list.Messages)
	resultCount = len(list.Messages)
	return list, nil
}

// reverseMessages flips a newest-first page into reading order.
func reverseMessages(msgs []*store.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// MarkRead marks a received message as read.
func (c *userChat) MarkRead(ctx context.Context, messageID string) (*Message, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}

	msg, err := c.service.store.MarkMessageRead(ctx, messageID, c.userID)
	if err != nil {
		return nil, err
	}

	readAt := time.Now().UTC()
	if msg.ReadAt != nil {
		readAt = *msg.ReadAt
	}

	c.service.realtime.publish(msg.SenderID, PayloadMessageRead, msg)

	if err := c.service.events.MessageRead.Publish(ctx, MessageReadEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         c.userID,
		ReadAt:         readAt,
	}); err != nil {
		c.service.opts.safeEventPublishFailure("MessageRead", err)
	}

	return msg, nil
}

// MarkConversationRead marks all received messages in the conversation as read.
func (c *userChat) MarkConversationRead(ctx context.Context, conversationID string) (int64, error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}

	conv, err := c.service.store.GetConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if !conv.HasParticipant(c.userID) {
		return 0, ErrNotFound
	}

	n, err := c.service.store.MarkConversationRead(ctx, conversationID, c.userID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		c.service.logger.Debug("conversation marked read",
			"conversation_id", conversationID, "user_id", c.userID, "count", n)
	}
	return n, nil
}

// DeleteMessage soft-deletes a message the user sent. The row is kept
// for conversation continuity but its content stops being returned.
func (c *userChat) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := c.service.otel.startSpan(ctx, "messenger.delete",
		attribute.String("user_id", c.userID),
		attribute.String("message_id", messageID),
	)
	err := c.service.store.SoftDeleteMessage(ctx, messageID, c.userID)
	endSpan(err)
	return err
}

// Search finds the user's messages whose content matches the query.
func (c *userChat) Search(ctx context.Context, query string, opts ListOptions) (*MessageList, error) {
	if err := c.checkAccess(); err != nil {
		return nil, err
	}
	if query == "" {
		return nil, ErrEmptyQuery
	}
	opts.Limit = c.service.opts.clampLimit(opts.Limit)

	ctx, endSpan := c.service.otel.startSpan(ctx, "messenger.search",
		attribute.String("user_id", c.userID),
	)
	start := time.Now()
	var searchErr error
	var resultCount int
	defer func() {
		endSpan(searchErr)
		c.service.otel.recordSearch(ctx, time.Since(start), resultCount, searchErr)
	}()

	list, err := c.service.store.SearchMessages(ctx, c.userID, query, opts)
	if err != nil {
		searchErr = fmt.Errorf("search messages: %w", err)
		return nil, searchErr
	}
	resultCount = len(list.Messages)

	// Trend recording never affects search results.
	c.service.trends.record(ctx, c.userID, query)

	return list, nil
}

// UnreadCount returns the user's unread message count across all conversations.
func (c *userChat) UnreadCount(ctx context.Context) (int64, error) {
	if err := c.checkAccess(); err != nil {
		return 0, err
	}
	n, err := c.service.store.UnreadMessageCount(ctx, c.userID)
	if err != nil {
		return 0, fmt.Errorf("unread message count: %w", err)
	}
	return n, nil
}
