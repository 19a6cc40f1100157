package memory

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/store"
)

// CreateMessage creates a new message and assigns its ID, sequence
// number and creation time.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (*store.Message, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if data.ConversationID == "" || data.SenderID == "" || data.ReceiverID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[data.ConversationID]; !ok {
		return nil, store.ErrNotFound
	}

	s.seq++
	m := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: data.ConversationID,
		SenderID:       data.SenderID,
		ReceiverID:     data.ReceiverID,
		Content:        data.Content,
		Type:           data.Type,
		ReplyToID:      data.ReplyToID,
		Seq:            s.seq,
		CreatedAt:      nowUTC(),
	}
	if data.Attachment != nil {
		a := *data.Attachment
		m.Attachment = &a
	}
	s.messages[m.ID] = m
	return cloneMessage(m), nil
}

// GetMessage retrieves a message by ID, including soft-deleted rows.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messages[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneMessage(m), nil
}

// ListMessages returns non-deleted messages in a conversation, newest first.
func (s *Store) ListMessages(ctx context.Context, conversationID string, opts store.ListOptions) (*store.MessageList, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if conversationID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// Cursor pagination: everything strictly older than the BeforeID row.
	var beforeSeq int64
	if opts.BeforeID != "" {
		b, ok := s.messages[opts.BeforeID]
		if !ok || b.ConversationID != conversationID {
			return nil, store.ErrNotFound
		}
		beforeSeq = b.Seq
	}

	var all []*store.Message
	for _, m := range s.messages {
		if m.ConversationID != conversationID || m.Deleted {
			continue
		}
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		all = append(all, m)
	}
	sortMessagesDesc(all)

	total := int64(len(all))
	offset := opts.Offset
	if opts.BeforeID != "" {
		offset = 0
	}
	start, end, hasMore := paginate(len(all), offset, opts.Limit)

	out := make([]*store.Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, cloneMessage(m))
	}
	return &store.MessageList{Messages: out, Total: total, HasMore: hasMore}, nil
}

// MarkMessageRead marks a single message as read. Only the receiver may
// mark; anything else reports not found.
func (s *Store) MarkMessageRead(ctx context.Context, id string, userID string) (*store.Message, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" || userID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.ReceiverID != userID || m.Deleted {
		return nil, store.ErrNotFound
	}
	if m.Read {
		return nil, store.ErrAlreadyRead
	}
	m.Read = true
	t := nowUTC()
	m.ReadAt = &t
	return cloneMessage(m), nil
}

// MarkConversationRead marks all unread messages addressed to userID in
// the conversation as read. Zero changed rows is not an error.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, userID string) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if conversationID == "" || userID == "" {
		return 0, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	t := nowUTC()
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.ReceiverID == userID && !m.Read && !m.Deleted {
			m.Read = true
			readAt := t
			m.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}

// SoftDeleteMessage soft-deletes a message. Only the sender may delete.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, userID string) error {
	if !s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" || userID == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.messages[id]
	if !ok || m.SenderID != userID || m.Deleted {
		return store.ErrNotFound
	}
	m.Deleted = true
	m.DeletedBy = userID
	t := nowUTC()
	m.DeletedAt = &t
	return nil
}

// SearchMessages searches the text of non-deleted messages across all
// conversations userID participates in, newest first.
func (s *Store) SearchMessages(ctx context.Context, userID string, query string, opts store.ListOptions) (*store.MessageList, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	term := strings.ToLower(query)
	var all []*store.Message
	for _, m := range s.messages {
		if m.Deleted {
			continue
		}
		c, ok := s.conversations[m.ConversationID]
		if !ok || !c.HasParticipant(userID) {
			continue
		}
		if term != "" && !strings.Contains(strings.ToLower(m.Content), term) {
			continue
		}
		all = append(all, m)
	}
	sortMessagesDesc(all)

	total := int64(len(all))
	start, end, hasMore := paginate(len(all), opts.Offset, opts.Limit)

	out := make([]*store.Message, 0, end-start)
	for _, m := range all[start:end] {
		out = append(out, cloneMessage(m))
	}
	return &store.MessageList{Messages: out, Total: total, HasMore: hasMore}, nil
}

// UnreadMessageCount returns the number of unread non-deleted messages
// addressed to userID across all conversations.
func (s *Store) UnreadMessageCount(ctx context.Context, userID string) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, m := range s.messages {
		if m.ReceiverID == userID && !m.Read && !m.Deleted {
			n++
		}
	}
	return n, nil
}
