package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/store"
)

// FindOrCreateConversation atomically finds or creates the conversation
// for the unordered pair. The pair index lookup and insert happen under
// one lock, mirroring a database unique constraint.
func (s *Store) FindOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if !s.isConnected() {
		return nil, false, store.ErrNotConnected
	}
	if userA == "" || userB == "" || userA == userB {
		return nil, false, store.ErrInvalidID
	}

	low, high := store.NormalizePair(userA, userB)
	key := pairKey(low, high)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.pairIdx[key]; ok {
		return cloneConversation(s.conversations[id]), false, nil
	}

	c := &store.Conversation{
		ID:              uuid.New().String(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       nowUTC(),
	}
	s.conversations[c.ID] = c
	s.pairIdx[key] = c.ID
	return cloneConversation(c), true, nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConversation(c), nil
}

// ListConversations returns the conversations userID participates in,
// most recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string, opts store.ListOptions) (*store.ConversationList, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []*store.Conversation
	for _, c := range s.conversations {
		if !c.HasParticipant(userID) {
			continue
		}
		if opts.Participant != "" && c.Other(userID) != opts.Participant {
			continue
		}
		convs = append(convs, c)
	}

	// Most recent activity first; conversations without messages sort by
	// creation time.
	activity := func(c *store.Conversation) time.Time {
		if c.LastMessageAt != nil {
			return *c.LastMessageAt
		}
		return c.CreatedAt
	}
	sort.Slice(convs, func(i, j int) bool {
		return activity(convs[i]).After(activity(convs[j]))
	})

	total := int64(len(convs))
	start, end, _ := paginate(len(convs), opts.Offset, opts.Limit)

	summaries := make([]store.ConversationSummary, 0, end-start)
	for _, c := range convs[start:end] {
		sum := store.ConversationSummary{
			Conversation: cloneConversation(c),
			OtherUserID:  c.Other(userID),
			UnreadCount:  s.unreadInConversationLocked(c.ID, userID),
		}
		if c.LastMessageID != "" {
			if m, ok := s.messages[c.LastMessageID]; ok {
				sum.LastMessage = cloneMessage(m)
			}
		}
		summaries = append(summaries, sum)
	}

	return &store.ConversationList{Conversations: summaries, Total: total}, nil
}

// TouchConversation updates the denormalized last-message pointer.
func (s *Store) TouchConversation(ctx context.Context, id string, messageID string, at time.Time) error {
	if !s.isConnected() {
		return store.ErrNotConnected
	}
	if id == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessageID = messageID
	t := at.UTC()
	c.LastMessageAt = &t
	return nil
}

// unreadInConversationLocked counts unread non-deleted messages for
// userID in one conversation. Caller holds at least a read lock.
func (s *Store) unreadInConversationLocked(conversationID, userID string) int64 {
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.ReceiverID == userID && !m.Read && !m.Deleted {
			n++
		}
	}
	return n
}
