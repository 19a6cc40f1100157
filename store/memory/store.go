// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/messenger/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu sync.RWMutex

	conversations map[string]*store.Conversation
	// pairIdx maps the canonical pair key "low|high" to a conversation ID.
	// It plays the role of the database unique constraint: concurrent
	// first-contact resolves to whichever entry landed first.
	pairIdx map[string]string

	messages      map[string]*store.Message
	notifications map[string]*store.Notification
	settings      map[string]*store.NotificationSettings

	// seq is the global message sequence counter.
	seq int64

	connected int32
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string]*store.Conversation),
		pairIdx:       make(map[string]string),
		messages:      make(map[string]*store.Message),
		notifications: make(map[string]*store.Notification),
		settings:      make(map[string]*store.NotificationSettings),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) isConnected() bool {
	return atomic.LoadInt32(&s.connected) == 1
}

func pairKey(low, high string) string {
	return low + "|" + high
}

func cloneConversation(c *store.Conversation) *store.Conversation {
	cp := *c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	return &cp
}

func cloneMessage(m *store.Message) *store.Message {
	cp := *m
	if m.ReadAt != nil {
		t := *m.ReadAt
		cp.ReadAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		cp.DeletedAt = &t
	}
	if m.Attachment != nil {
		a := *m.Attachment
		cp.Attachment = &a
	}
	return &cp
}

func cloneNotification(n *store.Notification) *store.Notification {
	cp := *n
	if n.ReadAt != nil {
		t := *n.ReadAt
		cp.ReadAt = &t
	}
	return &cp
}

// sortMessagesDesc orders messages newest first. Seq breaks creation
// time ties so the stored order is total.
func sortMessagesDesc(msgs []*store.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].Seq > msgs[j].Seq
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
}

func sortNotificationsDesc(ns []*store.Notification) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID > ns[j].ID
		}
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
}

// paginate applies offset/limit to a slice length and reports the window
// plus whether more rows remain past it.
func paginate(n, offset, limit int) (start, end int, hasMore bool) {
	start = offset
	if start > n {
		start = n
	}
	end = n
	if limit > 0 && start+limit < n {
		end = start + limit
	}
	return start, end, end < n
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
