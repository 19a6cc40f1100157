package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/store"
)

// CreateNotification creates a new notification row.
func (s *Store) CreateNotification(ctx context.Context, data store.NotificationData) (*store.Notification, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if data.UserID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := &store.Notification{
		ID:        uuid.New().String(),
		UserID:    data.UserID,
		Type:      data.Type,
		Title:     data.Title,
		Message:   data.Message,
		Link:      data.Link,
		CreatedAt: nowUTC(),
	}
	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

// ListNotifications returns userID's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, opts store.ListOptions) (*store.NotificationList, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*store.Notification
	for _, n := range s.notifications {
		if n.UserID != userID {
			continue
		}
		if opts.UnreadOnly && n.Read {
			continue
		}
		all = append(all, n)
	}
	sortNotificationsDesc(all)

	total := int64(len(all))
	start, end, hasMore := paginate(len(all), opts.Offset, opts.Limit)

	out := make([]*store.Notification, 0, end-start)
	for _, n := range all[start:end] {
		out = append(out, cloneNotification(n))
	}
	return &store.NotificationList{Notifications: out, Total: total, HasMore: hasMore}, nil
}

// UnreadNotificationCount returns the number of unread notifications.
func (s *Store) UnreadNotificationCount(ctx context.Context, userID string) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, ntf := range s.notifications {
		if ntf.UserID == userID && !ntf.Read {
			n++
		}
	}
	return n, nil
}

// MarkNotificationRead marks one notification as read. Rows that are
// missing or owned by someone else report matched=false. Already-read
// rows match without effect.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, userID string) (bool, error) {
	if !s.isConnected() {
		return false, store.ErrNotConnected
	}
	if id == "" || userID == "" {
		return false, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if !n.Read {
		n.Read = true
		t := nowUTC()
		n.ReadAt = &t
	}
	return true, nil
}

// MarkAllNotificationsRead marks all unread notifications as read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	t := nowUTC()
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			readAt := t
			n.ReadAt = &readAt
			changed++
		}
	}
	return changed, nil
}

// DeleteNotification permanently removes one notification. Rows that
// are missing or owned by someone else report deleted=false.
func (s *Store) DeleteNotification(ctx context.Context, id string, userID string) (bool, error) {
	if !s.isConnected() {
		return false, store.ErrNotConnected
	}
	if id == "" || userID == "" {
		return false, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	delete(s.notifications, id)
	return true, nil
}

// DeleteNotificationsBefore deletes all notifications older than cutoff.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if !s.isConnected() {
		return 0, store.ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, n := range s.notifications {
		if n.CreatedAt.Before(cutoff) {
			delete(s.notifications, id)
			deleted++
		}
	}
	return deleted, nil
}

// GetNotificationSettings returns userID's settings, creating an
// all-enabled row on first access.
func (s *Store) GetNotificationSettings(ctx context.Context, userID string) (*store.NotificationSettings, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings[userID]
	if !ok {
		st = store.DefaultNotificationSettings(userID)
		st.UpdatedAt = nowUTC()
		s.settings[userID] = st
	}
	cp := *st
	return &cp, nil
}

// SaveNotificationSettings upserts the given settings row.
func (s *Store) SaveNotificationSettings(ctx context.Context, settings *store.NotificationSettings) (*store.NotificationSettings, error) {
	if !s.isConnected() {
		return nil, store.ErrNotConnected
	}
	if settings == nil || settings.UserID == "" {
		return nil, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *settings
	cp.UpdatedAt = nowUTC()
	s.settings[cp.UserID] = &cp
	out := cp
	return &out, nil
}
