package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/store"
)

const notificationColumns = `id, user_id, notification_type, title, message, link, is_read, read_at, created_at`

const settingsColumns = `user_id, comment_enabled, like_enabled, mention_enabled, follow_enabled,
       reply_enabled, system_enabled, push_enabled, updated_at`

// CreateNotification creates a new notification row.
func (s *Store) CreateNotification(ctx context.Context, data store.NotificationData) (*store.Notification, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if data.UserID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, notification_type, title, message, link)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING %s
	`, s.notificationsTable(), notificationColumns)

	n, err := scanNotification(s.db.QueryRowContext(ctx, query,
		data.UserID, string(data.Type), data.Title, data.Message, data.Link,
	))
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns userID's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, userID string, opts store.ListOptions) (*store.NotificationList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	where := `user_id = $1`
	if opts.UnreadOnly {
		where += ` AND is_read = FALSE`
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.notificationsTable(), where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, userID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, notificationColumns, s.notificationsTable(), where)

	rows, err := s.db.QueryContext(ctx, query, userID, opts.Limit+1, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*store.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	hasMore := len(notifications) > opts.Limit
	if hasMore {
		notifications = notifications[:opts.Limit]
	}

	return &store.NotificationList{Notifications: notifications, Total: total, HasMore: hasMore}, nil
}

// UnreadNotificationCount returns the number of unread notifications.
func (s *Store) UnreadNotificationCount(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE user_id = $1 AND is_read = FALSE
	`, s.notificationsTable())

	var count int64
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

// MarkNotificationRead marks one notification as read. Ownership is part
// of the update predicate; zero rows affected is reported through the
// returned bool, and already-read rows match without effect.
func (s *Store) MarkNotificationRead(ctx context.Context, id string, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, store.ErrInvalidID
	}
	if userID == "" {
		return false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = TRUE, read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
	`, s.notificationsTable())

	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkAllNotificationsRead marks all unread notifications as read.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = TRUE, read_at = NOW()
		WHERE user_id = $1 AND is_read = FALSE
	`, s.notificationsTable())

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return result.RowsAffected()
}

// DeleteNotification permanently removes one notification. Ownership is
// part of the delete predicate; zero rows affected is reported through
// the returned bool.
func (s *Store) DeleteNotification(ctx context.Context, id string, userID string) (bool, error) {
	if err := s.checkConnected(); err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, store.ErrInvalidID
	}
	if userID == "" {
		return false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, s.notificationsTable())
	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, fmt.Errorf("delete notification: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// DeleteNotificationsBefore atomically deletes all notifications older
// than cutoff. Safe to call concurrently from multiple instances.
func (s *Store) DeleteNotificationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.notificationsTable())
	result, err := s.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	return result.RowsAffected()
}

// GetNotificationSettings returns userID's settings, creating an
// all-enabled row on first access. The lazy insert uses ON CONFLICT DO
// NOTHING so concurrent first access is safe.
func (s *Store) GetNotificationSettings(ctx context.Context, userID string) (*store.NotificationSettings, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	insert := fmt.Sprintf(`
		INSERT INTO %s (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING %s
	`, s.settingsTable(), settingsColumns)

	st, err := scanSettings(s.db.QueryRowContext(ctx, insert, userID))
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("create notification settings: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = $1`, settingsColumns, s.settingsTable())
	st, err = scanSettings(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("get notification settings: %w", err)
	}
	return st, nil
}

// SaveNotificationSettings upserts the given settings row.
func (s *Store) SaveNotificationSettings(ctx context.Context, settings *store.NotificationSettings) (*store.NotificationSettings, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if settings == nil || settings.UserID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (user_id, comment_enabled, like_enabled, mention_enabled,
		                follow_enabled, reply_enabled, system_enabled, push_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			comment_enabled = EXCLUDED.comment_enabled,
			like_enabled = EXCLUDED.like_enabled,
			mention_enabled = EXCLUDED.mention_enabled,
			follow_enabled = EXCLUDED.follow_enabled,
			reply_enabled = EXCLUDED.reply_enabled,
			system_enabled = EXCLUDED.system_enabled,
			push_enabled = EXCLUDED.push_enabled,
			updated_at = NOW()
		RETURNING %s
	`, s.settingsTable(), settingsColumns)

	st, err := scanSettings(s.db.QueryRowContext(ctx, query,
		settings.UserID, settings.Comment, settings.Like, settings.Mention,
		settings.Follow, settings.Reply, settings.System, settings.Push,
	))
	if err != nil {
		return nil, fmt.Errorf("save notification settings: %w", err)
	}
	return st, nil
}

func scanNotification(row rowScanner) (*store.Notification, error) {
	var (
		n      store.Notification
		nType  string
		readAt sql.NullTime
	)
	err := row.Scan(&n.ID, &n.UserID, &nType, &n.Title, &n.Message, &n.Link, &n.Read, &readAt, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = store.NotificationType(nType)
	n.CreatedAt = n.CreatedAt.UTC()
	if readAt.Valid {
		t := readAt.Time.UTC()
		n.ReadAt = &t
	}
	return &n, nil
}

func scanSettings(row rowScanner) (*store.NotificationSettings, error) {
	var st store.NotificationSettings
	err := row.Scan(&st.UserID, &st.Comment, &st.Like, &st.Mention, &st.Follow,
		&st.Reply, &st.System, &st.Push, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return &st, nil
}
