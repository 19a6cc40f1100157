package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rbaliyan/messenger/store"
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, message_type,
       attachment, reply_to_id, is_read, read_at, is_deleted, deleted_by, deleted_at, seq, created_at`

// CreateMessage creates a new message. The database assigns the ID,
// sequence number and creation time.
func (s *Store) CreateMessage(ctx context.Context, data store.MessageData) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(data.ConversationID); err != nil {
		return nil, store.ErrInvalidID
	}
	if data.SenderID == "" || data.ReceiverID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	attachment, err := marshalAttachment(data.Attachment)
	if err != nil {
		return nil, fmt.Errorf("marshal attachment: %w", err)
	}

	var replyTo any
	if data.ReplyToID != "" {
		replyTo = data.ReplyToID
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (conversation_id, sender_id, receiver_id, content, message_type, attachment, reply_to_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING %s
	`, s.messagesTable(), messageColumns)

	m, err := scanMessage(s.db.QueryRowContext(ctx, query,
		data.ConversationID, data.SenderID, data.ReceiverID,
		data.Content, string(data.Type), attachment, replyTo,
	))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return m, nil
}

// GetMessage retrieves a message by ID, including soft-deleted rows.
func (s *Store) GetMessage(ctx context.Context, id string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, messageColumns, s.messagesTable())

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListMessages returns non-deleted messages in a conversation, newest
// first. BeforeID pages by sequence number, which is stable under
// clock skew.
func (s *Store) ListMessages(ctx context.Context, conversationID string, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	countQuery := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE conversation_id = $1 AND is_deleted = FALSE
	`, s.messagesTable())
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, conversationID).Scan(&total); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	where := `conversation_id = $1 AND is_deleted = FALSE`
	args := []any{conversationID}
	offset := opts.Offset

	if opts.BeforeID != "" {
		if _, err := uuid.Parse(opts.BeforeID); err != nil {
			return nil, store.ErrInvalidID
		}
		seqQuery := fmt.Sprintf(`SELECT seq FROM %s WHERE id = $1 AND conversation_id = $2`, s.messagesTable())
		var beforeSeq int64
		if err := s.db.QueryRowContext(ctx, seqQuery, opts.BeforeID, conversationID).Scan(&beforeSeq); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			return nil, fmt.Errorf("resolve cursor: %w", err)
		}
		where += ` AND seq < $2`
		args = append(args, beforeSeq)
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY created_at DESC, seq DESC
		LIMIT $%d OFFSET $%d
	`, messageColumns, s.messagesTable(), where, len(args)+1, len(args)+2)
	args = append(args, opts.Limit+1, offset)

	messages, err := s.queryMessages(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > opts.Limit
	if hasMore {
		messages = messages[:opts.Limit]
	}

	return &store.MessageList{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// MarkMessageRead marks a single message as read. The receiver check is
// part of the update predicate; a second query disambiguates not-found
// from already-read.
func (s *Store) MarkMessageRead(ctx context.Context, id string, userID string) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	update := fmt.Sprintf(`
		UPDATE %s SET is_read = TRUE, read_at = NOW()
		WHERE id = $1 AND receiver_id = $2 AND is_read = FALSE AND is_deleted = FALSE
		RETURNING %s
	`, s.messagesTable(), messageColumns)

	m, err := scanMessage(s.db.QueryRowContext(ctx, update, id, userID))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mark message read: %w", err)
	}

	// Zero rows: either the row isn't this user's unread message, or it
	// was already read.
	check := fmt.Sprintf(`
		SELECT is_read FROM %s WHERE id = $1 AND receiver_id = $2 AND is_deleted = FALSE
	`, s.messagesTable())
	var isRead bool
	if err := s.db.QueryRowContext(ctx, check, id, userID).Scan(&isRead); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mark message read: %w", err)
	}
	if isRead {
		return nil, store.ErrAlreadyRead
	}
	return nil, store.ErrNotFound
}

// MarkConversationRead marks all unread messages addressed to userID in
// the conversation as read.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if _, err := uuid.Parse(conversationID); err != nil {
		return 0, store.ErrInvalidID
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET is_read = TRUE, read_at = NOW()
		WHERE conversation_id = $1 AND receiver_id = $2 AND is_read = FALSE AND is_deleted = FALSE
	`, s.messagesTable())

	result, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return result.RowsAffected()
}

// SoftDeleteMessage soft-deletes a message. The sender check is part of
// the update predicate; zero rows affected means not found.
func (s *Store) SoftDeleteMessage(ctx context.Context, id string, userID string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}
	if userID == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET is_deleted = TRUE, deleted_by = $2, deleted_at = NOW()
		WHERE id = $1 AND sender_id = $2 AND is_deleted = FALSE
	`, s.messagesTable())

	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SearchMessages searches the text of non-deleted messages across all
// conversations userID participates in.
func (s *Store) SearchMessages(ctx context.Context, userID string, query string, opts store.ListOptions) (*store.MessageList, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	where := fmt.Sprintf(`
		FROM %s m
		JOIN %s c ON c.id = m.conversation_id
		WHERE (c.participant_low = $1 OR c.participant_high = $1)
		  AND m.is_deleted = FALSE
		  AND m.content ILIKE '%%' || $2 || '%%'
	`, s.messagesTable(), s.conversationsTable())

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) `+where, userID, query).Scan(&total); err != nil {
		return nil, fmt.Errorf("count search results: %w", err)
	}

	sel := fmt.Sprintf(`
		SELECT m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.message_type,
		       m.attachment, m.reply_to_id, m.is_read, m.read_at, m.is_deleted, m.deleted_by,
		       m.deleted_at, m.seq, m.created_at
		%s
		ORDER BY m.created_at DESC, m.seq DESC
		LIMIT $3 OFFSET $4
	`, where)

	messages, err := s.queryMessages(ctx, sel, userID, query, opts.Limit+1, opts.Offset)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > opts.Limit
	if hasMore {
		messages = messages[:opts.Limit]
	}

	return &store.MessageList{Messages: messages, Total: total, HasMore: hasMore}, nil
}

// UnreadMessageCount returns the number of unread non-deleted messages
// addressed to userID across all conversations.
func (s *Store) UnreadMessageCount(ctx context.Context, userID string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if userID == "" {
		return 0, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE receiver_id = $1 AND is_read = FALSE AND is_deleted = FALSE
	`, s.messagesTable())

	var count int64
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return count, nil
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row rowScanner) (*store.Message, error) {
	var (
		m          store.Message
		attachment []byte
		msgType    string
		replyTo    sql.NullString
		deletedBy  sql.NullString
		readAt     sql.NullTime
		deletedAt  sql.NullTime
	)

	err := row.Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.ReceiverID, &m.Content, &msgType,
		&attachment, &replyTo, &m.Read, &readAt, &m.Deleted, &deletedBy,
		&deletedAt, &m.Seq, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Type = store.MessageType(msgType)
	m.CreatedAt = m.CreatedAt.UTC()
	if replyTo.Valid {
		m.ReplyToID = replyTo.String
	}
	if deletedBy.Valid {
		m.DeletedBy = deletedBy.String
	}
	if readAt.Valid {
		t := readAt.Time.UTC()
		m.ReadAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		m.DeletedAt = &t
	}

	att, err := unmarshalAttachment(attachment)
	if err != nil {
		return nil, fmt.Errorf("unmarshal attachment: %w", err)
	}
	m.Attachment = att

	return &m, nil
}

func marshalAttachment(a *store.Attachment) ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	return json.Marshal(a)
}

func unmarshalAttachment(data []byte) (*store.Attachment, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var a store.Attachment
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
