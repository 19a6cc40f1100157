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

// FindOrCreateConversation atomically finds or creates the conversation
// for the unordered pair. INSERT ... ON CONFLICT DO NOTHING followed by
// SELECT handles concurrent first-contact without locks: exactly one
// insert wins, everyone converges on the same row.
func (s *Store) FindOrCreateConversation(ctx context.Context, userA, userB string) (*store.Conversation, bool, error) {
	if err := s.checkConnected(); err != nil {
		return nil, false, err
	}
	if userA == "" || userB == "" || userA == userB {
		return nil, false, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	low, high := store.NormalizePair(userA, userB)

	insert := fmt.Sprintf(`
		INSERT INTO %s (participant_low, participant_high)
		VALUES ($1, $2)
		ON CONFLICT (participant_low, participant_high) DO NOTHING
		RETURNING id, participant_low, participant_high, last_message_id, last_message_at, created_at
	`, s.conversationsTable())

	conv, err := scanConversation(s.db.QueryRowContext(ctx, insert, low, high))
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// Conflict: another caller won the insert. Fetch the existing row.
	query := fmt.Sprintf(`
		SELECT id, participant_low, participant_high, last_message_id, last_message_at, created_at
		FROM %s
		WHERE participant_low = $1 AND participant_high = $2
	`, s.conversationsTable())

	conv, err = scanConversation(s.db.QueryRowContext(ctx, query, low, high))
	if err != nil {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}
	return conv, false, nil
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, participant_low, participant_high, last_message_id, last_message_at, created_at
		FROM %s
		WHERE id = $1
	`, s.conversationsTable())

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

// ListConversations returns the conversations userID participates in,
// most recently active first, each with its last message and the
// caller's unread count.
func (s *Store) ListConversations(ctx context.Context, userID string, opts store.ListOptions) (*store.ConversationList, error) {
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

	where := `(c.participant_low = $1 OR c.participant_high = $1)`
	args := []any{userID}
	if opts.Participant != "" {
		low, high := store.NormalizePair(userID, opts.Participant)
		where = `c.participant_low = $1 AND c.participant_high = $2`
		args = []any{low, high}
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s c WHERE %s`, s.conversationsTable(), where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count conversations: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.participant_low, c.participant_high, c.last_message_id, c.last_message_at, c.created_at,
		       m.id, m.conversation_id, m.sender_id, m.receiver_id, m.content, m.message_type,
		       m.attachment, m.reply_to_id, m.is_read, m.read_at, m.is_deleted, m.deleted_by,
		       m.deleted_at, m.seq, m.created_at,
		       (SELECT COUNT(*) FROM %s u
		        WHERE u.conversation_id = c.id AND u.receiver_id = $1
		          AND u.is_read = FALSE AND u.is_deleted = FALSE) AS unread
		FROM %s c
		LEFT JOIN %s m ON m.id = c.last_message_id
		WHERE %s
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
		LIMIT $%d OFFSET $%d
	`, s.messagesTable(), s.conversationsTable(), s.messagesTable(), where, len(args)+1, len(args)+2)

	args = append(args, opts.Limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	defer rows.Close()

	var summaries []store.ConversationSummary
	for rows.Next() {
		sum, err := scanConversationSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		sum.OtherUserID = sum.Conversation.Other(userID)
		summaries = append(summaries, *sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	return &store.ConversationList{Conversations: summaries, Total: total}, nil
}

// TouchConversation updates the denormalized last-message pointer.
func (s *Store) TouchConversation(ctx context.Context, id string, messageID string, at time.Time) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s SET last_message_id = $1, last_message_at = $2 WHERE id = $3
	`, s.conversationsTable())

	result, err := s.db.ExecContext(ctx, query, messageID, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
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

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*store.Conversation, error) {
	var (
		c      store.Conversation
		lastID sql.NullString
		lastAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.ParticipantLow, &c.ParticipantHigh, &lastID, &lastAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastID.Valid {
		c.LastMessageID = lastID.String
	}
	if lastAt.Valid {
		t := lastAt.Time.UTC()
		c.LastMessageAt = &t
	}
	return &c, nil
}

// scanConversationSummary scans a joined conversation + last message +
// unread count row. The message columns are all nullable because of the
// LEFT JOIN.
func scanConversationSummary(row rowScanner) (*store.ConversationSummary, error) {
	var (
		c      store.Conversation
		lastID sql.NullString
		lastAt sql.NullTime

		mID, mConv, mSender, mReceiver, mContent, mType sql.NullString
		mAttachment                                     []byte
		mReplyTo, mDeletedBy                            sql.NullString
		mRead, mDeleted                                 sql.NullBool
		mReadAt, mDeletedAt, mCreatedAt                 sql.NullTime
		mSeq                                            sql.NullInt64

		unread int64
	)

	err := row.Scan(
		&c.ID, &c.ParticipantLow, &c.ParticipantHigh, &lastID, &lastAt, &c.CreatedAt,
		&mID, &mConv, &mSender, &mReceiver, &mContent, &mType,
		&mAttachment, &mReplyTo, &mRead, &mReadAt, &mDeleted, &mDeletedBy,
		&mDeletedAt, &mSeq, &mCreatedAt,
		&unread,
	)
	if err != nil {
		return nil, err
	}

	if lastID.Valid {
		c.LastMessageID = lastID.String
	}
	if lastAt.Valid {
		t := lastAt.Time.UTC()
		c.LastMessageAt = &t
	}

	sum := &store.ConversationSummary{
		Conversation: &c,
		UnreadCount:  unread,
	}

	if mID.Valid {
		m := &store.Message{
			ID:             mID.String,
			ConversationID: mConv.String,
			SenderID:       mSender.String,
			ReceiverID:     mReceiver.String,
			Content:        mContent.String,
			Type:           store.MessageType(mType.String),
			Read:           mRead.Bool,
			Deleted:        mDeleted.Bool,
			Seq:            mSeq.Int64,
			CreatedAt:      mCreatedAt.Time.UTC(),
		}
		if mReplyTo.Valid {
			m.ReplyToID = mReplyTo.String
		}
		if mDeletedBy.Valid {
			m.DeletedBy = mDeletedBy.String
		}
		if mReadAt.Valid {
			t := mReadAt.Time.UTC()
			m.ReadAt = &t
		}
		if mDeletedAt.Valid {
			t := mDeletedAt.Time.UTC()
			m.DeletedAt = &t
		}
		if att, err := unmarshalAttachment(mAttachment); err == nil {
			m.Attachment = att
		}
		sum.LastMessage = m
	}

	return sum, nil
}
