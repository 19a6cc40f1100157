package messenger

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/messenger/store"
)

// Sentinel errors for the messenger package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, messenger.ErrNotFound) will match both
// messenger-level and store-level "not found" errors.
var (
	// ErrNotFound is returned when a conversation, message or
	// notification cannot be found, or the caller is not allowed to see
	// it. Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("messenger: %w", store.ErrNotFound)

	// ErrAlreadyRead is returned when marking a message that is already
	// read. Wraps store.ErrAlreadyRead for consistent error checking.
	ErrAlreadyRead = fmt.Errorf("messenger: %w", store.ErrAlreadyRead)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("messenger: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("messenger: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("messenger: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("messenger: %w", store.ErrInvalidID)

	// ErrInvalidUserID is returned when a user ID is empty or contains
	// invalid characters.
	ErrInvalidUserID = errors.New("messenger: invalid user id")

	// ErrSelfMessage is returned when a user tries to message themselves.
	ErrSelfMessage = errors.New("messenger: cannot message yourself")

	// ErrEmptyContent is returned when a message has neither content nor
	// an attachment.
	ErrEmptyContent = errors.New("messenger: empty content")

	// ErrContentTooLarge is returned when message content exceeds the
	// configured maximum.
	ErrContentTooLarge = errors.New("messenger: content too large")

	// ErrInvalidMessageType is returned for an unknown message type.
	ErrInvalidMessageType = errors.New("messenger: invalid message type")

	// ErrInvalidAttachment is returned when an attachment descriptor is
	// incomplete or exceeds the size limit.
	ErrInvalidAttachment = errors.New("messenger: invalid attachment")

	// ErrInvalidReplyTo is returned when a reply references a message
	// outside the conversation or a deleted message.
	ErrInvalidReplyTo = errors.New("messenger: invalid reply target")

	// ErrEmptyQuery is returned when a search query is empty.
	ErrEmptyQuery = errors.New("messenger: empty search query")

	// ErrInvalidNotificationType is returned for an unknown notification type.
	ErrInvalidNotificationType = errors.New("messenger: invalid notification type")

	// ErrEmptySettingsPatch is returned when a settings update contains
	// no recognized keys.
	ErrEmptySettingsPatch = errors.New("messenger: empty settings patch")
)

// ValidationError describes a failed field validation. It wraps one of
// the sentinel errors above so errors.Is() keeps working.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string

	// Err is the sentinel validation error.
	Err error

	// Detail provides extra context, such as the offending value or limit.
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: field %q: %s", e.Err, e.Field, e.Detail)
	}
	return fmt.Sprintf("%s: field %q", e.Err, e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func newValidationError(field string, sentinel error, detail string) error {
	return &ValidationError{Field: field, Err: sentinel, Detail: detail}
}
