package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a row cannot be found, or when an
	// ownership predicate matched no rows.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrAlreadyRead is returned when marking a message that is already read.
	ErrAlreadyRead = errors.New("store: already read")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsAlreadyRead(err error) bool {
	return errors.Is(err, ErrAlreadyRead)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
