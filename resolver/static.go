// Package resolver provides UserResolver implementations.
package resolver

import (
	"context"
	"fmt"

	"github.com/rbaliyan/messenger"
)

// Static is a map-based UserResolver for testing and simple deployments.
// It resolves user IDs from an in-memory map. Safe for concurrent use (read-only after creation).
type Static struct {
	users map[string]*messenger.User
}

var _ messenger.UserResolver = (*Static)(nil)

// NewStatic creates a Static resolver from a map of user ID to User.
// The map is copied to prevent external mutation.
func NewStatic(users map[string]*messenger.User) *Static {
	m := make(map[string]*messenger.User, len(users))
	for k, v := range users {
		m[k] = v
	}
	return &Static{users: m}
}

// Resolve returns profile information for a single user ID.
func (s *Static) Resolve(_ context.Context, userID string) (*messenger.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user not found: %s", userID)
	}
	return u, nil
}

// ResolveBatch returns profile information for multiple user IDs.
// Unknown IDs have nil entries in the returned slice.
func (s *Static) ResolveBatch(_ context.Context, userIDs []string) ([]*messenger.User, error) {
	result := make([]*messenger.User, len(userIDs))
	for i, id := range userIDs {
		result[i] = s.users[id]
	}
	return result, nil
}
