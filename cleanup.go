package messenger

import (
	"context"
	"fmt"
	"time"
)

// PruneResult contains the result of a notification pruning run.
type PruneResult struct {
	// Deleted is the number of notifications removed.
	Deleted int64

	// Cutoff is the retention boundary used; notifications created
	// before it were removed.
	Cutoff time.Time
}

// PruneNotifications deletes notifications older than the configured
// retention period (default 90 days).
//
// The store deletes in a single bulk operation, so one call suffices.
// Call this periodically using your application's scheduler; the
// library does not run cleanup on its own.
//
// Example with a simple ticker:
//
//	go func() {
//	    ticker := time.NewTicker(24 * time.Hour)
//	    defer ticker.Stop()
//	    for range ticker.C {
//	        result, err := svc.PruneNotifications(ctx)
//	        if err != nil {
//	            log.Printf("notification prune error: %v", err)
//	        } else if result.Deleted > 0 {
//	            log.Printf("pruned %d expired notifications", result.Deleted)
//	        }
//	    }
//	}()
func (s *service) PruneNotifications(ctx context.Context) (*PruneResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-s.opts.notificationRetention)
	deleted, err := s.store.DeleteNotificationsBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete expired notifications: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("pruned expired notifications",
			"count", deleted, "cutoff", cutoff)
	}
	return &PruneResult{Deleted: deleted, Cutoff: cutoff}, nil
}
