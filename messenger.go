package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/messenger/revocation"
	"github.com/rbaliyan/messenger/store"
	"golang.org/x/sync/semaphore"
)

// Type aliases for commonly used store types.
// These allow users to work with the messenger package without importing store directly.
type (
	Message              = store.Message
	Conversation         = store.Conversation
	ConversationSummary  = store.ConversationSummary
	Notification         = store.Notification
	NotificationSettings = store.NotificationSettings
	Attachment           = store.Attachment
	MessageType          = store.MessageType
	NotificationType     = store.NotificationType
	ListOptions          = store.ListOptions
	MessageList          = store.MessageList
	ConversationList     = store.ConversationList
	NotificationList     = store.NotificationList
)

// Re-exported message type constants.
const (
	MessageTypeText  = store.MessageTypeText
	MessageTypeImage = store.MessageTypeImage
	MessageTypeFile  = store.MessageTypeFile
	MessageTypeVideo = store.MessageTypeVideo
)

// Re-exported notification type constants.
const (
	NotificationComment = store.NotificationComment
	NotificationLike    = store.NotificationLike
	NotificationMention = store.NotificationMention
	NotificationFollow  = store.NotificationFollow
	NotificationReply   = store.NotificationReply
	NotificationSystem  = store.NotificationSystem
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// SearchTrends provides aggregated search activity. Both methods
// return empty results when no Redis client is configured.
type SearchTrends interface {
	// Trending returns the top search terms by popularity, highest first.
	Trending(ctx context.Context, limit int) ([]TrendingTerm, error)
	// RecentSearches returns a user's recent search terms, newest first.
	RecentSearches(ctx context.Context, userID string) ([]string, error)
}

// Service manages the messaging system (server-side).
// It handles connections to storage and creates per-user chat clients.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
//   - SearchTrends: Aggregated search activity (Trending, RecentSearches)
type Service interface {
	ServiceHealth
	SearchTrends

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a chat client scoped to the given user.
	// The returned client shares the service's connections.
	Client(userID string) Chat
	// Notifier returns the notification facade.
	Notifier() Notifier
	// PruneNotifications deletes notifications older than the configured
	// retention period. Call this periodically using your application's
	// scheduler.
	PruneNotifications(ctx context.Context) (*PruneResult, error)
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing.
	Events() *ServiceEvents
	// Revocations returns the configured token revocation ledger, or nil.
	// Gateways use it to drop realtime connections whose tokens are revoked.
	Revocations() *revocation.Ledger
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted // Limits concurrent sends to prevent resource exhaustion
	realtime *publisher          // Fire-and-forget channel publisher
	trends   *trendTracker       // Search trend recording
	notif    *notifier
	eventBus *event.Bus     // Event bus for publishing events
	events   *ServiceEvents // Per-service event instances
}

// NewService creates a new messenger service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	s := &service{
		store:    o.store,
		logger:   o.logger,
		opts:     o,
		otel:     otelInstr,
		sendSem:  semaphore.NewWeighted(int64(o.maxConcurrentSends)),
		realtime: newPublisher(o.redisClient, o),
		trends:   newTrendTracker(o.redisClient, o),
	}
	s.notif = &notifier{service: s}
	return s, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Client() from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("messenger service connected",
		"realtime", s.realtime.enabled())
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own event instances.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "messenger"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight send operations to complete (graceful shutdown).
	// After setting state to disconnected, no new sends can start.
	// We acquire all semaphore slots to wait for existing operations to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
		s.logger.Info("all in-flight operations completed")
	}

	// Drain in-flight realtime publishes before closing the bus.
	if err := s.realtime.close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain realtime publishes: %w", err))
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a chat client scoped to the given user.
func (s *service) Client(userID string) Chat {
	return &userChat{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// Notifier returns the notification facade.
func (s *service) Notifier() Notifier {
	return s.notif
}

// Revocations returns the configured token revocation ledger, or nil.
func (s *service) Revocations() *revocation.Ledger {
	return s.opts.ledger
}

// checkConnected reports ErrNotConnected unless the service is ready.
func (s *service) checkConnected() error {
	if atomic.LoadInt32(&s.state) != stateConnected {
		return ErrNotConnected
	}
	return nil
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// This prevents channel and cache key injection.
func isValidUserID(userID string) bool {
	if userID == "" {
		return false
	}
	// Allow alphanumeric, hyphen, underscore, period, at-sign
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}
