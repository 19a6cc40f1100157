package messenger

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/messenger/revocation"
	"github.com/rbaliyan/messenger/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	// DefaultNotificationRetention is how long notifications are kept
	// before PruneNotifications removes them.
	DefaultNotificationRetention = 90 * 24 * time.Hour
	MinNotificationRetention     = 24 * time.Hour

	// DefaultPublishTimeout bounds each fire-and-forget realtime
	// publish. A slow broker delays nothing but its own goroutine.
	DefaultPublishTimeout = 500 * time.Millisecond

	// DefaultMaxContentSize is the maximum message content size in bytes.
	DefaultMaxContentSize = 64 * 1024

	// DefaultMaxAttachmentSize is the maximum declared attachment size.
	DefaultMaxAttachmentSize = 25 * 1024 * 1024

	// Query limits
	DefaultMaxQueryLimit = 100
	DefaultQueryLimit    = 20

	// Concurrency limits
	DefaultMaxConcurrentSends = 10

	// Shutdown
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = 1 * time.Second

	// DefaultTrendingSize bounds the per-user recent search list.
	DefaultTrendingSize = 25
)

// options holds messenger configuration.
type options struct {
	store  store.Store
	logger *slog.Logger

	// Revocation ledger, shared with the token issuer (optional).
	ledger *revocation.Ledger

	// User display-name resolution for notification rendering (optional).
	users UserResolver

	// Retention for PruneNotifications.
	notificationRetention time.Duration

	// Message limits
	maxContentSize    int
	maxAttachmentSize int64

	// Query limits
	maxQueryLimit     int
	defaultQueryLimit int

	// Concurrency limits
	maxConcurrentSends int

	// Shutdown
	shutdownTimeout time.Duration

	// Realtime publishing
	publishTimeout time.Duration
	trendingSize   int

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for realtime publishing and event transport
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName identifies the event (e.g., "MessageSent"), and err is
// the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent
// cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:                slog.Default(),
		notificationRetention: DefaultNotificationRetention,
		maxContentSize:        DefaultMaxContentSize,
		maxAttachmentSize:     DefaultMaxAttachmentSize,
		maxQueryLimit:         DefaultMaxQueryLimit,
		defaultQueryLimit:     DefaultQueryLimit,
		maxConcurrentSends:    DefaultMaxConcurrentSends,
		shutdownTimeout:       DefaultShutdownTimeout,
		publishTimeout:        DefaultPublishTimeout,
		trendingSize:          DefaultTrendingSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.defaultQueryLimit > o.maxQueryLimit {
		o.defaultQueryLimit = o.maxQueryLimit
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a messenger service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRevocationLedger attaches a token revocation ledger so its stats
// appear in service health reporting. The ledger's lifecycle is owned
// by the caller.
func WithRevocationLedger(l *revocation.Ledger) Option {
	return func(o *options) {
		if l != nil {
			o.ledger = l
		}
	}
}

// WithUserResolver sets the resolver used to render display names in
// notification text. Without one, raw user IDs are used.
func WithUserResolver(r UserResolver) Option {
	return func(o *options) {
		if r != nil {
			o.users = r
		}
	}
}

// --- Retention Options ---

// WithNotificationRetention sets how long notifications are kept before
// PruneNotifications removes them. Default is 90 days. Minimum is 1 day.
func WithNotificationRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= MinNotificationRetention {
			o.notificationRetention = d
		}
	}
}

// --- Message Limit Options ---

// WithMaxContentSize sets the maximum message content size in bytes.
// Default is 64 KB.
func WithMaxContentSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxContentSize = n
		}
	}
}

// WithMaxAttachmentSize sets the maximum declared attachment size in
// bytes. Default is 25 MB.
func WithMaxAttachmentSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttachmentSize = n
		}
	}
}

// --- Query Limit Options ---

// WithMaxQueryLimit sets the maximum number of rows per query.
// Any query requesting more than this limit will be capped.
// Default is 100.
func WithMaxQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQueryLimit = n
		}
	}
}

// WithDefaultQueryLimit sets the default number of rows per query when
// no limit is specified. If this exceeds the max query limit, it is
// automatically capped. Default is 20.
func WithDefaultQueryLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultQueryLimit = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSends sets the maximum number of concurrent send
// operations. This prevents resource exhaustion when many messages are
// being sent simultaneously. Default is 10.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight
// operations during graceful shutdown. Default is 30 seconds. Minimum
// is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- Realtime Options ---

// WithPublishTimeout bounds each fire-and-forget realtime publish.
// Default is 500ms.
func WithPublishTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.publishTimeout = d
		}
	}
}

// WithTrendingSize sets how many recent searches are kept per user.
// Default is 25.
func WithTrendingSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.trendingSize = n
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry and
// event bus naming. Default is "messenger".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets the event transport for publishing and
// subscribing to typed events. If not provided and no Redis client is
// configured, a noop transport is used.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client. It powers realtime channel
// publishing, the typed event transport, and search trend tracking.
// Without one, realtime delivery and trends are disabled and typed
// events use a noop transport.
//
// Compatible with *redis.Client, *redis.ClusterClient, and
// redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing
// failures. Use this for custom logging, metrics, or alerting.
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// clampLimit applies default and max query limits to a requested limit.
func (o *options) clampLimit(limit int) int {
	if limit <= 0 {
		return o.defaultQueryLimit
	}
	if limit > o.maxQueryLimit {
		return o.maxQueryLimit
	}
	return limit
}
