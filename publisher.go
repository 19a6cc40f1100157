package messenger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Realtime channel names. Gateways subscribe to a user channel to push
// payloads to that user's open connections; ChannelGlobal carries every
// payload for firehose consumers (moderation, analytics).
const (
	// ChannelGlobal receives a copy of every published payload.
	ChannelGlobal = "notification:all"

	userChannelPrefix = "notification:user:"
)

// UserChannel returns the realtime channel name for a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// Payload kinds carried in realtime envelopes.
const (
	PayloadNewMessage   = "new_message"
	PayloadMessageRead  = "message_read"
	PayloadNotification = "notification"
)

// Envelope is the JSON frame published to realtime channels.
type Envelope struct {
	// Channel is the channel the envelope was addressed to. Firehose
	// consumers on ChannelGlobal use it to identify the target user.
	Channel string `json:"channel"`

	// Kind identifies the payload type.
	Kind string `json:"kind"`

	// Payload is the kind-specific body.
	Payload any `json:"payload"`

	SentAt time.Time `json:"sent_at"`
}

// publisher pushes envelopes to Redis pub/sub, fire-and-forget.
//
// Delivery is best-effort at-most-once: a publish that fails is
// reported to the failure callback and dropped, never retried. Clients
// that miss a frame recover state from the store on reconnect, so a
// redelivered frame would only duplicate what the store already says.
// Each publish runs in its own goroutine with a short timeout; the
// calling operation never waits on the broker.
type publisher struct {
	client  redis.UniversalClient
	timeout time.Duration
	logger  *slog.Logger
	onFail  func(name string, err error)

	// mu orders publish against close: a publish must not Add to the
	// WaitGroup once close has started waiting on it.
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// newPublisher creates a realtime publisher. A nil client produces a
// disabled publisher whose publish calls are no-ops.
func newPublisher(client redis.UniversalClient, o *options) *publisher {
	return &publisher{
		client:  client,
		timeout: o.publishTimeout,
		logger:  o.logger,
		onFail:  o.safeEventPublishFailure,
	}
}

// enabled reports whether realtime publishing is configured.
func (p *publisher) enabled() bool {
	return p.client != nil
}

// publish sends an envelope to the user's channel and the global
// channel. It returns immediately; failures surface only through the
// failure callback.
func (p *publisher) publish(userID, kind string, payload any) {
	if p.client == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	env := Envelope{
		Channel: UserChannel(userID),
		Kind:    kind,
		Payload: payload,
		SentAt:  time.Now().UTC(),
	}

	go func() {
		defer p.wg.Done()

		// Detached from the caller's context: the send already
		// succeeded, cancellation upstream must not strand the publish
		// mid-flight.
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		data, err := json.Marshal(env)
		if err != nil {
			p.onFail(kind, err)
			return
		}
		if err := p.client.Publish(ctx, env.Channel, data).Err(); err != nil {
			p.onFail(kind, err)
			return
		}
		if err := p.client.Publish(ctx, ChannelGlobal, data).Err(); err != nil {
			p.onFail(kind, err)
		}
	}()
}

// close stops accepting new publishes and waits for in-flight ones,
// bounded by ctx.
func (p *publisher) close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		p.logger.Warn("timeout draining realtime publishes")
		return ctx.Err()
	}
}
