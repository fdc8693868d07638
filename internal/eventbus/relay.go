package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/retry"
)

// DefaultRelays are commonly used public relays.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://nos.lol",
	"wss://relay.nostr.band",
}

// Publish retry policy for transient relay failures.
const (
	publishAttempts  = 3
	publishBaseDelay = 250 * time.Millisecond
	publishMaxDelay  = 4 * time.Second
)

// Config holds configuration for the relay bus.
type Config struct {
	// Relays is the list of relay URLs to connect to
	Relays []string

	// Logger is an optional slog.Logger instance
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation
	Metrics *observability.Metrics
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if len(c.Relays) == 0 {
		c.Relays = DefaultRelays
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// RelayBus implements Bus over a pool of relay connections.
type RelayBus struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	relays []*nostr.Relay

	seen   sync.Map // event ID deduplication
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRelayBus creates a relay bus. Call Connect before use.
func NewRelayBus(cfg Config) (*RelayBus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RelayBus{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "eventbus"),
		metrics: cfg.Metrics,
	}, nil
}

// Connect dials the configured relays. At least one connection must
// succeed; failures on individual relays are logged and tolerated.
func (b *RelayBus) Connect(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, url := range b.cfg.Relays {
		relay, err := nostr.RelayConnect(ctx, url)
		if err != nil {
			b.logger.Warn("failed to connect to relay", "relay", url, "error", err)
			continue
		}
		b.relays = append(b.relays, relay)
		b.logger.Debug("connected to relay", "relay", url)
	}

	if len(b.relays) == 0 {
		return fmt.Errorf("failed to connect to any of %d relays", len(b.cfg.Relays))
	}

	b.logger.Info("relay bus connected", "connected_relays", len(b.relays))
	return nil
}

// Subscribe opens the filter on every connected relay and fans events into
// a single channel. Events are deduplicated by id and signature-checked;
// the channel closes when the context is cancelled.
func (b *RelayBus) Subscribe(ctx context.Context, filter Filter) (<-chan *nostr.Event, error) {
	b.mu.Lock()
	relays := make([]*nostr.Relay, len(b.relays))
	copy(relays, b.relays)
	b.mu.Unlock()

	if len(relays) == 0 {
		return nil, fmt.Errorf("subscribe before connect")
	}

	out := make(chan *nostr.Event, 256)
	var wg sync.WaitGroup

	for _, relay := range relays {
		sub, err := relay.Subscribe(ctx, nostr.Filters{filter.toNostr()})
		if err != nil {
			b.logger.Warn("failed to subscribe to relay", "relay", relay.URL, "error", err)
			continue
		}
		wg.Add(1)
		b.wg.Add(1)
		go func(relay *nostr.Relay, sub *nostr.Subscription) {
			defer wg.Done()
			defer b.wg.Done()
			for {
				select {
				case <-ctx.Done():
					sub.Unsub()
					return
				case event, ok := <-sub.Events:
					if !ok {
						return
					}
					if event == nil {
						continue
					}
					if !b.accept(event, relay) {
						continue
					}
					select {
					case out <- event:
					case <-ctx.Done():
						sub.Unsub()
						return
					}
				}
			}
		}(relay, sub)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}

// accept dedupes by event id and verifies the signature.
func (b *RelayBus) accept(event *nostr.Event, relay *nostr.Relay) bool {
	if _, loaded := b.seen.LoadOrStore(event.ID, true); loaded {
		return false
	}
	ok, err := event.CheckSignature()
	if err != nil || !ok {
		b.logger.Warn("invalid event signature", "event_id", event.ID, "relay", relay.URL, "error", err)
		b.metrics.RecordEvent(strconv.Itoa(event.Kind), "skipped")
		return false
	}
	return true
}

// Publish delivers a signed event, retrying transient failures with
// exponential backoff. A single accepting relay counts as success.
func (b *RelayBus) Publish(ctx context.Context, event *nostr.Event) error {
	if event.Sig == "" {
		return fmt.Errorf("refusing to publish unsigned event kind %d", event.Kind)
	}

	kind := strconv.Itoa(event.Kind)
	attempt := 0
	result := retry.Do(ctx, retry.Exponential(publishAttempts, publishBaseDelay, publishMaxDelay), func() error {
		attempt++
		if attempt > 1 {
			b.metrics.RecordPublishRetry()
		}
		return b.publishOnce(ctx, event)
	})
	if result.Err != nil {
		b.metrics.RecordPublish(kind, "error")
		return fmt.Errorf("publish event %s after %d attempts: %w", event.ID, result.Attempts, result.Err)
	}

	b.metrics.RecordPublish(kind, "success")
	b.logger.Debug("published event", "event_id", event.ID, "kind", event.Kind, "attempts", result.Attempts)
	return nil
}

// PublishEphemeral sends a streaming chunk without retry. Failures are
// returned but callers treat them as best-effort.
func (b *RelayBus) PublishEphemeral(ctx context.Context, event *nostr.Event) error {
	if event.Sig == "" {
		return fmt.Errorf("refusing to publish unsigned event kind %d", event.Kind)
	}
	err := b.publishOnce(ctx, event)
	if err != nil {
		b.metrics.RecordPublish(strconv.Itoa(event.Kind), "error")
		return err
	}
	b.metrics.RecordPublish(strconv.Itoa(event.Kind), "success")
	return nil
}

func (b *RelayBus) publishOnce(ctx context.Context, event *nostr.Event) error {
	b.mu.Lock()
	relays := make([]*nostr.Relay, len(b.relays))
	copy(relays, b.relays)
	b.mu.Unlock()

	var lastErr error
	for _, relay := range relays {
		if err := relay.Publish(ctx, *event); err != nil {
			lastErr = err
			b.logger.Warn("failed to publish to relay", "relay", relay.URL, "event_id", event.ID, "error", err)
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no connected relays")
	}
	return lastErr
}

// Close cancels subscriptions and closes relay connections, waiting for
// reader goroutines up to the context deadline.
func (b *RelayBus) Close(ctx context.Context) error {
	if b.cancel != nil {
		b.cancel()
	}

	b.mu.Lock()
	for _, relay := range b.relays {
		if err := relay.Close(); err != nil {
			b.logger.Warn("error closing relay", "relay", relay.URL, "error", err)
		}
	}
	b.relays = nil
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("relay bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("relay bus stop timeout")
		return ctx.Err()
	}
}
