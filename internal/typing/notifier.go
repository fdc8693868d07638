// Package typing publishes typing indicator events around agent work.
//
// A Notifier is created per agent invocation. Start publishes a typing-start
// event and keeps it fresh on an interval while the agent works; Stop
// publishes the matching typing-stop event and seals the notifier so late
// callbacks can never restart the indicator. A TTL timer stops the indicator
// on its own if an invocation stalls without completing.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/eventbus"
)

// DefaultInterval is the default delay between typing indicator refreshes.
const DefaultInterval = 6 * time.Second

// DefaultTTL is how long an indicator survives without completion before it
// is stopped automatically.
const DefaultTTL = 2 * time.Minute

// DefaultMessage is the content of typing-start events.
const DefaultMessage = "is working"

// Config configures a Notifier.
type Config struct {
	// Bus publishes the indicator events. A nil bus publishes nothing.
	Bus eventbus.Bus

	// Signer signs indicator events, normally with the agent's key. A nil
	// signer publishes nothing.
	Signer *eventbus.Signer

	// ConversationID is e-tagged on every indicator event.
	ConversationID string

	// ProjectAddress is a-tagged on every indicator event when set.
	ProjectAddress string

	// Message is the typing-start content. Defaults to DefaultMessage.
	Message string

	// Interval between refreshes. Defaults to DefaultInterval.
	Interval time.Duration

	// TTL stops the indicator after this much time without Stop being
	// called. Defaults to DefaultTTL.
	TTL time.Duration

	Logger *slog.Logger
}

// Notifier manages the typing indicator for one agent invocation.
//
// The notifier uses a sealed state to prevent late callbacks from
// restarting the indicator after Stop. Callbacks can fire late because
// the surrounding strategy work is asynchronous.
type Notifier struct {
	mu sync.Mutex

	config Config

	started bool
	sealed  bool

	ticker   *time.Ticker
	ttlTimer *time.Timer
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewNotifier creates a notifier with defaults applied for zero values.
func NewNotifier(config Config) *Notifier {
	if config.Message == "" {
		config.Message = DefaultMessage
	}
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Notifier{config: config}
}

// Start publishes the initial typing-start event and begins the refresh
// loop. Calling Start on a started or sealed notifier does nothing.
func (n *Notifier) Start(ctx context.Context) {
	n.mu.Lock()
	if n.sealed || n.started {
		n.mu.Unlock()
		return
	}
	n.started = true
	n.stopCh = make(chan struct{})
	n.doneCh = make(chan struct{})
	n.ticker = time.NewTicker(n.config.Interval)
	n.armTTLLocked()
	n.mu.Unlock()

	n.publish(ctx, eventbus.KindTypingStart, n.config.Message)
	go n.refreshLoop(ctx)
}

// refreshLoop re-publishes the typing-start event at intervals so the
// indicator does not expire on the consumer side during long work.
func (n *Notifier) refreshLoop(ctx context.Context) {
	defer func() {
		n.mu.Lock()
		if n.ticker != nil {
			n.ticker.Stop()
			n.ticker = nil
		}
		close(n.doneCh)
		n.mu.Unlock()
	}()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ctx.Done():
			return
		case <-n.ticker.C:
			n.publish(ctx, eventbus.KindTypingStart, n.config.Message)
		}
	}
}

// Refresh resets the TTL timer. Call it when activity occurs, such as a
// tool round completing, to keep a long invocation's indicator alive.
func (n *Notifier) Refresh() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sealed {
		return
	}
	n.armTTLLocked()
}

// armTTLLocked resets the TTL timer while holding the lock.
func (n *Notifier) armTTLLocked() {
	if n.ttlTimer != nil {
		n.ttlTimer.Stop()
	}
	n.ttlTimer = time.AfterFunc(n.config.TTL, func() {
		n.config.Logger.Debug("typing TTL reached, stopping indicator",
			"conversation_id", n.config.ConversationID,
			"ttl", n.config.TTL)
		n.Stop()
	})
}

// Stop publishes the typing-stop event and seals the notifier. It is safe
// to call multiple times; only the first call publishes.
func (n *Notifier) Stop() {
	n.mu.Lock()
	if n.sealed {
		n.mu.Unlock()
		return
	}
	n.sealed = true
	if n.ttlTimer != nil {
		n.ttlTimer.Stop()
		n.ttlTimer = nil
	}
	if n.stopCh != nil {
		close(n.stopCh)
		n.stopCh = nil
	}
	started := n.started
	n.mu.Unlock()

	if !started {
		return
	}

	// The invocation context may already be cancelled; the stop event
	// still has to go out so consumers do not show a stuck indicator.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.publish(ctx, eventbus.KindTypingStop, "")
}

// IsActive reports whether the indicator is running and not sealed.
func (n *Notifier) IsActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started && !n.sealed
}

// IsSealed reports whether Stop has been called.
func (n *Notifier) IsSealed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sealed
}

// publish sends one indicator event. Failures are logged and swallowed:
// a lost indicator must never fail the agent's work. A notifier without a
// bus or signer publishes nothing.
func (n *Notifier) publish(ctx context.Context, kind int, content string) {
	if n.config.Bus == nil || n.config.Signer == nil {
		return
	}
	event := &nostr.Event{
		Kind:      kind,
		Content:   content,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{},
	}
	if n.config.ConversationID != "" {
		event.Tags = append(event.Tags, nostr.Tag{"e", n.config.ConversationID})
	}
	if n.config.ProjectAddress != "" {
		event.Tags = append(event.Tags, nostr.Tag{"a", n.config.ProjectAddress})
	}
	if err := n.config.Signer.Sign(event); err != nil {
		n.config.Logger.Warn("failed to sign typing event", "kind", kind, "error", err)
		return
	}
	if err := n.config.Bus.PublishEphemeral(ctx, event); err != nil {
		n.config.Logger.Debug("failed to publish typing event", "kind", kind, "error", err)
	}
}
