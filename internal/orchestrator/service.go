package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/observability"
	"github.com/haasonsaas/tenex/internal/tenexerr"
)

// DefaultWorkers bounds concurrent event handling when unconfigured.
const DefaultWorkers = 4

// ServeConfig configures the long-running subscription loop.
type ServeConfig struct {
	Bus         eventbus.Bus
	Coordinator *Coordinator

	// Registry supplies the agent pubkeys the subscription mentions.
	Registry *agent.Registry

	// Signer publishes project status heartbeats. Nil disables them.
	Signer *eventbus.Signer

	// Project is announced in status events.
	Project agent.ProjectInfo

	// Kinds subscribed to. Defaults to text replies and tasks.
	Kinds []int

	// Workers bounds how many events are handled concurrently.
	Workers int

	// Heartbeat is the interval between status events. Zero disables the
	// recurring beat; the startup and shutdown announcements still publish.
	Heartbeat time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
}

// Service consumes relay events addressed to the project's agents and hands
// them to the coordinator on a bounded worker pool, announcing liveness in
// between.
type Service struct {
	config ServeConfig
	logger *slog.Logger
}

// NewService validates the wiring and returns a service.
func NewService(config ServeConfig) (*Service, error) {
	if config.Bus == nil {
		return nil, tenexerr.Configuration("service requires a bus", nil)
	}
	if config.Coordinator == nil {
		return nil, tenexerr.Configuration("service requires a coordinator", nil)
	}
	if config.Registry == nil {
		return nil, tenexerr.Configuration("service requires an agent registry", nil)
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if len(config.Kinds) == 0 {
		config.Kinds = []int{eventbus.KindTextReply, eventbus.KindTask}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		config: config,
		logger: logger.With("component", "service"),
	}, nil
}

// Run subscribes and dispatches until the context is cancelled. In-flight
// handlers finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	mentions := make([]string, 0, s.config.Registry.Len()+1)
	for _, ag := range s.config.Registry.Agents() {
		mentions = append(mentions, ag.PublicKey())
	}
	if s.config.Signer != nil {
		mentions = append(mentions, s.config.Signer.PublicKey())
	}

	since := time.Now()
	events, err := s.config.Bus.Subscribe(ctx, eventbus.Filter{
		Kinds:    s.config.Kinds,
		Mentions: mentions,
		Since:    &since,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.publishStatus(ctx, true)
	var heartbeat <-chan time.Time
	if s.config.Heartbeat > 0 && s.config.Signer != nil {
		ticker := time.NewTicker(s.config.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	s.logger.Info("serving",
		"kinds", s.config.Kinds,
		"agents", s.config.Registry.Len(),
		"workers", s.config.Workers)

	sem := make(chan struct{}, s.config.Workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			s.shutdown(&wg)
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				s.shutdown(&wg)
				return fmt.Errorf("event stream closed")
			}
			if event == nil {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				s.shutdown(&wg)
				return ctx.Err()
			}
			wg.Add(1)
			go func(event *nostr.Event) {
				defer wg.Done()
				defer func() { <-sem }()
				if err := s.config.Coordinator.HandleEvent(ctx, event); err != nil {
					s.logger.Error("event handling failed",
						"event_id", event.ID, "error", err)
				}
			}(event)

		case <-heartbeat:
			s.publishStatus(ctx, true)
		}
	}
}

// shutdown drains in-flight handlers and then announces the project offline
// on a fresh context, since the serve context is already cancelled by the
// time we get here.
func (s *Service) shutdown(wg *sync.WaitGroup) {
	s.logger.Info("shutting down")
	wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.publishStatus(ctx, false)
}

// status is the kind-24010 heartbeat payload.
type status struct {
	Project   string    `json:"project"`
	Online    bool      `json:"online"`
	Agents    []string  `json:"agents"`
	Timestamp time.Time `json:"timestamp"`
}

// publishStatus announces the roster and liveness, best-effort.
func (s *Service) publishStatus(ctx context.Context, online bool) {
	if s.config.Signer == nil {
		return
	}
	payload, err := json.Marshal(status{
		Project:   s.config.Project.Name,
		Online:    online,
		Agents:    s.config.Registry.Names(),
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}

	event := &nostr.Event{
		Kind:      eventbus.KindProjectStatus,
		CreatedAt: nostr.Now(),
		Content:   string(payload),
	}
	if s.config.Project.Address != "" {
		event.Tags = nostr.Tags{{"a", s.config.Project.Address}}
	}
	if err := s.config.Signer.Sign(event); err != nil {
		s.logger.Warn("failed to sign status event", "error", err)
		return
	}
	if err := s.config.Bus.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish status event", "error", err)
		s.config.Metrics.RecordError("orchestrator", "status")
		return
	}
	s.config.Metrics.RecordPublish(strconv.Itoa(eventbus.KindProjectStatus), "success")
}
