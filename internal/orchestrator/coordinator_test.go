package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/haasonsaas/tenex/internal/agent"
	"github.com/haasonsaas/tenex/internal/eventbus"
	"github.com/haasonsaas/tenex/internal/llm"
	"github.com/haasonsaas/tenex/internal/planner"
	"github.com/haasonsaas/tenex/internal/retry"
	"github.com/haasonsaas/tenex/internal/store"
	"github.com/haasonsaas/tenex/pkg/models"
)

var fixtureKeys = []string{
	"0000000000000000000000000000000000000000000000000000000000000001",
	"0000000000000000000000000000000000000000000000000000000000000002",
	"0000000000000000000000000000000000000000000000000000000000000003",
}

var requesterPubkey = strings.Repeat("cafe", 16)

// scriptedProvider answers from a reply queue, defaulting to "ok".
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	replies []string
	err     error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Generate(ctx context.Context, messages []models.Message, opts llm.GenerateOptions) (*models.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return &models.LLMResponse{Content: "ok", Model: "test-model"}, nil
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return &models.LLMResponse{Content: reply, Model: "test-model"}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type captureBus struct {
	mu     sync.Mutex
	events []*nostr.Event
}

func (b *captureBus) Subscribe(ctx context.Context, filter eventbus.Filter) (<-chan *nostr.Event, error) {
	ch := make(chan *nostr.Event)
	close(ch)
	return ch, nil
}

func (b *captureBus) Publish(ctx context.Context, event *nostr.Event) error {
	return b.record(event)
}

func (b *captureBus) PublishEphemeral(ctx context.Context, event *nostr.Event) error {
	return b.record(event)
}

func (b *captureBus) Close(ctx context.Context) error { return nil }

func (b *captureBus) record(event *nostr.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) ofKind(kind int) []*nostr.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*nostr.Event
	for _, e := range b.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (b *captureBus) countKind(kind int) int { return len(b.ofKind(kind)) }

// fixture wires a coordinator exactly like cmd/tenex does, with scripted
// providers standing in for the real endpoints.
type fixture struct {
	coordinator *Coordinator
	registry    *agent.Registry
	bus         *captureBus
	store       store.Store
	providers   map[string]*scriptedProvider
	planning    *scriptedProvider
	profiles    map[string]llm.Profile
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	if len(names) > len(fixtureKeys) {
		t.Fatalf("fixture supports at most %d agents", len(fixtureKeys))
	}

	dir := t.TempDir()
	cache := llm.NewCache()
	profiles := make(map[string]llm.Profile, len(names))
	providers := make(map[string]*scriptedProvider, len(names))
	for i, name := range names {
		def := fmt.Sprintf(`{"name": %q, "role": "%s duty", "nsec": %q, "llm_profile": %q}`,
			name, name, fixtureKeys[i], name)
		if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(def), 0o600); err != nil {
			t.Fatalf("write definition: %v", err)
		}
		profile := llm.Profile{Provider: "scripted", Model: name + "-model"}
		provider := &scriptedProvider{}
		cache.Seed(profile, provider)
		profiles[name] = profile
		providers[name] = provider
	}

	st := store.NewMemoryStore()
	registry := agent.NewRegistry(agent.RegistryConfig{
		Dir:            dir,
		Default:        names[0],
		Profiles:       profiles,
		DefaultProfile: names[0],
		Providers:      cache,
		Store:          st,
		Project:        agent.ProjectInfo{Name: "demo", Address: "24000:pub:demo"},
	})
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("registry.Load() error = %v", err)
	}

	planning := &scriptedProvider{}
	pl, err := planner.New(planner.Config{
		Provider:     planning,
		DefaultAgent: names[0],
		Retry:        retry.Config{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("planner.New() error = %v", err)
	}

	bus := &captureBus{}
	coordinator, err := New(Config{
		Bus:      bus,
		Registry: registry,
		Planner:  pl,
		Store:    st,
		Project:  agent.ProjectInfo{Name: "demo", Address: "24000:pub:demo"},
		Profiles: profiles,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{
		coordinator: coordinator,
		registry:    registry,
		bus:         bus,
		store:       st,
		providers:   providers,
		planning:    planning,
		profiles:    profiles,
	}
}

func (f *fixture) provider(name string) *scriptedProvider { return f.providers[name] }

func (f *fixture) agent(t *testing.T, name string) *agent.Agent {
	t.Helper()
	ag, ok := f.registry.Get(name)
	if !ok {
		t.Fatalf("agent %q not in roster", name)
	}
	return ag
}

// planReply scripts the planning model to propose the given team.
func (f *fixture) planReply(lead string, members []string, strategy string) {
	reply, _ := json.Marshal(models.CombinedAnalysisResponse{
		Analysis: models.RequestAnalysis{
			RequestType:          "request",
			RequiredCapabilities: []string{"general"},
			EstimatedComplexity:  3,
			SuggestedStrategy:    strategy,
			Reasoning:            "scripted",
		},
		Team: models.TeamProposal{Lead: lead, Members: members},
		Task: models.TaskSpec{Description: "scripted task"},
	})
	f.planning.replies = append(f.planning.replies, string(reply))
}

func inboundEvent(id, content string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		Kind:      eventbus.KindTextReply,
		PubKey:    requesterPubkey,
		CreatedAt: nostr.Now(),
		Content:   content,
	}
}

func TestHandleEventSingleAgent(t *testing.T) {
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").replies = []string{"Pong"}
	ctx := context.Background()

	event := inboundEvent("evt-1", "Ping the system")
	if err := f.coordinator.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	replies := f.bus.ofKind(eventbus.KindTextReply)
	if len(replies) != 1 {
		t.Fatalf("published replies = %d, want 1", len(replies))
	}
	reply := replies[0]
	if reply.Content != "Pong" {
		t.Errorf("reply content = %q, want Pong", reply.Content)
	}
	if got := eventbus.TagValue(reply, "e"); got != "evt-1" {
		t.Errorf("reply e tag = %q, want evt-1", got)
	}
	if got := eventbus.TagValue(reply, "a"); got != "24000:pub:demo" {
		t.Errorf("reply a tag = %q, want the project address", got)
	}
	if reply.PubKey != f.agent(t, "architect").PublicKey() {
		t.Errorf("reply author = %q, want architect", reply.PubKey)
	}
	if reply.Sig == "" {
		t.Error("reply is unsigned")
	}

	conv, err := f.agent(t, "architect").Conversation(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(conv.Messages) != 3 {
		t.Fatalf("conversation messages = %d, want system, request, reply", len(conv.Messages))
	}
	roles := []models.Role{models.RoleSystem, models.RoleUser, models.RoleAssistant}
	for i, want := range roles {
		if conv.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %s, want %s", i, conv.Messages[i].Role, want)
		}
	}

	processed, err := f.store.IsProcessed(ctx, "evt-1")
	if err != nil || !processed {
		t.Errorf("IsProcessed = %v, %v; want true", processed, err)
	}
	if got := f.bus.countKind(eventbus.KindConversation); got != 1 {
		t.Errorf("snapshot events = %d, want 1", got)
	}
}

func TestHandleEventDeduplicatesRedelivery(t *testing.T) {
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").replies = []string{"Pong"}
	ctx := context.Background()

	event := inboundEvent("evt-1", "Ping the system")
	if err := f.coordinator.HandleEvent(ctx, event); err != nil {
		t.Fatalf("first HandleEvent() error = %v", err)
	}
	firstReplies := f.bus.countKind(eventbus.KindTextReply)
	firstCalls := f.provider("architect").callCount()

	if err := f.coordinator.HandleEvent(ctx, event); err != nil {
		t.Fatalf("second HandleEvent() error = %v", err)
	}

	if got := f.bus.countKind(eventbus.KindTextReply); got != firstReplies {
		t.Errorf("replies after redelivery = %d, want %d", got, firstReplies)
	}
	if got := f.provider("architect").callCount(); got != firstCalls {
		t.Errorf("provider calls after redelivery = %d, want %d", got, firstCalls)
	}
}

func TestHandleEventAddressedAgentSkipsPlanning(t *testing.T) {
	f := newFixture(t, "architect", "coder")
	f.provider("coder").replies = []string{"on it"}
	ctx := context.Background()

	event := inboundEvent("evt-1", "Coder, please handle this")
	event.Tags = nostr.Tags{{"p", f.agent(t, "coder").PublicKey()}}

	if err := f.coordinator.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := f.planning.callCount(); got != 0 {
		t.Errorf("planning calls = %d, want 0 for an addressed request", got)
	}
	replies := f.bus.ofKind(eventbus.KindTextReply)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if replies[0].PubKey != f.agent(t, "coder").PublicKey() {
		t.Errorf("reply author = %q, want coder", replies[0].PubKey)
	}
	if f.provider("architect").callCount() != 0 {
		t.Error("unaddressed agent should not run")
	}
}

func TestHandleEventMultipleAddressedRunParallel(t *testing.T) {
	f := newFixture(t, "architect", "coder")
	f.provider("architect").replies = []string{"architect view"}
	f.provider("coder").replies = []string{"coder view"}
	ctx := context.Background()

	event := inboundEvent("evt-1", "Both of you, weigh in")
	event.Tags = nostr.Tags{
		{"p", f.agent(t, "architect").PublicKey()},
		{"p", f.agent(t, "coder").PublicKey()},
	}

	if err := f.coordinator.HandleEvent(ctx, event); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := f.planning.callCount(); got != 0 {
		t.Errorf("planning calls = %d, want 0", got)
	}
	if got := f.bus.countKind(eventbus.KindTextReply); got != 2 {
		t.Errorf("replies = %d, want one per addressed agent", got)
	}
}

func TestHandleEventPlannerFallback(t *testing.T) {
	f := newFixture(t, "architect", "coder")
	f.planning.err = errors.New("planning endpoint down")
	f.provider("architect").replies = []string{"handled alone"}
	ctx := context.Background()

	if err := f.coordinator.HandleEvent(ctx, inboundEvent("evt-1", "Do something")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	replies := f.bus.ofKind(eventbus.KindTextReply)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want the default agent's answer", len(replies))
	}
	if replies[0].Content != "handled alone" {
		t.Errorf("reply = %q", replies[0].Content)
	}
	if f.provider("coder").callCount() != 0 {
		t.Error("fallback team should not include the second agent")
	}
}

func TestHandleEventSuppressesBowOut(t *testing.T) {
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").replies = []string{"I have nothing to add here."}
	ctx := context.Background()

	if err := f.coordinator.HandleEvent(ctx, inboundEvent("evt-1", "Anything to say?")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := f.bus.countKind(eventbus.KindTextReply); got != 0 {
		t.Errorf("replies = %d, want the bow-out suppressed", got)
	}
	// The event still counts as handled.
	processed, _ := f.store.IsProcessed(ctx, "evt-1")
	if !processed {
		t.Error("event should be marked processed despite the suppressed reply")
	}
	if got := f.bus.countKind(eventbus.KindConversation); got != 1 {
		t.Errorf("snapshot events = %d, want 1", got)
	}
}

func TestHandleEventFailedRunPublishesDiagnostic(t *testing.T) {
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").err = errors.New("rate limited")
	ctx := context.Background()

	if err := f.coordinator.HandleEvent(ctx, inboundEvent("evt-1", "Do something")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	replies := f.bus.ofKind(eventbus.KindTextReply)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want one diagnostic", len(replies))
	}
	if !strings.Contains(replies[0].Content, "could not complete this request") {
		t.Errorf("diagnostic = %q", replies[0].Content)
	}
	if !strings.Contains(replies[0].Content, "rate limited") {
		t.Errorf("diagnostic should carry the cause, got %q", replies[0].Content)
	}
	processed, _ := f.store.IsProcessed(ctx, "evt-1")
	if !processed {
		t.Error("failed runs still mark the event processed")
	}
}

func TestHandleEventSkipsEmptyContent(t *testing.T) {
	f := newFixture(t, "architect")
	ctx := context.Background()

	if err := f.coordinator.HandleEvent(ctx, inboundEvent("evt-1", "   ")); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := len(f.bus.events); got != 0 {
		t.Errorf("published events = %d, want 0", got)
	}
	if f.planning.callCount() != 0 {
		t.Error("empty events should not reach planning")
	}
	// Not marked processed: a later non-empty edit of the thread is new work.
	processed, _ := f.store.IsProcessed(ctx, "evt-1")
	if processed {
		t.Error("skipped events should not be marked processed")
	}
}

func TestHandleEventSkipsOwnTaskEcho(t *testing.T) {
	f := newFixture(t, "architect")
	ctx := context.Background()

	echo := &nostr.Event{
		ID:        "evt-task",
		Kind:      eventbus.KindTask,
		PubKey:    f.agent(t, "architect").PublicKey(),
		CreatedAt: nostr.Now(),
		Content:   "write the code",
	}
	if err := f.coordinator.HandleEvent(ctx, echo); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := len(f.bus.events); got != 0 {
		t.Errorf("published events = %d, want 0", got)
	}
	if f.planning.callCount() != 0 {
		t.Error("own task echoes should not reach planning")
	}
}

func TestHandleEventAgentTaskAssignmentRuns(t *testing.T) {
	// A task published by a non-agent key is real inbound work.
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").replies = []string{"task done"}
	ctx := context.Background()

	task := &nostr.Event{
		ID:        "evt-task",
		Kind:      eventbus.KindTask,
		PubKey:    requesterPubkey,
		CreatedAt: nostr.Now(),
		Content:   "write the code",
	}
	if err := f.coordinator.HandleEvent(ctx, task); err != nil {
		t.Fatalf("HandleEvent() error = %v", err)
	}

	if got := f.bus.countKind(eventbus.KindTextReply); got != 1 {
		t.Errorf("replies = %d, want 1", got)
	}
}

func TestHandleEventThreadsFollowUps(t *testing.T) {
	f := newFixture(t, "architect")
	f.planReply("architect", []string{"architect"}, "single")
	f.planReply("architect", []string{"architect"}, "single")
	f.provider("architect").replies = []string{"first answer", "second answer"}
	ctx := context.Background()

	if err := f.coordinator.HandleEvent(ctx, inboundEvent("evt-1", "First question")); err != nil {
		t.Fatalf("first HandleEvent() error = %v", err)
	}

	followUp := inboundEvent("evt-2", "Follow-up question")
	followUp.Tags = nostr.Tags{{"e", "evt-1"}}
	if err := f.coordinator.HandleEvent(ctx, followUp); err != nil {
		t.Fatalf("second HandleEvent() error = %v", err)
	}

	// Both turns land in the conversation rooted at the first event.
	conv, err := f.agent(t, "architect").Conversation(ctx, "evt-1")
	if err != nil {
		t.Fatalf("Conversation() error = %v", err)
	}
	if len(conv.Messages) != 5 {
		t.Errorf("conversation messages = %d, want system plus two exchanges", len(conv.Messages))
	}
	if _, err := f.agent(t, "architect").Conversation(ctx, "evt-2"); err == nil {
		t.Error("follow-up should not open a second conversation")
	}
}

func TestProfileOverride(t *testing.T) {
	f := newFixture(t, "architect")

	event := inboundEvent("evt-1", "Use the good model")
	event.Tags = nostr.Tags{{"model", "architect"}}
	if got := f.coordinator.profileOverride(event); got == nil {
		t.Error("known profile name should resolve")
	} else if got.Model != "architect-model" {
		t.Errorf("override model = %q, want architect-model", got.Model)
	}

	event.Tags = nostr.Tags{{"model", "nonexistent"}}
	if got := f.coordinator.profileOverride(event); got != nil {
		t.Errorf("unknown profile resolved to %+v, want nil", got)
	}

	event.Tags = nil
	if got := f.coordinator.profileOverride(event); got != nil {
		t.Errorf("absent tag resolved to %+v, want nil", got)
	}
}

func TestShouldPublish(t *testing.T) {
	render := map[string]any{"widget": true}
	cases := []struct {
		name string
		resp models.AgentResponse
		want bool
	}{
		{"normal content", models.AgentResponse{Content: "an answer"}, true},
		{"empty", models.AgentResponse{Content: "   "}, false},
		{"bow-out", models.AgentResponse{Content: "I have nothing to add."}, false},
		{"bow-out uppercase", models.AgentResponse{Content: "NOTHING TO ADD"}, false},
		{"bow-out with render", models.AgentResponse{Content: "nothing to add", RenderInChat: render}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := shouldPublish(tc.resp); got != tc.want {
				t.Errorf("shouldPublish(%q) = %v, want %v", tc.resp.Content, got, tc.want)
			}
		})
	}
}

func TestRunLocksSerialisePerConversation(t *testing.T) {
	locks := newRunLocks()

	var mu sync.Mutex
	var active, peak int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.lock("conv-1")
			defer release()

			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Errorf("peak concurrency on one conversation = %d, want 1", peak)
	}
	if n := len(locks.locks); n != 0 {
		t.Errorf("lock table size after release = %d, want 0", n)
	}
}

func TestNewValidatesWiring(t *testing.T) {
	f := newFixture(t, "architect")
	pl, _ := planner.New(planner.Config{Provider: f.planning, DefaultAgent: "architect"})

	cases := []struct {
		name   string
		config Config
	}{
		{"missing bus", Config{Registry: f.registry, Planner: pl, Store: f.store}},
		{"missing registry", Config{Bus: f.bus, Planner: pl, Store: f.store}},
		{"missing planner", Config{Bus: f.bus, Registry: f.registry, Store: f.store}},
		{"missing store", Config{Bus: f.bus, Registry: f.registry, Planner: pl}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.config); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}
