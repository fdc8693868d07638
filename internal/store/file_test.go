package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/tenex/pkg/models"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	original := newTestConversation("conv-1")
	if err := s.Save(ctx, original); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ID != "conv-1" || len(loaded.Messages) != 2 {
		t.Errorf("loaded = id %q with %d messages, want conv-1 with 2", loaded.ID, len(loaded.Messages))
	}
	if loaded.Messages[0].Role != models.RoleSystem {
		t.Errorf("first message role = %q, want system", loaded.Messages[0].Role)
	}
	if loaded.Phase != original.Phase {
		t.Errorf("Phase = %q, want %q", loaded.Phase, original.Phase)
	}
}

func TestFileStore_LayoutOnDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := s.Save(ctx, newTestConversation("abc123")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "conversations", "abc123.json")); err != nil {
		t.Errorf("expected conversations/abc123.json on disk: %v", err)
	}

	if err := s.MarkProcessed(ctx, "event-1", time.Now()); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "processed.json")); err != nil {
		t.Errorf("expected processed.json on disk: %v", err)
	}
}

func TestFileStore_ProcessedSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	if err := s.MarkProcessed(ctx, "event-1", time.Now()); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore(reopen) error = %v", err)
	}
	ok, err := reopened.IsProcessed(ctx, "event-1")
	if err != nil || !ok {
		t.Errorf("IsProcessed after reopen = %v, %v; want true", ok, err)
	}
}

func TestFileStore_AppendMessage(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := s.Save(ctx, newTestConversation("conv-1")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	msg := models.NewAssistantMessage("alice", "Pong", nil)
	if err := s.AppendMessage(ctx, "conv-1", &msg); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	loaded, err := s.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(loaded.Messages) != 3 || loaded.Messages[2].Content != "Pong" {
		t.Errorf("messages after append = %d, want 3 ending in Pong", len(loaded.Messages))
	}

	missing := models.NewUserMessage("x", "")
	if err := s.AppendMessage(ctx, "missing", &missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFileStore_Cleanup(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	if err := s.Save(ctx, newTestConversation("old")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(ctx, newTestConversation("fresh")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Rewrite the old conversation with a stale UpdatedAt.
	path := filepath.Join(dir, "conversations", "old.json")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var stale models.Conversation
	if err := json.Unmarshal(data, &stale); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	stale.UpdatedAt = time.Now().Add(-40 * 24 * time.Hour)
	rewritten, err := json.Marshal(&stale)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, rewritten, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	removed, err := s.Cleanup(ctx, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("Cleanup() removed = %d, want 1", removed)
	}
	if _, err := s.Load(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old conversation should be gone, got %v", err)
	}
	if _, err := s.Load(ctx, "fresh"); err != nil {
		t.Errorf("fresh conversation should remain, got %v", err)
	}
}

func TestSanitizeID(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abc123", "abc123"},
		{"abc123-alice", "abc123-alice"},
		{"../escape", ".._escape"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := sanitizeID(tt.input); got != tt.want {
			t.Errorf("sanitizeID(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	// Oversized ids fall back to a digest name.
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := sanitizeID(string(long)); len(got) != 64 {
		t.Errorf("sanitizeID(long) = %q, want 64-char digest", got)
	}
}
