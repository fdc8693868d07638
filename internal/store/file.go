package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/tenex/pkg/models"
)

const (
	conversationsDir = "conversations"
	processedFile    = "processed.json"
)

// FileStore persists each conversation as a JSON document under
// <dir>/conversations/<id>.json and the processed-event index in
// <dir>/processed.json. Writes go through a temp file and rename so a
// crash never leaves a partial document.
type FileStore struct {
	dir    string
	locker *idLocker

	mu        sync.RWMutex
	processed map[string]time.Time
}

// NewFileStore creates the directory layout and loads the processed index.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store: dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, conversationsDir), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create layout: %w", err)
	}

	s := &FileStore{
		dir:       dir,
		locker:    newIDLocker(),
		processed: map[string]time.Time{},
	}
	if err := s.loadProcessed(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	data, err := os.ReadFile(s.conversationPath(conversationID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load %q: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("load %q: %w", conversationID, err)
	}

	var conversation models.Conversation
	if err := json.Unmarshal(data, &conversation); err != nil {
		return nil, fmt.Errorf("load %q: decode: %w", conversationID, err)
	}
	return &conversation, nil
}

func (s *FileStore) Save(ctx context.Context, conversation *models.Conversation) error {
	if conversation == nil || conversation.ID == "" {
		return fmt.Errorf("save: conversation with id is required")
	}

	unlock := s.locker.lock(sanitizeID(conversation.ID))
	defer unlock()

	clone := conversation.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	return s.writeConversation(clone)
}

func (s *FileStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("append to %q: message is required", conversationID)
	}

	unlock := s.locker.lock(sanitizeID(conversationID))
	defer unlock()

	conversation, err := s.Load(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("append to %q: %w", conversationID, err)
	}
	conversation.AddMessage(*msg)
	conversation.UpdatedAt = time.Now()
	return s.writeConversation(conversation)
}

func (s *FileStore) Delete(ctx context.Context, conversationID string) error {
	unlock := s.locker.lock(sanitizeID(conversationID))
	defer unlock()

	err := os.Remove(s.conversationPath(conversationID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %q: %w", conversationID, err)
	}
	return nil
}

func (s *FileStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *FileStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.processed[eventID]; ok {
		return nil
	}
	s.processed[eventID] = at
	return s.saveProcessedLocked()
}

func (s *FileStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, conversationsDir))
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		unlock := s.locker.lock(id)
		path := filepath.Join(s.dir, conversationsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			unlock()
			continue
		}
		var conversation models.Conversation
		if err := json.Unmarshal(data, &conversation); err != nil {
			unlock()
			continue
		}
		if conversation.UpdatedAt.Before(olderThan) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		unlock()
	}

	s.mu.Lock()
	for eventID, at := range s.processed {
		if at.Before(olderThan) {
			delete(s.processed, eventID)
		}
	}
	err = s.saveProcessedLocked()
	s.mu.Unlock()
	if err != nil {
		return removed, err
	}
	return removed, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) conversationPath(conversationID string) string {
	return filepath.Join(s.dir, conversationsDir, sanitizeID(conversationID)+".json")
}

func (s *FileStore) writeConversation(conversation *models.Conversation) error {
	data, err := json.MarshalIndent(conversation, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", conversation.ID, err)
	}
	return writeFileAtomic(s.conversationPath(conversation.ID), data)
}

func (s *FileStore) loadProcessed() error {
	data, err := os.ReadFile(filepath.Join(s.dir, processedFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("file store: read processed index: %w", err)
	}
	if err := json.Unmarshal(data, &s.processed); err != nil {
		return fmt.Errorf("file store: decode processed index: %w", err)
	}
	return nil
}

func (s *FileStore) saveProcessedLocked() error {
	data, err := json.MarshalIndent(s.processed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed index: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, processedFile), data)
}

// sanitizeID maps a conversation id to a safe file name. Ids are event
// ids (hex) possibly suffixed with "-<member>", so this rarely rewrites
// anything, but arbitrary bytes must never reach the filesystem.
func sanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	if name == "" || len(name) > 200 {
		sum := sha256.Sum256([]byte(id))
		return hex.EncodeToString(sum[:])
	}
	return name
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
