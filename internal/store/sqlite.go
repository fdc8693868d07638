package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/haasonsaas/tenex/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS processed_events (
	event_id     TEXT PRIMARY KEY,
	processed_at INTEGER NOT NULL
);
`

// SQLiteStore persists conversations as JSON documents in SQLite. The
// updated_at column is denormalised for the retention sweep; everything
// else lives in the document.
type SQLiteStore struct {
	db     *sql.DB
	locker *idLocker
}

// NewSQLiteStore opens (creating if needed) a SQLite database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store: dsn is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %q: %w", dsn, err)
	}
	// The driver serialises writes; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: create schema: %w", err)
	}
	return &SQLiteStore{db: db, locker: newIDLocker()}, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle whose schema is
// already in place. Tests use this with a mock connection.
func NewSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, locker: newIDLocker()}
}

func (s *SQLiteStore) Load(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM conversations WHERE id = ?`, conversationID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %q: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", conversationID, err)
	}

	var conversation models.Conversation
	if err := json.Unmarshal([]byte(data), &conversation); err != nil {
		return nil, fmt.Errorf("load %q: decode: %w", conversationID, err)
	}
	return &conversation, nil
}

func (s *SQLiteStore) Save(ctx context.Context, conversation *models.Conversation) error {
	if conversation == nil || conversation.ID == "" {
		return fmt.Errorf("save: conversation with id is required")
	}

	unlock := s.locker.lock(conversation.ID)
	defer unlock()

	clone := conversation.Clone()
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = time.Now()
	return s.write(ctx, clone)
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *models.Message) error {
	if msg == nil {
		return fmt.Errorf("append to %q: message is required", conversationID)
	}

	unlock := s.locker.lock(conversationID)
	defer unlock()

	conversation, err := s.Load(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("append to %q: %w", conversationID, err)
	}
	conversation.AddMessage(*msg)
	conversation.UpdatedAt = time.Now()
	return s.write(ctx, conversation)
}

func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	unlock := s.locker.lock(conversationID)
	defer unlock()

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID,
	); err != nil {
		return fmt.Errorf("delete %q: %w", conversationID, err)
	}
	return nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = ?`, eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is processed %q: %w", eventID, err)
	}
	return true, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_events (event_id, processed_at) VALUES (?, ?)
		 ON CONFLICT(event_id) DO NOTHING`,
		eventID, at.Unix(),
	); err != nil {
		return fmt.Errorf("mark processed %q: %w", eventID, err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	cutoff := olderThan.Unix()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM conversations WHERE updated_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup: list stale: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("cleanup: scan: %w", err)
		}
		stale = append(stale, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("cleanup: iterate: %w", err)
	}
	rows.Close()

	removed := 0
	for _, id := range stale {
		unlock := s.locker.lock(id)
		result, err := s.db.ExecContext(ctx,
			`DELETE FROM conversations WHERE id = ? AND updated_at < ?`, id, cutoff,
		)
		unlock()
		if err != nil {
			return removed, fmt.Errorf("cleanup: delete %q: %w", id, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			removed += int(n)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_events WHERE processed_at < ?`, cutoff,
	); err != nil {
		return removed, fmt.Errorf("cleanup: prune processed: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) write(ctx context.Context, conversation *models.Conversation) error {
	data, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("encode %q: %w", conversation.ID, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		conversation.ID, string(data), conversation.UpdatedAt.Unix(),
	); err != nil {
		return fmt.Errorf("write %q: %w", conversation.ID, err)
	}
	return nil
}
