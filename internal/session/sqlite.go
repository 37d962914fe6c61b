package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	messages    TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_sessions_provider_updated
	ON sessions(provider_id, updated_at DESC);
`

// SQLite is the Backend implementation over an embedded SQLite database.
type SQLite struct {
	db *sql.DB
}

// Compile-time interface verification.
var _ Backend = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the session database at dbPath.
func OpenSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing session schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (b *SQLite) Close() error {
	return b.db.Close()
}

// Upsert replaces the row keyed by sess.ID.
func (b *SQLite) Upsert(ctx context.Context, sess Session) error {
	messages, err := json.Marshal(sess.Messages)
	if err != nil {
		return fmt.Errorf("marshaling messages: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO sessions (id, provider_id, title, created_at, updated_at, messages)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider_id = excluded.provider_id,
			title       = excluded.title,
			created_at  = excluded.created_at,
			updated_at  = excluded.updated_at,
			messages    = excluded.messages`,
		sess.ID.String(), sess.ProviderID, sess.Title,
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(), string(messages),
	)
	if err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// Get returns one session, or ErrNotFound.
func (b *SQLite) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, provider_id, title, created_at, updated_at, messages
		FROM sessions WHERE id = ?`, id.String())

	sess, err := scanSession(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}
	return sess, nil
}

// ListByProvider returns the provider's sessions newest-first by
// updated_at.
func (b *SQLite) ListByProvider(ctx context.Context, providerID string) ([]Session, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, provider_id, title, created_at, updated_at, messages
		FROM sessions WHERE provider_id = ?
		ORDER BY updated_at DESC`, providerID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("reading session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session row. Missing rows are not an error.
func (b *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// scanSession reads one row through scan, shared by Get and ListByProvider.
func scanSession(scan func(dest ...any) error) (Session, error) {
	var (
		rawID, providerID, title, rawMessages string
		createdAt, updatedAt                  int64
	)
	if err := scan(&rawID, &providerID, &title, &createdAt, &updatedAt, &rawMessages); err != nil {
		return Session{}, err
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return Session{}, fmt.Errorf("invalid session id %q: %w", rawID, err)
	}
	var messages []Message
	if err := json.Unmarshal([]byte(rawMessages), &messages); err != nil {
		return Session{}, fmt.Errorf("unmarshaling messages: %w", err)
	}

	return Session{
		ID:         id,
		ProviderID: providerID,
		Title:      title,
		CreatedAt:  time.UnixMilli(createdAt),
		UpdatedAt:  time.UnixMilli(updatedAt),
		Messages:   messages,
	}, nil
}
