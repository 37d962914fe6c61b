package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// legacySession is the shape of the old single-file JSON store: a map of
// provider id to session list, timestamps in Unix milliseconds.
type legacySession struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt int64           `json:"createdAt"`
	UpdatedAt int64           `json:"updatedAt"`
	Messages  []legacyMessage `json:"messages"`
}

type legacyMessage struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Sources []SourceRef `json:"sources,omitempty"`
}

// MigrateLegacyIfPresent imports the legacy JSON sessions file at
// legacyPath into the store, once. The file is renamed with a ".migrated"
// suffix afterwards so the import never repeats, and the whole operation is
// guarded by a file lock so concurrent processes cannot double-import.
//
// Returns the number of sessions imported. A missing legacy file is the
// normal case and returns (0, nil).
func (s *Store) MigrateLegacyIfPresent(ctx context.Context, legacyPath string) (int, error) {
	if _, err := os.Stat(legacyPath); os.IsNotExist(err) {
		return 0, nil
	}

	lock := flock.New(legacyPath + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("locking legacy sessions file: %w", err)
	}
	if !locked {
		// Another process is migrating.
		return 0, nil
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	// Re-check under the lock: the winner of a race renames the file.
	raw, err := os.ReadFile(legacyPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading legacy sessions file: %w", err)
	}

	var byProvider map[string][]legacySession
	if err := json.Unmarshal(raw, &byProvider); err != nil {
		return 0, fmt.Errorf("parsing legacy sessions file: %w", err)
	}

	imported := 0
	for providerID, sessions := range byProvider {
		for _, legacy := range sessions {
			sess := legacy.toSession(providerID)
			// Write through the backend directly: migration preserves the
			// legacy timestamps instead of refreshing UpdatedAt.
			sess.Messages = capMessages(sess.Messages, s.limits.MaxMessages)
			if sess.Title == "" {
				sess.Title = DeriveTitle(sess.Messages)
			}
			if err := s.backend.Upsert(ctx, sess); err != nil {
				return imported, fmt.Errorf("importing legacy session %s: %w", legacy.ID, err)
			}
			imported++
		}
		if err := s.pruneProvider(ctx, providerID); err != nil {
			s.logger.Warn("pruning after migration", "provider", providerID, "error", err)
		}
	}

	if err := os.Rename(legacyPath, legacyPath+".migrated"); err != nil {
		return imported, fmt.Errorf("retiring legacy sessions file: %w", err)
	}

	s.logger.Info("migrated legacy sessions", "count", imported)
	return imported, nil
}

func (l legacySession) toSession(providerID string) Session {
	id, err := uuid.Parse(l.ID)
	if err != nil {
		// Legacy ids were free-form strings; derive a stable UUID so
		// re-running against a stale file cannot duplicate sessions.
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(providerID+":"+l.ID))
	}

	messages := make([]Message, 0, len(l.Messages))
	for _, m := range l.Messages {
		messages = append(messages, Message{Role: m.Role, Content: m.Content, Sources: m.Sources})
	}

	return Session{
		ID:         id,
		ProviderID: providerID,
		Title:      l.Title,
		CreatedAt:  time.UnixMilli(l.CreatedAt),
		UpdatedAt:  time.UnixMilli(l.UpdatedAt),
		Messages:   messages,
	}
}
