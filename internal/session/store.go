package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/log"
)

// Limits defaults.
const (
	DefaultMaxPerProvider = 30
	DefaultMaxMessages    = 40

	// maxMessageBytes is a safety cap per message content. It is not meant
	// to truncate ordinary messages.
	maxMessageBytes = 64 * 1024
)

// Limits caps what a store retains.
type Limits struct {
	MaxPerProvider int // sessions kept per provider, oldest-by-updatedAt dropped
	MaxMessages    int // messages kept per session, oldest dropped
}

// DefaultLimits returns the retention defaults.
func DefaultLimits() Limits {
	return Limits{MaxPerProvider: DefaultMaxPerProvider, MaxMessages: DefaultMaxMessages}
}

// Backend is the storage the host supplies. The store defines shape and
// pruning; the backend only reads and writes rows.
//
// Upsert replaces the whole row keyed by Session.ID. ListByProvider returns
// sessions newest-first by UpdatedAt. Get returns ErrNotFound for missing
// ids.
type Backend interface {
	Upsert(ctx context.Context, sess Session) error
	Get(ctx context.Context, id uuid.UUID) (Session, error)
	ListByProvider(ctx context.Context, providerID string) ([]Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Store manages session persistence over a Backend.
type Store struct {
	backend Backend
	limits  Limits
	logger  log.Logger

	now func() time.Time // injectable clock for tests
}

// NewStore creates a session store. Zero-value limits fall back to
// defaults.
func NewStore(backend Backend, limits Limits, logger log.Logger) *Store {
	if limits.MaxPerProvider <= 0 {
		limits.MaxPerProvider = DefaultMaxPerProvider
	}
	if limits.MaxMessages <= 0 {
		limits.MaxMessages = DefaultMaxMessages
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{backend: backend, limits: limits, logger: logger, now: time.Now}
}

// Upsert writes sess keyed by its ID and returns the stored value.
//
// CreatedAt is set only when the session is new (or carries one already,
// as during migration); UpdatedAt is always refreshed. The title is derived
// once from the first non-empty user message and never recomputed. Messages
// are capped to the last MaxMessages. After the write, the provider's
// sessions are pruned beyond MaxPerProvider, oldest by UpdatedAt first.
func (s *Store) Upsert(ctx context.Context, sess Session) (Session, error) {
	if sess.ID == uuid.Nil {
		return Session{}, fmt.Errorf("session id is required")
	}
	if sess.ProviderID == "" {
		return Session{}, fmt.Errorf("session provider id is required")
	}

	sess.Messages = capMessages(sess.Messages, s.limits.MaxMessages)

	existing, err := s.backend.Get(ctx, sess.ID)
	switch {
	case err == nil:
		sess.CreatedAt = existing.CreatedAt
		if existing.Title != "" {
			sess.Title = existing.Title
		} else if sess.Title == "" {
			sess.Title = DeriveTitle(sess.Messages)
		}
	case err == ErrNotFound:
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = s.now()
		}
		if sess.Title == "" {
			sess.Title = DeriveTitle(sess.Messages)
		}
	default:
		return Session{}, fmt.Errorf("looking up session %s: %w", sess.ID, err)
	}
	sess.UpdatedAt = s.now()

	if err := s.backend.Upsert(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("upserting session %s: %w", sess.ID, err)
	}

	if err := s.pruneProvider(ctx, sess.ProviderID); err != nil {
		s.logger.Warn("pruning sessions", "provider", sess.ProviderID, "error", err)
	}

	s.logger.Debug("session upserted",
		"id", sess.ID, "provider", sess.ProviderID, "messages", len(sess.Messages))
	return sess, nil
}

// ListByProvider returns the provider's sessions newest-first.
func (s *Store) ListByProvider(ctx context.Context, providerID string) ([]Session, error) {
	sessions, err := s.backend.ListByProvider(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", providerID, err)
	}
	return sessions, nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	sess, err := s.backend.Get(ctx, id)
	if err != nil {
		return Session{}, fmt.Errorf("getting session %s: %w", id, err)
	}
	return sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.backend.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting session %s: %w", id, err)
	}
	s.logger.Debug("session deleted", "id", id)
	return nil
}

// pruneProvider drops the provider's sessions beyond the cap, oldest by
// UpdatedAt first.
func (s *Store) pruneProvider(ctx context.Context, providerID string) error {
	sessions, err := s.backend.ListByProvider(ctx, providerID)
	if err != nil {
		return err
	}
	for _, victim := range sessions[min(len(sessions), s.limits.MaxPerProvider):] {
		if err := s.backend.Delete(ctx, victim.ID); err != nil {
			return err
		}
		s.logger.Debug("session pruned", "id", victim.ID, "provider", providerID)
	}
	return nil
}

// capMessages keeps the last limit messages and applies the per-message
// content safety cap.
func capMessages(messages []Message, limit int) []Message {
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	capped := make([]Message, len(messages))
	copy(capped, messages)
	for i := range capped {
		if len(capped[i].Content) > maxMessageBytes {
			capped[i].Content = capped[i].Content[:maxMessageBytes]
		}
	}
	return capped
}
