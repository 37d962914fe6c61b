// Package session persists conversation sessions: upsert with per-provider
// pruning, newest-first listing, deletion, and a one-time migration of the
// legacy JSON store.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// TitleMaxLength caps a derived session title, in runes.
const TitleMaxLength = 60

// SourceRef is a numbered citation attached to an assistant message,
// referenced inline as [n].
type SourceRef struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	SiteLabel string `json:"siteLabel"`
	Ordinal   int    `json:"ordinal"` // 1-based, unique within a turn
}

// Message is one persisted conversation entry. Append-only, chronological.
type Message struct {
	Role    string      `json:"role"`
	Content string      `json:"content"`
	Sources []SourceRef `json:"sources,omitempty"`
}

// Session is one logical conversation with a provider.
type Session struct {
	ID         uuid.UUID `json:"id"`
	ProviderID string    `json:"providerId"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Messages   []Message `json:"messages"`
}

// DeriveTitle computes a session title from the first non-empty user
// message, whitespace-collapsed and rune-capped. Computed once per session;
// never recomputed.
func DeriveTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser {
			continue
		}
		text := strings.Join(strings.Fields(msg.Content), " ")
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > TitleMaxLength {
			return string(runes[:TitleMaxLength-1]) + "…"
		}
		return text
	}
	return ""
}
