// Package conversation drives one user message through the full turn
// pipeline — classify, search, fetch, compose, stream, persist — under a
// single cancellation token owned by the orchestrator.
package conversation

import (
	"sync"

	"github.com/google/uuid"

	"sidekick/internal/session"
)

// Conversation is the runtime transcript: ordered messages plus an optional
// bound session id controlling whether finalize updates an existing session
// or creates one.
//
// A conversation is touched by at most one active turn at a time; the mutex
// only guards against host reads racing that turn.
type Conversation struct {
	mu             sync.Mutex
	messages       []session.Message
	boundSessionID uuid.UUID // uuid.Nil = unbound
}

// NewConversation creates an empty, unbound conversation.
func NewConversation() *Conversation {
	return &Conversation{}
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []session.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]session.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Append adds a message to the transcript.
func (c *Conversation) Append(msg session.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// HasUserTurn reports whether the transcript already contains a user
// message, which makes the next message a follow-up.
func (c *Conversation) HasUserTurn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.messages {
		if msg.Role == session.RoleUser {
			return true
		}
	}
	return false
}

// BoundSessionID returns the bound session id, or uuid.Nil.
func (c *Conversation) BoundSessionID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundSessionID
}

// Bind ties the conversation to a stored session so finalize upserts it.
func (c *Conversation) Bind(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundSessionID = id
}

// LoadSession replaces the transcript wholesale with a stored session's
// messages and binds to it.
func (c *Conversation) LoadSession(sess session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make([]session.Message, len(sess.Messages))
	copy(c.messages, sess.Messages)
	c.boundSessionID = sess.ID
}

// Reset clears the transcript and unbinds the session.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.boundSessionID = uuid.Nil
}
