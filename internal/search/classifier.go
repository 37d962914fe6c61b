package search

import (
	"context"
	"strings"

	"sidekick/internal/log"
	"sidekick/internal/provider"
)

// classifierInstruction is the fixed routing instruction. The model must
// answer with exactly one of the two tokens; anything else is treated as
// "no search".
const classifierInstruction = "You decide whether answering the user's message requires up-to-date or factual information from the web. " +
	"Reply with exactly one word: SEARCH if a web search would materially improve the answer, or ANSWER if the question can be answered from general knowledge. " +
	"Do not output anything else."

// Classifier makes the one-shot search-or-answer routing decision with a
// single non-streaming completion.
type Classifier struct {
	client provider.Doer
	logger log.Logger
}

// NewClassifier creates a Classifier issuing completions through client.
func NewClassifier(client provider.Doer, logger log.Logger) *Classifier {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Classifier{client: client, logger: logger}
}

// NeedsSearch reports whether query warrants a web search. Follow-up
// messages never trigger one, and no call is made for them. Search is an
// optimization: every failure degrades to false so a broken classifier can
// never block an answer.
func (c *Classifier) NeedsSearch(ctx context.Context, cfg provider.Config, query string, isFollowUp bool) bool {
	if isFollowUp {
		return false
	}

	text, err := provider.Complete(ctx, c.client, cfg, []provider.Message{
		{Role: provider.RoleSystem, Content: classifierInstruction},
		{Role: provider.RoleUser, Content: query},
	})
	if err != nil {
		c.logger.Debug("search classification failed, answering without search", "error", err)
		return false
	}

	decision := strings.ToUpper(strings.TrimSpace(text))
	needs := strings.Contains(decision, "SEARCH")
	c.logger.Debug("search classification", "decision", decision, "needs_search", needs)
	return needs
}
