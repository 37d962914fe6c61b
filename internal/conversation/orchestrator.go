package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sidekick/internal/errdefs"
	"sidekick/internal/log"
	"sidekick/internal/provider"
	"sidekick/internal/search"
	"sidekick/internal/session"
	"sidekick/internal/stream"
)

// State is the phase of the active turn.
type State int

const (
	StateIdle State = iota
	StateClassifying
	StateSearching
	StateFetching
	StateComposing
	StateStreaming
	StateFinalized
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateClassifying: "classifying",
	StateSearching:   "searching",
	StateFetching:    "fetching",
	StateComposing:   "composing",
	StateStreaming:   "streaming",
	StateFinalized:   "finalized",
	StateCancelled:   "cancelled",
	StateFailed:      "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// behaviorInstruction opens every outbound message list.
const behaviorInstruction = "You are sidekick, a concise assistant in the user's browser sidebar. Format answers in Markdown."

// Classifier decides whether a query needs web search.
type Classifier interface {
	NeedsSearch(ctx context.Context, cfg provider.Config, query string, isFollowUp bool) bool
}

// Searcher runs a web search. ok=false means "answer from knowledge".
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, bool)
}

// Fetcher retrieves page content for search results. It cannot fail.
type Fetcher interface {
	FetchAll(ctx context.Context, results []search.Result, maxResults int) []search.Result
}

// SessionWriter persists finalized turns.
type SessionWriter interface {
	Upsert(ctx context.Context, sess session.Session) (session.Session, error)
}

// Events carries the host callbacks for one turn. Either field may be nil.
type Events struct {
	// OnDelta receives the accumulated assistant text, debounced while
	// streaming with one final call on completion or abort.
	OnDelta func(accumulated string)

	// OnState observes turn phase transitions.
	OnState func(State)
}

// Result is the outcome of a turn. UserError is the only user-facing error
// text the pipeline produces; it is empty on success.
type Result struct {
	Content   string
	Sources   []session.SourceRef
	UserError string
}

// Config wires an Orchestrator.
type Config struct {
	Provider provider.Config
	Client   provider.Doer

	// Search pipeline; all three may be nil when search is disabled.
	Classifier Classifier
	Searcher   Searcher
	Fetcher    Fetcher

	// Sessions may be nil to disable persistence.
	Sessions SessionWriter

	Logger log.Logger

	SearchEnabled    bool
	MaxSearchResults int           // default 3
	FlushInterval    time.Duration // debounce window, default stream.DefaultFlushInterval
	Language         string        // "" or "auto" = match the user's language
}

func (cfg Config) validate() error {
	if err := cfg.Provider.Validate(); err != nil {
		return err
	}
	if cfg.Client == nil {
		return fmt.Errorf("http client is required")
	}
	if cfg.SearchEnabled && (cfg.Classifier == nil || cfg.Searcher == nil || cfg.Fetcher == nil) {
		return fmt.Errorf("search is enabled but the search pipeline is incomplete")
	}
	return nil
}

// Orchestrator drives turns for one conversation. At most one turn is
// active at a time: starting a new turn cancels any turn in flight, and the
// per-turn cancellation token is threaded through every suspension point
// the turn reaches.
type Orchestrator struct {
	provider   provider.Config
	client     provider.Doer
	classifier Classifier
	searcher   Searcher
	fetcher    Fetcher
	sessions   SessionWriter
	logger     log.Logger

	searchEnabled bool
	maxResults    int
	flushInterval time.Duration
	language      string

	conv *Conversation

	mu           sync.Mutex
	cancelActive context.CancelFunc
	turnSeq      uint64
	state        State
}

// New creates an Orchestrator with an empty conversation.
func New(cfg Config) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxResults := cfg.MaxSearchResults
	if maxResults <= 0 {
		maxResults = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Orchestrator{
		provider:      cfg.Provider,
		client:        cfg.Client,
		classifier:    cfg.Classifier,
		searcher:      cfg.Searcher,
		fetcher:       cfg.Fetcher,
		sessions:      cfg.Sessions,
		logger:        logger,
		searchEnabled: cfg.SearchEnabled,
		maxResults:    maxResults,
		flushInterval: cfg.FlushInterval,
		language:      cfg.Language,
		conv:          NewConversation(),
		state:         StateIdle,
	}, nil
}

// Conversation returns the orchestrator's conversation.
func (o *Orchestrator) Conversation() *Conversation { return o.conv }

// State returns the current turn state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cancel aborts the turn in flight, if any. This and starting a new turn
// are the only ways a turn is cancelled.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelActive != nil {
		o.cancelActive()
	}
}

// Send drives one user message through the turn pipeline and returns the
// finalized assistant content. A turn already in flight is cancelled first.
//
// On failure the returned error carries the errdefs taxonomy and
// Result.UserError the corresponding user-facing text; the conversation
// stays usable for retry.
func (o *Orchestrator) Send(ctx context.Context, text string, ev Events) (Result, error) {
	turnCtx, seq := o.begin(ctx)
	defer o.finish(seq)

	isFollowUp := o.conv.HasUserTurn()

	var fetched []search.Result
	if o.searchAvailable() {
		o.setState(StateClassifying, ev)
		if o.classifier.NeedsSearch(turnCtx, o.provider, text, isFollowUp) {
			o.setState(StateSearching, ev)
			if results, ok := o.searcher.Search(turnCtx, text, o.maxResults); ok && len(results) > 0 {
				o.setState(StateFetching, ev)
				fetched = o.fetcher.FetchAll(turnCtx, results, o.maxResults)
			}
		}
	}
	if err := turnCtx.Err(); err != nil {
		return o.fail(ev, fmt.Errorf("%w: %v", errdefs.ErrAborted, err))
	}

	o.setState(StateComposing, ev)
	outbound := o.compose(text, fetched)
	o.conv.Append(session.Message{Role: session.RoleUser, Content: text})

	o.setState(StateStreaming, ev)
	content, err := o.streamResponse(turnCtx, outbound, ev)
	if err != nil {
		// Partial text is discarded: nothing was appended yet.
		return o.fail(ev, err)
	}

	sources := sourceRefs(fetched)
	o.conv.Append(session.Message{
		Role:    session.RoleAssistant,
		Content: content,
		Sources: sources,
	})

	if err := o.persist(turnCtx); err != nil {
		// Best-effort: a persistence hiccup must not fail a finished turn.
		o.logger.Warn("persisting session", "error", err)
	}

	o.setState(StateFinalized, ev)
	return Result{Content: content, Sources: sources}, nil
}

// begin cancels any active turn and installs this turn's cancel func.
func (o *Orchestrator) begin(parent context.Context) (context.Context, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelActive != nil {
		o.cancelActive()
	}
	ctx, cancel := context.WithCancel(parent)
	o.turnSeq++
	o.cancelActive = cancel
	return ctx, o.turnSeq
}

// finish releases the turn's cancel func unless a newer turn replaced it.
func (o *Orchestrator) finish(seq uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turnSeq == seq && o.cancelActive != nil {
		o.cancelActive()
		o.cancelActive = nil
	}
}

func (o *Orchestrator) setState(s State, ev Events) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("turn state", "state", s.String())
	if ev.OnState != nil {
		ev.OnState(s)
	}
}

// fail translates a terminal error into the user-facing taxonomy. The sole
// place an error becomes user-visible text.
func (o *Orchestrator) fail(ev Events, err error) (Result, error) {
	if errdefs.Aborted(err) {
		o.setState(StateCancelled, ev)
	} else {
		o.setState(StateFailed, ev)
		o.logger.Error("turn failed", "error", err)
	}
	return Result{UserError: errdefs.UserMessage(err)}, err
}

func (o *Orchestrator) searchAvailable() bool {
	return o.searchEnabled && o.provider.SupportsSearch &&
		o.classifier != nil && o.searcher != nil && o.fetcher != nil
}

// compose builds the outbound message list: behavior/language instruction,
// prior turns, the optional synthesized search-results message immediately
// before the latest user message, then the user message.
func (o *Orchestrator) compose(text string, fetched []search.Result) []provider.Message {
	prior := o.conv.Messages()
	outbound := make([]provider.Message, 0, len(prior)+3)
	outbound = append(outbound, provider.Message{
		Role:    provider.RoleSystem,
		Content: o.systemInstruction(),
	})

	for _, msg := range prior {
		if msg.Role != session.RoleUser && msg.Role != session.RoleAssistant {
			continue
		}
		outbound = append(outbound, provider.Message{Role: msg.Role, Content: msg.Content})
	}

	if len(fetched) > 0 {
		outbound = append(outbound, provider.Message{
			Role:    provider.RoleSystem,
			Content: searchContext(fetched),
		})
	}

	return append(outbound, provider.Message{Role: provider.RoleUser, Content: text})
}

func (o *Orchestrator) systemInstruction() string {
	lang := o.language
	if lang == "" || lang == "auto" {
		return behaviorInstruction + " Respond in the same language as the user's message."
	}
	return fmt.Sprintf("%s Respond in %s.", behaviorInstruction, lang)
}

// searchContext renders fetched results with citation instructions.
func searchContext(fetched []search.Result) string {
	var b strings.Builder
	b.WriteString("Web search results for the user's latest message follow. ")
	b.WriteString("Ground your answer in them when relevant and cite the sources you use inline as [n], matching the numbers below. ")
	b.WriteString("If they are irrelevant, answer from your own knowledge and cite nothing.\n")
	for _, r := range fetched {
		fmt.Fprintf(&b, "\n[%d] %s (%s)\n%s\n%s\n", r.Ordinal, r.Title, r.SiteLabel, r.URL, r.Content)
	}
	return b.String()
}

// streamResponse runs the provider request and drains the delta stream
// through the debounce batcher. The batcher flushes exactly once more after
// the loop ends, on success and abort alike.
func (o *Orchestrator) streamResponse(ctx context.Context, outbound []provider.Message, ev Events) (string, error) {
	req, err := provider.NewChatRequest(ctx, o.provider, outbound, true)
	if err != nil {
		return "", err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	flush := ev.OnDelta
	if flush == nil {
		flush = func(string) {}
	}
	batcher := stream.NewBatcher(o.flushInterval, flush)

	for delta, err := range stream.Deltas(ctx, resp.Body, o.provider.WireFormat) {
		if err != nil {
			batcher.Stop()
			return "", err
		}
		batcher.Add(delta)
	}

	batcher.Stop()
	return batcher.Text(), nil
}

// sourceRefs converts fetched results into the citations attached to the
// assistant message.
func sourceRefs(fetched []search.Result) []session.SourceRef {
	if len(fetched) == 0 {
		return nil
	}
	refs := make([]session.SourceRef, len(fetched))
	for i, r := range fetched {
		refs[i] = session.SourceRef{
			Title:     r.Title,
			URL:       r.URL,
			SiteLabel: r.SiteLabel,
			Ordinal:   r.Ordinal,
		}
	}
	return refs
}

// persist upserts the conversation into the bound session, creating and
// binding one on first finalize.
func (o *Orchestrator) persist(ctx context.Context) error {
	if o.sessions == nil {
		return nil
	}
	id := o.conv.BoundSessionID()
	if id == uuid.Nil {
		id = uuid.New()
	}
	sess, err := o.sessions.Upsert(ctx, session.Session{
		ID:         id,
		ProviderID: o.provider.ID,
		Messages:   o.conv.Messages(),
	})
	if err != nil {
		return err
	}
	o.conv.Bind(sess.ID)
	return nil
}
