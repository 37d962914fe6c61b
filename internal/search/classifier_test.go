package search

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"sidekick/internal/log"
	"sidekick/internal/provider"
	"sidekick/internal/testutil"
)

func classifierProvider(baseURL string) provider.Config {
	return provider.Config{
		ID:         "test",
		BaseURL:    baseURL,
		Model:      "test-model",
		WireFormat: provider.WireOpenAICompat,
	}
}

// countingDoer wraps a client and counts requests.
type countingDoer struct {
	inner provider.Doer
	calls atomic.Int32
}

func (d *countingDoer) Do(req *http.Request) (*http.Response, error) {
	d.calls.Add(1)
	return d.inner.Do(req)
}

func TestNeedsSearchDecisions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  bool
	}{
		{name: "search", reply: "SEARCH", want: true},
		{name: "answer", reply: "ANSWER", want: false},
		{name: "lowercase", reply: "search", want: true},
		{name: "padded", reply: "  SEARCH.  ", want: true},
		{name: "chatty", reply: "I think you should SEARCH for this", want: true},
		{name: "garbage", reply: "maybe?", want: false},
		{name: "empty", reply: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := testutil.JSONServer(t, http.StatusOK, testutil.OpenAICompletion(tt.reply))
			c := NewClassifier(http.DefaultClient, log.NewNop())

			got := c.NeedsSearch(context.Background(), classifierProvider(srv.URL), "what is the weather", false)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Follow-up messages never trigger search, and no completion is issued at
// all.
func TestNeedsSearchFollowUpSkipsCall(t *testing.T) {
	t.Parallel()

	srv := testutil.JSONServer(t, http.StatusOK, testutil.OpenAICompletion("SEARCH"))
	doer := &countingDoer{inner: http.DefaultClient}
	c := NewClassifier(doer, log.NewNop())

	got := c.NeedsSearch(context.Background(), classifierProvider(srv.URL), "and tomorrow?", true)
	assert.False(t, got)
	assert.Equal(t, int32(0), doer.calls.Load())
}

// A broken classifier can never block an answer: failures degrade to false.
func TestNeedsSearchDegradesOnFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		srv  func(t *testing.T) string
	}{
		{
			name: "http error",
			srv: func(t *testing.T) string {
				return testutil.JSONServer(t, http.StatusInternalServerError, "").URL
			},
		},
		{
			name: "malformed body",
			srv: func(t *testing.T) string {
				return testutil.JSONServer(t, http.StatusOK, "{not json").URL
			},
		},
		{
			name: "unreachable",
			srv: func(t *testing.T) string {
				srv := testutil.JSONServer(t, http.StatusOK, "")
				srv.Close()
				return srv.URL
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewClassifier(http.DefaultClient, log.NewNop())
			got := c.NeedsSearch(context.Background(), classifierProvider(tt.srv(t)), "anything", false)
			assert.False(t, got)
		})
	}
}
