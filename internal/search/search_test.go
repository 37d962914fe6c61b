package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sidekick/internal/log"
)

const resultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//html.example/l/?uddg=https%3A%2F%2Ffirst.example%2Fpage">First result title</a>
  <div class="result__snippet">A short snippet.</div>
</div>
<div class="result">
  <a class="result__a" href="https://second.example/page">Second result title</a>
  <div class="result__snippet">A much longer snippet with considerably more detail in it.</div>
</div>
<div class="result">
  <a class="result__a" href="https://second.example/page">Duplicate of second</a>
  <div class="result__snippet">dup</div>
</div>
</body></html>`

const linksOnlyPage = `<html><body>
<nav><a href="/settings">short</a></nav>
<p>Some context around the link.
  <a href="https://linked.example/article">A readable external link title</a>
</p>
<p><a href="https://other.example/doc">Another qualifying link here</a></p>
</body></html>`

func newScrapeService(t *testing.T, page string) *Service {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return NewService(http.DefaultClient, NewCache(time.Minute, 10), Config{ScrapeURL: srv.URL}, log.NewNop())
}

func TestSearchScrapeStructural(t *testing.T) {
	t.Parallel()

	s := newScrapeService(t, resultsPage)
	results, ok := s.Search(context.Background(), "test query", 3)
	require.True(t, ok)
	require.Len(t, results, 2, "duplicate URL must be dropped")

	// Longer snippet ranks first; ordinals are 1-based after ranking.
	assert.Equal(t, "https://second.example/page", results[0].URL)
	assert.Equal(t, 1, results[0].Ordinal)
	assert.Equal(t, "second.example", results[0].SiteLabel)

	// Redirect href was unwrapped to the target URL.
	assert.Equal(t, "https://first.example/page", results[1].URL)
	assert.Equal(t, 2, results[1].Ordinal)

	// Content defaults to the snippet until fetch replaces it.
	assert.Equal(t, results[0].Snippet, results[0].Content)
}

func TestSearchScrapeLinksFallback(t *testing.T) {
	t.Parallel()

	s := newScrapeService(t, linksOnlyPage)
	results, ok := s.Search(context.Background(), "test query", 3)
	require.True(t, ok)
	require.Len(t, results, 2)

	urls := []string{results[0].URL, results[1].URL}
	assert.Contains(t, urls, "https://linked.example/article")
	assert.Contains(t, urls, "https://other.example/doc")
}

func TestSearchTruncatesToLimit(t *testing.T) {
	t.Parallel()

	s := newScrapeService(t, resultsPage)
	results, ok := s.Search(context.Background(), "test query", 1)
	require.True(t, ok)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Ordinal)
}

func TestSearchUsesCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer srv.Close()

	s := NewService(http.DefaultClient, NewCache(time.Minute, 10), Config{ScrapeURL: srv.URL}, log.NewNop())

	first, ok := s.Search(context.Background(), "cached query", 3)
	require.True(t, ok)
	second, ok := s.Search(context.Background(), "cached query", 3)
	require.True(t, ok)

	assert.Equal(t, int32(1), hits.Load(), "second search must be served from cache")
	assert.Equal(t, first, second)
}

func TestSearchAPIPreferred(t *testing.T) {
	t.Parallel()

	var scraped atomic.Int32
	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scraped.Add(1)
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer scrape.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "api query", req.Query)
		assert.Equal(t, 3, req.MaxResults)

		_, _ = w.Write([]byte(`{"results":[
			{"title":"API one","url":"https://api-one.example","content":"the longer of the two snippets"},
			{"title":"API two","url":"https://api-two.example","content":"short"}
		]}`))
	}))
	defer api.Close()

	s := NewService(http.DefaultClient, NewCache(time.Minute, 10), Config{
		APIBaseURL: api.URL,
		APIKey:     "test-key",
		ScrapeURL:  scrape.URL,
	}, log.NewNop())

	results, ok := s.Search(context.Background(), "api query", 3)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, "https://api-one.example", results[0].URL)
	assert.Equal(t, 1, results[0].Ordinal)
	assert.Equal(t, int32(0), scraped.Load(), "API success must skip the scrape fallback")
}

func TestSearchAPIFailureFallsBackToScrape(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{broken"))
	}))
	defer api.Close()

	scrape := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}))
	defer scrape.Close()

	s := NewService(http.DefaultClient, NewCache(time.Minute, 10), Config{
		APIBaseURL: api.URL,
		APIKey:     "test-key",
		ScrapeURL:  scrape.URL,
	}, log.NewNop())

	results, ok := s.Search(context.Background(), "query", 3)
	require.True(t, ok)
	assert.NotEmpty(t, results)
}

// Search never errors: every failure means "answer from knowledge".
func TestSearchFailureMeansNoData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(t *testing.T) *Service
		query string
		limit int
	}{
		{
			name: "unreachable scrape endpoint",
			setup: func(t *testing.T) *Service {
				srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
				srv.Close()
				return NewService(http.DefaultClient, nil, Config{ScrapeURL: srv.URL}, log.NewNop())
			},
			query: "q", limit: 3,
		},
		{
			name: "page with no results",
			setup: func(t *testing.T) *Service {
				return newScrapeService(t, "<html><body><p>nothing here</p></body></html>")
			},
			query: "q", limit: 3,
		},
		{
			name: "blank query",
			setup: func(t *testing.T) *Service {
				return newScrapeService(t, resultsPage)
			},
			query: "   ", limit: 3,
		},
		{
			name: "non-positive limit",
			setup: func(t *testing.T) *Service {
				return newScrapeService(t, resultsPage)
			},
			query: "q", limit: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			results, ok := tt.setup(t).Search(context.Background(), tt.query, tt.limit)
			assert.False(t, ok)
			assert.Nil(t, results)
		})
	}
}

func TestCleanResultURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		want string
	}{
		{name: "empty", href: "", want: ""},
		{name: "plain", href: "https://a.example/p", want: "https://a.example/p"},
		{name: "protocol relative", href: "//a.example/p", want: "https://a.example/p"},
		{
			name: "redirect unwrap",
			href: "//html.example/l/?uddg=" + url.QueryEscape("https://target.example/page?x=1"),
			want: "https://target.example/page?x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, cleanResultURL(tt.href))
		})
	}
}

func TestSiteLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", siteLabel("https://www.example.com/a/b"))
	assert.Equal(t, "docs.example.com", siteLabel("https://docs.example.com/"))
	assert.Equal(t, "not a url", siteLabel("not a url"))
}

func TestFinalize(t *testing.T) {
	t.Parallel()

	in := []Result{
		{URL: "https://a.example", Snippet: "short"},
		{URL: "https://b.example", Snippet: "the longest snippet of them all"},
		{URL: "https://a.example", Snippet: "duplicate"},
		{URL: "https://c.example", Snippet: "medium length one"},
	}

	out := finalize(in, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "https://b.example", out[0].URL)
	assert.Equal(t, 1, out[0].Ordinal)
	assert.Equal(t, "https://c.example", out[1].URL)
	assert.Equal(t, 2, out[1].Ordinal)
	assert.Equal(t, out[0].Snippet, out[0].Content)
}
