// Package search finds web context for a turn. It tries a structured
// search API first, falls back to scraping a public results page through an
// ordered list of parsing strategies, and caches whatever worked.
//
// The whole package is an optimization layer: every operation degrades to
// "no results" instead of failing, and callers answer from model knowledge
// when it does.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"sidekick/internal/log"
)

// Result is one web search hit. Content holds the fetched page text once
// content retrieval ran; until then it defaults to the snippet.
type Result struct {
	Title     string
	URL       string
	Snippet   string
	SiteLabel string
	Content   string
	Ordinal   int // 1-based, unique within a turn
}

// maxScrapeBytes bounds the fetched results page.
const maxScrapeBytes = 2 << 20

// Doer issues a single HTTP request through the retrying client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the search endpoints.
type Config struct {
	// APIBaseURL is a structured search endpoint accepting
	// {query, max_results} and returning {results:[{title,url,content}]}.
	// Used only when APIKey is also set.
	APIBaseURL string `mapstructure:"api_base_url" json:"api_base_url"`
	APIKey     string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked by config.MarshalJSON

	// ScrapeURL is the public results page used as fallback.
	ScrapeURL string `mapstructure:"scrape_url" json:"scrape_url"`
}

// Service is the multi-strategy web search. Safe for use by one active turn
// at a time.
type Service struct {
	client Doer
	cache  *Cache
	cfg    Config
	logger log.Logger
}

// NewService creates a search service.
func NewService(client Doer, cache *Cache, cfg Config, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewNop()
	}
	if cache == nil {
		cache = NewCache(0, 0)
	}
	return &Service{client: client, cache: cache, cfg: cfg, logger: logger}
}

// Search returns up to limit results for query. ok=false means "no data,
// answer from knowledge" — it is never an error. Order of operations:
// cache, structured API, scrape strategies.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Result, bool) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, false
	}

	if cached, ok := s.cache.Get(query, limit); ok {
		s.logger.Debug("search cache hit", "query", query, "results", len(cached))
		return cached, true
	}

	if s.cfg.APIBaseURL != "" && s.cfg.APIKey != "" {
		if results, err := s.searchAPI(ctx, query, limit); err != nil {
			s.logger.Debug("search API failed, falling back to scrape", "error", err)
		} else if len(results) > 0 {
			results = finalize(results, limit)
			s.cache.Put(query, limit, results)
			return results, true
		}
	}

	doc, err := s.fetchResultsPage(ctx, query)
	if err != nil {
		s.logger.Debug("results page fetch failed", "query", query, "error", err)
		return nil, false
	}

	for _, strat := range strategies {
		results := strat.parse(doc)
		if len(results) == 0 {
			continue
		}
		s.logger.Debug("scrape strategy matched",
			"strategy", strat.name, "raw_results", len(results))
		results = finalize(results, limit)
		s.cache.Put(query, limit, results)
		return results, true
	}

	return nil, false
}

// apiRequest/apiResponse are the structured search API shapes.
type apiRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type apiResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *Service) searchAPI(ctx context.Context, query string, limit int) ([]Result, error) {
	body, err := json.Marshal(apiRequest{Query: query, MaxResults: limit})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	endpoint := strings.TrimRight(s.cfg.APIBaseURL, "/") + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxScrapeBytes)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	results := make([]Result, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		if r.URL == "" {
			continue
		}
		results = append(results, Result{
			Title:     r.Title,
			URL:       r.URL,
			Snippet:   r.Content,
			SiteLabel: siteLabel(r.URL),
		})
	}
	return results, nil
}

func (s *Service) fetchResultsPage(ctx context.Context, query string) (*goquery.Document, error) {
	pageURL := s.cfg.ScrapeURL + "?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building results page request: %w", err)
	}
	// Results pages reject default client agents.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxScrapeBytes))
	if err != nil {
		return nil, fmt.Errorf("parsing results page: %w", err)
	}
	return doc, nil
}

// strategy is one way of reading results out of a scraped page. Strategies
// run in order; the first one yielding anything wins.
type strategy struct {
	name  string
	parse func(doc *goquery.Document) []Result
}

var strategies = []strategy{
	{name: "structural", parse: parseStructural},
	{name: "links", parse: parseLinks},
}

// parseStructural matches the result containers of the scraped page.
func parseStructural(doc *goquery.Document) []Result {
	var results []Result
	doc.Find("div.result").Each(func(_ int, sel *goquery.Selection) {
		anchor := sel.Find("a.result__a").First()
		href, _ := anchor.Attr("href")
		href = cleanResultURL(href)
		if href == "" {
			return
		}
		results = append(results, Result{
			Title:     strings.TrimSpace(anchor.Text()),
			URL:       href,
			Snippet:   strings.TrimSpace(sel.Find(".result__snippet").Text()),
			SiteLabel: siteLabel(href),
		})
	})
	return results
}

// parseLinks is the generic heuristic: every external anchor with readable
// text is a candidate result. Snippets come from the anchor's enclosing
// block.
func parseLinks(doc *goquery.Document) []Result {
	var results []Result
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := cleanResultURL(sel.AttrOr("href", ""))
		if !strings.HasPrefix(href, "http") {
			return
		}
		title := strings.TrimSpace(sel.Text())
		if len(title) < 8 {
			return
		}
		snippet := strings.TrimSpace(sel.Parent().Text())
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		results = append(results, Result{
			Title:     title,
			URL:       href,
			Snippet:   snippet,
			SiteLabel: siteLabel(href),
		})
	})
	return results
}

// cleanResultURL unwraps redirect hrefs of the form
// //host/l/?uddg=<escaped target> and normalizes protocol-relative URLs.
func cleanResultURL(href string) string {
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return href
}

// siteLabel derives the display label from a result URL.
func siteLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// finalize deduplicates by URL, ranks by descending snippet length,
// truncates to limit, and assigns 1-based ordinals.
func finalize(results []Result, limit int) []Result {
	seen := make(map[string]bool, len(results))
	unique := results[:0]
	for _, r := range results {
		if seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		unique = append(unique, r)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return len(unique[i].Snippet) > len(unique[j].Snippet)
	})

	if len(unique) > limit {
		unique = unique[:limit]
	}
	for i := range unique {
		unique[i].Ordinal = i + 1
		if unique[i].Content == "" {
			unique[i].Content = unique[i].Snippet
		}
	}
	return unique
}
