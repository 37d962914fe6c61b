// Package fetch retrieves page content for search results in parallel. The
// fan-out races an overall deadline, each item carries its own shorter
// deadline, and every failure mode falls back to the result's snippet — a
// batch can be slow or shallow, never failed.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"sidekick/internal/log"
	"sidekick/internal/search"
)

// Config holds fetch limits.
type Config struct {
	PerFetchTimeout time.Duration `mapstructure:"per_fetch_timeout" json:"per_fetch_timeout"`
	OverallTimeout  time.Duration `mapstructure:"overall_timeout" json:"overall_timeout"`
	Parallelism     int           `mapstructure:"parallelism" json:"parallelism"`
	MaxContentChars int           `mapstructure:"max_content_chars" json:"max_content_chars"`
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		PerFetchTimeout: 8 * time.Second,
		OverallTimeout:  10 * time.Second,
		Parallelism:     3,
		MaxContentChars: 6000,
	}
}

// minExtractChars is the bar below which structured extraction is judged to
// have missed the article and the plain-text fallback runs.
const minExtractChars = 200

// maxFetchBytes bounds one fetched page.
const maxFetchBytes = 3 << 20

// Doer issues a single HTTP request through the retrying client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Service fetches page content for search results.
type Service struct {
	client Doer
	cfg    Config
	logger log.Logger
}

// NewService creates a fetch service.
func NewService(client Doer, cfg Config, logger log.Logger) *Service {
	if cfg.PerFetchTimeout <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{client: client, cfg: cfg, logger: logger}
}

// FetchAll fetches content for the first min(len(results), maxResults)
// results and returns exactly that many. It never fails: an item whose
// fetch errors or misses a deadline keeps its snippet as content.
func (s *Service) FetchAll(ctx context.Context, results []search.Result, maxResults int) []search.Result {
	n := min(len(results), maxResults)
	out := make([]search.Result, n)
	copy(out, results[:n])
	for i := range out {
		if out[i].Content == "" {
			out[i].Content = out[i].Snippet
		}
	}
	if n == 0 {
		return out
	}

	overallCtx, cancel := context.WithTimeout(ctx, s.cfg.OverallTimeout)
	defer cancel()

	g := &errgroup.Group{}
	g.SetLimit(s.cfg.Parallelism)
	start := time.Now()

	for i := range out {
		g.Go(func() error {
			itemCtx, itemCancel := context.WithTimeout(overallCtx, s.cfg.PerFetchTimeout)
			defer itemCancel()

			content, err := s.fetchOne(itemCtx, out[i].URL)
			if err != nil {
				s.logger.Debug("content fetch fell back to snippet",
					"url", out[i].URL, "error", err)
				return nil
			}
			out[i].Content = content
			return nil
		})
	}

	_ = g.Wait() // item errors never propagate
	s.logger.Debug("content fetch settled",
		"results", n, "elapsed", time.Since(start))
	return out
}

// fetchOne retrieves one page and extracts readable text: structured
// extraction first, densest-block heuristic next, bare text last.
func (s *Service) fetchOne(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("building fetch request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("reading page: %w", err)
	}

	text := s.extract(raw, pageURL)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no readable content at %s", pageURL)
	}
	return text, nil
}

// extract runs the extraction ladder over a fetched page.
func (s *Service) extract(raw []byte, pageURL string) string {
	parsedURL, _ := url.Parse(pageURL)

	if article, err := readability.FromReader(strings.NewReader(string(raw)), parsedURL); err == nil {
		if text := normalize(article.TextContent, s.cfg.MaxContentChars); len(text) >= minExtractChars {
			return text
		}
	}

	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(raw))); err == nil {
		if text := normalize(densestBlock(doc), s.cfg.MaxContentChars); len(text) >= minExtractChars {
			return text
		}
	}

	return normalize(plainText(raw), s.cfg.MaxContentChars)
}

// densestBlock picks the candidate element with the most non-link text.
// Link-heavy blocks are navigation, not content.
func densestBlock(doc *goquery.Document) string {
	var best string
	var bestScore int
	doc.Find("article, main, section, div").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		score := len(text) - 2*len(sel.Find("a").Text())
		if score > bestScore {
			bestScore = score
			best = text
		}
	})
	return best
}

// boilerplate elements skipped by the plain-text fallback.
var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true,
	"nav": true, "header": true, "footer": true, "aside": true,
}

// plainText walks the raw HTML collecting visible text nodes.
func plainText(raw []byte) string {
	tokenizer := html.NewTokenizer(strings.NewReader(string(raw)))
	var b strings.Builder
	depth := 0 // nesting depth inside skipped elements

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedElements[string(name)] {
				depth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedElements[string(name)] && depth > 0 {
				depth--
			}
		case html.TextToken:
			if depth == 0 {
				b.Write(tokenizer.Text())
				b.WriteByte(' ')
			}
		}
	}
}

// normalize collapses whitespace and caps length in runes.
func normalize(text string, maxChars int) string {
	fields := strings.Fields(text)
	collapsed := strings.Join(fields, " ")
	runes := []rune(collapsed)
	if maxChars > 0 && len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return collapsed
}
