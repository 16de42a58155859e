// Package collect gathers recent articles from RSS/Atom feeds and search
// results, the intake stage ahead of deduplication.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"radar/internal/core"
	"radar/internal/logger"
	"radar/internal/search"
)

var errUnparsableFeed = errors.New("unable to parse as RSS or Atom feed")

// maxFeedBytes bounds how much of a feed response is read.
const maxFeedBytes = 4 << 20

// Option configures a Collector.
type Option func(*Collector)

// WithUserAgent sets the User-Agent header for feed requests.
func WithUserAgent(ua string) Option {
	return func(c *Collector) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithConcurrency limits concurrent feed fetches.
func WithConcurrency(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithFeedTimeout bounds each individual feed fetch.
func WithFeedTimeout(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.feedTimeout = d
		}
	}
}

// feedCacheEntry remembers one feed's validators and last parsed entries so
// repeated polls can use conditional requests.
type feedCacheEntry struct {
	etag         string
	lastModified string
	items        []item
}

// Collector fetches configured feeds and normalizes their entries to
// articles.
type Collector struct {
	client      *http.Client
	userAgent   string
	concurrency int
	feedTimeout time.Duration
	log         *slog.Logger

	cacheMu sync.Mutex
	cache   map[string]*feedCacheEntry
}

// NewCollector creates a feed collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		userAgent:   "Radar/1.0",
		concurrency: 4,
		feedTimeout: 20 * time.Second,
		log:         logger.Get(),
		cache:       make(map[string]*feedCacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect fetches all feeds concurrently and returns articles published
// within the window, deduplicated by URL. Individual feed failures are
// logged and skipped; an empty result is not an error.
func (c *Collector) Collect(ctx context.Context, feedURLs []string, window time.Duration) ([]core.Article, error) {
	if len(feedURLs) == 0 {
		return nil, nil
	}

	cutoff := time.Now().UTC().Add(-window)

	var mu sync.Mutex
	articlesByFeed := make([][]core.Article, len(feedURLs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, feedURL := range feedURLs {
		g.Go(func() error {
			articles, err := c.collectFeed(gctx, feedURL, cutoff)
			if err != nil {
				c.log.Warn("Feed collection failed", "feed_url", feedURL, "error", err.Error())
				return nil
			}
			mu.Lock()
			articlesByFeed[i] = articles
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Flatten in configured feed order so discovery order is stable.
	seen := make(map[string]bool)
	var articles []core.Article
	for _, batch := range articlesByFeed {
		for _, a := range batch {
			if seen[a.URL] {
				continue
			}
			seen[a.URL] = true
			articles = append(articles, a)
		}
	}

	c.log.Info("Feed collection completed",
		"feeds", len(feedURLs), "articles", len(articles), "window_hours", int(window.Hours()))

	return articles, nil
}

// collectFeed fetches and parses one feed, filtering entries to the window.
func (c *Collector) collectFeed(ctx context.Context, feedURL string, cutoff time.Time) ([]core.Article, error) {
	ctx, cancel := context.WithTimeout(ctx, c.feedTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.cacheMu.Lock()
	cached := c.cache[feedURL]
	c.cacheMu.Unlock()
	if cached != nil {
		if cached.etag != "" {
			req.Header.Set("If-None-Match", cached.etag)
		}
		if cached.lastModified != "" {
			req.Header.Set("If-Modified-Since", cached.lastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var items []item
	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		items = cached.items
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to read feed body: %w", err)
		}
		items, err = parseFeed(data)
		if err != nil {
			return nil, err
		}
		c.cacheMu.Lock()
		c.cache[feedURL] = &feedCacheEntry{
			etag:         resp.Header.Get("ETag"),
			lastModified: resp.Header.Get("Last-Modified"),
			items:        items,
		}
		c.cacheMu.Unlock()
	default:
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	sourceName := extractHost(feedURL)
	now := time.Now().UTC()

	var articles []core.Article
	for _, it := range items {
		if it.Link == "" || it.Title == "" {
			continue
		}

		published := it.Published
		if published.IsZero() {
			// Undated entries count as just-published rather than dropped.
			published = now
		}
		if published.Before(cutoff) {
			continue
		}

		articles = append(articles, core.Article{
			ID:          articleID(it.Link),
			Source:      sourceName,
			URL:         it.Link,
			Title:       it.Title,
			Content:     CleanHTML(it.Description),
			PublishedAt: published,
			Origin:      core.OriginFeed,
		})
	}

	return articles, nil
}

// FromSearchResults converts search results into articles so a search
// provider can feed the same pipeline as RSS.
func FromSearchResults(results []search.Result, window time.Duration) []core.Article {
	cutoff := time.Now().UTC().Add(-window)
	now := time.Now().UTC()

	var articles []core.Article
	for _, r := range results {
		if r.URL == "" || r.Title == "" {
			continue
		}
		published := r.PublishedAt
		if published.IsZero() {
			published = now
		}
		if published.Before(cutoff) {
			continue
		}
		articles = append(articles, core.Article{
			ID:          articleID(r.URL),
			Source:      r.Domain,
			URL:         r.URL,
			Title:       r.Title,
			Content:     r.Snippet,
			PublishedAt: published,
			Origin:      core.OriginSearch,
		})
	}
	return articles
}

// CleanHTML strips markup from feed entry bodies, returning plain text.
func CleanHTML(fragment string) string {
	if fragment == "" {
		return ""
	}
	if !strings.Contains(fragment, "<") {
		return strings.TrimSpace(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	doc.Find("script, style, iframe, noscript").Remove()
	text := doc.Text()

	// Collapse runs of whitespace left behind by removed tags.
	return strings.Join(strings.Fields(text), " ")
}

// articleID creates a deterministic ID for an article based on its URL, so
// the same story seen twice gets the same identity.
func articleID(articleURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(articleURL)).String()
}

// extractHost returns the www-stripped hostname of a URL.
func extractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	host := parsed.Hostname()
	if strings.HasPrefix(host, "www.") {
		host = host[4:]
	}
	return host
}
