package collect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"radar/internal/core"
	"radar/internal/search"
)

func rssFeed(items string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Markets Feed</title>
    <link>https://example.com</link>
    %s
  </channel>
</rss>`, items)
}

func rssItem(title, link string, published time.Time) string {
	return fmt.Sprintf(`<item>
  <title>%s</title>
  <link>%s</link>
  <description>&lt;p&gt;Body of %s&lt;/p&gt;</description>
  <pubDate>%s</pubDate>
</item>`, title, link, title, published.Format(time.RFC1123Z))
}

func TestCollectRSS(t *testing.T) {
	now := time.Now().UTC()
	feed := rssFeed(
		rssItem("Fresh story", "https://example.com/fresh", now.Add(-2*time.Hour)) +
			rssItem("Stale story", "https://example.com/stale", now.Add(-72*time.Hour)))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "Radar/1.0" {
			t.Errorf("Unexpected user agent: %q", ua)
		}
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	collector := NewCollector()
	articles, err := collector.Collect(context.Background(), []string{server.URL + "/feed"}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(articles) != 1 {
		t.Fatalf("Expected 1 article inside the window, got %d", len(articles))
	}
	a := articles[0]
	if a.Title != "Fresh story" {
		t.Errorf("Unexpected title: %q", a.Title)
	}
	if a.Origin != core.OriginFeed {
		t.Errorf("Expected feed origin, got %q", a.Origin)
	}
	if a.Content != "Body of Fresh story" {
		t.Errorf("Expected cleaned description, got %q", a.Content)
	}
	if a.ID == "" {
		t.Error("Expected a deterministic article ID")
	}
}

func TestCollectAtom(t *testing.T) {
	now := time.Now().UTC()
	feed := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Markets Feed</title>
  <entry>
    <title>Atom story</title>
    <link rel="alternate" href="https://example.com/atom-story"/>
    <summary>Summary text</summary>
    <published>%s</published>
  </entry>
</feed>`, now.Add(-time.Hour).Format(time.RFC3339))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	defer server.Close()

	collector := NewCollector()
	articles, err := collector.Collect(context.Background(), []string{server.URL}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(articles) != 1 || articles[0].Title != "Atom story" {
		t.Fatalf("Expected the Atom entry, got %+v", articles)
	}
}

func TestCollectFailedFeedSkipped(t *testing.T) {
	now := time.Now().UTC()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(rssItem("Only story", "https://example.com/only", now.Add(-time.Hour))))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	collector := NewCollector()
	articles, err := collector.Collect(context.Background(), []string{bad.URL, good.URL}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("Expected the surviving feed's article, got %d", len(articles))
	}
}

func TestCollectDeduplicatesByURL(t *testing.T) {
	now := time.Now().UTC()
	item := rssItem("Same story", "https://example.com/same", now.Add(-time.Hour))
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(item))
	})
	s1 := httptest.NewServer(handler)
	defer s1.Close()
	s2 := httptest.NewServer(handler)
	defer s2.Close()

	collector := NewCollector()
	articles, err := collector.Collect(context.Background(), []string{s1.URL, s2.URL}, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(articles) != 1 {
		t.Errorf("Expected URL-level deduplication, got %d articles", len(articles))
	}
}

func TestCollectConditionalGet(t *testing.T) {
	now := time.Now().UTC()
	feed := rssFeed(rssItem("Fresh story", "https://example.com/fresh", now.Add(-2*time.Hour)))

	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Header().Set("ETag", `"v1"`)
			fmt.Fprint(w, feed)
			return
		}
		if r.Header.Get("If-None-Match") != `"v1"` {
			t.Errorf("Expected If-None-Match on repeat fetch, got %q", r.Header.Get("If-None-Match"))
		}
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	collector := NewCollector()
	feeds := []string{server.URL + "/feed"}

	first, err := collector.Collect(context.Background(), feeds, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	second, err := collector.Collect(context.Background(), feeds, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if requests != 2 {
		t.Fatalf("Expected 2 requests, got %d", requests)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("Expected cached entries on 304, got %d then %d articles", len(first), len(second))
	}
	if second[0].Title != "Fresh story" {
		t.Errorf("Unexpected cached article: %q", second[0].Title)
	}
}

func TestCollectEmptyInputs(t *testing.T) {
	collector := NewCollector()
	articles, err := collector.Collect(context.Background(), nil, 24*time.Hour)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if articles != nil {
		t.Errorf("Expected no articles, got %d", len(articles))
	}
}

func TestFromSearchResults(t *testing.T) {
	now := time.Now().UTC()
	results := []search.Result{
		{URL: "https://example.com/a", Title: "Recent", Domain: "example.com", Snippet: "text", PublishedAt: now.Add(-time.Hour)},
		{URL: "https://example.com/b", Title: "Old", Domain: "example.com", PublishedAt: now.Add(-80 * time.Hour)},
		{URL: "https://example.com/c", Title: "Undated", Domain: "example.com"},
		{URL: "", Title: "No URL"},
	}

	articles := FromSearchResults(results, 24*time.Hour)
	if len(articles) != 2 {
		t.Fatalf("Expected 2 articles, got %d", len(articles))
	}
	for _, a := range articles {
		if a.Origin != core.OriginSearch {
			t.Errorf("Expected search origin, got %q", a.Origin)
		}
	}
	if articles[1].Title != "Undated" || articles[1].PublishedAt.IsZero() {
		t.Errorf("Undated result should be kept with a fetch-time timestamp: %+v", articles[1])
	}
}

func TestCleanHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text", "just text", "just text"},
		{"tags stripped", "<p>Hello <b>world</b></p>", "Hello world"},
		{"script removed", "<p>keep</p><script>alert(1)</script>", "keep"},
		{"whitespace collapsed", "<div>a</div>\n\n<div>b</div>", "a b"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanHTML(tt.input); got != tt.expected {
				t.Errorf("CleanHTML(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestParseRSSDateFormats(t *testing.T) {
	if ts := parseRSSDate("Mon, 02 Jan 2006 15:04:05 -0700"); ts.IsZero() {
		t.Error("Expected RFC1123Z to parse")
	}
	if ts := parseRSSDate("garbage"); !ts.IsZero() {
		t.Errorf("Expected zero time, got %v", ts)
	}
}
