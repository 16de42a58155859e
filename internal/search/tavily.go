package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"radar/internal/logger"
)

// TavilyProvider implements Provider using the Tavily search API.
type TavilyProvider struct {
	apiKey    string
	baseURL   string
	client    *http.Client
	rateLimit time.Duration

	mu       sync.Mutex
	lastCall time.Time
}

// NewTavilyProvider creates a new Tavily search provider
func NewTavilyProvider(apiKey string) *TavilyProvider {
	return &TavilyProvider{
		apiKey:  apiKey,
		baseURL: "https://api.tavily.com/search",
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		rateLimit: 1 * time.Second,
	}
}

// GetName returns the name of this provider
func (t *TavilyProvider) GetName() string {
	return "Tavily"
}

// Search performs a search using the Tavily API
func (t *TavilyProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	// Respect rate limiting
	t.mu.Lock()
	if elapsed := time.Since(t.lastCall); elapsed < t.rateLimit {
		time.Sleep(t.rateLimit - elapsed)
	}
	t.lastCall = time.Now()
	t.mu.Unlock()

	maxResults := config.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	body := map[string]any{
		"query":       query,
		"max_results": maxResults,
	}
	if config.Topic != "" {
		body["topic"] = config.Topic
	}
	if config.SinceTime > 0 {
		days := int(config.SinceTime.Hours() / 24)
		if days < 1 {
			days = 1
		}
		body["days"] = days
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode Tavily request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", t.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create Tavily request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute Tavily request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Tavily request failed with status: %d", resp.StatusCode)
	}

	var apiResponse struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to parse Tavily response: %w", err)
	}

	var results []Result
	for i, item := range apiResponse.Results {
		result := Result{
			URL:         item.URL,
			Title:       item.Title,
			Snippet:     item.Content,
			Domain:      extractDomain(item.URL),
			PublishedAt: parsePublishedDate(item.PublishedDate),
			Source:      "Tavily",
			Rank:        i + 1,
		}
		results = append(results, result)
	}

	logger.Info("Tavily search completed", "query", query, "results_found", len(results))

	return results, nil
}

// parsePublishedDate handles the date formats Tavily has been observed to emit.
func parsePublishedDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// extractDomain extracts the domain name from a URL
func extractDomain(urlStr string) string {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return ""
	}

	domain := parsed.Hostname()
	// Remove www. prefix
	if strings.HasPrefix(domain, "www.") {
		domain = domain[4:]
	}

	return domain
}
