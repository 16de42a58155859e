package search

import (
	"context"
	"fmt"
	"time"
)

// MockProvider implements Provider for testing purposes
type MockProvider struct {
	name    string
	results []Result
	err     error
}

// NewMockProvider creates a new mock search provider
func NewMockProvider() *MockProvider {
	now := time.Now().UTC()
	return &MockProvider{
		name: "Mock",
		results: []Result{
			{
				URL:         "https://example.com/markets/article1",
				Title:       "Example Market Article 1",
				Snippet:     "This is a mock search result for testing purposes.",
				Domain:      "example.com",
				PublishedAt: now.Add(-2 * time.Hour),
				Source:      "Mock",
				Rank:        1,
			},
			{
				URL:         "https://test.org/finance/article2",
				Title:       "Test Finance Article 2",
				Snippet:     "Another mock search result with different content.",
				Domain:      "test.org",
				PublishedAt: now.Add(-6 * time.Hour),
				Source:      "Mock",
				Rank:        2,
			},
			{
				URL:         "https://demo.net/news/article3",
				Title:       "Demo News Article 3",
				Snippet:     "Third mock result to simulate multiple search results.",
				Domain:      "demo.net",
				PublishedAt: now.Add(-12 * time.Hour),
				Source:      "Mock",
				Rank:        3,
			},
		},
	}
}

// GetName returns the name of this provider
func (m *MockProvider) GetName() string {
	return m.name
}

// Search returns mock search results
func (m *MockProvider) Search(ctx context.Context, query string, config Config) ([]Result, error) {
	if m.err != nil {
		return nil, m.err
	}

	maxResults := config.MaxResults
	if maxResults <= 0 || maxResults > len(m.results) {
		maxResults = len(m.results)
	}

	// Create copies of results with query-specific modifications
	results := make([]Result, maxResults)
	for i := 0; i < maxResults; i++ {
		result := m.results[i]
		result.Title = fmt.Sprintf("%s (for query: %s)", result.Title, query)
		results[i] = result
	}

	return results, nil
}

// SetResults allows customization of mock results for testing
func (m *MockProvider) SetResults(results []Result) {
	m.results = results
}

// SetError makes every subsequent search fail with err
func (m *MockProvider) SetError(err error) {
	m.err = err
}
