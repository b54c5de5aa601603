package service

import (
	"context"
	"fmt"
	"net/url"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const defaultDiscoveryResults = 5

// SearchResult represents a single search result from Google Custom Search API
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SourceDiscovery finds extra pages worth ingesting through Google Custom
// Search.
type SourceDiscovery struct {
	apiKey   string
	engineID string
	options  []option.ClientOption
}

// NewSourceDiscovery creates a discovery client. Without both an API key and
// an engine id it stays disabled.
func NewSourceDiscovery(apiKey, engineID string, opts ...option.ClientOption) *SourceDiscovery {
	return &SourceDiscovery{
		apiKey:   apiKey,
		engineID: engineID,
		options:  opts,
	}
}

func (s *SourceDiscovery) Enabled() bool {
	return s != nil && s.apiKey != "" && s.engineID != ""
}

// Search performs a Google Custom Search and returns structured results
// Parameters:
//   - ctx: Context for handling cancellation and timeouts
//   - query: The search query string
//   - num: Maximum number of results (1-10)
//
// Returns:
//   - []SearchResult: Slice of search results
//   - error: Error if the search fails
func (s *SourceDiscovery) Search(ctx context.Context, query string, num int64) ([]SearchResult, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("source discovery is not configured")
	}
	if num <= 0 || num > 10 {
		num = defaultDiscoveryResults
	}

	opts := append([]option.ClientOption{option.WithAPIKey(s.apiKey)}, s.options...)
	searchService, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create search service: %w", err)
	}

	search := searchService.Cse.List()
	search.Q(query)
	search.Cx(s.engineID)
	search.Num(num)

	result, err := search.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to execute search: %w", err)
	}

	searchResults := make([]SearchResult, 0, len(result.Items))
	for _, item := range result.Items {
		searchResults = append(searchResults, SearchResult{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}
	return searchResults, nil
}

// DiscoverURLs returns the distinct http(s) links found for query.
func (s *SourceDiscovery) DiscoverURLs(ctx context.Context, query string) ([]string, error) {
	results, err := s.Search(ctx, query, defaultDiscoveryResults)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(results))
	urls := make([]string, 0, len(results))
	for _, r := range results {
		u, err := url.Parse(r.Link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		if _, ok := seen[r.Link]; ok {
			continue
		}
		seen[r.Link] = struct{}{}
		urls = append(urls, r.Link)
	}
	return urls, nil
}
