// Package kb searches knowledge base articles for detected intents
package kb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/intent"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/resilience"
)

// Article is one knowledge base search hit
type Article struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Snippet string   `json:"snippet"`
	URL     string   `json:"url,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Score   float64  `json:"score"`
}

type searchResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Results []struct {
		ID      string   `json:"id"`
		Title   string   `json:"title"`
		Snippet string   `json:"snippet"`
		URL     string   `json:"url"`
		Tags    []string `json:"tags"`
		Score   float64  `json:"score"`
	} `json:"results"`
}

// Service searches KB articles through the frontend search API, guarded by
// a circuit breaker. Searches are advisory: errors produce empty results,
// never failures that would disturb the call pipeline.
type Service struct {
	baseURL    string
	maxResults int
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

// NewService creates a KB search service against the given frontend API.
// httpClient is the shared outbound client owned by the pipeline manager.
func NewService(baseURL string, maxResults int, httpClient *http.Client, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Service {
	return &Service{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxResults: maxResults,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger.With().Str("component", "kb").Logger(),
	}
}

// SearchByIntent finds articles relevant to the detected intent. It runs a
// full-intent query first, then queries the expanded terms, deduplicating
// by article ID up to the configured result cap.
func (s *Service) SearchByIntent(ctx context.Context, detectedIntent, originalText, tenantID string) []Article {
	if detectedIntent == intent.Unknown || detectedIntent == "" {
		s.logger.Debug().Msg("intent is unknown, skipping KB search")
		return nil
	}

	terms := ExpandSearchTerms(detectedIntent, originalText)
	s.logger.Debug().
		Str("intent", detectedIntent).
		Strs("terms", terms).
		Msg("expanded KB search terms")

	seen := make(map[string]bool)
	var articles []Article

	for _, hit := range s.search(ctx, detectedIntent, tenantID, s.maxResults) {
		if !seen[hit.ID] {
			articles = append(articles, hit)
			seen[hit.ID] = true
		}
	}

	perTerm := s.maxResults / len(terms)
	if perTerm == 0 {
		perTerm = 3
	}
	for _, term := range terms {
		if len(term) < 3 || len(articles) >= s.maxResults {
			continue
		}
		for _, hit := range s.search(ctx, term, tenantID, perTerm) {
			if !seen[hit.ID] && len(articles) < s.maxResults {
				articles = append(articles, hit)
				seen[hit.ID] = true
			}
		}
	}

	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].Score > articles[j].Score
	})

	s.logger.Info().
		Str("intent", detectedIntent).
		Int("count", len(articles)).
		Msg("KB search complete")
	return articles
}

func (s *Service) search(ctx context.Context, query, tenantID string, limit int) []Article {
	var articles []Article

	err := s.breaker.Call(func() error {
		reqURL := fmt.Sprintf("%s/api/kb/search?%s", s.baseURL, url.Values{
			"q":        {query},
			"tenantId": {tenantID},
			"limit":    {strconv.Itoa(limit)},
		}.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("KB search request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("KB search returned status %d", resp.StatusCode)
		}

		var parsed searchResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode KB response: %w", err)
		}
		if !parsed.OK {
			return fmt.Errorf("KB search error: %s", parsed.Error)
		}

		for _, item := range parsed.Results {
			articles = append(articles, Article{
				ID:      item.ID,
				Title:   item.Title,
				Snippet: item.Snippet,
				URL:     item.URL,
				Tags:    item.Tags,
				Score:   item.Score,
			})
		}
		return nil
	})

	observability.RecordKBSearch(err == nil)
	if err != nil {
		s.logger.Error().Err(err).Str("query", query).Msg("KB search failed")
		observability.RecordError("kb_search", "kb")
		return nil
	}
	return articles
}

// ExpandSearchTerms expands an intent label plus the caller's words into
// search terms that catch differently tagged articles
func ExpandSearchTerms(detectedIntent, originalText string) []string {
	terms := make(map[string]bool)
	add := func(ts ...string) {
		for _, t := range ts {
			terms[t] = true
		}
	}

	add(detectedIntent)
	for _, word := range strings.Split(detectedIntent, "_") {
		if len(word) > 2 {
			add(word)
		}
	}

	text := strings.ToLower(originalText)

	if strings.Contains(text, "credit") && strings.Contains(text, "card") {
		add("credit", "card", "credit card")
	}
	if strings.Contains(text, "debit") && strings.Contains(text, "card") {
		add("debit", "card", "debit card")
	}
	if strings.Contains(text, "account") {
		add("account")
		if strings.Contains(text, "balance") {
			add("balance", "account balance")
		}
		if strings.Contains(text, "savings") {
			add("savings", "savings account")
		}
		if strings.Contains(text, "salary") {
			add("salary", "salary account")
		}
	}
	if strings.Contains(text, "fraud") {
		add("fraud", "fraudulent")
	}
	if strings.Contains(text, "block") {
		add("block", "blocked")
	}

	out := make([]string, 0, len(terms))
	for t := range terms {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
