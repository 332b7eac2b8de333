package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/openclob/polymirror/internal/ratelimit"
)

// searchDefaultLimit caps results per type when the caller does not say.
const searchDefaultLimit = 20

// SearchClient is the REST client for the venue's public search endpoint,
// used to find events and their markets by free text. It shares the gamma
// bucket; both are metadata surfaces with the same budget.
type SearchClient struct {
	core   *httpCore
	logger *slog.Logger
}

// NewSearchClient creates a search client rooted at baseURL, e.g.
// "https://search-api.polymarket.com".
func NewSearchClient(baseURL string, limiter *ratelimit.Limiter, logger *slog.Logger) *SearchClient {
	l := logger.With(slog.String("component", "search_client"))
	return &SearchClient{
		core:   newHTTPCore(baseURL, ratelimit.BucketGamma, limiter, l),
		logger: l,
	}
}

// SearchEvents returns active events matching the query, newest relevance
// first as ranked by the venue.
func (c *SearchClient) SearchEvents(ctx context.Context, query string, limit int) ([]GammaEvent, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("polymarket/search: empty query")
	}
	if limit <= 0 {
		limit = searchDefaultLimit
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit_per_type", strconv.Itoa(limit))
	q.Set("events_status", "active")

	var resp struct {
		Events []GammaEvent `json:"events"`
	}
	if err := c.core.getJSON(ctx, "/public-search?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("polymarket/search: %q: %w", query, err)
	}
	return resp.Events, nil
}
