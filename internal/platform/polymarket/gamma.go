package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/cache"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/ratelimit"
)

// gammaEventLimit is how many events one discovery query requests.
const gammaEventLimit = 100

// DiscoveryFilter narrows discovered markets by time to resolution.
type DiscoveryFilter struct {
	MinMinutes float64
	MaxMinutes float64
	CryptoOnly bool
}

// DiscoveredMarket is one tradable token surfaced by discovery.
type DiscoveredMarket struct {
	Info      domain.MarketInfo
	EventSlug string
}

// GammaClient is the REST client for the venue's Gamma metadata API. Single
// token lookups go through the shared market cache.
type GammaClient struct {
	core   *httpCore
	cache  *cache.MarketCache
	logger *slog.Logger

	now func() time.Time // test seam
}

// NewGammaClient creates a Gamma client rooted at baseURL, e.g.
// "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, limiter *ratelimit.Limiter, marketCache *cache.MarketCache, logger *slog.Logger) *GammaClient {
	l := logger.With(slog.String("component", "gamma_client"))
	return &GammaClient{
		core:   newHTTPCore(baseURL, ratelimit.BucketGamma, limiter, l),
		cache:  marketCache,
		logger: l,
		now:    time.Now,
	}
}

// DiscoverMarkets queries one resolution interval and filters the results
// client side: order book enabled, optional crypto keyword match, and the
// requested resolution window.
func (c *GammaClient) DiscoverMarkets(ctx context.Context, interval domain.DiscoveryInterval, filter DiscoveryFilter) ([]DiscoveredMarket, error) {
	q := url.Values{}
	q.Set("closed", "false")
	q.Set("active", "true")
	q.Set("limit", strconv.Itoa(gammaEventLimit))
	q.Set("offset", "0")
	q.Set("order", "volume24hr")
	q.Set("ascending", "false")
	q.Set("tag_slug", interval.TagSlug())

	var events []GammaEvent
	if err := c.core.getJSON(ctx, "/events?"+q.Encode(), &events); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: discover %s: %w", interval, err)
	}

	now := c.now()
	var out []DiscoveredMarket
	for _, ev := range events {
		if ev.Closed || !ev.Active {
			continue
		}
		for _, m := range ev.Markets {
			if !bool(m.EnableOrderBook) {
				continue
			}
			if filter.CryptoOnly && !domain.IsCryptoMarket(m.Question) && !domain.IsCryptoMarket(ev.Title) {
				continue
			}
			endDate, err := time.Parse(time.RFC3339, m.EndDate)
			if err != nil {
				continue
			}
			mins := endDate.Sub(now).Minutes()
			if mins < filter.MinMinutes || (filter.MaxMinutes > 0 && mins > filter.MaxMinutes) {
				continue
			}

			for _, info := range marketTokens(m, ev) {
				out = append(out, DiscoveredMarket{Info: info, EventSlug: ev.Slug})
			}
		}
	}
	return out, nil
}

// DiscoverAll queries several intervals, deduplicates by event slug, and
// sorts by end date ascending so the soonest-resolving markets come first.
func (c *GammaClient) DiscoverAll(ctx context.Context, intervals []domain.DiscoveryInterval, filter DiscoveryFilter) ([]DiscoveredMarket, error) {
	seen := make(map[string]bool)
	var out []DiscoveredMarket

	for _, interval := range intervals {
		markets, err := c.DiscoverMarkets(ctx, interval, filter)
		if err != nil {
			// One bad interval should not sink the whole discovery pulse.
			c.logger.Warn("interval discovery failed",
				slog.String("interval", string(interval)),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, m := range markets {
			key := m.EventSlug + ":" + m.Info.TokenID
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Info.EndDate.Before(out[j].Info.EndDate)
	})
	return out, nil
}

// GetMarketByToken resolves one token's market info, serving from the cache
// when fresh. On a miss it fetches GET /markets?clob_token_ids= and derives
// outcome, price, and the opposite token by the token's index position.
func (c *GammaClient) GetMarketByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error) {
	if tokenID == "" {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: %w", domain.ErrInvalidTokenID)
	}

	if info, ok := c.cache.Get(tokenID); ok {
		return info, nil
	}

	var markets []GammaMarket
	path := "/markets?clob_token_ids=" + url.QueryEscape(tokenID)
	if err := c.core.getJSON(ctx, path, &markets); err != nil {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: market by token %s: %w", tokenID, err)
	}
	if len(markets) == 0 {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: token %s: %w", tokenID, domain.ErrNotFound)
	}

	info, err := tokenInfo(markets[0], tokenID)
	if err != nil {
		return domain.MarketInfo{}, err
	}

	c.cache.Set(tokenID, info)
	return info, nil
}

// GetEventBySlug fetches a single event with its markets.
func (c *GammaClient) GetEventBySlug(ctx context.Context, slug string) (GammaEvent, error) {
	var ev GammaEvent
	if err := c.core.getJSON(ctx, "/events/slug/"+url.PathEscape(slug), &ev); err != nil {
		return GammaEvent{}, fmt.Errorf("polymarket/gamma: event %s: %w", slug, err)
	}
	return ev, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// marketTokens expands a two-outcome market into per-token MarketInfo
// records with reciprocal opposite-token links.
func marketTokens(m GammaMarket, ev GammaEvent) []domain.MarketInfo {
	endDate, _ := time.Parse(time.RFC3339, m.EndDate)

	var out []domain.MarketInfo
	for i, tokenID := range m.ClobTokenIDs {
		if tokenID == "" {
			continue
		}
		info := domain.MarketInfo{
			TokenID:     tokenID,
			Question:    m.Question,
			EventTitle:  ev.Title,
			EventSlug:   ev.Slug,
			ConditionID: m.ConditionID,
			EndDate:     endDate,
			NegRisk:     m.NegRisk,
		}
		if i < len(m.Outcomes) {
			info.Outcome = m.Outcomes[i]
		}
		if i < len(m.OutcomePrices) {
			if p, err := decimal.NewFromString(m.OutcomePrices[i]); err == nil {
				info.Price = p
			}
		}
		if other := i ^ 1; other < len(m.ClobTokenIDs) {
			info.OppositeTokenID = m.ClobTokenIDs[other]
		}
		out = append(out, info)
	}
	return out
}

// tokenInfo derives a single token's MarketInfo from a /markets row by
// matching the token id to its index in clobTokenIds.
func tokenInfo(m GammaMarket, tokenID string) (domain.MarketInfo, error) {
	idx := -1
	for i, id := range m.ClobTokenIDs {
		if id == tokenID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.MarketInfo{}, fmt.Errorf("polymarket/gamma: token %s not in market %s: %w", tokenID, m.ID, domain.ErrNotFound)
	}

	endDate, _ := time.Parse(time.RFC3339, m.EndDate)
	info := domain.MarketInfo{
		TokenID:     tokenID,
		Question:    m.Question,
		ConditionID: m.ConditionID,
		EndDate:     endDate,
		NegRisk:     m.NegRisk,
	}
	if idx < len(m.Outcomes) {
		info.Outcome = m.Outcomes[idx]
	}
	if idx < len(m.OutcomePrices) {
		if p, err := decimal.NewFromString(m.OutcomePrices[idx]); err == nil {
			info.Price = p
		}
	}
	if other := idx ^ 1; other < len(m.ClobTokenIDs) && other != idx {
		info.OppositeTokenID = m.ClobTokenIDs[other]
	}
	return info, nil
}
