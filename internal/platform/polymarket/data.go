package polymarket

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openclob/polymirror/internal/ratelimit"
)

const (
	// pageSize is the offset/limit page for the Data API endpoints.
	pageSize = 500

	// activityBatchConcurrency bounds parallel page fetches during a deep
	// activity crawl.
	activityBatchConcurrency = 10
)

// ActivityProgress reports crawl progress: the completed batch index, the
// total number of batches, and how many activities are collected so far.
type ActivityProgress func(batch, totalBatches, activities int)

// DataClient is the REST client for the venue's public Data API. A client-
// wide semaphore caps concurrent activity page fetches so overlapping deep
// crawls cannot blow through the Data API budget together.
type DataClient struct {
	core        *httpCore
	logger      *slog.Logger
	activitySem *semaphore.Weighted
}

// NewDataClient creates a Data API client rooted at baseURL, e.g.
// "https://data-api.polymarket.com".
func NewDataClient(baseURL string, limiter *ratelimit.Limiter, logger *slog.Logger) *DataClient {
	l := logger.With(slog.String("component", "data_client"))
	return &DataClient{
		core:        newHTTPCore(baseURL, ratelimit.BucketData, limiter, l),
		logger:      l,
		activitySem: semaphore.NewWeighted(activityBatchConcurrency),
	}
}

// GetPositions returns all open positions for a wallet, paging until the
// first short page.
func (c *DataClient) GetPositions(ctx context.Context, user string) ([]DataPosition, error) {
	return c.pagePositions(ctx, "/positions", user)
}

// GetClosedPositions returns all settled positions for a wallet.
func (c *DataClient) GetClosedPositions(ctx context.Context, user string) ([]DataPosition, error) {
	return c.pagePositions(ctx, "/closed-positions", user)
}

func (c *DataClient) pagePositions(ctx context.Context, endpoint, user string) ([]DataPosition, error) {
	var all []DataPosition
	for offset := 0; ; offset += pageSize {
		var page []DataPosition
		if err := c.core.getJSON(ctx, activityPath(endpoint, user, pageSize, offset), &page); err != nil {
			return nil, fmt.Errorf("polymarket/data: %s for %s: %w", endpoint, user, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

// GetActivity returns up to max activity rows for a wallet, newest first.
//
// The first page is fetched alone as a probe. A short probe is the whole
// history; otherwise the remaining pages are fetched in rolling batches of
// ten concurrent requests, stopping at the first short page. Transport
// failures mid-crawl return the rows collected so far rather than nothing.
// progress may be nil.
func (c *DataClient) GetActivity(ctx context.Context, user string, max int, progress ActivityProgress) ([]DataActivity, error) {
	if max <= 0 {
		max = pageSize
	}

	probe, err := c.activityPage(ctx, user, pageSize, 0)
	if err != nil {
		return nil, fmt.Errorf("polymarket/data: activity probe for %s: %w", user, err)
	}
	if len(probe) < pageSize || max <= pageSize {
		return probe, nil
	}

	remainingPages := (max - 1) / pageSize // pages beyond the probe
	totalBatches := (remainingPages + activityBatchConcurrency - 1) / activityBatchConcurrency

	all := probe
	page := 1
	for batch := 0; batch < totalBatches; batch++ {
		pagesThisBatch := activityBatchConcurrency
		if left := remainingPages - batch*activityBatchConcurrency; left < pagesThisBatch {
			pagesThisBatch = left
		}

		results := make([][]DataActivity, pagesThisBatch)
		g, gctx := errgroup.WithContext(ctx)
		var mu sync.Mutex
		sawShort := false

		for i := 0; i < pagesThisBatch; i++ {
			i := i
			offset := (page + i) * pageSize
			g.Go(func() error {
				rows, err := c.activityPage(gctx, user, pageSize, offset)
				if err != nil {
					return err
				}
				mu.Lock()
				results[i] = rows
				if len(rows) < pageSize {
					sawShort = true
				}
				mu.Unlock()
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			// Partial progress is better than none for a long crawl.
			c.logger.Warn("activity crawl aborted, returning partial set",
				slog.String("user", user),
				slog.Int("collected", len(all)),
				slog.String("error", err.Error()),
			)
			return sortActivities(all), nil
		}

		for _, rows := range results {
			all = append(all, rows...)
		}
		page += pagesThisBatch

		if progress != nil {
			progress(batch+1, totalBatches, len(all))
		}
		if sawShort {
			break
		}
	}

	if len(all) > max {
		all = all[:max]
	}
	return sortActivities(all), nil
}

func (c *DataClient) activityPage(ctx context.Context, user string, limit, offset int) ([]DataActivity, error) {
	if err := c.activitySem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.activitySem.Release(1)

	var page []DataActivity
	if err := c.core.getJSON(ctx, activityPath("/activity", user, limit, offset), &page); err != nil {
		return nil, err
	}
	return page, nil
}

func activityPath(endpoint, user string, limit, offset int) string {
	q := url.Values{}
	q.Set("user", user)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	return endpoint + "?" + q.Encode()
}

// sortActivities orders rows newest first. Concurrent page fetches can land
// out of order.
func sortActivities(rows []DataActivity) []DataActivity {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp > rows[j].Timestamp
	})
	return rows
}
