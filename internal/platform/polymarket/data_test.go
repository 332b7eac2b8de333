package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/ratelimit"
)

func newTestData(t *testing.T, handler http.HandlerFunc) *DataClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewDataClient(srv.URL, ratelimit.New(testLogger()), testLogger())
	c.core.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

// serveActivityRows answers /activity with total rows split into pageSize
// pages addressed by offset.
func serveActivityRows(total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		var rows []DataActivity
		for i := offset; i < offset+limit && i < total; i++ {
			rows = append(rows, DataActivity{
				TransactionHash: "0x" + strconv.Itoa(i),
				Type:            "TRADE",
				Timestamp:       int64(total - i),
			})
		}
		json.NewEncoder(w).Encode(rows)
	}
}

func TestGetActivityShortProbeIsWholeHistory(t *testing.T) {
	c := newTestData(t, serveActivityRows(42))

	rows, err := c.GetActivity(context.Background(), "0xwallet", 5000, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 42)
}

func TestGetActivityCrawlsUntilShortPage(t *testing.T) {
	total := pageSize*2 + 17
	c := newTestData(t, serveActivityRows(total))

	var progressCalls int
	rows, err := c.GetActivity(context.Background(), "0xwallet", pageSize*20,
		func(batch, totalBatches, activities int) { progressCalls++ })
	require.NoError(t, err)

	assert.Len(t, rows, total)
	assert.GreaterOrEqual(t, progressCalls, 1)

	// Newest first despite concurrent page fetches.
	for i := 1; i < len(rows); i++ {
		assert.GreaterOrEqual(t, rows[i-1].Timestamp, rows[i].Timestamp)
	}
}

func TestGetActivityRespectsMax(t *testing.T) {
	c := newTestData(t, serveActivityRows(pageSize*3))

	rows, err := c.GetActivity(context.Background(), "0xwallet", pageSize*2, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(rows), pageSize*2)
}

func TestGetPositionsPagesUntilShortPage(t *testing.T) {
	total := pageSize + 3
	c := newTestData(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/positions", r.URL.Path)
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		var rows []DataPosition
		for i := offset; i < offset+pageSize && i < total; i++ {
			rows = append(rows, DataPosition{Asset: "tok-" + strconv.Itoa(i)})
		}
		json.NewEncoder(w).Encode(rows)
	})

	rows, err := c.GetPositions(context.Background(), "0xwallet")
	require.NoError(t, err)
	assert.Len(t, rows, total)
}

func TestGetActivityPartialProgressOnFailure(t *testing.T) {
	// First page and probe succeed; deeper offsets fail hard.
	c := newTestData(t, func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset > pageSize*2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		serveActivityRows(pageSize * 30)(w, r)
	})

	rows, err := c.GetActivity(context.Background(), "0xwallet", pageSize*30, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rows, "partial progress should be returned, not dropped")
}
