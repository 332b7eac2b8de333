package s3blob

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/store/sqlite"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePutter struct {
	objects      map[string]string
	contentTypes map[string]string
	err          error
}

func newFakePutter() *fakePutter {
	return &fakePutter{
		objects:      make(map[string]string),
		contentTypes: make(map[string]string),
	}
}

func (p *fakePutter) Put(_ context.Context, key string, body []byte, contentType string) error {
	if p.err != nil {
		return p.err
	}
	p.objects[key] = string(body)
	p.contentTypes[key] = contentType
	return nil
}

type archiverEnv struct {
	archiver *Archiver
	putter   *fakePutter
	trades   *sqlite.CopyTradeStore
	events   *sqlite.StrategyEventStore
}

func newArchiverEnv(t *testing.T) *archiverEnv {
	t.Helper()

	client, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	trades := sqlite.NewCopyTradeStore(client)
	events := sqlite.NewStrategyEventStore(client)
	putter := newFakePutter()

	archiver := &Archiver{
		writer:    putter,
		trades:    trades,
		events:    events,
		retention: 30 * 24 * time.Hour,
		interval:  24 * time.Hour,
		logger:    testLogger(),
		now:       time.Now,
	}
	return &archiverEnv{archiver: archiver, putter: putter, trades: trades, events: events}
}

func seedCopyTrade(t *testing.T, store *sqlite.CopyTradeStore, id string) domain.CopyTrade {
	t.Helper()

	stored, err := store.Insert(context.Background(), domain.CopyTrade{
		SourceAddress:   "0xabc",
		OriginalTradeID: id,
		AssetID:         "tok-1",
		Side:            domain.Buy,
		OriginalSize:    decimal.NewFromInt(10),
		OriginalPrice:   decimal.RequireFromString("0.5"),
		CopySize:        decimal.NewFromInt(20),
		Status:          domain.CopyTradeExecuted,
	})
	require.NoError(t, err)
	return stored
}

func TestArchiveCopyTradesExportsAndPrunes(t *testing.T) {
	env := newArchiverEnv(t)
	ctx := context.Background()

	seedCopyTrade(t, env.trades, "0xhash1")
	seedCopyTrade(t, env.trades, "0xhash2")

	// Cutoff in the future so both rows qualify.
	cutoff := time.Now().Add(time.Hour)
	count, err := env.archiver.ArchiveCopyTrades(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.Len(t, env.putter.objects, 1)
	for path, body := range env.putter.objects {
		assert.Contains(t, path, "archive/copy_trades/")
		assert.True(t, strings.HasSuffix(path, ".jsonl"))
		assert.Equal(t, "application/x-ndjson", env.putter.contentTypes[path])
		lines := strings.Split(strings.TrimSpace(body), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, body, "0xhash1")
	}

	remaining, err := env.trades.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestArchiveSkipsWhenNothingAged(t *testing.T) {
	env := newArchiverEnv(t)

	seedCopyTrade(t, env.trades, "0xhash3")

	count, err := env.archiver.ArchiveCopyTrades(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, env.putter.objects)
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	env := newArchiverEnv(t)
	ctx := context.Background()

	seedCopyTrade(t, env.trades, "0xhash4")
	env.putter.err = io.ErrUnexpectedEOF

	_, err := env.archiver.ArchiveCopyTrades(ctx, time.Now().Add(time.Hour))
	require.Error(t, err)

	remaining, err := env.trades.List(ctx, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestArchiveStrategyEvents(t *testing.T) {
	env := newArchiverEnv(t)
	ctx := context.Background()

	require.NoError(t, env.events.Append(ctx, domain.StrategyEvent{
		StrategyID: 1,
		Type:       domain.EventInfo,
		Message:    "strategy started",
	}))

	count, err := env.archiver.ArchiveStrategyEvents(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	events, err := env.events.List(ctx, 1, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMarshalJSONLOneCompactLinePerRecord(t *testing.T) {
	buf, err := marshalJSONL([]map[string]string{
		{"a": "1"},
		{"b": "<2>"},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(buf)), "\n")
	require.Len(t, lines, 2)
	// HTML escaping is off so payloads stay readable.
	assert.Contains(t, lines[1], "<2>")
}

func TestArchivePathPartitionsByCutoffMonth(t *testing.T) {
	env := newArchiverEnv(t)
	env.archiver.now = func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	}

	cutoff := time.Date(2026, 7, 25, 12, 0, 0, 0, time.UTC)
	path := env.archiver.archivePath("copy_trades", cutoff)
	assert.Equal(t, "archive/copy_trades/2026-07/20260824T120000Z.jsonl", path)
}
