package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclob/polymirror/internal/domain"
)

// Narrow store surfaces for archival. The sqlite stores satisfy these
// implicitly; the archiver only needs the time-ranged query pair.

// CopyTradeArchiveStore reads and prunes aged copy trades.
type CopyTradeArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.CopyTrade, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StrategyEventArchiveStore reads and prunes aged strategy events.
type StrategyEventArchiveStore interface {
	ListBefore(ctx context.Context, cutoff time.Time) ([]domain.StrategyEvent, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// blobPutter is the upload surface the archiver needs from the writer.
type blobPutter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// Archiver periodically exports records older than the retention window to
// object storage as JSONL and prunes them from the embedded database. Rows
// are only deleted after the upload has succeeded, so a failed export leaves
// everything in place for the next cycle.
type Archiver struct {
	writer    blobPutter
	trades    CopyTradeArchiveStore
	events    StrategyEventArchiveStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver uploading through the given client.
func NewArchiver(
	client *Client,
	trades CopyTradeArchiveStore,
	events StrategyEventArchiveStore,
	retention, interval time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:    NewWriter(client),
		trades:    trades,
		events:    events,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run executes one archive cycle immediately and then on every interval tick
// until the context is cancelled. Cycle failures are logged, not fatal.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)

	a.runOnce(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

func (a *Archiver) runOnce(ctx context.Context) {
	cutoff := a.now().UTC().Add(-a.retention)

	if n, err := a.ArchiveCopyTrades(ctx, cutoff); err != nil {
		a.logger.Error("copy trade archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.Info("archived copy trades", slog.Int64("count", n))
	}

	if n, err := a.ArchiveStrategyEvents(ctx, cutoff); err != nil {
		a.logger.Error("strategy event archive failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.Info("archived strategy events", slog.Int64("count", n))
	}
}

// ArchiveCopyTrades exports copy trades older than cutoff and deletes them
// once the upload succeeds. Returns the number of rows exported.
func (a *Archiver) ArchiveCopyTrades(ctx context.Context, cutoff time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: copy trade query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: copy trade marshal: %w", err)
	}
	if err := a.upload(ctx, a.archivePath("copy_trades", cutoff), buf); err != nil {
		return 0, err
	}

	if _, err := a.trades.DeleteBefore(ctx, cutoff); err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: copy trade prune: %w", err)
	}
	return int64(len(trades)), nil
}

// ArchiveStrategyEvents exports strategy events older than cutoff and deletes
// them once the upload succeeds. Returns the number of rows exported.
func (a *Archiver) ArchiveStrategyEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	events, err := a.events.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: strategy event query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: strategy event marshal: %w", err)
	}
	if err := a.upload(ctx, a.archivePath("strategy_events", cutoff), buf); err != nil {
		return 0, err
	}

	if _, err := a.events.DeleteBefore(ctx, cutoff); err != nil {
		return int64(len(events)), fmt.Errorf("s3blob: strategy event prune: %w", err)
	}
	return int64(len(events)), nil
}

// archivePath builds the object key, partitioned by the cutoff's year-month
// with a run timestamp so repeated cycles in the same month never collide.
//
//	archive/copy_trades/2026-07/20260824T120000Z.jsonl
func (a *Archiver) archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind,
		cutoff.Format("2006-01"),
		a.now().UTC().Format("20060102T150405Z"),
	)
}

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
