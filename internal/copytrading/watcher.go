// Package copytrading watches tracked wallets for on-venue activity and
// mirrors their trades through the operator's account.
package copytrading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
)

const (
	// watcherMinInterval floors the poll cadence.
	watcherMinInterval = 3 * time.Second

	// watcherBaseInterval scales with the tracked-user count so total
	// request rate stays at or below half the Data API budget.
	watcherBaseInterval = 10 * time.Second

	// activityFetchLimit is how many recent activity rows each poll pulls.
	activityFetchLimit = 100
)

// Watcher polls the Data API for each tracked wallet, diffs against the last
// seen trade set, and publishes new trades on the copy-trading topic.
type Watcher struct {
	users  domain.TrackedUserStore
	data   *polymarket.DataClient
	bus    *bus.Bus
	logger *slog.Logger

	mu       sync.Mutex
	tracked  map[string]domain.TrackedUser
	lastSeen map[string]map[string]struct{}

	fetchNow chan string
}

// NewWatcher creates a Watcher. Call Run to start polling.
func NewWatcher(users domain.TrackedUserStore, data *polymarket.DataClient, b *bus.Bus, logger *slog.Logger) *Watcher {
	return &Watcher{
		users:    users,
		data:     data,
		bus:      b,
		logger:   logger.With(slog.String("component", "copy_watcher")),
		tracked:  make(map[string]domain.TrackedUser),
		lastSeen: make(map[string]map[string]struct{}),
		fetchNow: make(chan string, 16),
	}
}

// Run loads active tracked users, fetches each once immediately, and then
// polls on a cadence of max(3s, 10s * N / 100) for N tracked wallets.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.restore(ctx); err != nil {
		return err
	}

	for _, addr := range w.addresses() {
		w.fetchTrades(ctx, addr)
	}

	timer := time.NewTimer(w.pollInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case addr := <-w.fetchNow:
			w.fetchTrades(ctx, addr)

		case <-timer.C:
			for _, addr := range w.addresses() {
				w.fetchTrades(ctx, addr)
			}
			timer.Reset(w.pollInterval())
		}
	}
}

// Track starts watching a wallet and schedules an immediate fetch.
func (w *Watcher) Track(ctx context.Context, address, label string) error {
	user := domain.TrackedUser{Address: address, Label: label, Active: true}
	if err := w.users.Upsert(ctx, user); err != nil {
		return fmt.Errorf("copytrading: track %s: %w", address, err)
	}

	addr, _ := domain.NormalizeAddress(address)
	w.mu.Lock()
	user.Address = addr
	w.tracked[addr] = user
	w.mu.Unlock()

	select {
	case w.fetchNow <- addr:
	default:
	}
	return nil
}

// Untrack archives a wallet: the row stays, polling stops.
func (w *Watcher) Untrack(ctx context.Context, address string) error {
	if err := w.users.SetActive(ctx, address, false); err != nil {
		return fmt.Errorf("copytrading: untrack %s: %w", address, err)
	}
	w.mu.Lock()
	delete(w.tracked, address)
	delete(w.lastSeen, address)
	w.mu.Unlock()
	return nil
}

// Restore reactivates an archived wallet and resumes polling.
func (w *Watcher) Restore(ctx context.Context, address string) error {
	if err := w.users.SetActive(ctx, address, true); err != nil {
		return fmt.Errorf("copytrading: restore %s: %w", address, err)
	}
	user, err := w.users.Get(ctx, address)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.tracked[user.Address] = user
	w.mu.Unlock()

	select {
	case w.fetchNow <- user.Address:
	default:
	}
	return nil
}

// Delete permanently removes an archived wallet.
func (w *Watcher) Delete(ctx context.Context, address string) error {
	if err := w.users.Delete(ctx, address); err != nil {
		return err
	}
	w.mu.Lock()
	delete(w.tracked, address)
	delete(w.lastSeen, address)
	w.mu.Unlock()
	return nil
}

// Tracked returns the currently watched users.
func (w *Watcher) Tracked() []domain.TrackedUser {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]domain.TrackedUser, 0, len(w.tracked))
	for _, u := range w.tracked {
		out = append(out, u)
	}
	return out
}

// --------------------------------------------------------------------------
// Internal
// --------------------------------------------------------------------------

func (w *Watcher) restore(ctx context.Context) error {
	active, err := w.users.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("copytrading: load tracked users: %w", err)
	}

	w.mu.Lock()
	for _, u := range active {
		w.tracked[u.Address] = u
	}
	w.mu.Unlock()

	w.logger.Info("watching tracked users", slog.Int("count", len(active)))
	return nil
}

func (w *Watcher) addresses() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.tracked))
	for addr := range w.tracked {
		out = append(out, addr)
	}
	return out
}

// pollInterval keeps total Data API usage at or below half the bucket
// capacity regardless of how many wallets are tracked.
func (w *Watcher) pollInterval() time.Duration {
	w.mu.Lock()
	n := len(w.tracked)
	w.mu.Unlock()

	interval := watcherBaseInterval * time.Duration(n) / 100
	if interval < watcherMinInterval {
		interval = watcherMinInterval
	}
	return interval
}

// fetchTrades pulls one wallet's recent activity, publishes every unseen
// trade, and replaces the last-seen id set. Replacing rather than unioning
// bounds memory for busy wallets.
func (w *Watcher) fetchTrades(ctx context.Context, address string) {
	rows, err := w.data.GetActivity(ctx, address, activityFetchLimit, nil)
	if err != nil {
		w.logger.Warn("activity fetch failed",
			slog.String("address", address),
			slog.String("error", err.Error()),
		)
		return
	}

	trades := extractTrades(rows)

	w.mu.Lock()
	seen := w.lastSeen[address]

	var fresh []domain.ActivityTrade
	nextSeen := make(map[string]struct{}, len(trades))
	for _, tr := range trades {
		nextSeen[tr.ID] = struct{}{}
		if _, ok := seen[tr.ID]; !ok {
			fresh = append(fresh, tr)
		}
	}
	w.lastSeen[address] = nextSeen
	w.mu.Unlock()

	// Every unseen trade is published, including on the first fetch after a
	// track or a restart. Trades that were already mirrored stop at the
	// executor's per-transaction gate, so a replayed window costs nothing
	// and trades made while the server was down are still picked up.
	for _, tr := range fresh {
		w.bus.Publish(domain.TopicCopyTrading, domain.Event{
			Type:    "new_trade",
			Payload: domain.NewTradeEvent{Address: address, Trade: tr},
		})
	}

	w.bus.Publish(domain.TopicCopyTrading, domain.Event{
		Type:    "trades_updated",
		Payload: domain.TradesUpdatedEvent{Address: address, Trades: trades},
	})
}

// extractTrades keeps activity rows of type TRADE and projects them to the
// canonical trade record keyed by transaction hash.
func extractTrades(rows []polymarket.DataActivity) []domain.ActivityTrade {
	var out []domain.ActivityTrade
	for _, row := range rows {
		if row.Type != "TRADE" || row.TransactionHash == "" {
			continue
		}
		out = append(out, domain.ActivityTrade{
			ID:        row.TransactionHash,
			Side:      domain.OrderSide(row.Side),
			Size:      decimal.NewFromFloat(row.Size),
			Price:     decimal.NewFromFloat(row.Price),
			Outcome:   row.Outcome,
			Title:     row.Title,
			EventSlug: row.EventSlug,
			AssetID:   row.Asset,
			Timestamp: time.Unix(row.Timestamp, 0),
		})
	}
	return out
}
