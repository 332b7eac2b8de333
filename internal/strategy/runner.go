package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/crypto"
	"github.com/openclob/polymirror/internal/domain"
)

const (
	tickInterval      = 5 * time.Second
	discoveryInterval = 2 * time.Minute

	// priceBroadcastMin coalesces price_update broadcasts per runner.
	priceBroadcastMin = 250 * time.Millisecond

	// discoveryTimeout bounds one discovery pulse. Failures yield an empty
	// delta, never an error.
	discoveryTimeout = 5 * time.Second

	// seedConcurrency bounds parallel book fetches when seeding prices for
	// freshly discovered tokens.
	seedConcurrency = 5
)

// Runner drives one strategy: it discovers markets, tracks their prices from
// the WebSocket feed, and executes the signals its module produces. All state
// is owned by the Run goroutine; inputs arrive as bus events and timers.
type Runner struct {
	strategy domain.Strategy
	module   Module

	strategies domain.StrategyStore
	events     domain.StrategyEventStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	creds      domain.CredentialsStore

	markets discoverer
	clob    venue
	feed    feed
	bus     *bus.Bus
	logger  *slog.Logger
	chainID int

	// targets are operator-pinned tokens from the strategy config. They are
	// subscribed at start and survive every discovery pulse.
	targets []string

	discovered  map[string]domain.MarketInfo
	tokenPrices map[string]domain.TokenPrice

	pricesDirty bool

	// paused is shared with the engine handle. While set, prices and
	// discovery keep flowing but no signals are evaluated or executed.
	paused *atomic.Bool

	now func() time.Time // test seam
}

func newRunner(s domain.Strategy, module Module, e *Engine, paused *atomic.Bool) *Runner {
	return &Runner{
		strategy:    s,
		module:      module,
		strategies:  e.strategies,
		events:      e.events,
		positions:   e.positions,
		trades:      e.trades,
		creds:       e.creds,
		markets:     e.markets,
		clob:        e.clob,
		feed:        e.feed,
		bus:         e.bus,
		logger:      e.logger.With(slog.Int64("strategy_id", s.ID), slog.String("strategy", s.Name)),
		chainID:     e.chainID,
		targets:     targetTokens(s.Config),
		discovered:  make(map[string]domain.MarketInfo),
		tokenPrices: make(map[string]domain.TokenPrice),
		paused:      paused,
		now:         time.Now,
	}
}

// Run executes the strategy until ctx is cancelled. On a clean stop the
// persisted status becomes stopped; on failure it becomes error.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.init(ctx); err != nil {
		r.fail(err)
		return err
	}

	err := r.loop(ctx)

	// Cancellation is the normal stop path.
	if err != nil && !errors.Is(err, context.Canceled) {
		r.fail(err)
		return err
	}

	r.shutdown()
	return nil
}

func (r *Runner) init(ctx context.Context) error {
	status := domain.StrategyRunning
	if r.paused.Load() {
		status = domain.StrategyPaused
	}
	if err := r.strategies.UpdateStatus(ctx, r.strategy.ID, status); err != nil {
		return fmt.Errorf("strategy: persist %s: %w", status, err)
	}
	r.publishStatus(status)
	r.appendEvent(domain.EventInfo, "strategy started", nil)
	return nil
}

func (r *Runner) loop(ctx context.Context) error {
	sub := r.bus.Subscribe(domain.TopicLiveOrders)
	defer sub.Unsubscribe()
	defer r.unsubscribeAll()

	r.subscribeTargets(ctx)
	r.discover(ctx)

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()
	discover := time.NewTicker(discoveryInterval)
	defer discover.Stop()
	broadcast := time.NewTicker(priceBroadcastMin)
	defer broadcast.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-sub.Events():
			if ev.Type != "new_order" {
				continue
			}
			feedEv, ok := ev.Payload.(domain.FeedEvent)
			if !ok {
				continue
			}
			r.handleOrder(ctx, feedEv)

		case <-broadcast.C:
			r.broadcastPrices()

		case <-tick.C:
			if r.paused.Load() {
				continue
			}
			for _, signal := range r.module.HandleTick(r.now()) {
				r.execute(ctx, signal)
			}

		case <-discover.C:
			r.discover(ctx)
		}
	}
}

// --------------------------------------------------------------------------
// Discovery
// --------------------------------------------------------------------------

// targetTokens reads the operator-pinned token list from a strategy config.
func targetTokens(raw map[string]any) []string {
	list, ok := raw["target_tokens"].([]any)
	if !ok {
		return nil
	}
	tokens := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			tokens = append(tokens, s)
		}
	}
	return tokens
}

// subscribeTargets resolves and subscribes the pinned tokens once at start.
// A failed metadata lookup still subscribes the token; its info fills in when
// the next lookup succeeds or a feed event carries it.
func (r *Runner) subscribeTargets(ctx context.Context) {
	if len(r.targets) == 0 {
		return
	}

	added := make([]string, 0, len(r.targets))
	for _, token := range r.targets {
		if _, ok := r.discovered[token]; ok {
			continue
		}
		info, err := r.markets.GetMarketByToken(ctx, token)
		if err != nil {
			r.logger.Warn("target token lookup failed",
				slog.String("token", token),
				slog.String("error", err.Error()),
			)
			info = domain.MarketInfo{TokenID: token}
		}
		r.discovered[token] = info
		added = append(added, token)
	}

	if len(added) > 0 {
		r.feed.Subscribe(added)
		r.seedPrices(ctx, added)
	}
}

// discover pulls the current market set for the module's intervals and
// reconciles subscriptions against it. A failed pulse keeps the previous set;
// pinned target tokens are never dropped.
func (r *Runner) discover(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	found, err := r.markets.DiscoverAll(dctx, r.module.Intervals(), r.module.Filter())
	if err != nil {
		r.logger.Warn("discovery failed, keeping current token set",
			slog.String("error", err.Error()),
		)
		return
	}

	next := make(map[string]domain.MarketInfo, len(found))
	for _, m := range found {
		next[m.Info.TokenID] = m.Info
	}
	for _, token := range r.targets {
		if _, ok := next[token]; ok {
			continue
		}
		if info, ok := r.discovered[token]; ok {
			next[token] = info
		}
	}

	var added, removed []string
	for token := range next {
		if _, ok := r.discovered[token]; !ok {
			added = append(added, token)
		}
	}
	for token := range r.discovered {
		if _, ok := next[token]; !ok {
			removed = append(removed, token)
		}
	}
	r.discovered = next

	if len(added) > 0 {
		sort.Strings(added)
		r.feed.Subscribe(added)
		r.seedPrices(ctx, added)
		r.publish("discovered_tokens", domain.DiscoveredTokensEvent{
			StrategyID: r.strategy.ID,
			TokenIDs:   added,
		})
	}
	if len(removed) > 0 {
		sort.Strings(removed)
		r.feed.Unsubscribe(removed)
		for _, token := range removed {
			delete(r.tokenPrices, token)
		}
		r.publish("removed_tokens", domain.RemovedTokensEvent{
			StrategyID: r.strategy.ID,
			TokenIDs:   removed,
		})
	}

	r.logger.Debug("discovery pulse",
		slog.Int("tracked", len(r.discovered)),
		slog.Int("added", len(added)),
		slog.Int("removed", len(removed)),
	)
}

// seedPrices fills tokenPrices from REST book snapshots so the module can
// evaluate before the first WebSocket update arrives.
func (r *Runner) seedPrices(ctx context.Context, tokens []string) {
	var mu sync.Mutex
	seeded := make(map[string]domain.TokenPrice, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(seedConcurrency)
	for _, token := range tokens {
		token := token
		g.Go(func() error {
			book, err := r.clob.GetBook(gctx, token)
			if err != nil {
				r.logger.Debug("price seed failed",
					slog.String("token", token),
					slog.String("error", err.Error()),
				)
				return nil
			}

			info := r.discovered[token]
			price := domain.TokenPrice{
				Outcome:        info.Outcome,
				MarketQuestion: info.Question,
				UpdatedAt:      r.now(),
			}
			if bid := book.BestBid(); bid.IsPositive() {
				price.BestBid = &bid
			}
			if ask := book.BestAsk(); ask.IsPositive() {
				price.BestAsk = &ask
			}

			mu.Lock()
			seeded[token] = price
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for token, price := range seeded {
		r.tokenPrices[token] = price
	}
	if len(seeded) > 0 {
		r.pricesDirty = true
	}
}

// --------------------------------------------------------------------------
// Order ingestion
// --------------------------------------------------------------------------

func (r *Runner) handleOrder(ctx context.Context, ev domain.FeedEvent) {
	info, tracked := r.discovered[ev.AssetID]
	if !tracked {
		return
	}

	price := r.tokenPrices[ev.AssetID]
	if ev.BestBid != nil {
		price.BestBid = ev.BestBid
	}
	if ev.BestAsk != nil {
		price.BestAsk = ev.BestAsk
	}
	price.Outcome = info.Outcome
	price.MarketQuestion = info.Question
	price.UpdatedAt = r.now()
	r.tokenPrices[ev.AssetID] = price
	r.pricesDirty = true

	if r.paused.Load() {
		return
	}
	if signal := r.module.HandleOrder(ev, info, r.now()); signal != nil {
		r.execute(ctx, *signal)
	}
}

// broadcastPrices publishes the full price map, at most once per broadcast
// tick and only when something changed since the last one.
func (r *Runner) broadcastPrices() {
	if !r.pricesDirty {
		return
	}
	r.pricesDirty = false

	prices := make(map[string]domain.TokenPrice, len(r.tokenPrices))
	for token, price := range r.tokenPrices {
		prices[token] = price
	}
	r.publish("price_update", domain.PriceUpdateEvent{
		StrategyID: r.strategy.ID,
		Prices:     prices,
	})
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

func (r *Runner) execute(ctx context.Context, signal domain.Signal) {
	r.logger.Info("signal",
		slog.String("action", string(signal.Action)),
		slog.String("token", signal.TokenID),
		slog.String("price", signal.Price.String()),
		slog.String("size", signal.Size.String()),
		slog.String("reason", signal.Reason),
	)
	r.appendEvent(domain.EventSignal, signal.Reason, map[string]any{
		"token_id": signal.TokenID,
		"action":   string(signal.Action),
		"price":    signal.Price.String(),
		"size":     signal.Size.String(),
	})
	r.publish("signal", domain.SignalEvent{Signal: signal})

	// A live SELL without inventory is skipped, not partially executed.
	if !r.strategy.PaperMode && signal.Action == domain.Sell && signal.RequiresPosition {
		if !r.hasPosition(ctx, signal.TokenID, signal.Size) {
			r.appendEvent(domain.EventWarning,
				fmt.Sprintf("sell signal for %s skipped: position smaller than %s", signal.TokenID, signal.Size),
				nil)
			return
		}
	}

	info := r.discovered[signal.TokenID]
	trade := domain.Trade{
		StrategyID: r.strategy.ID,
		MarketID:   info.ConditionID,
		AssetID:    signal.TokenID,
		Side:       signal.Action,
		Price:      signal.Price,
		Size:       signal.Size,
		Title:      info.Question,
		Outcome:    info.Outcome,
	}

	if r.strategy.PaperMode {
		r.executePaper(ctx, trade)
		return
	}
	r.executeLive(ctx, trade, info)
}

func (r *Runner) executePaper(ctx context.Context, trade domain.Trade) {
	trade.Status = domain.TradeSimulated
	stored, err := r.trades.Insert(ctx, trade)
	if err != nil {
		r.logger.Error("persist paper trade", slog.String("error", err.Error()))
		return
	}

	stored.Status = domain.TradeFilled
	if err := r.trades.Update(ctx, stored); err != nil {
		r.logger.Error("fill paper trade", slog.String("error", err.Error()))
		return
	}

	r.applyFill(ctx, stored)
	r.appendEvent(domain.EventTrade,
		fmt.Sprintf("paper %s %s %s at %s", stored.Side, stored.Size, stored.AssetID, stored.Price),
		map[string]any{"trade_id": stored.ID})
	r.publish("paper_order", domain.PaperOrderEvent{
		StrategyID: r.strategy.ID,
		Trade:      stored,
		PaperMode:  true,
	})
}

func (r *Runner) executeLive(ctx context.Context, trade domain.Trade, info domain.MarketInfo) {
	trade.Status = domain.TradePending
	stored, err := r.trades.Insert(ctx, trade)
	if err != nil {
		r.logger.Error("persist trade", slog.String("error", err.Error()))
		return
	}

	orderID, err := r.placeOrder(ctx, stored, info)
	if err != nil {
		stored.Status = domain.TradeFailed
		if uerr := r.trades.Update(ctx, stored); uerr != nil {
			r.logger.Error("mark trade failed", slog.String("error", uerr.Error()))
		}
		r.appendEvent(domain.EventError,
			fmt.Sprintf("order placement failed: %v", err),
			map[string]any{"trade_id": stored.ID})
		return
	}

	stored.Status = domain.TradeSubmitted
	stored.OrderID = orderID
	if err := r.trades.Update(ctx, stored); err != nil {
		r.logger.Error("mark trade submitted", slog.String("error", err.Error()))
		return
	}

	r.applyFill(ctx, stored)
	r.appendEvent(domain.EventTrade,
		fmt.Sprintf("submitted %s %s %s at %s", stored.Side, stored.Size, stored.AssetID, stored.Price),
		map[string]any{"trade_id": stored.ID, "order_id": orderID})
	r.publish("paper_order", domain.PaperOrderEvent{
		StrategyID: r.strategy.ID,
		Trade:      stored,
		PaperMode:  false,
	})
}

// placeOrder signs and submits one live order. The neg-risk flag must be
// known; signing against the wrong exchange contract yields an invalid
// signature, so an unknown flag rejects the order.
func (r *Runner) placeOrder(ctx context.Context, trade domain.Trade, info domain.MarketInfo) (string, error) {
	if info.NegRisk == nil {
		return "", fmt.Errorf("market %s: %w: neg_risk unknown", trade.AssetID, domain.ErrMarketConfig)
	}

	creds, err := r.creds.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if !creds.Configured() {
		return "", domain.ErrNotConfigured
	}

	signer, err := crypto.NewSigner(creds.PrivateKey, r.chainID)
	if err != nil {
		return "", err
	}

	order, err := crypto.BuildOrder(creds, trade.AssetID, trade.Side, crypto.ClampTick(trade.Price), trade.Size)
	if err != nil {
		return "", err
	}

	signed, err := signer.SignOrder(order, *info.NegRisk)
	if err != nil {
		return "", err
	}

	result, err := r.clob.PostOrder(ctx, signed, domain.OrderTypeGTC)
	if err != nil {
		return "", err
	}
	return result.OrderID, nil
}

// applyFill folds an executed trade into the persisted position.
func (r *Runner) applyFill(ctx context.Context, trade domain.Trade) {
	pos, err := r.positions.Get(ctx, r.strategy.ID, trade.AssetID)
	if errors.Is(err, domain.ErrNotFound) {
		side := domain.PositionYes
		if trade.Side == domain.Sell {
			side = domain.PositionNo
		}
		pos = domain.Position{
			StrategyID: r.strategy.ID,
			TokenID:    trade.AssetID,
			Side:       side,
		}
	} else if err != nil {
		r.logger.Error("load position", slog.String("error", err.Error()))
		return
	}

	if trade.Side == domain.Buy {
		pos.ApplyBuy(trade.Size, trade.Price)
	} else {
		pos.ApplySell(trade.Size, trade.Price)
	}

	if _, err := r.positions.Upsert(ctx, pos); err != nil {
		r.logger.Error("persist position", slog.String("error", err.Error()))
	}
}

func (r *Runner) hasPosition(ctx context.Context, tokenID string, size decimal.Decimal) bool {
	pos, err := r.positions.Get(ctx, r.strategy.ID, tokenID)
	if err != nil {
		return false
	}
	return pos.Size.GreaterThanOrEqual(size)
}

// --------------------------------------------------------------------------
// Shutdown and plumbing
// --------------------------------------------------------------------------

func (r *Runner) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.strategies.UpdateStatus(ctx, r.strategy.ID, domain.StrategyStopped); err != nil {
		r.logger.Error("persist stopped status", slog.String("error", err.Error()))
	}
	r.publishStatus(domain.StrategyStopped)
	r.appendEvent(domain.EventInfo, "strategy stopped", nil)
	r.logger.Info("runner stopped")
}

func (r *Runner) fail(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.strategies.UpdateStatus(ctx, r.strategy.ID, domain.StrategyError); err != nil {
		r.logger.Error("persist error status", slog.String("error", err.Error()))
	}
	r.publishStatus(domain.StrategyError)
	r.appendEvent(domain.EventError, cause.Error(), nil)
	r.logger.Error("runner failed", slog.String("error", cause.Error()))
}

func (r *Runner) unsubscribeAll() {
	if len(r.discovered) == 0 {
		return
	}
	tokens := make([]string, 0, len(r.discovered))
	for token := range r.discovered {
		tokens = append(tokens, token)
	}
	r.feed.Unsubscribe(tokens)
}

// publish fans an event out to the per-strategy topic and the shared updates
// topic so both detail views and overview pages see it.
func (r *Runner) publish(eventType string, payload any) {
	ev := domain.Event{Type: eventType, Payload: payload}
	r.bus.Publish(domain.TopicStrategy(r.strategy.ID), ev)
	r.bus.Publish(domain.TopicStrategyUpdates, ev)
}

func (r *Runner) publishStatus(status domain.StrategyStatus) {
	r.publish("strategy_status", domain.StrategyStatusEvent{
		StrategyID: r.strategy.ID,
		Status:     status,
	})
}

func (r *Runner) appendEvent(typ domain.StrategyEventType, message string, metadata map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.events.Append(ctx, domain.StrategyEvent{
		StrategyID: r.strategy.ID,
		Type:       typ,
		Message:    message,
		Metadata:   metadata,
	})
	if err != nil {
		r.logger.Error("append strategy event", slog.String("error", err.Error()))
	}
}
