package polymarket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

const (
	wsWriteWait        = 10 * time.Second
	wsHandshakeTimeout = 15 * time.Second

	// wsPingPeriod keeps the connection alive.
	wsPingPeriod = 10 * time.Second

	// wsSilenceLimit forces a resubscribe when no message arrived for this
	// long while subscriptions exist.
	wsSilenceLimit = 15 * time.Second

	// wsResendSuppression skips duplicate subscription sends within this
	// window unless forced.
	wsResendSuppression = 60 * time.Second

	// Batching of outbound feed events.
	wsBatchFlushInterval = 50 * time.Millisecond
	wsBatchFlushSize     = 50

	wsReconnectBase = 500 * time.Millisecond
	wsReconnectMax  = 5 * time.Second
)

// subscribeMessage is the venue's market subscription payload. Both the
// correct and the historically misspelled asset key are sent because the
// venue has accepted either at different times.
type subscribeMessage struct {
	Operation string   `json:"operation"`
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
	AssetIDs  []string `json:"asset_ids"`
}

type feedCmd struct {
	add    []string
	remove []string
	force  bool
}

// Feed maintains the single long-lived market WebSocket connection. Desired
// subscriptions survive reconnects. Normalised events are batched and
// published on the live-orders bus topic; all subscription changes are
// serialised through the feed's inbox, so the connection has one writer.
type Feed struct {
	url    string
	bus    *bus.Bus
	logger *slog.Logger

	inbox chan feedCmd
	ready atomic.Bool

	// Owned by the run loop.
	conn               *websocket.Conn
	everConnected      bool
	subscribed         map[string]struct{}
	orderBatch         []domain.FeedEvent
	lastSubscriptionAt time.Time
	lastMessageAt      time.Time
	stats              domain.SubscriptionStats
}

// NewFeed creates a Feed for the given WebSocket URL, e.g.
// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewFeed(url string, b *bus.Bus, logger *slog.Logger) *Feed {
	return &Feed{
		url:        url,
		bus:        b,
		logger:     logger.With(slog.String("component", "market_feed")),
		inbox:      make(chan feedCmd, 64),
		subscribed: make(map[string]struct{}),
	}
}

// Subscribe adds token IDs to the desired subscription set.
func (f *Feed) Subscribe(tokenIDs []string) {
	if len(tokenIDs) == 0 {
		return
	}
	f.inbox <- feedCmd{add: tokenIDs}
}

// Unsubscribe removes token IDs from the desired subscription set. The venue
// offers no unsubscribe operation, so removal only stops local delivery
// until the next reconnect rebuilds the subscription.
func (f *Feed) Unsubscribe(tokenIDs []string) {
	if len(tokenIDs) == 0 {
		return
	}
	f.inbox <- feedCmd{remove: tokenIDs}
}

// Ready reports whether the connection is currently established.
func (f *Feed) Ready() bool {
	return f.ready.Load()
}

// Stats returns a copy of the subscription counters.
func (f *Feed) Stats() domain.SubscriptionStats {
	return domain.SubscriptionStats{
		Attempts: atomic.LoadInt64(&f.stats.Attempts),
		Retries:  atomic.LoadInt64(&f.stats.Retries),
	}
}

// Run drives the connection until the context is cancelled, reconnecting
// with backoff from 500ms up to 5s. The backoff resets after any session
// that reached the venue, so a flaky feed does not pay the maximum on every
// drop.
func (f *Feed) Run(ctx context.Context) error {
	backoff := wsReconnectBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = wsReconnectBase
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("backoff", backoff),
		)

		if err := f.waitReconnect(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > wsReconnectMax {
			backoff = wsReconnectMax
		}
	}
}

// waitReconnect sleeps out the backoff while still applying subscription
// commands to the desired set, so Subscribe and Unsubscribe callers never
// block on a full inbox during a venue outage.
func (f *Feed) waitReconnect(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-f.inbox:
			f.applyCmd(cmd)
		case <-timer.C:
			return nil
		}
	}
}

// session runs one connection from dial to disconnect. It reports whether
// the dial succeeded.
func (f *Feed) session(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}
	f.conn = conn
	defer func() {
		f.conn = nil
		conn.Close()
		f.ready.Store(false)
		f.publishConnected(false)
	}()

	f.ready.Store(true)
	f.lastMessageAt = time.Now()
	f.publishConnected(true)

	// Restore the full desired set on every (re)connect. A restore after a
	// drop counts as a subscription retry.
	if len(f.subscribed) > 0 {
		if f.everConnected {
			atomic.AddInt64(&f.stats.Retries, 1)
		}
		f.sendSubscription(f.currentSet(), true)
	}
	f.everConnected = true

	msgs := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go readPump(conn, msgs, readErr)

	batchTicker := time.NewTicker(wsBatchFlushInterval)
	defer batchTicker.Stop()
	healthTicker := time.NewTicker(wsPingPeriod)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			return true, ctx.Err()

		case err := <-readErr:
			return true, err

		case raw := <-msgs:
			f.lastMessageAt = time.Now()
			f.handleMessage(raw)

		case cmd := <-f.inbox:
			f.applyCmd(cmd)

		case <-batchTicker.C:
			f.flushBatch()

		case <-healthTicker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return true, err
			}
			if len(f.subscribed) > 0 && time.Since(f.lastMessageAt) > wsSilenceLimit {
				f.logger.Warn("no feed messages, forcing resubscribe",
					slog.Duration("silence", time.Since(f.lastMessageAt)),
					slog.Int("tokens", len(f.subscribed)),
				)
				atomic.AddInt64(&f.stats.Retries, 1)
				f.sendSubscription(f.currentSet(), true)
			}
		}
	}
}

func readPump(conn *websocket.Conn, msgs chan<- []byte, readErr chan<- error) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		msgs <- raw
	}
}

// --------------------------------------------------------------------------
// Subscription handling
// --------------------------------------------------------------------------

func (f *Feed) applyCmd(cmd feedCmd) {
	var added []string
	for _, id := range cmd.add {
		if id == "" {
			continue
		}
		if _, ok := f.subscribed[id]; !ok {
			f.subscribed[id] = struct{}{}
			added = append(added, id)
		}
	}
	for _, id := range cmd.remove {
		delete(f.subscribed, id)
	}

	if len(added) > 0 {
		f.sendSubscription(f.currentSet(), cmd.force)
	}
}

// sendSubscription sends the whole desired set in one message. Recent sends
// are suppressed for 60 seconds unless forced by a health check or
// reconnect.
func (f *Feed) sendSubscription(tokenIDs []string, force bool) {
	if f.conn == nil || len(tokenIDs) == 0 {
		return
	}
	if !force && time.Since(f.lastSubscriptionAt) < wsResendSuppression {
		return
	}

	msg := subscribeMessage{
		Operation: "subscribe",
		Type:      "market",
		AssetsIDs: tokenIDs,
		AssetIDs:  tokenIDs,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	f.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := f.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		f.logger.Warn("subscription send failed", slog.String("error", err.Error()))
		return
	}

	f.lastSubscriptionAt = time.Now()
	atomic.AddInt64(&f.stats.Attempts, 1)
	f.logger.Debug("sent subscription", slog.Int("tokens", len(tokenIDs)))
}

func (f *Feed) currentSet() []string {
	out := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		out = append(out, id)
	}
	return out
}

// --------------------------------------------------------------------------
// Inbound message handling
// --------------------------------------------------------------------------

// wsEnvelope covers every market message shape the venue sends.
type wsEnvelope struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`

	// last_trade_price
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`

	// price_change
	PriceChanges []wsPriceChange `json:"price_changes"`

	// book
	Bids []BookLevel `json:"bids"`
	Asks []BookLevel `json:"asks"`
}

type wsPriceChange struct {
	AssetID string  `json:"asset_id"`
	Price   *string `json:"price"`
	Size    *string `json:"size"`
	Side    string  `json:"side"`
	BestBid *string `json:"best_bid"`
	BestAsk *string `json:"best_ask"`
}

func (f *Feed) handleMessage(raw []byte) {
	switch string(raw) {
	case `"NO NEW ASSETS"`, "NO NEW ASSETS":
		f.logger.Debug("feed reported no new assets")
		return
	case `"INVALID OPERATION"`, "INVALID OPERATION":
		f.logger.Warn("feed rejected an operation")
		return
	}

	if len(raw) > 0 && raw[0] == '[' {
		var envs []json.RawMessage
		if err := json.Unmarshal(raw, &envs); err != nil {
			return
		}
		for _, e := range envs {
			f.handleEnvelope(e)
		}
		return
	}
	f.handleEnvelope(raw)
}

func (f *Feed) handleEnvelope(raw []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.EventType {
	case "last_trade_price":
		ev := domain.FeedEvent{
			Type:      domain.FeedTrade,
			AssetID:   env.AssetID,
			Side:      env.Side,
			Timestamp: parseWSTimestamp(env.Timestamp),
		}
		ev.Price = parseDecimalPtr(env.Price)
		ev.Size = parseDecimalPtr(env.Size)
		f.enqueue(ev)

	case "price_change":
		for _, pc := range env.PriceChanges {
			if pc.Price == nil && pc.BestBid == nil && pc.BestAsk == nil {
				continue
			}
			ev := domain.FeedEvent{
				Type:      domain.FeedPriceChange,
				AssetID:   pc.AssetID,
				Side:      pc.Side,
				Timestamp: time.Now(),
			}
			if pc.Price != nil {
				ev.Price = parseDecimalPtr(*pc.Price)
			}
			if pc.Size != nil {
				ev.Size = parseDecimalPtr(*pc.Size)
			}
			if pc.BestBid != nil {
				ev.BestBid = parseDecimalPtr(*pc.BestBid)
			}
			if pc.BestAsk != nil {
				ev.BestAsk = parseDecimalPtr(*pc.BestAsk)
			}
			f.enqueue(ev)
		}

	case "book":
		ev := domain.FeedEvent{
			Type:      domain.FeedPriceChange,
			AssetID:   env.AssetID,
			Timestamp: time.Now(),
		}
		if len(env.Bids) > 0 {
			bid := bestLevel(env.Bids)
			ev.BestBid = &bid
		}
		if len(env.Asks) > 0 {
			ask := bestLevel(env.Asks)
			ev.BestAsk = &ask
		}
		f.enqueue(ev)

	case "tick_size_change":
		f.logger.Debug("tick size change", slog.String("asset_id", env.AssetID))

	default:
		// Unknown event types are ignored.
	}
}

func (f *Feed) enqueue(ev domain.FeedEvent) {
	f.orderBatch = append(f.orderBatch, ev)
	if len(f.orderBatch) >= wsBatchFlushSize {
		f.flushBatch()
	}
}

// flushBatch publishes pending events: a lone event as new_order, a batch as
// new_orders_batch plus per-event new_order for single-token consumers.
func (f *Feed) flushBatch() {
	if len(f.orderBatch) == 0 {
		return
	}
	batch := f.orderBatch
	f.orderBatch = nil

	if len(batch) == 1 {
		f.bus.Publish(domain.TopicLiveOrders, domain.Event{Type: "new_order", Payload: batch[0]})
		return
	}

	f.bus.Publish(domain.TopicLiveOrders, domain.Event{Type: "new_orders_batch", Payload: batch})
	for _, ev := range batch {
		f.bus.Publish(domain.TopicLiveOrders, domain.Event{Type: "new_order", Payload: ev})
	}
}

func (f *Feed) publishConnected(connected bool) {
	f.bus.Publish(domain.TopicLiveOrders, domain.Event{
		Type:    "connected",
		Payload: domain.FeedConnectedEvent{Connected: connected},
	})
}

// --------------------------------------------------------------------------
// Parsing helpers
// --------------------------------------------------------------------------

func parseDecimalPtr(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// parseWSTimestamp accepts millisecond Unix timestamps as strings, which is
// what the venue sends.
func parseWSTimestamp(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

func errString(err error) string {
	if err == nil {
		return "eof"
	}
	return err.Error()
}
