package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
)

// safetyFloor rejects quotes below 0.05. Near-zero books are either stale or
// markets about to resolve against the position.
var safetyFloor = decimal.NewFromFloat(0.05)

var (
	minOrderDollars = decimal.NewFromInt(1)
	minOrderShares  = decimal.NewFromInt(5)
)

// TimeDecayConfig is the parsed configuration of the time-decay module.
type TimeDecayConfig struct {
	Intervals       []domain.DiscoveryInterval
	SignalThreshold decimal.Decimal
	OrderSize       decimal.Decimal
	MinProfit       decimal.Decimal
	Cooldown        time.Duration
	UseLimitOrder   bool
	LimitPrice      decimal.Decimal
	CryptoOnly      bool
	MinMinutes      float64
}

// intervalMinutes maps each discovery bucket to its resolution horizon.
var intervalMinutes = map[domain.DiscoveryInterval]float64{
	domain.Interval15M:    15,
	domain.Interval1H:     60,
	domain.Interval4H:     240,
	domain.IntervalWeekly: 7 * 24 * 60,
}

// parseTimeDecayConfig merges the persisted free-form config over the module
// defaults. The resolution window defaults to the longest configured
// interval's horizon.
func parseTimeDecayConfig(raw map[string]any) (TimeDecayConfig, error) {
	cfg := TimeDecayConfig{
		Intervals:       []domain.DiscoveryInterval{domain.Interval15M},
		SignalThreshold: decimal.NewFromFloat(0.95),
		OrderSize:       decimal.NewFromInt(10),
		MinProfit:       decimal.Zero,
		Cooldown:        200 * time.Second,
		LimitPrice:      decimal.NewFromFloat(0.99),
		CryptoOnly:      true,
	}

	if v, ok := raw["timeframes"]; ok {
		list, ok := v.([]any)
		if !ok {
			return cfg, fmt.Errorf("strategy/timedecay: timeframes must be a list")
		}
		cfg.Intervals = cfg.Intervals[:0]
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return cfg, fmt.Errorf("strategy/timedecay: timeframe %v is not a string", item)
			}
			iv := domain.DiscoveryInterval(s)
			if _, known := intervalMinutes[iv]; !known {
				return cfg, fmt.Errorf("strategy/timedecay: unknown timeframe %q", s)
			}
			cfg.Intervals = append(cfg.Intervals, iv)
		}
	}

	if v, ok := configNumber(raw, "signal_threshold"); ok {
		cfg.SignalThreshold = v
	}
	if v, ok := configNumber(raw, "order_size"); ok {
		cfg.OrderSize = v
	}
	if v, ok := configNumber(raw, "min_profit"); ok {
		cfg.MinProfit = v
	}
	if v, ok := configNumber(raw, "cooldown_seconds"); ok {
		cfg.Cooldown = time.Duration(v.IntPart()) * time.Second
	}
	if v, ok := raw["use_limit_order"].(bool); ok {
		cfg.UseLimitOrder = v
	}
	if v, ok := configNumber(raw, "limit_price"); ok {
		cfg.LimitPrice = v
	}
	if v, ok := raw["crypto_only"].(bool); ok {
		cfg.CryptoOnly = v
	}

	// Longest interval wins: a 4h strategy also trades markets resolving in
	// 20 minutes, never the other way round.
	for _, iv := range cfg.Intervals {
		if m := intervalMinutes[iv]; m > cfg.MinMinutes {
			cfg.MinMinutes = m
		}
	}
	if v, ok := configNumber(raw, "min_minutes"); ok {
		f, _ := v.Float64()
		cfg.MinMinutes = f
	}

	if !cfg.SignalThreshold.IsPositive() || cfg.SignalThreshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return cfg, fmt.Errorf("strategy/timedecay: signal_threshold must be in (0, 1)")
	}
	if !cfg.OrderSize.IsPositive() {
		return cfg, fmt.Errorf("strategy/timedecay: order_size must be positive")
	}
	return cfg, nil
}

// configNumber reads a numeric config value. JSON decoding hands numbers over
// as float64; callers may also have set int or string values directly.
func configNumber(raw map[string]any, key string) (decimal.Decimal, bool) {
	switch v := raw[key].(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// TimeDecay buys near-certain outcomes shortly before resolution. When the
// market consensus crosses the signal threshold and the clock is inside the
// resolution window, the remaining spread to $1 is collected as the market
// settles.
type TimeDecay struct {
	strategyID int64
	cfg        TimeDecayConfig

	cooldowns    map[string]time.Time
	placedOrders map[string]domain.Signal
}

// NewTimeDecay builds the module from a persisted config map.
func NewTimeDecay(strategyID int64, raw map[string]any) (*TimeDecay, error) {
	cfg, err := parseTimeDecayConfig(raw)
	if err != nil {
		return nil, err
	}
	return &TimeDecay{
		strategyID:   strategyID,
		cfg:          cfg,
		cooldowns:    make(map[string]time.Time),
		placedOrders: make(map[string]domain.Signal),
	}, nil
}

func (m *TimeDecay) Intervals() []domain.DiscoveryInterval {
	return m.cfg.Intervals
}

func (m *TimeDecay) Filter() polymarket.DiscoveryFilter {
	return polymarket.DiscoveryFilter{
		CryptoOnly: m.cfg.CryptoOnly,
		MaxMinutes: m.cfg.MinMinutes,
	}
}

// HandleOrder applies the gate chain to one price update:
// safety floor, market filters, threshold, minimum order, cooldown.
func (m *TimeDecay) HandleOrder(ev domain.FeedEvent, info domain.MarketInfo, now time.Time) *domain.Signal {
	evalPrice, ok := ev.EvalPrice()
	if !ok {
		return nil
	}
	if evalPrice.LessThan(safetyFloor) {
		return nil
	}
	if ev.BestAsk != nil && ev.BestAsk.LessThan(safetyFloor) {
		return nil
	}

	if m.cfg.CryptoOnly && !domain.IsCryptoMarket(info.Question+" "+info.EventTitle) {
		return nil
	}

	minutes := info.MinutesToResolution(now)
	if minutes <= 0 || minutes > m.cfg.MinMinutes {
		return nil
	}

	if !evalPrice.GreaterThan(m.cfg.SignalThreshold) {
		return nil
	}

	if m.onCooldown(ev.AssetID, now) || m.onCooldown(info.OppositeTokenID, now) {
		return nil
	}
	if _, placed := m.placedOrders[ev.AssetID]; placed {
		return nil
	}

	buyPrice := evalPrice
	if m.cfg.UseLimitOrder {
		buyPrice = m.cfg.LimitPrice
	} else if ev.BestAsk != nil {
		buyPrice = *ev.BestAsk
	}

	shares := m.cfg.OrderSize.Div(buyPrice)

	if m.cfg.OrderSize.LessThan(minOrderDollars) || shares.LessThan(minOrderShares) {
		return nil
	}

	signal := domain.Signal{
		ID:         uuid.NewString(),
		StrategyID: m.strategyID,
		Action:     domain.Buy,
		TokenID:    ev.AssetID,
		Price:      buyPrice,
		Size:       shares,
		Reason: fmt.Sprintf("price %s above threshold %s with %.0f minutes to resolution",
			evalPrice.StringFixed(3), m.cfg.SignalThreshold.StringFixed(2), minutes),
		Metadata: map[string]string{
			"outcome":  info.Outcome,
			"question": info.Question,
		},
		CreatedAt: now,
	}

	if signal.EstimatedProfit().LessThan(m.cfg.MinProfit) {
		return nil
	}

	// One trade per market: the token and its complement share a cooldown,
	// and placedOrders blocks re-fire even if the cooldown is cleared.
	expiry := now.Add(m.cfg.Cooldown)
	m.cooldowns[ev.AssetID] = expiry
	if info.OppositeTokenID != "" {
		m.cooldowns[info.OppositeTokenID] = expiry
	}
	m.placedOrders[ev.AssetID] = signal

	return &signal
}

// HandleTick expires stale cooldowns. Signals fire from price updates only.
func (m *TimeDecay) HandleTick(now time.Time) []domain.Signal {
	for token, expiry := range m.cooldowns {
		if now.After(expiry) {
			delete(m.cooldowns, token)
		}
	}
	return nil
}

func (m *TimeDecay) onCooldown(tokenID string, now time.Time) bool {
	if tokenID == "" {
		return false
	}
	expiry, ok := m.cooldowns[tokenID]
	return ok && now.Before(expiry)
}
