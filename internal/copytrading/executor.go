package copytrading

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/crypto"
	"github.com/openclob/polymirror/internal/domain"
	"github.com/openclob/polymirror/internal/platform/polymarket"
)

// minCopyShares is the venue's minimum order size in outcome shares.
var minCopyShares = decimal.NewFromInt(5)

// fallbackBalance stands in for the account balance when the balance query
// fails, so percentage sizing degrades instead of blocking.
var fallbackBalance = decimal.NewFromInt(100)

// orderPlacer is the slice of the CLOB client the executor needs.
type orderPlacer interface {
	PostOrder(ctx context.Context, order crypto.SignedOrder, orderType domain.OrderType) (polymarket.OrderResult, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetBook(ctx context.Context, tokenID string) (polymarket.OrderBook, error)
}

// marketResolver looks up market metadata for a token.
type marketResolver interface {
	GetMarketByToken(ctx context.Context, tokenID string) (domain.MarketInfo, error)
}

// Executor mirrors new trades published by the Watcher through the operator's
// account. Every attempt is recorded, successful or not, keyed by the source
// transaction hash so a redelivered trade is never executed twice.
type Executor struct {
	settings domain.CopySettingsStore
	trades   domain.CopyTradeStore
	creds    domain.CredentialsStore
	clob     orderPlacer
	markets  marketResolver
	bus      *bus.Bus
	logger   *slog.Logger
	chainID  int

	now func() time.Time // test seam
}

// NewExecutor creates an Executor. Call Run to start consuming new trades.
func NewExecutor(
	settings domain.CopySettingsStore,
	trades domain.CopyTradeStore,
	creds domain.CredentialsStore,
	clob orderPlacer,
	markets marketResolver,
	b *bus.Bus,
	chainID int,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		settings: settings,
		trades:   trades,
		creds:    creds,
		clob:     clob,
		markets:  markets,
		bus:      b,
		logger:   logger.With(slog.String("component", "copy_executor")),
		chainID:  chainID,
		now:      time.Now,
	}
}

// Run subscribes to the copy-trading topic and executes each new trade.
func (e *Executor) Run(ctx context.Context) error {
	sub := e.bus.Subscribe(domain.TopicCopyTrading)
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-sub.Events():
			payload, ok := ev.Payload.(domain.NewTradeEvent)
			if !ok {
				continue
			}
			if _, err := e.Execute(ctx, payload.Address, payload.Trade, false); err != nil {
				e.logger.Error("copy execution failed",
					slog.String("trade", payload.Trade.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Execute mirrors one source trade. force overrides the enabled switch for
// manual copies; the duplicate gate is unconditional, one source transaction
// is never mirrored twice. The returned record reflects the persisted
// outcome; a failed placement is not an error here, the failure lives in the
// record.
func (e *Executor) Execute(ctx context.Context, sourceAddress string, trade domain.ActivityTrade, force bool) (domain.CopyTrade, error) {
	settings, err := e.settings.Get(ctx)
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("copytrading: load settings: %w", err)
	}

	if !settings.Enabled && !force {
		e.logger.Debug("copy trading disabled, skipping", slog.String("trade", trade.ID))
		return domain.CopyTrade{}, nil
	}

	exists, err := e.trades.Exists(ctx, trade.ID)
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("copytrading: dedup check: %w", err)
	}
	if exists {
		e.logger.Debug("trade already copied, skipping", slog.String("trade", trade.ID))
		return domain.CopyTrade{}, nil
	}

	record := domain.CopyTrade{
		SourceAddress:   sourceAddress,
		OriginalTradeID: trade.ID,
		Market:          trade.Title,
		AssetID:         trade.AssetID,
		Side:            trade.Side,
		OriginalSize:    trade.Size,
		OriginalPrice:   trade.Price,
		Title:           trade.Title,
		Outcome:         trade.Outcome,
		EventSlug:       trade.EventSlug,
	}

	shares := e.copySize(ctx, settings, trade.Size, trade.Price)
	record.CopySize = shares

	if err := e.placeOrder(ctx, trade.AssetID, trade.Side, trade.Price, shares); err != nil {
		record.Status = domain.CopyTradeFailed
		record.ErrorMessage = err.Error()
		e.logger.Warn("copy order failed",
			slog.String("trade", trade.ID),
			slog.String("error", err.Error()),
		)
	} else {
		now := e.now().UTC()
		record.Status = domain.CopyTradeExecuted
		record.ExecutedAt = &now
		e.logger.Info("copy order placed",
			slog.String("trade", trade.ID),
			slog.String("side", string(trade.Side)),
			slog.String("size", shares.String()),
		)
	}

	stored, err := e.trades.Insert(ctx, record)
	if err != nil {
		return domain.CopyTrade{}, fmt.Errorf("copytrading: persist copy trade: %w", err)
	}

	e.bus.Publish(domain.TopicCopyTrading, domain.Event{
		Type:    "copy_trade_executed",
		Payload: domain.CopyTradeExecutedEvent{CopyTrade: stored},
	})
	return stored, nil
}

// Retry re-attempts a failed copy trade using the sizing recorded at the
// original attempt, not current settings.
func (e *Executor) Retry(ctx context.Context, id int64) (domain.CopyTrade, error) {
	record, err := e.trades.Get(ctx, id)
	if err != nil {
		return domain.CopyTrade{}, err
	}
	if record.Status != domain.CopyTradeFailed {
		return domain.CopyTrade{}, fmt.Errorf("copytrading: retry %d: status is %s, only failed trades can be retried", id, record.Status)
	}

	if err := e.placeOrder(ctx, record.AssetID, record.Side, record.OriginalPrice, record.CopySize); err != nil {
		record.ErrorMessage = err.Error()
		if uerr := e.trades.Update(ctx, record); uerr != nil {
			return domain.CopyTrade{}, uerr
		}
		return record, fmt.Errorf("copytrading: retry %d: %w", id, err)
	}

	now := e.now().UTC()
	record.Status = domain.CopyTradeExecuted
	record.ExecutedAt = &now
	record.ErrorMessage = ""
	if err := e.trades.Update(ctx, record); err != nil {
		return domain.CopyTrade{}, err
	}

	e.bus.Publish(domain.TopicCopyTrading, domain.Event{
		Type:    "copy_trade_executed",
		Payload: domain.CopyTradeExecutedEvent{CopyTrade: record},
	})
	return record, nil
}

// copySize converts a source trade into a share count for the copy order,
// clamped to the venue minimum of 5 shares.
func (e *Executor) copySize(ctx context.Context, settings domain.CopySettings, originalShares, price decimal.Decimal) decimal.Decimal {
	var dollars decimal.Decimal

	switch settings.SizingMode {
	case domain.SizingProportional:
		dollars = originalShares.Mul(price).Mul(settings.ProportionalFactor)

	case domain.SizingPercentage:
		balance, err := e.clob.GetBalance(ctx)
		if err != nil {
			e.logger.Warn("balance query failed, using fallback",
				slog.String("error", err.Error()),
			)
			balance = fallbackBalance
		}
		dollars = balance.Mul(settings.Percentage).Div(decimal.NewFromInt(100))

	default:
		dollars = settings.FixedAmount
	}

	shares := dollars.Div(price)
	if shares.LessThan(minCopyShares) {
		return minCopyShares
	}
	return shares
}

// placeOrder signs and submits one order against the venue. The neg-risk
// flag is taken from the book snapshot, falling back to market metadata;
// orders on markets with an unknown flag are rejected because signing with
// the wrong exchange contract produces an invalid signature.
func (e *Executor) placeOrder(ctx context.Context, tokenID string, side domain.OrderSide, price, shares decimal.Decimal) error {
	creds, err := e.creds.Get(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if !creds.Configured() || creds.PrivateKey == "" {
		return domain.ErrNotConfigured
	}

	negRisk, err := e.resolveNegRisk(ctx, tokenID)
	if err != nil {
		return err
	}

	signer, err := crypto.NewSigner(creds.PrivateKey, e.chainID)
	if err != nil {
		return err
	}

	order, err := crypto.BuildOrder(creds, tokenID, side, crypto.ClampTick(price), shares)
	if err != nil {
		return err
	}

	signed, err := signer.SignOrder(order, negRisk)
	if err != nil {
		return err
	}

	if _, err := e.clob.PostOrder(ctx, signed, domain.OrderTypeFAK); err != nil {
		return err
	}
	return nil
}

func (e *Executor) resolveNegRisk(ctx context.Context, tokenID string) (bool, error) {
	book, err := e.clob.GetBook(ctx, tokenID)
	if err == nil && book.NegRisk != nil {
		return *book.NegRisk, nil
	}

	info, err := e.markets.GetMarketByToken(ctx, tokenID)
	if err != nil {
		return false, fmt.Errorf("resolve neg_risk for %s: %w", tokenID, err)
	}
	if info.NegRisk == nil {
		return false, fmt.Errorf("market for %s: %w: neg_risk unknown", tokenID, domain.ErrMarketConfig)
	}
	return *info.NegRisk, nil
}
