package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openclob/polymirror/internal/bus"
	"github.com/openclob/polymirror/internal/domain"
)

// Event type names accepted in the notify configuration's events filter.
const (
	EventCopyTrade     = "copy_trade"
	EventSignal        = "signal"
	EventTrade         = "trade"
	EventStrategyError = "strategy_error"
)

// Bridge subscribes to the bus and turns selected events into notifications.
// Delivery failures are logged by the notifier and never propagate.
type Bridge struct {
	notifier *Notifier
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewBridge creates a Bridge between the bus and the notifier.
func NewBridge(notifier *Notifier, b *bus.Bus, logger *slog.Logger) *Bridge {
	return &Bridge{
		notifier: notifier,
		bus:      b,
		logger:   logger.With(slog.String("component", "notify")),
	}
}

// Run consumes copy-trading and strategy events until the context is
// cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	copySub := b.bus.Subscribe(domain.TopicCopyTrading)
	defer copySub.Unsubscribe()
	strategySub := b.bus.Subscribe(domain.TopicStrategyUpdates)
	defer strategySub.Unsubscribe()

	b.logger.Info("notification bridge started")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("notification bridge stopped")
			return ctx.Err()
		case ev, ok := <-copySub.Events():
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		case ev, ok := <-strategySub.Events():
			if !ok {
				return nil
			}
			b.handle(ctx, ev)
		}
	}
}

func (b *Bridge) handle(ctx context.Context, ev domain.Event) {
	switch payload := ev.Payload.(type) {
	case domain.CopyTradeExecutedEvent:
		b.notifyCopyTrade(ctx, payload.CopyTrade)
	case domain.SignalEvent:
		b.notifySignal(ctx, payload.Signal)
	case domain.PaperOrderEvent:
		b.notifyTrade(ctx, payload)
	case domain.StrategyStatusEvent:
		if payload.Status == domain.StrategyError {
			b.notifier.Notify(ctx, EventStrategyError,
				"Strategy error",
				fmt.Sprintf("Strategy %d stopped with an error, check its event log.", payload.StrategyID),
			)
		}
	}
}

func (b *Bridge) notifyCopyTrade(ctx context.Context, ct domain.CopyTrade) {
	title := "Copy trade executed"
	detail := fmt.Sprintf("%s %s shares of %s at %s (source %s)",
		ct.Side, ct.CopySize, ct.Title, ct.OriginalPrice, ct.SourceAddress)
	if ct.Status == domain.CopyTradeFailed {
		title = "Copy trade failed"
		detail = fmt.Sprintf("%s: %s", detail, ct.ErrorMessage)
	}
	b.notifier.Notify(ctx, EventCopyTrade, title, detail)
}

func (b *Bridge) notifySignal(ctx context.Context, sig domain.Signal) {
	b.notifier.Notify(ctx, EventSignal,
		fmt.Sprintf("Signal: %s %s", sig.Action, sig.TokenID),
		fmt.Sprintf("%s shares at %s. %s", sig.Size, sig.Price, sig.Reason),
	)
}

func (b *Bridge) notifyTrade(ctx context.Context, ev domain.PaperOrderEvent) {
	mode := "live"
	if ev.PaperMode {
		mode = "paper"
	}
	b.notifier.Notify(ctx, EventTrade,
		fmt.Sprintf("Order %s (%s)", ev.Trade.Status, mode),
		fmt.Sprintf("Strategy %d: %s %s shares of %s at %s",
			ev.StrategyID, ev.Trade.Side, ev.Trade.Size, ev.Trade.AssetID, ev.Trade.Price),
	)
}
