package domain

import "fmt"

// Bus topic names. Strategy runners publish on their own topic as well as
// the shared updates topic.
const (
	TopicCopyTrading     = "copy_trading"
	TopicStrategyUpdates = "strategies:updates"
	TopicLiveOrders      = "polymarket:live_orders"
)

// TopicStrategy returns the per-strategy topic name.
func TopicStrategy(id int64) string {
	return fmt.Sprintf("strategies:%d", id)
}

// Event is a bus message: a type tag plus an arbitrary payload struct.
// Delivery is best-effort and in-process only.
type Event struct {
	Type    string
	Payload any
}

// Copy-trading payloads.
type NewTradeEvent struct {
	Address string        `json:"address"`
	Trade   ActivityTrade `json:"trade"`
}

type TradesUpdatedEvent struct {
	Address string          `json:"address"`
	Trades  []ActivityTrade `json:"trades"`
}

type CopyTradeExecutedEvent struct {
	CopyTrade CopyTrade `json:"copy_trade"`
}

// Market feed payloads.
type FeedConnectedEvent struct {
	Connected bool `json:"connected"`
}

// Strategy runner payloads.
type DiscoveredTokensEvent struct {
	StrategyID int64    `json:"strategy_id"`
	TokenIDs   []string `json:"token_ids"`
}

type RemovedTokensEvent struct {
	StrategyID int64    `json:"strategy_id"`
	TokenIDs   []string `json:"token_ids"`
}

type PriceUpdateEvent struct {
	StrategyID int64                 `json:"strategy_id"`
	Prices     map[string]TokenPrice `json:"prices"`
}

type SignalEvent struct {
	Signal Signal `json:"signal"`
}

// PaperOrderEvent is broadcast for both paper and live executions; PaperMode
// distinguishes them.
type PaperOrderEvent struct {
	StrategyID int64 `json:"strategy_id"`
	Trade      Trade `json:"trade"`
	PaperMode  bool  `json:"paper_mode"`
}

type StrategyStatusEvent struct {
	StrategyID int64          `json:"strategy_id"`
	Status     StrategyStatus `json:"status"`
}
