// Package model holds the data types shared across the book diff engine,
// the manipulation detector, the time-series sink, and the backtest engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the resting-order side of a price level.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// TradeSide is the aggressor side of a public trade.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// EventType enumerates the taxonomy emitted by the book diff engine (C1)
// and the derived pattern events emitted by the manipulation detector (C2).
// These string values are part of the wire contract with the time-series
// sink and downstream readers (the backtest loader chief among them) and
// must be reused byte-for-byte.
type EventType string

const (
	EventNewBid      EventType = "new_bid"
	EventNewAsk      EventType = "new_ask"
	EventEnteredTop  EventType = "entered_top"
	EventLeftTop     EventType = "left_top"
	EventIncrease    EventType = "increase"
	EventDecrease    EventType = "decrease"
	EventMarketBuy   EventType = "market_buy"
	EventMarketSell  EventType = "market_sell"
	EventFlashOrder  EventType = "flash_order"
	EventLayering    EventType = "layering"
	EventQuoteStuff  EventType = "quote_stuffing"
	EventSpoofCand   EventType = "spoof_candidate"
)

// PriceLevel is a single level of an order book side. Volume of zero is
// never stored; a zero-volume update on the wire is a deletion signal and
// must be applied by removing the key, not by writing a zero-volume level.
type PriceLevel struct {
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OrderCount int
}

// UsdValue returns price * volume, the notional value of the level.
func (l PriceLevel) UsdValue() decimal.Decimal {
	return l.Price.Mul(l.Volume)
}

// Quote is the immutable best-bid/best-ask snapshot emitted on every
// processed depth message for which both book sides are non-empty.
type Quote struct {
	Symbol    string
	Timestamp time.Time
	BestBid   decimal.Decimal
	BestAsk   decimal.Decimal
	MidPrice  decimal.Decimal
	Spread    decimal.Decimal
}

// SpreadBps returns the spread expressed in basis points of the mid price.
// Returns zero if MidPrice is zero.
func (q Quote) SpreadBps() decimal.Decimal {
	if q.MidPrice.IsZero() {
		return decimal.Zero
	}
	return q.Spread.Div(q.MidPrice).Mul(decimal.NewFromInt(10000))
}

// WhaleEvent is the immutable, typed microstructure event produced by the
// book diff engine (new/entered/left/increase/decrease/market_buy/
// market_sell) and by the manipulation detector (flash_order/layering/
// quote_stuffing/spoof_candidate).
type WhaleEvent struct {
	Symbol              string
	Timestamp           time.Time
	EventType           EventType
	Side                string // "bid", "ask", "buy", or "sell"
	Price               decimal.Decimal
	Volume              decimal.Decimal
	UsdValue            decimal.Decimal
	DistanceFromMidPct  decimal.Decimal // signed; positive = above mid
	Level               int             // 1 = top of book, 0 = not applicable
	OrderCount          int
	MidPrice            decimal.Decimal
	BestBid             decimal.Decimal
	BestAsk             decimal.Decimal
	Spread              decimal.Decimal
	Info                string
}

// LifecycleStatus is the terminal/non-terminal state of a tracked order.
type LifecycleStatus string

const (
	LifecycleActive    LifecycleStatus = "active"
	LifecycleFilled    LifecycleStatus = "filled"
	LifecycleCancelled LifecycleStatus = "cancelled"
)

// OrderLifecycle tracks a single large order across snapshots. Identity is
// synthetic, since level-2 data never exposes a real exchange order ID: the
// detector keys records by (symbol, side, price) only. Volume is not part of
// the identity, so a new whale order at an already tracked price replaces
// the earlier record.
type OrderLifecycle struct {
	OrderID             string
	Symbol              string
	Side                Side
	Price               decimal.Decimal
	Volume              decimal.Decimal
	UsdValue            decimal.Decimal
	FirstSeen           time.Time
	LastSeen            time.Time
	Modifications       int
	Status              LifecycleStatus
	EstimatedLifespan   time.Duration
	CumulativeDecrease  decimal.Decimal
	SpoofingProbability float64
}

// PositionSide is long or short.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position is an open, simulated holding inside one backtest run.
type Position struct {
	Symbol           string
	Side             PositionSide
	EntryTime        time.Time
	EntryPrice       decimal.Decimal
	Size             decimal.Decimal
	StopLoss         *decimal.Decimal
	TakeProfit       *decimal.Decimal
	Timeout          *time.Time
	EntryCommission  decimal.Decimal
	EntrySlippage    decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Metadata         map[string]any
}

// ExitReason is the reason a position was closed.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitTimeout     ExitReason = "timeout"
	ExitSignalClose ExitReason = "signal_close"
	ExitBacktestEnd ExitReason = "backtest_end"
)

// Trade is an immutable, closed position.
type Trade struct {
	Symbol          string
	Side            PositionSide
	EntryTime       time.Time
	EntryPrice      decimal.Decimal
	Size            decimal.Decimal
	ExitTime        time.Time
	ExitPrice       decimal.Decimal
	ExitReason      ExitReason
	RealizedPnL     decimal.Decimal
	PnLPct          decimal.Decimal
	Commission      decimal.Decimal
	Slippage        decimal.Decimal
	DurationSeconds float64
	Metadata        map[string]any
}

// IsWinner reports whether the trade closed with positive realized P&L.
func (t Trade) IsWinner() bool {
	return t.RealizedPnL.IsPositive()
}

// EquityPoint is one sample of portfolio state, recorded on every
// processed backtest tick.
type EquityPoint struct {
	Timestamp     time.Time
	Cash          decimal.Decimal
	UnrealizedPnL decimal.Decimal
	Equity        decimal.Decimal
	NumPositions  int
}
