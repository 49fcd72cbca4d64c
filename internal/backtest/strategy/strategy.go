// Package strategy defines the backtest strategy capability set and ships
// three concrete strategies grounded on backtesting/strategies/*.py. The
// base-class hierarchy in the source is re-architected per the design
// notes as a small interface plus an optional capability, never dispatched
// by string name at tick time.
package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/model"
)

// MarketState is the read-only view of current market conditions a
// strategy observes: mid price, best bid/ask, spread.
type MarketState struct {
	Time    time.Time
	Mid     decimal.Decimal
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Spread  decimal.Decimal
}

// Action is the signal's requested portfolio operation.
type Action string

const (
	ActionOpenLong   Action = "open_long"
	ActionOpenShort  Action = "open_short"
	ActionCloseLong  Action = "close_long"
	ActionCloseShort Action = "close_short"
)

// Signal is the strategy's polymorphic output for one whale event.
type Signal struct {
	Action            Action
	StopLossPct       *float64
	TakeProfitPct     *float64
	TimeoutSeconds    *float64
	EntryDelaySeconds float64
	Size              *decimal.Decimal
	Metadata          map[string]any
}

// Strategy is the required capability set every strategy implements.
type Strategy interface {
	Initialize(p *portfolio.Portfolio)
	OnWhaleEvent(ev model.WhaleEvent, market MarketState, p *portfolio.Portfolio) *Signal
}

// TickObserver is the optional capability for strategies that also react
// to every primary tick, not just whale events. The engine type-asserts
// for this once per run rather than looking it up by name at tick time.
type TickObserver interface {
	OnTick(now time.Time, market MarketState, p *portfolio.Portfolio)
}
