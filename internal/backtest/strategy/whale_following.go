package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/model"
)

// WhaleFollowing opens a position in the direction of any sufficiently
// large market order, on the theory that a whale's flow has short-lived
// price impact worth scalping rather than riding. Grounded on
// backtesting/strategies/whale_following.py defaults: this is a tight
// scalp (0.15%/0.30%, 60s timeout), unlike deep_fill_reversal's wider
// mean-reversion targets.
type WhaleFollowing struct {
	MinUSDValue       decimal.Decimal
	StopLossPct       float64
	TakeProfitPct     float64
	TimeoutSeconds    float64
	EntryDelaySeconds float64
	MaxSpreadPct      decimal.Decimal
}

// NewWhaleFollowing constructs a WhaleFollowing strategy with the source's
// default parameters.
func NewWhaleFollowing() *WhaleFollowing {
	return &WhaleFollowing{
		MinUSDValue:       decimal.NewFromInt(100000),
		StopLossPct:       0.15,
		TakeProfitPct:     0.30,
		TimeoutSeconds:    60,
		EntryDelaySeconds: 2,
		MaxSpreadPct:      decimal.NewFromFloat(0.1),
	}
}

func (s *WhaleFollowing) Initialize(p *portfolio.Portfolio) {}

// OnWhaleEvent fires on any market_buy/market_sell or new_bid/new_ask whose
// USD value clears MinUSDValue and whose spread is under MaxSpreadPct,
// opening in the direction implied by the event's side after
// EntryDelaySeconds to simulate reaction time.
func (s *WhaleFollowing) OnWhaleEvent(ev model.WhaleEvent, market MarketState, p *portfolio.Portfolio) *Signal {
	if ev.UsdValue.LessThan(s.MinUSDValue) {
		return nil
	}
	if !market.Spread.IsZero() && !market.Mid.IsZero() {
		spreadPct := market.Spread.Div(market.Mid).Mul(decimal.NewFromInt(100))
		if spreadPct.GreaterThan(s.MaxSpreadPct) {
			return nil
		}
	}

	var action Action
	switch ev.EventType {
	case model.EventMarketBuy, model.EventNewBid:
		action = ActionOpenLong
	case model.EventMarketSell, model.EventNewAsk:
		action = ActionOpenShort
	default:
		return nil
	}

	sl, tp, to := s.StopLossPct, s.TakeProfitPct, s.TimeoutSeconds
	return &Signal{
		Action:            action,
		StopLossPct:       &sl,
		TakeProfitPct:     &tp,
		TimeoutSeconds:    &to,
		EntryDelaySeconds: s.EntryDelaySeconds,
		Metadata:          map[string]any{"trigger_event": string(ev.EventType), "trigger_usd": ev.UsdValue.String()},
	}
}
