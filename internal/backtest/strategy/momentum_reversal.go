package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/model"
)

// MomentumReversal is stateful: it watches a rolling window of recent
// trades for a sell:buy ratio spike combined with a price drawdown (an
// "arming" dump), then fires a long signal on the first sufficiently large
// buy that follows. Grounded on backtesting/strategies/momentum_reversal.py.
type MomentumReversal struct {
	WindowSeconds      float64
	SellBuyRatioArm    float64
	MinDrawdownPctArm  decimal.Decimal
	MinTriggerBuyUSD   decimal.Decimal
	StopLossPct        float64
	TakeProfitPct      float64
	TimeoutSeconds     float64
	ArmExpirySeconds   float64

	recent  []tradeObservation
	armedAt time.Time
	armed   bool
}

type tradeObservation struct {
	at     time.Time
	price  decimal.Decimal
	isBuy  bool
}

// NewMomentumReversal constructs a MomentumReversal strategy with the
// source's default parameters.
func NewMomentumReversal() *MomentumReversal {
	return &MomentumReversal{
		WindowSeconds:     60,
		SellBuyRatioArm:   3.0,
		MinDrawdownPctArm: decimal.NewFromFloat(1.0),
		MinTriggerBuyUSD:  decimal.NewFromInt(50000),
		StopLossPct:       1.5,
		TakeProfitPct:     3.0,
		TimeoutSeconds:    1800,
		ArmExpirySeconds:  300,
	}
}

func (s *MomentumReversal) Initialize(p *portfolio.Portfolio) {}

// OnWhaleEvent maintains the rolling trade window; while disarmed it checks
// the arming condition after every trade event, and while armed it fires on
// the first qualifying buy, disarming immediately after (whether it fires
// or the arm expires).
func (s *MomentumReversal) OnWhaleEvent(ev model.WhaleEvent, market MarketState, p *portfolio.Portfolio) *Signal {
	switch ev.EventType {
	case model.EventMarketBuy, model.EventMarketSell:
	default:
		return nil
	}

	s.recent = append(s.recent, tradeObservation{at: ev.Timestamp, price: ev.Price, isBuy: ev.EventType == model.EventMarketBuy})
	s.pruneWindow(ev.Timestamp)

	if s.armed && ev.Timestamp.Sub(s.armedAt).Seconds() > s.ArmExpirySeconds {
		s.armed = false
	}

	if !s.armed {
		if s.checkArmCondition() {
			s.armed = true
			s.armedAt = ev.Timestamp
		}
		return nil
	}

	if ev.EventType != model.EventMarketBuy || ev.UsdValue.LessThan(s.MinTriggerBuyUSD) {
		return nil
	}

	s.armed = false
	sl, tp, to := s.StopLossPct, s.TakeProfitPct, s.TimeoutSeconds
	return &Signal{
		Action:         ActionOpenLong,
		StopLossPct:    &sl,
		TakeProfitPct:  &tp,
		TimeoutSeconds: &to,
		Metadata:       map[string]any{"trigger_event": "first_buy_after_dump"},
	}
}

func (s *MomentumReversal) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Duration(s.WindowSeconds * float64(time.Second)))
	kept := s.recent[:0]
	for _, o := range s.recent {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	s.recent = kept
}

// checkArmCondition evaluates the sell:buy ratio and the price drawdown
// within the rolling window.
func (s *MomentumReversal) checkArmCondition() bool {
	if len(s.recent) < 2 {
		return false
	}
	sells, buys := 0, 0
	high := s.recent[0].price
	low := s.recent[0].price
	for _, o := range s.recent {
		if o.isBuy {
			buys++
		} else {
			sells++
		}
		if o.price.GreaterThan(high) {
			high = o.price
		}
		if o.price.LessThan(low) {
			low = o.price
		}
	}
	if buys == 0 {
		if sells == 0 {
			return false
		}
		buys = 1 // avoid division by zero; a pure-sell window is maximally armable
	}
	ratio := float64(sells) / float64(buys)
	if ratio < s.SellBuyRatioArm {
		return false
	}

	if high.IsZero() {
		return false
	}
	drawdown := high.Sub(low).Div(high).Mul(decimal.NewFromInt(100))
	return drawdown.GreaterThanOrEqual(s.MinDrawdownPctArm)
}
