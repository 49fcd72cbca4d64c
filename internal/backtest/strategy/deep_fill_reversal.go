package strategy

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/model"
)

// DeepFillReversal opens long on a market sell filled meaningfully below
// mid (a "deep fill") and opens short on the symmetric deep buy, on the
// theory that such fills exhaust selling/buying pressure and price mean-
// reverts. Grounded on backtesting/strategies/deep_fill_reversal.py.
type DeepFillReversal struct {
	MinDistanceFromMidPct decimal.Decimal
	MinMarketSellUSD      decimal.Decimal
	MinMarketBuyUSD       decimal.Decimal
	StopLossPct           float64
	TakeProfitPct         float64
	TimeoutSeconds        float64
	EntryDelaySeconds     float64
	CooldownSeconds       float64
	MaxSpreadPct          decimal.Decimal

	lastSignalAt time.Time
}

// NewDeepFillReversal constructs a DeepFillReversal strategy with the
// parameters from scenario S3.
func NewDeepFillReversal() *DeepFillReversal {
	return &DeepFillReversal{
		MinDistanceFromMidPct: decimal.NewFromFloat(0.1),
		MinMarketSellUSD:      decimal.NewFromInt(100000),
		MinMarketBuyUSD:       decimal.NewFromInt(100000),
		StopLossPct:           1.5,
		TakeProfitPct:         3.0,
		TimeoutSeconds:        3600,
		EntryDelaySeconds:     0,
		CooldownSeconds:       30,
		MaxSpreadPct:          decimal.NewFromFloat(0.5),
	}
}

func (s *DeepFillReversal) Initialize(p *portfolio.Portfolio) {}

// OnWhaleEvent requires: a market_sell/market_buy event, distance from mid
// beyond MinDistanceFromMidPct in the reversal-implying direction, USD
// value above the relevant threshold, spread under MaxSpreadPct, and the
// cooldown since the last signal elapsed.
func (s *DeepFillReversal) OnWhaleEvent(ev model.WhaleEvent, market MarketState, p *portfolio.Portfolio) *Signal {
	if !s.lastSignalAt.IsZero() && ev.Timestamp.Sub(s.lastSignalAt).Seconds() < s.CooldownSeconds {
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
	case model.EventMarketSell:
		if ev.DistanceFromMidPct.GreaterThanOrEqual(decimal.Zero) {
			return nil
		}
		if ev.DistanceFromMidPct.Abs().LessThan(s.MinDistanceFromMidPct) {
			return nil
		}
		if ev.UsdValue.LessThan(s.MinMarketSellUSD) {
			return nil
		}
		action = ActionOpenLong
	case model.EventMarketBuy:
		if ev.DistanceFromMidPct.LessThanOrEqual(decimal.Zero) {
			return nil
		}
		if ev.DistanceFromMidPct.LessThan(s.MinDistanceFromMidPct) {
			return nil
		}
		if ev.UsdValue.LessThan(s.MinMarketBuyUSD) {
			return nil
		}
		action = ActionOpenShort
	default:
		return nil
	}

	s.lastSignalAt = ev.Timestamp

	sl, tp, to := s.StopLossPct, s.TakeProfitPct, s.TimeoutSeconds
	return &Signal{
		Action:            action,
		StopLossPct:       &sl,
		TakeProfitPct:     &tp,
		TimeoutSeconds:    &to,
		EntryDelaySeconds: s.EntryDelaySeconds,
		Metadata: map[string]any{
			"signal_price":  ev.Price.String(),
			"distance_pct":  ev.DistanceFromMidPct.String(),
			"trigger_event": string(ev.EventType),
		},
	}
}
