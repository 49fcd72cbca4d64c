// Package execution implements the backtest's fill and fee simulator,
// grounded on backtesting/core/execution.py.
package execution

import (
	"github.com/shopspring/decimal"
)

// SlippageModel selects how simulated slippage scales with order size.
type SlippageModel string

const (
	SlippageFixed       SlippageModel = "fixed"
	SlippageVolumeBased SlippageModel = "volume_based"
	SlippageOrderbook   SlippageModel = "orderbook"
)

// Simulator fills market orders at mid +/- half-spread +/- slippage and
// charges taker fees on notional; an optional limit path charges maker fees.
type Simulator struct {
	MakerFeePct   decimal.Decimal
	TakerFeePct   decimal.Decimal
	SlippageModel SlippageModel
	SlippagePct   decimal.Decimal
}

// New constructs a Simulator with the given fee/slippage configuration.
// Percentages are expressed as whole numbers (0.06 means 0.06%).
func New(makerFeePct, takerFeePct, slippagePct float64, model SlippageModel) *Simulator {
	return &Simulator{
		MakerFeePct:   decimal.NewFromFloat(makerFeePct),
		TakerFeePct:   decimal.NewFromFloat(takerFeePct),
		SlippageModel: model,
		SlippagePct:   decimal.NewFromFloat(slippagePct),
	}
}

func two() decimal.Decimal { return decimal.NewFromInt(2) }
func hundred() decimal.Decimal { return decimal.NewFromInt(100) }

func halfSpread(spread decimal.Decimal) decimal.Decimal {
	return spread.Div(two())
}

// calculateSlippage returns the absolute price offset slippage
// contributes, per the configured model. volume_based scales with size up
// to a 2x cap; orderbook falls back to volume_based (its real
// implementation is out of scope here, as in the source).
func (s *Simulator) calculateSlippage(price, size decimal.Decimal) decimal.Decimal {
	switch s.SlippageModel {
	case SlippageVolumeBased, SlippageOrderbook:
		sizeFactor := size.Mul(decimal.NewFromFloat(0.1))
		cap := decimal.NewFromInt(2)
		if sizeFactor.GreaterThan(cap) {
			sizeFactor = cap
		}
		return price.Mul(s.SlippagePct.Div(hundred())).Mul(decimal.NewFromInt(1).Add(sizeFactor))
	default:
		return price.Mul(s.SlippagePct.Div(hundred()))
	}
}

// Fill is the result of simulating one order: the realized price and the
// commission charged on its notional.
type Fill struct {
	Price      decimal.Decimal
	Commission decimal.Decimal
	Slippage   decimal.Decimal
}

// SimulateMarketBuy fills at mid + half_spread + slippage and charges the
// taker fee on notional.
func (s *Simulator) SimulateMarketBuy(mid, spread, size decimal.Decimal) Fill {
	slip := s.calculateSlippage(mid, size)
	price := mid.Add(halfSpread(spread)).Add(slip)
	commission := price.Mul(size).Mul(s.TakerFeePct).Div(hundred())
	return Fill{Price: price, Commission: commission, Slippage: slip.Mul(size)}
}

// SimulateMarketSell fills at mid - half_spread - slippage and charges the
// taker fee on notional.
func (s *Simulator) SimulateMarketSell(mid, spread, size decimal.Decimal) Fill {
	slip := s.calculateSlippage(mid, size)
	price := mid.Sub(halfSpread(spread)).Sub(slip)
	commission := price.Mul(size).Mul(s.TakerFeePct).Div(hundred())
	return Fill{Price: price, Commission: commission, Slippage: slip.Mul(size)}
}

// SimulateLimitOrder fills exactly at limitPrice (no slippage) and charges
// the maker fee on notional — the optional resting-order path.
func (s *Simulator) SimulateLimitOrder(limitPrice, size decimal.Decimal) Fill {
	commission := limitPrice.Mul(size).Mul(s.MakerFeePct).Div(hundred())
	return Fill{Price: limitPrice, Commission: commission, Slippage: decimal.Zero}
}

// EstimateRoundtripCost sums the taker-fee cost of entering and exiting a
// position of the given notional at market, a supplemented feature
// restored from estimate_roundtrip_cost.
func (s *Simulator) EstimateRoundtripCost(notional decimal.Decimal) decimal.Decimal {
	perLeg := notional.Mul(s.TakerFeePct).Div(hundred())
	return perLeg.Mul(two())
}

// EstimateMinProfitTarget returns the minimum favorable price move (in
// percent) needed to clear round-trip fees plus a target slippage margin.
func (s *Simulator) EstimateMinProfitTarget() decimal.Decimal {
	return s.TakerFeePct.Mul(two()).Add(s.SlippagePct.Mul(two()))
}
