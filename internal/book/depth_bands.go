package book

import "github.com/shopspring/decimal"

// DepthBand is the aggregated liquidity within one percentage band of mid,
// restoring the market-depth-at-percentage-bands feature from the original
// order-book processor.
type DepthBand struct {
	PctFromMid decimal.Decimal
	BidVolume  decimal.Decimal
	AskVolume  decimal.Decimal
	BidValue   decimal.Decimal
	AskValue   decimal.Decimal
	BidOrders  int
	AskOrders  int
}

var depthBandPercentages = []string{"0.1", "0.5", "1.0", "2.0", "5.0"}

// DepthBands computes bid/ask volume, order count, and USD value within
// ±{0.1, 0.5, 1.0, 2.0, 5.0}% of mid, read directly off the full-book maps.
// This is a pure read-side query; it never changes the emitted event
// stream or committed shadow state.
func (s *State) DepthBands(mid decimal.Decimal) []DepthBand {
	bands := make([]DepthBand, 0, len(depthBandPercentages))
	if mid.IsZero() {
		return bands
	}
	for _, pctStr := range depthBandPercentages {
		pct := decimal.RequireFromString(pctStr)
		band := DepthBand{PctFromMid: pct}
		lowerBid := mid.Mul(decimal.NewFromInt(1).Sub(pct.Div(decimal.NewFromInt(100))))
		upperAsk := mid.Mul(decimal.NewFromInt(1).Add(pct.Div(decimal.NewFromInt(100))))

		for _, e := range s.fullBids {
			if e.Price.GreaterThanOrEqual(lowerBid) && e.Price.LessThanOrEqual(mid) {
				band.BidVolume = band.BidVolume.Add(e.Volume)
				band.BidValue = band.BidValue.Add(e.Price.Mul(e.Volume))
				band.BidOrders += e.OrderCount
			}
		}
		for _, e := range s.fullAsks {
			if e.Price.LessThanOrEqual(upperAsk) && e.Price.GreaterThanOrEqual(mid) {
				band.AskVolume = band.AskVolume.Add(e.Volume)
				band.AskValue = band.AskValue.Add(e.Price.Mul(e.Volume))
				band.AskOrders += e.OrderCount
			}
		}
		bands = append(bands, band)
	}
	return bands
}
