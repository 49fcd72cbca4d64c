package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalewatch/whalewatch/internal/backtest/execution"
	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/backtest/strategy"
	"github.com/whalewatch/whalewatch/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// fakeLoader serves a fixed, in-memory quote/whale series regardless of the
// requested window, so tests control the timeline precisely.
type fakeLoader struct {
	quotes []model.Quote
	whales []model.WhaleEvent
}

func (f *fakeLoader) LoadQuotes(symbol string, start, end time.Time) ([]model.Quote, error) {
	return f.quotes, nil
}

func (f *fakeLoader) LoadWhaleEvents(symbol string, start, end time.Time) ([]model.WhaleEvent, error) {
	return f.whales, nil
}

func newTestEngine(loader *fakeLoader) *Engine {
	cache := NewCache(loader)
	sim := execution.New(0.02, 0.06, 0.01, execution.SlippageFixed)
	return New(cache, sim, 0.02, 0)
}

func baseParams(strat strategy.Strategy) Params {
	return Params{
		Symbol:             "BTCUSDT",
		Start:              time.Unix(0, 0),
		End:                time.Unix(0, 0).Add(time.Hour),
		Strategy:           strat,
		InitialCapital:     d("10000"),
		PositionSizePct:    10.0,
		MaxRiskPerTradePct: 2.0,
		MaxPositions:       5,
		MinWhaleUSD:        0,
	}
}

// S3 — deep fill reversal: mid steady at 460.50, a market_sell arrives at
// price 458.50 (distance -0.43%) with usd_value 120,000. DeepFillReversal's
// thresholds (min_distance_from_mid_pct=0.1, min_market_sell_usd=100000) are
// cleared, so exactly one open_long signal fires and the resulting position
// closes via whichever exit condition is hit first in later ticks.
func TestEngine_S3_DeepFillReversal(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mid := d("460.50")

	quotes := []model.Quote{
		{Symbol: "BTCUSDT", Timestamp: start, BestBid: d("460.45"), BestAsk: d("460.55"), MidPrice: mid, Spread: d("0.10")},
		{Symbol: "BTCUSDT", Timestamp: start.Add(1 * time.Second), BestBid: d("460.45"), BestAsk: d("460.55"), MidPrice: mid, Spread: d("0.10")},
		{Symbol: "BTCUSDT", Timestamp: start.Add(2 * time.Second), BestBid: d("460.45"), BestAsk: d("460.55"), MidPrice: mid, Spread: d("0.10")},
		// take-profit territory: mid rises above entry + 3%
		{Symbol: "BTCUSDT", Timestamp: start.Add(3 * time.Second), BestBid: d("474.45"), BestAsk: d("474.55"), MidPrice: d("474.50"), Spread: d("0.10")},
	}
	whales := []model.WhaleEvent{
		{
			Symbol:             "BTCUSDT",
			Timestamp:          start.Add(1 * time.Second),
			EventType:          model.EventMarketSell,
			Side:               "sell",
			Price:              d("458.50"),
			Volume:             d("260"),
			UsdValue:           d("120000"),
			DistanceFromMidPct: d("-0.43"),
			MidPrice:           mid,
		},
	}

	eng := newTestEngine(&fakeLoader{quotes: quotes, whales: whales})
	params := baseParams(strategy.NewDeepFillReversal())

	result, err := eng.Run(params)
	require.NoError(t, err)
	require.False(t, result.Empty)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, model.PositionLong, trade.Side)
	assert.Equal(t, model.ExitTakeProfit, trade.ExitReason)
	assert.True(t, trade.RealizedPnL.IsPositive())
}

// Testable property 7: when a position's stop-loss and take-profit are both
// satisfied on the same tick, stop_loss wins — the mandated precedence
// order is stop_loss, then take_profit, then timeout, first match wins.
func TestEngine_Property7_StopLossPrecedesTakeProfit(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Stop-loss (5%) set below entry as usual, but take-profit is
	// deliberately configured to also sit below entry (-6%), so the two
	// bounds overlap — a degenerate configuration no real strategy would
	// produce, constructed purely to put a single mid value inside both
	// the stop-loss and take-profit trigger regions at once.
	sl := 5.0
	tp := -6.0
	to := 3600.0
	fixed := &fixedSignalStrategy{
		signal: &strategy.Signal{
			Action:         strategy.ActionOpenLong,
			StopLossPct:    &sl,
			TakeProfitPct:  &tp,
			TimeoutSeconds: &to,
		},
	}

	quotes := []model.Quote{
		{Symbol: "BTCUSDT", Timestamp: start, BestBid: d("99.95"), BestAsk: d("100.05"), MidPrice: d("100"), Spread: d("0.10")},
		{Symbol: "BTCUSDT", Timestamp: start.Add(1 * time.Second), BestBid: d("99.95"), BestAsk: d("100.05"), MidPrice: d("100"), Spread: d("0.10")},
		// entry ~= 100.06; stop-loss ~= 95.06 (entry*0.95), take-profit ~= 94.06
		// (entry*0.94) — a mid of 94.5 sits inside both trigger regions.
		{Symbol: "BTCUSDT", Timestamp: start.Add(2 * time.Second), BestBid: d("94.45"), BestAsk: d("94.55"), MidPrice: d("94.5"), Spread: d("0.10")},
	}
	whales := []model.WhaleEvent{
		{Symbol: "BTCUSDT", Timestamp: start.Add(1 * time.Second), EventType: model.EventMarketBuy, UsdValue: d("500000"), MidPrice: d("100")},
	}

	eng := newTestEngine(&fakeLoader{quotes: quotes, whales: whales})
	params := baseParams(fixed)

	result, err := eng.Run(params)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)
	assert.Equal(t, model.ExitStopLoss, result.Trades[0].ExitReason)
}

// Testable property 6: Run is a pure function of its Params plus the
// cache's backing storage — two runs over the same window with fresh
// Portfolio/Engine instances produce byte-identical trade lists and equity
// curves.
func TestEngine_Property6_Determinism(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	quotes := []model.Quote{
		{Symbol: "BTCUSDT", Timestamp: start, BestBid: d("99.95"), BestAsk: d("100.05"), MidPrice: d("100"), Spread: d("0.10")},
		{Symbol: "BTCUSDT", Timestamp: start.Add(1 * time.Second), BestBid: d("99.95"), BestAsk: d("100.05"), MidPrice: d("100"), Spread: d("0.10")},
		{Symbol: "BTCUSDT", Timestamp: start.Add(2 * time.Second), BestBid: d("101.95"), BestAsk: d("102.05"), MidPrice: d("102"), Spread: d("0.10")},
	}
	whales := []model.WhaleEvent{
		{Symbol: "BTCUSDT", Timestamp: start.Add(1 * time.Second), EventType: model.EventMarketBuy, UsdValue: d("500000"), MidPrice: d("100")},
	}
	loader := &fakeLoader{quotes: quotes, whales: whales}
	cache := NewCache(loader)
	sim := execution.New(0.02, 0.06, 0.01, execution.SlippageFixed)

	runOnce := func() Result {
		eng := New(cache, sim, 0.02, 0)
		params := baseParams(strategy.NewWhaleFollowing())
		result, err := eng.Run(params)
		require.NoError(t, err)
		return result
	}

	first := runOnce()
	second := runOnce()

	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.True(t, first.Trades[i].RealizedPnL.Equal(second.Trades[i].RealizedPnL))
		assert.Equal(t, first.Trades[i].ExitReason, second.Trades[i].ExitReason)
		assert.True(t, first.Trades[i].EntryPrice.Equal(second.Trades[i].EntryPrice))
	}
	require.Equal(t, len(first.Equity), len(second.Equity))
	for i := range first.Equity {
		assert.True(t, first.Equity[i].Equity.Equal(second.Equity[i].Equity))
	}
}

// fixedSignalStrategy always returns the same signal on the first whale
// event it observes, and nil thereafter — a minimal test double for
// exercising the engine's exit-precedence logic independent of any real
// strategy's entry conditions.
type fixedSignalStrategy struct {
	signal *strategy.Signal
	fired  bool
}

func (s *fixedSignalStrategy) Initialize(p *portfolio.Portfolio) {}

func (s *fixedSignalStrategy) OnWhaleEvent(ev model.WhaleEvent, market strategy.MarketState, p *portfolio.Portfolio) *strategy.Signal {
	if s.fired {
		return nil
	}
	s.fired = true
	return s.signal
}
