package engine

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/backtest/execution"
	bmetrics "github.com/whalewatch/whalewatch/internal/backtest/metrics"
	"github.com/whalewatch/whalewatch/internal/backtest/portfolio"
	"github.com/whalewatch/whalewatch/internal/backtest/strategy"
	"github.com/whalewatch/whalewatch/internal/model"
)

// whaleEventWindow is the +/- tolerance around "now" within which a whale
// event is considered simultaneous with the primary tick.
const whaleEventWindow = 100 * time.Millisecond

// Params fully parameterizes one backtest run.
type Params struct {
	Symbol              string
	Start, End          time.Time
	Strategy            strategy.Strategy
	InitialCapital       decimal.Decimal
	PositionSizePct      float64
	MaxRiskPerTradePct   float64
	MaxPositions         int
	MinWhaleUSD          float64
}

// Result is the full output of one backtest run. Empty is set instead of
// returning xerrors.ErrDataUnavailable when the requested window has no
// quote series — the policy is to flag, not throw.
type Result struct {
	Trades  []model.Trade
	Equity  []model.EquityPoint
	Metrics bmetrics.Result
	Empty   bool
}

// pendingOrder is a delayed-entry signal queued until its scheduled time.
type pendingOrder struct {
	executeAt   time.Time
	signal      strategy.Signal
	signalPrice decimal.Decimal
}

// Engine drives one backtest run at a time; construct a fresh Engine per
// run so each owns its own Portfolio, matching the source's single-
// threaded-per-run model (multiple runs over the same cached window may
// still execute concurrently, each with its own Engine).
type Engine struct {
	cache          *Cache
	execSim        *execution.Simulator
	riskFreeRate   float64
	executionDelay time.Duration
}

// New constructs an Engine backed by cache for data loading and execSim
// for fill/fee simulation. executionDelay simulates the fixed order
// round-trip latency (order ack + routing) applied to every signal on top
// of any strategy-specific EntryDelaySeconds reaction time.
func New(cache *Cache, execSim *execution.Simulator, riskFreeRate float64, executionDelay time.Duration) *Engine {
	return &Engine{cache: cache, execSim: execSim, riskFreeRate: riskFreeRate, executionDelay: executionDelay}
}

// Run is a pure function of params plus the cache's backing storage:
// deterministic for identical inputs, per the backtest-determinism
// testable property.
func (e *Engine) Run(params Params) (Result, error) {
	quotes, allWhales, err := e.cache.Get(params.Symbol, params.Start, params.End)
	if err != nil {
		return Result{}, err
	}
	if len(quotes) == 0 {
		return Result{Empty: true}, nil
	}

	whales := filterByMinUSD(allWhales, params.MinWhaleUSD)

	p := portfolio.New(params.InitialCapital, params.MaxPositions)
	params.Strategy.Initialize(p)
	tickObserver, _ := params.Strategy.(strategy.TickObserver)

	var pending []pendingOrder
	whaleIdx := 0
	var trades []model.Trade

	for _, q := range quotes {
		now := q.Timestamp
		mid := q.MidPrice

		p.Update(now, mid)

		pending = e.firePending(now, mid, q, p, pending, params)

		whaleIdx = e.consumeWhales(now, mid, q, whales, whaleIdx, params, p, &pending)

		if tickObserver != nil {
			tickObserver.OnTick(now, marketStateFrom(q), p)
		}

		trades = append(trades, e.checkExits(now, mid, q, p)...)
	}

	final := quotes[len(quotes)-1]
	trades = append(trades, e.forceCloseAll(final, p)...)

	calc := bmetrics.New(e.riskFreeRate)
	result := calc.Calculate(params.InitialCapital, trades, p.Equity)

	return Result{Trades: trades, Equity: p.Equity, Metrics: result}, nil
}

func marketStateFrom(q model.Quote) strategy.MarketState {
	return strategy.MarketState{Time: q.Timestamp, Mid: q.MidPrice, BestBid: q.BestBid, BestAsk: q.BestAsk, Spread: q.Spread}
}

// firePending executes any pending delayed order whose scheduled time has
// arrived, at the mid price then (not the signal-generation price),
// recording the slippage metadata for later analysis.
func (e *Engine) firePending(now time.Time, mid decimal.Decimal, q model.Quote, p *portfolio.Portfolio, pending []pendingOrder, params Params) []pendingOrder {
	var remaining []pendingOrder
	for _, po := range pending {
		if po.executeAt.After(now) {
			remaining = append(remaining, po)
			continue
		}
		e.executeSignal(now, mid, q, po.signal, p, po.signalPrice, params)
	}
	return remaining
}

// consumeWhales advances whaleIdx past every whale event within
// [now-window, now+window] not yet consumed, dispatching each to strat.
func (e *Engine) consumeWhales(now time.Time, mid decimal.Decimal, q model.Quote, whales []model.WhaleEvent, whaleIdx int, params Params, p *portfolio.Portfolio, pending *[]pendingOrder) int {
	lower := now.Add(-whaleEventWindow)
	upper := now.Add(whaleEventWindow)

	i := whaleIdx
	for i < len(whales) && whales[i].Timestamp.Before(lower) {
		i++
	}
	for j := i; j < len(whales) && !whales[j].Timestamp.After(upper); j++ {
		ev := whales[j]
		sig := params.Strategy.OnWhaleEvent(ev, marketStateFrom(q), p)
		if sig != nil {
			e.handleSignal(now, mid, q, *sig, p, ev.Price, pending, params)
		}
		i = j + 1
	}
	return i
}

func (e *Engine) handleSignal(now time.Time, mid decimal.Decimal, q model.Quote, sig strategy.Signal, p *portfolio.Portfolio, signalPrice decimal.Decimal, pending *[]pendingOrder, params Params) {
	delay := time.Duration(sig.EntryDelaySeconds * float64(time.Second))
	delay += e.executionDelay
	if delay > 0 {
		*pending = append(*pending, pendingOrder{
			executeAt:   now.Add(delay),
			signal:      sig,
			signalPrice: signalPrice,
		})
		return
	}
	e.executeSignal(now, mid, q, sig, p, signalPrice, params)
}

func (e *Engine) executeSignal(now time.Time, mid decimal.Decimal, q model.Quote, sig strategy.Signal, p *portfolio.Portfolio, signalPrice decimal.Decimal, params Params) {
	switch sig.Action {
	case strategy.ActionOpenLong:
		e.openPosition(now, mid, q, model.PositionLong, sig, p, signalPrice, params)
	case strategy.ActionOpenShort:
		e.openPosition(now, mid, q, model.PositionShort, sig, p, signalPrice, params)
	case strategy.ActionCloseLong:
		e.closeAllSide(now, mid, q, model.PositionLong, model.ExitSignalClose, p)
	case strategy.ActionCloseShort:
		e.closeAllSide(now, mid, q, model.PositionShort, model.ExitSignalClose, p)
	}
}

func (e *Engine) openPosition(now time.Time, mid decimal.Decimal, q model.Quote, side model.PositionSide, sig strategy.Signal, p *portfolio.Portfolio, signalPrice decimal.Decimal, params Params) {
	if !p.CanOpenPosition() {
		return
	}

	// The fill price (and the stop/take-profit levels derived from it) only
	// need an approximate size; slippage scales weakly with size near 1.0,
	// so this unit-size probe is close enough to size the position. The
	// final fill below re-simulates at the real size before it is recorded.
	var probe execution.Fill
	if side == model.PositionLong {
		probe = e.execSim.SimulateMarketBuy(mid, q.Spread, decimal.NewFromInt(1))
	} else {
		probe = e.execSim.SimulateMarketSell(mid, q.Spread, decimal.NewFromInt(1))
	}
	entryPrice := probe.Price

	var stopLoss, takeProfit *decimal.Decimal
	if sig.StopLossPct != nil {
		pct := decimal.NewFromFloat(*sig.StopLossPct).Div(decimal.NewFromInt(100))
		var sl decimal.Decimal
		if side == model.PositionLong {
			sl = entryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		} else {
			sl = entryPrice.Mul(decimal.NewFromInt(1).Add(pct))
		}
		stopLoss = &sl
	}
	if sig.TakeProfitPct != nil {
		pct := decimal.NewFromFloat(*sig.TakeProfitPct).Div(decimal.NewFromInt(100))
		var tp decimal.Decimal
		if side == model.PositionLong {
			tp = entryPrice.Mul(decimal.NewFromInt(1).Add(pct))
		} else {
			tp = entryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		}
		takeProfit = &tp
	}
	var timeout *time.Time
	if sig.TimeoutSeconds != nil {
		tOut := now.Add(time.Duration(*sig.TimeoutSeconds * float64(time.Second)))
		timeout = &tOut
	}

	size := p.CalculatePositionSize(p.CurrentEquity(), entryPrice, params.PositionSizePct, params.MaxRiskPerTradePct, stopLoss)
	if sig.Size != nil {
		size = *sig.Size
	}
	if size.IsZero() || size.IsNegative() {
		return
	}

	var fill execution.Fill
	if side == model.PositionLong {
		fill = e.execSim.SimulateMarketBuy(mid, q.Spread, size)
	} else {
		fill = e.execSim.SimulateMarketSell(mid, q.Spread, size)
	}
	entryPrice = fill.Price

	metadata := sig.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	if !signalPrice.Equal(entryPrice) && !signalPrice.IsZero() {
		delaySlippagePct := entryPrice.Sub(signalPrice).Div(signalPrice).Mul(decimal.NewFromInt(100))
		metadata["signal_price"] = signalPrice.String()
		metadata["execution_price"] = entryPrice.String()
		metadata["delay_slippage_pct"] = delaySlippagePct.String()
	}

	pos := &model.Position{
		Symbol:     q.Symbol,
		Side:       side,
		EntryTime:  now,
		EntryPrice: entryPrice,
		Size:       size,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Timeout:    timeout,
		Metadata:   metadata,
	}

	if err := p.OpenPosition(pos, fill.Commission, fill.Slippage); err != nil {
		_ = err // InsufficientCapital: skip the signal, per the error policy
	}
}

func (e *Engine) closeAllSide(now time.Time, mid decimal.Decimal, q model.Quote, side model.PositionSide, reason model.ExitReason, p *portfolio.Portfolio) []model.Trade {
	var trades []model.Trade
	for _, pos := range append([]*model.Position(nil), p.Positions...) {
		if pos.Side != side {
			continue
		}
		trades = append(trades, e.closePosition(now, mid, q, pos, reason, p))
	}
	return trades
}

func (e *Engine) closePosition(now time.Time, mid decimal.Decimal, q model.Quote, pos *model.Position, reason model.ExitReason, p *portfolio.Portfolio) model.Trade {
	var fill execution.Fill
	if pos.Side == model.PositionLong {
		fill = e.execSim.SimulateMarketSell(mid, q.Spread, pos.Size)
	} else {
		fill = e.execSim.SimulateMarketBuy(mid, q.Spread, pos.Size)
	}
	return p.ClosePosition(pos, now, fill.Price, reason, fill.Commission, fill.Slippage)
}

// checkExits evaluates exit conditions in the mandated order —
// stop_loss, take_profit, timeout — with the first match winning. This
// ordering is part of the contract: a position hitting both stop-loss and
// take-profit on the same tick always closes with reason stop_loss.
func (e *Engine) checkExits(now time.Time, mid decimal.Decimal, q model.Quote, p *portfolio.Portfolio) []model.Trade {
	var trades []model.Trade
	for _, pos := range append([]*model.Position(nil), p.Positions...) {
		reason, hit := evaluateExit(pos, mid, now)
		if !hit {
			continue
		}
		trades = append(trades, e.closePosition(now, mid, q, pos, reason, p))
	}
	return trades
}

func evaluateExit(pos *model.Position, mid decimal.Decimal, now time.Time) (model.ExitReason, bool) {
	if pos.StopLoss != nil && stopLossHit(pos, mid) {
		return model.ExitStopLoss, true
	}
	if pos.TakeProfit != nil && takeProfitHit(pos, mid) {
		return model.ExitTakeProfit, true
	}
	if pos.Timeout != nil && !now.Before(*pos.Timeout) {
		return model.ExitTimeout, true
	}
	return "", false
}

func stopLossHit(pos *model.Position, mid decimal.Decimal) bool {
	if pos.Side == model.PositionLong {
		return mid.LessThanOrEqual(*pos.StopLoss)
	}
	return mid.GreaterThanOrEqual(*pos.StopLoss)
}

func takeProfitHit(pos *model.Position, mid decimal.Decimal) bool {
	if pos.Side == model.PositionLong {
		return mid.GreaterThanOrEqual(*pos.TakeProfit)
	}
	return mid.LessThanOrEqual(*pos.TakeProfit)
}

// forceCloseAll closes every remaining open position at the final mid
// with reason backtest_end.
func (e *Engine) forceCloseAll(final model.Quote, p *portfolio.Portfolio) []model.Trade {
	var trades []model.Trade
	for _, pos := range append([]*model.Position(nil), p.Positions...) {
		trades = append(trades, e.closePosition(final.Timestamp, final.MidPrice, final, pos, model.ExitBacktestEnd, p))
	}
	return trades
}
