// Package portfolio implements the backtest portfolio: cash, open
// positions, the equity curve, and drawdown tracking. Grounded on
// backtesting/core/portfolio.py; every formula below matches it exactly.
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/model"
	"github.com/whalewatch/whalewatch/internal/xerrors"
)

// Portfolio owns Position/Trade/EquityPoint for exactly one backtest run
// and is destroyed at run end.
type Portfolio struct {
	InitialCapital decimal.Decimal
	Cash           decimal.Decimal
	MaxPositions   int

	Positions []*model.Position
	Trades    []model.Trade
	Equity    []model.EquityPoint

	peakEquity      decimal.Decimal
	currentDrawdown decimal.Decimal
	maxDrawdown     decimal.Decimal
}

// New constructs a Portfolio with the given starting capital and position cap.
func New(initialCapital decimal.Decimal, maxPositions int) *Portfolio {
	return &Portfolio{
		InitialCapital: initialCapital,
		Cash:           initialCapital,
		MaxPositions:   maxPositions,
		peakEquity:     initialCapital,
	}
}

// CanOpenPosition reports whether another position may be opened: fewer
// than MaxPositions are open and cash is positive.
func (p *Portfolio) CanOpenPosition() bool {
	return len(p.Positions) < p.MaxPositions && p.Cash.IsPositive()
}

// CalculatePositionSize picks the more conservative of the fixed-fraction
// and risk-bounded sizing methods. The risk-bounded method only applies
// when stopLossPrice is non-nil.
func (p *Portfolio) CalculatePositionSize(equity, entryPrice decimal.Decimal, positionSizePct, maxRiskPct float64, stopLossPrice *decimal.Decimal) decimal.Decimal {
	fixed := equity.Mul(decimal.NewFromFloat(positionSizePct)).Div(decimal.NewFromInt(100)).Div(entryPrice)
	if stopLossPrice == nil {
		return fixed
	}
	riskDistance := entryPrice.Sub(*stopLossPrice).Abs()
	if riskDistance.IsZero() {
		return fixed
	}
	riskBounded := equity.Mul(decimal.NewFromFloat(maxRiskPct)).Div(decimal.NewFromInt(100)).Div(riskDistance)
	if riskBounded.LessThan(fixed) {
		return riskBounded
	}
	return fixed
}

// CurrentEquity returns cash plus the sum of unrealized P&L across open positions.
func (p *Portfolio) CurrentEquity() decimal.Decimal {
	eq := p.Cash
	for _, pos := range p.Positions {
		eq = eq.Add(pos.UnrealizedPnL)
	}
	return eq
}

// OpenPosition deducts notional + commission + slippage from cash and adds
// the position to the open set. Returns xerrors.ErrInsufficientCapital if
// CanOpenPosition is false.
func (p *Portfolio) OpenPosition(pos *model.Position, commission, slippage decimal.Decimal) error {
	if !p.CanOpenPosition() {
		return xerrors.ErrInsufficientCapital
	}
	positionValue := pos.EntryPrice.Mul(pos.Size)
	totalCost := positionValue.Add(commission).Add(slippage)
	if totalCost.GreaterThan(p.Cash) {
		return xerrors.ErrInsufficientCapital
	}

	pos.EntryCommission = commission
	pos.EntrySlippage = slippage
	if pos.Metadata == nil {
		pos.Metadata = map[string]any{}
	}
	pos.Metadata["entry_total_cost"] = totalCost

	p.Cash = p.Cash.Sub(totalCost)
	p.Positions = append(p.Positions, pos)
	return nil
}

// ClosePosition removes pos from the open set, books a Trade with realized
// P&L net of total commission and slippage, and credits cash.
func (p *Portfolio) ClosePosition(pos *model.Position, exitTime time.Time, exitPrice decimal.Decimal, reason model.ExitReason, exitCommission, exitSlippage decimal.Decimal) model.Trade {
	var pnl decimal.Decimal
	if pos.Side == model.PositionLong {
		pnl = exitPrice.Sub(pos.EntryPrice).Mul(pos.Size)
	} else {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Size)
	}

	totalCommission := pos.EntryCommission.Add(exitCommission)
	totalSlippage := pos.EntrySlippage.Add(exitSlippage)
	pnlAfterCosts := pnl.Sub(totalCommission).Sub(totalSlippage)

	notional := pos.EntryPrice.Mul(pos.Size)
	pnlPct := decimal.Zero
	if !notional.IsZero() {
		pnlPct = pnlAfterCosts.Div(notional).Mul(decimal.NewFromInt(100))
	}

	positionValue := exitPrice.Mul(pos.Size)
	p.Cash = p.Cash.Add(positionValue).Sub(exitCommission).Sub(exitSlippage)

	trade := model.Trade{
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryTime:       pos.EntryTime,
		EntryPrice:      pos.EntryPrice,
		Size:            pos.Size,
		ExitTime:        exitTime,
		ExitPrice:       exitPrice,
		ExitReason:      reason,
		RealizedPnL:     pnlAfterCosts,
		PnLPct:          pnlPct,
		Commission:      totalCommission,
		Slippage:        totalSlippage,
		DurationSeconds: exitTime.Sub(pos.EntryTime).Seconds(),
		Metadata:        pos.Metadata,
	}

	p.removePosition(pos)
	p.Trades = append(p.Trades, trade)
	return trade
}

func (p *Portfolio) removePosition(target *model.Position) {
	out := p.Positions[:0]
	for _, pos := range p.Positions {
		if pos != target {
			out = append(out, pos)
		}
	}
	p.Positions = out
}

// Update refreshes every open position's unrealized P&L at the given mid,
// appends one EquityPoint, and updates peak-equity/drawdown tracking.
// Grounded on Portfolio.update: drawdown resets to zero whenever a new
// peak is set, and is (peak - current) / peak * 100 otherwise.
func (p *Portfolio) Update(now time.Time, mid decimal.Decimal) {
	for _, pos := range p.Positions {
		if pos.Side == model.PositionLong {
			pos.UnrealizedPnL = mid.Sub(pos.EntryPrice).Mul(pos.Size)
		} else {
			pos.UnrealizedPnL = pos.EntryPrice.Sub(mid).Mul(pos.Size)
		}
	}

	equity := p.CurrentEquity()
	p.Equity = append(p.Equity, model.EquityPoint{
		Timestamp:     now,
		Cash:          p.Cash,
		UnrealizedPnL: equity.Sub(p.Cash),
		Equity:        equity,
		NumPositions:  len(p.Positions),
	})

	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
		p.currentDrawdown = decimal.Zero
		return
	}
	if p.peakEquity.IsZero() {
		return
	}
	p.currentDrawdown = p.peakEquity.Sub(equity).Div(p.peakEquity).Mul(decimal.NewFromInt(100))
	if p.currentDrawdown.GreaterThan(p.maxDrawdown) {
		p.maxDrawdown = p.currentDrawdown
	}
}

// MaxDrawdownPct returns the largest peak-to-trough drawdown observed.
func (p *Portfolio) MaxDrawdownPct() decimal.Decimal { return p.maxDrawdown }
