package metrics

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/whalewatch/whalewatch/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// S5 — backtest metrics: initial capital 10,000, one closed trade entry
// 100 exit 103 size 10 commission=0 slippage=0, supplied with
// realized_pnl=30 and pnl_pct=3.0. Expect total_return_pct ~= 0.30,
// win_rate=100, profit_factor=inf, max_drawdown=0.
func TestCalculate_S5(t *testing.T) {
	now := time.Now()
	trade := model.Trade{
		EntryPrice:  d("100"),
		Size:        d("10"),
		ExitPrice:   d("103"),
		RealizedPnL: d("30"),
		PnLPct:      d("3.0"),
	}
	equity := []model.EquityPoint{
		{Timestamp: now, Equity: d("10000")},
		{Timestamp: now.Add(time.Hour), Equity: d("10030")},
	}

	calc := New(0.02)
	res := calc.Calculate(d("10000"), []model.Trade{trade}, equity)

	assert.True(t, res.TotalReturnPct.Sub(d("0.30")).Abs().LessThan(d("0.01")))
	assert.True(t, res.WinRate.Equal(d("100")))
	assert.True(t, res.ProfitFactorInf)
	assert.True(t, res.MaxDrawdownPct.IsZero())
}

// Testable property 8: profit_factor * |sum losses| == sum wins.
func TestCalculate_ProfitFactorIdentity(t *testing.T) {
	trades := []model.Trade{
		{RealizedPnL: d("100")},
		{RealizedPnL: d("-40")},
		{RealizedPnL: d("60")},
		{RealizedPnL: d("-20")},
	}
	calc := New(0.02)
	res := calc.Calculate(d("1000"), trades, nil)

	sumWins := d("160")
	sumLosses := d("60")
	assert.False(t, res.ProfitFactorInf)
	product := res.ProfitFactor.Mul(sumLosses)
	assert.True(t, product.Sub(sumWins).Abs().LessThan(d("0.0001")))
}

// Testable property 9: max_drawdown_pct in [0, 100] and equals 0 iff the
// equity curve is non-decreasing.
func TestCalculate_DrawdownBound_NonDecreasing(t *testing.T) {
	now := time.Now()
	equity := []model.EquityPoint{
		{Timestamp: now, Equity: d("100")},
		{Timestamp: now.Add(time.Hour), Equity: d("110")},
		{Timestamp: now.Add(2 * time.Hour), Equity: d("120")},
	}
	calc := New(0.02)
	res := calc.Calculate(d("100"), nil, equity)
	assert.True(t, res.MaxDrawdownPct.IsZero())
}

func TestCalculate_DrawdownBound_WithDip(t *testing.T) {
	now := time.Now()
	equity := []model.EquityPoint{
		{Timestamp: now, Equity: d("100")},
		{Timestamp: now.Add(time.Hour), Equity: d("80")},
		{Timestamp: now.Add(2 * time.Hour), Equity: d("90")},
	}
	calc := New(0.02)
	res := calc.Calculate(d("100"), nil, equity)
	assert.True(t, res.MaxDrawdownPct.GreaterThan(decimal.Zero))
	assert.True(t, res.MaxDrawdownPct.LessThanOrEqual(d("100")))
}

func TestCalculate_SharpeZeroOnFewPoints(t *testing.T) {
	calc := New(0.02)
	res := calc.Calculate(d("100"), nil, []model.EquityPoint{{Equity: d("100")}})
	assert.Equal(t, 0.0, res.SharpeRatio)
}

func TestCalculateStreaks(t *testing.T) {
	trades := []model.Trade{
		{RealizedPnL: d("10")},
		{RealizedPnL: d("10")},
		{RealizedPnL: d("-5")},
		{RealizedPnL: d("10")},
		{RealizedPnL: d("10")},
		{RealizedPnL: d("10")},
	}
	s := CalculateStreaks(trades)
	assert.Equal(t, 3, s.LongestWinStreak)
	assert.Equal(t, 1, s.LongestLossStreak)
}
