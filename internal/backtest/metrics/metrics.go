// Package metrics computes backtest performance metrics, grounded on
// backtesting/core/metrics.py.
package metrics

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/model"
)

// Result is the full metrics report for one backtest run.
type Result struct {
	TotalReturnAbs decimal.Decimal
	TotalReturnPct decimal.Decimal
	TradeCount     int
	Wins           int
	Losses         int
	WinRate        decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal
	LargestWin     decimal.Decimal
	LargestLoss    decimal.Decimal
	ProfitFactor   decimal.Decimal // decimal.Decimal cannot represent +Inf; ProfitFactorInf flags that case
	ProfitFactorInf bool
	SharpeRatio    float64
	SortinoRatio   float64
	SortinoInf     bool
	MaxDrawdownPct decimal.Decimal
	MaxDrawdownDuration time.Duration
}

// Calculator computes Result from a closed-trade list and equity curve.
type Calculator struct {
	RiskFreeRate float64
}

// New constructs a Calculator with the given annualized risk-free rate
// (default 0.02, i.e. 2%, per the source).
func New(riskFreeRate float64) *Calculator {
	if riskFreeRate == 0 {
		riskFreeRate = 0.02
	}
	return &Calculator{RiskFreeRate: riskFreeRate}
}

// Calculate computes the full metrics report. initialCapital must be
// positive; trades and equity may be empty, in which case the windowless
// edge cases apply (zero values rather than a crash).
func (c *Calculator) Calculate(initialCapital decimal.Decimal, trades []model.Trade, equity []model.EquityPoint) Result {
	var res Result
	res.TradeCount = len(trades)

	var grossProfit, grossLoss decimal.Decimal
	var sumWin, sumLoss decimal.Decimal

	for _, t := range trades {
		if t.RealizedPnL.IsPositive() {
			res.Wins++
			grossProfit = grossProfit.Add(t.RealizedPnL)
			sumWin = sumWin.Add(t.RealizedPnL)
			if t.RealizedPnL.GreaterThan(res.LargestWin) {
				res.LargestWin = t.RealizedPnL
			}
		} else if t.RealizedPnL.IsNegative() {
			res.Losses++
			grossLoss = grossLoss.Add(t.RealizedPnL.Abs())
			sumLoss = sumLoss.Add(t.RealizedPnL)
			if t.RealizedPnL.LessThan(res.LargestLoss) {
				res.LargestLoss = t.RealizedPnL
			}
		}
	}

	if res.TradeCount > 0 {
		res.WinRate = decimal.NewFromInt(int64(res.Wins)).Div(decimal.NewFromInt(int64(res.TradeCount))).Mul(decimal.NewFromInt(100))
	}
	if res.Wins > 0 {
		res.AvgWin = sumWin.Div(decimal.NewFromInt(int64(res.Wins)))
	}
	if res.Losses > 0 {
		res.AvgLoss = sumLoss.Div(decimal.NewFromInt(int64(res.Losses)))
	}

	if grossLoss.IsZero() {
		res.ProfitFactorInf = grossProfit.IsPositive()
	} else {
		res.ProfitFactor = grossProfit.Div(grossLoss)
	}

	if len(equity) > 0 {
		finalEquity := equity[len(equity)-1].Equity
		res.TotalReturnAbs = finalEquity.Sub(initialCapital)
		if !initialCapital.IsZero() {
			res.TotalReturnPct = res.TotalReturnAbs.Div(initialCapital).Mul(decimal.NewFromInt(100))
		}
	}

	res.SharpeRatio = c.sharpeRatio(equity)
	res.SortinoRatio, res.SortinoInf = c.sortinoRatio(equity)
	res.MaxDrawdownPct, res.MaxDrawdownDuration = maxDrawdown(equity)

	return res
}

func equityReturns(equity []model.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, _ := equity[i-1].Equity.Float64()
		cur, _ := equity[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, (cur-prev)/prev)
	}
	return returns
}

// sharpeRatio annualizes per-equity-point returns using
// periods_per_year = 365 / duration_days, returning 0 when there are fewer
// than 2 equity points, the window has zero duration, or volatility is
// zero — matching _calculate_sharpe_ratio's explicit edge cases.
func (c *Calculator) sharpeRatio(equity []model.EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := equityReturns(equity)
	if len(returns) == 0 {
		return 0
	}

	durationDays := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
	if durationDays <= 0 {
		return 0
	}
	periodsPerYear := 365.0 / durationDays

	mean := meanOf(returns)
	std := stdDevOf(returns, mean)
	if std == 0 {
		return 0
	}

	annualizedReturn := mean * periodsPerYear
	annualizedStd := std * math.Sqrt(periodsPerYear)
	return (annualizedReturn - c.RiskFreeRate) / annualizedStd
}

// sortinoRatio is the Sharpe variant using only downside returns in the
// denominator; returns (0, false) on the same edge cases as Sharpe, and
// (0, true) when there are no downside returns at all (infinite Sortino).
func (c *Calculator) sortinoRatio(equity []model.EquityPoint) (float64, bool) {
	if len(equity) < 2 {
		return 0, false
	}
	returns := equityReturns(equity)
	if len(returns) == 0 {
		return 0, false
	}

	durationDays := equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
	if durationDays <= 0 {
		return 0, false
	}
	periodsPerYear := 365.0 / durationDays

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return 0, true
	}

	mean := meanOf(returns)
	downsideStd := stdDevOf(downside, 0)
	if downsideStd == 0 {
		return 0, false
	}

	annualizedReturn := mean * periodsPerYear
	annualizedDownsideStd := downsideStd * math.Sqrt(periodsPerYear)
	return (annualizedReturn - c.RiskFreeRate) / annualizedDownsideStd, false
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDevOf(xs []float64, mean float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// maxDrawdown walks the equity curve's running maximum and returns the
// largest peak-to-trough percentage drop and the time from the start of
// that drawdown episode to the last point at its maximum depth; the time
// taken to recover afterwards is not measured.
func maxDrawdown(equity []model.EquityPoint) (decimal.Decimal, time.Duration) {
	if len(equity) == 0 {
		return decimal.Zero, 0
	}

	runningMax := equity[0].Equity
	maxDD := decimal.Zero
	var maxDuration time.Duration
	var episodeStart time.Time
	inEpisode := false

	for _, p := range equity {
		if p.Equity.GreaterThan(runningMax) {
			runningMax = p.Equity
			inEpisode = false
			continue
		}
		if runningMax.IsZero() {
			continue
		}
		dd := runningMax.Sub(p.Equity).Div(runningMax).Mul(decimal.NewFromInt(100))
		if !inEpisode {
			episodeStart = p.Timestamp
			inEpisode = true
		}
		if dd.GreaterThan(maxDD) {
			maxDD = dd
			maxDuration = p.Timestamp.Sub(episodeStart)
		} else if inEpisode {
			d := p.Timestamp.Sub(episodeStart)
			if d > maxDuration && dd.Equal(maxDD) {
				maxDuration = d
			}
		}
	}
	return maxDD, maxDuration
}

// Streaks reports the longest consecutive win and loss runs, a
// supplemented feature restored from calculate_win_loss_streaks.
type Streaks struct {
	LongestWinStreak  int
	LongestLossStreak int
}

// CalculateStreaks walks trades in order and tracks the longest run of
// consecutive winners and losers.
func CalculateStreaks(trades []model.Trade) Streaks {
	var s Streaks
	winRun, lossRun := 0, 0
	for _, t := range trades {
		if t.IsWinner() {
			winRun++
			lossRun = 0
		} else {
			lossRun++
			winRun = 0
		}
		if winRun > s.LongestWinStreak {
			s.LongestWinStreak = winRun
		}
		if lossRun > s.LongestLossStreak {
			s.LongestLossStreak = lossRun
		}
	}
	return s
}
