package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/whalewatch/whalewatch/internal/backtest/dataloader"
	"github.com/whalewatch/whalewatch/internal/backtest/engine"
	"github.com/whalewatch/whalewatch/internal/backtest/execution"
	"github.com/whalewatch/whalewatch/internal/backtest/strategy"
)

const backtestTimeLayout = "2006-01-02T15:04:05Z07:00"

func newBacktestCmd() *cobra.Command {
	var (
		symbol      string
		strategyID  string
		startStr    string
		endStr      string
		minWhaleUSD float64
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run C3 over a recorded (symbol, start, end) window with a chosen strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest(symbol, strategyID, startStr, endStr, minWhaleUSD)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair symbol, e.g. BTCUSDT (required)")
	cmd.Flags().StringVar(&strategyID, "strategy", "whale_following", "one of: whale_following, deep_fill_reversal, momentum_reversal")
	cmd.Flags().StringVar(&startStr, "start", "", "window start, RFC3339 (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end, RFC3339 (required)")
	cmd.Flags().Float64Var(&minWhaleUSD, "min-whale-usd", 0, "drop whale events below this USD value before feeding the strategy")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}

func selectStrategy(id string) (strategy.Strategy, error) {
	switch id {
	case "whale_following":
		return strategy.NewWhaleFollowing(), nil
	case "deep_fill_reversal":
		return strategy.NewDeepFillReversal(), nil
	case "momentum_reversal":
		return strategy.NewMomentumReversal(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", id)
	}
}

func runBacktest(symbol, strategyID, startStr, endStr string, minWhaleUSD float64) error {
	cfg := loadConfig()

	start, err := time.Parse(backtestTimeLayout, startStr)
	if err != nil {
		return fmt.Errorf("parsing --start: %w", err)
	}
	end, err := time.Parse(backtestTimeLayout, endStr)
	if err != nil {
		return fmt.Errorf("parsing --end: %w", err)
	}

	strat, err := selectStrategy(strategyID)
	if err != nil {
		return err
	}

	loader := dataloader.NewInfluxLoader(cfg.Sink)
	defer loader.Close()

	cache := engine.NewCache(loader)
	sim := execution.New(cfg.Backtest.MakerFeePct, cfg.Backtest.TakerFeePct, cfg.Backtest.SlippagePct, execution.SlippageModel(cfg.Backtest.SlippageModel))
	executionDelay := time.Duration(cfg.Backtest.ExecutionDelayMS) * time.Millisecond
	eng := engine.New(cache, sim, cfg.Backtest.RiskFreeRate, executionDelay)

	params := engine.Params{
		Symbol:              symbol,
		Start:               start,
		End:                 end,
		Strategy:            strat,
		InitialCapital:      decimalFromFloat(cfg.Backtest.InitialCapital),
		PositionSizePct:     cfg.Backtest.PositionSizePct,
		MaxRiskPerTradePct:  cfg.Backtest.MaxRiskPerTradePct,
		MaxPositions:        cfg.Backtest.MaxPositions,
		MinWhaleUSD:         minWhaleUSD,
	}

	result, err := eng.Run(params)
	if err != nil {
		return fmt.Errorf("running backtest: %w", err)
	}
	if result.Empty {
		fmt.Println("no quote data for the requested window")
		return nil
	}

	printReport(symbol, strategyID, result)
	return nil
}

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func printReport(symbol, strategyID string, result engine.Result) {
	m := result.Metrics
	fmt.Printf("backtest %s / %s\n", symbol, strategyID)
	fmt.Printf("  trades:        %d (wins %d, losses %d, win rate %s%%)\n", m.TradeCount, m.Wins, m.Losses, m.WinRate.StringFixed(2))
	fmt.Printf("  total return:  %s (%s%%)\n", m.TotalReturnAbs.StringFixed(2), m.TotalReturnPct.StringFixed(2))
	if m.ProfitFactorInf {
		fmt.Printf("  profit factor: +Inf (no losing trades)\n")
	} else {
		fmt.Printf("  profit factor: %s\n", m.ProfitFactor.StringFixed(2))
	}
	fmt.Printf("  sharpe:        %.3f\n", m.SharpeRatio)
	if m.SortinoInf {
		fmt.Printf("  sortino:       +Inf (no downside deviation)\n")
	} else {
		fmt.Printf("  sortino:       %.3f\n", m.SortinoRatio)
	}
	fmt.Printf("  max drawdown:  %s%% over %s\n", m.MaxDrawdownPct.StringFixed(2), m.MaxDrawdownDuration)
}
