package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/book"
	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/detector"
	"github.com/whalewatch/whalewatch/internal/feed"
	"github.com/whalewatch/whalewatch/internal/obsmetrics"
)

func newReplayCmd() *cobra.Command {
	var (
		symbol   string
		fixture  string
		minUSD   float64
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed a newline-delimited JSON fixture of wire frames through C1 without a network connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), symbol, fixture, minUSD)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair symbol for the replayed book (required)")
	cmd.Flags().StringVar(&fixture, "fixture", "", "path to a file of newline-delimited wire frames (required)")
	cmd.Flags().Float64Var(&minUSD, "min-usd", 0, "filters.min_usd applied to the replayed book")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("fixture")
	return cmd
}

func runReplay(ctx context.Context, symbol, fixturePath string, minUSD float64) error {
	log := newLogger("info")
	defer log.Sync()

	f, err := os.Open(fixturePath)
	if err != nil {
		return fmt.Errorf("opening fixture: %w", err)
	}
	defer f.Close()

	metrics := obsmetrics.NewNoop()
	filters := book.Filters{MinUSD: decimal.NewFromFloat(minUSD)}
	b := book.New(symbol, filters, 0, log, metrics, 0, 0)
	det := detector.New(config.DetectorConfig{}, nil, log)

	go drainReplayOutput(b, det, log)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := feed.ReplayFrame(ctx, b, line); err != nil {
			log.Warn("dropping unreadable fixture line", zap.Int("line", lineNo), zap.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading fixture: %w", err)
	}
	return nil
}

// drainReplayOutput prints every quote and event the replayed book emits
// and forwards detector-bound events to det so layering/flash-order/spoof
// advisory alerts fire the same as they would against a live feed; alerts
// are printed as they arrive since there is no live sink in this mode.
func drainReplayOutput(b *book.Book, det *detector.Detector, log *zap.Logger) {
	quotes := b.Quotes()
	sinkEv := b.SinkEvents()
	detectEv := b.DetectorEvents()
	alerts := det.Alerts()
	for {
		select {
		case q, ok := <-quotes:
			if !ok {
				return
			}
			fmt.Printf("quote  %s  bid=%s ask=%s mid=%s spread=%s\n",
				q.Timestamp.Format("15:04:05.000"), q.BestBid, q.BestAsk, q.MidPrice, q.Spread)
		case e, ok := <-sinkEv:
			if !ok {
				sinkEv = nil
				continue
			}
			fmt.Printf("event  %s  %s side=%s price=%s usd=%s\n",
				e.Timestamp.Format("15:04:05.000"), e.EventType, e.Side, e.Price, e.UsdValue)
		case e, ok := <-detectEv:
			if !ok {
				detectEv = nil
				continue
			}
			det.OnEvent(e)
		case a, ok := <-alerts:
			if !ok {
				alerts = nil
				continue
			}
			fmt.Printf("alert  %s  %s info=%q\n", a.Event.Timestamp.Format("15:04:05.000"), a.Event.EventType, a.Event.Info)
		}
	}
}
