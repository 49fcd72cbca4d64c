package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whalewatch/whalewatch/internal/book"
	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/detector"
	"github.com/whalewatch/whalewatch/internal/feed"
	"github.com/whalewatch/whalewatch/internal/obsmetrics"
	"github.com/whalewatch/whalewatch/internal/sink"
)

const httpShutdownGrace = 5 * time.Second

func newLiveCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run the live feed: L1 feed client into C1 book diffing, fanned out to L2 sink and C2 detector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd.Context(), metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	return cmd
}

func runLive(ctx context.Context, metricsAddr string) error {
	cfg := loadConfig()
	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	reg := prometheus.NewRegistry()
	metrics := obsmetrics.NewRegistry(reg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}

	filters := book.Filters{
		MinVolume:      decimal.NewFromFloat(cfg.Filters.MinVolume),
		MinUSD:         decimal.NewFromFloat(cfg.Filters.MinUSD),
		MaxUSD:         decimal.NewFromFloat(cfg.Filters.MaxUSD),
		MinDistancePct: decimal.NewFromFloat(cfg.Filters.MinDistancePct),
		MaxDistancePct: decimal.NewFromFloat(cfg.Filters.MaxDistancePct),
	}

	feedClient := feed.New(cfg.Feed, filters, log, metrics)
	writer := sink.New(cfg.Sink, log, metrics)
	det := detector.New(cfg.Detector, cfg.Whale, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("serving metrics", zap.String("addr", metricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		writer.Run(gctx)
		return nil
	})

	for _, symbol := range cfg.Feed.TradingPairs {
		b := feedClient.Book(symbol)
		if b == nil {
			continue
		}
		g.Go(func() error { return forwardToSink(gctx, b, writer) })
		g.Go(func() error { return forwardToDetector(gctx, b, det) })
		g.Go(func() error { return runSnapshotLoop(gctx, b, det, cfg.Detector.SnapshotInterval, metrics, log) })
	}

	g.Go(func() error { return logAlerts(gctx, det, log) })

	g.Go(func() error { return feedClient.Start(gctx) })

	g.Go(func() error {
		<-gctx.Done()
		feedClient.Stop()
		writer.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func forwardToSink(ctx context.Context, b *book.Book, w *sink.Writer) error {
	quotes := b.Quotes()
	events := b.SinkEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case q, ok := <-quotes:
			if !ok {
				return nil
			}
			w.WriteQuote(q)
		case e, ok := <-events:
			if !ok {
				return nil
			}
			w.WriteEvent(e)
		}
	}
}

func forwardToDetector(ctx context.Context, b *book.Book, d *detector.Detector) error {
	events := b.DetectorEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			d.OnEvent(e)
		}
	}
}

// runSnapshotLoop periodically feeds the detector's book-level checks
// (layering, wall building, coordinated movement, price herding), retires
// stale lifecycle records, and republishes the composite manipulation
// score — the only caller of OnSnapshot/GC/ComputeIndicators/the pattern
// detectors in the running system; without it C2's book-level analysis
// only ever executes inside unit tests.
func runSnapshotLoop(ctx context.Context, b *book.Book, d *detector.Detector, interval time.Duration, metrics *obsmetrics.Registry, log *zap.Logger) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			snap := b.Snapshot()

			layeringAlerts := d.OnSnapshot(snap)
			layeringScore := 0.0
			for _, a := range layeringAlerts {
				if s := float64(len(a.Levels)) / 10.0 * 100.0; s > layeringScore {
					layeringScore = s
				}
			}

			d.DetectWallBuilding(snap)
			d.DetectCoordinatedMovement(snap.Symbol, now)
			if mid := b.LastMid(); !mid.IsZero() {
				d.DetectPriceHerding(snap.Symbol, mid)
			}

			ind := d.ComputeIndicators(snap.Symbol).WithLayeringScore(layeringScore)
			metrics.ManipulationScore.WithLabelValues(snap.Symbol).Set(ind.Overall)
			log.Debug("manipulation indicators",
				zap.String("symbol", snap.Symbol),
				zap.Float64("overall", ind.Overall),
				zap.Float64("cancellation_rate", ind.CancellationRate),
				zap.Float64("flash_order_rate", ind.FlashOrderRate),
				zap.Float64("layering_score", ind.LayeringScore),
				zap.Float64("phantom_liquidity_pct", ind.PhantomLiquidityPct),
			)

			if expired := d.GC(now); len(expired) > 0 {
				log.Debug("lifecycle records expired", zap.String("symbol", snap.Symbol), zap.Int("count", len(expired)))
			}

			for _, band := range b.DepthBands() {
				log.Debug("depth band",
					zap.String("symbol", snap.Symbol),
					zap.String("pct_from_mid", band.PctFromMid.String()),
					zap.String("bid_value", band.BidValue.String()),
					zap.String("ask_value", band.AskValue.String()),
				)
			}
		}
	}
}

func logAlerts(ctx context.Context, d *detector.Detector, log *zap.Logger) error {
	alerts := d.Alerts()
	for {
		select {
		case <-ctx.Done():
			return nil
		case a, ok := <-alerts:
			if !ok {
				return nil
			}
			log.Info("manipulation alert",
				zap.String("symbol", a.Event.Symbol),
				zap.String("event_type", string(a.Event.EventType)),
				zap.String("info", a.Event.Info),
			)
		}
	}
}
