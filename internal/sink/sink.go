// Package sink implements the time-series persistence layer (L2): a
// batched append-only writer over the two measurements in the external
// interface contract, flushing at whichever of size or time threshold
// hits first. Grounded on the original InfluxDB storage module, translated
// from an asyncio batch loop to a goroutine-and-ticker one.
package sink

import (
	"context"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/model"
	"github.com/whalewatch/whalewatch/internal/obsmetrics"
)

const (
	measurementPrice  = "orderbook_price"
	measurementEvents = "orderbook_whale_events"
)

// Writer batches Quote and WhaleEvent values into InfluxDB line-protocol
// points and flushes them on a size-or-time basis. Writer itself never
// drops data: the feed's Sink channel is the only backpressure surface,
// per the persistence-is-not-advisory policy in the concurrency model.
type Writer struct {
	client influxdb2.Client
	writeAPI influxdb2Write

	log     *zap.Logger
	metrics *obsmetrics.Registry

	batchSize    int
	batchTimeout time.Duration

	mu      sync.Mutex
	pending []*write.Point

	flushCh chan struct{}
	closed  bool
}

// influxdb2Write is the narrow surface of the InfluxDB v2 write API this
// package depends on, so tests can substitute a recording fake.
type influxdb2Write interface {
	WritePoint(ctx context.Context, point *write.Point) error
	Flush()
}

// New constructs a Writer against the configured InfluxDB instance.
func New(cfg config.SinkConfig, log *zap.Logger, metrics *obsmetrics.Registry) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	api := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	w := &Writer{
		client:       client,
		writeAPI:     blockingAdapter{api},
		log:          log.With(zap.String("component", "sink")),
		metrics:      metrics,
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		flushCh:      make(chan struct{}, 1),
	}
	return w
}

// blockingAdapter bridges the SDK's WriteAPIBlocking to influxdb2Write.
type blockingAdapter struct {
	api interface {
		WritePoint(ctx context.Context, point ...*write.Point) error
	}
}

func (a blockingAdapter) WritePoint(ctx context.Context, point *write.Point) error {
	return a.api.WritePoint(ctx, point)
}
func (a blockingAdapter) Flush() {}

// Run drives the periodic flush loop until ctx is cancelled, performing a
// final flush on exit. Grounded on the original periodic_flush/close pair.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-ticker.C:
			w.flush(ctx)
		case <-w.flushCh:
			w.flush(ctx)
		}
	}
}

// WriteQuote appends one orderbook_price point to the pending batch.
func (w *Writer) WriteQuote(q model.Quote) {
	p := influxdb2.NewPoint(
		measurementPrice,
		map[string]string{"symbol": q.Symbol},
		map[string]any{
			"best_bid":  toFloat(q.BestBid),
			"best_ask":  toFloat(q.BestAsk),
			"mid_price": toFloat(q.MidPrice),
			"spread":    toFloat(q.Spread),
		},
		q.Timestamp,
	)
	w.enqueue(p)
}

// WriteEvent appends one orderbook_whale_events point to the pending batch.
func (w *Writer) WriteEvent(e model.WhaleEvent) {
	p := influxdb2.NewPoint(
		measurementEvents,
		map[string]string{
			"symbol":     e.Symbol,
			"event_type": string(e.EventType),
			"side":       e.Side,
		},
		map[string]any{
			"price":                 toFloat(e.Price),
			"volume":                toFloat(e.Volume),
			"usd_value":             toFloat(e.UsdValue),
			"distance_from_mid_pct": toFloat(e.DistanceFromMidPct),
			"mid_price":             toFloat(e.MidPrice),
			"best_bid":              toFloat(e.BestBid),
			"best_ask":              toFloat(e.BestAsk),
			"spread":                toFloat(e.Spread),
			"level":                 e.Level,
			"order_count":           e.OrderCount,
			"info":                  e.Info,
		},
		e.Timestamp,
	)
	w.enqueue(p)
}

func (w *Writer) enqueue(p *write.Point) {
	w.mu.Lock()
	w.pending = append(w.pending, p)
	full := len(w.pending) >= w.batchSize
	w.mu.Unlock()

	if full {
		select {
		case w.flushCh <- struct{}{}:
		default:
		}
	}
}

func (w *Writer) flush(ctx context.Context) {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	var failed []*write.Point
	for _, p := range batch {
		if err := w.writeAPI.WritePoint(ctx, p); err != nil {
			w.log.Warn("write point failed, keeping it for the next flush", zap.Error(err))
			failed = append(failed, p)
		}
	}
	if len(failed) > 0 {
		w.mu.Lock()
		w.pending = append(failed, w.pending...)
		w.mu.Unlock()
	}
}

// Close performs a final flush and releases the underlying client.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()

	w.flush(context.Background())
	w.client.Close()
}

// toFloat converts a decimal value to float64 for the sink's float fields,
// matching the external interface contract in spec.md §6. Precision loss
// here is acceptable: the sink's fields are already documented as float.
func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
