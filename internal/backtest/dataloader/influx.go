// Package dataloader bridges C3's Cache.DataLoader interface to the L2
// sink's InfluxDB bucket, reading back the same two measurements the sink
// writes: orderbook_price and orderbook_whale_events. Grounded on
// internal/sink's write-side schema; the read side is new but uses the
// same official client the sink already depends on.
package dataloader

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/model"
	"github.com/whalewatch/whalewatch/internal/xerrors"
)

// InfluxLoader implements engine.DataLoader by querying the bucket a
// Writer has been persisting quotes and whale events into.
type InfluxLoader struct {
	client influxdb2.Client
	org    string
	bucket string
}

// NewInfluxLoader constructs a loader against the same InfluxDB instance
// the live sink writes to.
func NewInfluxLoader(cfg config.SinkConfig) *InfluxLoader {
	return &InfluxLoader{
		client: influxdb2.NewClient(cfg.URL, cfg.Token),
		org:    cfg.Org,
		bucket: cfg.Bucket,
	}
}

// Close releases the underlying client.
func (l *InfluxLoader) Close() { l.client.Close() }

// LoadQuotes queries orderbook_price for symbol over [start, end], pivoted
// to one row per timestamp.
func (l *InfluxLoader) LoadQuotes(symbol string, start, end time.Time) ([]model.Quote, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "orderbook_price" and r.symbol == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])
`, l.bucket, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano), symbol)

	result, err := l.client.QueryAPI(l.org).Query(context.Background(), flux)
	if err != nil {
		return nil, fmt.Errorf("querying orderbook_price: %w: %v", xerrors.ErrDataUnavailable, err)
	}

	var quotes []model.Quote
	for result.Next() {
		rec := result.Record()
		quotes = append(quotes, model.Quote{
			Symbol:    symbol,
			Timestamp: rec.Time(),
			BestBid:   toDecimal(rec.ValueByKey("best_bid")),
			BestAsk:   toDecimal(rec.ValueByKey("best_ask")),
			MidPrice:  toDecimal(rec.ValueByKey("mid_price")),
			Spread:    toDecimal(rec.ValueByKey("spread")),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("reading orderbook_price result: %w: %v", xerrors.ErrDataUnavailable, result.Err())
	}
	return quotes, nil
}

// LoadWhaleEvents queries orderbook_whale_events for symbol over
// [start, end], pivoted to one row per timestamp/event.
func (l *InfluxLoader) LoadWhaleEvents(symbol string, start, end time.Time) ([]model.WhaleEvent, error) {
	flux := fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == "orderbook_whale_events" and r.symbol == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> sort(columns: ["_time"])
`, l.bucket, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano), symbol)

	result, err := l.client.QueryAPI(l.org).Query(context.Background(), flux)
	if err != nil {
		return nil, fmt.Errorf("querying orderbook_whale_events: %w: %v", xerrors.ErrDataUnavailable, err)
	}

	var whales []model.WhaleEvent
	for result.Next() {
		rec := result.Record()
		whales = append(whales, model.WhaleEvent{
			Symbol:             symbol,
			Timestamp:          rec.Time(),
			EventType:          model.EventType(stringOr(rec.ValueByKey("event_type"))),
			Side:               stringOr(rec.ValueByKey("side")),
			Price:              toDecimal(rec.ValueByKey("price")),
			Volume:             toDecimal(rec.ValueByKey("volume")),
			UsdValue:           toDecimal(rec.ValueByKey("usd_value")),
			DistanceFromMidPct: toDecimal(rec.ValueByKey("distance_from_mid_pct")),
			MidPrice:           toDecimal(rec.ValueByKey("mid_price")),
			BestBid:            toDecimal(rec.ValueByKey("best_bid")),
			BestAsk:            toDecimal(rec.ValueByKey("best_ask")),
			Spread:             toDecimal(rec.ValueByKey("spread")),
			Level:              intOr(rec.ValueByKey("level")),
			OrderCount:         intOr(rec.ValueByKey("order_count")),
			Info:               stringOr(rec.ValueByKey("info")),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("reading orderbook_whale_events result: %w: %v", xerrors.ErrDataUnavailable, result.Err())
	}
	return whales, nil
}

// toDecimal converts a Flux field value (float64, or nil if the column was
// absent from a given row) to decimal.Decimal, defaulting to zero.
func toDecimal(v any) decimal.Decimal {
	f, ok := v.(float64)
	if !ok {
		return decimal.Zero
	}
	return decimal.NewFromFloat(f)
}

func stringOr(v any) string {
	s, _ := v.(string)
	return s
}

func intOr(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
