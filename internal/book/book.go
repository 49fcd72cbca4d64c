package book

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/detector"
	"github.com/whalewatch/whalewatch/internal/model"
	"github.com/whalewatch/whalewatch/internal/obsmetrics"
)

// snapshotScanDepth is the number of best levels per side handed to the
// detector's periodic snapshot consumers (layering, wall building).
const snapshotScanDepth = 10

// Book owns one symbol's State exclusively and fans its output out to two
// channels with different backpressure policies: Sink blocks the producer
// (persistence is not advisory), Detector drops the oldest queued event
// when full (analytic correctness is advisory). This mirrors the teacher
// engine's per-stream broadcast channels, generalized to two distinct
// policies instead of one shared non-blocking send.
type Book struct {
	state   *State
	filters Filters
	log     *zap.Logger
	metrics *obsmetrics.Registry

	quotes   chan model.Quote
	sinkEv   chan model.WhaleEvent
	detectEv chan model.WhaleEvent
}

// New constructs a Book for symbol with the given filters, subscribed
// visible-window depth (5/10/20; <= 0 means the bootstrap snapshot itself
// is the visible window), and channel capacities. sinkCap/detectCap of 0
// fall back to sane defaults.
func New(symbol string, filters Filters, visibleDepth int, log *zap.Logger, metrics *obsmetrics.Registry, sinkCap, detectCap int) *Book {
	if sinkCap <= 0 {
		sinkCap = 1000
	}
	if detectCap <= 0 {
		detectCap = 4096
	}
	return &Book{
		state:    NewState(symbol, visibleDepth),
		filters:  filters,
		log:      log.With(zap.String("component", "book"), zap.String("symbol", symbol)),
		metrics:  metrics,
		quotes:   make(chan model.Quote, sinkCap),
		sinkEv:   make(chan model.WhaleEvent, sinkCap),
		detectEv: make(chan model.WhaleEvent, detectCap),
	}
}

// Quotes returns the channel the sink should read price quotes from.
func (b *Book) Quotes() <-chan model.Quote { return b.quotes }

// SinkEvents returns the blocking, backpressure-visible event channel.
func (b *Book) SinkEvents() <-chan model.WhaleEvent { return b.sinkEv }

// DetectorEvents returns the advisory, drop-oldest event channel.
func (b *Book) DetectorEvents() <-chan model.WhaleEvent { return b.detectEv }

// Bootstrap seeds the book from an initial REST snapshot.
func (b *Book) Bootstrap(bids, asks []model.PriceLevel) {
	b.state.Bootstrap(bids, asks)
}

// DepthBands exposes the read-side market-depth query over current state.
func (b *Book) DepthBands() []DepthBand {
	return b.state.DepthBands(b.state.lastMid)
}

// LastMid returns the most recent mid price observed, or zero if no depth
// message carrying both sides has been processed yet.
func (b *Book) LastMid() decimal.Decimal {
	return b.state.lastMid
}

// Snapshot builds the periodic top-of-book view the detector's layering,
// wall-building, and coordinated-movement checks consume, off the current
// full-book state. It is a pure read-side query: it never mutates state or
// the emitted event stream.
func (b *Book) Snapshot() detector.Snapshot {
	return detector.Snapshot{
		Symbol:    b.state.Symbol,
		BidLevels: levelsFor(b.state.fullBids, model.SideBid),
		AskLevels: levelsFor(b.state.fullAsks, model.SideAsk),
	}
}

func levelsFor(full map[levelKey]fullEntry, side model.Side) []detector.Level {
	entries := sortedEntries(full, side, snapshotScanDepth)
	out := make([]detector.Level, 0, len(entries))
	for _, e := range entries {
		out = append(out, detector.Level{Price: e.Price, UsdValue: e.Price.Mul(e.Volume)})
	}
	return out
}

// OnDepth runs one depth message through the diff engine and fans out the
// resulting Quote (ordered first) and WhaleEvents (in emission order) to
// both downstream channels, honoring each channel's backpressure policy.
// Context cancellation during a blocking send (the Quote or a Sink event)
// abandons the rest of the message: the remaining events reach neither
// channel.
func (b *Book) OnDepth(ctx context.Context, msg DepthMessage) {
	gapsBefore := b.state.VersionGaps()
	res := b.state.OnDepth(msg, b.filters)
	if b.state.VersionGaps() > gapsBefore {
		b.metrics.VersionGaps.WithLabelValues(b.state.Symbol).Inc()
	}

	if res.Quote != nil {
		select {
		case b.quotes <- *res.Quote:
		case <-ctx.Done():
			return
		}
	}

	for _, ev := range res.Events {
		b.metrics.EventsEmitted.WithLabelValues(b.state.Symbol, string(ev.EventType)).Inc()

		select {
		case b.sinkEv <- ev:
		case <-ctx.Done():
			return
		}

		select {
		case b.detectEv <- ev:
		default:
			b.metrics.DetectorDropped.WithLabelValues(b.state.Symbol).Inc()
			b.log.Debug("detector channel full, dropping oldest", zap.String("event_type", string(ev.EventType)))
			drainOne(b.detectEv)
			select {
			case b.detectEv <- ev:
			default:
			}
		}
	}
}

// OnTrade converts a public trade into a market_buy/market_sell event and
// fans it out with the same policies as OnDepth's events.
func (b *Book) OnTrade(ctx context.Context, t TradeMessage) {
	ev := b.state.OnTrade(t)
	b.metrics.EventsEmitted.WithLabelValues(b.state.Symbol, string(ev.EventType)).Inc()

	select {
	case b.sinkEv <- ev:
	case <-ctx.Done():
		return
	}
	select {
	case b.detectEv <- ev:
	default:
		b.metrics.DetectorDropped.WithLabelValues(b.state.Symbol).Inc()
		drainOne(b.detectEv)
		select {
		case b.detectEv <- ev:
		default:
		}
	}
}

func drainOne(ch chan model.WhaleEvent) {
	select {
	case <-ch:
	default:
	}
}
