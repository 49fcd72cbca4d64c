package detector

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/model"
)

// Level is one level of a periodic full-book snapshot handed to on_snapshot
// for the layering and wall-building detectors.
type Level struct {
	Price    decimal.Decimal
	UsdValue decimal.Decimal
}

// Snapshot is the periodic top-of-book view on_snapshot consumes, at most
// the top 10 levels per side per the layering detector's scan depth.
// Callers (book.Book.Snapshot) are expected to sort each side best-first.
type Snapshot struct {
	Symbol    string
	BidLevels []Level
	AskLevels []Level
}

// Alert is one advisory pattern record emitted by the detector.
type Alert struct {
	Event model.WhaleEvent
}

// Detector tracks order lifecycles per symbol and derives manipulation
// indicators. Every method here must never block or backpressure C1. The
// per-symbol event forwarders and snapshot loops call into one Detector
// from separate goroutines, so lifecycle and rate state is guarded by mu.
type Detector struct {
	cfg   config.DetectorConfig
	whale map[string]config.WhaleThresholds
	log   *zap.Logger

	mu         sync.Mutex
	lifecycles map[lifecycleKey]*model.OrderLifecycle
	recentRate map[string][]time.Time // symbol -> timestamps of new/cancel events in the trailing window

	alerts chan Alert
}

// New constructs a Detector with the given configuration. whale supplies the
// per-symbol-family large/huge/mega USD thresholds (keyed by symbol, with a
// "default" fallback entry); a nil or empty map falls back to
// fallbackWhaleThresholdUSD for every symbol.
func New(cfg config.DetectorConfig, whale map[string]config.WhaleThresholds, log *zap.Logger) *Detector {
	capacity := cfg.ChannelCapacity
	if capacity <= 0 {
		capacity = 4096
	}
	return &Detector{
		cfg:        cfg,
		whale:      whale,
		log:        log.With(zap.String("component", "detector")),
		lifecycles: make(map[lifecycleKey]*model.OrderLifecycle),
		recentRate: make(map[string][]time.Time),
		alerts:     make(chan Alert, capacity),
	}
}

// Alerts returns the channel advisory pattern alerts are published on.
func (d *Detector) Alerts() <-chan Alert { return d.alerts }

// fallbackWhaleThresholdUSD is used when neither a symbol-specific nor a
// "default" whale threshold entry is configured.
const fallbackWhaleThresholdUSD = 30000.0

// whaleThresholdFor resolves the minimum USD value for opening a lifecycle
// record for symbol, falling back to a "default" config entry and then to
// fallbackWhaleThresholdUSD if neither is configured.
func (d *Detector) whaleThresholdFor(symbol string) float64 {
	t, ok := d.whale[symbol]
	if !ok {
		t, ok = d.whale["default"]
	}
	if !ok || t.Large <= 0 {
		return fallbackWhaleThresholdUSD
	}
	return t.Large
}

// OnEvent processes one event from C1's stream: opens lifecycle records
// for whale-sized new orders, tracks modifications, and detects flash
// orders (a left_top within flash_window of the new_bid/new_ask event that
// opened the record, whose cumulative decrease stayed under 10% of the
// original size).
func (d *Detector) OnEvent(ev model.WhaleEvent) {
	defer d.recoverAndLog("on_event")

	side := model.Side(ev.Side)
	d.mu.Lock()
	defer d.mu.Unlock()

	d.recordRate(ev)
	d.checkQuoteStuffing(ev.Symbol, ev.Timestamp)

	switch ev.EventType {
	case model.EventNewBid, model.EventNewAsk:
		if ev.UsdValue.LessThan(decimal.NewFromFloat(d.whaleThresholdFor(ev.Symbol))) {
			return
		}
		k := keyFor(ev.Symbol, side, ev.Price)
		l := newLifecycle(ev, side)
		l.SpoofingProbability = calculateSpoofingProbability(l)
		d.lifecycles[k] = l

	case model.EventIncrease, model.EventDecrease:
		k := keyFor(ev.Symbol, side, ev.Price)
		l, ok := d.lifecycles[k]
		if !ok {
			return
		}
		l.Modifications++
		l.LastSeen = ev.Timestamp
		if ev.EventType == model.EventDecrease {
			l.CumulativeDecrease = l.CumulativeDecrease.Add(ev.Volume)
		}
		l.SpoofingProbability = calculateSpoofingProbability(l)

	case model.EventLeftTop:
		k := keyFor(ev.Symbol, side, ev.Price)
		l, ok := d.lifecycles[k]
		if !ok {
			return
		}
		l.LastSeen = ev.Timestamp
		l.Status = model.LifecycleCancelled
		l.SpoofingProbability = calculateSpoofingProbability(l)

		lifespan := l.LastSeen.Sub(l.FirstSeen)
		threshold := time.Duration(d.cfg.FlashOrderThresholdMS) * time.Millisecond
		if threshold <= 0 {
			threshold = 10 * time.Second
		}
		originalUSD := l.UsdValue
		decreasedFraction := decimal.Zero
		if !originalUSD.IsZero() {
			decreasedFraction = l.CumulativeDecrease.Mul(ev.Price).Div(originalUSD)
		}
		if lifespan <= threshold && decreasedFraction.LessThan(decimal.NewFromFloat(0.10)) {
			d.publish(model.WhaleEvent{
				Symbol:    ev.Symbol,
				Timestamp: ev.Timestamp,
				EventType: model.EventFlashOrder,
				Side:      ev.Side,
				Price:     l.Price,
				Volume:    l.Volume,
				UsdValue:  l.UsdValue,
				MidPrice:  ev.MidPrice,
				BestBid:   ev.BestBid,
				BestAsk:   ev.BestAsk,
				Spread:    ev.Spread,
				Info:      "flash order: lifespan below threshold with negligible fill",
			})
		}
	}
}

func (d *Detector) recordRate(ev model.WhaleEvent) {
	switch ev.EventType {
	case model.EventNewBid, model.EventNewAsk, model.EventLeftTop:
		d.recentRate[ev.Symbol] = append(d.recentRate[ev.Symbol], ev.Timestamp)
	}
}

func (d *Detector) publish(ev model.WhaleEvent) {
	select {
	case d.alerts <- Alert{Event: ev}:
	default:
		d.log.Warn("alert channel full, dropping", zap.String("event_type", string(ev.EventType)))
	}
}

func (d *Detector) recoverAndLog(where string) {
	if r := recover(); r != nil {
		d.log.Error("detector panic recovered, continuing", zap.String("in", where), zap.Any("panic", r))
	}
}
