package detector

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/model"
)

// LayeringAlert is the per-level breakdown of one detected layering
// pattern, matching the original detector's contributing-level report.
type LayeringAlert struct {
	Symbol string
	Side   model.Side
	Levels []Level
}

const layeringScanDepth = 10

// OnSnapshot runs the layering detector over the top ≤10 levels of each
// side: levels with usd_value above the configured threshold are
// collected, and a run of at least layering_min_levels such levels —
// tolerating a one-level gap between them — is reported as layering.
func (d *Detector) OnSnapshot(snap Snapshot) []LayeringAlert {
	defer d.recoverAndLog("on_snapshot")

	threshold := decimal.NewFromFloat(d.cfg.LayeringThresholdUSD)
	if threshold.IsZero() {
		threshold = decimal.NewFromFloat(30000)
	}
	minLevels := d.cfg.LayeringMinLevels
	if minLevels <= 0 {
		minLevels = 2
	}
	allowGap := d.cfg.LayeringAllowGap
	if allowGap == 0 {
		allowGap = 1
	}

	var out []LayeringAlert
	if a := detectLayeringSide(snap.Symbol, model.SideBid, snap.BidLevels, threshold, minLevels, allowGap); a != nil {
		out = append(out, *a)
		d.publishLayering(*a)
	}
	if a := detectLayeringSide(snap.Symbol, model.SideAsk, snap.AskLevels, threshold, minLevels, allowGap); a != nil {
		out = append(out, *a)
		d.publishLayering(*a)
	}
	return out
}

// detectLayeringSide scans the top layeringScanDepth levels in top-to-
// bottom order (levels are assumed pre-sorted best-first) and returns the
// first qualifying consecutive run, or nil.
func detectLayeringSide(symbol string, side model.Side, levels []Level, threshold decimal.Decimal, minLevels, allowGap int) *LayeringAlert {
	scan := levels
	if len(scan) > layeringScanDepth {
		scan = scan[:layeringScanDepth]
	}

	var run []Level
	gapBudget := allowGap
	best := 0
	var bestRun []Level

	for _, lvl := range scan {
		if lvl.UsdValue.GreaterThan(threshold) {
			run = append(run, lvl)
			continue
		}
		if len(run) > 0 && gapBudget > 0 {
			gapBudget--
			continue
		}
		if len(run) > best {
			best = len(run)
			bestRun = run
		}
		run = nil
		gapBudget = allowGap
	}
	if len(run) > best {
		best = len(run)
		bestRun = run
	}

	if best < minLevels {
		return nil
	}
	return &LayeringAlert{Symbol: symbol, Side: side, Levels: bestRun}
}

func (d *Detector) publishLayering(a LayeringAlert) {
	total := decimal.Zero
	for _, l := range a.Levels {
		total = total.Add(l.UsdValue)
	}
	d.publish(model.WhaleEvent{
		Symbol:    a.Symbol,
		Timestamp: time.Now(),
		EventType: model.EventLayering,
		Side:      string(a.Side),
		UsdValue:  total,
		OrderCount: len(a.Levels),
		Info:      "layering: consecutive large levels on one side",
	})
}

// quoteStuffingWindowSeconds is the window quote-stuffing detection counts
// over: a rolling window reaching back from each new/cancel event's own
// timestamp, so only the events of the preceding second are counted.
const quoteStuffingWindowSeconds = 1.0

// checkQuoteStuffing runs after recordRate appends a new/cancel event: if
// the count within the trailing 1-second window exceeds
// quote_stuffing_rate, it emits a quote_stuffing record. Call this with
// d.mu already held.
func (d *Detector) checkQuoteStuffing(symbol string, now time.Time) {
	rate := d.cfg.QuoteStuffingRate
	if rate <= 0 {
		rate = 10
	}

	times := d.recentRate[symbol]
	cutoff := now.Add(-time.Duration(quoteStuffingWindowSeconds * float64(time.Second)))
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	d.recentRate[symbol] = kept

	if float64(len(kept)) > rate {
		d.publish(model.WhaleEvent{
			Symbol:    symbol,
			Timestamp: now,
			EventType: model.EventQuoteStuff,
			OrderCount: len(kept),
			Info:      "quote stuffing: order/cancel rate spike",
		})
	}
}

// GC drops lifecycle records older than lifecycle_horizon (default 1h).
// Their terminal state is folded into the returned summary before
// deletion, since long-window statistics still need their contribution.
func (d *Detector) GC(now time.Time) []model.OrderLifecycle {
	horizon := d.cfg.LifecycleHorizon
	if horizon <= 0 {
		horizon = time.Hour
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var expired []model.OrderLifecycle
	for k, l := range d.lifecycles {
		if now.Sub(l.LastSeen) > horizon {
			expired = append(expired, *l)
			delete(d.lifecycles, k)
		}
	}
	if len(expired) > 0 {
		d.log.Debug("garbage collected lifecycle records", zap.Int("count", len(expired)))
	}
	return expired
}
