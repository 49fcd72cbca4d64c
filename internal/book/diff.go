package book

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/model"
)

// DepthMessage is one parsed push.depth.full payload: a full refresh of the
// visible window on both sides, never a delta.
type DepthMessage struct {
	Version   int64
	Timestamp time.Time
	Bids      []model.PriceLevel
	Asks      []model.PriceLevel
}

// TradeMessage is one parsed push.deal entry.
type TradeMessage struct {
	Timestamp time.Time
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Side      model.TradeSide
}

// Filters are the per-event thresholds C1 applies before emitting a
// WhaleEvent. A zero value for Max* or MinDistance/MaxDistance means "no
// bound" — only MinVolume/MinUSD default meaningfully to zero.
type Filters struct {
	MinVolume      decimal.Decimal
	MinUSD         decimal.Decimal
	MaxUSD         decimal.Decimal
	MinDistancePct decimal.Decimal
	MaxDistancePct decimal.Decimal
}

func two() decimal.Decimal { return decimal.NewFromInt(2) }

// Result is everything OnDepth/OnTrade produced for one message: exactly
// one Quote when both sides are non-empty, plus zero or more WhaleEvents in
// the mandated order (new/entered, then increase/decrease, then left_top).
type Result struct {
	Quote  *model.Quote
	Events []model.WhaleEvent
}

// OnDepth runs one full-refresh depth message through the diff algorithm.
// The first message for a State that is not initialized (never
// bootstrapped, or bootstrapped from an empty snapshot) seeds prev_* and
// returns its Quote, if any, with no events.
func (s *State) OnDepth(msg DepthMessage, f Filters) Result {
	if msg.Version != 0 {
		if s.currentVersion != 0 && msg.Version != s.currentVersion+1 {
			s.versionGaps++
		}
		s.currentVersion = msg.Version
	}

	currentVisibleBids := make(map[levelKey]visibleEntry, len(msg.Bids))
	currentVisibleAsks := make(map[levelKey]visibleEntry, len(msg.Asks))

	applyLevels(msg.Bids, s.fullBids, currentVisibleBids)
	applyLevels(msg.Asks, s.fullAsks, currentVisibleAsks)

	var res Result

	bestBid, haveBid := bestOf(currentVisibleBids, true)
	bestAsk, haveAsk := bestOf(currentVisibleAsks, false)

	if haveBid && haveAsk {
		mid := bestBid.Add(bestAsk).Div(two())
		spread := bestAsk.Sub(bestBid)
		s.lastMid = mid
		res.Quote = &model.Quote{
			Symbol:    s.Symbol,
			Timestamp: msg.Timestamp,
			BestBid:   bestBid,
			BestAsk:   bestAsk,
			MidPrice:  mid,
			Spread:    spread,
		}
	}

	if !s.initialized {
		s.prevVisibleBids = currentVisibleBids
		s.prevVisibleAsks = currentVisibleAsks
		s.prevFullBids = snapshotFull(s.fullBids)
		s.prevFullAsks = snapshotFull(s.fullAsks)
		s.initialized = true
		return res
	}

	if res.Quote != nil {
		res.Events = append(res.Events, s.diffSide(model.SideBid, currentVisibleBids, s.prevVisibleBids, s.prevFullBids, bestBid, bestAsk, res.Quote.MidPrice, res.Quote.Spread, f)...)
		res.Events = append(res.Events, s.diffSide(model.SideAsk, currentVisibleAsks, s.prevVisibleAsks, s.prevFullAsks, bestBid, bestAsk, res.Quote.MidPrice, res.Quote.Spread, f)...)
	}

	s.prevVisibleBids = currentVisibleBids
	s.prevVisibleAsks = currentVisibleAsks
	s.prevFullBids = snapshotFull(s.fullBids)
	s.prevFullAsks = snapshotFull(s.fullAsks)

	return res
}

func applyLevels(levels []model.PriceLevel, full map[levelKey]fullEntry, visible map[levelKey]visibleEntry) {
	for _, l := range levels {
		k := keyFor(l.Price)
		if l.Volume.IsZero() {
			delete(full, k)
			continue
		}
		full[k] = fullEntry{Price: l.Price, Volume: l.Volume, OrderCount: l.OrderCount}
		visible[k] = visibleEntry{Price: l.Price, Volume: l.Volume, OrderCount: l.OrderCount}
	}
}

func snapshotFull(full map[levelKey]fullEntry) map[levelKey]fullEntry {
	out := make(map[levelKey]fullEntry, len(full))
	for k, v := range full {
		out[k] = v
	}
	return out
}

// bestOf returns the best (highest for bids, lowest for asks) price among
// visible entries.
func bestOf(side map[levelKey]visibleEntry, wantMax bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, e := range side {
		if !found {
			best = e.Price
			found = true
			continue
		}
		if wantMax && e.Price.GreaterThan(best) {
			best = e.Price
		}
		if !wantMax && e.Price.LessThan(best) {
			best = e.Price
		}
	}
	return best, found
}

// diffSide runs the new/entered, increase/decrease, left_top classification
// for one book side and returns events in that mandated sub-order. side
// determines the event-type taxonomy and the sign of distance-from-mid.
func (s *State) diffSide(
	side model.Side,
	current map[levelKey]visibleEntry,
	prevVisible map[levelKey]visibleEntry,
	prevFull map[levelKey]fullEntry,
	bestBid, bestAsk, mid, spread decimal.Decimal,
	f Filters,
) []model.WhaleEvent {
	var entered, changed, left []model.WhaleEvent

	currentRank := rankVisible(current, side)
	prevRank := rankVisible(prevVisible, side)

	for k, cur := range current {
		prev, wasVisible := prevVisible[k]
		if !wasVisible {
			_, wasInFull := prevFull[k]
			evType := newEventType(side)
			if wasInFull {
				evType = model.EventEnteredTop
			}
			ev := s.buildEvent(evType, side, cur.Price, cur.Volume, cur.OrderCount, bestBid, bestAsk, mid, spread)
			ev.Level = currentRank[k]
			if passesFilters(ev, f) {
				entered = append(entered, ev)
			}
			continue
		}

		delta := cur.Volume.Sub(prev.Volume)
		if delta.IsZero() {
			continue
		}
		evType := model.EventIncrease
		if delta.IsNegative() {
			evType = model.EventDecrease
		}
		absDelta := delta.Abs()
		ev := s.buildEvent(evType, side, cur.Price, absDelta, cur.OrderCount, bestBid, bestAsk, mid, spread)
		ev.Level = currentRank[k]
		if passesFilters(ev, f) {
			changed = append(changed, ev)
		}
	}

	for k, prev := range prevVisible {
		if _, stillThere := current[k]; stillThere {
			continue
		}
		ev := s.buildEvent(model.EventLeftTop, side, prev.Price, prev.Volume, prev.OrderCount, bestBid, bestAsk, mid, spread)
		ev.Level = prevRank[k]
		if passesFilters(ev, f) {
			left = append(left, ev)
		}
	}

	out := make([]model.WhaleEvent, 0, len(entered)+len(changed)+len(left))
	out = append(out, entered...)
	out = append(out, changed...)
	out = append(out, left...)
	return out
}

// rankVisible assigns 1-based ranks to a visible window, best price first
// (highest for bids, lowest for asks), for the Level field on WhaleEvent.
func rankVisible(side map[levelKey]visibleEntry, s model.Side) map[levelKey]int {
	type kp struct {
		key   levelKey
		price decimal.Decimal
	}
	entries := make([]kp, 0, len(side))
	for k, v := range side {
		entries = append(entries, kp{key: k, price: v.Price})
	}
	less := func(i, j int) bool {
		if s == model.SideBid {
			return entries[i].price.GreaterThan(entries[j].price)
		}
		return entries[i].price.LessThan(entries[j].price)
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	out := make(map[levelKey]int, len(entries))
	for i, e := range entries {
		out[e.key] = i + 1
	}
	return out
}

func newEventType(side model.Side) model.EventType {
	if side == model.SideBid {
		return model.EventNewBid
	}
	return model.EventNewAsk
}

func (s *State) buildEvent(evType model.EventType, side model.Side, price, volume decimal.Decimal, orderCount int, bestBid, bestAsk, mid, spread decimal.Decimal) model.WhaleEvent {
	dist := decimal.Zero
	if !mid.IsZero() {
		dist = price.Sub(mid).Div(mid).Mul(decimal.NewFromInt(100))
	}
	return model.WhaleEvent{
		Symbol:             s.Symbol,
		Timestamp:          time.Now(),
		EventType:          evType,
		Side:               string(side),
		Price:              price,
		Volume:             volume,
		UsdValue:           price.Mul(volume),
		DistanceFromMidPct: dist,
		Level:              0,
		OrderCount:         orderCount,
		MidPrice:           mid,
		BestBid:            bestBid,
		BestAsk:            bestAsk,
		Spread:             spread,
	}
}

func passesFilters(ev model.WhaleEvent, f Filters) bool {
	if !f.MinVolume.IsZero() && ev.Volume.LessThan(f.MinVolume) {
		return false
	}
	if !f.MinUSD.IsZero() && ev.UsdValue.LessThan(f.MinUSD) {
		return false
	}
	if !f.MaxUSD.IsZero() && ev.UsdValue.GreaterThan(f.MaxUSD) {
		return false
	}
	absDist := ev.DistanceFromMidPct.Abs()
	if !f.MinDistancePct.IsZero() && absDist.LessThan(f.MinDistancePct) {
		return false
	}
	if !f.MaxDistancePct.IsZero() && absDist.GreaterThan(f.MaxDistancePct) {
		return false
	}
	return true
}

// OnTrade converts one public trade into a market_buy or market_sell
// WhaleEvent, with distance-from-mid signed against the last known mid.
func (s *State) OnTrade(t TradeMessage) model.WhaleEvent {
	evType := model.EventMarketBuy
	side := "buy"
	if t.Side == model.TradeSell {
		evType = model.EventMarketSell
		side = "sell"
	}
	dist := decimal.Zero
	if !s.lastMid.IsZero() {
		dist = t.Price.Sub(s.lastMid).Div(s.lastMid).Mul(decimal.NewFromInt(100))
	}
	return model.WhaleEvent{
		Symbol:             s.Symbol,
		Timestamp:          t.Timestamp,
		EventType:          evType,
		Side:               side,
		Price:              t.Price,
		Volume:             t.Volume,
		UsdValue:           t.Price.Mul(t.Volume),
		DistanceFromMidPct: dist,
		MidPrice:           s.lastMid,
	}
}
