// Package book implements the per-symbol book diff engine (C1): it holds
// full-book and visible-window shadow state across depth messages and
// classifies every observable transition into a typed model.WhaleEvent,
// disambiguating a newly placed order from a pre-existing order re-entering
// the visible window.
package book

import (
	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/model"
)

// levelKey is the exact decimal string representation of a price, used as
// the full-book map key. The exchange quantizes and sends decimal strings
// on the wire, so string equality on the parsed value is exact — unlike a
// float64 bit pattern, it survives re-parsing the same literal from two
// different messages without drift.
type levelKey = string

func keyFor(price decimal.Decimal) levelKey {
	return price.String()
}

// fullEntry is one level of the accumulated full-book view: every price
// ever observed for the symbol, pruned on zero-volume updates.
type fullEntry struct {
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OrderCount int
}

// visibleEntry is one level of the exchange-reported visible window.
type visibleEntry struct {
	Price      decimal.Decimal
	Volume     decimal.Decimal
	OrderCount int
}

// State is the six-map shadow state for one symbol, per spec: full_bids,
// full_asks, prev_visible_bids, prev_visible_asks, prev_full_bids,
// prev_full_asks, plus the scalar version tracking. A State is owned
// exclusively by the single goroutine driving its Book; it is never
// accessed concurrently and carries no internal locking.
type State struct {
	Symbol string

	fullBids map[levelKey]fullEntry
	fullAsks map[levelKey]fullEntry

	prevVisibleBids map[levelKey]visibleEntry
	prevVisibleAsks map[levelKey]visibleEntry

	prevFullBids map[levelKey]fullEntry
	prevFullAsks map[levelKey]fullEntry

	initialized    bool
	currentVersion int64
	versionGaps    int64

	// visibleDepth is the exchange-subscribed window size (5/10/20) used to
	// derive the initial visible window from the REST bootstrap snapshot,
	// which commonly reports more levels than the WS push stream will.
	// <= 0 means the bootstrap snapshot already is the visible window.
	visibleDepth int

	lastMid decimal.Decimal
}

// NewState allocates empty shadow state for symbol, windowing Bootstrap's
// initial visible side to visibleDepth levels. Until Bootstrap is called,
// the first OnDepth message seeds the previous-state maps instead of being
// diffed.
func NewState(symbol string, visibleDepth int) *State {
	return &State{
		Symbol:          symbol,
		fullBids:        make(map[levelKey]fullEntry),
		fullAsks:        make(map[levelKey]fullEntry),
		prevVisibleBids: make(map[levelKey]visibleEntry),
		prevVisibleAsks: make(map[levelKey]visibleEntry),
		prevFullBids:    make(map[levelKey]fullEntry),
		prevFullAsks:    make(map[levelKey]fullEntry),
		visibleDepth:    visibleDepth,
	}
}

// VersionGaps returns the diagnostic, non-fatal count of version
// discontinuities observed so far.
func (s *State) VersionGaps() int64 { return s.versionGaps }

// Bootstrap sets full_bids/full_asks from an initial REST snapshot, seeds
// prev_visible_*/prev_full_* from that same snapshot (windowed to
// visibleDepth for the visible side), and marks the state initialized: the
// very next depth message is diffed immediately rather than used to seed,
// so its left_top/entered_top events are not silently dropped. An empty
// snapshot (no levels on either side, as after a failed REST fetch) leaves
// the state uninitialized, so the next depth message seeds it instead of
// reporting every visible level as new.
func (s *State) Bootstrap(bids, asks []model.PriceLevel) {
	s.fullBids = make(map[levelKey]fullEntry, len(bids))
	s.fullAsks = make(map[levelKey]fullEntry, len(asks))
	for _, l := range bids {
		s.fullBids[keyFor(l.Price)] = fullEntry{Price: l.Price, Volume: l.Volume, OrderCount: l.OrderCount}
	}
	for _, l := range asks {
		s.fullAsks[keyFor(l.Price)] = fullEntry{Price: l.Price, Volume: l.Volume, OrderCount: l.OrderCount}
	}

	s.prevVisibleBids = topNVisible(s.fullBids, model.SideBid, s.visibleDepth)
	s.prevVisibleAsks = topNVisible(s.fullAsks, model.SideAsk, s.visibleDepth)
	s.prevFullBids = snapshotFull(s.fullBids)
	s.prevFullAsks = snapshotFull(s.fullAsks)

	s.initialized = len(s.fullBids) > 0 || len(s.fullAsks) > 0
	s.currentVersion = 0
	s.versionGaps = 0
}

// topNVisible picks the best n levels of full (highest price first for
// bids, lowest first for asks), or all of them when n <= 0, matching the
// exchange's own best-price-first visible window ordering.
func topNVisible(full map[levelKey]fullEntry, side model.Side, n int) map[levelKey]visibleEntry {
	sorted := sortedEntries(full, side, n)
	out := make(map[levelKey]visibleEntry, len(sorted))
	for _, e := range sorted {
		out[keyFor(e.Price)] = visibleEntry{Price: e.Price, Volume: e.Volume, OrderCount: e.OrderCount}
	}
	return out
}

// sortedEntries returns the best n levels of full (highest price first for
// bids, lowest first for asks), or all of them when n <= 0.
func sortedEntries(full map[levelKey]fullEntry, side model.Side, n int) []fullEntry {
	entries := make([]fullEntry, 0, len(full))
	for _, v := range full {
		entries = append(entries, v)
	}
	less := func(i, j int) bool {
		if side == model.SideBid {
			return entries[i].Price.GreaterThan(entries[j].Price)
		}
		return entries[i].Price.LessThan(entries[j].Price)
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}
