// Package detector implements the manipulation detector (C2): it consumes
// the book diff engine's event stream plus periodic full-book snapshots,
// tracks the lifecycle of whale-sized orders, and emits advisory pattern
// records (flash_order, layering, quote_stuffing, spoof_candidate).
// Grounded on the original spoofing detector service; every formula and
// threshold below is taken from it unless spec.md overrides a constant.
package detector

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/model"
)

// lifecycleKey identifies a tracked order by its synthetic identity:
// (symbol, side, price) — level-2 data never exposes a real order ID.
type lifecycleKey struct {
	symbol string
	side   model.Side
	price  string
}

func keyFor(symbol string, side model.Side, price decimal.Decimal) lifecycleKey {
	return lifecycleKey{symbol: symbol, side: side, price: price.String()}
}

// newLifecycle opens a fresh OrderLifecycle record for a whale-sized
// new_bid/new_ask event.
func newLifecycle(ev model.WhaleEvent, side model.Side) *model.OrderLifecycle {
	return &model.OrderLifecycle{
		OrderID:    uuid.NewString(),
		Symbol:     ev.Symbol,
		Side:       side,
		Price:      ev.Price,
		Volume:     ev.Volume,
		UsdValue:   ev.UsdValue,
		FirstSeen:  ev.Timestamp,
		LastSeen:   ev.Timestamp,
		Status:     model.LifecycleActive,
	}
}

// calculateSpoofingProbability scores a lifecycle 0-100 from lifespan, USD
// value, modification count, and terminal status, matching
// calculate_spoofing_probability exactly.
func calculateSpoofingProbability(l *model.OrderLifecycle) float64 {
	score := 0.0
	lifespan := l.LastSeen.Sub(l.FirstSeen)

	switch {
	case lifespan < time.Second:
		score += 30
	case lifespan < 5*time.Second:
		score += 20
	case lifespan < 10*time.Second:
		score += 10
	}

	usd, _ := l.UsdValue.Float64()
	switch {
	case usd > 1_000_000:
		score += 25
	case usd > 500_000:
		score += 20
	case usd > 100_000:
		score += 15
	case usd > 50_000:
		score += 10
	}

	switch {
	case l.Modifications > 10:
		score += 20
	case l.Modifications > 5:
		score += 15
	case l.Modifications > 2:
		score += 10
	}

	if l.Status == model.LifecycleCancelled {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	return score
}

// orderIDString is a stable, human-readable identity for log lines.
func orderIDString(k lifecycleKey) string {
	return fmt.Sprintf("%s:%s:%s", k.symbol, k.side, k.price)
}
