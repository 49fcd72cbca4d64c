package detector

import "github.com/whalewatch/whalewatch/internal/model"

// Indicators is the bounded [0, 100] manipulation score per symbol and its
// contributing sub-scores, matching calculate_indicators' weighted sum.
type Indicators struct {
	Symbol              string
	CancellationRate    float64
	FlashOrderRate      float64
	LayeringScore       float64
	OrderRatePerSecond  float64
	PhantomLiquidityPct float64
	Overall             float64
}

const (
	weightCancellation = 0.25
	weightFlash        = 0.20
	weightLayering     = 0.25
	weightOrderRate    = 0.15
	weightPhantom      = 0.15
)

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ComputeIndicators tallies the current lifecycle table for symbol into
// the five weighted sub-scores and their overall sum. Counting lifecycles
// directly (rather than a separately maintained rolling log) is
// sufficient since GC prunes the table on the same horizon the original
// detector uses for its long-window statistics.
func (d *Detector) ComputeIndicators(symbol string) Indicators {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total, cancelled, flashLike int
	var cancels, fills int

	for k, l := range d.lifecycles {
		if k.symbol != symbol {
			continue
		}
		total++
		switch l.Status {
		case model.LifecycleCancelled:
			cancelled++
			cancels++
			if l.SpoofingProbability >= 40 {
				flashLike++
			}
		case model.LifecycleFilled:
			fills++
		}
	}

	ind := Indicators{Symbol: symbol}
	if total > 0 {
		ind.CancellationRate = clamp(float64(cancelled) / float64(total) * 100)
		ind.FlashOrderRate = clamp(float64(flashLike) / float64(total) * 100)
	}

	recent := len(d.recentRate[symbol])
	ind.OrderRatePerSecond = clamp(float64(recent))

	if cancels+fills > 0 {
		ind.PhantomLiquidityPct = clamp(float64(cancels) / float64(cancels+fills) * 100)
	}

	// LayeringScore is populated by the caller from the most recent
	// OnSnapshot result; ComputeIndicators alone cannot see book state.
	ind.Overall = clamp(
		ind.CancellationRate*weightCancellation +
			ind.FlashOrderRate*weightFlash +
			ind.LayeringScore*weightLayering +
			ind.OrderRatePerSecond*weightOrderRate +
			ind.PhantomLiquidityPct*weightPhantom,
	)
	return ind
}

// WithLayeringScore recomputes Overall after the caller supplies the
// layering sub-score observed from the latest OnSnapshot call.
func (ind Indicators) WithLayeringScore(score float64) Indicators {
	ind.LayeringScore = clamp(score)
	ind.Overall = clamp(
		ind.CancellationRate*weightCancellation +
			ind.FlashOrderRate*weightFlash +
			ind.LayeringScore*weightLayering +
			ind.OrderRatePerSecond*weightOrderRate +
			ind.PhantomLiquidityPct*weightPhantom,
	)
	return ind
}
