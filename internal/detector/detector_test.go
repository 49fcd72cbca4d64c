package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/config"
	"github.com/whalewatch/whalewatch/internal/model"
)

func newTestDetector() *Detector {
	cfg := config.DetectorConfig{
		FlashOrderThresholdMS: 10000,
		LayeringMinLevels:     2,
		LayeringThresholdUSD:  30000,
		LayeringAllowGap:      1,
		QuoteStuffingRate:     10,
		LifecycleHorizon:      time.Hour,
		ChannelCapacity:       16,
	}
	whale := map[string]config.WhaleThresholds{
		"default": {Large: 30000, Huge: 100000, Mega: 500000},
	}
	return New(cfg, whale, zap.NewNop())
}

func usd(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

// S2 — flash order: new_bid at t=0 with usd_value=200000, left_top at t=3s
// with cumulative decrease under 10% of original. Expect a flash_order alert.
func TestDetector_S2_FlashOrder(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	d.OnEvent(model.WhaleEvent{
		Symbol: "BTC_USDT", Timestamp: base, EventType: model.EventNewBid,
		Side: "bid", Price: usd("50000"), Volume: usd("4"), UsdValue: usd("200000"),
	})

	d.OnEvent(model.WhaleEvent{
		Symbol: "BTC_USDT", Timestamp: base.Add(3 * time.Second), EventType: model.EventLeftTop,
		Side: "bid", Price: usd("50000"), Volume: usd("4"), UsdValue: usd("200000"),
	})

	select {
	case a := <-d.Alerts():
		assert.Equal(t, model.EventFlashOrder, a.Event.EventType)
	default:
		t.Fatal("expected a flash_order alert")
	}
}

func TestDetector_NoFlashOrderWhenMostlyFilled(t *testing.T) {
	d := newTestDetector()
	base := time.Now()

	d.OnEvent(model.WhaleEvent{
		Symbol: "BTC_USDT", Timestamp: base, EventType: model.EventNewBid,
		Side: "bid", Price: usd("50000"), Volume: usd("4"), UsdValue: usd("200000"),
	})
	d.OnEvent(model.WhaleEvent{
		Symbol: "BTC_USDT", Timestamp: base.Add(time.Second), EventType: model.EventDecrease,
		Side: "bid", Price: usd("50000"), Volume: usd("3.8"), UsdValue: usd("190000"),
	})
	d.OnEvent(model.WhaleEvent{
		Symbol: "BTC_USDT", Timestamp: base.Add(2 * time.Second), EventType: model.EventLeftTop,
		Side: "bid", Price: usd("50000"), Volume: usd("0.2"), UsdValue: usd("10000"),
	})

	select {
	case a := <-d.Alerts():
		t.Fatalf("did not expect a flash_order alert, got %+v", a)
	default:
	}
}

// S4 — layering: ask levels (100,$40k)(100.1,$35k)(100.2,$45k)(100.3,$1k)(100.4,$50k)
// with threshold $30k, min_layers=2, allow_gap=1. Expect one layering alert
// with 4 contributing levels (the $1k gap at 100.3 tolerated).
func TestDetector_S4_Layering(t *testing.T) {
	d := newTestDetector()

	snap := Snapshot{
		Symbol: "BTC_USDT",
		AskLevels: []Level{
			{Price: usd("100"), UsdValue: usd("40000")},
			{Price: usd("100.1"), UsdValue: usd("35000")},
			{Price: usd("100.2"), UsdValue: usd("45000")},
			{Price: usd("100.3"), UsdValue: usd("1000")},
			{Price: usd("100.4"), UsdValue: usd("50000")},
		},
	}

	alerts := d.OnSnapshot(snap)
	assert.Len(t, alerts, 1)
	assert.Equal(t, model.SideAsk, alerts[0].Side)
	assert.Len(t, alerts[0].Levels, 4)
}

func TestDetector_ComputeIndicatorsBounded(t *testing.T) {
	d := newTestDetector()
	base := time.Now()
	for i := 0; i < 5; i++ {
		d.OnEvent(model.WhaleEvent{
			Symbol: "BTC_USDT", Timestamp: base, EventType: model.EventNewBid,
			Side: "bid", Price: usd("100"), Volume: usd("1"), UsdValue: usd("100000"),
		})
		d.OnEvent(model.WhaleEvent{
			Symbol: "BTC_USDT", Timestamp: base, EventType: model.EventLeftTop,
			Side: "bid", Price: usd("100"), Volume: usd("1"), UsdValue: usd("100000"),
		})
	}

	ind := d.ComputeIndicators("BTC_USDT").WithLayeringScore(50)
	assert.GreaterOrEqual(t, ind.Overall, 0.0)
	assert.LessOrEqual(t, ind.Overall, 100.0)
}
