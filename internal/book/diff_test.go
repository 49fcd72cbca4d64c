package book

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whalewatch/whalewatch/internal/model"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func level(price, volume string, count int) model.PriceLevel {
	return model.PriceLevel{Price: d(price), Volume: d(volume), OrderCount: count}
}

func asks3() []model.PriceLevel {
	return []model.PriceLevel{level("101", "5", 1), level("102", "5", 1), level("103", "5", 1)}
}

// S1 from the concrete scenarios: bootstrap full bids {100:5,99:3,98:2,97:1},
// visible window N=3 -> {100,99,98}. Next snapshot bids {100:0,99:3,98:2,97:1}.
// Expected: left_top at 100, entered_top at 97, no new_bid.
func TestDiff_S1_EnteredTopVsNewBid(t *testing.T) {
	s := NewState("BTC_USDT", 3)
	s.Bootstrap(
		[]model.PriceLevel{level("100", "5", 1), level("99", "3", 1), level("98", "2", 1), level("97", "1", 1)},
		asks3(),
	)

	next := DepthMessage{
		Timestamp: time.Now(),
		Bids:      []model.PriceLevel{level("100", "0", 0), level("99", "3", 1), level("98", "2", 1), level("97", "1", 1)},
		Asks:      asks3(),
	}
	res := s.OnDepth(next, Filters{})

	var sawLeftAt100, sawEnteredAt97 bool
	for _, ev := range res.Events {
		if ev.EventType == model.EventLeftTop && ev.Price.Equal(d("100")) {
			sawLeftAt100 = true
		}
		if ev.EventType == model.EventNewBid {
			t.Fatalf("unexpected new_bid event: %+v", ev)
		}
		if ev.EventType == model.EventEnteredTop && ev.Price.Equal(d("97")) {
			sawEnteredAt97 = true
		}
	}
	assert.True(t, sawLeftAt100, "expected left_top at 100")
	assert.True(t, sawEnteredAt97, "expected entered_top at 97 (was in prev full book)")
}

// Testable property 3: disambiguation via prev_full_bids even when bootstrap
// happens in the same call that establishes prev_visible.
func TestDiff_TrulyNewOrderIsNewBid(t *testing.T) {
	s := NewState("BTC_USDT", 0)
	s.Bootstrap([]model.PriceLevel{level("100", "5", 1)}, asks3())

	res := s.OnDepth(DepthMessage{
		Timestamp: time.Now(),
		Bids:      []model.PriceLevel{level("100", "5", 1), level("95", "2", 1)},
		Asks:      asks3(),
	}, Filters{})

	var sawNewAt95 bool
	for _, ev := range res.Events {
		if ev.EventType == model.EventNewBid && ev.Price.Equal(d("95")) {
			sawNewAt95 = true
		}
		if ev.EventType == model.EventEnteredTop {
			t.Fatalf("95 never existed in the full book before; must not be entered_top: %+v", ev)
		}
	}
	assert.True(t, sawNewAt95)
}

// S6: versions 5, 6, 8, 9 -> exactly one gap increment, all messages processed.
func TestDiff_S6_VersionGapIsDiagnosticOnly(t *testing.T) {
	s := NewState("BTC_USDT", 0)
	s.Bootstrap([]model.PriceLevel{level("100", "5", 1)}, asks3())

	versions := []int64{5, 6, 8, 9}
	for _, v := range versions {
		msg := DepthMessage{Version: v, Timestamp: time.Now(), Bids: []model.PriceLevel{level("100", "5", 1)}, Asks: asks3()}
		res := s.OnDepth(msg, Filters{})
		require.NotNil(t, res.Quote, "every message with both sides present must still emit a quote")
	}
	assert.Equal(t, int64(1), s.VersionGaps())
}

// Testable property 1: exactly one Quote iff both sides nonempty.
func TestDiff_NoQuoteWhenOneSideEmpty(t *testing.T) {
	s := NewState("BTC_USDT", 0)
	s.Bootstrap(nil, nil)

	res := s.OnDepth(DepthMessage{Timestamp: time.Now(), Bids: []model.PriceLevel{level("100", "5", 1)}}, Filters{})
	assert.Nil(t, res.Quote)
	assert.Empty(t, res.Events)
}

// Testable property 4: filter idempotence -- stricter filters never produce
// an event absent under looser filters.
func TestDiff_FilterIdempotence(t *testing.T) {
	mk := func() *State {
		s := NewState("BTC_USDT", 0)
		s.Bootstrap([]model.PriceLevel{level("100", "5", 1)}, asks3())
		return s
	}

	loose := mk()
	strict := mk()

	next := DepthMessage{
		Timestamp: time.Now(),
		Bids:      []model.PriceLevel{level("100", "5", 1), level("95", "0.001", 1)},
		Asks:      asks3(),
	}

	looseRes := loose.OnDepth(next, Filters{})
	strictRes := strict.OnDepth(next, Filters{MinVolume: d("1")})

	assert.LessOrEqual(t, len(strictRes.Events), len(looseRes.Events))
	for _, se := range strictRes.Events {
		found := false
		for _, le := range looseRes.Events {
			if le.EventType == se.EventType && le.Price.Equal(se.Price) {
				found = true
				break
			}
		}
		assert.True(t, found, "stricter filter produced an event absent under looser filters: %+v", se)
	}
}

func TestDiff_MarketTradeEvent(t *testing.T) {
	s := NewState("BTC_USDT", 0)
	s.Bootstrap([]model.PriceLevel{level("100", "5", 1)}, asks3())

	ev := s.OnTrade(TradeMessage{Timestamp: time.Now(), Price: d("101"), Volume: d("2"), Side: model.TradeBuy})
	assert.Equal(t, model.EventMarketBuy, ev.EventType)
	assert.Equal(t, "buy", ev.Side)
	assert.True(t, ev.UsdValue.Equal(d("202")))
}
