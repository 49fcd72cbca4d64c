package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/whalewatch/whalewatch/internal/book"
	"github.com/whalewatch/whalewatch/internal/model"
	"github.com/whalewatch/whalewatch/internal/xerrors"
)

// ReplayFrame decodes one raw wire frame in the same envelope shape the
// live websocket delivers (push.depth.full or push.deal) and applies it
// to b, for exercising C1 from a recorded fixture instead of a live
// connection. Unrecognized channels are ignored, matching readLoop.
func ReplayFrame(ctx context.Context, b *book.Book, raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decoding replay frame: %w: %v", xerrors.ErrParse, err)
	}
	switch env.Channel {
	case channelDepthFull:
		msg, err := parseDepthPush(env.Data)
		if err != nil {
			return err
		}
		b.OnDepth(ctx, msg)
	case channelDeal:
		trades, err := parseDealPush(env.Data)
		if err != nil {
			return err
		}
		for _, t := range trades {
			b.OnTrade(ctx, t)
		}
	}
	return nil
}

func parseLevels(raw []depthPushLevel) ([]model.PriceLevel, error) {
	out := make([]model.PriceLevel, 0, len(raw))
	for _, l := range raw {
		price, err := decimal.NewFromString(l[0])
		if err != nil {
			return nil, fmt.Errorf("parsing price %q: %w: %v", l[0], xerrors.ErrParse, err)
		}
		volume, err := decimal.NewFromString(l[1])
		if err != nil {
			return nil, fmt.Errorf("parsing volume %q: %w: %v", l[1], xerrors.ErrParse, err)
		}
		count := 0
		if l[2] != "" {
			var c int64
			if _, err := fmt.Sscanf(l[2], "%d", &c); err == nil {
				count = int(c)
			}
		}
		out = append(out, model.PriceLevel{Price: price, Volume: volume, OrderCount: count})
	}
	return out, nil
}

// parseDepthPush decodes a push.depth.full frame's data field into a
// book.DepthMessage ready for OnDepth.
func parseDepthPush(raw json.RawMessage) (book.DepthMessage, error) {
	var d depthPushData
	if err := json.Unmarshal(raw, &d); err != nil {
		return book.DepthMessage{}, fmt.Errorf("decoding depth push: %w: %v", xerrors.ErrParse, err)
	}
	bids, err := parseLevels(d.Bids)
	if err != nil {
		return book.DepthMessage{}, err
	}
	asks, err := parseLevels(d.Asks)
	if err != nil {
		return book.DepthMessage{}, err
	}
	return book.DepthMessage{
		Version:   d.Version,
		Timestamp: time.UnixMilli(d.Timestamp),
		Bids:      bids,
		Asks:      asks,
	}, nil
}

// parseDealPush decodes a push.deal frame's data field into zero or more
// book.TradeMessage values.
func parseDealPush(raw json.RawMessage) ([]book.TradeMessage, error) {
	var entries []dealPushEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decoding deal push: %w: %v", xerrors.ErrParse, err)
	}
	out := make([]book.TradeMessage, 0, len(entries))
	for _, e := range entries {
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			return nil, fmt.Errorf("parsing trade price %q: %w: %v", e.Price, xerrors.ErrParse, err)
		}
		volume, err := decimal.NewFromString(e.Volume)
		if err != nil {
			return nil, fmt.Errorf("parsing trade volume %q: %w: %v", e.Volume, xerrors.ErrParse, err)
		}
		side := model.TradeBuy
		if e.Side == tradeSideSell {
			side = model.TradeSell
		}
		out = append(out, book.TradeMessage{
			Timestamp: time.UnixMilli(e.TimestampMS),
			Price:     price,
			Volume:    volume,
			Side:      side,
		})
	}
	return out, nil
}

// parseRESTSnapshot decodes a bootstrap REST response into bid/ask levels.
func parseRESTSnapshot(raw []byte) ([]model.PriceLevel, []model.PriceLevel, error) {
	var resp restDepthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("decoding REST snapshot: %w: %v", xerrors.ErrParse, err)
	}
	if !resp.Success {
		return nil, nil, fmt.Errorf("REST snapshot reported failure: %w", xerrors.ErrBootstrap)
	}
	bids, err := parseLevels(resp.Data.Bids)
	if err != nil {
		return nil, nil, err
	}
	asks, err := parseLevels(resp.Data.Asks)
	if err != nil {
		return nil, nil, err
	}
	return bids, asks, nil
}
