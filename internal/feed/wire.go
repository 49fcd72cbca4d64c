// Package feed implements the exchange feed client (L1): a resilient
// duplex websocket connection with application-level ping keepalive,
// REST bootstrap, and reconnect/backoff, handing parsed depth and trade
// messages to the book diff engine in strict per-symbol arrival order.
package feed

import "encoding/json"

// subDepthRequest is the wire shape for {method: "sub.depth.full", param: {...}}.
type subDepthRequest struct {
	Method string          `json:"method"`
	Param  subDepthParam   `json:"param"`
}

type subDepthParam struct {
	Symbol string `json:"symbol"`
	Limit  int    `json:"limit"`
}

// subDealRequest is the wire shape for {method: "sub.deal", param: {symbol}}.
type subDealRequest struct {
	Method string        `json:"method"`
	Param  subDealParam  `json:"param"`
}

type subDealParam struct {
	Symbol string `json:"symbol"`
}

// pingRequest is the application-level keepalive frame.
type pingRequest struct {
	Method string `json:"method"`
}

// envelope is the minimal shape every inbound frame shares: enough to
// route by channel before decoding the typed payload.
type envelope struct {
	Channel string          `json:"channel"`
	Symbol  string          `json:"symbol"`
	Data    json.RawMessage `json:"data"`
}

// depthPushLevel is one [price, volume, order_count] triple on the wire.
type depthPushLevel [3]string

// depthPushData is the payload of a push.depth.full frame.
type depthPushData struct {
	Version   int64            `json:"version"`
	Timestamp int64            `json:"timestamp"`
	Bids      []depthPushLevel `json:"bids"`
	Asks      []depthPushLevel `json:"asks"`
}

// dealPushEntry is one trade in a push.deal frame's data list.
type dealPushEntry struct {
	TimestampMS int64  `json:"t"`
	Price       string `json:"p"`
	Volume      string `json:"v"`
	Side        int    `json:"T"`
}

// restDepthResponse is the REST bootstrap snapshot shape.
type restDepthResponse struct {
	Success bool             `json:"success"`
	Data    restDepthPayload `json:"data"`
}

type restDepthPayload struct {
	Bids []depthPushLevel `json:"bids"`
	Asks []depthPushLevel `json:"asks"`
}

const (
	channelDepthFull = "push.depth.full"
	channelDeal      = "push.deal"
	channelPong      = "pong"

	methodSubDepthFull = "sub.depth.full"
	methodSubDeal      = "sub.deal"
	methodPing         = "ping"

	tradeSideBuy  = 1
	tradeSideSell = 2
)
