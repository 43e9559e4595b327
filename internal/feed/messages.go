// Package feed connects to the upstream market websocket, authenticates,
// subscribes, and decodes the tagged message stream. It deliberately does
// not reconnect; a dropped upstream ends the session.
package feed

import (
	"encoding/json"
	"fmt"
)

const (
	MsgTicker            = "ticker"
	MsgOrderbookSnapshot = "orderbook_snapshot"
	MsgOrderbookDelta    = "orderbook_delta"
	MsgTrade             = "trade"
	MsgSubscribed        = "subscribed"
	MsgError             = "error"
)

// Envelope is the outer wire shape: a type tag plus a raw payload.
type Envelope struct {
	Type string          `json:"type"`
	Msg  json.RawMessage `json:"msg"`
}

type TickerMsg struct {
	MarketTicker string `json:"market_ticker"`
	YesBid       *int   `json:"yes_bid,omitempty"`
	YesAsk       *int   `json:"yes_ask,omitempty"`
	LastPrice    *int   `json:"price,omitempty"`
	Volume       *int   `json:"volume,omitempty"`
	Volume24h    *int   `json:"volume_24h,omitempty"`
	OpenInterest *int   `json:"open_interest,omitempty"`
	Ts           int64  `json:"ts,omitempty"`
}

type OrderbookSnapshotMsg struct {
	MarketTicker string   `json:"market_ticker"`
	Yes          [][2]int `json:"yes"`
	No           [][2]int `json:"no"`
	Ts           int64    `json:"ts,omitempty"`
}

type OrderbookDeltaMsg struct {
	MarketTicker string `json:"market_ticker"`
	Price        int    `json:"price"`
	Delta        int    `json:"delta"`
	Side         string `json:"side"`
	Ts           int64  `json:"ts,omitempty"`
}

type TradeMsg struct {
	MarketTicker string `json:"market_ticker"`
	Count        int    `json:"count,omitempty"`
	YesPrice     *int   `json:"yes_price,omitempty"`
	NoPrice      *int   `json:"no_price,omitempty"`
	TakerSide    string `json:"taker_side,omitempty"`
	Ts           int64  `json:"ts,omitempty"`
}

type ErrorMsg struct {
	Message string `json:"msg,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Parse decodes one wire frame. The payload is a typed pointer for known
// message types, nil for control frames and unrecognized types (the caller
// drops those).
func Parse(data []byte) (string, any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("malformed feed frame: %w", err)
	}

	switch env.Type {
	case MsgTicker:
		var m TickerMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return env.Type, &m, nil
	case MsgOrderbookSnapshot:
		var m OrderbookSnapshotMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return env.Type, &m, nil
	case MsgOrderbookDelta:
		var m OrderbookDeltaMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return env.Type, &m, nil
	case MsgTrade:
		var m TradeMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return env.Type, &m, nil
	case MsgError:
		var m ErrorMsg
		if err := json.Unmarshal(env.Msg, &m); err != nil {
			return env.Type, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		return env.Type, &m, nil
	default:
		return env.Type, nil, nil
	}
}

type subscribeParams struct {
	Channels      []string `json:"channels"`
	MarketTickers []string `json:"market_tickers"`
}

type subscribeCmd struct {
	ID     int             `json:"id"`
	Cmd    string          `json:"cmd"`
	Params subscribeParams `json:"params"`
}
