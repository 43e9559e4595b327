// Package session runs the per-subscriber analytics worker: it folds the
// upstream feed into book state, drives the periodic stats and signals
// ticks, and emits tagged snapshot records to exactly one subscriber.
package session

import (
	"encoding/json"

	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/ladder"
	"github.com/kalshi-ladder-feed/internal/resolver"
	"github.com/kalshi-ladder-feed/internal/signals"
	"github.com/kalshi-ladder-feed/internal/stats"
)

type RecordType string

const (
	RecordStatus  RecordType = "status"
	RecordMeta    RecordType = "meta"
	RecordTicker  RecordType = "ticker"
	RecordRaw     RecordType = "raw"
	RecordStats   RecordType = "stats"
	RecordSignals RecordType = "signals"
	RecordError   RecordType = "error"
)

// Record is one tagged frame on the subscriber stream.
type Record struct {
	Type RecordType `json:"type"`
	Data any        `json:"data,omitempty"`
}

type Status string

const (
	StatusResolving    Status = "resolving"
	StatusConnecting   Status = "connecting"
	StatusStreaming    Status = "streaming"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

type StatusPayload struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

type MetaPayload struct {
	Event          resolver.Event   `json:"event"`
	Markets        []resolver.Market `json:"markets"`
	ResolvedEvents []resolver.Event `json:"resolvedEvents"`
	GameID         string           `json:"gameId"`
}

type RawPayload struct {
	Messages []json.RawMessage `json:"messages"`
}

type TickerPayload struct {
	Data map[string]feed.TickerMsg `json:"data"`
}

type StatsPayload struct {
	Ts      int64                     `json:"ts"`
	Markets map[string]stats.Enriched `json:"markets"`
}

type SignalsPayload struct {
	Ts      int64            `json:"ts"`
	Signals []signals.Signal `json:"signals"`
	Ladders []*ladder.Ladder `json:"ladders"`
}

type ErrorPayload struct {
	Message      string `json:"message"`
	RequiresAuth bool   `json:"requiresAuth,omitempty"`
}

func statusRecord(s Status, message string) Record {
	return Record{Type: RecordStatus, Data: StatusPayload{Status: s, Message: message}}
}

func errorRecord(message string, requiresAuth bool) Record {
	return Record{Type: RecordError, Data: ErrorPayload{Message: message, RequiresAuth: requiresAuth}}
}
