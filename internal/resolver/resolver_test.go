package resolver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalshi-ladder-feed/internal/parser"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	events := map[string]Event{
		"KXNFLGAME-26JAN04BALPIT":   {EventTicker: "KXNFLGAME-26JAN04BALPIT", SeriesTicker: "KXNFLGAME", Title: "Ravens at Steelers"},
		"KXNFLSPREAD-26JAN04BALPIT": {EventTicker: "KXNFLSPREAD-26JAN04BALPIT", SeriesTicker: "KXNFLSPREAD", Title: "Ravens at Steelers spread"},
	}
	markets := map[string][]wireMarket{
		"KXNFLGAME-26JAN04BALPIT": {
			{Ticker: "KXNFLGAME-26JAN04BALPIT-BAL", Title: "Ravens win"},
		},
		"KXNFLSPREAD-26JAN04BALPIT": {
			{Ticker: "KXNFLSPREAD-26JAN04BALPIT-BAL3", Title: "Ravens win by over 3"},
			{Ticker: "KXNFLSPREAD-26JAN04BALPIT-BAL7", Title: "Ravens win by over 7"},
		},
	}

	mux.HandleFunc("/events/", func(w http.ResponseWriter, r *http.Request) {
		ticker := r.URL.Path[len("/events/"):]
		ev, ok := events[ticker]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(eventResponse{Event: ev})
	})
	mux.HandleFunc("/markets", func(w http.ResponseWriter, r *http.Request) {
		ticker := r.URL.Query().Get("event_ticker")
		ms := markets[ticker]

		// Page one market at a time to exercise cursor handling.
		cursor := r.URL.Query().Get("cursor")
		start := 0
		if cursor != "" {
			start = len(ms) - 1
		}
		resp := marketsResponse{}
		if start < len(ms) {
			resp.Markets = ms[start : start+1]
		}
		if start+1 < len(ms) {
			resp.Cursor = "next"
		}
		json.NewEncoder(w).Encode(resp)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveFamily(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, nil, zerolog.Nop())

	res, err := c.Resolve(context.Background(), "KXNFLGAME-26JAN04BALPIT")
	require.NoError(t, err)

	assert.Equal(t, "26JAN04BALPIT", res.GameID)
	assert.Equal(t, "KXNFLGAME-26JAN04BALPIT", res.PrimaryEvent.EventTicker)

	// The total event does not exist and is skipped without error.
	require.Len(t, res.ResolvedEvents, 2)
	require.Len(t, res.Markets, 3)

	byTicker := res.MetaByTicker()
	meta, ok := byTicker["KXNFLSPREAD-26JAN04BALPIT-BAL3"]
	require.True(t, ok)
	assert.Equal(t, parser.GroupSpread, meta.GroupType)
	assert.Equal(t, "Baltimore Ravens", meta.Side)
	require.NotNil(t, meta.Line)
	assert.InDelta(t, 3, *meta.Line, 1e-9)
}

func TestResolvePaginatesMarkets(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, nil, zerolog.Nop())

	res, err := c.Resolve(context.Background(), "KXNFLSPREAD-26JAN04BALPIT")
	require.NoError(t, err)

	var spreads int
	for _, m := range res.Markets {
		if m.GroupType == parser.GroupSpread {
			spreads++
		}
	}
	assert.Equal(t, 2, spreads, "both pages collected")
}

func TestResolveUnknownEvent(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, nil, zerolog.Nop())

	_, err := c.Resolve(context.Background(), "KXNFLGAME-26JAN04ZZZYYY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRejectsMalformedTicker(t *testing.T) {
	c := NewClient("http://127.0.0.1:0", nil, zerolog.Nop())

	_, err := c.Resolve(context.Background(), "NODASH")
	assert.Error(t, err)
}
