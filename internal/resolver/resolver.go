// Package resolver turns an event ticker into the full family of markets to
// stream: the primary event plus its sibling spread and total events for the
// same game, with parsed metadata attached.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kalshi-ladder-feed/internal/feed"
	"github.com/kalshi-ladder-feed/internal/parser"
)

// ErrNotFound means the primary event does not exist upstream.
var ErrNotFound = errors.New("event not found")

var seriesPrefixes = []string{"KXNFLGAME", "KXNFLSPREAD", "KXNFLTOTAL"}

type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker,omitempty"`
	Title        string `json:"title,omitempty"`
}

type Market struct {
	Ticker      string           `json:"ticker"`
	Title       string           `json:"title"`
	EventTicker string           `json:"event_ticker"`
	GroupType   parser.GroupType `json:"group_type"`
	Meta        parser.Meta      `json:"meta"`
}

// Result is everything a session needs to subscribe and analyze.
type Result struct {
	GameID         string   `json:"game_id"`
	PrimaryEvent   Event    `json:"primary_event"`
	Markets        []Market `json:"markets"`
	ResolvedEvents []Event  `json:"resolved_events"`
}

// Client queries the upstream REST API. Calls are rate limited and guarded
// by a circuit breaker so a flapping upstream cannot stall session starts.
type Client struct {
	baseURL string
	http    *http.Client
	signer  *feed.Signer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(baseURL string, signer *feed.Signer, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		signer:  signer,
		limiter: rate.NewLimiter(rate.Limit(8), 16),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     "resolver",
			Interval: 60 * time.Second,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A missing sibling event is an answer, not an upstream fault.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound)
			},
		}),
		log: log,
	}
}

// Resolve looks up the event family for one game. Sibling events that do not
// exist are skipped; a missing primary event is ErrNotFound.
func (c *Client) Resolve(ctx context.Context, eventTicker string) (*Result, error) {
	gameID := gameIDFrom(eventTicker)
	if gameID == "" {
		return nil, fmt.Errorf("cannot derive game id from %q", eventTicker)
	}

	primary, err := c.getEvent(ctx, eventTicker)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", eventTicker, err)
	}

	res := &Result{GameID: gameID, PrimaryEvent: *primary}

	for _, ticker := range siblingEvents(eventTicker, gameID) {
		ev := primary
		if ticker != eventTicker {
			ev, err = c.getEvent(ctx, ticker)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("resolve sibling %s: %w", ticker, err)
			}
		}
		res.ResolvedEvents = append(res.ResolvedEvents, *ev)

		markets, err := c.listMarkets(ctx, ticker)
		if err != nil {
			return nil, fmt.Errorf("list markets for %s: %w", ticker, err)
		}
		for _, m := range markets {
			groupType := parser.GroupTypeFromTicker(m.Ticker)
			res.Markets = append(res.Markets, Market{
				Ticker:      m.Ticker,
				Title:       m.Title,
				EventTicker: ticker,
				GroupType:   groupType,
				Meta:        parser.Parse(m.Ticker, m.Title, groupType, gameID),
			})
		}
	}

	c.log.Info().
		Str("event", eventTicker).
		Str("game_id", gameID).
		Int("markets", len(res.Markets)).
		Int("events", len(res.ResolvedEvents)).
		Msg("resolved event family")
	return res, nil
}

// MetaByTicker indexes the resolved markets for the enricher.
func (r *Result) MetaByTicker() map[string]parser.Meta {
	out := make(map[string]parser.Meta, len(r.Markets))
	for _, m := range r.Markets {
		out[m.Ticker] = m.Meta
	}
	return out
}

func gameIDFrom(eventTicker string) string {
	if i := strings.Index(eventTicker, "-"); i >= 0 && i+1 < len(eventTicker) {
		return eventTicker[i+1:]
	}
	return ""
}

func siblingEvents(eventTicker, gameID string) []string {
	out := []string{eventTicker}
	for _, prefix := range seriesPrefixes {
		sibling := prefix + "-" + gameID
		if sibling != eventTicker {
			out = append(out, sibling)
		}
	}
	return out
}

type eventResponse struct {
	Event Event `json:"event"`
}

type wireMarket struct {
	Ticker string `json:"ticker"`
	Title  string `json:"title"`
}

type marketsResponse struct {
	Markets []wireMarket `json:"markets"`
	Cursor  string       `json:"cursor"`
}

func (c *Client) getEvent(ctx context.Context, eventTicker string) (*Event, error) {
	var resp eventResponse
	if err := c.getJSON(ctx, "/events/"+eventTicker, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Event.EventTicker == "" {
		resp.Event.EventTicker = eventTicker
	}
	return &resp.Event, nil
}

func (c *Client) listMarkets(ctx context.Context, eventTicker string) ([]wireMarket, error) {
	var out []wireMarket
	cursor := ""
	for {
		params := url.Values{"event_ticker": {eventTicker}, "limit": {"200"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp marketsResponse
		if err := c.getJSON(ctx, "/markets", params, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Markets...)
		if resp.Cursor == "" {
			return out, nil
		}
		cursor = resp.Cursor
	}
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, dst any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := c.breaker.Execute(func() (any, error) {
		reqURL := c.baseURL + path
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		if c.signer != nil {
			signed, err := c.signer.Headers(http.MethodGet, req.URL.Path)
			if err != nil {
				return nil, err
			}
			req.Header = signed
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, json.NewDecoder(resp.Body).Decode(dst)
	})
	return err
}
