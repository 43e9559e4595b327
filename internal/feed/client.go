package feed

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrAuthRequired marks an upstream rejection inside the auth window; the
// caller may restart the session with credentials.
var ErrAuthRequired = errors.New("upstream requires authentication")

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	pongTimeout  = 30 * time.Second
	pingInterval = 10 * time.Second

	// Rejections this early after connect are treated as auth failures.
	authWindow = 5 * time.Second
)

// Client is a single-use upstream connection. One goroutine runs Run; frames
// come out of Frames in receive order. There is no reconnect: any transport
// error ends the stream.
type Client struct {
	conn        *websocket.Conn
	log         zerolog.Logger
	frames      chan []byte
	connectedAt time.Time
}

// Dial opens the upstream websocket, attaching signed headers when a signer
// is supplied.
func Dial(ctx context.Context, wsURL string, signer *Signer, log zerolog.Logger) (*Client, error) {
	header := http.Header{}
	if signer != nil {
		u, err := url.Parse(wsURL)
		if err != nil {
			return nil, err
		}
		signed, err := signer.Headers(http.MethodGet, u.Path)
		if err != nil {
			return nil, err
		}
		header = signed
	}

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ErrAuthRequired
		}
		return nil, err
	}

	return &Client{
		conn:        conn,
		log:         log,
		frames:      make(chan []byte, 256),
		connectedAt: time.Now(),
	}, nil
}

// Subscribe requests the ticker, orderbook delta, and trade channels for the
// given markets.
func (c *Client) Subscribe(tickers []string) error {
	cmd := subscribeCmd{
		ID:  1,
		Cmd: "subscribe",
		Params: subscribeParams{
			Channels:      []string{"ticker", "orderbook_delta", "trade"},
			MarketTickers: tickers,
		},
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(cmd)
}

// Frames is the raw inbound frame stream, closed when Run returns.
func (c *Client) Frames() <-chan []byte {
	return c.frames
}

// Run reads frames until the connection drops or ctx is cancelled. The
// returned error is nil on clean cancellation, ErrAuthRequired when the
// upstream rejected us inside the auth window, and the transport error
// otherwise.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.frames)

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	go c.keepalive(ctx)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return c.classify(err)
		}
		select {
		case c.frames <- data:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (c *Client) classify(err error) error {
	inWindow := time.Since(c.connectedAt) < authWindow
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.ClosePolicyViolation && inWindow {
			return ErrAuthRequired
		}
		if inWindow && strings.Contains(strings.ToLower(closeErr.Text), "auth") {
			return ErrAuthRequired
		}
	}
	return err
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}
