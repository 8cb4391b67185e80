package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/valyala/fasthttp"

	"github.com/lox/blunderbot/internal/protocol"
)

const streamBuffer = 32

// Client talks to the game service: websocket streams for events, HTTP for
// actions. The auth token is sent as a bearer header on both.
type Client struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	logger  *log.Logger
	timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-action request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// NewClient creates a gateway client for the service at baseURL.
func NewClient(baseURL, token string, logger *log.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		logger:  logger.WithPrefix("gateway"),
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens the control stream. The returned channel closes when the
// stream ends for any reason.
func (c *Client) Connect(ctx context.Context) (<-chan protocol.ControlEvent, error) {
	conn, err := c.dial("/api/stream/events")
	if err != nil {
		return nil, err
	}

	connID := shortID()
	c.logger.Info("control stream open", "conn_id", connID)

	events := make(chan protocol.ControlEvent, streamBuffer)
	go pump(ctx, conn, c.logger, connID, events, protocol.DecodeControl)
	return events, nil
}

// OpenGame opens the update stream for one game.
func (c *Client) OpenGame(ctx context.Context, gameID string) (<-chan protocol.GameEvent, error) {
	conn, err := c.dial("/api/bot/game/stream/" + url.PathEscape(gameID))
	if err != nil {
		return nil, err
	}

	connID := shortID()
	c.logger.Debug("game stream open", "conn_id", connID, "game_id", gameID)

	events := make(chan protocol.GameEvent, streamBuffer)
	go pump(ctx, conn, c.logger, connID, events, protocol.DecodeGame)
	return events, nil
}

func (c *Client) AcceptChallenge(ctx context.Context, challengeID string) error {
	return c.post(ctx, "/api/challenge/"+url.PathEscape(challengeID)+"/accept", nil)
}

func (c *Client) DeclineChallenge(ctx context.Context, challengeID string, reason protocol.DeclineReason) error {
	body := map[string]string{"reason": string(reason)}
	return c.post(ctx, "/api/challenge/"+url.PathEscape(challengeID)+"/decline", body)
}

func (c *Client) Move(ctx context.Context, gameID, uci string) error {
	return c.post(ctx, "/api/bot/game/"+url.PathEscape(gameID)+"/move/"+url.PathEscape(uci), nil)
}

func (c *Client) Chat(ctx context.Context, gameID, text string) error {
	body := map[string]string{"room": "player", "text": text}
	return c.post(ctx, "/api/bot/game/"+url.PathEscape(gameID)+"/chat", body)
}

func (c *Client) Resign(ctx context.Context, gameID string) error {
	return c.post(ctx, "/api/bot/game/"+url.PathEscape(gameID)+"/resign", nil)
}

func (c *Client) HandleDrawOffer(ctx context.Context, gameID string, accept bool) error {
	answer := "no"
	if accept {
		answer = "yes"
	}
	return c.post(ctx, "/api/bot/game/"+url.PathEscape(gameID)+"/draw/"+answer, nil)
}

func (c *Client) ClaimDraw(ctx context.Context, gameID string) error {
	return c.post(ctx, "/api/bot/game/"+url.PathEscape(gameID)+"/claim-draw", nil)
}

// dial opens a websocket to path, normalising any http(s) base URL to the
// websocket scheme.
func (c *Client) dial(path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return conn, nil
}

// pump reads JSON envelopes off the socket, decodes them and forwards them
// on events until the socket errors or ctx is done. It owns the connection
// and the channel.
func pump[E any](ctx context.Context, conn *websocket.Conn, logger *log.Logger, connID string, events chan<- E, decode func([]byte) (E, error)) {
	defer close(events)
	defer conn.Close()

	// Unblock the read when the context is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("stream read failed", "conn_id", connID, "error", err)
			}
			return
		}
		if len(data) == 0 || string(data) == "\n" {
			continue // keepalive
		}

		ev, err := decode(data)
		if err != nil {
			logger.Warn("undecodable event", "conn_id", connID, "error", err)
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("post %s: status %d: %s", path, status, truncate(string(resp.Body()), 256))
	}
	return nil
}

func (c *Client) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func shortID() string {
	return uuid.NewString()[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
