package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roach88/grove/internal/event"
)

// Client talks to a grove server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Remote = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient returns a Client for the server at baseURL authenticating with
// a bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pullResponse struct {
	Events []json.RawMessage `json:"events"`
}

type pushRequest struct {
	Events []event.Event `json:"events"`
}

type pushResponse struct {
	Accepted   int           `json:"accepted"`
	Duplicates int           `json:"duplicates"`
	Events     []event.Event `json:"events"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Pull implements Remote. Events that fail to decode are dropped; the rest
// of the batch is still returned.
func (c *Client) Pull(ctx context.Context, since *time.Time) ([]event.Event, error) {
	target := c.baseURL + "/v1/events"
	if since != nil {
		target += "?since=" + url.QueryEscape(event.FormatTimestamp(*since))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	var body pullResponse
	if err := c.do(req, &body); err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}

	events, _, err := event.DecodeRaw(body.Events)
	if err != nil {
		return nil, fmt.Errorf("pull: %w", err)
	}
	return events, nil
}

// Push implements Remote.
func (c *Client) Push(ctx context.Context, events []event.Event) (PushResult, error) {
	data, err := json.Marshal(pushRequest{Events: events})
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/events", bytes.NewReader(data))
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body pushResponse
	if err := c.do(req, &body); err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}
	return PushResult{Accepted: body.Accepted, Duplicates: body.Duplicates, Confirmed: body.Events}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	var body errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &body)
	detail := body.Error.Message
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, detail)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrRejected, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, detail)
	}
}

// Subscribe implements Remote over a websocket. onEvent runs on the reader
// goroutine.
func (c *Client) Subscribe(ctx context.Context, onEvent func(event.Event)) (Subscription, error) {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	cfg, err := websocket.NewConfig(wsURL+"/v1/events/stream", c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	cfg.Header = make(http.Header)
	cfg.Header.Set("Authorization", "Bearer "+c.token)

	conn, err := cfg.DialContext(ctx)
	if err != nil {
		var dialErr *websocket.DialError
		if errors.As(err, &dialErr) && errors.Is(dialErr.Err, websocket.ErrBadStatus) {
			// The handshake does not expose the status; a rejected upgrade on
			// an authenticated route is almost always the token.
			return nil, fmt.Errorf("subscribe: %w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("subscribe: %w: %v", ErrUnavailable, err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go sub.read(onEvent)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func websocketURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsSubscription) read(onEvent func(event.Event)) {
	defer close(s.done)
	decoder := json.NewDecoder(s.conn)
	for {
		var raw json.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			s.finish(err)
			return
		}
		var e event.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}
		onEvent(e)
	}
}

func (s *wsSubscription) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || errors.Is(err, io.EOF) {
		return
	}
	s.err = fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *wsSubscription) Done() <-chan struct{} { return s.done }

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.conn.Close()
}
