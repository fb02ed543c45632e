package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mcdev12/questroom/go/clients"
)

// ErrPollSessionClosed is returned by Read after Close or when the server forgot the session.
var ErrPollSessionClosed = errors.New("poll session closed")

// PollingConfig holds configuration for the long-polling transport
type PollingConfig struct {
	BaseURL string
	// PollWait is how long the server may hold a poll open.
	PollWait time.Duration
}

// DefaultPollingConfig returns default long-polling configuration
func DefaultPollingConfig(baseURL string) PollingConfig {
	return PollingConfig{
		BaseURL:  baseURL,
		PollWait: 25 * time.Second,
	}
}

// PollingTransport degrades the channel to HTTP request polling.
type PollingTransport struct {
	config PollingConfig
	client *clients.BaseClient
}

// NewPollingTransport creates a long-polling transport
func NewPollingTransport(config PollingConfig) *PollingTransport {
	client := clients.NewBaseClient(config.BaseURL)
	client.SetTimeout(config.PollWait + 10*time.Second)
	return &PollingTransport{config: config, client: client}
}

func (t *PollingTransport) Name() string {
	return "polling"
}

type pollHandshake struct {
	SID string `json:"sid"`
}

func (t *PollingTransport) Dial(ctx context.Context) (Conn, error) {
	body, err := t.client.Post(ctx, "/poll", nil)
	if err != nil {
		return nil, fmt.Errorf("open poll session: %w", err)
	}
	var hs pollHandshake
	if err := json.Unmarshal(body, &hs); err != nil {
		return nil, fmt.Errorf("decode poll handshake: %w", err)
	}
	if hs.SID == "" {
		return nil, fmt.Errorf("poll handshake without sid")
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		client: t.client,
		sid:    hs.SID,
		wait:   t.config.PollWait,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollConn struct {
	client *clients.BaseClient
	sid    string
	wait   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending [][]byte
	closed  bool
}

func (c *pollConn) Read(ctx context.Context) ([]byte, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrPollSessionClosed
		}
		if len(c.pending) > 0 {
			frame := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return frame, nil
		}
		c.mu.Unlock()

		frames, err := c.poll(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.pending = append(c.pending, frames...)
		c.mu.Unlock()
	}
}

func (c *pollConn) poll(ctx context.Context) ([][]byte, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	body, err := c.client.Get(reqCtx, fmt.Sprintf("/poll/%s?wait=%d", c.sid, c.wait.Milliseconds()))
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, ErrPollSessionClosed
		}
		if c.ctx.Err() != nil {
			return nil, ErrPollSessionClosed
		}
		return nil, fmt.Errorf("poll: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode poll frames: %w", err)
	}
	frames := make([][]byte, 0, len(raw))
	for _, f := range raw {
		frames = append(frames, []byte(f))
	}
	return frames, nil
}

func (c *pollConn) Write(ctx context.Context, frame []byte) error {
	if c.ctx.Err() != nil {
		return ErrPollSessionClosed
	}
	if _, err := c.client.Post(ctx, "/poll/"+c.sid, bytes.NewReader(frame)); err != nil {
		return fmt.Errorf("poll send: %w", err)
	}
	return nil
}

func (c *pollConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.pending = nil
	c.mu.Unlock()
	c.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.client.Delete(ctx, "/poll/"+c.sid); err != nil {
		return fmt.Errorf("close poll session: %w", err)
	}
	return nil
}
