package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Calibra/internal/domain/models"
	applogger "Calibra/pkg/logger"
	"Calibra/pkg/util"
)

// Proc receives every decoded quote.
type Proc interface {
	Process(ctx context.Context, t *models.Tick) error
}

// Client streams top-of-book quotes from a WebSocket provider.
//
// Frames are JSON: {"type":"quote","data":[{"s":"EURUSD","b":1.1,"a":1.1002,"t":1715000000000}]}.
// Other frame types (ping, subscription acks) are ignored.
type Client struct {
	apiKey         string
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	logger         *applogger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// New creates a quote feed client.
func New(apiKey, websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration, l *applogger.Logger) *Client {
	if l == nil {
		l = applogger.NewNop()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &Client{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		dialer:         websocket.DefaultDialer,
		logger:         l.Named("feed"),
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", c.websocketURL, url.QueryEscape(c.apiKey))
	}
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("connected", applogger.String("url", c.websocketURL))
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return errors.New("feed not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.logger.Info("subscribed", applogger.Strings("symbols", c.symbols))
	return nil
}

type wireQuote struct {
	S string  `json:"s"`
	B float64 `json:"b"`
	A float64 `json:"a"`
	T int64   `json:"t"`
}

type wireMessage struct {
	Type string      `json:"type"`
	Data []wireQuote `json:"data"`
}

// decode turns one frame into ticks. Non-quote frames yield nothing.
func decode(b []byte) []*models.Tick {
	var m wireMessage
	if err := json.Unmarshal(b, &m); err != nil || m.Type != "quote" {
		return nil
	}
	out := make([]*models.Tick, 0, len(m.Data))
	for _, d := range m.Data {
		if d.T <= 0 {
			continue
		}
		out = append(out, &models.Tick{
			Symbol:    util.NormalizeSymbol(d.S),
			Bid:       d.B,
			Ask:       d.A,
			Timestamp: util.FromUnixAuto(d.T),
		})
	}
	return out
}

// Read streams quotes until the connection fails or ctx ends. The error
// channel carries at most one error.
func (c *Client) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, 1024)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		close(ticks)
		errs <- errors.New("feed conn nil")
		close(errs)
		return ticks, errs
	}

	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer cancel()
		defer close(ticks)
		defer close(errs)
		// Unblock ReadMessage on cancellation.
		go func() {
			<-readCtx.Done()
			_ = conn.Close()
		}()
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			for _, t := range decode(b) {
				select {
				case ticks <- t:
				case <-readCtx.Done():
					return
				}
			}
		}
	}()

	return ticks, errs
}

// Run connects, forwards quotes to proc and reconnects on failure until ctx
// is done.
func (c *Client) Run(ctx context.Context, proc Proc) error {
	for {
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("connect failed", applogger.Error(err))
		} else if err := c.Subscribe(ctx); err != nil {
			c.logger.Warn("subscribe failed", applogger.Error(err))
		} else {
			ticks, errs := c.Read(ctx)
			for t := range ticks {
				if err := proc.Process(ctx, t); err != nil && !errors.Is(err, models.ErrInvalidTick) {
					c.logger.Debug("tick rejected", applogger.String("symbol", t.Symbol), applogger.Error(err))
				}
			}
			if err, ok := <-errs; ok && err != nil {
				c.logger.Warn("stream ended", applogger.Error(err))
			}
		}
		_ = c.Close()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.reconnectDelay):
		}
	}
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
