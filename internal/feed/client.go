// Package feed implements the market-data feed client (spec §4.7): a
// persistent websocket connection, chain-tag subscription, event
// normalization, and dispatch to the aggregation engine and the USD
// price cache.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	minReconnectDelay = time.Second
	maxReconnectDelay = 10 * time.Second
)

// Handlers dispatches normalized events to the rest of the system.
type Handlers struct {
	OnMarketData func(MarketUpdate)
	OnRatesUpdate func(RatesUpdate)
	OnSubscribeAck func()
}

type Client struct {
	url       string
	chainTags []string
	log       *zap.Logger
	onReconnect func()

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(url string, chainTags []string, log *zap.Logger) *Client {
	return &Client{url: url, chainTags: chainTags, log: log}
}

// OnReconnect registers a callback fired each time the client begins a
// new reconnect attempt, used by the supervisor to bump a metric.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// Run connects, subscribes, and dispatches events until ctx is
// cancelled, reconnecting with exponential backoff on any read error.
func (c *Client) Run(ctx context.Context, handlers Handlers) error {
	delay := minReconnectDelay
	for {
		err := c.runOnce(ctx, handlers)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logDisconnect(err)
		c.resetConn()
		if c.onReconnect != nil {
			c.onReconnect()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Client) runOnce(ctx context.Context, handlers Handlers) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.writeJSON(ctx, map[string]any{
		"type":   "subscribeMarketData",
		"chains": c.chainTags,
	}); err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.dispatch(data, handlers)
	}
}

func (c *Client) dispatch(data []byte, handlers Handlers) {
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		if c.log != nil {
			c.log.Warn("feed message decode failed", zap.Error(err))
		}
		return
	}
	var payload any
	if len(envelope.Data) > 0 {
		_ = json.Unmarshal(envelope.Data, &payload)
	} else {
		_ = json.Unmarshal(data, &payload)
	}

	switch envelope.Type {
	case "marketData":
		if update, ok := NormalizeMarketUpdate(payload); ok && handlers.OnMarketData != nil {
			handlers.OnMarketData(update)
		}
	case "usdRates_update":
		if rates, ok := NormalizeRatesUpdate(payload); ok && handlers.OnRatesUpdate != nil {
			handlers.OnRatesUpdate(rates)
		}
	case "subscribeMarketDataAck":
		if c.log != nil {
			c.log.Info("feed subscription acknowledged")
		}
		if handlers.OnSubscribeAck != nil {
			handlers.OnSubscribeAck()
		}
	}
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.New("feed: not connected")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) logDisconnect(err error) {
	if c.log == nil || err == nil {
		return
	}
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		c.log.Info("feed connection closed", zap.Error(err))
		return
	}
	c.log.Warn("feed connection lost, reconnecting", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}
