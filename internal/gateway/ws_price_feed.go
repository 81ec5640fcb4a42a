package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoPrice is returned when no fresh streamed price exists and no fallback
// oracle is configured.
var ErrNoPrice = errors.New("gateway: no fresh price")

// WSFeedConfig configures WSPriceFeed behavior.
type WSFeedConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// MaxAge is how long a streamed price stays usable.
	MaxAge time.Duration
}

// DefaultWSFeedConfig returns default feed configuration.
func DefaultWSFeedConfig() WSFeedConfig {
	return WSFeedConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxAge:            5 * time.Second,
	}
}

type priceTick struct {
	price decimal.Decimal
	at    time.Time
}

// WSPriceFeed keeps the latest streamed price per pair and serves it as a
// PriceOracle. Stale or missing pairs go to the fallback oracle.
type WSPriceFeed struct {
	endpoint string
	pairs    []string
	config   WSFeedConfig
	fallback PriceOracle
	log      *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	prices   map[string]priceTick
	pricesMu sync.RWMutex

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
}

var _ PriceOracle = (*WSPriceFeed)(nil)

type wsSubscribe struct {
	Op    string   `json:"op"`
	Pairs []string `json:"pairs"`
}

type wsPriceMessage struct {
	Pair  string          `json:"pair"`
	Price decimal.Decimal `json:"price"`
}

// NewWSPriceFeed connects to endpoint, subscribes to pairs (empty = all) and
// starts the read and ping loops. fallback may be nil.
func NewWSPriceFeed(ctx context.Context, endpoint string, pairs []string, config *WSFeedConfig, fallback PriceOracle, log *zap.Logger) (*WSPriceFeed, error) {
	cfg := DefaultWSFeedConfig()
	if config != nil {
		cfg = *config
	}
	if log == nil {
		log = zap.NewNop()
	}

	f := &WSPriceFeed{
		endpoint: endpoint,
		pairs:    pairs,
		config:   cfg,
		fallback: fallback,
		log:      log.Named("price_feed"),
		prices:   make(map[string]priceTick),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()

	return f, nil
}

// connect dials the endpoint and sends the subscription.
func (f *WSPriceFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(wsSubscribe{Op: "subscribe", Pairs: f.pairs}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	if f.closed.Load() {
		conn.Close()
	}
	return nil
}

// GetCurrentPrice implements PriceOracle.
func (f *WSPriceFeed) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	f.pricesMu.RLock()
	tick, ok := f.prices[pair]
	f.pricesMu.RUnlock()

	if ok && f.now().Sub(tick.at) <= f.config.MaxAge {
		return tick.price, nil
	}
	if f.fallback != nil {
		return f.fallback.GetCurrentPrice(ctx, pair)
	}
	return decimal.Zero, fmt.Errorf("%w for %s", ErrNoPrice, pair)
}

// Close stops the loops and closes the connection.
func (f *WSPriceFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

// readLoop stores incoming prices and reconnects with exponential backoff.
func (f *WSPriceFeed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn != nil {
			conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
			_, message, err := conn.ReadMessage()
			if err == nil {
				reconnectDelay = f.config.ReconnectDelay
				f.handleMessage(message)
				continue
			}
			if f.closed.Load() {
				return
			}
			f.log.Warn("price stream read failed", zap.Error(err))

			conn.Close()
			f.connMu.Lock()
			f.conn = nil
			f.connMu.Unlock()
		}

		select {
		case <-f.done:
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > f.config.MaxReconnectDelay {
			reconnectDelay = f.config.MaxReconnectDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := f.connect(ctx)
		cancel()
		if err != nil {
			f.log.Warn("price stream reconnect failed", zap.Error(err))
		}
	}
}

func (f *WSPriceFeed) handleMessage(message []byte) {
	var msg wsPriceMessage
	if err := json.Unmarshal(message, &msg); err != nil || msg.Pair == "" {
		return
	}
	if !msg.Price.IsPositive() {
		return
	}

	f.pricesMu.Lock()
	f.prices[msg.Pair] = priceTick{price: msg.Price, at: f.now()}
	f.pricesMu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (f *WSPriceFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}
