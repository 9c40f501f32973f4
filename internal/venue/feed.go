// Package venue
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/amirphl/cross-trader/internal/notification"
)

// ConnectionState represents the state of the websocket connection
// (for health checks and monitoring)
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

// feedTrade is a trade message from the Wallex broadcaster.
type feedTrade struct {
	IsBuyOrder bool      `json:"isBuyOrder"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}

// subscribeMessage is used to subscribe to a channel via Socket.IO,
// e.g. {"channel": "USDTTMN@trade"}
type subscribeMessage struct {
	Channel string `json:"channel"`
}

// TradeFeed streams market trades for one symbol over the Wallex websocket
// and forwards each as a custom notification tagged with the owning strategy.
// It reconnects with backoff; the enclosing adapter owns its lifecycle.
type TradeFeed struct {
	mu         sync.RWMutex
	account    string
	strategy   string
	symbol     string // venue symbol, already normalized
	queue      chan<- notification.Notification
	state      ConnectionState
	healthErr  error
	conn       *websocket.Conn
	cancelFunc context.CancelFunc
	closed     bool
}

// NewTradeFeed creates a feed for one venue symbol owned by one strategy.
func NewTradeFeed(account, strategy, symbol string, queue chan<- notification.Notification) *TradeFeed {
	return &TradeFeed{
		account:  account,
		strategy: strategy,
		symbol:   NormalizeSymbol(symbol),
		queue:    queue,
		state:    Disconnected,
	}
}

// IsConnected returns true if the websocket is connected.
func (f *TradeFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state == Connected && f.conn != nil
}

// Health returns the last connection error, if any.
func (f *TradeFeed) Health() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.healthErr
}

// Start connects and streams until Close or context cancellation, with
// reconnect and health tracking.
func (f *TradeFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state = Connecting
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	f.cancelFunc = cancel

	go func() {
		retryDelay := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if err := f.connectAndStream(ctx); err != nil {
					f.mu.Lock()
					f.state = Reconnecting
					f.healthErr = err
					f.mu.Unlock()
					venueLog.Warnf("feed %s disconnected, retrying in %v: %v", f.symbol, retryDelay, err)
					time.Sleep(retryDelay)
					if retryDelay < 60*time.Second {
						retryDelay *= 2
					} else {
						retryDelay = 60 * time.Second
					}
					continue
				}
				return
			}
		}
	}()
}

// Close stops the feed.
func (f *TradeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	if f.cancelFunc != nil {
		f.cancelFunc()
	}
	if f.conn != nil {
		f.conn.Close()
	}
}

// connectAndStream handles a single websocket connection session.
func (f *TradeFeed) connectAndStream(ctx context.Context) error {
	f.mu.Lock()
	f.state = Connecting
	f.healthErr = nil
	f.mu.Unlock()

	u := url.URL{Scheme: "wss", Host: "api.wallex.ir", Path: "/socket.io/"}
	query := u.Query()
	query.Set("EIO", "4")
	query.Set("transport", "websocket")
	u.RawQuery = query.Encode()

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.conn = c
	f.state = Connected
	f.mu.Unlock()

	venueLog.Infof("feed %s connected", f.symbol)
	defer func() {
		c.Close()
		f.mu.Lock()
		f.conn = nil
		f.state = Disconnected
		f.mu.Unlock()
	}()

	// Socket.IO connect message, then subscribe once the handshake completes.
	if err := c.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			c.SetReadDeadline(time.Now().Add(30 * time.Second))
			_, message, err := c.ReadMessage()
			if err != nil {
				return err
			}
			msgStr := string(message)
			if msgStr == "2" {
				// Socket.IO ping, respond with pong
				c.WriteMessage(websocket.TextMessage, []byte("3"))
				continue
			}
			if msgStr == "40" {
				if err := f.subscribe(c); err != nil {
					return err
				}
				continue
			}
			if len(msgStr) >= 2 && msgStr[:2] == "42" {
				f.handleEvent(msgStr[2:])
			}
		}
	}
}

func (f *TradeFeed) subscribe(c *websocket.Conn) error {
	msg := subscribeMessage{Channel: f.symbol + "@trade"}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	socketIOMsg := fmt.Sprintf(`42["subscribe",%s]`, string(payload))
	if err := c.WriteMessage(websocket.TextMessage, []byte(socketIOMsg)); err != nil {
		return err
	}
	venueLog.Infof("feed subscribed to %s@trade", f.symbol)
	return nil
}

// handleEvent parses a Socket.IO event and forwards matching trades.
func (f *TradeFeed) handleEvent(jsonPart string) {
	var eventArray []interface{}
	if err := json.Unmarshal([]byte(jsonPart), &eventArray); err != nil {
		return
	}
	if len(eventArray) < 3 {
		return
	}
	eventName, ok := eventArray[0].(string)
	if !ok || eventName != "Broadcaster" {
		return
	}
	channel, ok := eventArray[1].(string)
	if !ok || channel != f.symbol+"@trade" {
		return
	}
	dataJSON, err := json.Marshal(eventArray[2])
	if err != nil {
		return
	}
	var trade feedTrade
	if err := json.Unmarshal(dataJSON, &trade); err != nil {
		return
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return
	}
	qty, err := decimal.NewFromString(trade.Quantity)
	if err != nil {
		return
	}

	n := notification.Notification{
		ID:       fmt.Sprintf("%s-%d", f.symbol, trade.Timestamp.UnixNano()),
		Kind:     notification.KindCustom,
		Strategy: f.strategy,
		Account:  f.account,
		Time:     trade.Timestamp.UTC(),
		Custom: map[string]any{
			"event":  "trade",
			"symbol": f.symbol,
			"price":  price,
			"qty":    qty,
			"buy":    trade.IsBuyOrder,
		},
	}

	// The shared queue blocks on overflow rather than dropping; backpressure
	// lands here on the feed's delivery goroutine.
	if f.queue != nil {
		f.queue <- n
	}
}

// NormalizeSymbol converts e.g. btc-usdt to BTCUSDT for the Wallex API.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "-", ""))
}

// ExtractBaseCurrency extracts the base currency from a trading symbol,
// e.g. "BTC-USDT" -> "BTC".
func ExtractBaseCurrency(symbol string) string {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 {
		parts = strings.Split(symbol, "-")
		if len(parts) != 2 {
			return ""
		}
	}
	return parts[0]
}
