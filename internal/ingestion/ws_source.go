package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"lending-index/internal/chain"
)

// WSSourceConfig configures WebSocket source behavior.
type WSSourceConfig struct {
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
}

// DefaultWSSourceConfig returns default WebSocket source configuration.
func DefaultWSSourceConfig() WSSourceConfig {
	return WSSourceConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// wsSubscribeRequest asks the feed for events from the comptroller and the
// named market contracts.
type wsSubscribeRequest struct {
	Op      string   `json:"op"`
	Markets []string `json:"markets"`
}

// wsAddMarketRequest extends a live subscription with one more market.
type wsAddMarketRequest struct {
	Op     string `json:"op"`
	Market string `json:"market"`
}

// WSEventSource provides real-time typed events over a WebSocket feed. It
// also implements chain.Registry: markets listed mid-stream are added to the
// live subscription so their logs start flowing immediately.
type WSEventSource struct {
	endpoint string
	config   WSSourceConfig
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// markets is the current subscription set, kept for resubscription after
	// reconnect.
	markets   []common.Address
	marketsMu sync.RWMutex

	events chan chain.Event
	done   chan struct{}
	wg     sync.WaitGroup

	reconnecting atomic.Bool
}

var _ chain.Registry = (*WSEventSource)(nil)

// NewWSEventSource creates a WebSocket event source and connects to the
// endpoint. markets is the initial subscription set, usually the markets
// already known from storage.
func NewWSEventSource(ctx context.Context, endpoint string, markets []common.Address, config *WSSourceConfig, logger *log.Logger) (*WSEventSource, error) {
	cfg := DefaultWSSourceConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	s := &WSEventSource{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		markets:  append([]common.Address(nil), markets...),
		events:   make(chan chain.Event, 1024),
		done:     make(chan struct{}),
	}

	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	if err := s.sendSubscribe(); err != nil {
		s.conn.Close()
		return nil, err
	}
	return s, nil
}

// Subscribe starts the read and ping loops and returns the event channel.
// The channel is closed on shutdown.
func (s *WSEventSource) Subscribe(ctx context.Context) (<-chan chain.Event, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("source closed")
	}

	s.wg.Add(1)
	go s.readLoop()

	s.wg.Add(1)
	go s.pingLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s.events, nil
}

// RegisterMarket adds a market to the live subscription. Failures are logged,
// not returned: the subscription set is persisted through the reconnect
// resubscribe, and the feed replays the listing block on reconnect.
func (s *WSEventSource) RegisterMarket(market common.Address) {
	s.marketsMu.Lock()
	for _, m := range s.markets {
		if m == market {
			s.marketsMu.Unlock()
			return
		}
	}
	s.markets = append(s.markets, market)
	s.marketsMu.Unlock()

	if err := s.writeJSON(wsAddMarketRequest{Op: "add_market", Market: chain.AddressID(market)}); err != nil {
		s.logger.Printf("WARN: add_market %s failed: %v", chain.AddressID(market), err)
	}
}

// Close closes the connection and the event channel.
func (s *WSEventSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()
	close(s.events)
	return nil
}

// connect establishes the WebSocket connection.
func (s *WSEventSource) connect(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	s.conn = conn
	return nil
}

// sendSubscribe sends the full current subscription set.
func (s *WSEventSource) sendSubscribe() error {
	s.marketsMu.RLock()
	markets := make([]string, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, chain.AddressID(m))
	}
	s.marketsMu.RUnlock()

	return s.writeJSON(wsSubscribeRequest{Op: "subscribe", Markets: markets})
}

func (s *WSEventSource) writeJSON(v interface{}) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("not connected")
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return s.conn.WriteJSON(v)
}

// readLoop reads messages and forwards decoded events, reconnecting with
// exponential backoff on connection errors.
func (s *WSEventSource) readLoop() {
	defer s.wg.Done()

	reconnectDelay := s.config.ReconnectDelay

	for !s.closed.Load() {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if s.closed.Load() {
				return
			}

			if !s.reconnecting.Swap(true) {
				go s.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > s.config.MaxReconnectDelay {
				reconnectDelay = s.config.MaxReconnectDelay
			}

			select {
			case <-s.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = s.config.ReconnectDelay

		s.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (s *WSEventSource) reconnect(delay time.Duration) {
	defer s.reconnecting.Store(false)

	if s.closed.Load() {
		return
	}

	select {
	case <-s.done:
		return
	case <-time.After(delay):
	}

	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		return
	}

	if err := s.sendSubscribe(); err != nil {
		s.logger.Printf("WARN: resubscribe failed: %v", err)
	}
}

// handleMessage decodes one envelope and forwards the event. Blocking send:
// events are never dropped, backpressure propagates to the feed.
func (s *WSEventSource) handleMessage(message []byte) {
	var env eventEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Printf("WARN: malformed feed message: %v", err)
		return
	}
	if env.Type == "" {
		// Acks and heartbeats carry no type tag.
		return
	}

	event, err := decodeEnvelope(&env)
	if err != nil {
		s.logger.Printf("WARN: dropping envelope tx=%s log=%d: %v", env.TxHash, env.LogIndex, err)
		return
	}

	select {
	case s.events <- event:
	case <-s.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (s *WSEventSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			s.connMu.Unlock()
		}
	}
}
