package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/aristath/coffer/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10

	// Streamed metrics older than this are ignored in favor of polling.
	streamStaleThreshold = 5 * time.Minute
)

// StreamClient keeps a live metrics cache fed by the data feed's
// websocket channel, so the collection job can skip a poll round-trip
// when streamed data is fresh.
type StreamClient struct {
	url        string
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	mu         sync.RWMutex

	log zerolog.Logger

	connected    bool
	reconnecting bool
	stopChan     chan struct{}
	stopped      bool

	cache      map[string]domain.VenueMetrics
	lastUpdate time.Time
	cacheMu    sync.RWMutex
}

// NewStreamClient creates a websocket feed client.
func NewStreamClient(url string, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:      url,
		log:      log.With().Str("component", "feed_stream").Logger(),
		cache:    make(map[string]domain.VenueMetrics),
		stopChan: make(chan struct{}),
	}
}

// Start connects and begins reading metric updates. A failed initial
// connection is not fatal: the reconnect loop keeps trying in the
// background while the poller covers the gap.
func (s *StreamClient) Start() error {
	s.log.Info().Msg("Starting feed stream client")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.RLock()
	ctx := s.connCtx
	s.mu.RUnlock()
	go s.readMessages(ctx)

	s.log.Info().Msg("Feed stream client started")
	return nil
}

// Stop gracefully shuts down the stream connection.
func (s *StreamClient) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

func (s *StreamClient) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.log.Info().Str("url", s.url).Msg("Connecting to feed stream")

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial feed stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	if err := s.subscribe(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		s.conn = nil
		s.connCtx = nil
		s.cancelFunc = nil
		s.connected = false
		return fmt.Errorf("failed to subscribe to metrics channel: %w", err)
	}

	s.log.Info().Msg("Connected to feed stream")
	return nil
}

func (s *StreamClient) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing feed stream: %w", err)
	}
	return nil
}

// subscribe sends the subscription message for the metrics channel.
// Feed protocol: ["metrics"]
func (s *StreamClient) subscribe(ctx context.Context) error {
	data, err := json.Marshal([]string{"metrics"})
	if err != nil {
		return fmt.Errorf("failed to marshal subscription message: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to send subscription message: %w", err)
	}
	return nil
}

func (s *StreamClient) readMessages(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop()
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		msgType, message, err := conn.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				s.log.Info().Int("status", int(closeStatus)).Msg("Feed stream closed normally")
			} else if ctx.Err() == nil {
				s.log.Error().Err(err).Msg("Unexpected feed stream read error")
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		if err := s.handleMessage(message); err != nil {
			s.log.Error().Err(err).Msg("Failed to handle feed stream message")
		}
	}
}

// handleMessage parses one streamed update.
// Feed protocol: ["metrics", [observations...]]
func (s *StreamClient) handleMessage(message []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(message, &raw); err != nil {
		return fmt.Errorf("failed to parse message array: %w", err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("message array too short: expected 2 elements, got %d", len(raw))
	}

	var channel string
	if err := json.Unmarshal(raw[0], &channel); err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}
	if channel != "metrics" {
		return nil
	}

	var updates []domain.VenueMetrics
	if err := json.Unmarshal(raw[1], &updates); err != nil {
		return fmt.Errorf("failed to parse metrics payload: %w", err)
	}
	if len(updates) == 0 {
		return nil
	}

	s.cacheMu.Lock()
	for _, m := range updates {
		if m.CollectedAt.IsZero() {
			m.CollectedAt = time.Now()
		}
		s.cache[m.VenueID] = m
	}
	s.lastUpdate = time.Now()
	s.cacheMu.Unlock()

	s.log.Debug().Int("venue_count", len(updates)).Msg("Feed stream cache updated")
	return nil
}

func (s *StreamClient) reconnectLoop() {
	s.mu.Lock()
	if s.reconnecting || s.stopped {
		s.mu.Unlock()
		return
	}
	s.reconnecting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reconnecting = false
		s.mu.Unlock()
	}()

	attempt := 0
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := calculateBackoff(attempt)
		if attempt <= maxReconnectAttempts {
			s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnecting to feed stream")
		} else {
			s.log.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("Reconnection attempt past max, will keep retrying")
		}

		select {
		case <-time.After(delay):
		case <-s.stopChan:
			return
		}

		if err := s.connect(); err != nil {
			s.log.Error().Err(err).Int("attempt", attempt).Msg("Feed stream reconnection failed")
			continue
		}

		s.log.Info().Int("attempt", attempt).Msg("Reconnected to feed stream")

		s.mu.RLock()
		ctx := s.connCtx
		s.mu.RUnlock()
		go s.readMessages(ctx)
		return
	}
}

// calculateBackoff calculates exponential backoff delay
func calculateBackoff(attempt int) time.Duration {
	delay := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxReconnectDelay) {
		delay = float64(maxReconnectDelay)
	}
	return time.Duration(delay)
}

// CachedMetrics returns the streamed metrics snapshot, or nil when the
// cache is stale or empty.
func (s *StreamClient) CachedMetrics() []domain.VenueMetrics {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	if s.lastUpdate.IsZero() || time.Since(s.lastUpdate) > streamStaleThreshold {
		return nil
	}

	out := make([]domain.VenueMetrics, 0, len(s.cache))
	for _, m := range s.cache {
		out = append(out, m)
	}
	return out
}

// IsConnected returns current connection status
func (s *StreamClient) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}
