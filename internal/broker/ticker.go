package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
	"simtrader/pkg/utils"
)

const (
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 64 * 1024
	handshakeTimeout  = 10 * time.Second
	maxReconnectDelay = 30 * time.Second
)

// Frame is one push channel message: {"event": ..., "data": {...}}.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame for event.
func NewFrame(event string, data interface{}) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("marshaling %s frame: %w", event, err)
	}
	return Frame{Event: event, Data: raw}, nil
}

// SymbolData is the payload of subscribe and unsubscribe frames.
type SymbolData struct {
	Symbol string `json:"symbol"`
}

// PriceUpdate is the payload of a price_update frame. Timestamp is unix seconds.
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp,omitempty"`
}

// ErrorData is the payload of a server error frame.
type ErrorData struct {
	Message string `json:"message"`
}

// WSTicker implements Ticker over a single gorilla websocket connection.
type WSTicker struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger

	// Handlers
	onTick       func(models.PriceTick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()

	// State
	conn *websocket.Conn
	// stop is non-nil between Connect and Disconnect; closing it cancels reconnection.
	stop chan struct{}

	// Reconnection
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // serializes data frames
}

// WSTickerConfig holds configuration for the ticker.
type WSTickerConfig struct {
	URL        string
	Jar        http.CookieJar
	Reconnect  bool
	MaxRetries int
	BaseDelay  time.Duration
	Logger     zerolog.Logger
}

// NewWSTicker creates a new push channel client.
func NewWSTicker(cfg WSTickerConfig) *WSTicker {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}

	return &WSTicker{
		url: cfg.URL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
			Jar:              cfg.Jar,
		},
		logger:     logging.WithComponent(cfg.Logger, "ticker"),
		reconnect:  cfg.Reconnect,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Connect dials the push channel. Calling it while connected or reconnecting is a no-op.
// With reconnection enabled a failed first dial is retried in the background;
// the dial error is still returned.
func (t *WSTicker) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	if err := t.dial(ctx, stop); err != nil {
		if t.reconnect && ctx.Err() == nil {
			// Keep stop so a later Connect stays a no-op while retrying.
			t.logger.Warn().Err(err).Msg("Push channel unavailable, retrying")
			go t.reconnectLoop(stop)
			return err
		}
		t.mu.Lock()
		if t.stop == stop {
			t.stop = nil
		}
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *WSTicker) dial(ctx context.Context, stop chan struct{}) error {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return apperrors.NewChannelError("connect", err)
	}

	t.mu.Lock()
	if t.stop != stop {
		// Disconnect raced the handshake.
		t.mu.Unlock()
		conn.Close()
		return apperrors.NewChannelError("connect", apperrors.ErrNotConnected)
	}
	t.conn = conn
	onConnect := t.onConnect
	t.mu.Unlock()

	done := make(chan struct{})
	go t.readLoop(conn, done, stop)
	go t.pingLoop(conn, done)

	t.logger.Info().Str("url", t.url).Msg("Push channel connected")

	if onConnect != nil {
		onConnect()
	}
	return nil
}

// Disconnect closes the connection and cancels any pending reconnection.
func (t *WSTicker) Disconnect() error {
	t.mu.Lock()
	stop := t.stop
	conn := t.conn
	t.stop = nil
	t.conn = nil
	onDisconnect := t.onDisconnect
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	if conn == nil {
		return nil
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	err := conn.Close()

	t.logger.Info().Msg("Push channel disconnected")

	if onDisconnect != nil {
		onDisconnect()
	}
	return err
}

// Subscribe asks the server to stream prices for symbol.
func (t *WSTicker) Subscribe(symbol string) error {
	return t.send(EventSubscribe, symbol)
}

// Unsubscribe stops the price stream for symbol.
func (t *WSTicker) Unsubscribe(symbol string) error {
	return t.send(EventUnsubscribe, symbol)
}

func (t *WSTicker) send(event, symbol string) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return apperrors.NewChannelError(event, apperrors.ErrNotConnected)
	}

	frame, err := NewFrame(event, SymbolData{Symbol: symbol})
	if err != nil {
		return apperrors.NewChannelError(event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return apperrors.NewChannelError(event, err)
	}
	return nil
}

// OnTick sets the tick handler. It runs on the read goroutine.
func (t *WSTicker) OnTick(handler func(models.PriceTick)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onTick = handler
}

// OnError sets the error handler.
func (t *WSTicker) OnError(handler func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onError = handler
}

// OnConnect sets the connect handler. It fires after the first connect and
// after every successful reconnect.
func (t *WSTicker) OnConnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (t *WSTicker) OnDisconnect(handler func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDisconnect = handler
}

// IsConnected returns whether the ticker holds a live connection.
func (t *WSTicker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

func (t *WSTicker) readLoop(conn *websocket.Conn, done chan struct{}, stop chan struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var readErr error
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		t.handleMessage(message)
	}

	conn.Close()

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	active := t.stop == stop
	onDisconnect := t.onDisconnect
	t.mu.Unlock()

	if !active {
		return
	}

	t.emitError(apperrors.NewChannelError("read", readErr))
	if onDisconnect != nil {
		onDisconnect()
	}

	if t.reconnect {
		go t.reconnectLoop(stop)
		return
	}

	t.mu.Lock()
	if t.stop == stop {
		t.stop = nil
	}
	t.mu.Unlock()
}

func (t *WSTicker) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (t *WSTicker) handleMessage(message []byte) {
	var frame Frame
	if err := json.Unmarshal(message, &frame); err != nil {
		t.emitError(apperrors.NewChannelError("decode", err))
		return
	}

	switch frame.Event {
	case EventPriceUpdate:
		var update PriceUpdate
		if err := json.Unmarshal(frame.Data, &update); err != nil {
			t.emitError(apperrors.NewChannelError("decode", err))
			return
		}
		tick := convertTick(update)
		if tick.Symbol == "" {
			return
		}

		t.mu.RLock()
		onTick := t.onTick
		t.mu.RUnlock()

		logging.LogTick(t.logger, tick.Symbol, tick.Price)
		if onTick != nil {
			onTick(tick)
		}

	case EventError:
		var data ErrorData
		_ = json.Unmarshal(frame.Data, &data)
		t.emitError(apperrors.NewChannelError("server", apperrors.New(data.Message)))

	default:
		t.logger.Debug().Str("event", frame.Event).RawJSON("data", nonEmpty(frame.Data)).Msg("Push event")
	}
}

// reconnectLoop redials with exponential backoff until it succeeds, runs out
// of attempts, or Disconnect closes stop.
func (t *WSTicker) reconnectLoop(stop chan struct{}) {
	for attempt := 0; attempt < t.maxRetries; attempt++ {
		delay := utils.CalculateBackoff(attempt, t.baseDelay, maxReconnectDelay, 2.0)

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		err := t.dial(ctx, stop)
		cancel()
		if err == nil {
			t.logger.Info().Int("attempt", attempt+1).Msg("Push channel reconnected")
			return
		}

		t.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("Reconnect failed")
	}

	t.mu.Lock()
	if t.stop == stop {
		t.stop = nil
	}
	t.mu.Unlock()

	t.emitError(apperrors.NewChannelError("reconnect", fmt.Errorf("max reconnection attempts reached")))
}

func (t *WSTicker) emitError(err error) {
	t.logger.Warn().Err(err).Msg("Push channel error")

	t.mu.RLock()
	onError := t.onError
	t.mu.RUnlock()

	if onError != nil {
		onError(err)
	}
}

// convertTick converts a wire price update to our model.
func convertTick(u PriceUpdate) models.PriceTick {
	ts := time.Now()
	if u.Timestamp > 0 {
		sec, frac := math.Modf(u.Timestamp)
		ts = time.Unix(int64(sec), int64(frac*1e9))
	}
	return models.PriceTick{
		Symbol:    models.NormalizeSymbol(u.Symbol),
		Price:     u.Price,
		Timestamp: ts,
	}
}

func nonEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// Ensure WSTicker implements Ticker interface
var _ Ticker = (*WSTicker)(nil)
