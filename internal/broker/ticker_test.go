package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/models"
)

// pushServer is a minimal push channel endpoint for tests.
type pushServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	cookies []string

	frames   chan Frame
	accepted chan *websocket.Conn

	// rejects is the number of handshakes still to refuse with 503.
	rejects atomic.Int32
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		frames:   make(chan Frame, 64),
		accepted: make(chan *websocket.Conn, 8),
	}
	ps.srv = httptest.NewServer(http.HandlerFunc(ps.handle))
	t.Cleanup(func() {
		ps.mu.Lock()
		for _, c := range ps.conns {
			c.Close()
		}
		ps.mu.Unlock()
		ps.srv.Close()
	})
	return ps
}

func (ps *pushServer) handle(w http.ResponseWriter, r *http.Request) {
	if ps.rejects.Add(-1) >= 0 {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := ps.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ps.mu.Lock()
	ps.conns = append(ps.conns, conn)
	if c, err := r.Cookie("session"); err == nil {
		ps.cookies = append(ps.cookies, c.Value)
	}
	ps.mu.Unlock()
	ps.accepted <- conn

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		ps.frames <- f
	}
}

func (ps *pushServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http")
}

func (ps *pushServer) push(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	f, err := NewFrame(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(f); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func waitConn(t *testing.T, ch chan *websocket.Conn) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func waitFrame(t *testing.T, ch chan Frame) Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return Frame{}
	}
}

func TestWSTicker_SubscribeAndTick(t *testing.T) {
	ps := newPushServer(t)
	ticker := NewWSTicker(WSTickerConfig{URL: ps.wsURL(), Logger: zerolog.Nop()})

	ticks := make(chan models.PriceTick, 1)
	ticker.OnTick(func(tick models.PriceTick) { ticks <- tick })

	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer ticker.Disconnect()

	conn := waitConn(t, ps.accepted)
	if !ticker.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}

	if err := ticker.Subscribe("AAPL"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	f := waitFrame(t, ps.frames)
	if f.Event != EventSubscribe || !strings.Contains(string(f.Data), `"AAPL"`) {
		t.Errorf("unexpected frame %s %s", f.Event, f.Data)
	}

	if err := ticker.Unsubscribe("AAPL"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if f := waitFrame(t, ps.frames); f.Event != EventUnsubscribe {
		t.Errorf("event = %s, want %s", f.Event, EventUnsubscribe)
	}

	ps.push(t, conn, EventSubscribed, map[string]string{"symbol": "AAPL"})
	ps.push(t, conn, EventPriceUpdate, PriceUpdate{Symbol: "aapl", Price: 155.25, Timestamp: 1700000000.5})

	select {
	case tick := <-ticks:
		if tick.Symbol != "AAPL" || tick.Price != 155.25 {
			t.Errorf("unexpected tick %+v", tick)
		}
		if tick.Timestamp.Unix() != 1700000000 {
			t.Errorf("timestamp = %v", tick.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
}

func TestWSTicker_ServerErrorEvent(t *testing.T) {
	ps := newPushServer(t)
	ticker := NewWSTicker(WSTickerConfig{URL: ps.wsURL(), Logger: zerolog.Nop()})

	errs := make(chan error, 1)
	ticker.OnError(func(err error) { errs <- err })

	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ticker.Disconnect()

	conn := waitConn(t, ps.accepted)
	ps.push(t, conn, EventError, ErrorData{Message: "Invalid stock symbol"})

	select {
	case err := <-errs:
		var chErr *apperrors.ChannelError
		if !errors.As(err, &chErr) || !strings.Contains(err.Error(), "Invalid stock symbol") {
			t.Errorf("error = %v, want ChannelError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
}

func TestWSTicker_SubscribeWhileDisconnected(t *testing.T) {
	ticker := NewWSTicker(WSTickerConfig{URL: "ws://127.0.0.1:1/ws", Logger: zerolog.Nop()})

	err := ticker.Subscribe("AAPL")
	if !errors.Is(err, apperrors.ErrNotConnected) {
		t.Fatalf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestWSTicker_ConnectFailure(t *testing.T) {
	ticker := NewWSTicker(WSTickerConfig{URL: "ws://127.0.0.1:1/ws", Logger: zerolog.Nop()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := ticker.Connect(ctx)
	var chErr *apperrors.ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("Connect() error = %v, want ChannelError", err)
	}
	if ticker.IsConnected() {
		t.Error("IsConnected() = true after failed Connect")
	}
}

func TestWSTicker_ReconnectFiresOnConnect(t *testing.T) {
	ps := newPushServer(t)
	ticker := NewWSTicker(WSTickerConfig{
		URL:        ps.wsURL(),
		Reconnect:  true,
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})

	connects := make(chan struct{}, 4)
	ticker.OnConnect(func() { connects <- struct{}{} })
	disconnects := make(chan struct{}, 4)
	ticker.OnDisconnect(func() { disconnects <- struct{}{} })

	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ticker.Disconnect()

	first := waitConn(t, ps.accepted)
	<-connects

	// Drop the connection from the server side.
	first.Close()

	select {
	case <-disconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDisconnect not called")
	}

	waitConn(t, ps.accepted)
	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called after reconnect")
	}
}

func TestWSTicker_RetriesFailedFirstDial(t *testing.T) {
	ps := newPushServer(t)
	ps.rejects.Store(2)
	ticker := NewWSTicker(WSTickerConfig{
		URL:        ps.wsURL(),
		Reconnect:  true,
		MaxRetries: 5,
		BaseDelay:  10 * time.Millisecond,
		Logger:     zerolog.Nop(),
	})
	defer ticker.Disconnect()

	connects := make(chan struct{}, 4)
	ticker.OnConnect(func() { connects <- struct{}{} })

	err := ticker.Connect(context.Background())
	var chErr *apperrors.ChannelError
	if !errors.As(err, &chErr) {
		t.Fatalf("Connect() error = %v, want ChannelError", err)
	}
	// A second Connect while retrying must not start another dial loop.
	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() while retrying error = %v", err)
	}

	waitConn(t, ps.accepted)
	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatal("OnConnect not called after retry")
	}
	if !ticker.IsConnected() {
		t.Fatal("IsConnected() = false after retry")
	}
	if err := ticker.Subscribe("AAPL"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if f := waitFrame(t, ps.frames); f.Event != EventSubscribe {
		t.Errorf("frame = %+v", f)
	}
}

func TestWSTicker_NoRetryWithoutReconnect(t *testing.T) {
	ps := newPushServer(t)
	ps.rejects.Store(1)
	ticker := NewWSTicker(WSTickerConfig{URL: ps.wsURL(), BaseDelay: 10 * time.Millisecond, Logger: zerolog.Nop()})

	if err := ticker.Connect(context.Background()); err == nil {
		t.Fatal("Connect() succeeded against a refusing server")
	}
	select {
	case <-ps.accepted:
		t.Fatal("ticker redialled with reconnect disabled")
	case <-time.After(100 * time.Millisecond):
	}

	// The failed dial must not leave the ticker stuck in the connecting state.
	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	defer ticker.Disconnect()
	waitConn(t, ps.accepted)
}

func TestWSTicker_NoReconnectAfterDisconnect(t *testing.T) {
	ps := newPushServer(t)
	ticker := NewWSTicker(WSTickerConfig{
		URL:       ps.wsURL(),
		Reconnect: true,
		BaseDelay: 10 * time.Millisecond,
		Logger:    zerolog.Nop(),
	})

	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitConn(t, ps.accepted)

	if err := ticker.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if ticker.IsConnected() {
		t.Error("IsConnected() = true after Disconnect")
	}

	select {
	case <-ps.accepted:
		t.Fatal("ticker reconnected after explicit Disconnect")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWSTicker_ForwardsSessionCookie(t *testing.T) {
	ps := newPushServer(t)

	jar, _ := cookiejar.New(nil)
	u, _ := url.Parse(ps.srv.URL)
	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "abc", Path: "/"}})

	ticker := NewWSTicker(WSTickerConfig{URL: ps.wsURL(), Jar: jar, Logger: zerolog.Nop()})
	if err := ticker.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer ticker.Disconnect()
	waitConn(t, ps.accepted)

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.cookies) != 1 || ps.cookies[0] != "abc" {
		t.Errorf("cookies seen by server = %v", ps.cookies)
	}
}
