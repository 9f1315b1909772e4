package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBreaker_OpensAndProbes(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Second})
	b.now = clock.now

	for i := 0; i < 2; i++ {
		if err := b.allow(); err != nil {
			t.Fatalf("allow() #%d = %v", i, err)
		}
		b.record(true)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN", b.State())
	}
	if err := b.allow(); !errors.Is(err, apperrors.ErrBackendUnavailable) {
		t.Errorf("allow() while open = %v", err)
	}

	clock.advance(time.Second)
	if err := b.allow(); err != nil {
		t.Fatalf("probe refused: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Errorf("state = %s, want HALF_OPEN", b.State())
	}
	if err := b.allow(); !errors.Is(err, apperrors.ErrBackendUnavailable) {
		t.Errorf("second probe allowed: %v", err)
	}

	b.record(true)
	if b.State() != BreakerOpen {
		t.Fatalf("failed probe left state %s", b.State())
	}

	clock.advance(time.Second)
	if err := b.allow(); err != nil {
		t.Fatal(err)
	}
	b.record(false)
	if b.State() != BreakerClosed {
		t.Errorf("state = %s after successful probe", b.State())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := newBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	b.record(true)
	b.record(false)
	b.record(true)
	if b.State() != BreakerClosed {
		t.Errorf("non-consecutive failures opened the breaker")
	}
}

func TestBreaker_ReleaseAllowsNextProbe(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.now = clock.now

	b.record(true)
	clock.advance(time.Second)
	if err := b.allow(); err != nil {
		t.Fatal(err)
	}
	b.release()
	if err := b.allow(); err != nil {
		t.Errorf("allow() after release = %v", err)
	}
}

func TestBreaker_DisabledWithZeroThreshold(t *testing.T) {
	b := newBreaker(BreakerConfig{})
	for i := 0; i < 10; i++ {
		b.record(true)
	}
	if err := b.allow(); err != nil {
		t.Errorf("disabled breaker refused: %v", err)
	}
}

func TestHTTPBackend_BreakerStopsRequests(t *testing.T) {
	var hits, healthy atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if healthy.Load() == 0 {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "message": "db down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "watchlist": []interface{}{}})
	}))
	t.Cleanup(srv.Close)

	b, err := NewHTTPBackend(HTTPConfig{
		BaseURL: srv.URL + "/api",
		Breaker: BreakerConfig{FailureThreshold: 2, Cooldown: 20 * time.Millisecond},
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err = b.Watchlist(ctx)
	}
	if !errors.Is(err, apperrors.ErrBackendUnavailable) {
		t.Fatalf("third call error = %v", err)
	}
	if got := apperrors.UserMessage(err); got != "Backend unavailable. Please try again shortly." {
		t.Errorf("UserMessage() = %q", got)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}

	healthy.Store(1)
	time.Sleep(30 * time.Millisecond)
	if _, err := b.Watchlist(ctx); err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if b.BreakerState() != BreakerClosed {
		t.Errorf("state = %s", b.BreakerState())
	}
}
