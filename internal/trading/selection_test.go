package trading

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/models"
	"simtrader/internal/testutils"
)

type countingReconciler struct {
	mu    sync.Mutex
	calls int
}

func (r *countingReconciler) Reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func (r *countingReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestSelection_SelectReconcilesAndNotifies(t *testing.T) {
	b := testutils.NewFakeBackend()
	rec := &countingReconciler{}
	s := NewSelection(b, rec, zerolog.Nop())

	var seen []string
	s.OnChange(func(st models.Stock, ok bool) {
		if ok {
			seen = append(seen, st.Symbol)
		}
	})

	if err := s.Select(context.Background(), " msft "); err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	cur, ok := s.Current()
	if !ok || cur.Symbol != "MSFT" || cur.Price != 320 {
		t.Errorf("Current() = %+v, %v", cur, ok)
	}
	if rec.count() != 1 {
		t.Errorf("reconcile calls = %d, want 1", rec.count())
	}
	if len(seen) != 1 || seen[0] != "MSFT" {
		t.Errorf("notified = %v", seen)
	}
	if got := s.Symbols(); len(got) != 1 || got[0] != "MSFT" {
		t.Errorf("Symbols() = %v", got)
	}
}

func TestSelection_FailureKeepsState(t *testing.T) {
	b := testutils.NewFakeBackend()
	rec := &countingReconciler{}
	s := NewSelection(b, rec, zerolog.Nop())
	ctx := context.Background()

	if err := s.Select(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	err := s.Select(ctx, "NOPE")

	var reqErr *apperrors.RequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 404 {
		t.Fatalf("error = %v, want 404 RequestError", err)
	}
	if cur, _ := s.Current(); cur.Symbol != "AAPL" {
		t.Errorf("selection changed after failure: %+v", cur)
	}
	if rec.count() != 1 {
		t.Errorf("reconcile calls = %d, want 1", rec.count())
	}
}

func TestSelection_LogsSymbol(t *testing.T) {
	var buf bytes.Buffer
	s := NewSelection(testutils.NewFakeBackend(), nil, zerolog.New(&buf).Level(zerolog.DebugLevel))
	ctx := context.Background()

	if err := s.Select(ctx, "MSFT"); err != nil {
		t.Fatal(err)
	}
	if err := s.Select(ctx, "NOPE"); err == nil {
		t.Fatal("expected error for unknown symbol")
	}

	out := buf.String()
	for _, want := range []string{`"symbol":"MSFT"`, `"message":"Stock selected"`, `"symbol":"NOPE"`, `"message":"Stock info failed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestSelection_EmptySymbol(t *testing.T) {
	b := testutils.NewFakeBackend()
	s := NewSelection(b, nil, zerolog.Nop())

	err := s.Select(context.Background(), "  ")
	var valErr *apperrors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(b.RequestLog()) != 0 {
		t.Error("request sent for empty symbol")
	}
}

func TestSelection_LastSelectWins(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	b := testutils.NewFakeBackend()
	b.StockInfoFn = func(ctx context.Context, symbol string) (*models.Stock, error) {
		if symbol == "AAPL" {
			close(entered)
			<-release
		}
		return &models.Stock{Symbol: symbol, Price: 1}, nil
	}
	s := NewSelection(b, nil, zerolog.Nop())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- s.Select(ctx, "AAPL") }()
	<-entered

	if err := s.Select(ctx, "TSLA"); err != nil {
		t.Fatal(err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("superseded Select() error = %v", err)
	}

	if cur, _ := s.Current(); cur.Symbol != "TSLA" {
		t.Errorf("Current() = %s, want TSLA", cur.Symbol)
	}
}

func TestSelection_ApplyTick(t *testing.T) {
	b := testutils.NewFakeBackend()
	s := NewSelection(b, nil, zerolog.Nop())

	// no selection: no-op
	s.ApplyTick(models.PriceTick{Symbol: "AAPL", Price: 151})
	if _, ok := s.Current(); ok {
		t.Fatal("tick created a selection")
	}

	if err := s.Select(context.Background(), "AAPL"); err != nil {
		t.Fatal(err)
	}

	notified := 0
	s.OnChange(func(models.Stock, bool) { notified++ })

	s.ApplyTick(models.PriceTick{Symbol: "MSFT", Price: 999})
	s.ApplyTick(models.PriceTick{Symbol: "AAPL", Price: 152.5})

	cur, _ := s.Current()
	if cur.Price != 152.5 {
		t.Errorf("price = %v, want 152.5", cur.Price)
	}
	if cur.Name != "Apple Inc." || cur.Change != 1.5 {
		t.Errorf("tick touched more than price: %+v", cur)
	}
	if notified != 1 {
		t.Errorf("notified = %d, want 1", notified)
	}
}

func TestSelection_ClearDropsInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	b := testutils.NewFakeBackend()
	b.StockInfoFn = func(ctx context.Context, symbol string) (*models.Stock, error) {
		close(entered)
		<-release
		return &models.Stock{Symbol: symbol, Price: 1}, nil
	}
	s := NewSelection(b, nil, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- s.Select(context.Background(), "AAPL") }()
	<-entered
	s.Clear()
	close(release)
	<-done

	if _, ok := s.Current(); ok {
		t.Error("response applied after Clear")
	}
	if s.Symbols() != nil {
		t.Errorf("Symbols() = %v", s.Symbols())
	}
}
