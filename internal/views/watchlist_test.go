package views

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/models"
	"simtrader/internal/testutils"
)

func TestWatchlist_AddRefetches(t *testing.T) {
	b := testutils.NewFakeBackend()
	rec := &countingReconciler{}
	w := NewWatchlist(b, rec, zerolog.Nop())
	ctx := context.Background()

	msg, err := w.Add(ctx, "aapl")
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if msg != "AAPL added to watchlist" {
		t.Errorf("message = %q", msg)
	}
	if got := b.RequestLog(); !reflect.DeepEqual(got, []string{"AddToWatchlist:AAPL", "Watchlist:"}) {
		t.Errorf("requests = %v", got)
	}
	if !w.Contains("AAPL") || rec.count() != 1 {
		t.Errorf("entries = %+v, reconciles = %d", w.Snapshot(), rec.count())
	}
	if e := w.Snapshot()[0]; e.Name != "Apple Inc." || e.Price != 150 {
		t.Errorf("entry = %+v", e)
	}
}

func TestWatchlist_RejectedLeavesView(t *testing.T) {
	b := testutils.NewFakeBackend()
	b.WatchlistSet = []string{"MSFT"}
	w := NewWatchlist(b, nil, zerolog.Nop())
	ctx := context.Background()
	if err := w.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := w.Add(ctx, "MSFT")
	var rej *apperrors.RejectedError
	if !errors.As(err, &rej) || rej.Message != "Stock already in watchlist" {
		t.Fatalf("error = %v, want RejectedError", err)
	}
	if n := b.CallCount("Watchlist"); n != 1 {
		t.Errorf("watchlist fetches = %d, want 1", n)
	}

	if _, err := w.Remove(ctx, "MSFT"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(w.Symbols()) != 0 {
		t.Errorf("Symbols() = %v after remove", w.Symbols())
	}
}

func TestWatchlist_LogsSymbol(t *testing.T) {
	var buf bytes.Buffer
	b := testutils.NewFakeBackend()
	b.WatchlistSet = []string{"MSFT"}
	w := NewWatchlist(b, nil, zerolog.New(&buf))
	ctx := context.Background()

	if _, err := w.Add(ctx, "AAPL"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(ctx, "MSFT"); err == nil {
		t.Fatal("duplicate add accepted")
	}

	out := buf.String()
	for _, want := range []string{`"symbol":"AAPL"`, `"message":"AAPL added to watchlist"`, `"symbol":"MSFT"`, `"message":"Watchlist update failed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

func TestWatchlist_EmptySymbol(t *testing.T) {
	b := testutils.NewFakeBackend()
	w := NewWatchlist(b, nil, zerolog.Nop())

	_, err := w.Add(context.Background(), " ")
	var valErr *apperrors.ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if len(b.RequestLog()) != 0 {
		t.Error("request sent for empty symbol")
	}
}

func TestWatchlist_ApplyTickPatchesPriceOnly(t *testing.T) {
	b := testutils.NewFakeBackend()
	b.WatchlistSet = []string{"AAPL", "TSLA"}
	w := NewWatchlist(b, nil, zerolog.Nop())
	if err := w.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := w.Snapshot()

	var notified [][]models.WatchlistEntry
	w.OnChange(func(e []models.WatchlistEntry) { notified = append(notified, e) })

	w.ApplyTick(models.PriceTick{Symbol: "TSLA", Price: 255})
	w.ApplyTick(models.PriceTick{Symbol: "GOOGL", Price: 1})

	after := w.Snapshot()
	if !reflect.DeepEqual(after[0], before[0]) {
		t.Errorf("AAPL changed: %+v", after[0])
	}
	want := before[1]
	want.Price = 255
	if !reflect.DeepEqual(after[1], want) {
		t.Errorf("TSLA = %+v, want %+v", after[1], want)
	}
	if len(notified) != 1 {
		t.Errorf("notified %d times, want 1", len(notified))
	}
}

func TestWatchlist_Reset(t *testing.T) {
	b := testutils.NewFakeBackend()
	b.WatchlistSet = []string{"AAPL"}
	w := NewWatchlist(b, nil, zerolog.Nop())
	if err := w.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Reset()
	if len(w.Snapshot()) != 0 || w.Contains("AAPL") {
		t.Error("entries kept after Reset")
	}
}
