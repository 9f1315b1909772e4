package views

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// WatchlistBackend is the watchlist part of the backend.
type WatchlistBackend interface {
	Watchlist(ctx context.Context) ([]models.WatchlistEntry, error)
	AddToWatchlist(ctx context.Context, symbol string) (string, error)
	RemoveFromWatchlist(ctx context.Context, symbol string) (string, error)
}

// Watchlist is the local view of the user's watched symbols.
type Watchlist struct {
	backend    WatchlistBackend
	reconciler Reconciler
	logger     zerolog.Logger

	mu         sync.RWMutex
	entries    []models.WatchlistEntry
	generation uint64
	onChange   []func([]models.WatchlistEntry)
}

// NewWatchlist creates an empty watchlist view.
func NewWatchlist(backend WatchlistBackend, reconciler Reconciler, logger zerolog.Logger) *Watchlist {
	return &Watchlist{
		backend:    backend,
		reconciler: reconciler,
		logger:     logging.WithComponent(logger, "watchlist"),
	}
}

// OnChange registers a callback run after the view changes.
func (w *Watchlist) OnChange(fn func([]models.WatchlistEntry)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Refresh refetches the watchlist and replaces the local copy.
func (w *Watchlist) Refresh(ctx context.Context) error {
	w.mu.Lock()
	w.generation++
	gen := w.generation
	w.mu.Unlock()

	entries, err := w.backend.Watchlist(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("Watchlist refresh failed")
		return err
	}

	w.mu.Lock()
	if gen != w.generation {
		w.mu.Unlock()
		w.logger.Debug().Uint64("generation", gen).Msg("Discarding stale watchlist")
		return nil
	}
	w.entries = append([]models.WatchlistEntry(nil), entries...)
	snapshot := append([]models.WatchlistEntry(nil), w.entries...)
	w.mu.Unlock()

	if w.reconciler != nil {
		w.reconciler.Reconcile()
	}
	w.notify(snapshot)
	return nil
}

// Add watches symbol. The view changes only through the follow-up Refresh.
func (w *Watchlist) Add(ctx context.Context, symbol string) (string, error) {
	return w.mutate(ctx, "add", symbol, w.backend.AddToWatchlist)
}

// Remove stops watching symbol.
func (w *Watchlist) Remove(ctx context.Context, symbol string) (string, error) {
	return w.mutate(ctx, "remove", symbol, w.backend.RemoveFromWatchlist)
}

func (w *Watchlist) mutate(ctx context.Context, op, symbol string, call func(context.Context, string) (string, error)) (string, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", apperrors.NewValidationError("symbol", symbol, "Please select a stock first")
	}

	message, err := call(ctx, symbol)
	if err != nil {
		l := logging.WithSymbol(w.logger, symbol)
		l.Warn().Err(err).Str("op", op).Msg("Watchlist update failed")
		return "", err
	}

	l := logging.WithSymbol(w.logger, symbol)
	l.Info().Str("op", op).Msg(message)
	if err := w.Refresh(ctx); err != nil {
		return message, err
	}
	return message, nil
}

// ApplyTick patches the price of every entry for tick.Symbol.
func (w *Watchlist) ApplyTick(tick models.PriceTick) {
	w.mu.Lock()
	matched := false
	for i := range w.entries {
		if w.entries[i].Symbol == tick.Symbol {
			w.entries[i].Price = tick.Price
			matched = true
		}
	}
	if !matched {
		w.mu.Unlock()
		return
	}
	snapshot := append([]models.WatchlistEntry(nil), w.entries...)
	w.mu.Unlock()

	w.notify(snapshot)
}

// Snapshot returns a copy of the entries.
func (w *Watchlist) Snapshot() []models.WatchlistEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]models.WatchlistEntry(nil), w.entries...)
}

// Symbols returns the watched symbols in display order.
func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, e.Symbol)
	}
	return out
}

// Contains reports whether symbol is watched.
func (w *Watchlist) Contains(symbol string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, e := range w.entries {
		if e.Symbol == symbol {
			return true
		}
	}
	return false
}

// Reset empties the view and invalidates in-flight refreshes.
func (w *Watchlist) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generation++
	w.entries = nil
}

func (w *Watchlist) notify(snapshot []models.WatchlistEntry) {
	w.mu.RLock()
	callbacks := append(([]func([]models.WatchlistEntry))(nil), w.onChange...)
	w.mu.RUnlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
}
