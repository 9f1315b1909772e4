package trading

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// StockFetcher loads the detail view of a symbol.
type StockFetcher interface {
	StockInfo(ctx context.Context, symbol string) (*models.Stock, error)
}

// Reconciler recomputes subscriptions after the selection changes.
type Reconciler interface {
	Reconcile()
}

// Selection is the focused stock and its live price.
type Selection struct {
	fetcher    StockFetcher
	reconciler Reconciler
	logger     zerolog.Logger

	mu         sync.RWMutex
	current    *models.Stock
	generation uint64
	onChange   []func(models.Stock, bool)
}

// NewSelection creates an empty selection.
func NewSelection(fetcher StockFetcher, reconciler Reconciler, logger zerolog.Logger) *Selection {
	return &Selection{
		fetcher:    fetcher,
		reconciler: reconciler,
		logger:     logging.WithComponent(logger, "selection"),
	}
}

// OnChange registers a callback run after the selection or its price changes.
// The bool is false when the selection was cleared.
func (s *Selection) OnChange(fn func(models.Stock, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Select fetches symbol and makes it the selection. When selects overlap,
// the last one issued wins and earlier responses are dropped.
func (s *Selection) Select(ctx context.Context, symbol string) error {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return apperrors.NewValidationError("symbol", symbol, "Please enter a stock symbol")
	}

	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	stock, err := s.fetcher.StockInfo(ctx, symbol)
	if err != nil {
		l := logging.WithSymbol(s.logger, symbol)
		l.Warn().Err(err).Msg("Stock info failed")
		return err
	}

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		l := logging.WithSymbol(s.logger, symbol)
		l.Debug().Msg("Discarding superseded selection")
		return nil
	}
	selected := *stock
	s.current = &selected
	s.mu.Unlock()

	l := logging.WithSymbol(s.logger, selected.Symbol)
	l.Debug().Float64("price", selected.Price).Msg("Stock selected")

	if s.reconciler != nil {
		s.reconciler.Reconcile()
	}
	s.notify(selected, true)
	return nil
}

// ApplyTick patches the price of the selected stock if the symbol matches.
func (s *Selection) ApplyTick(tick models.PriceTick) {
	s.mu.Lock()
	if s.current == nil || s.current.Symbol != tick.Symbol {
		s.mu.Unlock()
		return
	}
	s.current.Price = tick.Price
	stock := *s.current
	s.mu.Unlock()

	s.notify(stock, true)
}

// Current returns the selected stock, if any.
func (s *Selection) Current() (models.Stock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Stock{}, false
	}
	return *s.current, true
}

// Symbols returns the selected symbol as a one-element set.
func (s *Selection) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	return []string{s.current.Symbol}
}

// Clear drops the selection and invalidates in-flight selects.
func (s *Selection) Clear() {
	s.mu.Lock()
	s.generation++
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if had {
		s.notify(models.Stock{}, false)
	}
}

func (s *Selection) notify(stock models.Stock, ok bool) {
	s.mu.RLock()
	callbacks := append(([]func(models.Stock, bool))(nil), s.onChange...)
	s.mu.RUnlock()

	for _, fn := range callbacks {
		fn(stock, ok)
	}
}
