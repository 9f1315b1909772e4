package views

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// DefaultHistoryLimit is the number of transactions requested when no limit is configured.
const DefaultHistoryLimit = 50

// TransactionFetcher loads executed trades, newest first.
type TransactionFetcher interface {
	Transactions(ctx context.Context, limit int) ([]models.Transaction, error)
}

// History is the local view of recent transactions.
type History struct {
	fetcher TransactionFetcher
	limit   int
	logger  zerolog.Logger

	mu           sync.RWMutex
	transactions []models.Transaction
	generation   uint64
}

// NewHistory creates an empty history view.
func NewHistory(fetcher TransactionFetcher, limit int, logger zerolog.Logger) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{
		fetcher: fetcher,
		limit:   limit,
		logger:  logging.WithComponent(logger, "history"),
	}
}

// Refresh refetches the history and replaces the local copy.
func (h *History) Refresh(ctx context.Context) error {
	h.mu.Lock()
	h.generation++
	gen := h.generation
	h.mu.Unlock()

	txs, err := h.fetcher.Transactions(ctx, h.limit)
	if err != nil {
		h.logger.Warn().Err(err).Msg("History refresh failed")
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.generation {
		return nil
	}
	h.transactions = append([]models.Transaction(nil), txs...)
	return nil
}

// Snapshot returns a copy of the transactions.
func (h *History) Snapshot() []models.Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]models.Transaction(nil), h.transactions...)
}

// Limit returns the number of transactions requested per refresh.
func (h *History) Limit() int {
	return h.limit
}

// Reset empties the view.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
	h.transactions = nil
}
