package views

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// Prediction day bounds accepted by the backend.
const (
	MinPredictionDays     = 1
	MaxPredictionDays     = 30
	DefaultPredictionDays = 5
)

// InsightFetcher loads AI payloads. The client never interprets them.
type InsightFetcher interface {
	Recommendations(ctx context.Context) (models.Insight, error)
	Predict(ctx context.Context, symbol string, days int) (models.Insight, error)
}

// Insights caches the latest recommendations and one prediction per symbol.
type Insights struct {
	fetcher InsightFetcher
	logger  zerolog.Logger

	mu              sync.RWMutex
	recommendations models.Insight
	predictions     map[string]models.Insight
	generation      uint64
}

// NewInsights creates an empty insight cache.
func NewInsights(fetcher InsightFetcher, logger zerolog.Logger) *Insights {
	return &Insights{
		fetcher:     fetcher,
		logger:      logging.WithComponent(logger, "insights"),
		predictions: make(map[string]models.Insight),
	}
}

// Recommendations fetches and stores the latest recommendation list.
func (in *Insights) Recommendations(ctx context.Context) (models.Insight, error) {
	in.mu.RLock()
	gen := in.generation
	in.mu.RUnlock()

	raw, err := in.fetcher.Recommendations(ctx)
	if err != nil {
		in.logger.Warn().Err(err).Msg("Recommendations failed")
		return nil, err
	}

	in.mu.Lock()
	if gen == in.generation {
		in.recommendations = append(models.Insight(nil), raw...)
	}
	in.mu.Unlock()
	return raw, nil
}

// Predict fetches a price prediction for symbol over days and caches it.
func (in *Insights) Predict(ctx context.Context, symbol string, days int) (models.Insight, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, apperrors.NewValidationError("symbol", symbol, "Please select a stock first")
	}
	if days == 0 {
		days = DefaultPredictionDays
	}
	if days < MinPredictionDays || days > MaxPredictionDays {
		return nil, apperrors.NewValidationError("days", days, "Prediction days must be between 1 and 30")
	}

	in.mu.RLock()
	gen := in.generation
	in.mu.RUnlock()

	raw, err := in.fetcher.Predict(ctx, symbol, days)
	if err != nil {
		l := logging.WithSymbol(in.logger, symbol)
		l.Warn().Err(err).Int("days", days).Msg("Prediction failed")
		return nil, err
	}

	in.mu.Lock()
	if gen == in.generation {
		in.predictions[symbol] = append(models.Insight(nil), raw...)
	}
	in.mu.Unlock()
	return raw, nil
}

// LatestRecommendations returns the stored recommendation list.
func (in *Insights) LatestRecommendations() (models.Insight, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.recommendations, in.recommendations != nil
}

// Prediction returns the cached prediction for symbol.
func (in *Insights) Prediction(symbol string) (models.Insight, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	p, ok := in.predictions[models.NormalizeSymbol(symbol)]
	return p, ok
}

// Reset drops all cached payloads.
func (in *Insights) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.generation++
	in.recommendations = nil
	in.predictions = make(map[string]models.Insight)
}
