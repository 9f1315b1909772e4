// Package views holds the client-side copies of server collections: portfolio,
// watchlist, transaction history and AI insights. Collections are replaced
// wholesale on refresh; live ticks only patch price-derived fields.
package views

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// Reconciler recomputes subscriptions after a collection is replaced.
type Reconciler interface {
	Reconcile()
}

// PortfolioFetcher loads the account summary and holdings.
type PortfolioFetcher interface {
	Portfolio(ctx context.Context) (*models.Portfolio, error)
}

// Portfolio is the local view of the user's holdings.
type Portfolio struct {
	fetcher    PortfolioFetcher
	reconciler Reconciler
	logger     zerolog.Logger

	mu         sync.RWMutex
	data       models.Portfolio
	loaded     bool
	generation uint64
	onChange   []func(models.Portfolio)
}

// NewPortfolio creates an empty portfolio view.
func NewPortfolio(fetcher PortfolioFetcher, reconciler Reconciler, logger zerolog.Logger) *Portfolio {
	return &Portfolio{
		fetcher:    fetcher,
		reconciler: reconciler,
		logger:     logging.WithComponent(logger, "portfolio"),
	}
}

// OnChange registers a callback run after the view changes.
func (p *Portfolio) OnChange(fn func(models.Portfolio)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// Refresh refetches the portfolio and replaces the local copy. A response
// overtaken by a newer Refresh or a Reset is discarded.
func (p *Portfolio) Refresh(ctx context.Context) error {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.mu.Unlock()

	fetched, err := p.fetcher.Portfolio(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Portfolio refresh failed")
		return err
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.logger.Debug().Uint64("generation", gen).Msg("Discarding stale portfolio")
		return nil
	}
	p.data = clonePortfolio(*fetched)
	p.loaded = true
	snapshot := clonePortfolio(p.data)
	p.mu.Unlock()

	p.logger.Debug().Int("holdings", len(snapshot.Holdings)).Float64("total_value", snapshot.TotalValue).Msg("Portfolio refreshed")

	if p.reconciler != nil {
		p.reconciler.Reconcile()
	}
	p.notify(snapshot)
	return nil
}

// ApplyTick re-prices every holding of tick.Symbol and re-derives the
// summary. Unknown symbols are ignored.
func (p *Portfolio) ApplyTick(tick models.PriceTick) {
	p.mu.Lock()
	matched := false
	for i := range p.data.Holdings {
		if p.data.Holdings[i].Symbol == tick.Symbol {
			p.data.Holdings[i] = PatchHolding(p.data.Holdings[i], tick.Price)
			matched = true
		}
	}
	if !matched {
		p.mu.Unlock()
		return
	}
	p.data = Summarize(p.data)
	snapshot := clonePortfolio(p.data)
	p.mu.Unlock()

	p.notify(snapshot)
}

// Snapshot returns a copy of the view and whether it has been loaded.
func (p *Portfolio) Snapshot() (models.Portfolio, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return clonePortfolio(p.data), p.loaded
}

// Symbols returns the held symbols in holding order.
func (p *Portfolio) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.data.Holdings))
	for _, h := range p.data.Holdings {
		out = append(out, h.Symbol)
	}
	return out
}

// Reset empties the view and invalidates in-flight refreshes.
func (p *Portfolio) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.data = models.Portfolio{}
	p.loaded = false
}

func (p *Portfolio) notify(snapshot models.Portfolio) {
	p.mu.RLock()
	callbacks := append(([]func(models.Portfolio))(nil), p.onChange...)
	p.mu.RUnlock()

	for _, fn := range callbacks {
		fn(snapshot)
	}
}

// PatchHolding re-prices h at price. Shares and average price are kept.
func PatchHolding(h models.Holding, price float64) models.Holding {
	p := decimal.NewFromFloat(price)
	avg := decimal.NewFromFloat(h.AvgPrice)
	shares := decimal.NewFromInt(int64(h.Shares))

	h.CurrentPrice = price
	h.MarketValue = p.Mul(shares).InexactFloat64()
	h.GainLoss = p.Sub(avg).Mul(shares).InexactFloat64()
	if avg.IsZero() {
		h.GainLossPercent = 0
	} else {
		h.GainLossPercent = p.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return h
}

// Summarize re-derives the account totals from the holdings and balance.
func Summarize(pf models.Portfolio) models.Portfolio {
	value := decimal.Zero
	gain := decimal.Zero
	cost := decimal.Zero
	for _, h := range pf.Holdings {
		shares := decimal.NewFromInt(int64(h.Shares))
		value = value.Add(decimal.NewFromFloat(h.MarketValue))
		gain = gain.Add(decimal.NewFromFloat(h.GainLoss))
		cost = cost.Add(decimal.NewFromFloat(h.AvgPrice).Mul(shares))
	}

	pf.PortfolioValue = value.InexactFloat64()
	pf.TotalValue = decimal.NewFromFloat(pf.Balance).Add(value).InexactFloat64()
	pf.TotalGainLoss = gain.InexactFloat64()
	if cost.IsZero() {
		pf.TotalGainLossPercent = 0
	} else {
		pf.TotalGainLossPercent = gain.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return pf
}

func clonePortfolio(pf models.Portfolio) models.Portfolio {
	pf.Holdings = append([]models.Holding(nil), pf.Holdings...)
	return pf
}
