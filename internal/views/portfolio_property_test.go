package views

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"

	"simtrader/internal/models"
	"simtrader/internal/testutils"
)

// Property: a tick only ever touches holdings with exactly its symbol, and
// only their price-derived fields.
func TestProperty_ApplyTickExactMatch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("non-matching holdings unchanged", prop.ForAll(
		func(tick models.PriceTick) bool {
			p := loadedPortfolio()
			before, _ := p.Snapshot()
			p.ApplyTick(tick)
			after, _ := p.Snapshot()

			for i := range before.Holdings {
				b, a := before.Holdings[i], after.Holdings[i]
				if b.Symbol != tick.Symbol {
					if !reflect.DeepEqual(a, b) {
						return false
					}
					continue
				}
				if a.Shares != b.Shares || a.AvgPrice != b.AvgPrice || a.CurrentPrice != tick.Price {
					return false
				}
			}
			return after.Balance == before.Balance
		},
		genTick(),
	))

	properties.Property("unknown symbol is a no-op", prop.ForAll(
		func(price float64) bool {
			p := loadedPortfolio()
			before, _ := p.Snapshot()
			p.ApplyTick(models.PriceTick{Symbol: "ZZZZ", Price: price})
			after, _ := p.Snapshot()
			return reflect.DeepEqual(before, after)
		},
		gen.Float64Range(0.01, 5000),
	))

	properties.TestingRun(t)
}

// Property: applying the same tick twice equals applying it once.
func TestProperty_ApplyTickIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("apply(apply(s, t), t) == apply(s, t)", prop.ForAll(
		func(ticks []models.PriceTick, last models.PriceTick) bool {
			p := loadedPortfolio()
			for _, tk := range ticks {
				p.ApplyTick(tk)
			}
			p.ApplyTick(last)
			once, _ := p.Snapshot()
			p.ApplyTick(last)
			twice, _ := p.Snapshot()
			return reflect.DeepEqual(once, twice)
		},
		gen.SliceOfN(5, genTick()),
		genTick(),
	))

	properties.TestingRun(t)
}

func genTick() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("AAPL", "MSFT", "FREE", "NVDA", "TSLA"),
		gen.Float64Range(0.01, 5000),
	).Map(func(v []interface{}) models.PriceTick {
		return models.PriceTick{Symbol: v[0].(string), Price: v[1].(float64)}
	})
}

func loadedPortfolio() *Portfolio {
	b := testutils.NewFakeBackend()
	b.PortfolioFn = func(ctx context.Context) (*models.Portfolio, error) {
		pf := samplePortfolio()
		return &pf, nil
	}
	p := NewPortfolio(b, nil, zerolog.Nop())
	_ = p.Refresh(context.Background())
	return p
}
