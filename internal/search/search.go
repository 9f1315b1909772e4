// Package search implements debounced symbol search where only the latest
// keystroke's response is ever rendered.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// DefaultDebounce is the quiet period between the last keystroke and the request.
const DefaultDebounce = 300 * time.Millisecond

// Searcher performs the remote symbol search.
type Searcher interface {
	SearchStocks(ctx context.Context, query string) ([]models.SearchResult, error)
}

// Selector focuses a symbol once a result is picked.
type Selector interface {
	Select(ctx context.Context, symbol string) error
}

// Controller owns the search box state. Every Input bumps the generation;
// a response is rendered only if its generation is still current.
type Controller struct {
	searcher Searcher
	selector Selector
	debounce time.Duration
	logger   zerolog.Logger

	mu         sync.Mutex
	query      string
	generation uint64
	timer      *time.Timer
	results    []models.SearchResult
	onResults  func([]models.SearchResult)
	onError    func(error)
}

// NewController creates a search controller.
func NewController(searcher Searcher, selector Selector, debounce time.Duration, logger zerolog.Logger) *Controller {
	if debounce < 0 {
		debounce = DefaultDebounce
	}
	return &Controller{
		searcher: searcher,
		selector: selector,
		debounce: debounce,
		logger:   logging.WithComponent(logger, "search"),
	}
}

// OnResults sets the render callback. It runs on the timer goroutine.
func (c *Controller) OnResults(fn func([]models.SearchResult)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResults = fn
}

// OnError sets the callback for failures of the current generation.
func (c *Controller) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// Input records a keystroke. A blank query clears the results at once;
// anything else schedules a request after the debounce period.
func (c *Controller) Input(ctx context.Context, raw string) {
	c.mu.Lock()
	c.query = raw
	c.generation++
	gen := c.generation
	c.stopTimerLocked()

	query := strings.TrimSpace(raw)
	if query == "" {
		c.results = nil
		cb := c.onResults
		c.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return
	}

	c.timer = time.AfterFunc(c.debounce, func() { c.fire(ctx, gen, query) })
	c.mu.Unlock()
}

func (c *Controller) fire(ctx context.Context, gen uint64, query string) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	results, err := c.searcher.SearchStocks(ctx, query)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug().Str("query", query).Uint64("generation", gen).Msg("Discarding stale search response")
		return
	}
	if err != nil {
		cb := c.onError
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("query", query).Msg("Search failed")
		if cb != nil {
			cb(err)
		}
		return
	}
	c.results = results
	cb := c.onResults
	c.mu.Unlock()

	if cb != nil {
		cb(results)
	}
}

// Select clears the results and focuses symbol.
func (c *Controller) Select(ctx context.Context, symbol string) error {
	c.mu.Lock()
	c.generation++
	c.stopTimerLocked()
	c.results = nil
	c.mu.Unlock()

	return c.selector.Select(ctx, models.NormalizeSymbol(symbol))
}

// Fill sets the search text without searching, as when a symbol is picked elsewhere.
func (c *Controller) Fill(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.query = text
	c.generation++
	c.stopTimerLocked()
	c.results = nil
}

// Results returns the rendered results.
func (c *Controller) Results() []models.SearchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SearchResult(nil), c.results...)
}

// Query returns the raw search text.
func (c *Controller) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Generation returns the current generation.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// Reset cancels any pending search and invalidates in-flight responses.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.stopTimerLocked()
	c.query = ""
	c.results = nil
}

func (c *Controller) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
