// Package trading provides the trade ticket: the selected stock, share input,
// cost estimate and the single in-flight trade.
package trading

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// DefaultShares is the share input after a confirmed trade.
const DefaultShares = "1"

// Trader submits trades to the backend.
type Trader interface {
	Trade(ctx context.Context, kind models.TradeKind, symbol string, shares int) (string, error)
}

// PortfolioRefresher refetches holdings after a confirmed trade.
type PortfolioRefresher interface {
	Refresh(ctx context.Context) error
}

// TradeResult is a confirmed trade.
type TradeResult struct {
	Kind    models.TradeKind
	Symbol  string
	Shares  int
	Message string
}

// Controller validates and submits trades. At most one trade is pending;
// local holdings change only through the portfolio refetch after confirmation.
type Controller struct {
	trader        Trader
	selection     *Selection
	portfolio     PortfolioRefresher
	defaultShares string
	logger        zerolog.Logger

	mu          sync.Mutex
	pending     *models.PendingTrade
	sharesInput string
	estimate    decimal.Decimal
	onEstimate  func(decimal.Decimal)
}

// NewController creates a trade controller bound to selection.
func NewController(trader Trader, selection *Selection, portfolio PortfolioRefresher, defaultShares string, logger zerolog.Logger) *Controller {
	if defaultShares == "" {
		defaultShares = DefaultShares
	}
	c := &Controller{
		trader:        trader,
		selection:     selection,
		portfolio:     portfolio,
		defaultShares: defaultShares,
		sharesInput:   defaultShares,
		logger:        logging.WithComponent(logger, "trading"),
	}
	selection.OnChange(func(models.Stock, bool) { c.recalculate() })
	return c
}

// OnEstimate sets a callback run whenever the estimate is recomputed.
func (c *Controller) OnEstimate(fn func(decimal.Decimal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEstimate = fn
}

// Execute submits a trade for the selected stock. An empty symbol means the
// selected one. No request is sent when validation fails or a trade is pending.
func (c *Controller) Execute(ctx context.Context, kind models.TradeKind, symbol string, shares int) (*TradeResult, error) {
	stock, selected := c.selection.Current()
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		symbol = stock.Symbol
	}

	if err := checkTicket(kind, stock, selected, symbol, shares); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, apperrors.NewBusyError("trade")
	}
	c.pending = &models.PendingTrade{Kind: kind, Symbol: symbol, Shares: shares, Since: time.Now()}
	c.mu.Unlock()

	message, err := c.trader.Trade(ctx, kind, symbol, shares)

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()

	if err != nil {
		l := logging.WithSymbol(c.logger, symbol)
		l.Warn().Err(err).Str("kind", string(kind)).Int("shares", shares).Msg("Trade failed")
		return nil, err
	}

	logging.LogTrade(c.logger, symbol, string(kind), shares, message)

	if err := c.portfolio.Refresh(ctx); err != nil {
		l := logging.WithSymbol(c.logger, symbol)
		l.Warn().Err(err).Msg("Portfolio refresh after trade failed")
	}

	c.mu.Lock()
	c.sharesInput = c.defaultShares
	c.mu.Unlock()
	c.recalculate()

	return &TradeResult{Kind: kind, Symbol: symbol, Shares: shares, Message: message}, nil
}

// ExecuteInput submits a trade for the selected stock using the share input.
func (c *Controller) ExecuteInput(ctx context.Context, kind models.TradeKind) (*TradeResult, error) {
	return c.Execute(ctx, kind, "", parseShares(c.SharesInput()))
}

// checkTicket runs the local checks in order and returns the first failure.
func checkTicket(kind models.TradeKind, stock models.Stock, selected bool, symbol string, shares int) error {
	if !kind.Valid() {
		return apperrors.NewValidationError("kind", kind, "Trade type must be buy or sell")
	}
	if !selected {
		return apperrors.NewValidationError("symbol", symbol, "Please select a stock first")
	}
	if symbol != stock.Symbol {
		return apperrors.NewValidationError("symbol", symbol, "Symbol does not match the selected stock "+stock.Symbol)
	}
	if shares <= 0 {
		return apperrors.NewValidationError("shares", shares, "Please enter a valid number of shares")
	}
	return nil
}

// SetSharesInput records the raw share input and returns the new estimate.
func (c *Controller) SetSharesInput(raw string) decimal.Decimal {
	c.mu.Lock()
	c.sharesInput = raw
	c.mu.Unlock()
	return c.recalculate()
}

// SharesInput returns the raw share input.
func (c *Controller) SharesInput() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sharesInput
}

// Estimate returns shares × selected price. Invalid input counts as zero shares.
func (c *Controller) Estimate() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate
}

// Pending returns the in-flight trade, if any.
func (c *Controller) Pending() (models.PendingTrade, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return models.PendingTrade{}, false
	}
	return *c.pending, true
}

// Reset restores the share input and clears the estimate.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.sharesInput = c.defaultShares
	c.mu.Unlock()
	c.recalculate()
}

func (c *Controller) recalculate() decimal.Decimal {
	stock, ok := c.selection.Current()

	c.mu.Lock()
	est := decimal.Zero
	if ok {
		est = EstimateCost(stock.Price, parseShares(c.sharesInput))
	}
	c.estimate = est
	cb := c.onEstimate
	c.mu.Unlock()

	if cb != nil {
		cb(est)
	}
	return est
}

// EstimateCost returns price × shares, rounded to cents.
func EstimateCost(price float64, shares int) decimal.Decimal {
	if shares <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(shares))).Round(2)
}

func parseShares(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
