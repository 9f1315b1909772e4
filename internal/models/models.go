// Package models provides domain models for the trading simulator client.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// TradeKind represents the side of a simulated trade.
type TradeKind string

const (
	TradeBuy  TradeKind = "buy"
	TradeSell TradeKind = "sell"
)

// Valid reports whether k is buy or sell.
func (k TradeKind) Valid() bool {
	return k == TradeBuy || k == TradeSell
}

// AuthMode selects the authentication endpoint.
type AuthMode string

const (
	AuthLogin    AuthMode = "login"
	AuthRegister AuthMode = "register"
)

// Session is the authenticated user as reported by the backend.
type Session struct {
	UserID   int64   `json:"user_id"`
	Username string  `json:"username"`
	Email    string  `json:"email,omitempty"`
	Balance  float64 `json:"balance,omitempty"`
}

// Stock is the detail view of a single symbol.
type Stock struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// SearchResult is one row of a symbol search.
type SearchResult struct {
	Symbol string  `json:"symbol"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
}

// Holding is a position in the user's portfolio.
type Holding struct {
	Symbol          string  `json:"symbol"`
	Shares          int     `json:"shares"`
	AvgPrice        float64 `json:"avg_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	GainLoss        float64 `json:"gain_loss"`
	GainLossPercent float64 `json:"gain_loss_percent"`
}

// Portfolio is the account summary plus its holdings.
type Portfolio struct {
	Balance              float64   `json:"balance"`
	PortfolioValue       float64   `json:"portfolio_value"`
	TotalValue           float64   `json:"total_value"`
	TotalGainLoss        float64   `json:"total_gain_loss"`
	TotalGainLossPercent float64   `json:"total_gain_loss_percent"`
	Holdings             []Holding `json:"portfolio"`
}

// WatchlistEntry is one card of the watchlist.
type WatchlistEntry struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
}

// Transaction is one executed trade from the history endpoint.
type Transaction struct {
	Timestamp   string  `json:"timestamp"`
	Symbol      string  `json:"symbol"`
	Type        string  `json:"type"`
	Shares      int     `json:"shares"`
	Price       float64 `json:"price"`
	TotalAmount float64 `json:"total_amount"`
}

// PriceTick is a live price pushed by the server.
type PriceTick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"-"`
}

// PendingTrade is the single in-flight trade request.
type PendingTrade struct {
	Kind   TradeKind
	Symbol string
	Shares int
	Since  time.Time
}

// Insight is an opaque AI payload. The client only displays and caches it.
type Insight = json.RawMessage

// NormalizeSymbol upper-cases and trims a ticker symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
