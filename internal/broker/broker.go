// Package broker provides the backend and push-channel integrations.
package broker

import (
	"context"

	"simtrader/internal/models"
)

// Backend defines the REST operations of the trading simulator.
type Backend interface {
	// Authentication
	Me(ctx context.Context) (*models.Session, error)
	Login(ctx context.Context, username string) (*models.Session, error)
	Register(ctx context.Context, username, email string) (*models.Session, error)
	Logout(ctx context.Context) error

	// Market Data
	SearchStocks(ctx context.Context, query string) ([]models.SearchResult, error)
	StockInfo(ctx context.Context, symbol string) (*models.Stock, error)

	// Account
	Portfolio(ctx context.Context) (*models.Portfolio, error)
	Trade(ctx context.Context, kind models.TradeKind, symbol string, shares int) (string, error)
	Transactions(ctx context.Context, limit int) ([]models.Transaction, error)

	// Watchlist
	Watchlist(ctx context.Context) ([]models.WatchlistEntry, error)
	AddToWatchlist(ctx context.Context, symbol string) (string, error)
	RemoveFromWatchlist(ctx context.Context, symbol string) (string, error)

	// AI
	Recommendations(ctx context.Context) (models.Insight, error)
	Predict(ctx context.Context, symbol string, days int) (models.Insight, error)
}

// Ticker defines the push channel carrying live price updates.
// Subscribe and Unsubscribe are fire-and-forget and idempotent on the server.
type Ticker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	IsConnected() bool
	OnTick(handler func(models.PriceTick))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}

// Push channel event names.
const (
	EventConnected    = "connected"
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventPriceUpdate  = "price_update"
	EventError        = "error"
	EventSubscribe    = "subscribe_stock"
	EventUnsubscribe  = "unsubscribe_stock"
)
