// Package testutils provides in-memory fakes of the backend and push channel.
package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"simtrader/internal/broker"
	apperrors "simtrader/internal/errors"
	"simtrader/internal/models"
)

// FakeTicker records subscription traffic and lets tests inject events.
type FakeTicker struct {
	Mu           sync.Mutex
	Connected    bool
	ConnectErr   error
	SubscribeErr error
	ConnectCount int
	// Ops is the ordered send log: "+SYM" for subscribe, "-SYM" for unsubscribe.
	Ops []string
	// Active is the server-side view of subscriptions.
	Active map[string]bool

	onTick       func(models.PriceTick)
	onError      func(error)
	onConnect    func()
	onDisconnect func()
}

// NewFakeTicker creates a disconnected fake ticker.
func NewFakeTicker() *FakeTicker {
	return &FakeTicker{Active: make(map[string]bool)}
}

func (f *FakeTicker) Connect(ctx context.Context) error {
	f.Mu.Lock()
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.Mu.Unlock()
		return apperrors.NewChannelError("connect", err)
	}
	f.Connected = true
	f.ConnectCount++
	cb := f.onConnect
	f.Mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

func (f *FakeTicker) Disconnect() error {
	f.Mu.Lock()
	was := f.Connected
	f.Connected = false
	f.Active = make(map[string]bool)
	cb := f.onDisconnect
	f.Mu.Unlock()

	if was && cb != nil {
		cb()
	}
	return nil
}

func (f *FakeTicker) Subscribe(symbol string) error {
	return f.send("+", symbol)
}

func (f *FakeTicker) Unsubscribe(symbol string) error {
	return f.send("-", symbol)
}

func (f *FakeTicker) send(op, symbol string) error {
	f.Mu.Lock()
	defer f.Mu.Unlock()

	if !f.Connected {
		return apperrors.NewChannelError(op, apperrors.ErrNotConnected)
	}
	if f.SubscribeErr != nil {
		return apperrors.NewChannelError(op, f.SubscribeErr)
	}
	f.Ops = append(f.Ops, op+symbol)
	if op == "+" {
		f.Active[symbol] = true
	} else {
		delete(f.Active, symbol)
	}
	return nil
}

func (f *FakeTicker) IsConnected() bool {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return f.Connected
}

func (f *FakeTicker) OnTick(handler func(models.PriceTick)) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.onTick = handler
}

func (f *FakeTicker) OnError(handler func(error)) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.onError = handler
}

func (f *FakeTicker) OnConnect(handler func()) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.onConnect = handler
}

func (f *FakeTicker) OnDisconnect(handler func()) {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.onDisconnect = handler
}

// Emit delivers a tick as if it arrived from the server.
func (f *FakeTicker) Emit(tick models.PriceTick) {
	f.Mu.Lock()
	cb := f.onTick
	f.Mu.Unlock()
	if cb != nil {
		cb(tick)
	}
}

// EmitError delivers a channel error.
func (f *FakeTicker) EmitError(err error) {
	f.Mu.Lock()
	cb := f.onError
	f.Mu.Unlock()
	if cb != nil {
		cb(apperrors.NewChannelError("server", err))
	}
}

// Drop simulates a lost connection followed by a successful reconnect.
// The server forgets all subscriptions.
func (f *FakeTicker) Drop() {
	f.Mu.Lock()
	f.Active = make(map[string]bool)
	onDisconnect, onConnect := f.onDisconnect, f.onConnect
	f.ConnectCount++
	f.Mu.Unlock()

	if onDisconnect != nil {
		onDisconnect()
	}
	if onConnect != nil {
		onConnect()
	}
}

// ActiveSymbols returns the server-side subscription set, sorted.
func (f *FakeTicker) ActiveSymbols() []string {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	out := make([]string, 0, len(f.Active))
	for s := range f.Active {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// OpsSnapshot returns a copy of the send log.
func (f *FakeTicker) OpsSnapshot() []string {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	return append([]string(nil), f.Ops...)
}

// ResetOps clears the send log.
func (f *FakeTicker) ResetOps() {
	f.Mu.Lock()
	defer f.Mu.Unlock()
	f.Ops = nil
}

var _ broker.Ticker = (*FakeTicker)(nil)

// FakeBackend is an in-memory simulator backend. Hook fields, when set,
// replace the default behaviour of the matching call.
type FakeBackend struct {
	Mu sync.Mutex

	Session      *models.Session
	Users        map[string]models.Session
	Stocks       map[string]models.Stock
	Holdings     []models.Holding
	Balance      float64
	WatchlistSet []string
	History      []models.Transaction
	Recs         models.Insight
	Predictions  map[string]models.Insight

	// Calls counts requests per operation name, e.g. "SearchStocks".
	Calls map[string]int
	// Requests logs "Op:arg" for every request, in order.
	Requests []string

	MeFn        func(ctx context.Context) (*models.Session, error)
	SearchFn    func(ctx context.Context, query string) ([]models.SearchResult, error)
	StockInfoFn func(ctx context.Context, symbol string) (*models.Stock, error)
	PortfolioFn func(ctx context.Context) (*models.Portfolio, error)
	TradeFn     func(ctx context.Context, kind models.TradeKind, symbol string, shares int) (string, error)
	WatchlistFn func(ctx context.Context) ([]models.WatchlistEntry, error)
	LogoutErr   error
}

// NewFakeBackend creates a backend with a few well-known stocks and no session.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Users: make(map[string]models.Session),
		Stocks: map[string]models.Stock{
			"AAPL":  {Symbol: "AAPL", Name: "Apple Inc.", Price: 150, Change: 1.5, ChangePercent: 1.0},
			"AMZN":  {Symbol: "AMZN", Name: "Amazon.com Inc.", Price: 130, Change: -2, ChangePercent: -1.5},
			"MSFT":  {Symbol: "MSFT", Name: "Microsoft Corporation", Price: 320, Change: 3.2, ChangePercent: 1.0},
			"GOOGL": {Symbol: "GOOGL", Name: "Alphabet Inc.", Price: 140, Change: 0.7, ChangePercent: 0.5},
			"TSLA":  {Symbol: "TSLA", Name: "Tesla Inc.", Price: 250, Change: -5, ChangePercent: -2.0},
		},
		Balance:     10000,
		Predictions: make(map[string]models.Insight),
		Calls:       make(map[string]int),
	}
}

// AddUser registers a user that Login accepts.
func (b *FakeBackend) AddUser(username string, id int64) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.Users[username] = models.Session{UserID: id, Username: username}
}

// CallCount returns how many times op was requested.
func (b *FakeBackend) CallCount(op string) int {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return b.Calls[op]
}

// RequestLog returns a copy of the request log.
func (b *FakeBackend) RequestLog() []string {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return append([]string(nil), b.Requests...)
}

func (b *FakeBackend) record(op, arg string) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.Calls[op]++
	b.Requests = append(b.Requests, op+":"+arg)
}

func (b *FakeBackend) Me(ctx context.Context) (*models.Session, error) {
	b.record("Me", "")
	if b.MeFn != nil {
		return b.MeFn(ctx)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if b.Session == nil {
		return nil, apperrors.NewAuthError("resume", "Not authenticated", apperrors.ErrNotAuthenticated)
	}
	s := *b.Session
	return &s, nil
}

func (b *FakeBackend) Login(ctx context.Context, username string) (*models.Session, error) {
	b.record("Login", username)
	b.Mu.Lock()
	defer b.Mu.Unlock()
	u, ok := b.Users[username]
	if !ok {
		return nil, apperrors.NewAuthError("login", "User not found", nil)
	}
	b.Session = &u
	s := u
	return &s, nil
}

func (b *FakeBackend) Register(ctx context.Context, username, email string) (*models.Session, error) {
	b.record("Register", username+"|"+email)
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if _, ok := b.Users[username]; ok {
		return nil, apperrors.NewAuthError("register", "Username already exists", nil)
	}
	u := models.Session{UserID: int64(len(b.Users) + 1), Username: username, Email: email}
	b.Users[username] = u
	b.Session = &u
	s := u
	return &s, nil
}

func (b *FakeBackend) Logout(ctx context.Context) error {
	b.record("Logout", "")
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.Session = nil
	return b.LogoutErr
}

func (b *FakeBackend) SearchStocks(ctx context.Context, query string) ([]models.SearchResult, error) {
	b.record("SearchStocks", query)
	if b.SearchFn != nil {
		return b.SearchFn(ctx, query)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	q := strings.ToUpper(query)
	var results []models.SearchResult
	for sym, s := range b.Stocks {
		if strings.HasPrefix(sym, q) || strings.Contains(strings.ToUpper(s.Name), q) {
			results = append(results, models.SearchResult{Symbol: sym, Name: s.Name, Price: s.Price})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	return results, nil
}

func (b *FakeBackend) StockInfo(ctx context.Context, symbol string) (*models.Stock, error) {
	b.record("StockInfo", symbol)
	if b.StockInfoFn != nil {
		return b.StockInfoFn(ctx, symbol)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	s, ok := b.Stocks[symbol]
	if !ok {
		return nil, apperrors.NewRequestError("GET", "/stocks/info/"+symbol, 404, apperrors.New("Stock not found"))
	}
	return &s, nil
}

func (b *FakeBackend) Portfolio(ctx context.Context) (*models.Portfolio, error) {
	b.record("Portfolio", "")
	if b.PortfolioFn != nil {
		return b.PortfolioFn(ctx)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return b.portfolioLocked(), nil
}

func (b *FakeBackend) portfolioLocked() *models.Portfolio {
	p := &models.Portfolio{Balance: b.Balance}
	var cost float64
	for _, h := range b.Holdings {
		price := b.Stocks[h.Symbol].Price
		h.CurrentPrice = price
		h.MarketValue = price * float64(h.Shares)
		h.GainLoss = (price - h.AvgPrice) * float64(h.Shares)
		if h.AvgPrice != 0 {
			h.GainLossPercent = (price - h.AvgPrice) / h.AvgPrice * 100
		}
		p.Holdings = append(p.Holdings, h)
		p.PortfolioValue += h.MarketValue
		p.TotalGainLoss += h.GainLoss
		cost += h.AvgPrice * float64(h.Shares)
	}
	p.TotalValue = p.Balance + p.PortfolioValue
	if cost != 0 {
		p.TotalGainLossPercent = p.TotalGainLoss / cost * 100
	}
	return p
}

// Trade applies a buy or sell at the current stock price.
func (b *FakeBackend) Trade(ctx context.Context, kind models.TradeKind, symbol string, shares int) (string, error) {
	b.record("Trade", fmt.Sprintf("%s %s %d", kind, symbol, shares))
	if b.TradeFn != nil {
		return b.TradeFn(ctx, kind, symbol, shares)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()

	stock, ok := b.Stocks[symbol]
	if !ok {
		return "", apperrors.NewRejectedError(string(kind), "Invalid stock symbol")
	}
	cost := stock.Price * float64(shares)

	idx := -1
	for i, h := range b.Holdings {
		if h.Symbol == symbol {
			idx = i
		}
	}

	switch kind {
	case models.TradeBuy:
		if cost > b.Balance {
			return "", apperrors.NewRejectedError("buy", "Insufficient funds")
		}
		b.Balance -= cost
		if idx < 0 {
			b.Holdings = append(b.Holdings, models.Holding{Symbol: symbol, Shares: shares, AvgPrice: stock.Price})
		} else {
			h := &b.Holdings[idx]
			h.AvgPrice = (h.AvgPrice*float64(h.Shares) + cost) / float64(h.Shares+shares)
			h.Shares += shares
		}
	case models.TradeSell:
		if idx < 0 || b.Holdings[idx].Shares < shares {
			return "", apperrors.NewRejectedError("sell", "Insufficient shares")
		}
		b.Balance += cost
		b.Holdings[idx].Shares -= shares
		if b.Holdings[idx].Shares == 0 {
			b.Holdings = append(b.Holdings[:idx], b.Holdings[idx+1:]...)
		}
	}

	b.History = append(b.History, models.Transaction{
		Symbol: symbol, Type: strings.ToUpper(string(kind)), Shares: shares, Price: stock.Price, TotalAmount: cost,
	})
	verb := "Bought"
	if kind == models.TradeSell {
		verb = "Sold"
	}
	return fmt.Sprintf("%s %d shares of %s", verb, shares, symbol), nil
}

func (b *FakeBackend) Transactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	b.record("Transactions", fmt.Sprint(limit))
	b.Mu.Lock()
	defer b.Mu.Unlock()
	out := make([]models.Transaction, 0, len(b.History))
	for i := len(b.History) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, b.History[i])
	}
	return out, nil
}

func (b *FakeBackend) Watchlist(ctx context.Context) ([]models.WatchlistEntry, error) {
	b.record("Watchlist", "")
	if b.WatchlistFn != nil {
		return b.WatchlistFn(ctx)
	}
	b.Mu.Lock()
	defer b.Mu.Unlock()
	out := make([]models.WatchlistEntry, 0, len(b.WatchlistSet))
	for _, sym := range b.WatchlistSet {
		s := b.Stocks[sym]
		out = append(out, models.WatchlistEntry{
			Symbol: sym, Name: s.Name, Price: s.Price, Change: s.Change, ChangePercent: s.ChangePercent,
		})
	}
	return out, nil
}

func (b *FakeBackend) AddToWatchlist(ctx context.Context, symbol string) (string, error) {
	b.record("AddToWatchlist", symbol)
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for _, s := range b.WatchlistSet {
		if s == symbol {
			return "", apperrors.NewRejectedError("watchlist add", "Stock already in watchlist")
		}
	}
	b.WatchlistSet = append(b.WatchlistSet, symbol)
	return symbol + " added to watchlist", nil
}

func (b *FakeBackend) RemoveFromWatchlist(ctx context.Context, symbol string) (string, error) {
	b.record("RemoveFromWatchlist", symbol)
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for i, s := range b.WatchlistSet {
		if s == symbol {
			b.WatchlistSet = append(b.WatchlistSet[:i], b.WatchlistSet[i+1:]...)
			return symbol + " removed from watchlist", nil
		}
	}
	return "", apperrors.NewRejectedError("watchlist remove", "Stock not in watchlist")
}

func (b *FakeBackend) Recommendations(ctx context.Context) (models.Insight, error) {
	b.record("Recommendations", "")
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if b.Recs == nil {
		return models.Insight(`[]`), nil
	}
	return b.Recs, nil
}

func (b *FakeBackend) Predict(ctx context.Context, symbol string, days int) (models.Insight, error) {
	b.record("Predict", fmt.Sprintf("%s %d", symbol, days))
	b.Mu.Lock()
	defer b.Mu.Unlock()
	if p, ok := b.Predictions[symbol]; ok {
		return p, nil
	}
	raw, _ := json.Marshal(map[string]interface{}{"symbol": symbol, "days": days, "recommendation": "HOLD"})
	return raw, nil
}

var _ broker.Backend = (*FakeBackend)(nil)
