package app

import "simtrader/internal/models"

// Section is a dashboard tab.
type Section string

const (
	SectionPortfolio Section = "portfolio"
	SectionTrading   Section = "trading"
	SectionWatchlist Section = "watchlist"
	SectionHistory   Section = "history"
)

// ParseSection maps user input to a Section.
func ParseSection(s string) (Section, bool) {
	switch sec := Section(s); sec {
	case SectionPortfolio, SectionTrading, SectionWatchlist, SectionHistory:
		return sec, true
	}
	return "", false
}

// Command is a user intent handled by exactly one component.
type Command interface {
	Name() string
}

// Login authenticates an existing user.
type Login struct {
	Username string
}

// Register creates a user and logs in.
type Register struct {
	Username string
	Email    string
}

// Logout ends the session.
type Logout struct{}

// SearchInput is a keystroke in the search box.
type SearchInput struct {
	Text string
}

// SelectStock picks a stock for trading.
type SelectStock struct {
	Symbol string
}

// TradeForSymbol switches to the trading section and selects Symbol.
type TradeForSymbol struct {
	Symbol string
}

// SetShares updates the share input of the trade ticket.
type SetShares struct {
	Input string
}

// SubmitTrade submits the trade ticket for the selected stock.
type SubmitTrade struct {
	Kind models.TradeKind
}

// AddToWatchlist watches the selected stock.
type AddToWatchlist struct{}

// RemoveFromWatchlist stops watching Symbol.
type RemoveFromWatchlist struct {
	Symbol string
}

// ShowSection switches tab and refreshes its data.
type ShowSection struct {
	Section Section
}

// RequestPrediction asks for an AI prediction of the selected stock.
// Zero Days uses the configured default.
type RequestPrediction struct {
	Days int
}

func (Login) Name() string               { return "login" }
func (Register) Name() string            { return "register" }
func (Logout) Name() string              { return "logout" }
func (SearchInput) Name() string         { return "search" }
func (SelectStock) Name() string         { return "select" }
func (TradeForSymbol) Name() string      { return "trade_for_symbol" }
func (SetShares) Name() string           { return "shares" }
func (SubmitTrade) Name() string         { return "trade" }
func (AddToWatchlist) Name() string      { return "watch" }
func (RemoveFromWatchlist) Name() string { return "unwatch" }
func (ShowSection) Name() string         { return "show" }
func (RequestPrediction) Name() string   { return "predict" }
