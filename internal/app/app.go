// Package app wires the client components into one explicit state object and
// routes user commands to them.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"simtrader/internal/broker"
	"simtrader/internal/config"
	apperrors "simtrader/internal/errors"
	"simtrader/internal/logging"
	"simtrader/internal/models"
	"simtrader/internal/notify"
	"simtrader/internal/search"
	"simtrader/internal/session"
	"simtrader/internal/stream"
	"simtrader/internal/trading"
	"simtrader/internal/views"
)

// Options tunes the components built by New.
type Options struct {
	Debounce       time.Duration
	DefaultShares  string
	HistoryLimit   int
	PredictionDays int
	TickBuffer     int
}

// DefaultOptions returns the options used when no config file is present.
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Debounce:       cfg.Search.Debounce,
		DefaultShares:  cfg.Trading.DefaultShares,
		HistoryLimit:   cfg.History.Limit,
		PredictionDays: cfg.Insights.PredictionDays,
		TickBuffer:     stream.DefaultDispatcherConfig().BufferSize,
	}
}

// App is the client state for one process. Components are created once;
// a logout resets them instead of rebuilding.
type App struct {
	backend  broker.Backend
	ticker   broker.Ticker
	notifier notify.Notifier
	opts     Options
	logger   zerolog.Logger

	gate       *session.Gate
	registry   *stream.Registry
	dispatcher *stream.Dispatcher
	search     *search.Controller
	selection  *trading.Selection
	trade      *trading.Controller
	portfolio  *views.Portfolio
	watchlist  *views.Watchlist
	history    *views.History
	insights   *views.Insights

	mu      sync.RWMutex
	section Section
}

// New builds the component graph and registers every callback between them.
func New(backend broker.Backend, ticker broker.Ticker, notifier notify.Notifier, opts Options, logger zerolog.Logger) *App {
	if notifier == nil {
		notifier = notify.NewRecorder(100)
	}
	if opts.PredictionDays == 0 {
		opts.PredictionDays = views.DefaultPredictionDays
	}

	a := &App{
		backend:  backend,
		ticker:   ticker,
		notifier: notifier,
		opts:     opts,
		logger:   logging.WithComponent(logger, "app"),
		section:  SectionPortfolio,
	}

	a.gate = session.NewGate(backend, logger)
	a.registry = stream.NewRegistry(ticker, logger)
	a.selection = trading.NewSelection(backend, a.registry, logger)
	a.portfolio = views.NewPortfolio(backend, a.registry, logger)
	a.watchlist = views.NewWatchlist(backend, a.registry, logger)
	a.history = views.NewHistory(backend, opts.HistoryLimit, logger)
	a.insights = views.NewInsights(backend, logger)
	a.trade = trading.NewController(backend, a.selection, a.portfolio, opts.DefaultShares, logger)
	a.search = search.NewController(backend, a.selection, opts.Debounce, logger)
	a.registry.SetSources(a.portfolio, a.watchlist, a.selection)

	a.dispatcher = stream.NewDispatcherWithConfig(stream.DispatcherConfig{BufferSize: opts.TickBuffer}, logger)
	a.dispatcher.RegisterConsumer(a.selection)
	a.dispatcher.RegisterConsumer(a.portfolio)
	a.dispatcher.RegisterConsumer(a.watchlist)

	ticker.OnTick(func(tick models.PriceTick) { a.dispatcher.Publish(tick) })
	ticker.OnConnect(a.registry.Replay)
	ticker.OnDisconnect(func() { a.logger.Warn().Msg("Live prices interrupted") })
	ticker.OnError(func(err error) { a.notifier.Notify(notify.Error(err)) })

	a.search.OnError(func(err error) { a.notifier.Notify(notify.Error(err)) })

	a.gate.OnUnblock(a.unblock)
	a.gate.OnTeardown(a.teardown)

	return a
}

// Start resumes a stored session. Without one the app waits for Login or
// Register and Start returns nil; other failures are reported and returned.
func (a *App) Start(ctx context.Context) error {
	s, err := a.gate.Resume(ctx)
	if err == nil {
		a.logger.Info().Str("username", s.Username).Msg("Dashboard ready")
		return nil
	}

	var authErr *apperrors.AuthError
	if apperrors.As(err, &authErr) {
		a.logger.Info().Msg("Waiting for login")
		return nil
	}
	a.notifier.Notify(notify.Error(err))
	return err
}

// Close stops the push channel and the tick loop without ending the session.
func (a *App) Close() {
	if err := a.ticker.Disconnect(); err != nil {
		a.logger.Debug().Err(err).Msg("Push channel close")
	}
	a.dispatcher.Stop()
	a.search.Reset()
}

// Dispatch runs cmd. Every error is reported as a notification and returned.
func (a *App) Dispatch(ctx context.Context, cmd Command) (err error) {
	logger := logging.WithOperation(a.logger, cmd.Name())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s failed: %v", cmd.Name(), r)
			logger.Error().Interface("panic", r).Msg("Command panicked")
			a.notifier.Notify(notify.Error(err))
		}
	}()

	if requiresSession(cmd) {
		if err := a.gate.Require(cmd.Name()); err != nil {
			a.report(cmd, err)
			return err
		}
	}

	if err := a.handle(ctx, cmd); err != nil {
		logger.Warn().Err(err).Msg("Command failed")
		// A 401 mid-session means the cookie expired.
		if requiresSession(cmd) && apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			a.gate.Expire()
		}
		a.report(cmd, err)
		return err
	}
	return nil
}

func requiresSession(cmd Command) bool {
	switch cmd.(type) {
	case Login, Register:
		return false
	}
	return true
}

func (a *App) handle(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case Login:
		s, err := a.gate.Authenticate(ctx, models.AuthLogin, c.Username, "")
		if err != nil {
			return err
		}
		a.notifier.Notify(notify.Success("Welcome back, " + s.Username))

	case Register:
		s, err := a.gate.Authenticate(ctx, models.AuthRegister, c.Username, c.Email)
		if err != nil {
			return err
		}
		a.notifier.Notify(notify.Success("Welcome, " + s.Username))

	case Logout:
		a.gate.Logout(ctx)
		a.notifier.Notify(notify.Info("Logged out"))

	case SearchInput:
		a.search.Input(ctx, c.Text)

	case SelectStock:
		if err := a.search.Select(ctx, c.Symbol); err != nil {
			return err
		}
		a.setSection(SectionTrading)

	case TradeForSymbol:
		symbol := models.NormalizeSymbol(c.Symbol)
		a.search.Fill(symbol)
		if err := a.selection.Select(ctx, symbol); err != nil {
			return err
		}
		a.setSection(SectionTrading)

	case SetShares:
		a.trade.SetSharesInput(c.Input)

	case SubmitTrade:
		res, err := a.trade.ExecuteInput(ctx, c.Kind)
		if err != nil {
			return err
		}
		n := notify.Success(res.Message)
		n.Symbol = res.Symbol
		a.notifier.Notify(n)

	case AddToWatchlist:
		stock, ok := a.selection.Current()
		if !ok {
			return apperrors.NewValidationError("symbol", "", "Please select a stock first")
		}
		msg, err := a.watchlist.Add(ctx, stock.Symbol)
		if err != nil {
			return err
		}
		a.notifier.Notify(notify.Success(msg))

	case RemoveFromWatchlist:
		msg, err := a.watchlist.Remove(ctx, c.Symbol)
		if err != nil {
			return err
		}
		a.notifier.Notify(notify.Success(msg))

	case ShowSection:
		return a.showSection(ctx, c.Section)

	case RequestPrediction:
		stock, ok := a.selection.Current()
		if !ok {
			return apperrors.NewValidationError("symbol", "", "Please select a stock first")
		}
		days := c.Days
		if days == 0 {
			days = a.opts.PredictionDays
		}
		if _, err := a.insights.Predict(ctx, stock.Symbol, days); err != nil {
			return err
		}
		a.notifier.Notify(notify.Success("AI prediction generated"))

	default:
		return apperrors.NewValidationError("command", cmd.Name(), "Unknown command")
	}
	return nil
}

func (a *App) showSection(ctx context.Context, sec Section) error {
	if _, ok := ParseSection(string(sec)); !ok {
		return apperrors.NewValidationError("section", sec, "Unknown section "+string(sec))
	}
	a.setSection(sec)

	switch sec {
	case SectionPortfolio:
		return a.portfolio.Refresh(ctx)
	case SectionTrading:
		_, err := a.insights.Recommendations(ctx)
		return err
	case SectionWatchlist:
		return a.watchlist.Refresh(ctx)
	case SectionHistory:
		return a.history.Refresh(ctx)
	}
	return nil
}

// report turns err into a notification. A watchlist add the server declines
// is a warning rather than a failure.
func (a *App) report(cmd Command, err error) {
	n := notify.Error(err)
	var rej *apperrors.RejectedError
	if _, ok := cmd.(AddToWatchlist); ok && apperrors.As(err, &rej) {
		n.Kind = notify.KindWarning
	}
	a.notifier.Notify(n)
}

// unblock brings the dashboard up for a new session: tick loop first so no
// tick is dropped, then the push channel, then the portfolio.
func (a *App) unblock(ctx context.Context, s models.Session) {
	logger := a.logger.With().Str("username", s.Username).Logger()

	if err := a.dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error().Err(err).Msg("Tick loop failed to start")
	}
	if err := a.ticker.Connect(ctx); err != nil {
		logger.Warn().Err(err).Msg("Push channel unavailable")
		a.notifier.Notify(notify.Error(err))
	}

	a.setSection(SectionPortfolio)
	if err := a.portfolio.Refresh(ctx); err != nil {
		a.notifier.Notify(notify.Error(err))
	}
}

// teardown discards everything tied to the ended session. The push channel
// and tick loop stop first so no tick lands in a cleared store.
func (a *App) teardown() {
	if err := a.ticker.Disconnect(); err != nil {
		a.logger.Debug().Err(err).Msg("Push channel close")
	}
	a.dispatcher.Stop()

	a.search.Reset()
	a.selection.Clear()
	a.trade.Reset()
	a.portfolio.Reset()
	a.watchlist.Reset()
	a.history.Reset()
	a.insights.Reset()
	a.registry.Reset()
	a.setSection(SectionPortfolio)

	a.logger.Info().Msg("Session state cleared")
}

func (a *App) setSection(sec Section) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.section = sec
}

// Section returns the active dashboard tab.
func (a *App) Section() Section {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.section
}

// Session returns the logged-in user, if any.
func (a *App) Session() (models.Session, bool) { return a.gate.Current() }

// Search returns the search controller.
func (a *App) Search() *search.Controller { return a.search }

// Selection returns the selected stock model.
func (a *App) Selection() *trading.Selection { return a.selection }

// Trade returns the trade ticket.
func (a *App) Trade() *trading.Controller { return a.trade }

// Portfolio returns the portfolio view.
func (a *App) Portfolio() *views.Portfolio { return a.portfolio }

// Watchlist returns the watchlist view.
func (a *App) Watchlist() *views.Watchlist { return a.watchlist }

// History returns the transaction history view.
func (a *App) History() *views.History { return a.history }

// Insights returns the AI insight cache.
func (a *App) Insights() *views.Insights { return a.insights }

// Subscriptions returns the symbols the client wants live prices for.
func (a *App) Subscriptions() []string { return a.registry.Desired() }

// TickMetrics returns the tick loop counters.
func (a *App) TickMetrics() stream.DispatcherMetrics { return a.dispatcher.GetMetrics() }
