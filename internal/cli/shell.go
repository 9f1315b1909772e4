package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"simtrader/internal/app"
	"simtrader/internal/broker"
	"simtrader/internal/models"
	"simtrader/internal/notify"
)

const shellHelp = `Commands:
  login <username>              log in
  register <username> [email]  create an account and log in
  logout                        end the session
  search <text>                 search stocks by symbol or name
  select <symbol>               select a stock for trading
  trade <symbol>                switch to trading with <symbol> selected
  shares <n>                    set the number of shares
  buy [n] | sell [n]            submit a trade for the selected stock
  watch                         add the selected stock to the watchlist
  unwatch <symbol>              remove a stock from the watchlist
  show <section>                portfolio, trading, watchlist or history
  portfolio | watchlist | history
  recommendations               AI portfolio recommendations
  predict [days]                AI price prediction for the selected stock
  status                        session and live price status
  help                          this text
  quit                          leave the shell`

func newShellCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive trading session",
		Long: `Start an interactive session against the simulator backend.

Prices of held, watched and selected stocks update live while the shell runs.
Type 'help' at the prompt for the list of commands.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.Config

			backend, err := env.newBackend()
			if err != nil {
				return err
			}
			ticker := broker.NewWSTicker(broker.WSTickerConfig{
				URL:        cfg.Push.URL,
				Jar:        backend.Jar(),
				Reconnect:  cfg.Push.Reconnect,
				MaxRetries: cfg.Push.MaxRetries,
				BaseDelay:  cfg.Push.BaseDelay,
				Logger:     env.Logger,
			})

			jsonMode, _ := cmd.Flags().GetBool("json")
			colorEnabled := cfg.UI.ColorEnabled && !jsonMode && isTerminal()
			w := newSyncWriter(cmd.OutOrStdout())

			terminal := notify.NewTerminalNotifier(w, colorEnabled)
			terminal.SetBellEnabled(cfg.UI.Bell)
			notifier := notify.NewMultiNotifier(notify.LevelAll, terminal, logNotifier(env.Logger))

			a := app.New(backend, ticker, notifier, app.OptionsFromConfig(cfg), env.Logger)
			shell := NewShell(a, NewOutputTo(w, jsonMode, colorEnabled))
			return shell.Run(cmd.Context(), cmd.InOrStdin())
		},
	}
}

// logNotifier mirrors notifications into the log file.
func logNotifier(logger zerolog.Logger) notify.Notifier {
	return notify.NotifierFunc(func(n notify.Notification) {
		logger.Debug().Str("kind", string(n.Kind)).Msg(n.Message)
	})
}

// Shell is a line-oriented front end over app.App.
type Shell struct {
	app *app.App
	out *Output
}

// NewShell creates a shell and prints search results as they arrive.
func NewShell(a *app.App, out *Output) *Shell {
	s := &Shell{app: a, out: out}
	a.Search().OnResults(func(results []models.SearchResult) {
		_ = renderSearchResults(out, results)
	})
	return s
}

// Run resumes any stored session and reads commands from in until EOF,
// quit, or ctx is cancelled.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	if err := s.app.Start(ctx); err != nil {
		s.out.Warning("Backend unavailable: %v", err)
	}
	defer s.app.Close()

	if !s.out.IsJSON() {
		s.out.Printf("simtrader v%s\n", Version)
		if sess, ok := s.app.Session(); ok {
			s.out.Success("Logged in as %s", sess.Username)
			s.render("portfolio")
		} else {
			s.out.Dim("Type 'login <username>' or 'register <username> [email]' to start.")
		}
	}

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		s.prompt()
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if s.Exec(ctx, line) {
				return nil
			}
		}
	}
}

func (s *Shell) prompt() {
	if s.out.IsJSON() {
		return
	}
	name := "guest"
	if sess, ok := s.app.Session(); ok {
		name = sess.Username
	}
	s.out.Printf("%s> ", s.out.Cyan(name))
}

// Exec runs one input line and reports whether the shell should exit.
// Command failures are already shown by the notifier.
func (s *Shell) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	action, err := parseLine(line)
	if err != nil {
		s.out.Warning("%v", err)
		return false
	}
	if action.quit {
		return true
	}

	for _, cmd := range action.cmds {
		if err := s.app.Dispatch(ctx, cmd); err != nil {
			return false
		}
	}
	s.render(action.view)
	return false
}

func (s *Shell) render(view string) {
	var err error
	switch view {
	case "":
		return
	case "help":
		s.out.Println(shellHelp)
	case string(app.SectionPortfolio):
		pf, ok := s.app.Portfolio().Snapshot()
		if !ok {
			s.out.Dim("Portfolio not loaded")
			return
		}
		err = renderPortfolio(s.out, pf)
	case string(app.SectionWatchlist):
		err = renderWatchlist(s.out, s.app.Watchlist().Snapshot())
	case string(app.SectionHistory):
		err = renderHistory(s.out, s.app.History().Snapshot())
	case "stock":
		err = s.renderStock()
	case "recommendations":
		if rec, ok := s.app.Insights().LatestRecommendations(); ok {
			err = renderInsight(s.out, "AI Recommendations", rec)
		}
	case "prediction":
		stock, ok := s.app.Selection().Current()
		if !ok {
			return
		}
		if pred, ok := s.app.Insights().Prediction(stock.Symbol); ok {
			err = renderInsight(s.out, "AI Prediction: "+stock.Symbol, pred)
		}
	case "status":
		err = s.renderStatus()
	}
	if err != nil {
		s.out.Error("Render failed: %v", err)
	}
}

func (s *Shell) renderStock() error {
	stock, ok := s.app.Selection().Current()
	if !ok {
		s.out.Dim("No stock selected")
		return nil
	}
	trade := s.app.Trade()
	return renderStock(s.out, stock, trade.SharesInput(), trade.Estimate().InexactFloat64())
}

type shellStatus struct {
	User          string   `json:"user,omitempty"`
	Section       string   `json:"section"`
	Subscriptions []string `json:"subscriptions"`
	TicksReceived uint64   `json:"ticks_received"`
	TicksDropped  uint64   `json:"ticks_dropped"`
}

func (s *Shell) renderStatus() error {
	metrics := s.app.TickMetrics()
	status := shellStatus{
		Section:       string(s.app.Section()),
		Subscriptions: s.app.Subscriptions(),
		TicksReceived: metrics.TicksReceived,
		TicksDropped:  metrics.TicksDropped,
	}
	if sess, ok := s.app.Session(); ok {
		status.User = sess.Username
	}
	if s.out.IsJSON() {
		return s.out.JSON(status)
	}

	user := status.User
	if user == "" {
		user = "(not logged in)"
	}
	s.out.Printf("User:     %s\n", user)
	s.out.Printf("Section:  %s\n", status.Section)
	s.out.Printf("Live:     %s\n", strings.Join(status.Subscriptions, ", "))
	s.out.Printf("Ticks:    %d received, %d dropped\n", status.TicksReceived, status.TicksDropped)
	return nil
}

// shellAction is a parsed input line: commands to dispatch in order and the
// view to print once they all succeed.
type shellAction struct {
	cmds []app.Command
	view string
	quit bool
}

func parseLine(line string) (shellAction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return shellAction{}, nil
	}
	name, args := strings.ToLower(fields[0]), fields[1:]

	switch name {
	case "quit", "exit":
		return shellAction{quit: true}, nil
	case "help", "?":
		return shellAction{view: "help"}, nil
	case "status":
		return shellAction{view: "status"}, nil

	case "login":
		if len(args) != 1 {
			return shellAction{}, usageError("login <username>")
		}
		return single(app.Login{Username: args[0]}, ""), nil

	case "register":
		if len(args) < 1 || len(args) > 2 {
			return shellAction{}, usageError("register <username> [email]")
		}
		cmd := app.Register{Username: args[0]}
		if len(args) == 2 {
			cmd.Email = args[1]
		}
		return single(cmd, ""), nil

	case "logout":
		return single(app.Logout{}, ""), nil

	case "search":
		// Keep the raw remainder so the controller sees exactly what was typed.
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return single(app.SearchInput{Text: text}, ""), nil

	case "select":
		if len(args) != 1 {
			return shellAction{}, usageError("select <symbol>")
		}
		return single(app.SelectStock{Symbol: args[0]}, "stock"), nil

	case "trade":
		if len(args) != 1 {
			return shellAction{}, usageError("trade <symbol>")
		}
		return single(app.TradeForSymbol{Symbol: args[0]}, "stock"), nil

	case "shares":
		if len(args) != 1 {
			return shellAction{}, usageError("shares <n>")
		}
		return single(app.SetShares{Input: args[0]}, "stock"), nil

	case "buy", "sell":
		kind := models.TradeKind(name)
		switch len(args) {
		case 0:
			return single(app.SubmitTrade{Kind: kind}, "stock"), nil
		case 1:
			return shellAction{
				cmds: []app.Command{app.SetShares{Input: args[0]}, app.SubmitTrade{Kind: kind}},
				view: "stock",
			}, nil
		}
		return shellAction{}, usageError(name + " [shares]")

	case "watch":
		return single(app.AddToWatchlist{}, ""), nil

	case "unwatch":
		if len(args) != 1 {
			return shellAction{}, usageError("unwatch <symbol>")
		}
		return single(app.RemoveFromWatchlist{Symbol: args[0]}, string(app.SectionWatchlist)), nil

	case "show":
		if len(args) != 1 {
			return shellAction{}, usageError("show <portfolio|trading|watchlist|history>")
		}
		return showAction(strings.ToLower(args[0]))

	case "portfolio", "watchlist", "history":
		return showAction(name)

	case "recommendations", "recs":
		return single(app.ShowSection{Section: app.SectionTrading}, "recommendations"), nil

	case "predict":
		var days int
		if len(args) > 1 {
			return shellAction{}, usageError("predict [days]")
		}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return shellAction{}, fmt.Errorf("invalid number of days %q", args[0])
			}
			days = n
		}
		return single(app.RequestPrediction{Days: days}, "prediction"), nil
	}

	return shellAction{}, fmt.Errorf("unknown command %q (type 'help')", name)
}

func showAction(section string) (shellAction, error) {
	sec, ok := app.ParseSection(section)
	if !ok {
		return shellAction{}, fmt.Errorf("unknown section %q", section)
	}
	view := string(sec)
	if sec == app.SectionTrading {
		view = "stock"
	}
	return single(app.ShowSection{Section: sec}, view), nil
}

func single(cmd app.Command, view string) shellAction {
	return shellAction{cmds: []app.Command{cmd}, view: view}
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
