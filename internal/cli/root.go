// Package cli provides the command-line interface for the simulator client.
package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"simtrader/internal/broker"
	"simtrader/internal/config"
	"simtrader/internal/logging"
	"simtrader/internal/models"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// lenientConfig marks commands that run even when config.toml fails validation.
const lenientConfig = "lenient-config"

// Env holds what every command needs once flags are parsed.
type Env struct {
	ConfigDir string
	Config    *config.Config
	// LoadErr is set when the config failed to load for a lenient command.
	LoadErr error
	Logger  zerolog.Logger
}

// NewRootCmd creates the root command. The config is loaded from the
// --config directory before any subcommand runs.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	env := &Env{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "simtrader",
		Short: "Real-time client for the trading simulator",
		Long: `simtrader keeps a simulated trading account in sync with the simulator
backend: portfolio, watchlist and selected stock follow live prices pushed over
a websocket, and trades are confirmed by the server before the view changes.

Use 'simtrader shell' to start an interactive session.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/simtrader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(env))
	rootCmd.AddCommand(newQuoteCmd(env))
	rootCmd.AddCommand(newShellCmd(env))

	return rootCmd
}

func (e *Env) load(cmd *cobra.Command) error {
	dir, _ := cmd.Flags().GetString("config")
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	e.ConfigDir = dir

	cfg, err := config.Load(dir)
	if err != nil {
		if _, ok := cmd.Annotations[lenientConfig]; !ok {
			return err
		}
		e.LoadErr = err
		cfg = config.Default()
	}

	debug, _ := cmd.Flags().GetBool("debug")
	if debug {
		cfg.Logging.Level = "debug"
	}
	e.Config = cfg
	e.Logger = logging.NewLoggerWithConfig(cfg.Logging.LogConfig())
	e.Logger.Debug().Str("config_dir", dir).Msg("Configuration loaded")
	return nil
}

func (e *Env) newBackend() (*broker.HTTPBackend, error) {
	return broker.NewHTTPBackend(broker.HTTPConfig{
		BaseURL: e.Config.Backend.BaseURL,
		Timeout: e.Config.Backend.Timeout,
		Breaker: broker.BreakerConfig{
			FailureThreshold: e.Config.Backend.BreakerThreshold,
			Cooldown:         e.Config.Backend.BreakerCooldown,
		},
		Logger: e.Logger,
	})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Annotations: map[string]string{
			lenientConfig: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("simtrader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the client configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(env.Config)
			}
			showConfig(output, env.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Annotations: map[string]string{
			lenientConfig: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(env.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Annotations: map[string]string{
			lenientConfig: "true",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			err := env.LoadErr
			if err == nil {
				err = env.Config.Validate()
			}
			if output.IsJSON() {
				result := map[string]interface{}{"valid": err == nil}
				if err != nil {
					result["error"] = err.Error()
				}
				if jerr := output.JSON(result); jerr != nil {
					return jerr
				}
				return err
			}
			if err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Println(output.BoldText("Backend"))
	output.Printf("  Base URL:        %s\n", cfg.Backend.BaseURL)
	output.Printf("  Timeout:         %s\n", cfg.Backend.Timeout)
	output.Printf("  Breaker:         %d failures, %s cooldown\n", cfg.Backend.BreakerThreshold, cfg.Backend.BreakerCooldown)
	output.Println()

	output.Println(output.BoldText("Push Channel"))
	output.Printf("  URL:             %s\n", cfg.Push.URL)
	output.Printf("  Reconnect:       %v\n", cfg.Push.Reconnect)
	output.Printf("  Max Retries:     %d\n", cfg.Push.MaxRetries)
	output.Printf("  Base Delay:      %s\n", cfg.Push.BaseDelay)
	output.Println()

	output.Println(output.BoldText("Client"))
	output.Printf("  Search Debounce: %s\n", cfg.Search.Debounce)
	output.Printf("  Default Shares:  %s\n", cfg.Trading.DefaultShares)
	output.Printf("  History Limit:   %d\n", cfg.History.Limit)
	output.Printf("  Prediction Days: %d\n", cfg.Insights.PredictionDays)
	output.Printf("  Color:           %v\n", cfg.UI.ColorEnabled)
	output.Printf("  Bell:            %v\n", cfg.UI.Bell)
	output.Println()

	output.Println(output.BoldText("Logging"))
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	output.Printf("  Console:         %v\n", cfg.Logging.Console)
	output.Printf("  File:            %v\n", cfg.Logging.File)
	if cfg.Logging.File {
		output.Printf("  File Path:       %s\n", cfg.Logging.FilePath)
	}
}

func newQuoteCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "quote <symbol>",
		Short: "Show the current price of a stock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := env.newBackend()
			if err != nil {
				return err
			}
			return runQuote(cmd.Context(), NewOutput(cmd), backend, args[0])
		},
	}
}

// StockInfoFetcher is the part of the backend quote needs.
type StockInfoFetcher interface {
	StockInfo(ctx context.Context, symbol string) (*models.Stock, error)
}

func runQuote(ctx context.Context, output *Output, fetcher StockInfoFetcher, symbol string) error {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	stock, err := fetcher.StockInfo(ctx, symbol)
	if err != nil {
		return err
	}
	if output.IsJSON() {
		return output.JSON(stock)
	}

	output.Printf("%s  %s\n", output.BoldText(stock.Symbol), stock.Name)
	output.Printf("  %s\n", quoteLine(output, *stock))
	return nil
}
