// Package cli provides the command-line interface for the market engine.
package cli

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"market-engine/internal/config"
	"market-engine/internal/logging"
	"market-engine/internal/security"
	"market-engine/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.DataStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if cfg.Store.Enabled {
		dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize store, candle and order history unavailable")
		} else {
			app.Store = dataStore
			logger.Debug().Str("path", cfg.Store.Path).Msg("SQLite store initialized")
		}
	}

	rootCmd := &cobra.Command{
		Use:   "engine",
		Short: "Market data aggregation and order risk engine",
		Long: `Market Engine streams live quotes for one instrument, aggregates them
into one-minute candles, computes margin requirements and submits orders
through the pre-trade risk and persistence services.

Domestic instruments (MCX, NSE, CDS_OPT, COMMODITY) are served by the
domestic feed; FOREX and CRYPTO by the international feed in USD.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Store != nil {
				app.Store.Close()
			}
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/market-engine)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addOrderCommands(rootCmd, app)
	addHistoryCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Market Engine v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redactedConfig(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("✓ Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

// redactedConfig returns a copy of cfg with credentials masked.
func redactedConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Feeds.DomesticURL = security.MaskURL(cfg.Feeds.DomesticURL)
	out.Feeds.InternationalURL = security.MaskURL(cfg.Feeds.InternationalURL)
	out.Currency.RateURL = security.MaskURL(cfg.Currency.RateURL)
	out.Backend.BaseURL = security.MaskURL(cfg.Backend.BaseURL)
	out.Redis.Password = security.MaskCredential(cfg.Redis.Password)
	return out
}

func showConfig(output *Output, cfg *config.Config) error {
	output.Bold("Feeds")
	output.Printf("  Domestic:        %s\n", security.MaskURL(cfg.Feeds.DomesticURL))
	output.Printf("  International:   %s\n", security.MaskURL(cfg.Feeds.InternationalURL))
	output.Printf("  Handshake:       %s\n", cfg.Feeds.HandshakeTimeout)
	output.Println()

	output.Bold("Currency")
	output.Printf("  Rate URL:        %s\n", security.MaskURL(cfg.Currency.RateURL))
	output.Printf("  Currency:        %s\n", cfg.Currency.Currency)
	output.Printf("  Refresh:         %s\n", cfg.Currency.RefreshInterval)
	output.Printf("  Default Rate:    %.4f\n", cfg.Currency.DefaultRate)
	output.Println()

	output.Bold("Backend")
	output.Printf("  Base URL:        %s\n", security.MaskURL(cfg.Backend.BaseURL))
	output.Printf("  User ID:         %s\n", cfg.Backend.UserID)
	output.Printf("  Timeout:         %s\n", cfg.Backend.Timeout)
	output.Printf("  Breaker:         %d failures, %s reset\n", cfg.Backend.FailureThreshold, cfg.Backend.ResetTimeout)
	output.Println()

	output.Bold("Exposure")
	output.Printf("  Source:          %s\n", cfg.Exposure.Source)
	if cfg.Exposure.Source == "redis" {
		output.Printf("  Redis:           %s (db %d)\n", cfg.Redis.Addr, cfg.Redis.DB)
		if cfg.Redis.Password != "" {
			output.Printf("  Redis Password:  %s\n", security.MaskCredential(cfg.Redis.Password))
		}
		output.Printf("  Key Prefix:      %s\n", cfg.Exposure.KeyPrefix)
	}
	table := NewTable(output, "CLASS", "MODE", "INTRADAY", "HOLDING", "ROOTS")
	classes := make([]string, 0, len(cfg.Exposure.Classes))
	for class := range cfg.Exposure.Classes {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		ce := cfg.Exposure.Classes[class]
		mode := ce.Mode
		if mode == "" {
			mode = "flat_ratio"
		}
		table.AddRow(
			strings.ToUpper(class),
			mode,
			formatRatio(ce.IntradayRatio),
			formatRatio(ce.HoldingRatio),
			formatCount(len(ce.PerLot)),
		)
	}
	table.Render()
	output.Println()

	output.Bold("Store")
	output.Printf("  Enabled:         %v\n", cfg.Store.Enabled)
	output.Printf("  Path:            %s\n", cfg.Store.Path)
	output.Printf("  Candle History:  %d\n", cfg.Candles.HistorySize)

	return nil
}
