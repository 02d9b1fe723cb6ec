package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/app"
	"github.com/ternarybob/entitle/internal/common"
)

var (
	// Command-line flags
	configFiles []string
	baseURL     string
	dataDir     string
	logLevel    string
	quiet       bool

	// Global state
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "entitle",
	Short: "Bulk entitlement grants from a pooled credential inventory",
	Long: `entitle grants time-limited entitlements to a target resource using
credentials drawn from a local inventory, split across a bounded set of
concurrent workers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Startup order: config (defaults -> files -> env) -> flags -> logger -> banner
		if len(configFiles) == 0 {
			if _, err := os.Stat("entitle.toml"); err == nil {
				configFiles = append(configFiles, "entitle.toml")
			}
		}

		var err error
		config, err = common.LoadFromFiles(configFiles...)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		common.ApplyFlagOverrides(config, baseURL, dataDir, logLevel)
		if err := config.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		logger = common.InitLogger(config)
		common.InstallCrashHandler(config.Logging.Dir)
		if !quiet {
			common.PrintBanner(common.LoadVersionFromFile())
		}

		logger.Debug().
			Strs("config_files", configFiles).
			Str("base_url", config.Remote.BaseURL).
			Str("data_dir", config.Inventory.DataDir).
			Str("badger_path", config.Storage.Badger.Path).
			Str("log_level", config.Logging.Level).
			Msg("Resolved configuration")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Platform API base URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Credential inventory directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress the startup banner")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stockCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(leaveCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveAuditCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	defer common.RecoverWithCrashFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// openApp initializes the application from the resolved configuration
func openApp() (*app.App, error) {
	application, err := app.New(config, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return application, nil
}

// printJSON writes v to stdout, indented
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
