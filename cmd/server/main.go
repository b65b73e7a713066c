/*
main.go - Application entry point

PURPOSE:
  Command line for the leave engine: runs the HTTP server and the
  operational jobs (year-start initialization, policy seeding) against the
  configured store.

COMMANDS:
  serve           Start the HTTP API
  init-year       Open the balances of a year for every employee and policy
  seed-policies   Load policies (and optionally the directory) from a file

STARTUP SEQUENCE:
  1. Load configuration (config.yaml, then environment overrides)
  2. Initialize the zap logger
  3. Open the store (memory or SQLite)
  4. Wire ledger, service and year initializer with Prometheus observers
  5. Run the command

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the server stops accepting connections, waits up to
  server.shutdown_timeout for active requests, then closes the store.

EXAMPLES:
  # Run with the in-memory store and demo scenarios
  DATABASE_PATH=memory SERVER_DEMO=true ./server serve

  # Open 2026 from the SQLite file
  ./server init-year --year 2026

  # Seed policies from YAML
  ./server seed-policies --file policies.yaml

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Leave management engine",
	Long: `Leave applications with multi-step approval, backed by a versioned
balance ledger per employee, leave type and year.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./config.yaml)")
	rootCmd.AddCommand(serveCmd, initYearCmd, seedPoliciesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and initializes the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}
