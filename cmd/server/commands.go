package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// SERVE
// =============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logger.L()
	handler := api.NewHandler(a.store, a.service, a.year)
	handler.Log = log.Named("api")

	// A demo server on the memory store starts with the demo organization;
	// anything else only gets default policies when it has none.
	if cfg.Server.Demo && cfg.Database.InMemory() {
		if err := handler.LoadScenarioByID(ctx, "org"); err != nil {
			return err
		}
	} else if err := a.ensurePolicies(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Demo:           cfg.Server.Demo,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			zap.String("addr", server.Addr),
			zap.Bool("demo", cfg.Server.Demo),
			zap.Bool("in_memory", cfg.Database.InMemory()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// =============================================================================
// INIT-YEAR
// =============================================================================

var initYearCmd = &cobra.Command{
	Use:   "init-year",
	Short: "Open the balances of a year for every employee and policy",
	Long: `Creates the opening balance of every (employee, leave type) pair for the
given year, carrying forward the previous year's remainder where the policy
allows it. Existing balances are skipped unless --force is set.`,
	RunE: runInitYear,
}

func init() {
	initYearCmd.Flags().Int("year", 0, "year to initialize (default: current year)")
	initYearCmd.Flags().Bool("force", false, "re-open balances that already exist")
	seedPoliciesCmd.Flags().StringP("file", "f", "", "policy document (.yaml, .yml or .json)")
	_ = seedPoliciesCmd.MarkFlagRequired("file")
}

func runInitYear(cmd *cobra.Command, args []string) error {
	year, _ := cmd.Flags().GetInt("year")
	force, _ := cmd.Flags().GetBool("force")
	if year == 0 {
		year = time.Now().Year()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	report, err := a.year.Run(cmd.Context(), year, force)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "year %d: %d initialized, %d skipped, %d failed, %s days carried\n",
		report.Year, report.Initialized, report.Skipped, len(report.Failures), report.CarriedDays)
	for _, f := range report.Failures {
		fmt.Fprintf(os.Stdout, "  %s/%s: %s\n", f.EmployeeID, f.LeaveType, f.Error)
	}
	if len(report.Failures) > 0 {
		return fmt.Errorf("%d balances failed to initialize", len(report.Failures))
	}
	return nil
}

// =============================================================================
// SEED-POLICIES
// =============================================================================

var seedPoliciesCmd = &cobra.Command{
	Use:   "seed-policies",
	Short: "Load policies and directory entries from a file",
	RunE:  runSeedPolicies,
}

func runSeedPolicies(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	doc, err := factory.NewPolicyFactory().LoadFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close() //nolint:errcheck

	if err := doc.Apply(cmd.Context(), a.service.Policies, a.store); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "applied %d policies, %d departments, %d employees from %s\n",
		len(doc.Policies), len(doc.Departments), len(doc.Employees), path)
	return nil
}
