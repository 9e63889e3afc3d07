/*
main.go - Application entry point

PURPOSE:
  Starts the hostel billing server, or runs one generation from the
  command line. Handles configuration, dependency wiring and graceful
  shutdown.

COMMANDS:
  serve      HTTP API + background generation sweeper (default)
  generate   One RunGeneration call for a scope, then exit

CONFIGURATION:
  --config   Path to a YAML config file (optional)
  Every key can be overridden by HOSTEL_* environment variables, e.g.
  HOSTEL_HTTP_PORT=3000 or HOSTEL_DATABASE_PATH=":memory:". A .env file
  in the working directory is loaded first.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweeper (an in-flight sweep is cancelled, committed
     obligations stay)
  2. Stop accepting new connections and drain active requests
  3. Close the database

EXAMPLES:
  ./server serve --config ./config/config.yaml
  ./server generate --scope block-a --kind block --refresh

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - api/scheduler.go: Generation sweeper
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/hostel-billing/api"
	"github.com/warp/hostel-billing/billing"
	"github.com/warp/hostel-billing/clock"
	"github.com/warp/hostel-billing/config"
	"github.com/warp/hostel-billing/logger"
	"github.com/warp/hostel-billing/metrics"
	"github.com/warp/hostel-billing/store/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "server",
		Short:         "Hostel rent billing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML config file")

	serve := serveCmd(&configFile)
	root.AddCommand(serve, generateCmd(&configFile))
	root.RunE = serve.RunE
	return root
}

// app is the wired dependency graph shared by the commands.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	store   *sqlite.Store
	metrics *metrics.Metrics
	handler *api.Handler
}

func newApp(configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}

	if dir := dataDir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create data directory %s", dir)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, errors.Wrap(err, "initialize database")
	}

	m := metrics.New()
	handler := api.NewHandler(store, log, api.WithRecorder(m))
	return &app{cfg: cfg, log: log, store: store, metrics: m, handler: handler}, nil
}

// dataDir is the directory holding a file database, or "" for in-memory
// and URI DSNs.
func dataDir(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return ""
	}
	if dir := filepath.Dir(path); dir != "." {
		return dir
	}
	return ""
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn("close database", zap.Error(err))
	}
	_ = a.log.Sync()
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the generation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	sc := a.cfg.Scheduler
	sweeper := api.NewGenerationSweeper(a.store, a.handler.Scheduler, a.log)
	sweeper.Enabled = sc.Enabled
	sweeper.Interval = sc.Interval
	sweeper.Concurrency = sc.Concurrency
	sweeper.RunTimeout = sc.RunTimeout

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.HTTP.Port),
		Handler:      api.NewRouter(a.handler, a.metrics.Handler(), a.cfg.HTTP.AllowedOrigins),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  2 * a.cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.log.Info("server starting", zap.String("addr", server.Addr), zap.String("database", a.cfg.Database.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	sweeper.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serveErr:
		runErr = errors.Wrap(runErr, "http server")
	}

	a.log.Info("shutting down")
	sweeper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "server forced to shutdown")
	}
	a.log.Info("server stopped")
	return runErr
}

func generateCmd(configFile *string) *cobra.Command {
	var (
		scopeID string
		kind    string
		refresh bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate rent obligations for one hostel or block",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile)
			if err != nil {
				return err
			}
			defer a.close()

			now := clock.Real{}.Now()
			periods := []billing.PeriodKey{billing.PeriodOf(now).Next()}
			if refresh {
				periods = billing.CurrentAndNext(now)
			}

			result, err := a.handler.Scheduler.RunGeneration(cmd.Context(), billing.ScopeID(scopeID), billing.ScopeKind(kind), periods)
			if err != nil {
				return err
			}
			if result.Disabled {
				fmt.Fprintf(cmd.OutOrStdout(), "rent generation is disabled for %s %s\n", kind, scopeID)
				return nil
			}
			for _, p := range result.Periods {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d generated\n", p, result.Generated(p))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "skipped %d, failed %d\n", result.Skipped, len(result.Failures))
			for _, f := range result.Failures {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s %s: %v\n", f.TenantID, f.Period, f.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeID, "scope", "", "hostel or block id")
	cmd.Flags().StringVar(&kind, "kind", string(billing.ScopeHostel), "scope kind: hostel or block")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "ensure the current month as well as the next")
	_ = cmd.MarkFlagRequired("scope")
	return cmd
}
