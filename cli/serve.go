package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/smartcalc/config"
	"github.com/petal-labs/smartcalc/otel"
	"github.com/petal-labs/smartcalc/server"
	"github.com/petal-labs/smartcalc/store"
)

const shutdownTimeout = 30 * time.Second

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the calculator HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("config", "", "Path to smartcalc.yaml")
	cmd.Flags().String("store", config.DriverMemory, "Session store: memory | sqlite")
	cmd.Flags().String("sqlite-path", "", "Path to SQLite database (default: ~/.smartcalc/smartcalc.db)")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Int("max-depth", 0, "Maximum expression nesting depth (default from config)")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().String("otlp-endpoint", "", "OTLP/HTTP trace collector endpoint (host:port or URL)")

	return cmd
}

// applyServeFlags copies explicitly set flags over the loaded config so that
// file values survive when a flag is left at its default.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-body") {
		cfg.Server.MaxBody, _ = flags.GetInt64("max-body")
	}
	if flags.Changed("read-timeout") {
		cfg.Server.ReadTimeout, _ = flags.GetDuration("read-timeout")
	}
	if flags.Changed("write-timeout") {
		cfg.Server.WriteTimeout, _ = flags.GetDuration("write-timeout")
	}
	if flags.Changed("max-depth") {
		cfg.Limits.MaxDepth, _ = flags.GetInt("max-depth")
	}
	if flags.Changed("store") {
		cfg.Store.Driver, _ = flags.GetString("store")
	}
	// A SQLite path implies the SQLite store.
	if flags.Changed("sqlite-path") && !flags.Changed("store") {
		cfg.Store.Driver = config.DriverSQLite
	}
	if flags.Changed("otlp-endpoint") {
		cfg.Telemetry.OTLPEndpoint, _ = flags.GetString("otlp-endpoint")
	}
}

// openStore opens the store selected by cfg.Store.Driver.
func openStore(cfg config.Config, sqliteFlag string) (store.Store, string, error) {
	if cfg.Store.Driver != config.DriverSQLite {
		return store.NewMemoryStore(), "memory", nil
	}
	dsn, err := config.ResolveSQLitePath(sqliteFlag, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("resolving sqlite path: %w", err)
	}
	st, err := store.NewSQLiteStore(store.SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		return nil, "", fmt.Errorf("opening sqlite store: %w", err)
	}
	return st, dsn, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) { applyServeFlags(cmd, c) })
	if err != nil {
		return err
	}
	logger := slog.Default()

	shutdownTelemetry, err := otel.Setup(cmd.Context(), otel.TelemetryConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
	})
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", "err", err)
		}
	}()
	observer, err := otel.NewGlobalObserver()
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	sqlitePath, _ := cmd.Flags().GetString("sqlite-path")
	st, location, err := openStore(cfg, sqlitePath)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = st.Close()
	}()
	logger.Info("store opened", "driver", cfg.Store.Driver, "location", location)

	pruner, err := store.NewPruner(store.PrunerConfig{
		Store:     st,
		Schedule:  cfg.History.PruneSchedule,
		Retention: cfg.History.Retention,
		Logger:    logger,
	})
	if err != nil {
		return exitError(exitConfig, "history pruner: %v", err)
	}
	pruner.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = pruner.Stop(ctx)
	}()

	srv := server.NewServer(server.ServerConfig{
		Sessions:     st,
		History:      st,
		Observer:     observer,
		Expr:         cfg.ExprConfig(),
		HistoryLimit: cfg.History.MaxEntries,
		CORSOrigin:   cfg.Server.CORSOrigin,
		MaxBody:      cfg.Server.MaxBody,
		Logger:       logger,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Signal handling
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "SmartCalc listening on %s\n", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}
