package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/homefix/messenger/internal/config"
	"github.com/homefix/messenger/internal/logger"
	"github.com/homefix/messenger/internal/metrics"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Global flags.
var (
	envFile     string
	adminScope  bool
	outputFmt   string
	metricsAddr string
	logLevel    string
)

// cfg is resolved once per invocation in the root pre-run hook.
var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "messenger",
	Short: "Marketplace messaging client",
	Long: `messenger talks to the home-services marketplace messaging API.
It keeps one login per session domain, lists conversations, sends messages
and follows incoming messages over the realtime channel.`,
	Version:           fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&envFile, "config", "c", "", "env file to load (default .env)")
	rootCmd.PersistentFlags().BoolVar(&adminScope, "admin", false, "use the admin dashboard session instead of the app session")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "text", "output format: text or yaml")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides METRICS_ADDR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg = config.Load(envFile)
	if adminScope {
		cfg.TokenKey = config.AdminTokenKey
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	switch outputFmt {
	case "text", "yaml":
	default:
		return fmt.Errorf("unknown output format %q", outputFmt)
	}

	if err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	go func() {
		logger.Log.Infow("[metrics] listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Warnw("[metrics] server stopped", "err", err)
		}
	}()
}
