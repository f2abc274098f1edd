package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/pagefetch/internal/config"
	"github.com/Sternrassler/pagefetch/pkg/client"
	"github.com/Sternrassler/pagefetch/pkg/fetch"
	"github.com/Sternrassler/pagefetch/pkg/logging"
	"github.com/Sternrassler/pagefetch/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "dev"

// errResourcesFailed is returned when at least one resource ended in error.
var errResourcesFailed = errors.New("one or more resources failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cmd := newRootCommand(os.Stdout, os.Stderr)
	err := cmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "pagefetch [resource...]",
		Short: "Fetch every page of paginated JSON API resources",
		Long: `Fetch all pages of one or more resources of a paginated JSON API
({base_url}/{resource}?_page={n}) concurrently, with per-page retries and a
per-resource failure budget.

Resources: posts, comments, albums, photos, todos, users.
Without arguments the configured resources are fetched (default: posts, comments).`,
		Args:          cobra.ArbitraryArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile, args)
			if err != nil {
				return err
			}
			cfg.Log.Pretty = choosePretty(prettyExplicit(v, cmd), cfg.Log.Pretty, logging.IsTerminal(stderr))
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}

	d := config.Default()
	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	flags.String("base-url", d.BaseURL, "API base URL")
	flags.Int("max-attempts", d.Retry.MaxAttempts, "attempts per page, including the first")
	flags.Duration("initial-backoff", d.Retry.InitialBackoff, "wait before the first retry (0 retries immediately)")
	flags.Int("failure-budget", d.FailureBudget, "consecutive failed pages tolerated per resource")
	flags.Duration("timeout", d.Timeout, "timeout per page attempt")
	flags.Int("concurrency", d.MaxConcurrency, "resources fetched at once (0 = all)")
	flags.String("user-agent", d.UserAgent, "User-Agent header")
	flags.StringP("output", "o", d.Output, "output format (text, json, yaml, table)")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.Bool("pretty", d.Log.Pretty, "human-readable logs (default when stderr is a terminal)")
	flags.String("metrics-addr", d.MetricsAddr, "serve Prometheus metrics on this address, e.g. :9090")

	bindFlags(v, cmd, map[string]string{
		"base_url":              "base-url",
		"retry.max_attempts":    "max-attempts",
		"retry.initial_backoff": "initial-backoff",
		"failure_budget":        "failure-budget",
		"timeout":               "timeout",
		"max_concurrency":       "concurrency",
		"user_agent":            "user-agent",
		"output":                "output",
		"log.level":             "log-level",
		"log.pretty":            "pretty",
		"metrics_addr":          "metrics-addr",
	})

	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(flag))
	}
}

// prettyExplicit reports whether log.pretty came from a flag, the
// environment or the config file rather than its default.
func prettyExplicit(v *viper.Viper, cmd *cobra.Command) bool {
	if cmd.Flags().Changed("pretty") || v.InConfig("log.pretty") {
		return true
	}
	_, ok := os.LookupEnv(config.EnvPrefix + "_LOG_PRETTY")
	return ok
}

// choosePretty defaults to console logs on a terminal unless the user
// decided either way.
func choosePretty(explicit, configured, tty bool) bool {
	if explicit {
		return configured
	}
	return configured || tty
}

// loadConfig merges all configuration sources. Positional arguments
// replace the configured resources.
func loadConfig(v *viper.Viper, cfgFile string, args []string) (config.Config, error) {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return config.Config{}, err
	}

	if len(args) > 0 {
		cfg.Resources = args
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, stdout, stderr io.Writer) error {
	logging.Setup(cfg.LoggingConfig(stderr))
	logger := logging.NewLogger(logging.ComponentCLI)

	if cfg.MetricsAddr != "" {
		srv := metrics.NewServer(cfg.MetricsAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer c.Close()

	fetchCfg, err := cfg.FetchConfig()
	if err != nil {
		return err
	}
	if cfg.Output == config.OutputText {
		fetchCfg.OnItem = newItemPrinter(stdout)
	}

	o, err := fetch.New(fetchCfg, c)
	if err != nil {
		return err
	}

	results := o.Run(ctx)

	if err := render(stdout, stderr, cfg.Output, results); err != nil {
		return fmt.Errorf("render results: %w", err)
	}

	if ctx.Err() != nil {
		logger.Warn().Msg("Fetch interrupted - results are partial")
	}

	if err := results.Err(); err != nil {
		logger.Error().Err(err).Strs("failed", resourceNames(results.Failed())).Msg("Fetch completed with errors")
		return fmt.Errorf("%w: %w", errResourcesFailed, err)
	}

	return nil
}

func resourceNames(resources []client.Resource) []string {
	names := make([]string, 0, len(resources))
	for _, r := range resources {
		names = append(names, string(r))
	}
	return names
}
