// SPDX-License-Identifier: MIT

// Command watchd serves the watch-event API that playtrack sessions report to.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidmember/watchtrack/internal/api"
	"github.com/vidmember/watchtrack/internal/config"
	"github.com/vidmember/watchtrack/internal/daemon"
	wtlog "github.com/vidmember/watchtrack/internal/log"
	"github.com/vidmember/watchtrack/internal/persistence/sqlite"
	"github.com/vidmember/watchtrack/internal/telemetry"
	"github.com/vidmember/watchtrack/internal/version"
	"github.com/vidmember/watchtrack/internal/watchstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger := wtlog.WithComponent("watchd")
		logger.Error().Err(err).Str("event", "watchd.failed").Msg("watchd exited with error")
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	writeConfig string
	verifyDB    string
	showVersion bool
}

func parseFlags(args []string, out io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("watchd", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.configPath, "config", "", "path to config file (YAML)")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write the effective configuration to `path` and exit")
	fs.StringVar(&opts.verifyDB, "verify-db", "", "check the sqlite store (`quick` or `full`) and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.verifyDB != "" && opts.verifyDB != "quick" && opts.verifyDB != "full" {
		return opts, fmt.Errorf("-verify-db must be quick or full, got %q", opts.verifyDB)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, out)
	if err != nil {
		return err
	}
	if opts.showVersion {
		_, err := fmt.Fprintln(out, version.String())
		return err
	}

	wtlog.Configure(wtlog.Config{Level: "info", Service: "watchd", Version: version.Version})
	logger := wtlog.WithComponent("watchd")

	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	wtlog.SetLevel(cfg.LogLevel)

	source := "env+defaults"
	if opts.configPath != "" {
		source = "file"
	}
	logger.Info().Str("event", "config.loaded").Str("source", source).Str("path", opts.configPath).Msg("configuration loaded")

	switch {
	case opts.writeConfig != "":
		if err := config.WriteFile(opts.writeConfig, cfg); err != nil {
			return err
		}
		logger.Info().Str("event", "config.written").Str("path", opts.writeConfig).Msg("configuration written")
		return nil
	case opts.verifyDB != "":
		return verifyStore(cfg, opts.verifyDB, out)
	}

	return serve(ctx, cfg, loader)
}

func verifyStore(cfg config.AppConfig, mode string, out io.Writer) error {
	if cfg.DataDir == "" {
		return errors.New("verify-db requires a data dir")
	}
	path := filepath.Join(cfg.DataDir, watchstore.SqliteFile)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("verify-db: %w", err)
	}
	issues, err := sqlite.VerifyIntegrity(path, mode)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			_, _ = fmt.Fprintln(out, issue)
		}
		return fmt.Errorf("sqlite store %s failed %s check (%d issues)", path, mode, len(issues))
	}
	_, err = fmt.Fprintf(out, "%s: ok\n", path)
	return err
}

func serve(ctx context.Context, cfg config.AppConfig, loader *config.Loader) error {
	logger := wtlog.WithComponent("watchd")

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Version,
		Protocol:       cfg.Telemetry.Protocol,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	store, err := watchstore.NewStore(cfg.StoreSettings())
	if err != nil {
		_ = provider.Shutdown(ctx)
		return fmt.Errorf("open store: %w", err)
	}

	tracingService := ""
	if cfg.Telemetry.Enabled {
		tracingService = cfg.Telemetry.ServiceName
	}
	apiCfg := func(c config.AppConfig) api.Config {
		return api.Config{
			RequireUser:        c.API.RequireUser,
			RateLimit:          c.API.RateLimit,
			RateWindow:         c.API.RateWindow,
			RateLimitWhitelist: c.API.RateLimitWhitelist,
			TracingService:     tracingService,
			Version:            version.Version,
			ServeMetrics:       c.Server.MetricsAddr == "",
		}
	}
	srv, err := api.New(apiCfg(cfg), store)
	if err != nil {
		_ = store.Close()
		_ = provider.Shutdown(ctx)
		return err
	}

	mgr, err := daemon.NewManager(cfg.Server, daemon.Deps{
		Logger:         logger,
		APIHandler:     srv.Handler(),
		MetricsHandler: promhttp.Handler(),
		MetricsAddr:    cfg.Server.MetricsAddr,
	})
	if err != nil {
		_ = store.Close()
		_ = provider.Shutdown(ctx)
		return err
	}
	// LIFO: the store closes after the servers, telemetry flushes last.
	mgr.RegisterShutdownHook("telemetry", provider.Shutdown)
	mgr.RegisterShutdownHook("store", func(context.Context) error { return store.Close() })

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("addr", cfg.Server.ListenAddr).
		Str("store", storeName(cfg)).
		Bool("require_user", cfg.API.RequireUser).
		Msg("starting watchd")

	holder := config.NewConfigHolder(cfg, loader)
	app := daemon.NewApp(logger, mgr, holder, func(c config.AppConfig) {
		srv.ApplyConfig(apiCfg(c))
	})
	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server exiting")
	return nil
}

func storeName(cfg config.AppConfig) string {
	if cfg.Store.Backend != "" {
		return cfg.Store.Backend
	}
	if cfg.DataDir != "" {
		return "sqlite"
	}
	return "memory"
}
