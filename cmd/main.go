// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the mrelay TCP forwarding daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/absmach/mrelay"
	"github.com/absmach/mrelay/pkg/config"
	"github.com/absmach/mrelay/pkg/eventlog"
	"github.com/absmach/mrelay/pkg/handler"
	"github.com/absmach/mrelay/pkg/health"
	"github.com/absmach/mrelay/pkg/metrics"
	"github.com/absmach/mrelay/pkg/relay"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const svcName = "mrelay"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	flags := pflag.NewFlagSet(svcName, pflag.ContinueOnError)
	confFile := flags.StringP("conf-file", "c", "", "read configuration from `FILE` (default $MRELAY_CONF_FILE or /etc/mrelay.conf)")
	foreground := flags.BoolP("foreground", "f", false, "do not run in the background")
	help := flags.BoolP("help", "h", false, "display this help")
	showVersion := flags.BoolP("version", "v", false, "display version information")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\n\n", svcName)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		os.Exit(2)
	}
	if *help {
		flags.Usage()
		return
	}
	if *showVersion {
		fmt.Printf("%s %s\n", svcName, version)
		return
	}

	// .env file is optional.
	_ = godotenv.Load()
	cfg, err := mrelay.NewConfig(env.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse environment: %v\n", err)
		os.Exit(1)
	}
	if *confFile == "" {
		*confFile = cfg.ConfFile
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	if !*foreground {
		logger.Debug("background mode is left to the service manager; running in the foreground")
	}

	if err := run(cfg, *confFile, logger); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error: %s", svcName, err))
		os.Exit(1)
	}
	logger.Info(svcName + " service stopped")
}

func run(cfg mrelay.Config, confFile string, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewLoader(logger)
	rc, err := loader.Load(ctx, confFile)
	if err != nil {
		return err
	}

	pidFile := rc.PIDFile
	if pidFile == "" {
		pidFile = cfg.DefaultPIDFile
	}
	if err := writePIDFile(pidFile); err != nil {
		logger.Warn("failed to write PID file", slog.String("path", pidFile), slog.String("error", err.Error()))
	} else {
		defer os.Remove(pidFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(svcName, reg)

	fileLog := &logSink{logger: logger}
	if err := fileLog.Reset(rc.LogFile, logFormat(rc)); err != nil {
		logger.Error("failed to open event log", slog.String("error", err.Error()))
	}
	defer fileLog.Close()

	events := handler.Multi{
		eventlog.NewSlogHandler(logger),
		metrics.NewHandler(m),
		fileLog,
	}

	engine, err := relay.New(relay.Config{
		InitialSlots: cfg.InitialSlots,
		MaxSlots:     cfg.MaxSlots,
		BufferSize:   cfg.BufferSize,
		Logger:       logger,
	}, rc.Table, events)
	if err != nil {
		return err
	}
	defer engine.Close()

	m.RegisterEngine(func() metrics.EngineStats {
		s := engine.Stats()
		return metrics.EngineStats{
			Listeners: s.Listeners,
			Slots:     s.Slots,
			Active:    s.Active,
			Reloads:   s.Reloads,
			Growths:   s.Growths,
		}
	})

	relayStats := func() health.RelayStats {
		s := engine.Stats()
		return health.RelayStats{
			Listeners: s.Listeners,
			Rules:     s.Rules,
			Slots:     s.Slots,
			Active:    s.Active,
			MaxSlots:  s.MaxSlots,
		}
	}
	checker := health.NewChecker(5 * time.Second)
	checker.RegisterCritical("listeners", health.ListenersCheck(relayStats))
	checker.Register("rules", health.RulesCheck(relayStats))
	checker.Register("slots", health.SlotsCheck(relayStats))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting relay engine",
			slog.String("conf_file", confFile),
			slog.Int("rules", len(rc.Table.Rules)))
		return engine.Run(ctx)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	g.Go(func() error {
		return serveHTTP(ctx, "metrics", cfg.MetricsAddress, metricsMux, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		return serveHTTP(ctx, "health", cfg.HealthAddress, checker.Mux(), cfg.ShutdownTimeout, logger)
	})

	reload := func() {
		rc, err := loader.Load(ctx, confFile)
		if err != nil {
			logger.Error("failed to reload configuration, keeping current rules", slog.String("error", err.Error()))
			return
		}
		if err := fileLog.Reset(rc.LogFile, logFormat(rc)); err != nil {
			logger.Error("failed to reopen event log", slog.String("error", err.Error()))
		}
		if err := engine.Reload(rc.Table); err != nil {
			logger.Error("failed to apply reloaded rules", slog.String("error", err.Error()))
			return
		}
		logger.Info("configuration reloaded", slog.Int("rules", len(rc.Table.Rules)))
	}

	g.Go(func() error {
		return handleSignals(ctx, cancel, reload, logger)
	})

	return g.Wait()
}

// handleSignals reloads on SIGHUP and cancels on SIGINT or SIGTERM.
func handleSignals(ctx context.Context, cancel context.CancelFunc, reload func(), logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)

	for {
		select {
		case sig := <-c:
			if sig == syscall.SIGHUP {
				logger.Info("received reload signal")
				reload()
				continue
			}
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// serveHTTP serves h on addr until ctx is done. An empty addr disables the
// server.
func serveHTTP(ctx context.Context, name, addr string, h http.Handler, timeout time.Duration, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}

	srv := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(name+" server shutdown failed", slog.String("error", err.Error()))
		}
	})
	defer stop()

	logger.Info("starting "+name+" server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func logFormat(rc *config.Config) eventlog.Format {
	if rc.LogCommon {
		return eventlog.FormatCommon
	}
	return eventlog.FormatTab
}
