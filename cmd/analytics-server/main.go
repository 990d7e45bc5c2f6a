package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/mains-analytics/internal/app"
	"github.com/mohammed-shakir/mains-analytics/internal/core/config"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
	"github.com/mohammed-shakir/mains-analytics/internal/core/server"
	"github.com/mohammed-shakir/mains-analytics/internal/logger"
	"github.com/mohammed-shakir/mains-analytics/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func run() int {
	// overriding the listen address and layer catalog via flags
	addrFlag := flag.String("addr", "", "listen address")
	layersFlag := flag.String("layers", "", "layer catalog yaml")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}
	if *layersFlag != "" {
		cfg.LayersFile = *layersFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   envInt("LOG_SAMPLE_N", 0),
		Service:   "mains-analytics",
		Component: "server",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting analytics server",
		"addr", cfg.Addr,
		"version", Version,
		"service_url", cfg.ServiceURL,
		"bbox", cfg.InitialBBox)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog, &zl, nil)
	if err != nil {
		appLog.Error("app setup failed", "err", err)
		return 1
	}
	defer a.Close()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})

	a.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Serve(gctx, appLog) })
	g.Go(func() error { return server.Run(gctx, cfg, appLog, a.Handler) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
