// Package app wires the view state, analytics pipeline, sinks and HTTP API together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/boundary"
	"github.com/mohammed-shakir/mains-analytics/internal/core/config"
	"github.com/mohammed-shakir/mains-analytics/internal/core/fetcher"
	"github.com/mohammed-shakir/mains-analytics/internal/core/httpclient"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/core/router"
	"github.com/mohammed-shakir/mains-analytics/internal/core/server"
	"github.com/mohammed-shakir/mains-analytics/internal/datachange/kafkaconsumer"
	"github.com/mohammed-shakir/mains-analytics/internal/debounce"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/publish"
	"github.com/mohammed-shakir/mains-analytics/internal/publish/kafkapub"
	"github.com/mohammed-shakir/mains-analytics/internal/publish/redispub"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

type App struct {
	Logger    *slog.Logger
	State     *viewstate.State
	Analytics *analytics.Orchestrator
	Scheduler *debounce.Scheduler
	Latest    *publish.Latest
	Handler   http.Handler
	Consumer  *kafkaconsumer.Consumer // nil unless data-change events are enabled

	unsubscribe []func()
	closers     []func() error
}

// New builds the service from cfg. f may be nil, in which case a fetcher for
// cfg.ServiceURL is created.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, zl *zerolog.Logger, f fetcher.Interface) (*App, error) {
	catalog, err := layers.LoadFile(cfg.LayersFile)
	if err != nil {
		return nil, err
	}
	bbox, err := model.ParseBBox(cfg.InitialBBox)
	if err != nil {
		return nil, fmt.Errorf("INITIAL_BBOX: %w", err)
	}

	if f == nil {
		f, err = fetcher.New(logger, httpclient.NewOutbound(cfg.UpstreamTimeout), cfg.ServiceURL,
			fetcher.WithPageSize(cfg.PageSize), fetcher.WithMaxPages(cfg.MaxPages))
		if err != nil {
			return nil, fmt.Errorf("init fetcher: %w", err)
		}
	}

	a := &App{
		Logger: logger,
		State:  viewstate.New(catalog, bbox, cfg.InitialZoom),
		Latest: &publish.Latest{},
	}

	sinks := []publish.Sink{{Name: "latest", Pub: a.Latest}}
	if cfg.RedisAddr != "" {
		rp, err := redispub.New(ctx, cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("init redis publisher: %w", err)
		}
		sinks = append(sinks, publish.Sink{Name: "redis", Pub: rp})
		a.closers = append(a.closers, rp.Close)
	}
	if cfg.Kafka.ResultsEnabled {
		kp, err := kafkapub.NewPublisher(logger, cfg.Kafka.BrokerList(), cfg.Kafka.ResultsTopic, 64)
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		sinks = append(sinks, publish.Sink{Name: "kafka", Pub: kp})
		a.closers = append(a.closers, kp.Close)
	}
	fan := publish.NewFanout(sinks...)

	a.Analytics = analytics.New(logger, f, catalog, a.State, fan, analytics.Config{
		DiameterField: cfg.DiameterField,
		TopN:          cfg.TopN,
		Concurrency:   cfg.FetchConcurrency,
	})
	a.Scheduler = debounce.New(ctx, logger, cfg.Debounce, func(ctx context.Context, _ string) error {
		_, err := a.Analytics.Run(ctx)
		return err
	})

	a.unsubscribe = append(a.unsubscribe,
		a.State.OnViewportChange(func(model.BBox, float64) { a.Scheduler.Trigger("viewport") }),
		a.State.OnVisibilityChange(func(string, bool) { a.Scheduler.Trigger("layers") }),
		a.State.OnFilterChange(func(model.DiameterFilter) { a.Scheduler.Trigger("filter") }),
	)

	var bounds *boundary.Layer
	if cfg.BoundaryPath != "" {
		bounds, err = boundary.Load(cfg.BoundaryPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("boundary layer loaded", "path", cfg.BoundaryPath, "features", bounds.Len())
	}

	if cfg.Kafka.DataChangeEnabled {
		a.Consumer = kafkaconsumer.New(kafkaconsumer.ConfigFrom(cfg.Kafka), logger, zl, a.State, a.Scheduler)
	}

	api := &router.API{
		Logger:        logger,
		State:         a.State,
		Analytics:     a.Analytics,
		Refresh:       a.Scheduler,
		Latest:        a.Latest,
		Boundaries:    bounds,
		DiameterField: cfg.DiameterField,
	}
	a.Handler = server.NewHandler(logger, api, a.Latest)

	logger.Info("analytics pipeline ready",
		"sinks", fan.Names(),
		"layers", len(catalog.All()),
		"debounce", cfg.Debounce.String(),
		"datachange", cfg.Kafka.DataChangeEnabled)
	return a, nil
}

// Start schedules the initial pass and, when enabled, the data-change consumer.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Trigger("startup")
	if a.Consumer != nil {
		go func() {
			if err := a.Consumer.Start(ctx); err != nil {
				a.Logger.Error("datachange consumer stopped", "err", err)
			}
		}()
	}
}

func (a *App) Close() {
	for _, u := range a.unsubscribe {
		u()
	}
	if a.Scheduler != nil {
		a.Scheduler.Close()
	}
	a.closeAll()
}

func (a *App) closeAll() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("closing sinks", "err", err)
	}
}
