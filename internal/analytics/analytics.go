// Package analytics runs the in-view analytics pass: fetch every visible layer,
// measure or count it, and publish the tables and chart series.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/mains-analytics/internal/aggregate"
	"github.com/mohammed-shakir/mains-analytics/internal/core/arcgis"
	"github.com/mohammed-shakir/mains-analytics/internal/core/fetcher"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/logger"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

// ErrStale is returned by Run when a newer pass already published.
var ErrStale = errors.New("analytics result superseded by a newer pass")

type Publisher interface {
	Publish(ctx context.Context, r Result) error
}

type Config struct {
	DiameterField string
	TopN          int
	Concurrency   int
}

func (c Config) withDefaults() Config {
	if c.DiameterField == "" {
		c.DiameterField = "nominaldiameter"
	}
	if c.TopN <= 0 {
		c.TopN = 12
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

type Orchestrator struct {
	logger  *slog.Logger
	fetch   fetcher.Interface
	catalog *layers.Catalog
	state   *viewstate.State
	pub     Publisher
	cfg     Config
	now     func() time.Time

	gen           atomic.Uint64
	publishMu     sync.Mutex
	lastPublished uint64
}

func New(logger *slog.Logger, f fetcher.Interface, catalog *layers.Catalog, state *viewstate.State, pub Publisher, cfg Config) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:  logger,
		fetch:   f,
		catalog: catalog,
		state:   state,
		pub:     pub,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
	}
}

// Compute runs one pass over snap without publishing.
func (o *Orchestrator) Compute(ctx context.Context, snap viewstate.Snapshot) (Result, error) {
	return o.compute(ctx, snap, 0)
}

// Run computes the live view and publishes the result unless a newer pass
// already published; in that case the result is dropped with ErrStale.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	if o.state == nil {
		return Result{}, errors.New("analytics: no view state")
	}
	gen := o.gen.Add(1)
	start := o.now()

	res, err := o.compute(ctx, o.state.Snapshot(), gen)
	if err != nil {
		observability.ObservePass("error", time.Since(start).Seconds())
		return Result{}, err
	}

	o.publishMu.Lock()
	defer o.publishMu.Unlock()
	if gen < o.lastPublished {
		observability.ObservePass("stale", time.Since(start).Seconds())
		o.logger.InfoContext(ctx, "dropping stale analytics result",
			"generation", gen, "last_published", o.lastPublished)
		return Result{}, ErrStale
	}
	o.lastPublished = gen
	observability.ObservePass("ok", time.Since(start).Seconds())

	if o.pub != nil {
		if err := o.pub.Publish(ctx, res); err != nil {
			return res, fmt.Errorf("publish: %w", err)
		}
	}
	return res, nil
}

type layerJob struct {
	layer layers.Layer
	where string
	fc    *geojson.FeatureCollection
}

func (o *Orchestrator) compute(ctx context.Context, snap viewstate.Snapshot, gen uint64) (Result, error) {
	if err := snap.BBox.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid view: %w", err)
	}
	passID := uuid.NewString()
	ctx = logger.WithPassID(ctx, passID)
	where := arcgis.WhereClause(o.cfg.DiameterField, snap.Filter)

	var jobs []*layerJob
	for _, l := range o.catalog.All() {
		if l.Role == layers.RoleDisplay || !snap.Visible.Has(l.Key) {
			continue
		}
		j := &layerJob{layer: l}
		if l.Key == layers.WaterMains {
			j.where = where
		}
		jobs = append(jobs, j)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for _, j := range jobs {
		g.Go(func() error {
			fc, err := o.fetch.FetchAll(gctx, fetcher.Query{
				Layer:          j.layer.Key,
				LayerID:        j.layer.ID,
				BBox:           snap.BBox,
				Where:          j.where,
				ReturnGeometry: j.layer.NeedsGeometry(),
			})
			if err != nil {
				return fmt.Errorf("fetch %s: %w", j.layer.Key, err)
			}
			j.fc = fc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.logger.WarnContext(ctx, "analytics pass failed", "err", err)
		return Result{}, err
	}

	var (
		totals  Totals
		buckets model.DiameterBuckets
		skipped int
	)
	for _, j := range jobs {
		switch j.layer.Role {
		case layers.RoleLength:
			opts := aggregate.Options{}
			if j.layer.Key == layers.WaterMains {
				opts.BucketBy = o.cfg.DiameterField
			}
			t := aggregate.InView(j.fc, snap.BBox, opts)
			skipped += t.Skipped
			observability.AddFeaturesSkipped(j.layer.Key, t.Skipped)
			switch j.layer.Key {
			case layers.WaterMains:
				totals.WaterKm = t.Km
				buckets = t.Buckets
			case layers.ReclaimedMains:
				totals.ReclaimedKm = t.Km
			}
		case layers.RoleCount:
			n := len(j.fc.Features)
			switch j.layer.Key {
			case layers.Hydrants:
				totals.Hydrants = n
			case layers.PillarHydrants:
				totals.PillarHydrants = n
			}
		}
	}

	res := Result{
		PassID:     passID,
		Generation: gen,
		ComputedAt: o.now().UTC(),
		ViewKey:    ViewKey(snap.BBox, snap.Visible, where),
		BBox:       snap.BBox,
		Zoom:       snap.Zoom,
		Visible:    snap.Visible.Keys(),
		Filter:     snap.Filter,
		Where:      where,
		Skipped:    skipped,
		Totals:     totals,
		Summary:    summaryRows(totals),
		Diameters:  diameterRows(buckets, o.cfg.TopN),
		Bar:        barSeries(totals),
		Pie:        pieSeries(totals),
	}
	if len(res.Diameters) == 0 {
		res.DiameterNote = NoMainsInView
	}

	o.logger.DebugContext(ctx, "analytics pass computed",
		"generation", gen,
		"layers", len(jobs),
		"water_km", totals.WaterKm,
		"reclaimed_km", totals.ReclaimedKm,
		"hydrants", totals.Hydrants,
		"pillar_hydrants", totals.PillarHydrants,
		"skipped", skipped)
	return res, nil
}
