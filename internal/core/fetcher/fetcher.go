// Package fetcher retrieves complete feature sets from the feature service by paging.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mains-analytics/internal/core/arcgis"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
)

const (
	DefaultPageSize = 2000
	DefaultMaxPages = 500
)

var ErrTooManyPages = errors.New("page limit exceeded")

type Interface interface {
	FetchAll(ctx context.Context, q Query) (*geojson.FeatureCollection, error)
}

// Query selects the features of one layer intersecting BBox.
type Query struct {
	Layer          string // label used in logs and metrics
	LayerID        int
	BBox           model.BBox
	Where          string
	ReturnGeometry bool
}

type Option func(*Fetcher)

func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

func WithMaxPages(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxPages = n
		}
	}
}

type Fetcher struct {
	logger   *slog.Logger
	client   *http.Client
	service  *url.URL
	pageSize int
	maxPages int
	startNow func() time.Time // for tests
}

var _ Interface = (*Fetcher)(nil)

func New(logger *slog.Logger, client *http.Client, serviceURL string, opts ...Option) (*Fetcher, error) {
	u, err := url.Parse(serviceURL)
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("service url %q must be absolute", serviceURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	f := &Fetcher{
		logger:   logger,
		client:   client,
		service:  u,
		pageSize: DefaultPageSize,
		maxPages: DefaultMaxPages,
		startNow: time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *Fetcher) PageSize() int { return f.pageSize }

// FetchAll pages through the layer until a short page arrives. Any page failure
// fails the whole fetch and nothing fetched so far is returned.
func (f *Fetcher) FetchAll(ctx context.Context, q Query) (*geojson.FeatureCollection, error) {
	out := geojson.NewFeatureCollection()
	for page := 0; ; page++ {
		if page >= f.maxPages {
			return nil, fmt.Errorf("layer %s: %w (%d pages of %d)", q.label(), ErrTooManyPages, f.maxPages, f.pageSize)
		}
		batch, err := f.fetchPage(ctx, q, page*f.pageSize)
		if err != nil {
			return nil, fmt.Errorf("layer %s page %d: %w", q.label(), page, err)
		}
		out.Features = append(out.Features, batch...)
		if len(batch) < f.pageSize {
			break
		}
	}
	f.logger.DebugContext(ctx, "layer fetched",
		"layer", q.label(),
		"features", len(out.Features),
		"geometry", q.ReturnGeometry)
	return out, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, q Query, offset int) ([]*geojson.Feature, error) {
	params := arcgis.BuildQueryParams(arcgis.Query{
		BBox:           q.BBox,
		Where:          q.Where,
		ReturnGeometry: q.ReturnGeometry,
		Limit:          f.pageSize,
		Offset:         offset,
	})
	endpoint, err := url.Parse(arcgis.LayerQueryEndpoint(f.service.String(), q.LayerID))
	if err != nil {
		return nil, fmt.Errorf("build endpoint: %w", err)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := f.startNow()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	observability.ObserveUpstreamLatency("featureservice", time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(b))
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if err := arcgis.DecodeError(b); err != nil {
		return nil, err
	}

	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	observability.ObservePage(q.label(), len(fc.Features))
	f.logger.DebugContext(ctx, "page fetched",
		"layer", q.label(),
		"offset", offset,
		"features", len(fc.Features),
		"duration", time.Since(start).String())
	return fc.Features, nil
}

func (q Query) label() string {
	if q.Layer != "" {
		return q.Layer
	}
	return strconv.Itoa(q.LayerID)
}
