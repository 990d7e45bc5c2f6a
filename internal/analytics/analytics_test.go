package analytics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mains-analytics/internal/aggregate"
	"github.com/mohammed-shakir/mains-analytics/internal/core/fetcher"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

var view = model.BBox{West: -1, South: -1, East: 1, North: 1}

// kmLon is the longitude span along the equator with a haversine length of 1 km.
var kmLon = 1000 / aggregate.EarthRadiusM * 180 / math.Pi

type fakeFetcher struct {
	mu      sync.Mutex
	byID    map[int]*geojson.FeatureCollection
	fail    map[int]error
	queries []fetcher.Query
	hook    func(q fetcher.Query, call int)
}

func (f *fakeFetcher) FetchAll(ctx context.Context, q fetcher.Query) (*geojson.FeatureCollection, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	call := len(f.queries)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(q, call)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.fail[q.LayerID]; err != nil {
		return nil, err
	}
	if fc := f.byID[q.LayerID]; fc != nil {
		return fc, nil
	}
	return geojson.NewFeatureCollection(), nil
}

func (f *fakeFetcher) queryFor(id int) (fetcher.Query, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.queries {
		if q.LayerID == id {
			return q, true
		}
	}
	return fetcher.Query{}, false
}

type recordingPublisher struct {
	mu      sync.Mutex
	results []Result
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, r Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, r)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.results)
}

func mainsFC() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	add := func(startLon, km, diameter float64) {
		f := geojson.NewFeature(orb.LineString{{startLon, 0}, {startLon + km*kmLon, 0}})
		f.Properties["nominaldiameter"] = diameter
		fc.Append(f)
	}
	add(0, 0.1, 100)
	add(-0.1, 0.2, 100)
	add(0.2, 0.5, 150)
	return fc
}

func pointsFC(n int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i := 0; i < n; i++ {
		fc.Append(&geojson.Feature{Type: "Feature", Properties: geojson.Properties{"id": i}})
	}
	return fc
}

func newTestOrchestrator(t *testing.T, f *fakeFetcher, pub Publisher) (*Orchestrator, *viewstate.State) {
	t.Helper()
	cat := layers.Default()
	st := viewstate.New(cat, view, 16)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger, f, cat, st, pub, Config{DiameterField: "nominaldiameter", TopN: 12, Concurrency: 2}), st
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCompute_TotalsTablesAndCharts(t *testing.T) {
	f := &fakeFetcher{byID: map[int]*geojson.FeatureCollection{84: mainsFC(), 334: pointsFC(3)}}
	o, st := newTestOrchestrator(t, f, nil)

	res, err := o.Compute(context.Background(), st.Snapshot())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !approx(res.Totals.WaterKm, 0.8) || res.Totals.Hydrants != 3 {
		t.Fatalf("totals=%+v", res.Totals)
	}
	if res.Totals.ReclaimedKm != 0 || res.Totals.PillarHydrants != 0 {
		t.Fatalf("invisible layers must contribute zero: %+v", res.Totals)
	}
	if _, fetched := f.queryFor(83); fetched {
		t.Fatalf("invisible reclaimed layer was fetched")
	}

	wantSummary := []struct{ label, display string }{
		{LabelWaterKm, "0.80"},
		{LabelReclaimedKm, "0.00"},
		{LabelHydrants, "3"},
		{LabelPillars, "0"},
	}
	if len(res.Summary) != len(wantSummary) {
		t.Fatalf("summary rows=%d", len(res.Summary))
	}
	for i, w := range wantSummary {
		if res.Summary[i].Label != w.label || res.Summary[i].Display != w.display {
			t.Fatalf("summary[%d]=%+v want %s=%s", i, res.Summary[i], w.label, w.display)
		}
	}

	if len(res.Diameters) != 2 {
		t.Fatalf("diameter rows=%v", res.Diameters)
	}
	if res.Diameters[0].Diameter != 150 || res.Diameters[0].Display != "0.500" {
		t.Fatalf("first diameter row=%+v", res.Diameters[0])
	}
	if res.Diameters[1].Diameter != 100 || res.Diameters[1].Display != "0.300" {
		t.Fatalf("second diameter row=%+v", res.Diameters[1])
	}
	if res.DiameterNote != "" {
		t.Fatalf("unexpected note %q", res.DiameterNote)
	}

	if got := res.Bar.Labels; len(got) != 4 || got[0] != "Water Main (km)" || got[3] != "Pillar Hydrants" {
		t.Fatalf("bar labels=%v", got)
	}
	if ds := res.Bar.Datasets; len(ds) != 1 || ds[0].Label != "Current view" || ds[0].Data[2] != 3 {
		t.Fatalf("bar datasets=%+v", ds)
	}
	if got := res.Pie.Datasets[0].Data; got[0] != 3 || got[1] != 0 {
		t.Fatalf("pie data=%v", got)
	}
	if res.PassID == "" || res.ViewKey == "" || res.Generation != 0 {
		t.Fatalf("metadata=%+v", res)
	}
}

func TestCompute_QueryShapes(t *testing.T) {
	f := &fakeFetcher{}
	o, st := newTestOrchestrator(t, f, nil)
	_ = st.SetVisible(layers.PillarHydrants, true)
	_ = st.SetVisible(layers.WWGravity, true)
	st.SetDiameterFilter(model.DiameterFilter{Min: 150, Set: true})

	res, err := o.Compute(context.Background(), st.Snapshot())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	water, _ := f.queryFor(84)
	if water.Where != "nominaldiameter >= 150" || !water.ReturnGeometry {
		t.Fatalf("water query=%+v", water)
	}
	hyd, _ := f.queryFor(334)
	if hyd.Where != "" || hyd.ReturnGeometry {
		t.Fatalf("hydrant query=%+v (no filter, no geometry)", hyd)
	}
	if _, ok := f.queryFor(335); !ok {
		t.Fatalf("visible pillar hydrants not fetched")
	}
	if _, ok := f.queryFor(85); ok {
		t.Fatalf("display-only layer must not be fetched")
	}
	if res.DiameterNote != NoMainsInView || len(res.Diameters) != 0 {
		t.Fatalf("empty diameter table expected, got %+v %q", res.Diameters, res.DiameterNote)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	f := &fakeFetcher{byID: map[int]*geojson.FeatureCollection{84: mainsFC(), 334: pointsFC(2)}}
	o, st := newTestOrchestrator(t, f, nil)

	a, err := o.Compute(context.Background(), st.Snapshot())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	b, err := o.Compute(context.Background(), st.Snapshot())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if a.Totals != b.Totals || a.ViewKey != b.ViewKey {
		t.Fatalf("results differ: %+v vs %+v", a.Totals, b.Totals)
	}
	for i := range a.Diameters {
		if a.Diameters[i] != b.Diameters[i] {
			t.Fatalf("diameter row %d differs", i)
		}
	}
	if a.PassID == b.PassID {
		t.Fatalf("each pass should get its own id")
	}
}

func TestRun_FailurePublishesNothing(t *testing.T) {
	f := &fakeFetcher{
		byID: map[int]*geojson.FeatureCollection{84: mainsFC()},
		fail: map[int]error{334: errors.New("upstream status 503")},
	}
	pub := &recordingPublisher{}
	o, _ := newTestOrchestrator(t, f, pub)

	if _, err := o.Run(context.Background()); err == nil {
		t.Fatalf("expected pass failure")
	}
	if pub.count() != 0 {
		t.Fatalf("failed pass must not publish")
	}
}

func TestRun_PublishesAndNumbersGenerations(t *testing.T) {
	f := &fakeFetcher{byID: map[int]*geojson.FeatureCollection{84: mainsFC()}}
	pub := &recordingPublisher{}
	o, _ := newTestOrchestrator(t, f, pub)

	for i := 1; i <= 2; i++ {
		res, err := o.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Generation != uint64(i) {
			t.Fatalf("generation=%d want %d", res.Generation, i)
		}
	}
	if pub.count() != 2 {
		t.Fatalf("published=%d want 2", pub.count())
	}
}

func TestRun_PublishErrorReturned(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("sink down")}
	o, _ := newTestOrchestrator(t, &fakeFetcher{}, pub)
	res, err := o.Run(context.Background())
	if err == nil || res.PassID == "" {
		t.Fatalf("expected computed result with publish error, got %+v %v", res, err)
	}
}

func TestRun_OlderPassIsDropped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	f := &fakeFetcher{byID: map[int]*geojson.FeatureCollection{84: mainsFC()}}
	f.hook = func(_ fetcher.Query, call int) {
		if call == 1 {
			close(started)
			<-release
		}
	}
	pub := &recordingPublisher{}
	o, st := newTestOrchestrator(t, f, pub)
	_ = st.SetVisible(layers.Hydrants, false)

	type outcome struct {
		res Result
		err error
	}
	first := make(chan outcome, 1)
	go func() {
		r, err := o.Run(context.Background())
		first <- outcome{r, err}
	}()
	<-started

	second, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	close(release)
	got := <-first

	if !errors.Is(got.err, ErrStale) {
		t.Fatalf("first Run err=%v want ErrStale", got.err)
	}
	if pub.count() != 1 || pub.results[0].Generation != second.Generation {
		t.Fatalf("only the newer pass should publish; published=%d", pub.count())
	}
}

func TestCompute_InvalidView(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeFetcher{}, nil)
	_, err := o.Compute(context.Background(), viewstate.Snapshot{BBox: model.BBox{West: 5, East: 1}})
	if err == nil {
		t.Fatalf("expected invalid view error")
	}
}
