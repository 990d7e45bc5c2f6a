package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/boundary"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/publish"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

var adelaide = model.BBox{West: 138.42, South: -35.05, East: 138.78, North: -34.81}

type fakeComputer struct {
	last viewstate.Snapshot
	err  error
}

func (f *fakeComputer) Compute(_ context.Context, snap viewstate.Snapshot) (analytics.Result, error) {
	f.last = snap
	if f.err != nil {
		return analytics.Result{}, f.err
	}
	return analytics.Result{PassID: "query-pass", BBox: snap.BBox}, nil
}

type fakeRefresher struct {
	latest *publish.Latest
	err    error
}

func (f *fakeRefresher) Flush(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	return f.latest.Publish(ctx, analytics.Result{PassID: "refreshed"})
}

type fixture struct {
	api     *API
	state   *viewstate.State
	latest  *publish.Latest
	compute *fakeComputer
	refresh *fakeRefresher
	h       http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := viewstate.New(layers.Default(), adelaide, 12)
	latest := &publish.Latest{}
	fx := &fixture{
		state:   st,
		latest:  latest,
		compute: &fakeComputer{},
		refresh: &fakeRefresher{latest: latest},
	}
	fx.api = &API{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		State:         st,
		Analytics:     fx.compute,
		Refresh:       fx.refresh,
		Latest:        latest,
		DiameterField: "nominaldiameter",
	}
	r := chi.NewRouter()
	fx.api.Mount(r)
	fx.h = r
	return fx
}

func (fx *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rr := httptest.NewRecorder()
	fx.h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func TestGetAnalytics_NotFoundBeforeFirstPass(t *testing.T) {
	fx := newFixture(t)
	if rr := fx.do(t, http.MethodGet, "/analytics", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
	_ = fx.latest.Publish(context.Background(), analytics.Result{PassID: "p-1"})
	rr := fx.do(t, http.MethodGet, "/analytics", "")
	if rr.Code != http.StatusOK || decode[analytics.Result](t, rr).PassID != "p-1" {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRefresh(t *testing.T) {
	fx := newFixture(t)
	rr := fx.do(t, http.MethodPost, "/analytics/refresh", "")
	if rr.Code != http.StatusOK || decode[analytics.Result](t, rr).PassID != "refreshed" {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	fx.refresh.err = errors.New("layer water page 0: upstream status 503")
	if rr := fx.do(t, http.MethodPost, "/analytics/refresh", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
	fx.refresh.err = analytics.ErrStale
	if rr := fx.do(t, http.MethodPost, "/analytics/refresh", ""); rr.Code != http.StatusConflict {
		t.Fatalf("status=%d want 409", rr.Code)
	}
}

func TestQuery_ParsesParameters(t *testing.T) {
	fx := newFixture(t)
	rr := fx.do(t, http.MethodGet, "/analytics/query?bbox=138.5,-35,138.7,-34.8&layers=water,pillar_hydrants&diameter_min=150&zoom=15", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	snap := fx.compute.last
	if snap.BBox.West != 138.5 || snap.Zoom != 15 {
		t.Fatalf("snapshot=%+v", snap)
	}
	if got := strings.Join(snap.Visible.Keys(), ","); got != "pillar_hydrants,water" {
		t.Fatalf("visible=%s", got)
	}
	if !snap.Filter.Set || snap.Filter.Min != 150 {
		t.Fatalf("filter=%+v", snap.Filter)
	}
	if fx.state.Snapshot().Filter.Set {
		t.Fatalf("stateless query must not touch the live view")
	}
}

func TestQuery_DefaultsToCatalogVisibility(t *testing.T) {
	fx := newFixture(t)
	if rr := fx.do(t, http.MethodGet, "/analytics/query?bbox=138.5,-35,138.7,-34.8", ""); rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := strings.Join(fx.compute.last.Visible.Keys(), ","); got != "hydrants,water" {
		t.Fatalf("visible=%s", got)
	}
}

func TestQuery_Errors(t *testing.T) {
	fx := newFixture(t)
	cases := []struct {
		target string
		status int
		msg    string
	}{
		{"/analytics/query", http.StatusBadRequest, "missing required parameter: bbox"},
		{"/analytics/query?bbox=1,2,3", http.StatusBadRequest, "invalid bbox"},
		{"/analytics/query?bbox=138.7,-35,138.5,-34.8", http.StatusBadRequest, "west<=east"},
		{"/analytics/query?bbox=138.5,-35,138.7,-34.8&diameter_min=-5", http.StatusBadRequest, model.ErrInvalidDiameter.Error()},
		{"/analytics/query?bbox=138.5,-35,138.7,-34.8&layers=sewer", http.StatusBadRequest, "unknown layer"},
	}
	for _, c := range cases {
		rr := fx.do(t, http.MethodGet, c.target, "")
		if rr.Code != c.status || !strings.Contains(rr.Body.String(), c.msg) {
			t.Fatalf("%s: status=%d body=%s want %d containing %q", c.target, rr.Code, rr.Body.String(), c.status, c.msg)
		}
	}

	fx.compute.err = errors.New("upstream status 500")
	if rr := fx.do(t, http.MethodGet, "/analytics/query?bbox=138.5,-35,138.7,-34.8", ""); rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", rr.Code)
	}
}

func TestView_GetAndPut(t *testing.T) {
	fx := newFixture(t)
	rr := fx.do(t, http.MethodPut, "/view", `{"bbox":[138.5,-35,138.6,-34.9],"zoom":14}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[viewResponse](t, rr)
	if got.BBox.East != 138.6 || got.Zoom != 14 || got.Where != "1=1" {
		t.Fatalf("view=%+v", got)
	}
	if len(got.ScaleHints) != 1 {
		t.Fatalf("hints=%v want the hydrant hint at zoom 14", got.ScaleHints)
	}
	if fx.state.Snapshot().Zoom != 14 {
		t.Fatalf("state not updated")
	}

	for _, body := range []string{`{"bbox":[1,2,3],"zoom":1}`, `{"bbox":[10,0,5,1],"zoom":1}`, `{"bbox":[1,2,3,4]}`, `nope`} {
		if rr := fx.do(t, http.MethodPut, "/view", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status=%d want 400", body, rr.Code)
		}
	}
	if rr := fx.do(t, http.MethodGet, "/view", ""); rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestLayers(t *testing.T) {
	fx := newFixture(t)
	all := decode[[]layerResponse](t, fx.do(t, http.MethodGet, "/layers", ""))
	if len(all) != 8 || all[0].Key != layers.WaterMains || !all[0].Visible {
		t.Fatalf("layers=%+v", all)
	}

	rr := fx.do(t, http.MethodPut, "/layers/reclaimed", `{"visible":true}`)
	if rr.Code != http.StatusOK || !fx.state.Snapshot().Visible.Has(layers.ReclaimedMains) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := fx.do(t, http.MethodPut, "/layers/sewer", `{"visible":true}`); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rr.Code)
	}
	if rr := fx.do(t, http.MethodPut, "/layers/water", `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestDiameterFilter(t *testing.T) {
	fx := newFixture(t)
	rr := fx.do(t, http.MethodPut, "/filters/diameter", `{"min":"150"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"where":"nominaldiameter >= 150"`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if f := fx.state.Snapshot().Filter; !f.Set || f.Min != 150 {
		t.Fatalf("filter=%+v", f)
	}

	rr = fx.do(t, http.MethodPut, "/filters/diameter", `{"min":"abc"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), model.ErrInvalidDiameter.Error()) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if f := fx.state.Snapshot().Filter; f.Min != 150 {
		t.Fatalf("rejected input must not change the filter: %+v", f)
	}

	if rr := fx.do(t, http.MethodPut, "/filters/diameter", `{"min":225}`); rr.Code != http.StatusOK {
		t.Fatalf("numeric min: status=%d", rr.Code)
	}

	rr = fx.do(t, http.MethodDelete, "/filters/diameter", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"where":"1=1"`) || fx.state.Snapshot().Filter.Set {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	if rr := fx.do(t, http.MethodPut, "/filters/diameter", `{"min":""}`); rr.Code != http.StatusOK || fx.state.Snapshot().Filter.Set {
		t.Fatalf("empty min should clear: status=%d", rr.Code)
	}
}

func TestBoundaries(t *testing.T) {
	fx := newFixture(t)
	if rr := fx.do(t, http.MethodGet, "/boundaries", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404 when disabled", rr.Code)
	}

	l, err := boundary.Parse([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","properties":{"NAME":"Mount Lofty Ranges"},"geometry":{"type":"Point","coordinates":[138.7,-34.9]}}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fx.api.Boundaries = l

	rr := fx.do(t, http.MethodGet, "/boundaries", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "application/geo+json" {
		t.Fatalf("status=%d ct=%s", rr.Code, rr.Header().Get("Content-Type"))
	}
	rr = fx.do(t, http.MethodGet, "/boundaries/popups", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "Mount Lofty Ranges") {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
