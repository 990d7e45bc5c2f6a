// Package router exposes the view state and analytics results over HTTP.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/boundary"
	"github.com/mohammed-shakir/mains-analytics/internal/core/arcgis"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

// Computer runs a stateless analytics pass.
type Computer interface {
	Compute(ctx context.Context, snap viewstate.Snapshot) (analytics.Result, error)
}

// Refresher runs a pass right away, bypassing the debounce window.
type Refresher interface {
	Flush(ctx context.Context) error
}

type LatestReader interface {
	Get() (analytics.Result, bool)
}

type API struct {
	Logger        *slog.Logger
	State         *viewstate.State
	Analytics     Computer
	Refresh       Refresher
	Latest        LatestReader
	Boundaries    *boundary.Layer // nil when not configured
	DiameterField string
}

// Mount registers the API routes on r.
func (a *API) Mount(r chi.Router) {
	r.Get("/analytics", a.instrument("/analytics", a.getAnalytics))
	r.Post("/analytics/refresh", a.instrument("/analytics/refresh", a.refresh))
	r.Get("/analytics/query", a.instrument("/analytics/query", a.query))

	r.Get("/view", a.instrument("/view", a.getView))
	r.Put("/view", a.instrument("/view", a.putView))

	r.Get("/layers", a.instrument("/layers", a.getLayers))
	r.Put("/layers/{key}", a.instrument("/layers/{key}", a.putLayer))

	r.Put("/filters/diameter", a.instrument("/filters/diameter", a.putDiameter))
	r.Delete("/filters/diameter", a.instrument("/filters/diameter", a.deleteDiameter))

	r.Get("/boundaries", a.instrument("/boundaries", a.getBoundaries))
	r.Get("/boundaries/popups", a.instrument("/boundaries/popups", a.getBoundaryPopups))
}

func (a *API) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) getAnalytics(w http.ResponseWriter, _ *http.Request) {
	res, ok := a.Latest.Get()
	if !ok {
		writeError(w, http.StatusNotFound, "no analytics result yet")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	if err := a.Refresh.Flush(r.Context()); err != nil {
		if errors.Is(err, analytics.ErrStale) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		a.Logger.WarnContext(r.Context(), "manual refresh failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.getAnalytics(w, r)
}

func (a *API) query(w http.ResponseWriter, r *http.Request) {
	snap, err := ParseAnalyticsQuery(r, a.State.Catalog())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := a.Analytics.Compute(r.Context(), snap)
	if err != nil {
		a.Logger.WarnContext(r.Context(), "analytics query failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type viewResponse struct {
	viewstate.Snapshot
	Where      string   `json:"where"`
	ScaleHints []string `json:"scale_hints"`
}

func (a *API) viewResponse() viewResponse {
	snap := a.State.Snapshot()
	hints := a.State.ScaleHints()
	if hints == nil {
		hints = []string{}
	}
	return viewResponse{
		Snapshot:   snap,
		Where:      arcgis.WhereClause(a.DiameterField, snap.Filter),
		ScaleHints: hints,
	}
}

func (a *API) getView(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.viewResponse())
}

func (a *API) putView(w http.ResponseWriter, r *http.Request) {
	bbox, zoom, err := parseViewBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.State.SetViewport(bbox, zoom); err != nil {
		writeError(w, http.StatusBadRequest, "invalid bbox: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.viewResponse())
}

type layerResponse struct {
	layers.Layer
	Visible bool `json:"visible"`
}

func (a *API) getLayers(w http.ResponseWriter, _ *http.Request) {
	snap := a.State.Snapshot()
	all := a.State.Catalog().All()
	out := make([]layerResponse, 0, len(all))
	for _, l := range all {
		out = append(out, layerResponse{Layer: l, Visible: snap.Visible.Has(l.Key)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) putLayer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Visible *bool `json:"visible"`
	}
	if err := decodeBody(r, &body); err != nil || body.Visible == nil {
		writeError(w, http.StatusBadRequest, `expected body {"visible":true|false}`)
		return
	}
	if err := a.State.SetVisible(key, *body.Visible); err != nil {
		if errors.Is(err, layers.ErrUnknownLayer) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l, _ := a.State.Catalog().Get(key)
	writeJSON(w, http.StatusOK, layerResponse{Layer: l, Visible: *body.Visible})
}

func (a *API) putDiameter(w http.ResponseWriter, r *http.Request) {
	f, err := parseDiameterBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.State.SetDiameterFilter(f)
	a.writeFilter(w, f)
}

func (a *API) deleteDiameter(w http.ResponseWriter, _ *http.Request) {
	a.State.SetDiameterFilter(model.DiameterFilter{})
	a.writeFilter(w, model.DiameterFilter{})
}

func (a *API) writeFilter(w http.ResponseWriter, f model.DiameterFilter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"filter": f,
		"where":  arcgis.WhereClause(a.DiameterField, f),
	})
}

func (a *API) getBoundaries(w http.ResponseWriter, _ *http.Request) {
	if a.Boundaries == nil {
		writeError(w, http.StatusNotFound, boundary.ErrDisabled.Error())
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(a.Boundaries.JSON())
}

func (a *API) getBoundaryPopups(w http.ResponseWriter, _ *http.Request) {
	if a.Boundaries == nil {
		writeError(w, http.StatusNotFound, boundary.ErrDisabled.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.Boundaries.Popups())
}
