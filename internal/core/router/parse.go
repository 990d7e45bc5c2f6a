package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
	"github.com/mohammed-shakir/mains-analytics/internal/viewstate"
)

const maxBodyBytes = 64 << 10

// ParseAnalyticsQuery reads bbox, layers, diameter_min and zoom from the query string.
// Without layers the catalog's default visibility is used.
func ParseAnalyticsQuery(r *http.Request, catalog *layers.Catalog) (viewstate.Snapshot, error) {
	q := r.URL.Query()

	rawBBox := strings.TrimSpace(q.Get("bbox"))
	if rawBBox == "" {
		return viewstate.Snapshot{}, errors.New("missing required parameter: bbox")
	}
	bbox, err := model.ParseBBox(rawBBox)
	if err != nil {
		return viewstate.Snapshot{}, fmt.Errorf("invalid bbox: %w", err)
	}

	visible := model.Visibility(catalog.DefaultVisibility())
	if raw := strings.TrimSpace(q.Get("layers")); raw != "" {
		visible = model.Visibility{}
		for key := range strings.SplitSeq(raw, ",") {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			if _, err := catalog.Get(key); err != nil {
				return viewstate.Snapshot{}, err
			}
			visible[key] = true
		}
	}

	filter, err := model.ParseDiameterFilter(q.Get("diameter_min"))
	if err != nil {
		return viewstate.Snapshot{}, err
	}

	var zoom float64
	if raw := strings.TrimSpace(q.Get("zoom")); raw != "" {
		zoom, err = parseFloat(raw)
		if err != nil {
			return viewstate.Snapshot{}, fmt.Errorf("invalid zoom: %w", err)
		}
	}

	return viewstate.Snapshot{BBox: bbox, Zoom: zoom, Visible: visible, Filter: filter}, nil
}

func parseViewBody(r *http.Request) (model.BBox, float64, error) {
	var body struct {
		BBox []float64 `json:"bbox"`
		Zoom *float64  `json:"zoom"`
	}
	if err := decodeBody(r, &body); err != nil {
		return model.BBox{}, 0, err
	}
	if len(body.BBox) != 4 {
		return model.BBox{}, 0, errors.New("bbox must be [west,south,east,north]")
	}
	if body.Zoom == nil {
		return model.BBox{}, 0, errors.New("missing zoom")
	}
	return model.BBox{West: body.BBox[0], South: body.BBox[1], East: body.BBox[2], North: body.BBox[3]}, *body.Zoom, nil
}

// parseDiameterBody accepts {"min":"150"} or {"min":150}; an empty string clears the filter.
func parseDiameterBody(r *http.Request) (model.DiameterFilter, error) {
	var body struct {
		Min json.RawMessage `json:"min"`
	}
	if err := decodeBody(r, &body); err != nil {
		return model.DiameterFilter{}, err
	}
	raw := strings.TrimSpace(string(body.Min))
	if raw == "" || raw == "null" {
		return model.DiameterFilter{}, nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(body.Min, &s); err != nil {
			return model.DiameterFilter{}, model.ErrInvalidDiameter
		}
		raw = s
	}
	return model.ParseDiameterFilter(raw)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
