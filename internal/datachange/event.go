// Package datachange describes edits to the backing feature data announced on Kafka.
package datachange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type Event struct {
	Version   int             `json:"version"`
	Op        string          `json:"op"`
	Layer     string          `json:"layer"`
	TS        time.Time       `json:"ts"`
	FeatureID any             `json:"feature_id,omitempty"`
	Source    string          `json:"source,omitempty"`
	BBox      *BBox           `json:"bbox,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
}

type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return errors.New("op must be insert|update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return errors.New("layer is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	hasBBox := e.BBox != nil
	hasGeom := len(e.Geometry) > 0
	if hasBBox == hasGeom {
		return errors.New("exactly one of bbox or geometry is required")
	}
	if hasBBox {
		bb := *e.BBox
		if bb.SRID != "EPSG:4326" {
			return errors.New("bbox.srid must be EPSG:4326")
		}
		if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
			return errors.New("bbox longitude out of range")
		}
		if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
			return errors.New("bbox latitude out of range")
		}
		// a single edited point has a degenerate box
		if !(bb.X2 >= bb.X1 && bb.Y2 >= bb.Y1) {
			return errors.New("bbox must satisfy x2>=x1 and y2>=y1")
		}
		return nil
	}
	if _, err := geojson.UnmarshalGeometry(e.Geometry); err != nil {
		return fmt.Errorf("geometry parse: %w", err)
	}
	return nil
}

// Extent is the area touched by the edit.
func (e Event) Extent() (orb.Bound, error) {
	if e.BBox != nil {
		return orb.Bound{
			Min: orb.Point{e.BBox.X1, e.BBox.Y1},
			Max: orb.Point{e.BBox.X2, e.BBox.Y2},
		}, nil
	}
	g, err := geojson.UnmarshalGeometry(e.Geometry)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("geometry parse: %w", err)
	}
	if g.Geometry() == nil {
		return orb.Bound{}, errors.New("geometry is empty")
	}
	return g.Geometry().Bound(), nil
}
