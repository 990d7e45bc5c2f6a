// Package model defines core domain types shared across the service.
package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// BBox is a view extent in EPSG:4326 degrees.
type BBox struct {
	West  float64 `json:"west"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	North float64 `json:"north"`
}

// String renders the bbox in the envelope form accepted by the feature service.
func (b BBox) String() string {
	return strings.Join([]string{coord(b.West), coord(b.South), coord(b.East), coord(b.North)}, ",")
}

func coord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (b BBox) Validate() error {
	for _, v := range []float64{b.West, b.South, b.East, b.North} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("coordinates must be finite")
		}
	}
	if !(b.West >= -180 && b.West <= 180 && b.East >= -180 && b.East <= 180) {
		return errors.New("longitude must be in [-180,180]")
	}
	if !(b.South >= -90 && b.South <= 90 && b.North >= -90 && b.North <= 90) {
		return errors.New("latitude must be in [-90,90]")
	}
	if b.West > b.East || b.South > b.North {
		return errors.New("coordinates must satisfy west<=east and south<=north")
	}
	return nil
}

func (b BBox) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.West, b.South},
		Max: orb.Point{b.East, b.North},
	}
}

// ParseBBox parses "west,south,east,north".
func ParseBBox(raw string) (BBox, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return BBox{}, errors.New("expected 4 comma-separated values: west,south,east,north")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, fmt.Errorf("value %d: parse float: %w", i+1, err)
		}
		v[i] = f
	}
	bb := BBox{West: v[0], South: v[1], East: v[2], North: v[3]}
	if err := bb.Validate(); err != nil {
		return BBox{}, err
	}
	return bb, nil
}

// Visibility records which layers are enabled for display, keyed by layer key.
type Visibility map[string]bool

func (v Visibility) Has(key string) bool { return v[key] }

func (v Visibility) Clone() Visibility {
	out := make(Visibility, len(v))
	for k, on := range v {
		out[k] = on
	}
	return out
}

// Keys returns the enabled layer keys in sorted order.
func (v Visibility) Keys() []string {
	out := make([]string, 0, len(v))
	for k, on := range v {
		if on {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// ErrInvalidDiameter carries the message shown to the user for rejected filter input.
var ErrInvalidDiameter = errors.New("enter a valid non-negative number for diameter")

// DiameterFilter is the minimum-diameter restriction applied to the water mains query.
// The zero value is unrestricted.
type DiameterFilter struct {
	Min float64 `json:"min"`
	Set bool    `json:"set"`
}

// ParseDiameterFilter validates user input; empty input clears the filter.
func ParseDiameterFilter(input string) (DiameterFilter, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return DiameterFilter{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return DiameterFilter{}, ErrInvalidDiameter
	}
	return DiameterFilter{Min: v, Set: true}, nil
}

// DiameterBuckets maps a raw diameter attribute value to accumulated length in km.
type DiameterBuckets map[float64]float64
