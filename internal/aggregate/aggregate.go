// Package aggregate measures line features clipped to a view extent.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
)

// EarthRadiusM is the mean earth radius in metres used for line lengths. orb's
// haversine helpers assume the equatorial radius, so their results are rescaled.
const EarthRadiusM = 6371008.8

type Options struct {
	// BucketBy names a numeric attribute; when set, clipped length is also
	// accumulated per attribute value.
	BucketBy string
}

type Totals struct {
	Km      float64
	Buckets model.DiameterBuckets
	Lines   int // line features measured
	Skipped int // features dropped because their geometry was unusable
}

var errNonFinite = errors.New("non-finite coordinate")

// InView sums the length in km of every line feature clipped to bbox.
// Non-line geometries are ignored; a feature that fails to measure is skipped.
func InView(fc *geojson.FeatureCollection, bbox model.BBox, opts Options) Totals {
	t := Totals{}
	if opts.BucketBy != "" {
		t.Buckets = model.DiameterBuckets{}
	}
	if fc == nil {
		return t
	}
	bound := bbox.Bound()
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		parts := lineParts(f.Geometry)
		if parts == nil {
			continue
		}
		kms, err := measureParts(parts, bound)
		if err != nil {
			t.Skipped++
			continue
		}
		t.Lines++

		bucket, hasBucket := 0.0, false
		if opts.BucketBy != "" {
			bucket, hasBucket = numericAttr(f.Properties, opts.BucketBy)
		}
		for _, km := range kms {
			t.Km += km
			if hasBucket && km > 0 {
				t.Buckets[bucket] += km
			}
		}
	}
	return t
}

func lineParts(g orb.Geometry) []orb.LineString {
	switch g := g.(type) {
	case orb.LineString:
		return []orb.LineString{g}
	case orb.MultiLineString:
		return []orb.LineString(g)
	default:
		return nil
	}
}

// measureParts clips and measures each part; a panic inside clipping is
// reported as an error so the caller can skip the feature.
func measureParts(parts []orb.LineString, bound orb.Bound) (kms []float64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			kms, err = nil, fmt.Errorf("clip: %v", rec)
		}
	}()
	kms = make([]float64, 0, len(parts))
	for _, ls := range parts {
		km, err := ClippedKm(ls, bound)
		if err != nil {
			return nil, err
		}
		kms = append(kms, km)
	}
	return kms, nil
}

// ClippedKm returns the haversine length in km of the portion of ls inside bound.
func ClippedKm(ls orb.LineString, bound orb.Bound) (float64, error) {
	for _, p := range ls {
		if !finite(p[0]) || !finite(p[1]) {
			return 0, errNonFinite
		}
	}
	if len(ls) < 2 {
		return 0, nil
	}
	clipped := clip.LineString(bound, ls)
	if len(clipped) == 0 {
		return 0, nil
	}
	return geo.LengthHaversine(clipped) * (EarthRadiusM / orb.EarthRadius) / 1000, nil
}

func numericAttr(props geojson.Properties, key string) (float64, bool) {
	v, ok := props[key]
	if !ok || v == nil {
		return 0, false
	}
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if !finite(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

type Bucket struct {
	Value float64 `json:"value"`
	Km    float64 `json:"km"`
}

// Top returns the n longest buckets, longest first. Ties order by value.
func Top(b model.DiameterBuckets, n int) []Bucket {
	out := make([]Bucket, 0, len(b))
	for v, km := range b {
		out = append(out, Bucket{Value: v, Km: km})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Km != out[j].Km {
			return out[i].Km > out[j].Km
		}
		return out[i].Value < out[j].Value
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
