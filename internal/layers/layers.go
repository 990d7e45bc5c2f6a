// Package layers describes the feature-service layers the viewer knows about.
package layers

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	WaterMains     = "water"
	ReclaimedMains = "reclaimed"
	Hydrants       = "hydrants"
	PillarHydrants = "pillar_hydrants"
	WWGravity      = "ww_gravity"
	WWLowPressure  = "ww_low_pressure"
	WWPumping      = "ww_pumping"
	WWVacuum       = "ww_vacuum"
)

type Geometry string

const (
	Line  Geometry = "line"
	Point Geometry = "point"
)

// Role says what a layer contributes to the analytics pass.
type Role string

const (
	RoleLength  Role = "length"
	RoleCount   Role = "count"
	RoleDisplay Role = "display"
)

var ErrUnknownLayer = errors.New("unknown layer")

type Layer struct {
	Key            string   `yaml:"key" json:"key"`
	Name           string   `yaml:"name" json:"name"`
	ID             int      `yaml:"id" json:"id"`
	Geometry       Geometry `yaml:"geometry" json:"geometry"`
	Role           Role     `yaml:"role" json:"role"`
	MinZoom        float64  `yaml:"min_zoom" json:"min_zoom"`
	DefaultVisible bool     `yaml:"default_visible" json:"default_visible"`
}

// NeedsGeometry reports whether analytics must fetch shapes for this layer.
// Count layers only need the records.
func (l Layer) NeedsGeometry() bool { return l.Role == RoleLength }

type Catalog struct {
	order []string
	byKey map[string]Layer
}

func New(ls []Layer) (*Catalog, error) {
	c := &Catalog{byKey: make(map[string]Layer, len(ls))}
	for i, l := range ls {
		l.Key = strings.TrimSpace(l.Key)
		if l.Key == "" {
			return nil, fmt.Errorf("layer %d: key is required", i)
		}
		if _, dup := c.byKey[l.Key]; dup {
			return nil, fmt.Errorf("layer %q: duplicate key", l.Key)
		}
		if l.ID < 0 {
			return nil, fmt.Errorf("layer %q: id must be non-negative", l.Key)
		}
		switch l.Geometry {
		case Line, Point:
		default:
			return nil, fmt.Errorf("layer %q: geometry must be line|point (got %q)", l.Key, l.Geometry)
		}
		switch l.Role {
		case RoleLength:
			if l.Geometry != Line {
				return nil, fmt.Errorf("layer %q: length role requires line geometry", l.Key)
			}
		case RoleCount, RoleDisplay:
		default:
			return nil, fmt.Errorf("layer %q: role must be length|count|display (got %q)", l.Key, l.Role)
		}
		if l.Name == "" {
			l.Name = l.Key
		}
		c.order = append(c.order, l.Key)
		c.byKey[l.Key] = l
	}
	return c, nil
}

// Default is the LocationSA viewer layer set.
func Default() *Catalog {
	c, err := New([]Layer{
		{Key: WaterMains, Name: "Water Main", ID: 84, Geometry: Line, Role: RoleLength, MinZoom: 13, DefaultVisible: true},
		{Key: ReclaimedMains, Name: "Reclaimed Water Main", ID: 83, Geometry: Line, Role: RoleLength, MinZoom: 12},
		{Key: Hydrants, Name: "Hydrants", ID: 334, Geometry: Point, Role: RoleCount, MinZoom: 15, DefaultVisible: true},
		{Key: PillarHydrants, Name: "Pillar Hydrants", ID: 335, Geometry: Point, Role: RoleCount, MinZoom: 15},
		{Key: WWGravity, Name: "WW Gravity Main", ID: 85, Geometry: Line, Role: RoleDisplay, MinZoom: 13},
		{Key: WWLowPressure, Name: "WW Low Pressure", ID: 86, Geometry: Line, Role: RoleDisplay, MinZoom: 12},
		{Key: WWPumping, Name: "WW Pumping", ID: 87, Geometry: Line, Role: RoleDisplay, MinZoom: 12},
		{Key: WWVacuum, Name: "WW Vacuum", ID: 88, Geometry: Line, Role: RoleDisplay, MinZoom: 12},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type fileFormat struct {
	Layers []Layer `yaml:"layers"`
}

// LoadFile reads a YAML catalog. An empty path yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read layers file: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse layers file: %w", err)
	}
	if len(ff.Layers) == 0 {
		return nil, errors.New("layers file: no layers defined")
	}
	return New(ff.Layers)
}

func (c *Catalog) Get(key string) (Layer, error) {
	l, ok := c.byKey[key]
	if !ok {
		return Layer{}, fmt.Errorf("%w: %q", ErrUnknownLayer, key)
	}
	return l, nil
}

// All returns the layers in declaration order.
func (c *Catalog) All() []Layer {
	out := make([]Layer, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

// DefaultVisibility returns the visibility set a fresh view starts with.
func (c *Catalog) DefaultVisibility() map[string]bool {
	out := make(map[string]bool, len(c.order))
	for _, k := range c.order {
		out[k] = c.byKey[k].DefaultVisible
	}
	return out
}
