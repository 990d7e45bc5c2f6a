// Package viewstate holds the current map view and notifies observers when it changes.
package viewstate

import (
	"sync"

	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/layers"
)

// Snapshot is an immutable copy of the view used by one analytics pass.
type Snapshot struct {
	BBox    model.BBox           `json:"bbox"`
	Zoom    float64              `json:"zoom"`
	Visible model.Visibility     `json:"visible"`
	Filter  model.DiameterFilter `json:"filter"`
}

type (
	ViewportFunc   func(bbox model.BBox, zoom float64)
	VisibilityFunc func(key string, visible bool)
	FilterFunc     func(f model.DiameterFilter)
)

type State struct {
	catalog *layers.Catalog

	mu      sync.RWMutex
	bbox    model.BBox
	zoom    float64
	visible model.Visibility
	filter  model.DiameterFilter

	obsMu      sync.Mutex
	nextID     int
	onViewport map[int]ViewportFunc
	onVisible  map[int]VisibilityFunc
	onFilter   map[int]FilterFunc
}

// New starts from the catalog's default visibility and no diameter filter.
func New(catalog *layers.Catalog, bbox model.BBox, zoom float64) *State {
	return &State{
		catalog:    catalog,
		bbox:       bbox,
		zoom:       zoom,
		visible:    catalog.DefaultVisibility(),
		onViewport: map[int]ViewportFunc{},
		onVisible:  map[int]VisibilityFunc{},
		onFilter:   map[int]FilterFunc{},
	}
}

func (s *State) Catalog() *layers.Catalog { return s.catalog }

func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		BBox:    s.bbox,
		Zoom:    s.zoom,
		Visible: s.visible.Clone(),
		Filter:  s.filter,
	}
}

func (s *State) SetViewport(bbox model.BBox, zoom float64) error {
	if err := bbox.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.bbox, s.zoom = bbox, zoom
	s.mu.Unlock()

	for _, fn := range s.viewportObservers() {
		fn(bbox, zoom)
	}
	return nil
}

// SetVisible toggles a catalog layer. Observers fire only on an actual change.
func (s *State) SetVisible(key string, visible bool) error {
	if _, err := s.catalog.Get(key); err != nil {
		return err
	}
	s.mu.Lock()
	changed := s.visible[key] != visible
	s.visible[key] = visible
	s.mu.Unlock()

	if !changed {
		return nil
	}
	for _, fn := range s.visibilityObservers() {
		fn(key, visible)
	}
	return nil
}

func (s *State) SetDiameterFilter(f model.DiameterFilter) {
	s.mu.Lock()
	s.filter = f
	s.mu.Unlock()

	for _, fn := range s.filterObservers() {
		fn(f)
	}
}

func (s *State) OnViewportChange(fn ViewportFunc) (unsubscribe func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.onViewport[id] = fn
	return func() {
		s.obsMu.Lock()
		delete(s.onViewport, id)
		s.obsMu.Unlock()
	}
}

func (s *State) OnVisibilityChange(fn VisibilityFunc) (unsubscribe func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.onVisible[id] = fn
	return func() {
		s.obsMu.Lock()
		delete(s.onVisible, id)
		s.obsMu.Unlock()
	}
}

func (s *State) OnFilterChange(fn FilterFunc) (unsubscribe func()) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	id := s.nextID
	s.nextID++
	s.onFilter[id] = fn
	return func() {
		s.obsMu.Lock()
		delete(s.onFilter, id)
		s.obsMu.Unlock()
	}
}

func (s *State) viewportObservers() []ViewportFunc {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]ViewportFunc, 0, len(s.onViewport))
	for _, fn := range s.onViewport {
		out = append(out, fn)
	}
	return out
}

func (s *State) visibilityObservers() []VisibilityFunc {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]VisibilityFunc, 0, len(s.onVisible))
	for _, fn := range s.onVisible {
		out = append(out, fn)
	}
	return out
}

func (s *State) filterObservers() []FilterFunc {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	out := make([]FilterFunc, 0, len(s.onFilter))
	for _, fn := range s.onFilter {
		out = append(out, fn)
	}
	return out
}

// ScaleHints lists visible layers the service will not draw at the current zoom.
func (s *State) ScaleHints() []string {
	snap := s.Snapshot()
	var msgs []string
	for _, l := range s.catalog.All() {
		if snap.Visible.Has(l.Key) && l.MinZoom > 0 && snap.Zoom < l.MinZoom {
			msgs = append(msgs, l.Name+" hidden at this zoom by service; zoom in.")
		}
	}
	return msgs
}
