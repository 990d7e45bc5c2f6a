// Package boundary serves the static district boundary overlay.
package boundary

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/mains-analytics/internal/present"
)

const DefaultTitle = "Fire Ban District"

var ErrDisabled = errors.New("boundary layer not configured")

// Layer is loaded once and read-only afterwards.
type Layer struct {
	fc  *geojson.FeatureCollection
	raw []byte
}

// Load reads a GeoJSON FeatureCollection. An empty path disables the layer.
func Load(path string) (*Layer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrDisabled
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary file: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, fmt.Errorf("decode boundary geojson: %w", err)
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode boundary geojson: %w", err)
	}
	return &Layer{fc: fc, raw: raw}, nil
}

func (l *Layer) Len() int { return len(l.fc.Features) }

// JSON returns the collection as served to clients.
func (l *Layer) JSON() []byte { return l.raw }

// Popups builds one popup per district, titled by its NAME attribute.
func (l *Layer) Popups() []present.PopupContent {
	out := make([]present.PopupContent, 0, len(l.fc.Features))
	for _, f := range l.fc.Features {
		if f == nil {
			continue
		}
		out = append(out, present.Popup(title(f.Properties), f.Properties, present.DefaultPopupRows))
	}
	return out
}

func title(p geojson.Properties) string {
	if name, ok := p["NAME"].(string); ok && strings.TrimSpace(name) != "" {
		return name
	}
	return DefaultTitle
}
