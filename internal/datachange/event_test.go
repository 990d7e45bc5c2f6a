package datachange

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_BBoxAndGeometryMutualExclusion(t *testing.T) {
	ev := Event{
		Version: 1, Op: "update", Layer: "water", TS: mustTS(),
		BBox:     &BBox{X1: 138.5, Y1: -35, X2: 138.6, Y2: -34.9, SRID: "EPSG:4326"},
		Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[138.5,-35],[138.6,-34.9]]}`),
	}
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when both bbox and geometry are set")
	}
	ev.BBox, ev.Geometry = nil, nil
	if err := ev.Validate(); err == nil {
		t.Fatalf("expected error when neither bbox nor geometry is set")
	}
}

func TestEvent_Validate_HappyPaths(t *testing.T) {
	cases := []Event{
		{Version: 1, Op: "delete", Layer: "water", TS: mustTS(),
			BBox: &BBox{X1: 138.5, Y1: -35, X2: 138.6, Y2: -34.9, SRID: "EPSG:4326"}},
		{Version: 1, Op: "insert", Layer: "hydrants", TS: mustTS(),
			BBox: &BBox{X1: 138.5, Y1: -35, X2: 138.5, Y2: -35, SRID: "EPSG:4326"}},
		{Version: 1, Op: "update", Layer: "water", TS: mustTS(),
			Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[138.5,-35],[138.6,-34.9]]}`)},
	}
	for i, ev := range cases {
		if err := ev.Validate(); err != nil {
			t.Fatalf("case %d: unexpected: %v", i, err)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	base := func() Event {
		return Event{Version: 1, Op: "update", Layer: "water", TS: mustTS(),
			BBox: &BBox{X1: 138.5, Y1: -35, X2: 138.6, Y2: -34.9, SRID: "EPSG:4326"}}
	}
	mut := []func(*Event){
		func(e *Event) { e.Version = 2 },
		func(e *Event) { e.Op = "upsert" },
		func(e *Event) { e.Layer = " " },
		func(e *Event) { e.TS = time.Time{} },
		func(e *Event) { e.BBox.SRID = "EPSG:3857" },
		func(e *Event) { e.BBox.X1 = 200 },
		func(e *Event) { e.BBox.X2 = 138.4 },
		func(e *Event) { e.BBox = nil; e.Geometry = json.RawMessage(`{"type":`) },
	}
	for i, m := range mut {
		ev := base()
		m(&ev)
		if err := ev.Validate(); err == nil {
			t.Fatalf("mutation %d: expected validation error", i)
		}
	}
}

func TestEvent_Extent(t *testing.T) {
	ev := Event{Geometry: json.RawMessage(`{"type":"LineString","coordinates":[[138.5,-35],[138.6,-34.9]]}`)}
	b, err := ev.Extent()
	if err != nil {
		t.Fatalf("Extent: %v", err)
	}
	if b.Min[0] != 138.5 || b.Max[1] != -34.9 {
		t.Fatalf("bound=%v", b)
	}
	ev = Event{BBox: &BBox{X1: 1, Y1: 2, X2: 3, Y2: 4}}
	b, _ = ev.Extent()
	if b.Min[0] != 1 || b.Min[1] != 2 || b.Max[0] != 3 || b.Max[1] != 4 {
		t.Fatalf("bound=%v", b)
	}
}
