package analytics

import (
	"time"

	"github.com/mohammed-shakir/mains-analytics/internal/aggregate"
	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
	"github.com/mohammed-shakir/mains-analytics/internal/present"
)

const (
	LabelWaterKm     = "Total Water Main length (km)"
	LabelReclaimedKm = "Total Reclaimed Main length (km)"
	LabelHydrants    = "Hydrants (count)"
	LabelPillars     = "Pillar Hydrants (count)"

	NoMainsInView = "No water mains in view."

	summaryKmDecimals  = 2
	diameterKmDecimals = 3
)

var (
	barLabels = []string{"Water Main (km)", "Reclaimed Main (km)", "Hydrants", "Pillar Hydrants"}
	pieLabels = []string{"Hydrants", "Pillar Hydrants"}
)

type SummaryRow struct {
	Label   string  `json:"label"`
	Value   float64 `json:"value"`
	Display string  `json:"display"`
}

type DiameterRow struct {
	Diameter float64 `json:"diameter"`
	Km       float64 `json:"km"`
	Display  string  `json:"display"`
}

type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// ChartSeries is the label/dataset shape chart widgets consume.
type ChartSeries struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Totals are the raw numbers of a pass. Invisible layers stay zero.
type Totals struct {
	WaterKm        float64 `json:"water_km"`
	ReclaimedKm    float64 `json:"reclaimed_km"`
	Hydrants       int     `json:"hydrants"`
	PillarHydrants int     `json:"pillar_hydrants"`
}

type Result struct {
	PassID     string               `json:"pass_id"`
	Generation uint64               `json:"generation,omitempty"`
	ComputedAt time.Time            `json:"computed_at"`
	ViewKey    string               `json:"view_key"`
	BBox       model.BBox           `json:"bbox"`
	Zoom       float64              `json:"zoom"`
	Visible    []string             `json:"visible"`
	Filter     model.DiameterFilter `json:"filter"`
	Where      string               `json:"where"`
	Skipped    int                  `json:"skipped_features"`

	Totals       Totals        `json:"totals"`
	Summary      []SummaryRow  `json:"summary"`
	Diameters    []DiameterRow `json:"diameters"`
	DiameterNote string        `json:"diameter_note,omitempty"`
	Bar          ChartSeries   `json:"bar"`
	Pie          ChartSeries   `json:"pie"`
}

func summaryRows(t Totals) []SummaryRow {
	return []SummaryRow{
		{Label: LabelWaterKm, Value: t.WaterKm, Display: present.Fixed(t.WaterKm, summaryKmDecimals)},
		{Label: LabelReclaimedKm, Value: t.ReclaimedKm, Display: present.Fixed(t.ReclaimedKm, summaryKmDecimals)},
		{Label: LabelHydrants, Value: float64(t.Hydrants), Display: present.Fixed(float64(t.Hydrants), 0)},
		{Label: LabelPillars, Value: float64(t.PillarHydrants), Display: present.Fixed(float64(t.PillarHydrants), 0)},
	}
}

func diameterRows(b model.DiameterBuckets, n int) []DiameterRow {
	top := aggregate.Top(b, n)
	rows := make([]DiameterRow, 0, len(top))
	for _, bk := range top {
		rows = append(rows, DiameterRow{
			Diameter: bk.Value,
			Km:       bk.Km,
			Display:  present.Fixed(bk.Km, diameterKmDecimals),
		})
	}
	return rows
}

func barSeries(t Totals) ChartSeries {
	return ChartSeries{
		Labels: append([]string(nil), barLabels...),
		Datasets: []Dataset{{
			Label: "Current view",
			Data:  []float64{t.WaterKm, t.ReclaimedKm, float64(t.Hydrants), float64(t.PillarHydrants)},
		}},
	}
}

func pieSeries(t Totals) ChartSeries {
	return ChartSeries{
		Labels: append([]string(nil), pieLabels...),
		Datasets: []Dataset{{
			Label: "Hydrants",
			Data:  []float64{float64(t.Hydrants), float64(t.PillarHydrants)},
		}},
	}
}
