// Package present formats analytics values and feature attributes for display.
package present

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// DefaultPopupRows is the number of attribute rows a popup shows.
const DefaultPopupRows = 12

// Missing is rendered for absent attribute values.
const Missing = "—"

type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PopupContent struct {
	Title string `json:"title"`
	Rows  []KV   `json:"rows"`
}

// Popup keeps the first keep attributes in key order. keep <= 0 means DefaultPopupRows.
func Popup(title string, props map[string]any, keep int) PopupContent {
	if keep <= 0 {
		keep = DefaultPopupRows
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > keep {
		keys = keys[:keep]
	}
	rows := make([]KV, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, KV{Key: k, Value: Value(props[k])})
	}
	return PopupContent{Title: title, Rows: rows}
}

// Value renders a single attribute value.
func Value(v any) string {
	switch x := v.(type) {
	case nil:
		return Missing
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// Fixed formats v with exactly decimals digits after the point.
func Fixed(v float64, decimals int) string {
	if decimals < 0 {
		decimals = 0
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Missing
	}
	s := strconv.FormatFloat(v, 'f', decimals, 64)
	if s == "-"+strconv.FormatFloat(0, 'f', decimals, 64) {
		return s[1:]
	}
	return s
}
