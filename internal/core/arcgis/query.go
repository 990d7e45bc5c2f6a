// Package arcgis builds query requests for ArcGIS MapServer feature layers.
package arcgis

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
)

const unrestricted = "1=1"

type Query struct {
	BBox           model.BBox
	Where          string
	ReturnGeometry bool
	Limit          int
	Offset         int
}

func LayerQueryEndpoint(serviceURL string, layerID int) string {
	return strings.TrimRight(serviceURL, "/") + "/" + strconv.Itoa(layerID) + "/query"
}

func BuildQueryParams(q Query) url.Values {
	params := url.Values{}
	where := strings.TrimSpace(q.Where)
	if where == "" {
		where = unrestricted
	}
	params.Set("where", where)
	params.Set("geometry", q.BBox.String())
	params.Set("geometryType", "esriGeometryEnvelope")
	params.Set("inSR", "4326")
	params.Set("outSR", "4326")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("outFields", "*")
	params.Set("returnGeometry", strconv.FormatBool(q.ReturnGeometry))
	if q.Limit > 0 {
		params.Set("resultRecordCount", strconv.Itoa(q.Limit))
	}
	params.Set("resultOffset", strconv.Itoa(q.Offset))
	params.Set("f", "geojson")
	return params
}

// WhereClause renders the minimum-diameter filter for the given attribute.
func WhereClause(field string, f model.DiameterFilter) string {
	if !f.Set || strings.TrimSpace(field) == "" {
		return unrestricted
	}
	return fmt.Sprintf("%s >= %s", field, strconv.FormatFloat(f.Min, 'f', -1, 64))
}

// ServiceError is the error payload the service returns with HTTP 200.
type ServiceError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("feature service error %d: %s (%s)", e.Code, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("feature service error %d: %s", e.Code, e.Message)
}

// DecodeError returns a *ServiceError when body is an error envelope, nil otherwise.
func DecodeError(body []byte) error {
	var env struct {
		Error *ServiceError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	if env.Error == nil {
		return nil
	}
	return env.Error
}
