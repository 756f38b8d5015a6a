package report

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// Metric value types.
const (
	TypeNumber  = "number"
	TypeInteger = "integer"
)

// Metric statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// SourceHansen tags metrics computed from the Hansen GFC layers.
const SourceHansen = "hansen_gfc"

// Metric is one named, unit-tagged report value with its provenance.
type Metric struct {
	Value  *float64     `json:"value,omitempty"`
	Type   string       `json:"type"`
	Unit   string       `json:"unit"`
	Status string       `json:"status"`
	Source string       `json:"source,omitempty"`
	Method string       `json:"method,omitempty"`
	Notes  string       `json:"notes,omitempty"`
	Error  *MetricError `json:"error,omitempty"`
}

// MetricError replaces a value that could not be computed.
type MetricError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MetricRow is the flat form of a metric used by metrics.csv and the
// --metric flag.
type MetricRow struct {
	Variable string
	Value    float64
	Integer  bool
	// Missing rows carry no value; Notes says why.
	Missing bool
	Unit    string
	Source  string
	Notes   string
}

// ValueString formats the rounded value without trailing zeros.
func (r MetricRow) ValueString() string {
	if r.Missing {
		return ""
	}
	if r.Integer {
		return strconv.FormatInt(int64(r.Value), 10)
	}
	return strconv.FormatFloat(Round(r.Value), 'f', -1, 64)
}

// ParseMetricRow parses variable=value:unit[:source[:notes]]. Notes may
// contain colons.
func ParseMetricRow(raw string) (MetricRow, error) {
	const form = "metric must be variable=value:unit[:source[:notes]]"
	variable, rest, ok := strings.Cut(raw, "=")
	if !ok {
		return MetricRow{}, apperr.Userf("%s, got %q", form, raw)
	}
	parts := strings.SplitN(rest, ":", 4)
	if len(parts) < 2 {
		return MetricRow{}, apperr.Userf("%s, got %q", form, raw)
	}
	row := MetricRow{
		Variable: strings.TrimSpace(variable),
		Unit:     strings.TrimSpace(parts[1]),
	}
	if len(parts) >= 3 {
		row.Source = strings.TrimSpace(parts[2])
	}
	if len(parts) == 4 {
		row.Notes = strings.TrimSpace(parts[3])
	}
	if row.Variable == "" || row.Unit == "" {
		return MetricRow{}, apperr.Userf("%s, got %q", form, raw)
	}

	valueStr := strings.TrimSpace(parts[0])
	if strings.ContainsAny(valueStr, ".eE") {
		v, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return MetricRow{}, apperr.Userf("metric %s: value %q is not a number", row.Variable, valueStr)
		}
		row.Value = v
	} else {
		v, err := strconv.ParseInt(valueStr, 10, 64)
		if err != nil {
			return MetricRow{}, apperr.Userf("metric %s: value %q is not a number", row.Variable, valueStr)
		}
		row.Value, row.Integer = float64(v), true
	}
	return row, nil
}

// ParseMetricRows parses every raw row and sorts the result by variable.
// A variable given twice is an error.
func ParseMetricRows(raw []string) ([]MetricRow, error) {
	rows := make([]MetricRow, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, r := range raw {
		row, err := ParseMetricRow(r)
		if err != nil {
			return nil, err
		}
		if seen[row.Variable] {
			return nil, apperr.Userf("metric %s given more than once", row.Variable)
		}
		seen[row.Variable] = true
		rows = append(rows, row)
	}
	SortRows(rows)
	return rows, nil
}

// SortRows orders rows by variable.
func SortRows(rows []MetricRow) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Variable < rows[j].Variable })
}

// Metric converts the row into a report metric.
func (r MetricRow) Metric() Metric {
	v := Round(r.Value)
	typ := TypeNumber
	if r.Integer {
		typ = TypeInteger
	}
	return Metric{Value: &v, Type: typ, Unit: r.Unit, Status: StatusOK, Source: r.Source, Notes: r.Notes}
}

// zonalMetric describes one metric derived from a zonal result.
type zonalMetric struct {
	name    string
	unit    string
	integer bool
	value   func(*zonal.Result) float64
}

var zonalMetrics = []zonalMetric{
	{"aoi_pixel_count", "count", true, func(r *zonal.Result) float64 { return float64(r.PixelCount) }},
	{"area_ha", "ha", false, func(r *zonal.Result) float64 { return r.AreaHa }},
	{"forest_cover_fraction", "fraction", false, func(r *zonal.Result) float64 { return r.ForestCoverFraction }},
	{"forest_cover_ha", "ha", false, func(r *zonal.Result) float64 { return r.ForestCoverHa }},
	{"forest_loss_post_cutoff_ha", "ha", false, func(r *zonal.Result) float64 { return r.ForestLossPostCutoffHa }},
	{"geometry_area_ha", "ha", false, func(r *zonal.Result) float64 { return r.GeometryAreaHa }},
	{"post_cutoff_loss_fraction", "fraction", false, func(r *zonal.Result) float64 { return r.PostCutoffLossFraction }},
	{"post_cutoff_loss_ha", "ha", false, func(r *zonal.Result) float64 { return r.PostCutoffLossHa }},
}

// ZonalRows flattens a zonal outcome into metric rows. A classified zonal
// error yields one missing row per metric.
func ZonalRows(res *zonal.Result, zonalErr error) []MetricRow {
	rows := make([]MetricRow, 0, len(zonalMetrics))
	if zonalErr != nil {
		kind, _ := apperr.KindOf(zonalErr)
		for _, zm := range zonalMetrics {
			rows = append(rows, MetricRow{
				Variable: zm.name,
				Integer:  zm.integer,
				Missing:  true,
				Unit:     zm.unit,
				Source:   SourceHansen,
				Notes:    "error: " + string(kind),
			})
		}
		return rows
	}
	if res == nil {
		return nil
	}
	for _, zm := range zonalMetrics {
		rows = append(rows, MetricRow{
			Variable: zm.name,
			Value:    zm.value(res),
			Integer:  zm.integer,
			Unit:     zm.unit,
			Source:   SourceHansen,
			Notes:    method(res),
		})
	}
	return rows
}

func method(res *zonal.Result) string {
	if res.ProjectedCRS == "" {
		return "pixel_centre_in_polygon;" + res.AreaMethod
	}
	return fmt.Sprintf("pixel_centre_in_polygon;%s;%s", res.AreaMethod, res.ProjectedCRS)
}

// Metrics builds the report metrics from the zonal outcome and extra rows.
// When the zonal computation failed with a classified error every zonal
// metric is reported as an error entry instead of a value.
func Metrics(res *zonal.Result, zonalErr error, extra []MetricRow) (map[string]Metric, error) {
	out := make(map[string]Metric, len(zonalMetrics)+len(extra))
	switch {
	case zonalErr != nil:
		kind, ok := apperr.KindOf(zonalErr)
		if !ok {
			return nil, fmt.Errorf("unclassified zonal error: %w", zonalErr)
		}
		msg := zonalErr.Error()
		var e *apperr.Error
		if errors.As(zonalErr, &e) && e.Message != "" {
			msg = e.Message
		}
		for _, zm := range zonalMetrics {
			typ := TypeNumber
			if zm.integer {
				typ = TypeInteger
			}
			out[zm.name] = Metric{
				Type:   typ,
				Unit:   zm.unit,
				Status: StatusError,
				Source: SourceHansen,
				Error:  &MetricError{Kind: string(kind), Message: msg},
			}
		}
	case res != nil:
		for _, row := range ZonalRows(res, nil) {
			m := row.Metric()
			m.Method, m.Notes = m.Notes, ""
			out[row.Variable] = m
		}
	}
	for _, row := range extra {
		if _, dup := out[row.Variable]; dup {
			return nil, apperr.Userf("metric %s collides with a computed metric", row.Variable)
		}
		out[row.Variable] = row.Metric()
	}
	return out, nil
}

// MetricsCSV renders rows as metrics.csv with a fixed header, sorted by
// variable.
func MetricsCSV(rows []MetricRow) ([]byte, error) {
	sorted := append([]MetricRow(nil), rows...)
	SortRows(sorted)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"variable", "value", "unit", "source", "notes"}); err != nil {
		return nil, err
	}
	for _, r := range sorted {
		if err := w.Write([]string{r.Variable, r.ValueString(), r.Unit, r.Source, r.Notes}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
