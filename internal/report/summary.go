package report

import (
	"errors"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// Summary is the zonal summary artifact (summary.json).
type Summary struct {
	AOIID      string             `json:"aoi_id"`
	BundleID   string             `json:"bundle_id"`
	Status     string             `json:"status"`
	Parameters Parameters         `json:"parameters"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	AreaMethod string             `json:"area_method,omitempty"`
	TileCount  int                `json:"tile_count"`
	Error      *MetricError       `json:"error,omitempty"`
}

// NewSummary summarizes a zonal outcome with rounded values.
func NewSummary(aoiID, bundleID string, p Parameters, res *zonal.Result, zonalErr error) Summary {
	s := Summary{AOIID: aoiID, BundleID: bundleID, Status: StatusOK, Parameters: p}
	if zonalErr != nil {
		s.Status = StatusError
		kind, _ := apperr.KindOf(zonalErr)
		msg := zonalErr.Error()
		var e *apperr.Error
		if errors.As(zonalErr, &e) && e.Message != "" {
			msg = e.Message
		}
		s.Error = &MetricError{Kind: string(kind), Message: msg}
		return s
	}
	if res == nil {
		return s
	}
	s.Metrics = make(map[string]float64)
	for _, row := range ZonalRows(res, nil) {
		s.Metrics[row.Variable] = Round(row.Value)
	}
	s.Parameters.ProjectedCRS = res.ProjectedCRS
	s.AreaMethod = res.AreaMethod
	s.TileCount = len(res.Tiles)
	return s
}
