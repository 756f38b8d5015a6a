package zonal

import (
	"slices"

	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/projection"
	"github.com/idlab-discover/aoievidence-cli/internal/tiles"
)

// Defaults.
const (
	DefaultCanopyThreshold = 30
	DefaultCutoffYear      = 2020
	DefaultWorkers         = 4
)

// lossYearBase is the year encoded as 0 in the lossyear layer; value n
// means loss detected in lossYearBase+n.
const lossYearBase = 2000

// Params controls one computation.
type Params struct {
	// Layers to resolve. treecover2000 is required; lossyear is optional.
	Layers []string
	// CanopyThreshold in percent. Pixels with cover >= threshold are forested.
	CanopyThreshold int
	// CutoffYear: loss in a later year is post-cutoff.
	CutoffYear int
	// ProjectedCRS is the equal-area CRS used for area when reprojecting.
	ProjectedCRS string
	// Reproject enables projecting geographic pixels into ProjectedCRS and
	// sampling layers whose grids differ from the reference grid.
	Reproject bool
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Layers:          slices.Clone(tiles.DefaultLayers),
		CanopyThreshold: DefaultCanopyThreshold,
		CutoffYear:      DefaultCutoffYear,
		ProjectedCRS:    projection.DefaultEqualArea,
		Reproject:       true,
	}
}

func (p Params) withDefaults() Params {
	if len(p.Layers) == 0 {
		p.Layers = slices.Clone(tiles.DefaultLayers)
	}
	if p.CutoffYear == 0 {
		p.CutoffYear = DefaultCutoffYear
	}
	if p.ProjectedCRS == "" {
		p.ProjectedCRS = projection.DefaultEqualArea
	}
	return p
}

func (p Params) validate() error {
	if p.CanopyThreshold < 0 || p.CanopyThreshold > 100 {
		return apperr.New(apperr.InvalidConfig, component, "", "canopy threshold %d outside 0..100", p.CanopyThreshold)
	}
	if p.CutoffYear < lossYearBase || p.CutoffYear > lossYearBase+254 {
		return apperr.New(apperr.InvalidConfig, component, "", "cutoff year %d not representable in the lossyear layer", p.CutoffYear)
	}
	if !slices.Contains(p.Layers, tiles.LayerTreecover) {
		return apperr.New(apperr.InvalidConfig, component, "", "layer %s is required", tiles.LayerTreecover)
	}
	for _, l := range p.Layers {
		if l != tiles.LayerTreecover && l != tiles.LayerLossYear {
			return apperr.New(apperr.InvalidConfig, component, "", "unsupported layer %q", l)
		}
	}
	if p.Reproject {
		proj, err := projection.Lookup(p.ProjectedCRS)
		if err != nil {
			return apperr.Wrap(apperr.InvalidConfig, component, "", err)
		}
		if !proj.EqualArea() {
			return apperr.New(apperr.InvalidConfig, component, "", "projected CRS %s is not equal-area", proj.Code())
		}
	}
	return nil
}

func (p Params) wantLoss() bool { return slices.Contains(p.Layers, tiles.LayerLossYear) }
