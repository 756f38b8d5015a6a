// Package report builds the AOI report document and its companion
// renderings (HTML summary, metrics CSV, zonal summary).
package report

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// Report versions. Version2 is emitted; Version1 documents are still
// accepted by the validator.
const (
	Version1 = "aoi_report_v1"
	Version2 = "aoi_report_v2"
)

// TimeLayout is the UTC timestamp format used in reports.
const TimeLayout = "2006-01-02T15:04:05Z"

// Evidence classes, criteria and results referenced by the report.
const (
	ClassAOIGeometry          = "aoi_geometry"
	ClassForestLossPostCutoff = "forest_loss_post_cutoff"
	ClassTilesProvenance      = "tiles_provenance"

	CriteriaGeometryPresent    = "aoi_geometry_present"
	CriteriaForestLossComputed = "forest_loss_post_cutoff_computed"

	resultGeometry = "result-001"
)

// Document is the versioned report JSON.
type Document struct {
	ReportVersion          string            `json:"report_version"`
	GeneratedAtUTC         string            `json:"generated_at_utc"`
	BundleID               string            `json:"bundle_id"`
	AOIID                  string            `json:"aoi_id"`
	AOIGeometryRef         GeometryRef       `json:"aoi_geometry_ref"`
	Inputs                 Inputs            `json:"inputs"`
	Metrics                map[string]Metric `json:"metrics"`
	EvidenceArtifacts      []ArtifactRef     `json:"evidence_artifacts"`
	PolicyMappingRefs      []string          `json:"policy_mapping_refs"`
	ReportMetadata         Metadata          `json:"report_metadata"`
	EvidenceRegistry       Registry          `json:"evidence_registry"`
	AcceptanceCriteria     []Criterion       `json:"acceptance_criteria"`
	Results                []ResultEntry     `json:"results"`
	Assumptions            []string          `json:"assumptions"`
	RegulatoryTraceability []Trace           `json:"regulatory_traceability"`
	Methodology            Methodology       `json:"methodology"`
	Extensions             Extensions        `json:"extensions"`
}

// GeometryRef points at the AOI input copy inside the bundle.
type GeometryRef struct {
	Kind   string `json:"kind"`
	Value  string `json:"value"`
	SHA256 string `json:"sha256"`
}

// Source is one input the report was computed from.
type Source struct {
	SourceID    string `json:"source_id"`
	SHA256      string `json:"sha256,omitempty"`
	URI         string `json:"uri,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Parameters are the computation parameters recorded in the report.
type Parameters struct {
	CanopyThreshold int    `json:"canopy_threshold"`
	CutoffYear      int    `json:"cutoff_year"`
	ProjectedCRS    string `json:"projected_crs"`
	Reproject       bool   `json:"reproject"`
	GridDeg         int    `json:"grid_deg"`
	DatasetVersion  string `json:"dataset_version"`
	TileSource      string `json:"tile_source"`
}

// Inputs declares everything the metrics depend on.
type Inputs struct {
	Sources            []Source          `json:"sources"`
	Parameters         Parameters        `json:"parameters"`
	Datasets           []DeclaredVersion `json:"datasets"`
	Tools              []DeclaredVersion `json:"tools"`
	DeclaredParameters map[string]string `json:"declared_parameters,omitempty"`
}

// ArtifactRef lists a bundle file with its digest.
type ArtifactRef struct {
	RelPath   string `json:"relpath"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

type Metadata struct {
	ReportType           string            `json:"report_type"`
	RegulatoryContext    RegulatoryContext `json:"regulatory_context"`
	AssessmentCapability string            `json:"assessment_capability"`
}

type RegulatoryContext struct {
	Regulation         string   `json:"regulation"`
	InScopeArticles    []string `json:"in_scope_articles"`
	OutOfScopeArticles []string `json:"out_of_scope_articles"`
}

type Registry struct {
	EvidenceClasses []EvidenceClass `json:"evidence_classes"`
}

type EvidenceClass struct {
	ClassID   string `json:"class_id"`
	Mandatory bool   `json:"mandatory"`
	Status    string `json:"status"`
}

type Criterion struct {
	CriteriaID      string   `json:"criteria_id"`
	Description     string   `json:"description"`
	EvidenceClasses []string `json:"evidence_classes"`
	DecisionType    string   `json:"decision_type"`
}

type ResultEntry struct {
	ResultID        string   `json:"result_id"`
	CriteriaIDs     []string `json:"criteria_ids"`
	EvidenceClasses []string `json:"evidence_classes"`
	Status          string   `json:"status"`
}

type Trace struct {
	Regulation         string `json:"regulation"`
	ArticleRef         string `json:"article_ref"`
	EvidenceClass      string `json:"evidence_class"`
	AcceptanceCriteria string `json:"acceptance_criteria"`
	ResultRef          string `json:"result_ref"`
}

// Methodology describes how the forest loss metrics were computed.
type Methodology struct {
	ForestLossPostCutoff MethodBlock `json:"forest_loss_post_cutoff"`
}

type MethodBlock struct {
	DataSources      []string         `json:"data_sources"`
	DatasetVersion   string           `json:"dataset_version"`
	ForestDefinition ForestDefinition `json:"forest_definition"`
	Calculation      Calculation      `json:"calculation"`
	TileSource       string           `json:"tile_source"`
	Rounding         Rounding         `json:"rounding"`
}

type ForestDefinition struct {
	TreeCoverThresholdPercent int    `json:"tree_cover_threshold_percent"`
	ThresholdComparison       string `json:"threshold_comparison"`
}

type Calculation struct {
	Method       string `json:"method"`
	CutoffDate   string `json:"cutoff_date"`
	AreaUnits    string `json:"area_units"`
	AreaMethod   string `json:"area_method,omitempty"`
	ProjectedCRS string `json:"projected_crs"`
}

type Rounding struct {
	Decimals int    `json:"decimals"`
	Rule     string `json:"rule"`
}

// Extensions carries data outside the versioned contract.
type Extensions struct {
	MetricsRowsV1 []ExtensionRow `json:"metrics_rows_v1"`
}

type ExtensionRow struct {
	Variable string   `json:"variable"`
	Value    *float64 `json:"value,omitempty"`
	Unit     string   `json:"unit"`
	Source   string   `json:"source"`
	Notes    string   `json:"notes"`
}

// Input is everything Build needs.
type Input struct {
	GeneratedAt time.Time
	BundleID    string
	AOIID       string
	Geometry    GeometryRef
	// Sources beyond the AOI geometry, e.g. the tiles manifest.
	Sources     []Source
	Parameters  Parameters
	Declared    DeclaredInputs
	ToolName    string
	ToolVersion string
	Zonal       *zonal.Result
	ZonalErr    error
	Extra       []MetricRow
	PolicyRefs  []string
	// TilesManifest is the bundle path of the tiles manifest, empty when
	// no tile was used.
	TilesManifest string
}

// Build assembles the report document. EvidenceArtifacts is left empty for
// the bundle builder to fill.
func Build(in Input) (*Document, error) {
	metrics, err := Metrics(in.Zonal, in.ZonalErr, in.Extra)
	if err != nil {
		return nil, err
	}

	sources := []Source{{
		SourceID:    ClassAOIGeometry,
		SHA256:      in.Geometry.SHA256,
		URI:         in.Geometry.Value,
		ContentType: GeometryContentType(in.Geometry.Kind),
	}}
	extra := append([]Source(nil), in.Sources...)
	sort.SliceStable(extra, func(i, j int) bool { return extra[i].SourceID < extra[j].SourceID })
	sources = append(sources, extra...)

	declared := in.Declared
	declared.Normalize()
	tools := append([]DeclaredVersion(nil), declared.Tools...)
	if in.ToolName != "" {
		tools = append(tools, DeclaredVersion{Name: in.ToolName, Version: in.ToolVersion})
		sort.SliceStable(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	}

	refs := append([]string{}, in.PolicyRefs...)
	sort.Strings(refs)

	computed := in.ZonalErr == nil && in.Zonal != nil
	lossStatus, resultStatus := "missing", "error"
	if computed {
		lossStatus, resultStatus = "present", "computed"
	}
	tilesStatus := "missing"
	if in.TilesManifest != "" {
		tilesStatus = "present"
	}

	areaMethod, projected := "", in.Parameters.ProjectedCRS
	if computed {
		areaMethod, projected = in.Zonal.AreaMethod, in.Zonal.ProjectedCRS
	}

	doc := &Document{
		ReportVersion:     Version2,
		GeneratedAtUTC:    in.GeneratedAt.UTC().Format(TimeLayout),
		BundleID:          in.BundleID,
		AOIID:             in.AOIID,
		AOIGeometryRef:    in.Geometry,
		Metrics:           metrics,
		EvidenceArtifacts: []ArtifactRef{},
		PolicyMappingRefs: refs,
		Inputs: Inputs{
			Sources:            sources,
			Parameters:         in.Parameters,
			Datasets:           declared.Datasets,
			Tools:              tools,
			DeclaredParameters: declared.Parameters,
		},
		ReportMetadata: Metadata{
			ReportType: "aoi_evidence",
			RegulatoryContext: RegulatoryContext{
				Regulation:         "EUDR",
				InScopeArticles:    []string{},
				OutOfScopeArticles: []string{},
			},
			AssessmentCapability: "inspectable_only",
		},
		EvidenceRegistry: Registry{EvidenceClasses: []EvidenceClass{
			{ClassID: ClassAOIGeometry, Mandatory: true, Status: "present"},
			{ClassID: ClassForestLossPostCutoff, Mandatory: true, Status: lossStatus},
			{ClassID: ClassTilesProvenance, Mandatory: true, Status: tilesStatus},
		}},
		AcceptanceCriteria: []Criterion{
			{
				CriteriaID:      CriteriaGeometryPresent,
				Description:     "AOI geometry is present and referenced in inputs.",
				EvidenceClasses: []string{ClassAOIGeometry},
				DecisionType:    "presence",
			},
			{
				CriteriaID:      CriteriaForestLossComputed,
				Description:     fmt.Sprintf("Forest loss after %d computed from Hansen tiles.", in.Parameters.CutoffYear),
				EvidenceClasses: []string{ClassForestLossPostCutoff, ClassTilesProvenance},
				DecisionType:    "presence",
			},
		},
		Results: []ResultEntry{
			{ResultID: resultGeometry, CriteriaIDs: []string{CriteriaGeometryPresent}, EvidenceClasses: []string{ClassAOIGeometry}, Status: "present"},
			{ResultID: CriteriaForestLossComputed, CriteriaIDs: []string{CriteriaForestLossComputed}, EvidenceClasses: []string{ClassForestLossPostCutoff}, Status: resultStatus},
		},
		Assumptions: []string{
			"A pixel belongs to the AOI when its centre lies inside the AOI geometry.",
			"Tree cover equal to the canopy threshold counts as forest.",
			"Post-cutoff loss fraction is relative to all valid AOI pixels.",
			"Tree cover nodata pixels are excluded; loss year nodata counts as no loss.",
		},
		RegulatoryTraceability: []Trace{
			{Regulation: "EUDR", ArticleRef: "article-3", EvidenceClass: ClassAOIGeometry, AcceptanceCriteria: CriteriaGeometryPresent, ResultRef: resultGeometry},
			{Regulation: "EUDR", ArticleRef: "article-3", EvidenceClass: ClassForestLossPostCutoff, AcceptanceCriteria: CriteriaForestLossComputed, ResultRef: CriteriaForestLossComputed},
		},
		Methodology: Methodology{ForestLossPostCutoff: MethodBlock{
			DataSources:    []string{"hansen_global_forest_change"},
			DatasetVersion: in.Parameters.DatasetVersion,
			ForestDefinition: ForestDefinition{
				TreeCoverThresholdPercent: in.Parameters.CanopyThreshold,
				ThresholdComparison:       ">=",
			},
			Calculation: Calculation{
				Method:       "pixel_centre_in_polygon",
				CutoffDate:   strconv.Itoa(in.Parameters.CutoffYear) + "-12-31",
				AreaUnits:    "ha",
				AreaMethod:   areaMethod,
				ProjectedCRS: projected,
			},
			TileSource: in.Parameters.TileSource,
			Rounding:   Rounding{Decimals: Precision, Rule: "half_away_from_zero"},
		}},
		Extensions: Extensions{MetricsRowsV1: extensionRows(Rows(in.Zonal, in.ZonalErr, in.Extra))},
	}
	return doc, nil
}

// Rows returns every metric row of a report: zonal rows followed by extra
// rows, sorted by variable.
func Rows(res *zonal.Result, zonalErr error, extra []MetricRow) []MetricRow {
	rows := append(ZonalRows(res, zonalErr), extra...)
	SortRows(rows)
	return rows
}

func extensionRows(rows []MetricRow) []ExtensionRow {
	out := make([]ExtensionRow, 0, len(rows))
	for _, r := range rows {
		er := ExtensionRow{Variable: r.Variable, Unit: r.Unit, Source: r.Source, Notes: r.Notes}
		if !r.Missing {
			v := Round(r.Value)
			er.Value = &v
		}
		out = append(out, er)
	}
	return out
}

// SetArtifacts replaces the evidence artifact list, sorted by path.
func (d *Document) SetArtifacts(refs []ArtifactRef) {
	out := append([]ArtifactRef{}, refs...)
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	d.EvidenceArtifacts = out
}

// JSON returns the canonical encoding of the document.
func (d *Document) JSON() ([]byte, error) {
	return Canonical(d)
}

// GeometryContentType maps a geometry kind to its media type.
func GeometryContentType(kind string) string {
	if kind == "wkt" {
		return "text/plain"
	}
	return "application/geo+json"
}
