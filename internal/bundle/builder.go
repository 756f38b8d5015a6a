package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/apperr"
	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/fsutil"
	"github.com/idlab-discover/aoievidence-cli/internal/provenance"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/telemetry"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
	"github.com/idlab-discover/aoievidence-cli/internal/zonal"
)

// Bundle outcomes recorded in metrics.
const (
	OutcomeCreated   = "created"
	OutcomeReused    = "reused"
	OutcomeCollision = "collision"
)

// Options configures a Builder.
type Options struct {
	Metrics     *telemetry.PipelineMetrics
	ToolVersion string
}

// Builder writes bundles under an evidence root.
type Builder struct {
	root string
	opts Options
}

// New returns a Builder writing under root.
func New(root string, opts Options) *Builder {
	return &Builder{root: root, opts: opts}
}

// Input is everything a bundle is built from.
type Input struct {
	AOI          *aoi.AOI
	Zonal        *zonal.Result
	ZonalErr     error
	Parameters   report.Parameters
	Inputs       report.DeclaredInputs
	PolicyRefs   []string
	ExtraMetrics []report.MetricRow
	// BundleID defaults to DefaultID(AOI.ID, GeneratedAt).
	BundleID string
	// Date defaults to the UTC date of GeneratedAt.
	Date string
	// GeneratedAt defaults to the time of an existing bundle with the same
	// explicit BundleID and Date, otherwise to now.
	GeneratedAt time.Time
}

// Build renders every artifact in memory and writes the bundle. Rebuilding
// identical content is a no-op; different content under an existing
// manifest is a BundleCollision.
func (b *Builder) Build(ctx context.Context, in Input) (*Bundle, error) {
	if in.AOI == nil {
		return nil, apperr.New(apperr.EmptyGeometry, component, in.BundleID, "no AOI")
	}
	if in.ZonalErr != nil {
		if _, ok := apperr.KindOf(in.ZonalErr); !ok {
			return nil, in.ZonalErr
		}
	}
	reuseTime := in.GeneratedAt.IsZero() && in.BundleID != ""
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}
	in.GeneratedAt = in.GeneratedAt.UTC().Truncate(time.Second)
	if in.BundleID == "" {
		in.BundleID = DefaultID(in.AOI.ID, in.GeneratedAt)
	}
	in.BundleID = aoi.SanitizeID(in.BundleID)
	if in.Date == "" {
		in.Date = in.GeneratedAt.Format(DateLayout)
	}
	if _, err := time.Parse(DateLayout, in.Date); err != nil {
		return nil, apperr.Userf("bundle date %q is not YYYY-MM-DD", in.Date)
	}
	if reuseTime {
		if prev, err := Load(filepath.Join(b.root, in.Date, in.BundleID)); err == nil {
			logf(in.BundleID, "reusing generated_at_utc %s of the existing bundle", prev.GeneratedAt.Format(report.TimeLayout))
			in.GeneratedAt = prev.GeneratedAt
		}
	}

	files, doc, err := b.render(in)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest := NewManifest(in.BundleID, in.Date, files)
	dir := filepath.Join(b.root, in.Date, in.BundleID)
	bundle := &Bundle{
		ID:          in.BundleID,
		Date:        in.Date,
		Dir:         dir,
		AOIID:       in.AOI.ID,
		GeneratedAt: in.GeneratedAt,
		Manifest:    manifest,
		Report:      doc,
	}

	existing, err := ReadManifest(dir)
	switch {
	case err == nil:
		if diff := Diff(existing, manifest); len(diff) > 0 {
			b.opts.Metrics.RecordBundle(OutcomeCollision)
			logf(in.BundleID, "collision on %d path(s)", len(diff))
			return nil, apperr.New(apperr.BundleCollision, component, in.BundleID,
				"existing bundle differs at %s", strings.Join(diff, ", "))
		}
		bundle.Reused = true
		b.opts.Metrics.RecordBundle(OutcomeReused)
		logf(in.BundleID, "identical bundle exists, nothing written")
		return bundle, nil
	case errors.Is(err, fs.ErrNotExist):
		// Fresh directory, or an interrupted build that never wrote its manifest.
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("clear %s: %w", dir, err)
		}
	default:
		return nil, apperr.Wrap(apperr.BundleCollision, component, in.BundleID, err)
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fsutil.WriteFileAtomic(bundle.Path(p), files[p], 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
	}

	manifestJSON, err := manifest.JSON()
	if err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(bundle.Path(SidecarFile), Sidecar(manifestJSON), 0o644); err != nil {
		return nil, err
	}
	if err := fsutil.WriteFileAtomic(bundle.Path(ManifestFile), manifestJSON, 0o644); err != nil {
		return nil, err
	}

	b.opts.Metrics.RecordBundle(OutcomeCreated)
	logf(in.BundleID, "bundle written to %s (%d artifacts)", dir, len(files))
	return bundle, nil
}

// render produces every artifact keyed by bundle-relative path.
func (b *Builder) render(in Input) (map[string][]byte, *report.Document, error) {
	a := in.AOI
	files := make(map[string][]byte)

	aoiPath := path.Join("inputs", a.InputFilename())
	files[aoiPath] = a.Raw
	aoiSHA := digest.Bytes(a.Raw)

	var refs []tilecache.Ref
	if in.ZonalErr == nil && in.Zonal != nil {
		refs = in.Zonal.Tiles
	}
	tilesPath := TilesManifestPath(a.ID)
	tilesJSON, err := report.Canonical(tilecache.NewManifest(a.ID, in.Parameters.DatasetVersion, in.Parameters.TileSource, refs))
	if err != nil {
		return nil, nil, err
	}
	files[tilesPath] = tilesJSON

	toolVersion := b.opts.ToolVersion
	if toolVersion == "" {
		toolVersion = provenance.ToolVersion()
	}
	bom := provenance.Build(provenance.Input{
		BundleID:       in.BundleID,
		AOIID:          a.ID,
		GeneratedAt:    in.GeneratedAt,
		AOIFile:        aoiPath,
		AOISHA256:      aoiSHA,
		DatasetVersion: in.Parameters.DatasetVersion,
		TileSource:     in.Parameters.TileSource,
		Tiles:          refs,
		Declared:       in.Inputs,
		ToolVersion:    toolVersion,
	})
	bomJSON, err := provenance.Encode(bom)
	if err != nil {
		return nil, nil, err
	}
	files[ProvenanceFile] = bomJSON

	rows := report.Rows(in.Zonal, in.ZonalErr, in.ExtraMetrics)
	csv, err := report.MetricsCSV(rows)
	if err != nil {
		return nil, nil, err
	}
	files[MetricsCSVPath(a.ID)] = csv

	summary, err := report.Canonical(report.NewSummary(a.ID, in.BundleID, in.Parameters, in.Zonal, in.ZonalErr))
	if err != nil {
		return nil, nil, err
	}
	files[SummaryPath(a.ID)] = summary

	tilesManifest := ""
	if len(refs) > 0 {
		tilesManifest = tilesPath
	}
	doc, err := report.Build(report.Input{
		GeneratedAt: in.GeneratedAt,
		BundleID:    in.BundleID,
		AOIID:       a.ID,
		Geometry:    report.GeometryRef{Kind: string(a.SourceKind), Value: aoiPath, SHA256: aoiSHA},
		Sources: []report.Source{
			{SourceID: "inputs_provenance", SHA256: digest.Bytes(bomJSON), URI: ProvenanceFile, ContentType: "application/vnd.cyclonedx+json"},
			{SourceID: "tiles_manifest", SHA256: digest.Bytes(tilesJSON), URI: tilesPath, ContentType: "application/json", Version: in.Parameters.DatasetVersion},
		},
		Parameters:    in.Parameters,
		Declared:      in.Inputs,
		ToolName:      provenance.ToolName,
		ToolVersion:   toolVersion,
		Zonal:         in.Zonal,
		ZonalErr:      in.ZonalErr,
		Extra:         in.ExtraMetrics,
		PolicyRefs:    in.PolicyRefs,
		TilesManifest: tilesManifest,
	})
	if err != nil {
		return nil, nil, err
	}

	htmlPath := ReportHTMLPath(a.ID)
	html, err := report.RenderHTML(doc, report.HTMLOptions{
		ReportJSONHref: path.Base(ReportJSONPath(a.ID)),
		Artifacts:      htmlLinks(files, htmlPath),
	})
	if err != nil {
		return nil, nil, err
	}
	files[htmlPath] = html

	// The report lists every other artifact; it cannot list itself.
	artifacts := make([]report.ArtifactRef, 0, len(files))
	for p, data := range files {
		artifacts = append(artifacts, report.ArtifactRef{RelPath: p, SHA256: digest.Bytes(data), SizeBytes: int64(len(data))})
	}
	doc.SetArtifacts(artifacts)
	reportJSON, err := doc.JSON()
	if err != nil {
		return nil, nil, err
	}
	files[ReportJSONPath(a.ID)] = reportJSON
	return files, doc, nil
}

// htmlLinks links every artifact relative to the HTML file's directory.
func htmlLinks(files map[string][]byte, htmlPath string) []report.Link {
	base := path.Dir(htmlPath)
	links := make([]report.Link, 0, len(files))
	for p := range files {
		rel, err := filepath.Rel(base, p)
		if err != nil {
			rel = p
		}
		links = append(links, report.Link{Href: filepath.ToSlash(rel), Label: p})
	}
	return links
}
