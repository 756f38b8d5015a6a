// Package bundle writes and reopens immutable evidence bundles.
//
// A bundle lives at {evidence_root}/{date}/{bundle_id}/ and is described by
// manifest.json, which lists every other file with its SHA-256 and size.
// manifest.json is written last, so a directory without one is an
// interrupted build.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/idlab-discover/aoievidence-cli/internal/aoi"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
)

const component = "bundle"

// Fixed bundle paths.
const (
	ManifestFile   = "manifest.json"
	SidecarFile    = "manifest.json.sha256"
	ReportDir      = "reports/" + report.Version1
	ProvenanceFile = "inputs/provenance.cdx.json"
	IDTimeLayout   = "20060102T150405Z"
	DateLayout     = "2006-01-02"
)

// Bundle is a built or loaded evidence bundle.
type Bundle struct {
	ID          string
	Date        string
	Dir         string
	AOIID       string
	GeneratedAt time.Time
	Manifest    *Manifest
	Report      *report.Document
	// Reused is set when an identical bundle already existed.
	Reused bool
}

// Paths of the per-AOI artifacts, relative to the bundle directory.
func ReportJSONPath(aoiID string) string    { return path.Join(ReportDir, aoiID+".json") }
func ReportHTMLPath(aoiID string) string    { return path.Join(ReportDir, aoiID+".html") }
func MetricsCSVPath(aoiID string) string    { return path.Join(ReportDir, aoiID, "metrics.csv") }
func SummaryPath(aoiID string) string       { return path.Join(ReportDir, aoiID, "summary.json") }
func TilesManifestPath(aoiID string) string { return path.Join(ReportDir, aoiID, "tiles_manifest.json") }

// Path resolves a bundle-relative path.
func (b *Bundle) Path(rel string) string {
	return filepath.Join(b.Dir, filepath.FromSlash(rel))
}

// ReadFile reads a bundle artifact.
func (b *Bundle) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(b.Path(rel))
}

// DefaultID derives a bundle id from the AOI id and generation time.
func DefaultID(aoiID string, t time.Time) string {
	return aoi.SanitizeID(aoiID) + "-" + t.UTC().Format(IDTimeLayout)
}

// ReportPathOf finds the report JSON among the manifest artifacts.
func ReportPathOf(m *Manifest) (string, bool) {
	for _, a := range m.Artifacts {
		rest, ok := strings.CutPrefix(a.Path, ReportDir+"/")
		if ok && !strings.Contains(rest, "/") && strings.HasSuffix(rest, ".json") {
			return a.Path, true
		}
	}
	return "", false
}

// Load reopens the bundle at dir.
func Load(dir string) (*Bundle, error) {
	m, err := ReadManifest(dir)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", dir, err)
	}
	reportPath, ok := ReportPathOf(m)
	if !ok {
		return nil, fmt.Errorf("load bundle %s: manifest lists no report", dir)
	}
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(reportPath)))
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", dir, err)
	}
	var doc report.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("load bundle %s: parse report: %w", dir, err)
	}
	generated, err := time.Parse(report.TimeLayout, doc.GeneratedAtUTC)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: generated_at_utc: %w", dir, err)
	}
	return &Bundle{
		ID:          m.BundleID,
		Date:        m.Date,
		Dir:         dir,
		AOIID:       doc.AOIID,
		GeneratedAt: generated,
		Manifest:    m,
		Report:      &doc,
	}, nil
}
