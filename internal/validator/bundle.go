package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/idlab-discover/aoievidence-cli/internal/bundle"
	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/provenance"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
)

// VerifyBundle recomputes every manifest digest and size, checks the
// manifest sidecar and validates the report document of the bundle at dir.
func VerifyBundle(dir string) (r ValidationResult, err error) {
	r.Subject = dir
	defer r.finish()

	raw, err := os.ReadFile(filepath.Join(dir, bundle.ManifestFile))
	if err != nil {
		return r, err
	}
	m, err := bundle.ParseManifest(raw)
	if err != nil {
		r.errorf("%v", err)
		return r, nil
	}
	if canonical, err := m.JSON(); err == nil && !bytes.Equal(canonical, raw) {
		r.errorf("%s is not canonical JSON sorted by path", bundle.ManifestFile)
	}

	sidecar, err := os.ReadFile(filepath.Join(dir, bundle.SidecarFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.errorf("%s is missing", bundle.SidecarFile)
	case err != nil:
		return r, err
	default:
		sum, err := bundle.ParseSidecar(sidecar)
		if err != nil {
			r.errorf("%v", err)
		} else if !digest.Verify(raw, sum) {
			r.errorf("%s does not match %s", bundle.SidecarFile, bundle.ManifestFile)
		}
	}

	listed := map[string]bool{bundle.ManifestFile: true, bundle.SidecarFile: true}
	seen := ""
	for _, a := range m.Artifacts {
		r.ArtifactsChecked++
		if a.Path == seen {
			r.errorf("manifest lists %s twice", a.Path)
		}
		seen = a.Path
		listed[a.Path] = true
		sum, size, err := digest.File(filepath.Join(dir, filepath.FromSlash(a.Path)))
		switch {
		case err != nil:
			r.ArtifactsFailed++
			r.errorf("%s: %v", a.Path, err)
		case sum != a.SHA256:
			r.ArtifactsFailed++
			r.errorf("%s: sha256 %s, manifest says %s", a.Path, sum, a.SHA256)
		case size != a.SizeBytes:
			r.ArtifactsFailed++
			r.errorf("%s: %d bytes, manifest says %d", a.Path, size, a.SizeBytes)
		}
	}

	var extra []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel = filepath.ToSlash(rel); !listed[rel] {
			extra = append(extra, rel)
		}
		return nil
	})
	if err != nil {
		return r, err
	}
	sort.Strings(extra)
	for _, p := range extra {
		r.warnf("%s is not listed in the manifest", p)
	}

	reportPath, ok := bundle.ReportPathOf(m)
	if !ok {
		r.errorf("manifest lists no report document")
		return r, nil
	}
	reportRaw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(reportPath)))
	if err != nil {
		// Already reported as a failed artifact.
		return r, nil
	}
	rep := ValidateReport(reportRaw)
	r.ReportVersion = rep.ReportVersion
	for _, e := range rep.Errors {
		r.errorf("%s: %s", reportPath, e)
	}
	for _, w := range rep.Warnings {
		r.warnf("%s: %s", reportPath, w)
	}
	if rep.Valid {
		checkReportArtifacts(&r, m, reportPath, reportRaw)
	}
	checkProvenance(&r, dir, m)
	return r, nil
}

// checkReportArtifacts cross-checks the report's artifact list with the
// manifest.
func checkReportArtifacts(r *ValidationResult, m *bundle.Manifest, reportPath string, raw []byte) {
	var doc report.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		r.errorf("%s: %v", reportPath, err)
		return
	}
	for _, a := range doc.EvidenceArtifacts {
		art, ok := m.Lookup(a.RelPath)
		switch {
		case !ok:
			r.errorf("%s lists %s which is not in the manifest", reportPath, a.RelPath)
		case art.SHA256 != a.SHA256 || art.SizeBytes != a.SizeBytes:
			r.errorf("%s disagrees with the manifest about %s", reportPath, a.RelPath)
		}
	}
}

// checkProvenance compares the tile digests of the provenance BOM with the
// tiles manifest.
func checkProvenance(r *ValidationResult, dir string, m *bundle.Manifest) {
	if _, ok := m.Lookup(bundle.ProvenanceFile); !ok {
		r.warnf("bundle has no %s", bundle.ProvenanceFile)
		return
	}
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(bundle.ProvenanceFile)))
	if err != nil {
		return
	}
	bom, err := provenance.Decode(raw)
	if err != nil {
		r.errorf("%s: %v", bundle.ProvenanceFile, err)
		return
	}
	hashes := provenance.TileHashes(bom)

	for _, a := range m.Artifacts {
		if filepath.Base(a.Path) != "tiles_manifest.json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(a.Path)))
		if err != nil {
			continue
		}
		var tm tilecache.Manifest
		if err := json.Unmarshal(b, &tm); err != nil {
			r.errorf("%s: %v", a.Path, err)
			continue
		}
		for _, t := range tm.Tiles {
			ref := "tile:" + t.TileID + ":" + t.Layer
			if got, ok := hashes[ref]; !ok || got != t.SHA256 {
				r.errorf("%s: tile %s/%s does not match %s", a.Path, t.Layer, t.TileID, bundle.ProvenanceFile)
			}
		}
	}
}
