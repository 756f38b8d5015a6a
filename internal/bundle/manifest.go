package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/idlab-discover/aoievidence-cli/internal/digest"
	"github.com/idlab-discover/aoievidence-cli/internal/report"
)

// ManifestVersion identifies the bundle manifest layout.
const ManifestVersion = "evidence_manifest_v1"

// Artifact is one file of a bundle.
type Artifact struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest lists every bundle file except itself and its sidecar.
type Manifest struct {
	ManifestVersion string     `json:"manifest_version"`
	BundleID        string     `json:"bundle_id"`
	Date            string     `json:"date"`
	Artifacts       []Artifact `json:"artifacts"`
}

// NewManifest builds a manifest over files keyed by bundle-relative path.
func NewManifest(bundleID, date string, files map[string][]byte) *Manifest {
	m := &Manifest{
		ManifestVersion: ManifestVersion,
		BundleID:        bundleID,
		Date:            date,
		Artifacts:       make([]Artifact, 0, len(files)),
	}
	for path, data := range files {
		m.Artifacts = append(m.Artifacts, Artifact{Path: path, SHA256: digest.Bytes(data), SizeBytes: int64(len(data))})
	}
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Path < m.Artifacts[j].Path })
	return m
}

// JSON returns the canonical encoding of the manifest.
func (m *Manifest) JSON() ([]byte, error) {
	return report.Canonical(m)
}

// Lookup returns the artifact at path.
func (m *Manifest) Lookup(path string) (Artifact, bool) {
	i := sort.Search(len(m.Artifacts), func(i int) bool { return m.Artifacts[i].Path >= path })
	if i < len(m.Artifacts) && m.Artifacts[i].Path == path {
		return m.Artifacts[i], true
	}
	return Artifact{}, false
}

// Diff returns the sorted paths that are added, removed or changed between
// two manifests.
func Diff(a, b *Manifest) []string {
	index := func(m *Manifest) map[string]Artifact {
		out := make(map[string]Artifact, len(m.Artifacts))
		for _, art := range m.Artifacts {
			out[art.Path] = art
		}
		return out
	}
	ia, ib := index(a), index(b)
	var diff []string
	for path, art := range ia {
		if other, ok := ib[path]; !ok || other != art {
			diff = append(diff, path)
		}
	}
	for path := range ib {
		if _, ok := ia[path]; !ok {
			diff = append(diff, path)
		}
	}
	sort.Strings(diff)
	return diff
}

// ReadManifest reads and decodes dir/manifest.json.
func ReadManifest(dir string) (*Manifest, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, err
	}
	return ParseManifest(b)
}

// ParseManifest decodes a manifest and checks its version.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.ManifestVersion != ManifestVersion {
		return nil, fmt.Errorf("unsupported manifest version %q", m.ManifestVersion)
	}
	sort.Slice(m.Artifacts, func(i, j int) bool { return m.Artifacts[i].Path < m.Artifacts[j].Path })
	return &m, nil
}

// Sidecar returns the content of manifest.json.sha256 for the manifest
// bytes, in sha256sum format.
func Sidecar(manifestJSON []byte) []byte {
	return []byte(digest.Bytes(manifestJSON) + "  " + ManifestFile + "\n")
}

// ParseSidecar extracts the digest from a sidecar file.
func ParseSidecar(b []byte) (string, error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 || !digest.IsHex(fields[0]) {
		return "", fmt.Errorf("malformed %s", SidecarFile)
	}
	return strings.ToLower(fields[0]), nil
}
