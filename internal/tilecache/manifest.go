package tilecache

import (
	"sort"
)

// ManifestVersion identifies the tiles manifest layout.
const ManifestVersion = "tiles_manifest_v1"

// Manifest records which tiles an AOI's statistics were computed from. It
// holds no timestamps or cache-tier details, so identical inputs give an
// identical manifest.
type Manifest struct {
	ManifestVersion string   `json:"manifest_version"`
	AOIID           string   `json:"aoi_id"`
	DatasetVersion  string   `json:"dataset_version"`
	TileSource      string   `json:"tile_source"`
	TileIDs         []string `json:"tile_ids"`
	Tiles           []Ref    `json:"tiles"`
}

// NewManifest builds a manifest with tiles sorted by (tile_id, layer).
func NewManifest(aoiID, datasetVersion, tileSource string, refs []Ref) *Manifest {
	sorted := append([]Ref(nil), refs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TileID != sorted[j].TileID {
			return sorted[i].TileID < sorted[j].TileID
		}
		return sorted[i].Layer < sorted[j].Layer
	})

	ids := []string{}
	for _, r := range sorted {
		if len(ids) == 0 || ids[len(ids)-1] != r.TileID {
			ids = append(ids, r.TileID)
		}
	}
	return &Manifest{
		ManifestVersion: ManifestVersion,
		AOIID:           aoiID,
		DatasetVersion:  datasetVersion,
		TileSource:      tileSource,
		TileIDs:         ids,
		Tiles:           sorted,
	}
}

// ManifestKey is the object store key of an AOI's tiles manifest.
func ManifestKey(aoiID string) string {
	return "manifests/" + aoiID + "/tiles_manifest.json"
}
