package provenance

import (
	"bytes"
	"strings"
	"testing"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
)

func sampleInput() Input {
	return Input{
		BundleID:       "parcel-1-20260102T030405Z",
		AOIID:          "parcel-1",
		GeneratedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		AOIFile:        "inputs/aoi.geojson",
		AOISHA256:      strings.Repeat("a", 64),
		DatasetVersion: "GFC-2024-v1.12",
		TileSource:     "http",
		Tiles: []tilecache.Ref{
			{TileID: "60N_020E", Layer: "treecover2000", SHA256: strings.Repeat("c", 64), SizeBytes: 10, SourceURL: "https://gfc.example.test/treecover2000_60N_020E.tif"},
			{TileID: "60N_020E", Layer: "lossyear", SHA256: strings.Repeat("b", 64), SizeBytes: 12},
		},
		Declared: report.DeclaredInputs{
			Datasets: []report.DeclaredVersion{{Name: "hansen_gfc", Version: "GFC-2024-v1.12", URI: "https://example.test/gfc"}},
			Tools:    []report.DeclaredVersion{{Name: "gdal", Version: "3.8.4"}},
		},
		ToolVersion: "v1.0.0",
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first, err := Encode(Build(sampleInput()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	second, err := Encode(Build(sampleInput()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("BOM bytes differ between identical builds")
	}

	other := sampleInput()
	other.AOISHA256 = strings.Repeat("d", 64)
	if Build(other).SerialNumber == Build(sampleInput()).SerialNumber {
		t.Fatalf("serial number should depend on the AOI digest")
	}
}

func TestBuildContents(t *testing.T) {
	bom := Build(sampleInput())
	if !strings.HasPrefix(bom.SerialNumber, "urn:uuid:") {
		t.Fatalf("serial = %q", bom.SerialNumber)
	}
	if bom.Metadata.Timestamp != "2026-01-02T03:04:05Z" {
		t.Fatalf("timestamp = %q", bom.Metadata.Timestamp)
	}
	tools := *bom.Metadata.Tools.Components
	if len(tools) != 2 || tools[0].Name != ToolName || tools[0].Version != "v1.0.0" {
		t.Fatalf("tools = %+v", tools)
	}

	comps := *bom.Components
	if len(comps) != 4 {
		t.Fatalf("got %d components, want 4", len(comps))
	}
	if comps[0].BOMRef != "aoi:parcel-1" || comps[0].Type != cdx.ComponentTypeFile {
		t.Fatalf("first component = %+v", comps[0])
	}
	if comps[1].BOMRef != "tile:60N_020E:lossyear" || comps[2].BOMRef != "tile:60N_020E:treecover2000" {
		t.Fatalf("tiles not sorted: %s %s", comps[1].BOMRef, comps[2].BOMRef)
	}
	if comps[1].ExternalReferences != nil {
		t.Fatalf("tile without source url should have no external reference")
	}
	refs := *comps[2].ExternalReferences
	if refs[0].Type != cdx.ERTypeDistribution {
		t.Fatalf("external ref type = %s", refs[0].Type)
	}

	deps := *(*bom.Dependencies)[0].Dependencies
	if len(deps) != 4 {
		t.Fatalf("dependencies = %v", deps)
	}
}

func TestEncodeDecodeKeepsTileHashes(t *testing.T) {
	b, err := Encode(Build(sampleInput()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(b, []byte(`"specVersion": "1.6"`)) {
		t.Fatalf("expected spec version 1.6 in output")
	}
	bom, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	hashes := TileHashes(bom)
	if hashes["tile:60N_020E:lossyear"] != strings.Repeat("b", 64) {
		t.Fatalf("hashes = %v", hashes)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %d tile hashes", len(hashes))
	}

	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestParseSpecVersion(t *testing.T) {
	if v, ok := ParseSpecVersion(" 1.5 "); !ok || v != cdx.SpecVersion1_5 {
		t.Fatalf("ParseSpecVersion(1.5) = %v, %v", v, ok)
	}
	if _, ok := ParseSpecVersion("2.0"); ok {
		t.Fatalf("2.0 should be unsupported")
	}
}
