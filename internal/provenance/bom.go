// Package provenance records the inputs of an evidence bundle as a
// CycloneDX BOM (inputs/provenance.cdx.json).
package provenance

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"
	"github.com/google/uuid"

	"github.com/idlab-discover/aoievidence-cli/internal/report"
	"github.com/idlab-discover/aoievidence-cli/internal/tilecache"
)

// SpecVersion is the CycloneDX version BOMs are written in.
const SpecVersion = "1.6"

// serialNamespace seeds deterministic BOM serial numbers.
var serialNamespace = uuid.MustParse("6f1d6f0e-4b7a-5c1e-9a55-0f3e0b8a4c21")

// Input describes what went into a bundle.
type Input struct {
	BundleID    string
	AOIID       string
	GeneratedAt time.Time
	// AOIFile is the bundle-relative path of the AOI input copy.
	AOIFile        string
	AOISHA256      string
	DatasetVersion string
	TileSource     string
	Tiles          []tilecache.Ref
	Declared       report.DeclaredInputs
	ToolVersion    string
}

// Build assembles the provenance BOM. The serial number is derived from the
// bundle id and AOI digest so rebuilding identical inputs yields identical
// bytes.
func Build(in Input) *cdx.BOM {
	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + uuid.NewSHA1(serialNamespace, []byte(in.BundleID+"\x00"+in.AOISHA256)).String()

	toolVersion := in.ToolVersion
	if toolVersion == "" {
		toolVersion = ToolVersion()
	}
	tools := []cdx.Component{{
		Type:    cdx.ComponentTypeApplication,
		Name:    ToolName,
		Version: toolVersion,
	}}
	for _, t := range in.Declared.Tools {
		tools = append(tools, cdx.Component{
			Type:    cdx.ComponentTypeApplication,
			Name:    t.Name,
			Version: t.Version,
		})
	}
	sortComponents(tools)

	bom.Metadata = &cdx.Metadata{
		Timestamp: in.GeneratedAt.UTC().Format(report.TimeLayout),
		Tools:     &cdx.ToolsChoice{Components: &tools},
		Component: &cdx.Component{
			BOMRef:  "bundle:" + in.BundleID,
			Type:    cdx.ComponentTypeData,
			Name:    in.BundleID,
			Version: in.DatasetVersion,
		},
	}

	aoiRef := "aoi:" + in.AOIID
	components := []cdx.Component{{
		BOMRef: aoiRef,
		Type:   cdx.ComponentTypeFile,
		Name:   in.AOIFile,
		Hashes: &[]cdx.Hash{{Algorithm: cdx.HashAlgoSHA256, Value: in.AOISHA256}},
		Properties: &[]cdx.Property{
			{Name: "aoievidence:aoi_id", Value: in.AOIID},
		},
	}}

	deps := []string{aoiRef}
	for _, t := range sortedRefs(in.Tiles) {
		ref := "tile:" + t.TileID + ":" + t.Layer
		c := cdx.Component{
			BOMRef:  ref,
			Type:    cdx.ComponentTypeData,
			Name:    t.Layer + "_" + t.TileID,
			Version: in.DatasetVersion,
			Hashes:  &[]cdx.Hash{{Algorithm: cdx.HashAlgoSHA256, Value: t.SHA256}},
			Properties: &[]cdx.Property{
				{Name: "aoievidence:layer", Value: t.Layer},
				{Name: "aoievidence:size_bytes", Value: fmt.Sprint(t.SizeBytes)},
				{Name: "aoievidence:tile_id", Value: t.TileID},
				{Name: "aoievidence:tile_source", Value: in.TileSource},
			},
		}
		if t.SourceURL != "" {
			c.ExternalReferences = &[]cdx.ExternalReference{{URL: t.SourceURL, Type: cdx.ERTypeDistribution}}
		}
		components = append(components, c)
		deps = append(deps, ref)
	}

	for _, d := range in.Declared.Datasets {
		ref := "dataset:" + d.Name + "@" + d.Version
		c := cdx.Component{
			BOMRef:  ref,
			Type:    cdx.ComponentTypeData,
			Name:    d.Name,
			Version: d.Version,
		}
		if d.URI != "" {
			c.ExternalReferences = &[]cdx.ExternalReference{{URL: d.URI, Type: cdx.ERTypeDistribution}}
		}
		components = append(components, c)
		deps = append(deps, ref)
	}
	bom.Components = &components
	bom.Dependencies = &[]cdx.Dependency{{Ref: bom.Metadata.Component.BOMRef, Dependencies: &deps}}

	logf(in.BundleID, "bom built (components=%d tools=%d)", len(components), len(tools))
	return bom
}

// Encode writes bom as pretty CycloneDX JSON in SpecVersion.
func Encode(bom *cdx.BOM) ([]byte, error) {
	sv, ok := ParseSpecVersion(SpecVersion)
	if !ok {
		return nil, fmt.Errorf("unsupported CycloneDX spec version: %q", SpecVersion)
	}
	var buf bytes.Buffer
	enc := cdx.NewBOMEncoder(&buf, cdx.BOMFileFormatJSON)
	enc.SetPretty(true)
	if err := enc.EncodeVersion(bom, sv); err != nil {
		return nil, fmt.Errorf("encode bom: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a CycloneDX JSON BOM.
func Decode(b []byte) (*cdx.BOM, error) {
	bom := new(cdx.BOM)
	if err := cdx.NewBOMDecoder(bytes.NewReader(b), cdx.BOMFileFormatJSON).Decode(bom); err != nil {
		return nil, fmt.Errorf("decode bom: %w", err)
	}
	return bom, nil
}

// ParseSpecVersion parses a spec version string to a CycloneDX SpecVersion.
func ParseSpecVersion(s string) (cdx.SpecVersion, bool) {
	switch strings.TrimSpace(s) {
	case "1.4":
		return cdx.SpecVersion1_4, true
	case "1.5":
		return cdx.SpecVersion1_5, true
	case "1.6":
		return cdx.SpecVersion1_6, true
	default:
		return cdx.SpecVersion1_6, false
	}
}

// TileHashes returns the SHA-256 of every tile component keyed by BOM ref.
func TileHashes(bom *cdx.BOM) map[string]string {
	out := map[string]string{}
	if bom == nil || bom.Components == nil {
		return out
	}
	for _, c := range *bom.Components {
		if !strings.HasPrefix(c.BOMRef, "tile:") || c.Hashes == nil {
			continue
		}
		for _, h := range *c.Hashes {
			if h.Algorithm == cdx.HashAlgoSHA256 {
				out[c.BOMRef] = h.Value
			}
		}
	}
	return out
}

func sortComponents(cs []cdx.Component) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Name != cs[j].Name {
			return cs[i].Name < cs[j].Name
		}
		return cs[i].Version < cs[j].Version
	})
}

func sortedRefs(refs []tilecache.Ref) []tilecache.Ref {
	out := append([]tilecache.Ref(nil), refs...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TileID != out[j].TileID {
			return out[i].TileID < out[j].TileID
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
