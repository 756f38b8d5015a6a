// Package tiles names the fixed-grid raster tiles an AOI needs.
//
// Tiles follow the Hansen Global Forest Change layout: square cells of
// GridDeg degrees identified by their top-left corner, e.g. "60N_020E"
// covers latitudes (50, 60] and longitudes [20, 30).
package tiles

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"

	"github.com/paulmach/orb"
)

// DefaultGridDeg is the Hansen GFC tile size.
const DefaultGridDeg = 10

// Hansen GFC layer names.
const (
	LayerTreecover = "treecover2000"
	LayerLossYear  = "lossyear"
)

// DefaultLayers are the layers the zonal engine reads.
var DefaultLayers = []string{LayerTreecover, LayerLossYear}

// edge keeps a bbox that ends exactly on a cell boundary out of the
// neighbouring cell.
const edge = 1e-9

// Key identifies one layer of one tile.
type Key struct {
	Layer  string `json:"layer"`
	TileID string `json:"tile_id"`
}

func (k Key) String() string { return k.Layer + "/" + k.TileID }

var idPattern = regexp.MustCompile(`^(\d{2})([NS])_(\d{3})([EW])$`)

// FormatID names the cell whose top-left corner is (left, top).
func FormatID(top, left int) string {
	ns := "N"
	if top < 0 {
		ns = "S"
	}
	ew := "E"
	if left < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%02d%s_%03d%s", abs(top), ns, abs(left), ew)
}

// ParseID returns the top latitude and left longitude of a tile id.
func ParseID(id string) (top, left int, err error) {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid tile id %q", id)
	}
	top, _ = strconv.Atoi(m[1])
	left, _ = strconv.Atoi(m[3])
	if m[2] == "S" {
		top = -top
	}
	if m[4] == "W" {
		left = -left
	}
	if top > 90 || top < -90 || left < -180 || left >= 180 {
		return 0, 0, fmt.Errorf("tile id %q out of range", id)
	}
	return top, left, nil
}

// CellBound returns the lon/lat extent of a tile.
func CellBound(id string, gridDeg int) (orb.Bound, error) {
	top, left, err := ParseID(id)
	if err != nil {
		return orb.Bound{}, err
	}
	g := gridOrDefault(gridDeg)
	return orb.Bound{
		Min: orb.Point{float64(left), float64(top - g)},
		Max: orb.Point{float64(left + g), float64(top)},
	}, nil
}

// IDsForBound enumerates, sorted, the ids of every cell intersecting b.
func IDsForBound(b orb.Bound, gridDeg int) []string {
	g := float64(gridOrDefault(gridDeg))

	topMin := int(math.Ceil((b.Min.Lat()+edge)/g) * g)
	topMax := int(math.Ceil(b.Max.Lat()/g) * g)
	leftMin := int(math.Floor(b.Min.Lon()/g) * g)
	leftMax := int(math.Floor((b.Max.Lon()-edge)/g) * g)

	gi := int(g)
	topMin = clamp(topMin, -90+gi, 90)
	topMax = clamp(topMax, -90+gi, 90)
	leftMin = clamp(leftMin, -180, 180-gi)
	leftMax = clamp(leftMax, -180, 180-gi)

	var ids []string
	for top := topMin; top <= topMax; top += gi {
		for left := leftMin; left <= leftMax; left += gi {
			ids = append(ids, FormatID(top, left))
		}
	}
	sort.Strings(ids)
	return ids
}

// KeysFor expands tile ids into keys for each layer, sorted by tile id
// then layer.
func KeysFor(ids []string, layers []string) []Key {
	keys := make([]Key, 0, len(ids)*len(layers))
	for _, id := range ids {
		for _, layer := range layers {
			keys = append(keys, Key{Layer: layer, TileID: id})
		}
	}
	SortKeys(keys)
	return keys
}

// SortKeys orders keys by tile id, then layer.
func SortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TileID != keys[j].TileID {
			return keys[i].TileID < keys[j].TileID
		}
		return keys[i].Layer < keys[j].Layer
	})
}

func gridOrDefault(g int) int {
	if g <= 0 {
		return DefaultGridDeg
	}
	return g
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
