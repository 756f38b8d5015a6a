// Package raster holds single-band 8-bit georeferenced grids and reads and
// writes them as GeoTIFF.
package raster

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Transform maps pixel indices to CRS coordinates for a north-up grid.
// PixelHeight is positive; rows grow southwards.
type Transform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// Corner returns the top-left corner of pixel (row, col).
func (t Transform) Corner(row, col int) (x, y float64) {
	return t.OriginX + float64(col)*t.PixelWidth, t.OriginY - float64(row)*t.PixelHeight
}

// Center returns the centre of pixel (row, col).
func (t Transform) Center(row, col int) (x, y float64) {
	return t.OriginX + (float64(col)+0.5)*t.PixelWidth, t.OriginY - (float64(row)+0.5)*t.PixelHeight
}

// Index returns the fractional column and row of a CRS coordinate.
func (t Transform) Index(x, y float64) (col, row float64) {
	return (x - t.OriginX) / t.PixelWidth, (t.OriginY - y) / t.PixelHeight
}

// PixelArea is the area of one pixel in squared CRS units.
func (t Transform) PixelArea() float64 {
	return math.Abs(t.PixelWidth * t.PixelHeight)
}

// Raster is a row-major single-band 8-bit grid.
type Raster struct {
	Width     int
	Height    int
	Pix       []uint8
	Transform Transform
	// EPSG is the numeric code of the grid's CRS.
	EPSG      int
	HasNoData bool
	NoData    uint8
}

// New allocates a zeroed raster.
func New(width, height int, t Transform, epsg int) *Raster {
	return &Raster{
		Width:     width,
		Height:    height,
		Pix:       make([]uint8, width*height),
		Transform: t,
		EPSG:      epsg,
	}
}

// At returns the value at (row, col). It panics when out of range.
func (r *Raster) At(row, col int) uint8 { return r.Pix[row*r.Width+col] }

// Set stores v at (row, col).
func (r *Raster) Set(row, col int, v uint8) { r.Pix[row*r.Width+col] = v }

// IsNoData reports whether v is the raster's nodata value.
func (r *Raster) IsNoData(v uint8) bool { return r.HasNoData && v == r.NoData }

// Sample returns the value of the pixel containing (x, y) in the raster's
// CRS. ok is false outside the grid.
func (r *Raster) Sample(x, y float64) (v uint8, ok bool) {
	fc, fr := r.Transform.Index(x, y)
	col, row := int(math.Floor(fc)), int(math.Floor(fr))
	if col < 0 || row < 0 || col >= r.Width || row >= r.Height {
		return 0, false
	}
	return r.At(row, col), true
}

// Bound is the grid extent in CRS units.
func (r *Raster) Bound() orb.Bound {
	minX, maxY := r.Transform.Corner(0, 0)
	maxX, minY := r.Transform.Corner(r.Height, r.Width)
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// Window returns the clamped pixel rows and columns whose extent
// intersects b. Empty windows have rowMin > rowMax.
func (r *Raster) Window(b orb.Bound) (rowMin, rowMax, colMin, colMax int) {
	c0, r0 := r.Transform.Index(b.Min.X(), b.Max.Y())
	c1, r1 := r.Transform.Index(b.Max.X(), b.Min.Y())
	colMin = clampIdx(int(math.Floor(c0)), r.Width)
	colMax = clampIdx(int(math.Ceil(c1))-1, r.Width)
	rowMin = clampIdx(int(math.Floor(r0)), r.Height)
	rowMax = clampIdx(int(math.Ceil(r1))-1, r.Height)
	if c1 <= 0 || r1 <= 0 || c0 >= float64(r.Width) || r0 >= float64(r.Height) {
		return 0, -1, 0, -1
	}
	return rowMin, rowMax, colMin, colMax
}

// SameGrid reports whether o shares r's CRS, size and transform.
func (r *Raster) SameGrid(o *Raster) bool {
	return r.EPSG == o.EPSG && r.Width == o.Width && r.Height == o.Height && r.Transform == o.Transform
}

// Validate checks internal consistency.
func (r *Raster) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("raster: invalid size %dx%d", r.Width, r.Height)
	}
	if len(r.Pix) != r.Width*r.Height {
		return fmt.Errorf("raster: %d pixels for %dx%d grid", len(r.Pix), r.Width, r.Height)
	}
	if r.Transform.PixelWidth <= 0 || r.Transform.PixelHeight <= 0 {
		return fmt.Errorf("raster: non-positive pixel size %gx%g", r.Transform.PixelWidth, r.Transform.PixelHeight)
	}
	return nil
}

func clampIdx(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}
