package raster

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaster(epsg int) *Raster {
	r := New(4, 3, Transform{OriginX: 24, OriginY: 59.03, PixelWidth: 0.01, PixelHeight: 0.01}, epsg)
	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			r.Set(row, col, uint8(row*10+col))
		}
	}
	return r
}

func TestTransform(t *testing.T) {
	tr := Transform{OriginX: 10, OriginY: 50, PixelWidth: 2, PixelHeight: 1}

	x, y := tr.Corner(1, 1)
	assert.Equal(t, 12.0, x)
	assert.Equal(t, 49.0, y)

	x, y = tr.Center(0, 0)
	assert.Equal(t, 11.0, x)
	assert.Equal(t, 49.5, y)

	c, r := tr.Index(11, 49.5)
	assert.Equal(t, 0.5, c)
	assert.Equal(t, 0.5, r)
	assert.Equal(t, 2.0, tr.PixelArea())
}

func TestSampleAndWindow(t *testing.T) {
	r := testRaster(4326)

	v, ok := r.Sample(24.015, 59.025)
	require.True(t, ok)
	assert.Equal(t, uint8(1), v)

	_, ok = r.Sample(23.99, 59.02)
	assert.False(t, ok)

	rowMin, rowMax, colMin, colMax := r.Window(orb.Bound{Min: orb.Point{24.011, 59.001}, Max: orb.Point{24.019, 59.019}})
	assert.Equal(t, []int{1, 2, 1, 1}, []int{rowMin, rowMax, colMin, colMax})

	rowMin, rowMax, _, _ = r.Window(orb.Bound{Min: orb.Point{30, 10}, Max: orb.Point{31, 11}})
	assert.Greater(t, rowMin, rowMax)

	b := r.Bound()
	assert.Equal(t, 24.0, b.Min.X())
	assert.InDelta(t, 24.04, b.Max.X(), 1e-12)
	assert.InDelta(t, 59.0, b.Min.Y(), 1e-12)
	assert.Equal(t, 59.03, b.Max.Y())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	for _, epsg := range []int{4326, 6933, 3035} {
		r := testRaster(epsg)
		r.HasNoData = true
		r.NoData = 255

		b, err := Encode(r)
		require.NoError(t, err)

		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, r.Width, got.Width)
		assert.Equal(t, r.Height, got.Height)
		assert.Equal(t, r.Pix, got.Pix)
		assert.Equal(t, r.Transform, got.Transform)
		assert.Equal(t, epsg, got.EPSG)
		assert.True(t, got.HasNoData)
		assert.Equal(t, uint8(255), got.NoData)
		assert.True(t, r.SameGrid(got))
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	a, err := Encode(testRaster(4326))
	require.NoError(t, err)
	b, err := Encode(testRaster(4326))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("nope"))
	assert.Error(t, err)
	_, err = Decode([]byte("II*\x00\xff\xff\xff\x00"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	r := testRaster(4326)
	r.Pix = r.Pix[:3]
	assert.Error(t, r.Validate())

	_, err := Encode(&Raster{Width: 0, Height: 1})
	assert.Error(t, err)
}
