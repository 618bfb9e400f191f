package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// conusAffine is a 1-degree grid with its origin at (-100, 40), the shape
// used by the sampling tests.
var conusAffine = Affine{-100, 1, 0, 40, 0, -1}

func TestAffineRoundTrip(t *testing.T) {
	affines := []Affine{
		conusAffine,
		{-2700000, 3000, 0, 1580000, 0, -3000},       // projected meters
		{-100, 0.5, 0.01, 40, -0.02, -0.5},           // rotation terms
		{12.345, 0.029, 0, 49.9, 0, -0.027},          // sub-degree pixels
	}

	for _, a := range affines {
		for lon := -110.0; lon <= -80.0; lon += 3.7 {
			for lat := 25.0; lat <= 50.0; lat += 2.3 {
				cols, rows, err := MapToPixelFrac(a, []float64{lon}, []float64{lat})
				require.NoError(t, err)
				xs, ys, err := PixelToMap(a, cols, rows)
				require.NoError(t, err)
				assert.InDelta(t, lon, xs[0], 1e-9)
				assert.InDelta(t, lat, ys[0], 1e-9)
			}
		}
	}
}

func TestMapToPixel(t *testing.T) {
	t.Run("interior point", func(t *testing.T) {
		cols, rows, err := MapToPixel(conusAffine, []float64{-98.7}, []float64{38.6})
		require.NoError(t, err)
		assert.Equal(t, []int{1}, cols)
		assert.Equal(t, []int{1}, rows)
	})

	t.Run("half pixel rounds to even", func(t *testing.T) {
		// (-99.5, 39.5) is exactly between columns 0 and 1.
		cols, rows, err := MapToPixel(conusAffine, []float64{-99.5}, []float64{39.5})
		require.NoError(t, err)
		assert.Equal(t, []int{0}, cols)
		assert.Equal(t, []int{0}, rows)
	})

	t.Run("vector input", func(t *testing.T) {
		cols, rows, err := MapToPixel(conusAffine,
			[]float64{-99.9, -98.9, -97.9},
			[]float64{39.9, 38.9, 37.9})
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, cols)
		assert.Equal(t, []int{0, 1, 2}, rows)
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		_, _, err := MapToPixel(conusAffine, []float64{-99}, []float64{39, 38})
		require.Error(t, err)
	})

	t.Run("degenerate transform", func(t *testing.T) {
		_, _, err := MapToPixel(Affine{0, 0, 0, 0, 0, 0}, []float64{1}, []float64{1})
		require.ErrorIs(t, err, ErrDegenerateTransform)
	})
}

func TestRadiusBounds(t *testing.T) {
	b := RadiusBounds(35.0, -97.5, 40.0)

	latDist := 40.0 / 6367.0 * 180 / math.Pi
	lonDist := latDist / math.Cos(35.0*math.Pi/180)

	assert.InDelta(t, 35.0-latDist, b.MinLat, 1e-12)
	assert.InDelta(t, 35.0+latDist, b.MaxLat, 1e-12)
	assert.InDelta(t, -97.5-lonDist, b.MinLon, 1e-12)
	assert.InDelta(t, -97.5+lonDist, b.MaxLon, 1e-12)

	// Longitude extent must be wider than latitude extent away from the equator.
	assert.Greater(t, b.MaxLon-b.MinLon, b.MaxLat-b.MinLat)
}

func TestPixelsInEllipse(t *testing.T) {
	t.Run("circle radius 3", func(t *testing.T) {
		pts := PixelsInEllipse(Pixel{}, 3, 3)
		// Integer lattice points with col^2+row^2 <= 9.
		assert.Len(t, pts, 29)
		for _, p := range pts {
			assert.LessOrEqual(t, p.Col*p.Col+p.Row*p.Row, 9)
		}
	})

	t.Run("translated center", func(t *testing.T) {
		pts := PixelsInEllipse(Pixel{Col: 10, Row: 20}, 1, 1)
		assert.ElementsMatch(t, []Pixel{
			{10, 20}, {9, 20}, {11, 20}, {10, 19}, {10, 21},
		}, pts)
	})

	t.Run("anisotropic axes", func(t *testing.T) {
		pts := PixelsInEllipse(Pixel{}, 2, 1)
		for _, p := range pts {
			assert.LessOrEqual(t, float64(p.Col*p.Col)/4+float64(p.Row*p.Row), 1.0)
		}
		assert.Contains(t, pts, Pixel{Col: 2, Row: 0})
		assert.NotContains(t, pts, Pixel{Col: 0, Row: 2})
	})

	t.Run("degenerate zero axis", func(t *testing.T) {
		pts := PixelsInEllipse(Pixel{}, 0, 2)
		assert.ElementsMatch(t, []Pixel{
			{0, -2}, {0, -1}, {0, 0}, {0, 1}, {0, 2},
		}, pts)

		pts = PixelsInEllipse(Pixel{}, 0, 0)
		assert.Equal(t, []Pixel{{0, 0}}, pts)
	})

	t.Run("negative axes treated as magnitudes", func(t *testing.T) {
		assert.ElementsMatch(t, PixelsInEllipse(Pixel{}, 3, 3), PixelsInEllipse(Pixel{}, -3, -3))
	})
}
