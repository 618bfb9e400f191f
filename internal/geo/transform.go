// Package geo provides the coordinate math used to sample gridded forecast
// rasters: affine transforms between pixel and map space, radius bounding
// boxes, and ellipse rasterization.
//
// # Affine convention
//
// An Affine is the 6-parameter geotransform in GDAL order:
//
//	x = a[0] + col*a[1] + row*a[2]
//	y = a[3] + col*a[4] + row*a[5]
//
// a[0]/a[3] locate the outer corner of the first pixel, so a point at the
// center of pixel (c, r) has fractional pixel coordinates (c+0.5, r+0.5).
package geo

import (
	"errors"
	"fmt"
	"math"
)

// Affine is a 6-parameter geotransform, GDAL element order.
type Affine [6]float64

// ErrDegenerateTransform is returned when an affine transform cannot be
// inverted (zero determinant).
var ErrDegenerateTransform = errors.New("geo: affine transform is not invertible")

// Apply maps fractional pixel coordinates to map coordinates.
func (a Affine) Apply(col, row float64) (x, y float64) {
	x = a[0] + col*a[1] + row*a[2]
	y = a[3] + col*a[4] + row*a[5]
	return x, y
}

// Invert maps map coordinates to fractional pixel coordinates.
func (a Affine) Invert(x, y float64) (col, row float64, err error) {
	det := a[1]*a[5] - a[2]*a[4]
	if det == 0 {
		return 0, 0, ErrDegenerateTransform
	}
	inv := 1 / det
	col = inv * (a[5]*(x-a[0]) - a[2]*(y-a[3]))
	row = inv * (a[1]*(y-a[3]) - a[4]*(x-a[0]))
	return col, row, nil
}

// PixelToMap applies the forward affine transform to slices of fractional
// pixel coordinates. The returned slices match the input length.
func PixelToMap(a Affine, cols, rows []float64) (xs, ys []float64, err error) {
	if len(cols) != len(rows) {
		return nil, nil, fmt.Errorf("geo: mismatched coordinate lengths %d vs %d", len(cols), len(rows))
	}
	xs = make([]float64, len(cols))
	ys = make([]float64, len(cols))
	for i := range cols {
		xs[i], ys[i] = a.Apply(cols[i], rows[i])
	}
	return xs, ys, nil
}

// MapToPixelFrac applies the inverse affine transform to slices of map
// coordinates, returning fractional pixel coordinates.
func MapToPixelFrac(a Affine, xs, ys []float64) (cols, rows []float64, err error) {
	if len(xs) != len(ys) {
		return nil, nil, fmt.Errorf("geo: mismatched coordinate lengths %d vs %d", len(xs), len(ys))
	}
	cols = make([]float64, len(xs))
	rows = make([]float64, len(xs))
	for i := range xs {
		cols[i], rows[i], err = a.Invert(xs[i], ys[i])
		if err != nil {
			return nil, nil, err
		}
	}
	return cols, rows, nil
}

// MapToPixel is MapToPixelFrac rounded to integer pixel addresses.
// Rounding is half-to-even so a coordinate exactly between two pixels
// resolves to the lower-indexed one, matching the sampling behavior the
// inventory queries were calibrated against.
func MapToPixel(a Affine, xs, ys []float64) (cols, rows []int, err error) {
	fcols, frows, err := MapToPixelFrac(a, xs, ys)
	if err != nil {
		return nil, nil, err
	}
	cols = make([]int, len(fcols))
	rows = make([]int, len(frows))
	for i := range fcols {
		cols[i] = int(math.RoundToEven(fcols[i]))
		rows[i] = int(math.RoundToEven(frows[i]))
	}
	return cols, rows, nil
}

// Bounds is a geographic bounding box in degrees.
type Bounds struct {
	MinLon, MinLat, MaxLon, MaxLat float64
}

// earthRadiusKM is the mean Earth radius used for the spherical
// radius-to-degrees approximation.
const earthRadiusKM = 6367.0

// RadiusBounds approximates a bounding box enclosing a circle of radiusKM
// centered at (lat, lon). Longitude extent is widened by 1/cos(lat) to
// account for meridian convergence. The result is a conservative bound for
// a subsequent exact filter, not a geodesic circle.
func RadiusBounds(lat, lon, radiusKM float64) Bounds {
	latDist := radiusKM / earthRadiusKM * 180 / math.Pi
	lonDist := latDist / math.Cos(lat*math.Pi/180)
	return Bounds{
		MinLon: lon - lonDist,
		MinLat: lat - latDist,
		MaxLon: lon + lonDist,
		MaxLat: lat + latDist,
	}
}

// Intersect returns the overlap of two bounding boxes and whether any
// overlap exists.
func Intersect(a, b Bounds) (Bounds, bool) {
	out := Bounds{
		MinLon: math.Max(a.MinLon, b.MinLon),
		MinLat: math.Max(a.MinLat, b.MinLat),
		MaxLon: math.Min(a.MaxLon, b.MaxLon),
		MaxLat: math.Min(a.MaxLat, b.MaxLat),
	}
	if out.MinLon >= out.MaxLon || out.MinLat >= out.MaxLat {
		return Bounds{}, false
	}
	return out, true
}

// Pixel is an integer pixel address (column, row).
type Pixel struct {
	Col, Row int
}

// PixelsInEllipse enumerates every integer pixel offset whose normalized
// ellipse distance (dx/a)^2 + (dy/b)^2 is at most 1, translated to center.
// Semi-axis signs are ignored. A zero semi-axis degenerates to a single
// row or column; both zero yields only the center pixel. No raster bounds
// filtering happens here.
func PixelsInEllipse(center Pixel, a, b float64) []Pixel {
	a, b = math.Abs(a), math.Abs(b)
	maxAx := int(math.Max(a, b))

	var pts []Pixel
	for dx := -maxAx; dx <= maxAx; dx++ {
		for dy := -maxAx; dy <= maxAx; dy++ {
			var d float64
			switch {
			case a == 0 && b == 0:
				if dx != 0 || dy != 0 {
					continue
				}
			case a == 0:
				if dx != 0 {
					continue
				}
				d = float64(dy*dy) / (b * b)
			case b == 0:
				if dy != 0 {
					continue
				}
				d = float64(dx*dx) / (a * a)
			default:
				d = float64(dx*dx)/(a*a) + float64(dy*dy)/(b*b)
			}
			if d <= 1 {
				pts = append(pts, Pixel{Col: center.Col + dx, Row: center.Row + dy})
			}
		}
	}
	return pts
}
