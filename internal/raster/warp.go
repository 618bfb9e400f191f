package raster

import (
	"fmt"
	"math"

	"github.com/ctessum/geom/proj"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
)

// Translate extracts the requested 1-based bands of src into a new in-memory
// raster tagged with the srcProj spatial reference. Band metadata travels
// with the data. The caller owns the returned raster and must Close it.
func Translate(src Dataset, bands []int, srcProj string) (*MemDataset, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster: translate requires at least one band")
	}
	w, h := src.Size()
	out, err := NewMemDataset(w, h, len(bands), src.GeoTransform(), srcProj)
	if err != nil {
		return nil, err
	}
	for i, b := range bands {
		data, err := src.ReadBand(b)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("raster: translate band %d: %w", b, err)
		}
		if err := out.WriteBand(i+1, data); err != nil {
			out.Close()
			return nil, err
		}
		meta, err := src.BandMeta(b)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("raster: translate band %d metadata: %w", b, err)
		}
		if err := out.SetBandMeta(i+1, meta); err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// Extent is an axis-aligned bounding box in the units of some spatial
// reference (degrees for longlat, meters for projected references).
type Extent struct {
	MinX, MinY, MaxX, MaxY float64
}

// WarpOptions configures a Warp call. All fields are explicit; there is no
// loosely-typed option bag.
type WarpOptions struct {
	// DstProjection is the destination spatial reference as a proj4 string.
	DstProjection string
	// Bounds, when non-nil, crops the output to this extent expressed in
	// destination units. When nil the output covers the full source extent.
	Bounds *Extent
	// The output resolution is always derived from the source: the full
	// source extent reprojected into destination units, divided by the
	// source pixel count per axis.
}

// transformFunc converts a coordinate pair between spatial references.
type transformFunc func(x, y float64) (float64, float64, error)

// Warp reprojects src into the destination spatial reference using inverse
// mapping with nearest-neighbor sampling. Destination pixels that map
// outside the source extent (or outside the projection's valid domain)
// receive the NaN no-data sentinel. The caller owns the returned raster and
// must Close it; src is left open.
func Warp(src *MemDataset, opts WarpOptions) (*MemDataset, error) {
	if src.Closed() {
		return nil, fmt.Errorf("raster: warp source %s is closed", src.Name())
	}
	fwd, inv, err := transformsBetween(src.Projection(), opts.DstProjection)
	if err != nil {
		return nil, err
	}

	srcW, srcH := src.Size()
	srcXform := src.GeoTransform()

	full, err := reprojectedExtent(srcXform, srcW, srcH, fwd)
	if err != nil {
		return nil, fmt.Errorf("raster: warp extent: %w", err)
	}
	resX := (full.MaxX - full.MinX) / float64(srcW)
	resY := (full.MaxY - full.MinY) / float64(srcH)

	ext := full
	outW, outH := srcW, srcH
	if opts.Bounds != nil {
		ext = *opts.Bounds
		if ext.MaxX <= ext.MinX || ext.MaxY <= ext.MinY {
			return nil, fmt.Errorf("raster: warp bounds %+v are empty", ext)
		}
		// Keep the requested extent exact; snap the pixel count to the
		// source-derived resolution and stretch the remainder.
		outW = max(1, int(math.Round((ext.MaxX-ext.MinX)/resX)))
		outH = max(1, int(math.Round((ext.MaxY-ext.MinY)/resY)))
		resX = (ext.MaxX - ext.MinX) / float64(outW)
		resY = (ext.MaxY - ext.MinY) / float64(outH)
	}

	dstXform := geo.Affine{ext.MinX, resX, 0, ext.MaxY, 0, -resY}
	out, err := NewMemDataset(outW, outH, src.BandCount(), dstXform, opts.DstProjection)
	if err != nil {
		return nil, err
	}

	// Per-pixel source addresses, -1 where unmapped.
	lookup := make([]int, outW*outH)
	for r := 0; r < outH; r++ {
		for c := 0; c < outW; c++ {
			i := r*outW + c
			lookup[i] = -1
			x, y := dstXform.Apply(float64(c)+0.5, float64(r)+0.5)
			sx, sy, err := inv(x, y)
			if err != nil {
				continue // outside the projection's valid domain
			}
			col, row, err := srcXform.Invert(sx, sy)
			if err != nil {
				out.Close()
				return nil, err
			}
			sc, sr := int(math.Floor(col)), int(math.Floor(row))
			if sc < 0 || sr < 0 || sc >= srcW || sr >= srcH {
				continue
			}
			lookup[i] = sr*srcW + sc
		}
	}

	for b := 1; b <= src.BandCount(); b++ {
		srcBand := src.bands[b-1]
		dstBand := out.bands[b-1]
		for i, si := range lookup {
			if si < 0 {
				dstBand[i] = math.NaN()
			} else {
				dstBand[i] = srcBand[si]
			}
		}
		meta, err := src.BandMeta(b)
		if err != nil {
			out.Close()
			return nil, err
		}
		if err := out.SetBandMeta(b, meta); err != nil {
			out.Close()
			return nil, err
		}
	}
	return out, nil
}

// TransformExtent converts a bounding box between spatial references by
// transforming its corners.
func TransformExtent(ext Extent, srcProj, dstProj string) (Extent, error) {
	fwd, _, err := transformsBetween(srcProj, dstProj)
	if err != nil {
		return Extent{}, err
	}
	minX, minY, err := fwd(ext.MinX, ext.MinY)
	if err != nil {
		return Extent{}, fmt.Errorf("raster: transform extent: %w", err)
	}
	maxX, maxY, err := fwd(ext.MaxX, ext.MaxY)
	if err != nil {
		return Extent{}, fmt.Errorf("raster: transform extent: %w", err)
	}
	return Extent{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}, nil
}

// ProjectedExtent returns the extent of ds expressed in the dstProj spatial
// reference, estimated from corner and edge-midpoint samples.
func ProjectedExtent(ds Dataset, srcProj, dstProj string) (Extent, error) {
	fwd, _, err := transformsBetween(srcProj, dstProj)
	if err != nil {
		return Extent{}, err
	}
	w, h := ds.Size()
	return reprojectedExtent(ds.GeoTransform(), w, h, fwd)
}

// transformsBetween returns forward (src->dst) and inverse (dst->src)
// coordinate transforms. Identical proj4 strings short-circuit to the
// identity so single-reference workflows never round-trip through the
// projection machinery.
func transformsBetween(srcProj, dstProj string) (fwd, inv transformFunc, err error) {
	if srcProj == "" {
		return nil, nil, fmt.Errorf("raster: source has no spatial reference")
	}
	if dstProj == "" {
		return nil, nil, fmt.Errorf("raster: destination has no spatial reference")
	}
	if srcProj == dstProj {
		ident := func(x, y float64) (float64, float64, error) { return x, y, nil }
		return ident, ident, nil
	}
	srcSR, err := proj.Parse(srcProj)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: parse source projection %q: %w", srcProj, err)
	}
	dstSR, err := proj.Parse(dstProj)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: parse destination projection %q: %w", dstProj, err)
	}
	f, err := srcSR.NewTransform(dstSR)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: build forward transform: %w", err)
	}
	i, err := dstSR.NewTransform(srcSR)
	if err != nil {
		return nil, nil, fmt.Errorf("raster: build inverse transform: %w", err)
	}
	return transformFunc(f), transformFunc(i), nil
}

// reprojectedExtent estimates the destination-unit extent of a source grid
// by transforming its corner and edge-midpoint coordinates.
func reprojectedExtent(xform geo.Affine, w, h int, fwd transformFunc) (Extent, error) {
	fw, fh := float64(w), float64(h)
	samples := [][2]float64{
		{0, 0}, {fw, 0}, {0, fh}, {fw, fh},
		{fw / 2, 0}, {fw / 2, fh}, {0, fh / 2}, {fw, fh / 2},
	}
	ext := Extent{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	for _, s := range samples {
		x, y := xform.Apply(s[0], s[1])
		tx, ty, err := fwd(x, y)
		if err != nil {
			return Extent{}, err
		}
		ext.MinX = math.Min(ext.MinX, tx)
		ext.MinY = math.Min(ext.MinY, ty)
		ext.MaxX = math.Max(ext.MaxX, tx)
		ext.MaxY = math.Max(ext.MaxY, ty)
	}
	return ext, nil
}
