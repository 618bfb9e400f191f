package raster

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
)

// MemDataset is an in-memory Dataset. It backs the intermediate rasters
// produced by Translate and Warp and doubles as the test backend. Each
// instance carries a process-unique scoped name so leaked intermediates can
// be traced in logs; the backing band memory is released only by Close.
type MemDataset struct {
	name      string
	width     int
	height    int
	transform geo.Affine
	proj      string
	bands     [][]float64
	meta      []BandMeta
	closed    bool
}

// NewMemDataset allocates an in-memory raster with nbands zeroed bands.
func NewMemDataset(width, height, nbands int, transform geo.Affine, proj string) (*MemDataset, error) {
	if width <= 0 || height <= 0 || nbands <= 0 {
		return nil, fmt.Errorf("raster: invalid dimensions %dx%dx%d", width, height, nbands)
	}
	bands := make([][]float64, nbands)
	for i := range bands {
		bands[i] = make([]float64, width*height)
	}
	return &MemDataset{
		name:      "mem://" + uuid.NewString(),
		width:     width,
		height:    height,
		transform: transform,
		proj:      proj,
		bands:     bands,
		meta:      make([]BandMeta, nbands),
	}, nil
}

// Name returns the process-unique scoped name of this raster.
func (d *MemDataset) Name() string { return d.name }

func (d *MemDataset) Size() (int, int)         { return d.width, d.height }
func (d *MemDataset) BandCount() int           { return len(d.bands) }
func (d *MemDataset) GeoTransform() geo.Affine { return d.transform }
func (d *MemDataset) Projection() string       { return d.proj }

// BandMeta returns metadata for a 1-based band index.
func (d *MemDataset) BandMeta(band int) (BandMeta, error) {
	if err := d.checkBand(band); err != nil {
		return BandMeta{}, err
	}
	return d.meta[band-1], nil
}

// SetBandMeta stores metadata for a 1-based band index.
func (d *MemDataset) SetBandMeta(band int, m BandMeta) error {
	if err := d.checkBand(band); err != nil {
		return err
	}
	d.meta[band-1] = m
	return nil
}

// ReadBand returns a copy of the 1-based band's pixels, row-major.
func (d *MemDataset) ReadBand(band int) ([]float64, error) {
	if err := d.checkBand(band); err != nil {
		return nil, err
	}
	out := make([]float64, len(d.bands[band-1]))
	copy(out, d.bands[band-1])
	return out, nil
}

// WriteBand replaces the 1-based band's pixels. The data length must be
// width*height.
func (d *MemDataset) WriteBand(band int, data []float64) error {
	if err := d.checkBand(band); err != nil {
		return err
	}
	if len(data) != d.width*d.height {
		return fmt.Errorf("raster: band data length %d, want %d", len(data), d.width*d.height)
	}
	copy(d.bands[band-1], data)
	return nil
}

// Pixel returns the value at (col, row) of a 1-based band without copying
// the band. Out-of-range addresses are the caller's bug and panic.
func (d *MemDataset) Pixel(band, col, row int) float64 {
	return d.bands[band-1][row*d.width+col]
}

// setPixel writes one pixel of a 1-based band.
func (d *MemDataset) setPixel(band, col, row int, v float64) {
	d.bands[band-1][row*d.width+col] = v
}

// Close releases the band memory. Safe to call more than once.
func (d *MemDataset) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.bands = nil
	d.meta = nil
	return nil
}

// Closed reports whether Close has been called.
func (d *MemDataset) Closed() bool { return d.closed }

func (d *MemDataset) checkBand(band int) error {
	if d.closed {
		return fmt.Errorf("raster: %s is closed", d.name)
	}
	if band < 1 || band > len(d.bands) {
		return fmt.Errorf("raster: band %d out of range 1..%d", band, len(d.bands))
	}
	return nil
}
