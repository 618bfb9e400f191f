// Package raster defines the boundary to the native raster backend and an
// in-memory raster used for intermediate translate/warp results.
//
// The toolkit never depends on a specific raster library. Deployments link a
// backend (typically GDAL-based) by registering an Opener under a name, the
// same way database/sql drivers register themselves; everything above this
// package works against the Dataset interface. Band indices are 1-based at
// this boundary, matching the convention of the native libraries the
// interface abstracts.
package raster

import (
	"fmt"
	"sort"
	"sync"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
)

// BandMeta is the per-band metadata exposed by a raster backend. For GRIB2
// sources the Metadata map carries the GRIB driver keys (GRIB_ELEMENT,
// GRIB_SHORT_NAME, GRIB_COMMENT, GRIB_REF_TIME, GRIB_VALID_TIME).
type BandMeta struct {
	Description string
	Metadata    map[string]string
}

// Dataset is an open multi-band raster. Implementations are not required to
// be safe for concurrent use; callers own one handle per goroutine.
type Dataset interface {
	// Size returns the raster width and height in pixels.
	Size() (width, height int)
	// BandCount returns the number of bands.
	BandCount() int
	// GeoTransform returns the pixel-to-map affine transform.
	GeoTransform() geo.Affine
	// Projection returns the spatial reference as a proj4 string, or ""
	// when the source does not carry one.
	Projection() string
	// BandMeta returns metadata for a 1-based band index.
	BandMeta(band int) (BandMeta, error)
	// ReadBand reads a 1-based band as a row-major float64 slice of
	// width*height elements. No-data pixels are NaN.
	ReadBand(band int) ([]float64, error)
	// Close releases the dataset. Implementations must tolerate multiple
	// calls; the backing memory is not reclaimed otherwise.
	Close() error
}

// Opener opens a raster dataset from a local filesystem path.
type Opener interface {
	Open(path string) (Dataset, error)
}

var (
	openersMu sync.RWMutex
	openers   = make(map[string]Opener)
)

// Register makes a backend available under the given name. It panics on a
// duplicate or nil registration, mirroring database/sql.Register.
func Register(name string, o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if o == nil {
		panic("raster: Register opener is nil")
	}
	if _, dup := openers[name]; dup {
		panic("raster: Register called twice for backend " + name)
	}
	openers[name] = o
}

// Open opens path with the named backend.
func Open(backend, path string) (Dataset, error) {
	openersMu.RLock()
	o, ok := openers[backend]
	openersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("raster: unknown backend %q (registered: %v)", backend, Backends())
	}
	ds, err := o.Open(path)
	if err != nil {
		return nil, fmt.Errorf("raster: open %s: %w", path, err)
	}
	return ds, nil
}

// Backend returns the named registered Opener.
func Backend(name string) (Opener, error) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	o, ok := openers[name]
	if !ok {
		return nil, fmt.Errorf("raster: unknown backend %q (registered: %v)", name, backendNames())
	}
	return o, nil
}

// Backends returns the names of the registered backends, sorted.
func Backends() []string {
	openersMu.RLock()
	defer openersMu.RUnlock()
	return backendNames()
}

// backendNames lists registered backend names; callers hold openersMu.
func backendNames() []string {
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
