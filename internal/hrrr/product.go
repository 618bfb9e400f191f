// Package hrrr indexes and samples HRRR gridded forecast products: a lazily
// opened raster handle, a parameter inventory resolving (parameter, level)
// pairs to band indices, point and radius sampling in geographic
// coordinates, and the mesoanalysis composite fields built on top.
//
// The grid's native spatial reference is the HRRR Lambert Conformal Conic
// (standard parallels 38.5/38.5, central meridian -97.5, 6370 km sphere).
// Those five parameters are constants of the domain, not configuration.
package hrrr

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

// Category identifies one of the HRRR output file families.
type Category string

const (
	CategoryPressure  Category = "prs"
	CategoryNative    Category = "nat"
	CategorySurface   Category = "sfc"
	CategorySubHourly Category = "subh"
)

// Valid reports whether c is a known product category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPressure, CategoryNative, CategorySurface, CategorySubHourly:
		return true
	}
	return false
}

// Name returns the descriptive product name for the category.
func (c Category) Name() string {
	switch c {
	case CategoryPressure:
		return "3D Pressure Levels"
	case CategoryNative:
		return "Native Levels"
	case CategorySurface:
		return "2D Surface Levels"
	case CategorySubHourly:
		return "2D Surface Levels - Sub Hourly"
	}
	return "Unknown"
}

// Projection selects the destination spatial reference of a subset.
type Projection string

const (
	// ProjectionWorld is geographic longitude/latitude, the default.
	ProjectionWorld Projection = "world"
	// ProjectionMap is spherical web mercator, for map tiles.
	ProjectionMap Projection = "map"
)

const (
	// NativeProjection is the fixed HRRR grid spatial reference.
	NativeProjection = "+proj=lcc +lat_1=38.5 +lat_2=38.5 +lat_0=38.5 +lon_0=-97.5 +x_0=0 +y_0=0 +a=6370000 +b=6370000 +units=m +no_defs"

	longlatProjection = "+proj=longlat +datum=WGS84 +no_defs"
	webMercProjection = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs"
)

// proj4 resolves the projection selector to a proj4 string.
func (p Projection) proj4() (string, error) {
	switch p {
	case ProjectionWorld:
		return longlatProjection, nil
	case ProjectionMap:
		return webMercProjection, nil
	}
	return "", fmt.Errorf("%w: projection must be %q or %q, got %q", ErrInvalidArgument, ProjectionWorld, ProjectionMap, p)
}

// Fetcher materializes a remote product location as a local file. It is the
// contract to the download layer; implementations decide caching and
// transport. A Product calls it at most once.
type Fetcher interface {
	Fetch(ctx context.Context, loc string) (string, error)
}

// fileNamePattern matches the operational HRRR file naming convention,
// e.g. hrrr.t18z.wrfsfcf03.grib2.
var fileNamePattern = regexp.MustCompile(
	`^hrrr\.t([0-1][0-9]|2[0-3])z\.wrf(prs|nat|sfc|subh)f([0-3][0-9]|4[0-8])\.grib2$`)

// Product is one forecast grid snapshot. The raster handle and inventory are
// bound lazily on first use and immutable afterwards; a Product is not safe
// for concurrent use while unbound.
type Product struct {
	loc          string
	runTime      time.Time
	forecastHour int
	category     Category
	version      int

	fetcher Fetcher
	opener  raster.Opener
	logger  *slog.Logger

	ds  raster.Dataset
	inv *Inventory
}

// ProductConfig carries the pieces needed to construct a Product.
type ProductConfig struct {
	// Loc is a local file path or a remote URI resolved via Fetcher.
	Loc          string
	RunTime      time.Time
	ForecastHour int
	Category     Category

	// Fetcher materializes remote locations; nil restricts Loc to local
	// paths.
	Fetcher Fetcher
	// Opener opens the local file; required unless Dataset is pre-bound.
	Opener raster.Opener
	// Dataset optionally pre-binds an already open raster.
	Dataset raster.Dataset
	Logger  *slog.Logger
}

// NewProduct validates the configuration and derives the model generation
// from the run time. No raster work happens here.
func NewProduct(cfg ProductConfig) (*Product, error) {
	if !cfg.Category.Valid() {
		return nil, fmt.Errorf("%w: product category must be one of prs, nat, sfc, subh; got %q", ErrInvalidArgument, cfg.Category)
	}
	version, err := Version(cfg.RunTime)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Product{
		loc:          cfg.Loc,
		runTime:      cfg.RunTime.UTC(),
		forecastHour: cfg.ForecastHour,
		category:     cfg.Category,
		version:      version,
		fetcher:      cfg.Fetcher,
		opener:       cfg.Opener,
		logger:       logger,
		ds:           cfg.Dataset,
	}, nil
}

// FromFile loads a product from a local file following the operational
// naming convention, cross-checking the filename against the GRIB reference
// and valid times in the band metadata. Mismatches log a warning but do not
// fail: the filename is authoritative for archive layout, the metadata for
// physics.
func FromFile(path string, opener raster.Opener, logger *slog.Logger) (*Product, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("hrrr: product file: %w", err)
	}
	m := fileNamePattern.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return nil, fmt.Errorf("%w: unrecognized file name %q", ErrInvalidArgument, filepath.Base(path))
	}
	utcHour, _ := strconv.Atoi(m[1])
	category := Category(m[2])
	forecastHour, _ := strconv.Atoi(m[3])

	ds, err := opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("hrrr: open product: %w", err)
	}

	meta, err := ds.BandMeta(1)
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("hrrr: product metadata: %w", err)
	}
	refTime, err := parseGRIBTime(meta.Metadata["GRIB_REF_TIME"])
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("hrrr: GRIB reference time: %w", err)
	}
	validTime, err := parseGRIBTime(meta.Metadata["GRIB_VALID_TIME"])
	if err != nil {
		ds.Close()
		return nil, fmt.Errorf("hrrr: GRIB valid time: %w", err)
	}

	if refTime.Hour() != utcHour {
		logger.Warn("GRIB reference time disagrees with filename cycle hour",
			"grib_hour", refTime.Hour(), "file_hour", utcHour, "path", path)
	}
	if metaFH := int(validTime.Sub(refTime).Hours()); metaFH != forecastHour {
		logger.Warn("GRIB valid time disagrees with filename forecast hour",
			"grib_forecast_hour", metaFH, "file_forecast_hour", forecastHour, "path", path)
	}

	p, err := NewProduct(ProductConfig{
		Loc:          path,
		RunTime:      refTime,
		ForecastHour: forecastHour,
		Category:     category,
		Opener:       opener,
		Dataset:      ds,
		Logger:       logger,
	})
	if err != nil {
		ds.Close()
		return nil, err
	}
	return p, nil
}

// parseGRIBTime parses a GRIB driver time value like "1612137600 sec UTC".
func parseGRIBTime(v string) (time.Time, error) {
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	sec, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", v, err)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func (p *Product) Loc() string        { return p.loc }
func (p *Product) RunTime() time.Time { return p.runTime }
func (p *Product) ForecastHour() int  { return p.forecastHour }
func (p *Product) Category() Category { return p.category }
func (p *Product) Version() int       { return p.version }

// ValidTime is the moment the forecast is valid for.
func (p *Product) ValidTime() time.Time {
	return p.runTime.Add(time.Duration(p.forecastHour) * time.Hour)
}

func (p *Product) String() string {
	return fmt.Sprintf("Product(run %s, valid %s, %s)",
		p.runTime.Format(time.RFC3339), p.ValidTime().Format(time.RFC3339), p.category.Name())
}

// Dataset returns the product raster, fetching and opening it on first use.
// Once bound the handle is reused for the product's lifetime.
func (p *Product) Dataset(ctx context.Context) (raster.Dataset, error) {
	if p.ds != nil {
		return p.ds, nil
	}

	loc := p.loc
	if isRemote(loc) {
		if p.fetcher == nil {
			return nil, fmt.Errorf("%w: remote location %q with no fetcher", ErrInvalidArgument, loc)
		}
		p.logger.Info("fetching product", "loc", loc)
		path, err := p.fetcher.Fetch(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("hrrr: fetch product: %w", err)
		}
		p.loc = path
		loc = path
	}

	if _, err := os.Stat(loc); err != nil {
		return nil, fmt.Errorf("hrrr: product file: %w", err)
	}
	if p.opener == nil {
		return nil, fmt.Errorf("%w: product has no raster opener", ErrInvalidArgument)
	}
	ds, err := p.opener.Open(loc)
	if err != nil {
		return nil, fmt.Errorf("hrrr: open product: %w", err)
	}
	p.ds = ds
	return p.ds, nil
}

// Inventory returns the product's parameter inventory, built once by band
// introspection and cached. The returned inventory is read-only and may be
// shared across goroutines.
func (p *Product) Inventory(ctx context.Context) (*Inventory, error) {
	if p.inv != nil {
		return p.inv, nil
	}
	ds, err := p.Dataset(ctx)
	if err != nil {
		return nil, err
	}
	inv, err := NewInventory(ds)
	if err != nil {
		return nil, err
	}
	p.inv = inv
	return p.inv, nil
}

// Close releases the underlying raster handle, if bound.
func (p *Product) Close() error {
	if p.ds == nil {
		return nil
	}
	err := p.ds.Close()
	p.ds = nil
	return err
}

func isRemote(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "s3":
		return true
	}
	return false
}

// Subset extracts the requested 1-based bands and warps them into the
// destination projection, optionally cropped to geographic bounds. Bounds
// are given in degrees regardless of destination and converted to
// destination units for the mercator path. The intermediate native-tagged
// raster is released on every path; the caller owns (and must Close) the
// returned raster.
func (p *Product) Subset(ctx context.Context, bands []int, projTo Projection, bounds *geo.Bounds) (*raster.MemDataset, error) {
	dstProj, err := projTo.proj4()
	if err != nil {
		return nil, err
	}

	var ext *raster.Extent
	if bounds != nil {
		if bounds.MaxLon <= bounds.MinLon || bounds.MaxLat <= bounds.MinLat {
			return nil, fmt.Errorf("%w: empty bounds %+v", ErrInvalidArgument, *bounds)
		}
		e := raster.Extent{MinX: bounds.MinLon, MinY: bounds.MinLat, MaxX: bounds.MaxLon, MaxY: bounds.MaxLat}
		if projTo == ProjectionMap {
			e, err = raster.TransformExtent(e, longlatProjection, dstProj)
			if err != nil {
				return nil, err
			}
		}
		ext = &e
	}

	ds, err := p.Dataset(ctx)
	if err != nil {
		return nil, err
	}

	srcProj := ds.Projection()
	if srcProj == "" {
		srcProj = NativeProjection
	}
	native, err := raster.Translate(ds, bands, srcProj)
	if err != nil {
		return nil, err
	}
	defer native.Close()

	return raster.Warp(native, raster.WarpOptions{DstProjection: dstProj, Bounds: ext})
}

// coverage returns the product's geographic footprint in degrees.
func (p *Product) coverage(ctx context.Context) (geo.Bounds, error) {
	ds, err := p.Dataset(ctx)
	if err != nil {
		return geo.Bounds{}, err
	}
	srcProj := ds.Projection()
	if srcProj == "" {
		srcProj = NativeProjection
	}
	ext, err := raster.ProjectedExtent(ds, srcProj, longlatProjection)
	if err != nil {
		return geo.Bounds{}, err
	}
	return geo.Bounds{MinLon: ext.MinX, MinLat: ext.MinY, MaxLon: ext.MaxX, MaxLat: ext.MaxY}, nil
}

// Point is a geographic location.
type Point struct {
	Lat float64
	Lon float64
}

// Samples is the result of a point or radius query: one row per sampled
// location, one column per requested band, NaN where no data was available.
// OutOfBounds counts requested locations that fell outside the retrieved
// raster extent; it is a diagnostic, not an error.
type Samples struct {
	Values      [][]float64
	OutOfBounds int
}

// pointPaddingDeg pads the query bounding box so a point exactly on the
// raster edge survives reprojection.
const pointPaddingDeg = 0.1

// QueryPoints samples the requested bands at each point. Output row order
// matches input point order. Points outside the retrieved extent produce
// NaN-filled rows and a warning diagnostic; the call itself succeeds.
func (p *Product) QueryPoints(ctx context.Context, bands []int, pts []Point) (*Samples, error) {
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no points given", ErrInvalidArgument)
	}

	bounds := geo.Bounds{
		MinLon: math.Inf(1), MinLat: math.Inf(1),
		MaxLon: math.Inf(-1), MaxLat: math.Inf(-1),
	}
	lons := make([]float64, len(pts))
	lats := make([]float64, len(pts))
	for i, pt := range pts {
		lons[i], lats[i] = pt.Lon, pt.Lat
		bounds.MinLon = math.Min(bounds.MinLon, pt.Lon)
		bounds.MaxLon = math.Max(bounds.MaxLon, pt.Lon)
		bounds.MinLat = math.Min(bounds.MinLat, pt.Lat)
		bounds.MaxLat = math.Max(bounds.MaxLat, pt.Lat)
	}
	bounds.MinLon -= pointPaddingDeg
	bounds.MaxLon += pointPaddingDeg
	bounds.MinLat -= pointPaddingDeg
	bounds.MaxLat += pointPaddingDeg

	// Clip the query window to the grid footprint so a stray coordinate far
	// off the grid cannot inflate the warp. Points left outside become
	// NaN rows below.
	cov, err := p.coverage(ctx)
	if err != nil {
		return nil, err
	}
	clipped, ok := geo.Intersect(bounds, cov)
	if !ok {
		out := &Samples{Values: make([][]float64, len(pts)), OutOfBounds: len(pts)}
		for i := range out.Values {
			row := make([]float64, len(bands))
			for b := range row {
				row[b] = math.NaN()
			}
			out.Values[i] = row
		}
		p.logger.Warn("point query outside raster extent",
			"out_of_bounds", out.OutOfBounds, "points", len(pts), "product", p.String())
		return out, nil
	}

	sub, err := p.Subset(ctx, bands, ProjectionWorld, &clipped)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	cols, rows, err := geo.MapToPixel(sub.GeoTransform(), lons, lats)
	if err != nil {
		return nil, err
	}

	w, h := sub.Size()
	data, err := readAllBands(sub)
	if err != nil {
		return nil, err
	}

	out := &Samples{Values: make([][]float64, len(pts))}
	for i := range pts {
		row := make([]float64, len(bands))
		if cols[i] < 0 || rows[i] < 0 || cols[i] >= w || rows[i] >= h {
			out.OutOfBounds++
			for b := range row {
				row[b] = math.NaN()
			}
		} else {
			px := rows[i]*w + cols[i]
			for b := range bands {
				row[b] = data[b][px]
			}
		}
		out.Values[i] = row
	}
	if out.OutOfBounds > 0 {
		p.logger.Warn("point query outside raster extent",
			"out_of_bounds", out.OutOfBounds, "points", len(pts), "product", p.String())
	}
	return out, nil
}

// QueryRadius samples the requested bands at every grid cell whose center
// falls within (a locally linearized) radiusKM of (lat, lon). The pixel
// semi-axes are derived independently per axis from the center and the far
// bounding-box corner, so anisotropic ground distance per pixel is handled.
// The result is an unordered bag of per-pixel samples, stable for a given
// call, suitable for NaN-aware neighborhood statistics.
func (p *Product) QueryRadius(ctx context.Context, bands []int, lat, lon, radiusKM float64) (*Samples, error) {
	if radiusKM <= 0 {
		return nil, fmt.Errorf("%w: radius must be positive, got %g", ErrInvalidArgument, radiusKM)
	}
	bounds := geo.RadiusBounds(lat, lon, radiusKM)

	sub, err := p.Subset(ctx, bands, ProjectionWorld, &bounds)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	// Center plus far corner, in one affine application.
	cols, rows, err := geo.MapToPixel(sub.GeoTransform(),
		[]float64{lon, bounds.MaxLon}, []float64{lat, bounds.MaxLat})
	if err != nil {
		return nil, err
	}
	semiCol := float64(cols[1] - cols[0])
	semiRow := float64(rows[1] - rows[0])

	candidates := geo.PixelsInEllipse(geo.Pixel{Col: cols[0], Row: rows[0]}, semiCol, semiRow)

	w, h := sub.Size()
	data, err := readAllBands(sub)
	if err != nil {
		return nil, err
	}

	out := &Samples{}
	for _, c := range candidates {
		if c.Col < 0 || c.Row < 0 || c.Col >= w || c.Row >= h {
			out.OutOfBounds++
			continue
		}
		row := make([]float64, len(bands))
		px := c.Row*w + c.Col
		for b := range bands {
			row[b] = data[b][px]
		}
		out.Values = append(out.Values, row)
	}
	if out.OutOfBounds > 0 {
		p.logger.Warn("radius query clipped at raster extent",
			"out_of_bounds", out.OutOfBounds, "candidates", len(candidates), "product", p.String())
	}
	return out, nil
}

// ReadArray reads the requested bands over the full (or bounded) extent as a
// dense array with shape [rows, cols, bands].
func (p *Product) ReadArray(ctx context.Context, bands []int, projTo Projection, bounds *geo.Bounds) (*sparse.DenseArray, error) {
	sub, err := p.Subset(ctx, bands, projTo, bounds)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	w, h := sub.Size()
	out := sparse.ZerosDense(h, w, len(bands))
	for b := range bands {
		data, err := sub.ReadBand(b + 1)
		if err != nil {
			return nil, err
		}
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				out.Set(data[r*w+c], r, c, b)
			}
		}
	}
	return out, nil
}

// readAllBands reads every band of ds into memory, in band order.
func readAllBands(ds raster.Dataset) ([][]float64, error) {
	out := make([][]float64, ds.BandCount())
	for b := 1; b <= ds.BandCount(); b++ {
		data, err := ds.ReadBand(b)
		if err != nil {
			return nil, err
		}
		out[b-1] = data
	}
	return out, nil
}
