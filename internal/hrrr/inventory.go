package hrrr

import (
	"fmt"

	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

// levelDescriptions maps GRIB short-name level codes to layman descriptions.
// Codes not listed here are legal; they just have no friendly description.
var levelDescriptions = map[string]string{
	"0-SFC":             "surface",
	"50000-ISBL":        "500 mb",
	"70000-ISBL":        "700 mb",
	"85000-ISBL":        "850 mb",
	"92500-ISBL":        "925 mb",
	"2-HTGL":            "2 m above ground",
	"10-HTGL":           "10 m above ground",
	"50000-100000-ISBL": "500-1000 mb",
	"0-EATM":            "entire atmosphere (considered as a single layer)",
	"0-LCY":             "low cloud layer",
	"0-1000-HTGL":       "0-1000 m above ground",
	"0-6000-HTGL":       "0-6000 m above ground",
	"9000-0-SPDL":       "90-0 mb above ground",
}

// BandRecord describes one raster band: which physical parameter it holds
// and at which vertical level.
type BandRecord struct {
	// Index is the 1-based band number within the product raster.
	Index int `json:"idx"`
	// Param is the GRIB parameter code, e.g. "CAPE" or "HLCY".
	Param string `json:"param"`
	// Level is the GRIB short-name level code, e.g. "0-SFC".
	Level string `json:"level"`
	// LevelDesc is a human-readable level description, empty when the
	// level code is not a known one.
	LevelDesc string `json:"level_desc"`
	// TechDesc is the raw band description from the raster driver.
	TechDesc string `json:"level_tech_desc"`
	// Comment is the raw GRIB comment, usually the parameter long name
	// and units.
	Comment string `json:"desc"`
}

// Inventory maps (parameter, level) pairs to band indices for one open
// product, built by introspecting per-band raster metadata. It is immutable
// after construction and safe for concurrent readers.
type Inventory struct {
	records []BandRecord
	byIndex map[int]int // band index -> position in records
}

// NewInventory introspects every band of ds, 1-based through BandCount.
func NewInventory(ds raster.Dataset) (*Inventory, error) {
	n := ds.BandCount()
	inv := &Inventory{
		records: make([]BandRecord, 0, n),
		byIndex: make(map[int]int, n),
	}
	for i := 1; i <= n; i++ {
		meta, err := ds.BandMeta(i)
		if err != nil {
			return nil, fmt.Errorf("hrrr: inventory band %d: %w", i, err)
		}
		level := meta.Metadata["GRIB_SHORT_NAME"]
		inv.byIndex[i] = len(inv.records)
		inv.records = append(inv.records, BandRecord{
			Index:     i,
			Param:     meta.Metadata["GRIB_ELEMENT"],
			Level:     level,
			LevelDesc: levelDescriptions[level],
			TechDesc:  meta.Description,
			Comment:   meta.Metadata["GRIB_COMMENT"],
		})
	}
	return inv, nil
}

// Records returns every band record in band-index order.
func (inv *Inventory) Records() []BandRecord {
	out := make([]BandRecord, len(inv.records))
	copy(out, inv.records)
	return out
}

// ByIndex looks up records by raw band index. It fails with ErrNotFound
// when any index has no corresponding band.
func (inv *Inventory) ByIndex(idxs ...int) ([]BandRecord, error) {
	out := make([]BandRecord, 0, len(idxs))
	for _, idx := range idxs {
		pos, ok := inv.byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("%w: no band for index %d", ErrNotFound, idx)
		}
		out = append(out, inv.records[pos])
	}
	return out, nil
}

// ByParam returns every band whose parameter code is in params, in band
// order. A non-empty levels list further restricts matches to those level
// codes. Unlike the reference-table lookup, a parameter appearing at several
// levels yields every matching band. Fails with ErrNotFound when nothing
// matches.
func (inv *Inventory) ByParam(params []string, levels []string) ([]BandRecord, error) {
	var out []BandRecord
	for _, rec := range inv.records {
		if !contains(params, rec.Param) {
			continue
		}
		if len(levels) > 0 && !contains(levels, rec.Level) {
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no band for params %v levels %v", ErrNotFound, params, levels)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
