package hrrr

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Versioned reference tables describing which bands exist for which forecast
// hours of each product generation, used when resolving parameters without
// opening the raster (e.g. to decide what to download).
//
//go:embed inventory/*.json
var inventoryFiles embed.FS

var inventoryFileByVersion = map[int]string{
	3: "inventory/hrrr_v3_inventory.json",
	4: "inventory/hrrr_v4_inventory.json",
}

// refRecord is the on-disk shape of a reference-table band entry.
type refRecord struct {
	Param string `json:"param"`
	Level string `json:"level"`
	Desc  string `json:"desc"`
}

// ReferenceInventory resolves parameters to band indices from the embedded
// reference tables rather than live raster introspection. Like Inventory it
// is immutable once built.
type ReferenceInventory struct {
	records []BandRecord
	byIndex map[int]int
}

// NewReferenceInventory selects the band table for the given product
// generation and category whose forecast-hour bucket contains forecastHour.
// Fails with ErrNotFound when no table or bucket matches.
func NewReferenceInventory(version int, category Category, forecastHour int) (*ReferenceInventory, error) {
	name, ok := inventoryFileByVersion[version]
	if !ok {
		return nil, fmt.Errorf("%w: no reference inventory for HRRR v%d", ErrNotFound, version)
	}
	data, err := inventoryFiles.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("hrrr: read reference inventory: %w", err)
	}

	var table map[string]map[string]map[string]refRecord
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("hrrr: parse reference inventory: %w", err)
	}
	catTable, ok := table[string(category)]
	if !ok {
		return nil, fmt.Errorf("%w: no reference inventory for HRRR v%d category %q", ErrNotFound, version, category)
	}

	for bucket, bands := range catTable {
		hours, err := parseHourBucket(bucket)
		if err != nil {
			return nil, fmt.Errorf("hrrr: reference inventory bucket %q: %w", bucket, err)
		}
		if !hours[forecastHour] {
			continue
		}

		ri := &ReferenceInventory{
			records: make([]BandRecord, 0, len(bands)),
			byIndex: make(map[int]int, len(bands)),
		}
		for idxStr, rec := range bands {
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, fmt.Errorf("hrrr: reference inventory band index %q: %w", idxStr, err)
			}
			ri.records = append(ri.records, BandRecord{
				Index:     idx,
				Param:     rec.Param,
				Level:     rec.Level,
				LevelDesc: levelDescriptions[rec.Level],
				Comment:   rec.Desc,
			})
		}
		sort.Slice(ri.records, func(i, j int) bool { return ri.records[i].Index < ri.records[j].Index })
		for pos, rec := range ri.records {
			ri.byIndex[rec.Index] = pos
		}
		return ri, nil
	}
	return nil, fmt.Errorf("%w: no forecast-hour bucket contains hour %d (v%d %q)", ErrNotFound, forecastHour, version, category)
}

// parseHourBucket expands a bucket key: a comma-separated list of integer
// hours where each element may also be an inclusive "lo-hi" range.
func parseHourBucket(bucket string) (map[int]bool, error) {
	hours := make(map[int]bool)
	for _, tok := range strings.Split(bucket, ",") {
		tok = strings.TrimSpace(tok)
		if lo, hi, ok := strings.Cut(tok, "-"); ok {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, err
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("range %q is inverted", tok)
			}
			for h := start; h <= end; h++ {
				hours[h] = true
			}
			continue
		}
		h, err := strconv.Atoi(tok)
		if err != nil {
			return nil, err
		}
		hours[h] = true
	}
	return hours, nil
}

// Records returns every band record in band-index order.
func (ri *ReferenceInventory) Records() []BandRecord {
	out := make([]BandRecord, len(ri.records))
	copy(out, ri.records)
	return out
}

// ByIndex looks up records by raw band index, failing with ErrNotFound when
// any index has no entry.
func (ri *ReferenceInventory) ByIndex(idxs ...int) ([]BandRecord, error) {
	out := make([]BandRecord, 0, len(idxs))
	for _, idx := range idxs {
		pos, ok := ri.byIndex[idx]
		if !ok {
			return nil, fmt.Errorf("%w: no band for index %d", ErrNotFound, idx)
		}
		out = append(out, ri.records[pos])
	}
	return out, nil
}

// ByParam resolves parameter codes to band records, one record per requested
// code, returned in the caller-supplied order. Matching is greedy: scanning
// bands in index order, each band can satisfy at most one pending code, but
// a code requested twice re-uses its first match. Downstream code zips codes
// against results positionally, so the ordering is contractual. Unlike
// Inventory.ByParam, a code never yields more than one band here.
func (ri *ReferenceInventory) ByParam(params []string) ([]BandRecord, error) {
	pending := make([]string, len(params))
	copy(pending, params)

	var matched []BandRecord
	for _, rec := range ri.records {
		for i, p := range pending {
			if p == rec.Param {
				matched = append(matched, rec)
				pending = append(pending[:i], pending[i+1:]...)
				break
			}
		}
	}

	out := make([]BandRecord, len(params))
	for i, p := range params {
		found := false
		for _, rec := range matched {
			if rec.Param == p {
				out[i] = rec
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: no band for param %q", ErrNotFound, p)
		}
	}
	return out, nil
}
