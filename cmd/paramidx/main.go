// Command paramidx resolves HRRR parameter codes to band indices, either
// from the embedded reference tables or by introspecting a local GRIB2 file.
//
// Usage:
//
//	paramidx -version 4 -category sfc -hour 0 CAPE HLCY
//	paramidx -file data/hrrr.20210426/hrrr.t17z.wrfsfcf00.grib2 -backend gdal CAPE
//
// With no parameter arguments the full band table is printed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/couchcryptid/storm-grid-sampler/internal/hrrr"
	"github.com/couchcryptid/storm-grid-sampler/internal/raster"
)

func main() {
	version := flag.Int("version", 4, "HRRR model generation (3 or 4)")
	category := flag.String("category", "sfc", "product category: prs, nat, sfc, subh")
	hour := flag.Int("hour", 0, "forecast hour")
	file := flag.String("file", "", "introspect a local GRIB2 file instead of the reference tables")
	backend := flag.String("backend", "gdal", "raster backend for -file")
	flag.Parse()

	if code := run(*version, hrrr.Category(*category), *hour, *file, *backend, flag.Args()); code != 0 {
		os.Exit(code)
	}
}

func run(version int, category hrrr.Category, hour int, file, backend string, params []string) int {
	records, err := resolve(version, category, hour, file, backend, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "paramidx: %v\n", err)
		return 1
	}

	fmt.Printf("%-5s %-8s %-20s %s\n", "BAND", "PARAM", "LEVEL", "DESCRIPTION")
	for _, rec := range records {
		desc := rec.LevelDesc
		if desc == "" {
			desc = rec.Comment
		}
		fmt.Printf("%-5d %-8s %-20s %s\n", rec.Index, rec.Param, rec.Level, desc)
	}
	return 0
}

func resolve(version int, category hrrr.Category, hour int, file, backend string, params []string) ([]hrrr.BandRecord, error) {
	if file != "" {
		return resolveFromFile(file, backend, params)
	}

	ri, err := hrrr.NewReferenceInventory(version, category, hour)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return ri.Records(), nil
	}
	return ri.ByParam(params)
}

func resolveFromFile(file, backend string, params []string) ([]hrrr.BandRecord, error) {
	opener, err := raster.Backend(backend)
	if err != nil {
		return nil, err
	}
	p, err := hrrr.FromFile(file, opener, slog.Default())
	if err != nil {
		return nil, err
	}
	defer p.Close()

	inv, err := p.Inventory(context.Background())
	if err != nil {
		return nil, err
	}
	if len(params) == 0 {
		return inv.Records(), nil
	}
	return inv.ByParam(params, nil)
}
