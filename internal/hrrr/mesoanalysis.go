package hrrr

import (
	"context"
	"math"

	"github.com/ctessum/sparse"

	"github.com/couchcryptid/storm-grid-sampler/internal/geo"
)

// Inventory level codes for the mesoanalysis ingredients.
const (
	levelMostUnstable = "25500-0-SPDL" // 255-0 mb above ground (most-unstable parcel)
	levelSurface      = "0-SFC"
	levelShear6km     = "0-6000-HTGL"
	levelHelicity3km  = "3000-0-HTGL"
	levelHelicity1km  = "1000-0-HTGL"
	levelLCL          = "0-ADCL" // adiabatic condensation level
)

// SupercellComposite computes the supercell composite parameter over the
// product extent (optionally cropped to bounds):
//
//	SCP = (MUCAPE/1000) * (BWD6km/40) * (SRH3km/100)
//
// where BWD6km is the magnitude of the 0-6 km shear vector. Negative values
// are clipped to zero; NaN propagates through no-data pixels.
func SupercellComposite(ctx context.Context, p *Product, bounds *geo.Bounds) (*sparse.DenseArray, error) {
	inv, err := p.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	var idxs []int
	for _, q := range []struct{ param, level string }{
		{"CAPE", levelMostUnstable},
		{"VUCSH", levelShear6km},
		{"VVCSH", levelShear6km},
		{"HLCY", levelHelicity3km},
	} {
		recs, err := inv.ByParam([]string{q.param}, []string{q.level})
		if err != nil {
			return nil, err
		}
		idxs = append(idxs, recs[0].Index)
	}

	ar, err := p.ReadArray(ctx, idxs, ProjectionWorld, bounds)
	if err != nil {
		return nil, err
	}

	h, w := ar.Shape[0], ar.Shape[1]
	out := sparse.ZerosDense(h, w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			mucape := ar.Get(r, c, 0)
			bwd := math.Hypot(ar.Get(r, c, 1), ar.Get(r, c, 2))
			srh := ar.Get(r, c, 3)

			scp := (mucape / 1000.0) * (bwd / 40.0) * (srh / 100.0)
			if scp < 0 {
				scp = 0
			}
			out.Set(scp, r, c)
		}
	}
	return out, nil
}

// SignificantTornado computes the (fixed-layer) significant tornado
// parameter over the product extent:
//
//	STP = (SBCAPE/1500) * lclTerm * (SRH1km/150) * bwdTerm
//
// lclTerm ramps linearly from 1 at a 1000 m condensation level to 0 at
// 2000 m (saturating at 1 below 1000 m); bwdTerm is BWD6km/20 saturating at
// 1.5 above 30 m/s with a hard zero below 12.5 m/s. Negative values are
// clipped to zero.
func SignificantTornado(ctx context.Context, p *Product, bounds *geo.Bounds) (*sparse.DenseArray, error) {
	inv, err := p.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	var idxs []int
	for _, q := range []struct{ param, level string }{
		{"CAPE", levelSurface},
		{"VUCSH", levelShear6km},
		{"VVCSH", levelShear6km},
		{"HGT", levelLCL},
		{"HLCY", levelHelicity1km},
	} {
		recs, err := inv.ByParam([]string{q.param}, []string{q.level})
		if err != nil {
			return nil, err
		}
		idxs = append(idxs, recs[0].Index)
	}

	ar, err := p.ReadArray(ctx, idxs, ProjectionWorld, bounds)
	if err != nil {
		return nil, err
	}

	h, w := ar.Shape[0], ar.Shape[1]
	out := sparse.ZerosDense(h, w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			sbcape := ar.Get(r, c, 0)
			bwd := math.Hypot(ar.Get(r, c, 1), ar.Get(r, c, 2))
			lclHgt := ar.Get(r, c, 3)
			srh := ar.Get(r, c, 4)

			lclTerm := (2000.0 - lclHgt) / 1000.0
			if lclHgt < 1000.0 {
				lclTerm = 1.0
			}

			bwdTerm := bwd / 20.0
			switch {
			case bwd > 30.0:
				bwdTerm = 1.5
			case bwd < 12.5:
				bwdTerm = 0.0
			}

			stp := (sbcape / 1500.0) * lclTerm * (srh / 150.0) * bwdTerm
			if stp < 0 {
				stp = 0
			}
			out.Set(stp, r, c)
		}
	}
	return out, nil
}
