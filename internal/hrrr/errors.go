package hrrr

import "errors"

var (
	// ErrNotFound indicates a band index, parameter/level combination, or
	// forecast-hour bucket with no match in an inventory. Lookups never
	// silently default: a feature mapped to the wrong band would corrupt
	// every dataset built downstream.
	ErrNotFound = errors.New("hrrr: not found")

	// ErrInvalidArgument indicates a malformed projection name, product
	// category, bounds, or run time. Raised before any raster work begins.
	ErrInvalidArgument = errors.New("hrrr: invalid argument")
)
