package hrrr

import (
	"fmt"
	"time"
)

// Model generation cutover times, from the NCEP implementation notices.
var (
	v1InitTime = time.Date(2014, time.September, 30, 14, 0, 0, 0, time.UTC)
	v2InitTime = time.Date(2016, time.August, 23, 12, 0, 0, 0, time.UTC)
	v3InitTime = time.Date(2018, time.July, 12, 12, 0, 0, 0, time.UTC)
	v4InitTime = time.Date(2020, time.December, 2, 12, 0, 0, 0, time.UTC)
)

// Version returns the HRRR model generation in operation at runTime. A run
// at the cutover instant belongs to the new generation. Band inventories are
// only stable within a generation, so every reference-table lookup is keyed
// by this value.
func Version(runTime time.Time) (int, error) {
	t := runTime.UTC()
	switch {
	case !t.Before(v4InitTime):
		return 4, nil
	case !t.Before(v3InitTime):
		return 3, nil
	case !t.Before(v2InitTime):
		return 2, nil
	case !t.Before(v1InitTime):
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: run time %s predates the first HRRR generation", ErrInvalidArgument, t.Format(time.RFC3339))
	}
}
