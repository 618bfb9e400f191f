package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// Geo represents a WGS-84 latitude/longitude coordinate pair.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// StormReport is one severe-weather report as published by the upstream ETL.
// Only the fields the sampler needs are decoded; the rest of the payload is
// ignored.
type StormReport struct {
	ID        string    `json:"id"`
	EventType string    `json:"type"`
	Geo       Geo       `json:"geo"`
	Magnitude float64   `json:"magnitude"`
	EventTime time.Time `json:"begin_time"`
}

// ParseStormReport deserializes a RawEvent's value into a StormReport. The
// event time falls back to the message timestamp; a report without a usable
// coordinate is rejected.
func ParseStormReport(raw RawEvent) (StormReport, error) {
	var rep StormReport
	if err := json.Unmarshal(raw.Value, &rep); err != nil {
		return StormReport{}, fmt.Errorf("parse storm report: %w", err)
	}
	if rep.Geo.Lat < -90 || rep.Geo.Lat > 90 || rep.Geo.Lon < -180 || rep.Geo.Lon > 180 {
		return StormReport{}, fmt.Errorf("parse storm report: coordinate (%g, %g) out of range", rep.Geo.Lat, rep.Geo.Lon)
	}
	if rep.Geo.Lat == 0 && rep.Geo.Lon == 0 {
		return StormReport{}, fmt.Errorf("parse storm report: missing coordinate")
	}
	if rep.EventTime.IsZero() {
		rep.EventTime = raw.Timestamp.UTC()
	}
	if rep.EventTime.IsZero() {
		return StormReport{}, fmt.Errorf("parse storm report: no event time")
	}
	if rep.ID == "" {
		rep.ID = generateID(rep.EventType, rep.Geo.Lat, rep.Geo.Lon, rep.EventTime)
	}
	return rep, nil
}

// generateID produces a deterministic ID from the report's key fields, so
// reprocessing the same raw message yields the same feature-vector key.
func generateID(eventType string, lat, lon float64, t time.Time) string {
	input := fmt.Sprintf("%s|%.4f|%.4f|%d", eventType, lat, lon, t.Unix())
	hash := sha256.Sum256([]byte(input))
	short := hex.EncodeToString(hash[:8])
	if eventType == "" {
		return short
	}
	return eventType + "-" + short
}

// Aggregate summarizes a neighborhood of grid samples. Fields are nil when
// no valid (non-NaN) samples existed; Count is the number of valid samples.
type Aggregate struct {
	Max   *float64 `json:"max,omitempty"`
	Mean  *float64 `json:"mean,omitempty"`
	P90   *float64 `json:"p90,omitempty"`
	Count int      `json:"count"`
}

// FeatureVector is the output record: one per storm report, keyed by the
// report ID.
type FeatureVector struct {
	ReportID  string    `json:"report_id"`
	EventType string    `json:"type"`
	Geo       Geo       `json:"geo"`
	Magnitude float64   `json:"magnitude"`
	EventTime time.Time `json:"event_time"`

	// Grid cycle the samples came from.
	RunTime      time.Time `json:"run_time"`
	ForecastHour int       `json:"forecast_hour"`

	// Point holds the sample at the report location per parameter key
	// ("PARAM:LEVEL"); nil for no data.
	Point map[string]*float64 `json:"point"`
	// Neighborhood holds radius aggregates per parameter key.
	Neighborhood map[string]Aggregate `json:"neighborhood"`

	// Neighborhood maxima of the derived mesoanalysis fields; nil when the
	// product does not carry the ingredients.
	SupercellComposite *float64 `json:"scp_max,omitempty"`
	SignificantTornado *float64 `json:"stp_max,omitempty"`

	// OutOfBounds marks reports whose location fell outside the grid.
	OutOfBounds bool      `json:"out_of_bounds,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Finalize stamps the vector with the processing time.
func (f *FeatureVector) Finalize() {
	f.ProcessedAt = clock.Now()
}
