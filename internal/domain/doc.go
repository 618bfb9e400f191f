// Package domain models the feature-extraction side of the service: storm
// reports consumed from Kafka, the forecast-grid samples taken around each
// report, and the feature vectors published downstream.
//
// # Input
//
// Storm reports arrive as JSON on the source topic, one report per message,
// produced by the upstream storm-data ETL. A report carries a deterministic
// ID, an event type (hail, wind, tornado), a WGS-84 coordinate pair, and the
// UTC event time. Reports missing a usable coordinate or time are rejected
// at parse time and skipped by the pipeline.
//
// # Sampling conventions
//
// Grid samples use NaN as the no-data sentinel throughout: a report outside
// the grid, a pixel past the raster edge, or a masked source pixel all
// surface as NaN, never as zero. The reducers in this package are therefore
// NaN-aware; aggregates are computed over the valid values only and are nil
// when nothing valid remains, so the JSON encoding never has to represent
// NaN (encoding/json rejects it).
//
// # Output
//
// A FeatureVector pairs the report identity with point samples at the report
// location, neighborhood aggregates (max, mean, 90th percentile) over a
// radius around it, and the supercell composite / significant tornado
// maxima over the same neighborhood. Feature vectors are keyed by report ID
// so downstream consumers can upsert idempotently.
package domain
