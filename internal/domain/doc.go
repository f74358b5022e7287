// Package domain models the canonical entities of the farm fire-risk fusion
// pipeline: farm reference data, normalized hazard signals, and the fused
// farm-hour risk rows.
//
// # Sources
//
// Fire detections come from NASA FIRMS area CSV extracts
// (https://firms.modaps.eosdis.nasa.gov), one row per satellite hotspot with
// acq_date/acq_time in UTC, a confidence value that is either a band word
// (low/nominal/high) or a 0-100 percentage depending on the sensor, and FRP
// (fire radiative power, MW). Weather is Open-Meteo-shaped hourly rows.
// Incidents are agency feeds with a point location and an optional perimeter
// polygon. Crop cover is USDA CDL pixel samples (30 m class codes) extracted
// upstream around farm points.
//
// # Units and conventions
//
// All timestamps are UTC. Coordinates are WGS-84; latitude in [-90, 90] and
// longitude in [-180, 180], validated at normalization. Wind speed is stored
// in meters per second; Open-Meteo km/h and incident-feed mph are converted
// at the reader boundary. Confidence is normalized to [0, 1]. Containment is
// a percentage in [0, 100].
//
// # ID generation
//
// Detections carry no natural key, so IDs are deterministic SHA-256 hashes
// over (source, acquisition time, lat, lon, satellite) with coordinates
// rounded to 4 decimal places (~11 m). Re-running the pipeline over the same
// raw data therefore produces identical IDs, which makes dedup and snapshot
// rebuilds idempotent. See [DetectionID].
//
// # Risk levels
//
// Combined risk scores are classified with inclusive breakpoints:
//
//	>= 0.70 high | >= 0.40 medium | < 0.40 low
//
// The same table backs the per-detection risk hint used by map rendering.
package domain
