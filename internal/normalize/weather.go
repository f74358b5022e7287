package normalize

import (
	"sort"
	"time"

	"github.com/paulmach/orb"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// Wind speed units a weather source may deliver. The canonical model stores
// m/s; conversion happens here, at the boundary.
const (
	WindUnitKMH = "kmh" // Open-Meteo default
	WindUnitMPS = "ms"
	WindUnitMPH = "mph"
)

// WeatherRow is one raw hourly weather row. Value fields are pointers:
// sources omit variables they were not asked for.
type WeatherRow struct {
	Time      string // ISO-8601, with or without zone (naive means UTC)
	Latitude  float64
	Longitude float64

	Temperature2M      *float64
	RelativeHumidity2M *float64
	WindSpeed10M       *float64
	WindDirection10M   *float64

	// WindUnit names the unit of WindSpeed10M; empty means km/h.
	WindUnit string
}

// Weather normalizes raw rows into WeatherObservations sorted by grid cell
// then time. Returns the observations and the count of dropped rows.
func (n *Normalizer) Weather(rows []WeatherRow) ([]domain.WeatherObservation, int) {
	out := make([]domain.WeatherObservation, 0, len(rows))
	rejected := 0

	for i := range rows {
		obs, err := n.weatherObservation(rows[i])
		if err != nil {
			rejected++
			n.logger.Warn("dropping malformed weather row", "row", i, "error", err)
			continue
		}
		out = append(out, obs)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].GridCellID != out[j].GridCellID {
			return out[i].GridCellID < out[j].GridCellID
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out, rejected
}

func (n *Normalizer) weatherObservation(row WeatherRow) (domain.WeatherObservation, error) {
	if !domain.ValidCoordinates(row.Latitude, row.Longitude) {
		return domain.WeatherObservation{}, domain.Malformed("weather", "coordinates out of range (%g, %g)", row.Latitude, row.Longitude)
	}

	t, err := ParseUTC(row.Time)
	if err != nil {
		return domain.WeatherObservation{}, domain.Malformed("weather", "time %q", row.Time)
	}

	wind := row.WindSpeed10M
	if wind != nil {
		converted := toMPS(*wind, row.WindUnit)
		wind = &converted
	}

	return domain.WeatherObservation{
		GridCellID:       domain.GridCellIDFor(row.Latitude, row.Longitude),
		Point:            orb.Point{row.Longitude, row.Latitude},
		Time:             t,
		TemperatureC:     row.Temperature2M,
		RelativeHumidity: row.RelativeHumidity2M,
		WindSpeedMPS:     wind,
		WindDirectionDeg: row.WindDirection10M,
	}, nil
}

func toMPS(v float64, unit string) float64 {
	switch unit {
	case WindUnitMPS:
		return v
	case WindUnitMPH:
		return domain.MPHToMPS(v)
	default:
		return domain.KMHToMPS(v)
	}
}

// ParseUTC accepts RFC 3339 or the zone-less ISO form Open-Meteo emits
// ("2026-08-30T05:00"), normalizing to UTC. A naive timestamp is taken as
// already-UTC, matching the timezone=UTC request parameter.
func ParseUTC(value string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	var zero time.Time
	return zero, domain.Malformed("time", "unparseable timestamp %q", value)
}
