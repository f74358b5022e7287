package normalize

import (
	"sort"
	"strings"

	"github.com/paulmach/orb"

	"github.com/fieldwatch/farm-risk-etl/internal/domain"
)

// IncidentRow is one raw incident record from an agency feed.
type IncidentRow struct {
	ID        string
	Name      string
	Status    string
	Latitude  float64
	Longitude float64

	// Perimeter is the exterior ring as (lon, lat) pairs, when the feed
	// carried polygon geometry.
	Perimeter [][2]float64

	StartTime      string
	ContainmentPct *float64 // 0-100
	Acres          *float64
}

// Incidents normalizes raw incident rows, dropping malformed ones.
func (n *Normalizer) Incidents(rows []IncidentRow) ([]domain.FireIncident, int) {
	ingestedAt := domain.Now()
	out := make([]domain.FireIncident, 0, len(rows))
	rejected := 0

	for i := range rows {
		inc, err := n.incident(rows[i])
		if err != nil {
			rejected++
			n.logger.Warn("dropping malformed incident row", "row", i, "error", err)
			continue
		}
		inc.IngestedAt = ingestedAt
		out = append(out, inc)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IncidentID < out[j].IncidentID })
	return out, rejected
}

func (n *Normalizer) incident(row IncidentRow) (domain.FireIncident, error) {
	if strings.TrimSpace(row.ID) == "" {
		return domain.FireIncident{}, domain.Malformed("incident", "missing id")
	}
	if !domain.ValidCoordinates(row.Latitude, row.Longitude) {
		return domain.FireIncident{}, domain.Malformed("incident", "coordinates out of range (%g, %g)", row.Latitude, row.Longitude)
	}

	startTime, err := ParseUTC(row.StartTime)
	if err != nil {
		return domain.FireIncident{}, domain.Malformed("incident", "start time %q", row.StartTime)
	}

	containment := 0.0
	if row.ContainmentPct != nil {
		containment = *row.ContainmentPct
		if containment < 0 || containment > 100 {
			return domain.FireIncident{}, domain.Malformed("incident", "containment %g out of range", containment)
		}
	}

	acres := 0.0
	if row.Acres != nil {
		acres = *row.Acres
	}

	var perimeter orb.Polygon
	if len(row.Perimeter) >= 3 {
		ring := make(orb.Ring, 0, len(row.Perimeter)+1)
		for _, p := range row.Perimeter {
			if !domain.ValidCoordinates(p[1], p[0]) {
				return domain.FireIncident{}, domain.Malformed("incident", "perimeter vertex out of range (%g, %g)", p[1], p[0])
			}
			ring = append(ring, orb.Point{p[0], p[1]})
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		perimeter = orb.Polygon{ring}
	}

	return domain.FireIncident{
		IncidentID:     strings.TrimSpace(row.ID),
		Name:           strings.TrimSpace(row.Name),
		Status:         normalizeStatus(row.Status),
		StartTime:      startTime,
		ContainmentPct: containment,
		Acreage:        acres,
		Point:          orb.Point{row.Longitude, row.Latitude},
		Perimeter:      perimeter,
	}, nil
}

func normalizeStatus(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "burning", "ongoing":
		return domain.IncidentActive
	case "contained":
		return domain.IncidentContained
	case "out", "controlled", "inactive":
		return domain.IncidentOut
	default:
		return domain.IncidentUnknown
	}
}
