package domain

import (
	"time"

	"github.com/paulmach/orb"
)

// Incident statuses recognized by the pipeline. Anything else from a feed is
// normalized to "unknown" and treated as inactive.
const (
	IncidentActive    = "active"
	IncidentContained = "contained"
	IncidentOut       = "out"
	IncidentUnknown   = "unknown"
)

// FireIncident is a normalized incident record from an agency feed.
type FireIncident struct {
	IncidentID     string    `json:"incident_id"`
	Name           string    `json:"name,omitempty"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time_utc"`
	ContainmentPct float64   `json:"containment_pct"` // 0-100
	Acreage        float64   `json:"acreage"`
	IngestedAt     time.Time `json:"ingested_at_utc"`

	// Point is always set; Perimeter only when the feed carried one.
	Point     orb.Point   `json:"-"`
	Perimeter orb.Polygon `json:"-"`
}

// Active reports whether the incident still poses a threat.
func (i FireIncident) Active() bool {
	return i.Status == IncidentActive
}
