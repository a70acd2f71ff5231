package model

import "time"

// Stats is the aggregate view of the fleet pushed to dashboards.
type Stats struct {
	Total             int       `json:"total"`
	Online            int       `json:"online"`
	Offline           int       `json:"offline"`
	Warning           int       `json:"warning"`
	Unknown           int       `json:"unknown"`
	ActiveAlerts      int       `json:"activeAlerts"`
	AvgResponseTimeMs int64     `json:"avgResponseTime"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// ComputeStats counts devices per status and averages the response time of
// devices that have one. activeAlerts is the number of unresolved alerts.
func ComputeStats(devices []Device, activeAlerts int, now time.Time) Stats {
	stats := Stats{
		Total:        len(devices),
		ActiveAlerts: activeAlerts,
		GeneratedAt:  now,
	}

	var sum, measured int64
	for _, d := range devices {
		switch d.Status {
		case StatusOnline:
			stats.Online++
		case StatusOffline:
			stats.Offline++
		case StatusWarning:
			stats.Warning++
		default:
			stats.Unknown++
		}
		if d.ResponseTimeMs != nil {
			sum += *d.ResponseTimeMs
			measured++
		}
	}
	if measured > 0 {
		stats.AvgResponseTimeMs = sum / measured
	}
	return stats
}
