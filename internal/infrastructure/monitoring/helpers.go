package monitoring

// Stats is the aggregated view served by the JSON stats endpoint.
type Stats struct {
	UptimeSeconds   float64 `json:"uptime_seconds"`
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	AvgRequestMS    float64 `json:"avg_request_ms"`
	ActiveTerminals int64   `json:"active_terminals"`
	ActiveAgents    int64   `json:"active_agents"`
	ActiveStreams   int64   `json:"active_streams"`

	// Agent run duration quantiles in seconds, absent until a run finishes.
	RunP50 float64 `json:"run_p50_seconds,omitempty"`
	RunP90 float64 `json:"run_p90_seconds,omitempty"`
	RunP99 float64 `json:"run_p99_seconds,omitempty"`
}

// BuildStats assembles the JSON stats view from current counters.
func (m *Metrics) BuildStats() Stats {
	snap := m.GetSnapshot()

	stats := Stats{
		UptimeSeconds:   m.UptimeSeconds(),
		TotalRequests:   snap.TotalRequests,
		TotalErrors:     snap.TotalErrors,
		ActiveTerminals: snap.ActiveTerminals,
		ActiveAgents:    snap.ActiveAgents,
		ActiveStreams:   snap.ActiveStreams,
	}
	if snap.RequestCount > 0 {
		stats.AvgRequestMS = snap.TotalDuration / float64(snap.RequestCount) * 1000
	}
	if qs := m.RunDurationQuantiles(0.5, 0.9, 0.99); qs != nil {
		stats.RunP50, stats.RunP90, stats.RunP99 = qs[0], qs[1], qs[2]
	}
	return stats
}
