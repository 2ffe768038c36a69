package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections *prometheus.GaugeVec
	WSMessages    *prometheus.CounterVec

	// Terminal metrics
	TerminalsActive   prometheus.Gauge
	TerminalsTotal    prometheus.Counter
	TerminalDisposals *prometheus.CounterVec
	TerminalSockets   prometheus.Gauge
	TerminalBytes     *prometheus.CounterVec
	TerminalDrops     prometheus.Counter

	// Agent metrics
	AgentsActive     prometheus.Gauge
	AgentsTotal      *prometheus.CounterVec
	AgentRuns        *prometheus.CounterVec
	AgentRunDuration *prometheus.HistogramVec
	AgentCostUSD     prometheus.Counter

	// Broadcast metrics
	BroadcastEvents  *prometheus.CounterVec
	BroadcastDrops   prometheus.Counter
	BroadcastStreams prometheus.Gauge

	// Guard and sweeper metrics
	GuardRejections *prometheus.CounterVec
	Evictions       *prometheus.CounterVec

	// Persistence metrics
	StoreOps        *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time

	// Bounded reservoir of agent run durations for quantile summaries
	runDurations *Sampler

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests   int64   `json:"total_requests"`
	TotalErrors     int64   `json:"total_errors"`
	ActiveTerminals int64   `json:"active_terminals"`
	ActiveAgents    int64   `json:"active_agents"`
	ActiveStreams   int64   `json:"active_streams"`
	TotalDuration   float64 `json:"-"` // sum of all request durations
	RequestCount    int64   `json:"-"` // count for averaging
}

// NewMetrics creates a metrics collector registered on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates a metrics collector on a custom registerer. Tests
// pass a fresh registry to avoid duplicate-registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime:    time.Now(),
		runDurations: NewSampler(1024),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deckd_ws_connections",
				Help: "Number of active WebSocket connections",
			},
			[]string{"kind"},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"kind", "direction"},
		),

		// Terminal metrics
		TerminalsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckd_terminals_active",
				Help: "Number of live terminal sessions",
			},
		),
		TerminalsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckd_terminals_total",
				Help: "Total number of terminal sessions created",
			},
		),
		TerminalDisposals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_terminal_disposals_total",
				Help: "Terminal disposals by reason",
			},
			[]string{"reason"},
		),
		TerminalSockets: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckd_terminal_sockets",
				Help: "Number of sockets attached to terminals",
			},
		),
		TerminalBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_terminal_bytes_total",
				Help: "Bytes relayed between PTYs and sockets",
			},
			[]string{"direction"},
		),
		TerminalDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckd_terminal_dropped_chunks_total",
				Help: "Output chunks dropped for slow terminal sockets",
			},
		),

		// Agent metrics
		AgentsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckd_agents_active",
				Help: "Number of agent sessions currently running",
			},
		),
		AgentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_agents_total",
				Help: "Total number of agent sessions created",
			},
			[]string{"provider"},
		),
		AgentRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_agent_runs_total",
				Help: "Finished agent runs by provider and terminal status",
			},
			[]string{"provider", "status"},
		),
		AgentRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckd_agent_run_duration_seconds",
				Help:    "Agent run duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"provider"},
		),
		AgentCostUSD: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckd_agent_cost_usd_total",
				Help: "Cumulative provider-reported cost in USD",
			},
		),

		// Broadcast metrics
		BroadcastEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_broadcast_events_total",
				Help: "Events delivered to agent event streams",
			},
			[]string{"type"},
		),
		BroadcastDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deckd_broadcast_drops_total",
				Help: "Events or subscribers dropped by the broadcaster",
			},
		),
		BroadcastStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckd_broadcast_streams",
				Help: "Number of subscribed agent event streams",
			},
		),

		// Guard and sweeper metrics
		GuardRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_guard_rejections_total",
				Help: "Connections or messages rejected by the guard",
			},
			[]string{"reason"},
		),
		Evictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_evictions_total",
				Help: "Resources reclaimed by background sweeps",
			},
			[]string{"kind"},
		),

		// Persistence metrics
		StoreOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "deckd_store_operations_total",
				Help: "Persistence operations by type and outcome",
			},
			[]string{"op", "status"},
		),
		StoreOpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "deckd_store_operation_duration_seconds",
				Help:    "Persistence operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"op"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "deckd_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	// Start uptime updater
	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	// Update snapshot
	m.mu.Lock()
	m.snapshot.TotalRequests++
	m.snapshot.TotalDuration += duration.Seconds()
	m.snapshot.RequestCount++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// IncWSConnections increments WebSocket connections of the given kind
func (m *Metrics) IncWSConnections(kind string) {
	m.WSConnections.WithLabelValues(kind).Inc()
}

// DecWSConnections decrements WebSocket connections of the given kind
func (m *Metrics) DecWSConnections(kind string) {
	m.WSConnections.WithLabelValues(kind).Dec()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(kind, direction string) {
	m.WSMessages.WithLabelValues(kind, direction).Inc()
}

// IncTerminals records a terminal session creation
func (m *Metrics) IncTerminals() {
	m.TerminalsActive.Inc()
	m.TerminalsTotal.Inc()
	m.mu.Lock()
	m.snapshot.ActiveTerminals++
	m.mu.Unlock()
}

// DecTerminals records a terminal disposal
func (m *Metrics) DecTerminals(reason string) {
	m.TerminalsActive.Dec()
	m.TerminalDisposals.WithLabelValues(reason).Inc()
	m.mu.Lock()
	m.snapshot.ActiveTerminals--
	m.mu.Unlock()
}

// IncTerminalSockets records a socket attach
func (m *Metrics) IncTerminalSockets() {
	m.TerminalSockets.Inc()
}

// DecTerminalSockets records a socket detach
func (m *Metrics) DecTerminalSockets() {
	m.TerminalSockets.Dec()
}

// RecordTerminalBytes records relayed terminal bytes
func (m *Metrics) RecordTerminalBytes(direction string, n int) {
	m.TerminalBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordTerminalDrop records chunks dropped for slow sockets
func (m *Metrics) RecordTerminalDrop(n int) {
	m.TerminalDrops.Add(float64(n))
}

// IncAgents records an agent run starting
func (m *Metrics) IncAgents(provider string) {
	m.AgentsActive.Inc()
	m.AgentsTotal.WithLabelValues(provider).Inc()
	m.mu.Lock()
	m.snapshot.ActiveAgents++
	m.mu.Unlock()
}

// DecAgents records an agent run concluding
func (m *Metrics) DecAgents() {
	m.AgentsActive.Dec()
	m.mu.Lock()
	m.snapshot.ActiveAgents--
	m.mu.Unlock()
}

// RecordAgentRun records a finished run with its terminal status
func (m *Metrics) RecordAgentRun(provider, status string, duration time.Duration, costUSD float64) {
	m.AgentRuns.WithLabelValues(provider, status).Inc()
	m.AgentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	if costUSD > 0 {
		m.AgentCostUSD.Add(costUSD)
	}
	m.runDurations.Observe(duration.Seconds())
}

// RecordBroadcast records an event delivered to subscribers
func (m *Metrics) RecordBroadcast(eventType string) {
	m.BroadcastEvents.WithLabelValues(eventType).Inc()
}

// RecordBroadcastDrop records a dropped event or evicted subscriber
func (m *Metrics) RecordBroadcastDrop() {
	m.BroadcastDrops.Inc()
}

// IncBroadcastStreams records a stream subscribing
func (m *Metrics) IncBroadcastStreams() {
	m.BroadcastStreams.Inc()
	m.mu.Lock()
	m.snapshot.ActiveStreams++
	m.mu.Unlock()
}

// DecBroadcastStreams records a stream unsubscribing
func (m *Metrics) DecBroadcastStreams() {
	m.BroadcastStreams.Dec()
	m.mu.Lock()
	m.snapshot.ActiveStreams--
	m.mu.Unlock()
}

// RecordGuardRejection records a guard rejection by reason
func (m *Metrics) RecordGuardRejection(reason string) {
	m.GuardRejections.WithLabelValues(reason).Inc()
}

// RecordEviction records a background sweep reclaiming a resource
func (m *Metrics) RecordEviction(kind string) {
	m.Evictions.WithLabelValues(kind).Inc()
}

// RecordStoreOp records a persistence operation outcome
func (m *Metrics) RecordStoreOp(op, status string, duration time.Duration) {
	m.StoreOps.WithLabelValues(op, status).Inc()
	m.StoreOpDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// GetSnapshot returns a copy of the JSON API snapshot
func (m *Metrics) GetSnapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// RunDurationQuantiles summarizes observed agent run durations in seconds.
func (m *Metrics) RunDurationQuantiles(qs ...float64) []float64 {
	return m.runDurations.Quantiles(qs...)
}

// UptimeSeconds reports how long the collector has been alive.
func (m *Metrics) UptimeSeconds() float64 {
	return time.Since(m.startTime).Seconds()
}
