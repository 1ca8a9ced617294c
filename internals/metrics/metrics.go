package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection lifecycle
	ConnectionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roomlink_connection_state",
		Help: "1 for the current connection state of the session, 0 otherwise",
	}, []string{"state"})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomlink_state_transitions_total",
		Help: "Total connection state transitions",
	}, []string{"from", "to"})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomlink_connect_attempts_total",
		Help: "Total room connect attempts by result",
	}, []string{"result"})

	ConnectDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomlink_connect_duration_ms",
		Help:    "Time from connect request to room joined in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
	})

	// Reconnection
	ReconnectAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomlink_reconnect_attempts_total",
		Help: "Total reconnect attempts made by the supervisor",
	})

	ReconnectOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomlink_reconnect_outcomes_total",
		Help: "Reconnect loops by outcome",
	}, []string{"outcome"})

	ReconnectBackoffMs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "roomlink_reconnect_backoff_ms",
		Help:    "Backoff wait before each reconnect attempt in milliseconds",
		Buckets: []float64{500, 1000, 2000, 3000, 4500, 7000, 10000, 20000},
	})

	// Rendering
	BindingsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "roomlink_render_bindings_active",
		Help: "Number of live render bindings",
	}, []string{"kind"})

	OfflineTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomlink_offline_timeouts_total",
		Help: "Total offline timers that expired without a replacement video track",
	})

	// Devices
	DeviceSwitchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomlink_device_switches_total",
		Help: "Device and quality switches by kind and result",
	}, []string{"kind", "result"})

	MetadataWriteErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roomlink_metadata_write_errors_total",
		Help: "Total failed best-effort writes to the stream metadata store",
	})

	// Credentials
	CredentialFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roomlink_credential_fetches_total",
		Help: "Credential requests by method and result",
	}, []string{"method", "result"})

	// Status feed
	StatusClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "roomlink_status_clients",
		Help: "Number of connected status feed clients",
	})
)

var knownStates = []string{"idle", "connecting", "waiting", "active", "offline", "error"}

// Helper functions

func RecordStateTransition(from, to string) {
	StateTransitionsTotal.WithLabelValues(from, to).Inc()
	for _, s := range knownStates {
		v := 0.0
		if s == to {
			v = 1
		}
		ConnectionState.WithLabelValues(s).Set(v)
	}
}

func RecordConnect(result string) {
	ConnectAttemptsTotal.WithLabelValues(result).Inc()
}

func RecordReconnectOutcome(success bool) {
	if success {
		ReconnectOutcomesTotal.WithLabelValues("recovered").Inc()
	} else {
		ReconnectOutcomesTotal.WithLabelValues("exhausted").Inc()
	}
}

func RecordSwitch(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	DeviceSwitchesTotal.WithLabelValues(kind, result).Inc()
}

func RecordCredentialFetch(method string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	CredentialFetchesTotal.WithLabelValues(method, result).Inc()
}
