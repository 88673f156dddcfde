package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketMessages    *prometheus.CounterVec

	// Chat metrics
	ChatTurns       *prometheus.CounterVec
	ChatTurnLatency prometheus.Histogram
	ChatErrors      *prometheus.CounterVec

	// Dispatch metrics
	ProviderCalls *prometheus.CounterVec

	// Summarization metrics
	HistorySyntheses *prometheus.CounterVec

	// Connection manager reference for dynamic metrics
	connManager *ConnectionManager
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics(connManager *ConnectionManager) *Metrics {
	metrics := &Metrics{
		connManager: connManager,

		// WebSocket active connections (gauge - can go up and down)
		WebSocketConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "agentdeck_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),

		// WebSocket messages by type (counter - only goes up)
		WebSocketMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeck_websocket_messages_total",
			Help: "Total number of WebSocket messages by type",
		}, []string{"type", "direction"}), // direction: "inbound" or "outbound"

		// Chat turns by provider and outcome
		ChatTurns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeck_chat_turns_total",
			Help: "Total number of chat turns by provider and outcome",
		}, []string{"provider", "outcome"}), // outcome: "ok" or "error"

		// Chat turn latency histogram
		ChatTurnLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentdeck_chat_turn_duration_seconds",
			Help:    "Chat turn latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		// Chat errors by type
		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeck_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		// Dispatched vendor calls by provider and operation
		ProviderCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeck_provider_calls_total",
			Help: "Total number of vendor API calls by provider and operation",
		}, []string{"provider", "operation"}),

		// History synthesis attempts by outcome
		HistorySyntheses: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "agentdeck_history_syntheses_total",
			Help: "Total number of history summarization attempts by outcome",
		}, []string{"outcome"}),
	}

	// Register a collector that reads the live count from ConnectionManager
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "agentdeck_websocket_connections_current",
			Help: "Current number of active WebSocket connections (from connection manager)",
		},
		func() float64 {
			if connManager != nil {
				return float64(connManager.Count())
			}
			return 0
		},
	))

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordWebSocketConnect records a new WebSocket connection
func (m *Metrics) RecordWebSocketConnect() {
	m.WebSocketConnections.Inc()
}

// RecordWebSocketDisconnect records a WebSocket disconnection
func (m *Metrics) RecordWebSocketDisconnect() {
	m.WebSocketConnections.Dec()
}

// RecordWebSocketMessage records a WebSocket message
func (m *Metrics) RecordWebSocketMessage(msgType, direction string) {
	m.WebSocketMessages.WithLabelValues(msgType, direction).Inc()
}

// recordChatTurn records one settled chat turn. Safe before InitMetrics.
func recordChatTurn(provider string, ok bool, seconds float64) {
	if globalMetrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	globalMetrics.ChatTurns.WithLabelValues(provider, outcome).Inc()
	globalMetrics.ChatTurnLatency.Observe(seconds)
}

// recordChatError records a chat error by type. Safe before InitMetrics.
func recordChatError(errorType string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.ChatErrors.WithLabelValues(errorType).Inc()
}

// recordProviderCall records one dispatched vendor call. Safe before InitMetrics.
func recordProviderCall(provider, operation string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.ProviderCalls.WithLabelValues(provider, operation).Inc()
}

// recordHistorySynthesis records a summarization attempt. Safe before InitMetrics.
func recordHistorySynthesis(ok bool) {
	if globalMetrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	globalMetrics.HistorySyntheses.WithLabelValues(outcome).Inc()
}
