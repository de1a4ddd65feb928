// Package telemetry holds the process-wide Prometheus metrics. Metrics are
// registered once and shared across components; the API server exposes
// them on /metrics.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// MessagesReceived counts MQTT messages per broker, before decoding
	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "mqtt_messages_received_total",
			Help:      "Total number of MQTT messages received",
		},
		[]string{"broker"},
	)

	// MQTTReconnects counts broker reconnection attempts
	MQTTReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "mqtt_reconnects_total",
			Help:      "Total number of MQTT reconnect attempts",
		},
		[]string{"broker"},
	)

	// DecodeErrors counts messages dropped because they could not be decoded
	DecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "decode_errors_total",
			Help:      "Total number of broker messages dropped as undecodable",
		},
		[]string{"kind"},
	)

	// PacketsParsed counts parsed packets by packet type
	PacketsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "packets_parsed_total",
			Help:      "Total number of packets parsed from broker events",
		},
		[]string{"type"},
	)

	// PacketsWritten counts rows flushed to storage per stream
	PacketsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "packets_written_total",
			Help:      "Total number of packet rows written to storage",
		},
		[]string{"stream"},
	)

	// WriteErrors counts failed flushes per stream
	WriteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "write_errors_total",
			Help:      "Total number of failed storage flushes",
		},
		[]string{"stream"},
	)

	// LiveSubscribers tracks currently connected live-feed clients
	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "analyzer",
			Name:      "live_subscribers",
			Help:      "Number of connected live feed subscribers",
		},
	)

	// LiveDropped counts packets dropped on slow subscriber queues
	LiveDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "analyzer",
			Name:      "live_dropped_total",
			Help:      "Total number of live packets dropped on full subscriber queues",
		},
	)

	// SessionsBound tracks DevAddr sessions currently held by the tracker
	SessionsBound = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "analyzer",
			Name:      "sessions_bound",
			Help:      "Number of DevAddr sessions currently bound",
		},
	)

	once sync.Once
)

// InitMetrics registers all metrics with the default registry. Safe to
// call more than once.
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(MessagesReceived)
		prometheus.DefaultRegisterer.Register(MQTTReconnects)
		prometheus.DefaultRegisterer.Register(DecodeErrors)
		prometheus.DefaultRegisterer.Register(PacketsParsed)
		prometheus.DefaultRegisterer.Register(PacketsWritten)
		prometheus.DefaultRegisterer.Register(WriteErrors)
		prometheus.DefaultRegisterer.Register(LiveSubscribers)
		prometheus.DefaultRegisterer.Register(LiveDropped)
		prometheus.DefaultRegisterer.Register(SessionsBound)
	})
}
