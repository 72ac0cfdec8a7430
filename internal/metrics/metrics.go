package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the bridge's Prometheus instrumentation. All counters are
// registered on a dedicated registry so tests can construct their own.
type Metrics struct {
	Registry *prometheus.Registry

	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	ReadingsApplied  prometheus.Counter
	MediansComputed  prometheus.Counter
	PointsWritten    prometheus.Counter
	BrokerReconnects prometheus.CounterFunc
	BrokerConnected  prometheus.GaugeFunc
}

func New(reconnects func() float64, connected func() float64) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		Registry: registry,
		MessagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "messages_received_total",
			Help:      "Broker messages received, by topic type.",
		}, []string{"topic_type"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "messages_dropped_total",
			Help:      "Broker messages dropped before reaching the store, by reason.",
		}, []string{"reason"}),
		ReadingsApplied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "readings_applied_total",
			Help:      "Individual field readings applied to the store.",
		}),
		MediansComputed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "medians_computed_total",
			Help:      "Median aggregations computed and published.",
		}),
		PointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "influx_points_written_total",
			Help:      "Points handed to the InfluxDB write API.",
		}),
	}

	if reconnects != nil {
		m.BrokerReconnects = factory.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "broker_reconnects_total",
			Help:      "Reconnect attempts against the MQTT broker.",
		}, reconnects)
	}
	if connected != nil {
		m.BrokerConnected = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sensorbridge",
			Name:      "broker_connected",
			Help:      "1 while the MQTT connection is up.",
		}, connected)
	}

	return m
}
