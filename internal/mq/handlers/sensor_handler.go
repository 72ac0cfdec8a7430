package handlers

import (
	"context"
	"errors"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/errtrack"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/metrics"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/parser"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/services"
)

// SensorHandler bridges broker messages into the measurement pipeline.
// One handler instance serves every subscribed sensor topic.
type SensorHandler struct {
	parser       *parser.Parser
	measurements *services.MeasurementService
	topicManager *mq.TopicManager
	tracker      *errtrack.Tracker
	metrics      *metrics.Metrics
	logger       zerolog.Logger
}

func NewSensorHandler(
	p *parser.Parser,
	measurements *services.MeasurementService,
	topicManager *mq.TopicManager,
	tracker *errtrack.Tracker,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *SensorHandler {
	return &SensorHandler{
		parser:       p,
		measurements: measurements,
		topicManager: topicManager,
		tracker:      tracker,
		metrics:      m,
		logger:       logger,
	}
}

// Handle implements the paho message callback. It never panics back
// into the paho router; all failures end up in the error tracker.
func (h *SensorHandler) Handle(_ pahomqtt.Client, msg pahomqtt.Message) {
	topic := msg.Topic()

	if h.metrics != nil {
		h.metrics.MessagesReceived.WithLabelValues(string(h.topicManager.Classify(topic))).Inc()
	}

	parsed, err := h.parser.Parse(topic, msg.Payload())
	if err != nil {
		h.drop(topic, err)
		return
	}

	if err := h.measurements.ProcessParsed(context.Background(), parsed); err != nil {
		h.tracker.Handle(err, errtrack.KindStorage, "process:"+parsed.DeviceID)
	}
}

func (h *SensorHandler) drop(topic string, err error) {
	reason := dropReason(err)

	if h.metrics != nil {
		h.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}

	// RSSI-only uplinks carry no sensor data and are routine noise,
	// not errors worth tracking.
	if errors.Is(err, parser.ErrRSSIOnlyMessage) {
		h.logger.Debug().Str("topic", topic).Msg("rssi-only message dropped")
		return
	}

	h.tracker.Handle(err, errtrack.KindParsing, "parse:"+topic)
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, parser.ErrEmptyPayload):
		return "empty_payload"
	case errors.Is(err, parser.ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, parser.ErrUnknownTopic):
		return "unknown_topic"
	case errors.Is(err, parser.ErrUnknownDevice):
		return "unknown_device"
	case errors.Is(err, parser.ErrNoReadings):
		return "no_readings"
	case errors.Is(err, parser.ErrRSSIOnlyMessage):
		return "rssi_only"
	default:
		return "other"
	}
}
