// Package parser turns raw broker payloads into typed readings. It is
// deliberately free of transport and storage concerns: input is a topic
// and a byte payload, output is a ParsedMessage or an error.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq"
)

var (
	ErrEmptyPayload    = errors.New("empty payload")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrUnknownTopic    = errors.New("unknown topic")
	ErrUnknownDevice   = errors.New("device not configured")
	ErrNoReadings      = errors.New("no configured readings in message")
	ErrRSSIOnlyMessage = errors.New("rssi-only message")
)

// ParsedMessage is the typed result of one broker message.
type ParsedMessage struct {
	DeviceID   string
	DeviceType string
	Topic      string
	Readings   map[string]float64
	IsMedian   bool
}

type Parser struct {
	catalog      *catalog.Catalog
	topicManager *mq.TopicManager
	logger       zerolog.Logger
}

func NewParser(cat *catalog.Catalog, topicManager *mq.TopicManager, logger zerolog.Logger) *Parser {
	return &Parser{
		catalog:      cat,
		topicManager: topicManager,
		logger:       logger,
	}
}

// Parse validates and decodes a message. Messages for unselected sensors
// or without any configured numeric field return ErrNoReadings; the
// caller decides whether that is worth logging.
func (p *Parser) Parse(topic string, payload []byte) (*ParsedMessage, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if !utf8.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid UTF-8: %w", ErrInvalidPayload)
	}
	if !p.topicManager.IsValid(topic) {
		return nil, fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", ErrInvalidPayload)
	}

	switch p.topicManager.Classify(topic) {
	case mq.TopicTypeMedian:
		return p.parseMedian(topic, data)
	case mq.TopicTypeSenseBox:
		return p.parseSenseBox(topic, data)
	case mq.TopicTypeSpecialized:
		return p.parseSpecialized(topic, data)
	default:
		return nil, fmt.Errorf("topic %s: %w", topic, ErrUnknownTopic)
	}
}

func (p *Parser) parseSenseBox(topic string, data map[string]json.RawMessage) (*ParsedMessage, error) {
	deviceID, err := p.topicManager.ExtractDeviceID(topic)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrUnknownTopic)
	}

	device, ok := p.catalog.DeviceByID(deviceID)
	if !ok || device.Category != catalog.CategorySenseBox {
		return nil, fmt.Errorf("senseBox %s: %w", deviceID, ErrUnknownDevice)
	}

	fields, err := p.fieldsAt(data, p.catalog.Parsing.DataPath)
	if err != nil {
		return nil, err
	}

	readings := filterNumeric(fields, device.Sensors)
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	return &ParsedMessage{
		DeviceID:   deviceID,
		DeviceType: catalog.DeviceTypeSenseBox,
		Topic:      topic,
		Readings:   readings,
	}, nil
}

// parseMedian handles broker-precomputed medians. The topic carries the
// location name; it is mapped to the configured median entity ID. Median
// payloads have their fields at the root level, not under a fields key.
func (p *Parser) parseMedian(topic string, data map[string]json.RawMessage) (*ParsedMessage, error) {
	location, err := p.topicManager.ExtractDeviceID(topic)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrUnknownTopic)
	}

	median, ok := p.catalog.MedianByLocation(location)
	if !ok {
		return nil, fmt.Errorf("median location %s: %w", location, ErrUnknownDevice)
	}

	fields := decodeNumeric(data)

	readings := filterNumeric(fields, median.Sensors)
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	return &ParsedMessage{
		DeviceID:   median.ID,
		DeviceType: catalog.DeviceTypeMedian,
		Topic:      topic,
		Readings:   readings,
		IsMedian:   true,
	}, nil
}

func (p *Parser) parseSpecialized(topic string, data map[string]json.RawMessage) (*ParsedMessage, error) {
	deviceID, err := p.topicManager.ExtractDeviceID(topic)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrUnknownTopic)
	}

	device, ok := p.catalog.DeviceByID(deviceID)
	if !ok || device.Category == catalog.CategorySenseBox {
		return nil, fmt.Errorf("sensor %s: %w", deviceID, ErrUnknownDevice)
	}

	fields, err := p.fieldsAt(data, p.catalog.Parsing.DataPath)
	if err != nil {
		return nil, err
	}

	if p.ignoreRSSIOnly() && isRSSIOnly(fields) {
		return nil, ErrRSSIOnlyMessage
	}

	readings := filterNumeric(fields, device.Sensors)
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	return &ParsedMessage{
		DeviceID:   deviceID,
		DeviceType: catalog.DeviceTypeSpecial,
		Topic:      topic,
		Readings:   readings,
	}, nil
}

func (p *Parser) fieldsAt(data map[string]json.RawMessage, path string) (map[string]float64, error) {
	raw, ok := data[path]
	if !ok {
		return nil, fmt.Errorf("no %q object in payload: %w", path, ErrInvalidPayload)
	}

	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("%q is not an object: %w", path, ErrInvalidPayload)
	}

	return decodeNumeric(nested), nil
}

func (p *Parser) ignoreRSSIOnly() bool {
	if p.catalog.Parsing.IgnoreRSSIOnly == nil {
		return true
	}
	return *p.catalog.Parsing.IgnoreRSSIOnly
}

// decodeNumeric keeps the numeric members of a JSON object and drops
// everything else (strings, booleans, nested structures).
func decodeNumeric(data map[string]json.RawMessage) map[string]float64 {
	fields := make(map[string]float64, len(data))
	for name, raw := range data {
		var value float64
		if err := json.Unmarshal(raw, &value); err == nil {
			fields[name] = value
		}
	}
	return fields
}

func filterNumeric(fields map[string]float64, configured []string) map[string]float64 {
	allowed := make(map[string]struct{}, len(configured))
	for _, name := range configured {
		allowed[name] = struct{}{}
	}

	readings := make(map[string]float64)
	for name, value := range fields {
		if _, ok := allowed[name]; ok {
			readings[name] = value
		}
	}
	return readings
}

// isRSSIOnly reports whether every field of a LoRaWAN uplink is radio
// metadata. Such messages carry no sensor data and are dropped.
func isRSSIOnly(fields map[string]float64) bool {
	if len(fields) == 0 {
		return false
	}

	sawRSSI := false
	for name := range fields {
		if strings.Contains(strings.ToLower(name), "rssi") {
			sawRSSI = true
		} else {
			return false
		}
	}
	return sawRSSI
}
