package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
)

const (
	Manufacturer = "Makerspace Partheland e.V."

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// DiscoveryConfig is the retained per-entity announcement consumed by
// Home Assistant's MQTT discovery.
type DiscoveryConfig struct {
	Name              string          `json:"name"`
	UniqueID          string          `json:"unique_id"`
	ObjectID          string          `json:"object_id,omitempty"`
	StateTopic        string          `json:"state_topic"`
	ValueTemplate     string          `json:"value_template"`
	UnitOfMeasurement string          `json:"unit_of_measurement,omitempty"`
	DeviceClass       string          `json:"device_class,omitempty"`
	StateClass        string          `json:"state_class"`
	Icon              string          `json:"icon,omitempty"`
	Availability      []Availability  `json:"availability,omitempty"`
	AvailabilityMode  string          `json:"availability_mode,omitempty"`
	Device            DiscoveryDevice `json:"device"`
}

type Availability struct {
	Topic string `json:"topic"`
}

type DiscoveryDevice struct {
	Identifiers      []string `json:"identifiers"`
	Name             string   `json:"name"`
	Manufacturer     string   `json:"manufacturer"`
	Model            string   `json:"model"`
	ConfigurationURL string   `json:"configuration_url,omitempty"`
}

// Publisher is the slice of the MQTT client the entity service publishes
// through. *mq.Client implements it.
type Publisher interface {
	PublishJSON(topic string, data interface{}) error
	PublishRetainedRaw(topic string, payload []byte) error
}

// EntityService owns the outward-facing entity lifecycle: retained
// discovery configs, retained state documents and availability topics.
type EntityService struct {
	client  Publisher
	catalog *catalog.Catalog
	cfg     config.DiscoveryConfig
	logger  zerolog.Logger
}

func NewEntityService(client Publisher, cat *catalog.Catalog, cfg config.DiscoveryConfig, logger zerolog.Logger) *EntityService {
	return &EntityService{
		client:  client,
		catalog: cat,
		cfg:     cfg,
		logger:  logger,
	}
}

// AnnounceSelection publishes discovery configs for every selected device
// and median entity, and clears retained configs of catalog entries that
// are no longer selected, so deselected entities disappear downstream.
func (s *EntityService) AnnounceSelection(devices []catalog.Device, medians []catalog.MedianEntity) error {
	if !s.cfg.Enabled {
		return nil
	}

	selected := make(map[string][]string)

	for _, device := range devices {
		deviceType := catalog.DeviceTypeSpecial
		if device.Category == catalog.CategorySenseBox {
			deviceType = catalog.DeviceTypeSenseBox
		}
		if err := s.announceEntity(device.ID, device.Name, deviceType, device.Sensors, device.ExternalURLs); err != nil {
			return err
		}
		selected[device.ID] = device.Sensors
	}

	for _, median := range medians {
		if err := s.announceEntity(median.ID, median.Name, catalog.DeviceTypeMedian, median.Sensors, nil); err != nil {
			return err
		}
		selected[median.ID] = median.Sensors
	}

	if err := s.removeDeselected(selected); err != nil {
		return err
	}

	s.logger.Info().
		Int("devices", len(devices)).
		Int("medians", len(medians)).
		Msg("entity discovery configs announced")

	return nil
}

func (s *EntityService) announceEntity(deviceID, name, deviceType string, sensors []string, externalURLs map[string]string) error {
	if name == "" {
		name = deviceID
	}

	for _, field := range sensors {
		discovery := s.buildDiscovery(deviceID, name, deviceType, field, externalURLs)
		topic := s.discoveryTopic(deviceID, field)

		if err := s.client.PublishJSON(topic, discovery); err != nil {
			return fmt.Errorf("error announcing entity %s/%s: %w", deviceID, field, err)
		}
	}

	return nil
}

func (s *EntityService) buildDiscovery(deviceID, name, deviceType, field string, externalURLs map[string]string) DiscoveryConfig {
	configurationURL := externalURLs["makerspace"]
	if configurationURL == "" {
		configurationURL = externalURLs["openSenseMap"]
	}

	return DiscoveryConfig{
		Name:       field,
		UniqueID:   fmt.Sprintf("%s_%s", deviceID, field),
		ObjectID:   fmt.Sprintf("%s_%s", Slugify(name), Slugify(field)),
		StateTopic: s.StateTopic(deviceID),
		// Index syntax: field names like "PM2.5" are not valid template
		// attribute accessors.
		ValueTemplate:     fmt.Sprintf("{{ value_json['%s'] }}", field),
		UnitOfMeasurement: s.catalog.Unit(field),
		DeviceClass:       s.catalog.DeviceClass(field),
		StateClass:        "measurement",
		Icon:              s.catalog.Icon(field),
		Availability: []Availability{
			{Topic: s.cfg.AvailabilityTopic},
			{Topic: s.AvailabilityTopic(deviceID)},
		},
		AvailabilityMode: "all",
		Device: DiscoveryDevice{
			Identifiers:      []string{deviceID},
			Name:             name,
			Manufacturer:     Manufacturer,
			Model:            deviceType,
			ConfigurationURL: configurationURL,
		},
	}
}

// removeDeselected clears retained discovery configs for every catalog
// entry that is not part of the current selection.
func (s *EntityService) removeDeselected(selected map[string][]string) error {
	clear := func(deviceID string, sensors []string) error {
		if _, ok := selected[deviceID]; ok {
			return nil
		}
		for _, field := range sensors {
			topic := s.discoveryTopic(deviceID, field)
			if err := s.client.PublishRetainedRaw(topic, nil); err != nil {
				return fmt.Errorf("error removing entity %s/%s: %w", deviceID, field, err)
			}
		}
		s.logger.Debug().
			Str("device_id", deviceID).
			Msg("cleared retained discovery configs for deselected entity")
		return nil
	}

	for _, device := range s.catalog.AllDevices() {
		if err := clear(device.ID, device.Sensors); err != nil {
			return err
		}
	}
	for _, median := range s.catalog.MedianEntities {
		if err := clear(median.ID, median.Sensors); err != nil {
			return err
		}
	}

	return nil
}

// PublishState publishes the retained per-device state document read by
// the discovery value templates.
func (s *EntityService) PublishState(deviceID string, readings map[string]models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	state := make(map[string]interface{}, len(readings)+1)
	var newest time.Time
	for field, reading := range readings {
		state[field] = reading.Value
		if reading.Timestamp.After(newest) {
			newest = reading.Timestamp
		}
	}
	state["timestamp"] = newest.UTC().Format(time.RFC3339)

	if err := s.client.PublishJSON(s.StateTopic(deviceID), state); err != nil {
		return fmt.Errorf("error publishing state for %s: %w", deviceID, err)
	}

	return nil
}

// PublishAvailability flips a single entity's availability topic.
func (s *EntityService) PublishAvailability(deviceID string, online bool) {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}

	if err := s.client.PublishRetainedRaw(s.AvailabilityTopic(deviceID), []byte(payload)); err != nil {
		s.logger.Error().Err(err).
			Str("device_id", deviceID).
			Msg("could not publish availability")
	}
}

// PublishBridgeAvailability flips the bridge-level availability topic
// that all entities share; the same topic backs the MQTT last will.
func (s *EntityService) PublishBridgeAvailability(online bool) {
	payload := payloadOffline
	if online {
		payload = payloadOnline
	}

	if err := s.client.PublishRetainedRaw(s.cfg.AvailabilityTopic, []byte(payload)); err != nil {
		s.logger.Error().Err(err).Msg("could not publish bridge availability")
	}
}

func (s *EntityService) StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", s.cfg.StateTopicBase, Slugify(deviceID))
}

func (s *EntityService) AvailabilityTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s/availability", s.cfg.StateTopicBase, Slugify(deviceID))
}

func (s *EntityService) discoveryTopic(deviceID, field string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", s.cfg.Prefix, Slugify(deviceID), Slugify(field))
}

// Slugify lowercases and reduces a name to [a-z0-9_], the shape Home
// Assistant expects in object IDs and topic path elements.
func Slugify(value string) string {
	var b strings.Builder
	b.Grow(len(value))

	lastUnderscore := false
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r == 'ä':
			b.WriteString("a")
			lastUnderscore = false
		case r == 'ö':
			b.WriteString("o")
			lastUnderscore = false
		case r == 'ü':
			b.WriteString("u")
			lastUnderscore = false
		case r == 'ß':
			b.WriteString("ss")
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
