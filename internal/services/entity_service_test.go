package services

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
)

const testCatalogJSON = `{
  "known_devices": {
    "senseBox": [
      {
        "id": "Naunhof_Nr1",
        "name": "senseBox Naunhof Nr. 1",
        "location": "Naunhof",
        "topic_pattern": "senseBox:home/Naunhof_Nr1",
        "sensors": ["Temperatur", "PM2.5"],
        "external_urls": {
          "openSenseMap": "https://opensensemap.org/explore/abc",
          "makerspace": "https://www.makerspace-partheland.de/sensoren/naunhof-nr1"
        }
      },
      {
        "id": "Brandis_Nr1",
        "name": "senseBox Brandis Nr. 1",
        "location": "Brandis",
        "topic_pattern": "senseBox:home/Brandis_Nr1",
        "sensors": ["Temperatur"]
      }
    ]
  },
  "median_entities": [
    {
      "id": "median_Naunhof",
      "name": "Median Naunhof",
      "location": "Naunhof",
      "topic_pattern": "senseBox:home/median/Naunhof",
      "stations": ["Naunhof_Nr1", "Brandis_Nr1"],
      "sensors": ["Temperatur"]
    }
  ],
  "field_mapping": {
    "units": {"Temperatur": "°C", "PM2.5": "µg/m³"},
    "device_classes": {"Temperatur": "temperature", "PM2.5": "pm25"},
    "icons": {"temperature": "mdi:thermometer", "default": "mdi:eye"}
  }
}`

// fakePublisher records outgoing publishes in place of the MQTT client.
type fakePublisher struct {
	json     []publishedMessage
	retained []publishedMessage
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func (f *fakePublisher) PublishJSON(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.json = append(f.json, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) PublishRetainedRaw(topic string, payload []byte) error {
	f.retained = append(f.retained, publishedMessage{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) retainedPayload(topic string) ([]byte, bool) {
	for i := len(f.retained) - 1; i >= 0; i-- {
		if f.retained[i].topic == topic {
			return f.retained[i].payload, true
		}
	}
	return nil, false
}

func testEntityService(t *testing.T, pub Publisher) *EntityService {
	t.Helper()

	cat, err := catalog.Parse([]byte(testCatalogJSON))
	if err != nil {
		t.Fatalf("catalog.Parse failed: %v", err)
	}

	cfg := config.DiscoveryConfig{
		Enabled:           true,
		Prefix:            "homeassistant",
		StateTopicBase:    "partheland/bridge",
		AvailabilityTopic: "partheland/bridge/status",
	}

	return NewEntityService(pub, cat, cfg, zerolog.Nop())
}

func TestSlugify(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"Naunhof_Nr1", "naunhof_nr1"},
		{"rel. Luftfeuchte", "rel_luftfeuchte"},
		{"PM2.5", "pm2_5"},
		{"Beleuchtungsstärke", "beleuchtungsstarke"},
		{"Straße  Süd", "strasse_sud"},
		{"median_Naunhof", "median_naunhof"},
		{"--Lärm--", "larm"},
	}

	for _, tc := range testCases {
		if got := Slugify(tc.input); got != tc.expected {
			t.Errorf("Slugify(%q): expected %q, got %q", tc.input, tc.expected, got)
		}
	}
}

func TestTopics(t *testing.T) {
	s := testEntityService(t, nil)

	if got := s.StateTopic("Naunhof_Nr1"); got != "partheland/bridge/naunhof_nr1/state" {
		t.Errorf("Unexpected state topic %s", got)
	}
	if got := s.AvailabilityTopic("median_Naunhof"); got != "partheland/bridge/median_naunhof/availability" {
		t.Errorf("Unexpected availability topic %s", got)
	}
	if got := s.discoveryTopic("Naunhof_Nr1", "PM2.5"); got != "homeassistant/sensor/naunhof_nr1/pm2_5/config" {
		t.Errorf("Unexpected discovery topic %s", got)
	}
}

func TestBuildDiscovery(t *testing.T) {
	s := testEntityService(t, nil)

	device, ok := s.catalog.DeviceByID("Naunhof_Nr1")
	if !ok {
		t.Fatal("Expected device in fixture")
	}

	discovery := s.buildDiscovery(device.ID, device.Name, catalog.DeviceTypeSenseBox, "PM2.5", device.ExternalURLs)

	if discovery.UniqueID != "Naunhof_Nr1_PM2.5" {
		t.Errorf("Unexpected unique ID %s", discovery.UniqueID)
	}
	if discovery.ObjectID != "sensebox_naunhof_nr_1_pm2_5" {
		t.Errorf("Unexpected object ID %s", discovery.ObjectID)
	}
	if discovery.ValueTemplate != "{{ value_json['PM2.5'] }}" {
		t.Errorf("Unexpected value template %s", discovery.ValueTemplate)
	}
	if discovery.UnitOfMeasurement != "µg/m³" {
		t.Errorf("Unexpected unit %s", discovery.UnitOfMeasurement)
	}
	if discovery.StateTopic != "partheland/bridge/naunhof_nr1/state" {
		t.Errorf("Unexpected state topic %s", discovery.StateTopic)
	}
	if discovery.StateClass != "measurement" {
		t.Errorf("Unexpected state class %s", discovery.StateClass)
	}

	if len(discovery.Availability) != 2 {
		t.Fatalf("Expected bridge and device availability, got %v", discovery.Availability)
	}
	if discovery.Availability[0].Topic != "partheland/bridge/status" {
		t.Errorf("Unexpected bridge availability topic %s", discovery.Availability[0].Topic)
	}
	if discovery.AvailabilityMode != "all" {
		t.Errorf("Unexpected availability mode %s", discovery.AvailabilityMode)
	}

	if discovery.Device.Manufacturer != Manufacturer {
		t.Errorf("Unexpected manufacturer %s", discovery.Device.Manufacturer)
	}
	// The makerspace page wins over openSenseMap when both are configured.
	if discovery.Device.ConfigurationURL != "https://www.makerspace-partheland.de/sensoren/naunhof-nr1" {
		t.Errorf("Unexpected configuration URL %s", discovery.Device.ConfigurationURL)
	}
}

func TestAnnounceSelectionClearsDeselected(t *testing.T) {
	pub := &fakePublisher{}
	s := testEntityService(t, pub)

	device, ok := s.catalog.DeviceByID("Naunhof_Nr1")
	if !ok {
		t.Fatal("Expected device in fixture")
	}

	if err := s.AnnounceSelection([]catalog.Device{*device}, nil); err != nil {
		t.Fatalf("AnnounceSelection failed: %v", err)
	}

	announced := make(map[string]bool)
	for _, msg := range pub.json {
		announced[msg.topic] = true
	}
	for _, topic := range []string{
		"homeassistant/sensor/naunhof_nr1/temperatur/config",
		"homeassistant/sensor/naunhof_nr1/pm2_5/config",
	} {
		if !announced[topic] {
			t.Errorf("Expected discovery config on %s", topic)
		}
	}

	// Deselected catalog entries get their retained configs cleared with
	// an empty payload.
	for _, topic := range []string{
		"homeassistant/sensor/brandis_nr1/temperatur/config",
		"homeassistant/sensor/median_naunhof/temperatur/config",
	} {
		payload, cleared := pub.retainedPayload(topic)
		if !cleared {
			t.Errorf("Expected retained config on %s to be cleared", topic)
			continue
		}
		if len(payload) != 0 {
			t.Errorf("Expected empty clearing payload on %s, got %q", topic, payload)
		}
	}

	if _, cleared := pub.retainedPayload("homeassistant/sensor/naunhof_nr1/pm2_5/config"); cleared {
		t.Error("Selected device config must not be cleared")
	}
}

func TestPublishAvailability(t *testing.T) {
	pub := &fakePublisher{}
	s := testEntityService(t, pub)

	topic := "partheland/bridge/median_naunhof/availability"

	s.PublishAvailability("median_Naunhof", true)
	if payload, ok := pub.retainedPayload(topic); !ok || string(payload) != "online" {
		t.Errorf("Expected retained online payload, got %q", payload)
	}

	s.PublishAvailability("median_Naunhof", false)
	if payload, _ := pub.retainedPayload(topic); string(payload) != "offline" {
		t.Errorf("Expected retained offline payload, got %q", payload)
	}
}
