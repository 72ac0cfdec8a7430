package parser

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq"
)

const testCatalogJSON = `{
  "known_devices": {
    "senseBox": [
      {
        "id": "Naunhof_Nr1",
        "name": "senseBox Naunhof Nr. 1",
        "location": "Naunhof",
        "topic_pattern": "senseBox:home/Naunhof_Nr1",
        "sensors": ["Temperatur", "rel. Luftfeuchte", "PM2.5"]
      }
    ],
    "Wasserstand": [
      {
        "id": "Pegel_Parthe",
        "name": "Pegel Parthe",
        "location": "Naunhof",
        "topic_pattern": "sensoren/Pegel_Parthe",
        "sensors": ["Wasserstand", "Batterie"]
      }
    ]
  },
  "median_entities": [
    {
      "id": "median_Naunhof",
      "name": "Median Naunhof",
      "location": "Naunhof",
      "topic_pattern": "senseBox:home/median/Naunhof",
      "stations": ["Naunhof_Nr1"],
      "sensors": ["Temperatur", "PM2.5"]
    }
  ]
}`

func testParser(t *testing.T) *Parser {
	t.Helper()

	cat, err := catalog.Parse([]byte(testCatalogJSON))
	if err != nil {
		t.Fatalf("catalog.Parse failed: %v", err)
	}

	manager := mq.NewTopicManager(cat.Parsing.MedianDetection.TopicPattern, zerolog.Nop())
	return NewParser(cat, manager, zerolog.Nop())
}

func TestParseSenseBox(t *testing.T) {
	p := testParser(t)

	payload := `{"fields": {"Temperatur": 21.5, "rel. Luftfeuchte": 63, "PM2.5": 4.2, "Unbekannt": 1, "Status": "ok"}}`
	msg, err := p.Parse("senseBox:home/Naunhof_Nr1", []byte(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.DeviceID != "Naunhof_Nr1" {
		t.Errorf("Expected device Naunhof_Nr1, got %s", msg.DeviceID)
	}
	if msg.DeviceType != catalog.DeviceTypeSenseBox {
		t.Errorf("Expected device type %s, got %s", catalog.DeviceTypeSenseBox, msg.DeviceType)
	}
	if msg.IsMedian {
		t.Error("Expected IsMedian to be false")
	}
	if len(msg.Readings) != 3 {
		t.Errorf("Expected 3 readings, got %d: %v", len(msg.Readings), msg.Readings)
	}
	if msg.Readings["Temperatur"] != 21.5 {
		t.Errorf("Expected Temperatur 21.5, got %f", msg.Readings["Temperatur"])
	}
	if _, ok := msg.Readings["Unbekannt"]; ok {
		t.Error("Expected unconfigured field to be dropped")
	}
}

func TestParseMedian(t *testing.T) {
	p := testParser(t)

	// Median payloads carry their fields at the root level.
	payload := `{"Temperatur": 20.1, "PM2.5": 3.9, "rel. Luftfeuchte": 70}`
	msg, err := p.Parse("senseBox:home/median/Naunhof", []byte(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.DeviceID != "median_Naunhof" {
		t.Errorf("Expected location to map to median_Naunhof, got %s", msg.DeviceID)
	}
	if !msg.IsMedian {
		t.Error("Expected IsMedian to be true")
	}
	if len(msg.Readings) != 2 {
		t.Errorf("Expected 2 readings, got %d: %v", len(msg.Readings), msg.Readings)
	}
}

func TestParseSpecialized(t *testing.T) {
	p := testParser(t)

	payload := `{"fields": {"Wasserstand": 42, "Batterie": 3.6, "rssi": -97}}`
	msg, err := p.Parse("sensoren/Pegel_Parthe", []byte(payload))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if msg.DeviceType != catalog.DeviceTypeSpecial {
		t.Errorf("Expected device type %s, got %s", catalog.DeviceTypeSpecial, msg.DeviceType)
	}
	if len(msg.Readings) != 2 {
		t.Errorf("Expected rssi to be filtered, got %v", msg.Readings)
	}
}

func TestParseErrors(t *testing.T) {
	p := testParser(t)

	testCases := []struct {
		name     string
		topic    string
		payload  string
		expected error
	}{
		{
			name:     "empty payload",
			topic:    "senseBox:home/Naunhof_Nr1",
			payload:  "",
			expected: ErrEmptyPayload,
		},
		{
			name:     "not json",
			topic:    "senseBox:home/Naunhof_Nr1",
			payload:  "not json",
			expected: ErrInvalidPayload,
		},
		{
			name:     "json array",
			topic:    "senseBox:home/Naunhof_Nr1",
			payload:  `[1, 2, 3]`,
			expected: ErrInvalidPayload,
		},
		{
			name:     "unknown topic shape",
			topic:    "something/else/entirely",
			payload:  `{"fields": {"Temperatur": 1}}`,
			expected: ErrUnknownTopic,
		},
		{
			name:     "unconfigured device",
			topic:    "senseBox:home/Leipzig_Nr9",
			payload:  `{"fields": {"Temperatur": 1}}`,
			expected: ErrUnknownDevice,
		},
		{
			name:     "specialized topic with sensebox device",
			topic:    "sensoren/Naunhof_Nr1",
			payload:  `{"fields": {"Temperatur": 1}}`,
			expected: ErrUnknownDevice,
		},
		{
			name:     "missing fields object",
			topic:    "senseBox:home/Naunhof_Nr1",
			payload:  `{"Temperatur": 1}`,
			expected: ErrInvalidPayload,
		},
		{
			name:     "no configured readings",
			topic:    "senseBox:home/Naunhof_Nr1",
			payload:  `{"fields": {"Unbekannt": 1}}`,
			expected: ErrNoReadings,
		},
		{
			name:     "rssi only uplink",
			topic:    "sensoren/Pegel_Parthe",
			payload:  `{"fields": {"rssi": -101, "RSSI_max": -95}}`,
			expected: ErrRSSIOnlyMessage,
		},
		{
			name:     "unknown median location",
			topic:    "senseBox:home/median/Brandis",
			payload:  `{"Temperatur": 1}`,
			expected: ErrUnknownDevice,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(tc.topic, []byte(tc.payload))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, tc.expected) {
				t.Errorf("Expected %v, got %v", tc.expected, err)
			}
		})
	}
}
