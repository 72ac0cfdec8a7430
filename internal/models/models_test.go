package models

import (
	"testing"
	"time"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
)

func TestReadingFreshAt(t *testing.T) {
	now := time.Now()
	maxAge := 15 * time.Minute

	testCases := []struct {
		name     string
		age      time.Duration
		expected bool
	}{
		{name: "just arrived", age: 0, expected: true},
		{name: "within max age", age: 10 * time.Minute, expected: true},
		{name: "exactly max age", age: 15 * time.Minute, expected: true},
		{name: "stale", age: 16 * time.Minute, expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := Reading{Field: "Temperatur", Value: 20, Timestamp: now.Add(-tc.age)}
			if got := r.FreshAt(now, maxAge); got != tc.expected {
				t.Errorf("Expected fresh=%v, got %v", tc.expected, got)
			}
		})
	}
}

func TestMeasurementValidate(t *testing.T) {
	valid := Measurement{
		DeviceID:   "Naunhof_Nr1",
		DeviceType: "sensebox",
		Field:      "Temperatur",
		Value:      20,
		Timestamp:  time.Now(),
	}

	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid measurement, got %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(m *Measurement)
	}{
		{name: "missing device id", mutate: func(m *Measurement) { m.DeviceID = "" }},
		{name: "missing device type", mutate: func(m *Measurement) { m.DeviceType = "" }},
		{name: "missing field", mutate: func(m *Measurement) { m.Field = "" }},
		{name: "missing timestamp", mutate: func(m *Measurement) { m.Timestamp = time.Time{} }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := valid
			tc.mutate(&m)
			if err := m.Validate(); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestMeasurementInfluxTags(t *testing.T) {
	m := Measurement{
		DeviceID:   "Naunhof_Nr1",
		DeviceType: "sensebox",
		Location:   "Naunhof",
		Field:      "Temperatur",
		Unit:       "°C",
	}

	tags := m.ToInfluxTags()
	if tags["device_id"] != "Naunhof_Nr1" || tags["location"] != "Naunhof" || tags["unit"] != "°C" {
		t.Errorf("Unexpected tags %v", tags)
	}

	m.Location = ""
	m.Unit = ""
	tags = m.ToInfluxTags()
	if _, ok := tags["location"]; ok {
		t.Error("Expected empty location to be omitted")
	}
	if _, ok := tags["unit"]; ok {
		t.Error("Expected empty unit to be omitted")
	}
}

func TestStringListScan(t *testing.T) {
	var l StringList
	if err := l.Scan([]byte(`["Temperatur","PM10"]`)); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(l) != 2 || l[0] != "Temperatur" {
		t.Errorf("Unexpected list %v", l)
	}

	var fromString StringList
	if err := fromString.Scan(`["Wasserstand"]`); err != nil {
		t.Fatalf("Scan from string failed: %v", err)
	}
	if len(fromString) != 1 {
		t.Errorf("Unexpected list %v", fromString)
	}

	var fromNil StringList
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan from nil failed: %v", err)
	}
	if fromNil != nil {
		t.Errorf("Expected nil list, got %v", fromNil)
	}

	if err := l.Scan(42); err == nil {
		t.Error("Expected error for unsupported type")
	}
}

func TestStationFromCatalog(t *testing.T) {
	device := catalog.Device{
		ID:           "Pegel_Parthe",
		Name:         "Pegel Parthe",
		Location:     "Naunhof",
		TopicPattern: "sensoren/Pegel_Parthe",
		Sensors:      []string{"Wasserstand"},
		Category:     "Wasserstand",
	}

	station := StationFromCatalog(device)
	station.Prepare()

	if !station.IsValid() {
		t.Error("Expected station to be valid")
	}
	if station.Topic != "sensoren/Pegel_Parthe" {
		t.Errorf("Unexpected topic %s", station.Topic)
	}
	if station.Category != "Wasserstand" {
		t.Errorf("Unexpected category %s", station.Category)
	}

	unnamed := StationFromCatalog(catalog.Device{ID: "X", TopicPattern: "sensoren/X"})
	unnamed.Prepare()
	if unnamed.Name != "X" {
		t.Errorf("Expected name to default to device ID, got %s", unnamed.Name)
	}
}
