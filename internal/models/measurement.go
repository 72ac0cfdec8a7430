package models

import (
	"fmt"
	"time"
)

// Reading is the last-known value of a single field on a single device.
type Reading struct {
	Field     string    `json:"field"`
	Value     float64   `json:"value"`
	Unit      string    `json:"unit,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (r Reading) FreshAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.Timestamp) <= maxAge
}

// Measurement is the archive form of a reading, one InfluxDB point.
type Measurement struct {
	DeviceID   string    `json:"device_id"`
	DeviceType string    `json:"device_type"`
	Location   string    `json:"location,omitempty"`
	Field      string    `json:"field"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *Measurement) ToInfluxTags() map[string]string {
	tags := map[string]string{
		"device_id":   m.DeviceID,
		"device_type": m.DeviceType,
		"field":       m.Field,
	}

	if m.Unit != "" {
		tags["unit"] = m.Unit
	}
	if m.Location != "" {
		tags["location"] = m.Location
	}

	return tags
}

func (m *Measurement) ToInfluxFields() map[string]interface{} {
	return map[string]interface{}{
		"value": m.Value,
	}
}

func (m *Measurement) Validate() error {
	if m.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if m.DeviceType == "" {
		return fmt.Errorf("device_type is required")
	}
	if m.Field == "" {
		return fmt.Errorf("field is required")
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}
