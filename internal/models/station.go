package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
)

// StringList is stored as jsonb so the sensor whitelist survives in the
// registry next to the station row.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var fieldBytes []byte
	switch v := value.(type) {
	case []byte:
		fieldBytes = v
	case string:
		fieldBytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}

	return json.Unmarshal(fieldBytes, l)
}

// Station is the registry row for a sensor station the bridge has been
// configured for. Online tracking follows the message flow: a station is
// marked offline when no message arrived within the configured timeout.
type Station struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	DeletedAt   *time.Time `gorm:"index" json:"deleted_at"`
	DeviceID    string     `gorm:"uniqueIndex;not null" json:"device_id"`
	Name        string     `json:"name"`
	Category    string     `gorm:"index" json:"category"`
	Location    string     `gorm:"index" json:"location"`
	Topic       string     `json:"topic"`
	Sensors     StringList `gorm:"type:jsonb" json:"sensors"`
	LastSeenAt  *time.Time `json:"last_seen_at"`
	Online      bool       `gorm:"index" json:"online"`
}

func (s *Station) IsValid() bool {
	return s.DeviceID != "" && s.Topic != ""
}

func (s *Station) Prepare() {
	if s.Name == "" {
		s.Name = s.DeviceID
	}
	if s.CreatedAt == nil {
		now := time.Now()
		s.CreatedAt = &now
	}
}

// StationFromCatalog builds a registry row from a catalog device entry.
func StationFromCatalog(device catalog.Device) *Station {
	return &Station{
		DeviceID: device.ID,
		Name:     device.Name,
		Category: device.Category,
		Location: device.Location,
		Topic:    device.TopicPattern,
		Sensors:  StringList(device.Sensors),
	}
}
