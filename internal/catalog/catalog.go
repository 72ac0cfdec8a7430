// Package catalog loads the static description of the Partheland sensor
// network: which stations exist, which fields they report, how fields map
// to units and device classes, and which per-location median entities can
// be derived from them.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	CategorySenseBox   = "senseBox"
	CategoryMedian     = "MedianEntities"
	DeviceTypeSenseBox = "sensebox"
	DeviceTypeSpecial  = "specialized"
	DeviceTypeMedian   = "median"

	MedianIDPrefix = "median_"
)

type Catalog struct {
	MQTT             MQTTSection         `json:"mqtt_config"`
	KnownDevices     map[string][]Device `json:"known_devices"`
	MedianEntities   []MedianEntity      `json:"median_entities"`
	SensorCategories map[string][]string `json:"sensor_categories"`
	FieldMapping     FieldMapping        `json:"field_mapping"`
	Parsing          ParsingSection      `json:"parsing"`
}

// MQTTSection carries the broker URL shipped with the catalog; the
// environment takes precedence when both are set.
type MQTTSection struct {
	BrokerURL string `json:"broker_url"`
}

type Device struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Location     string            `json:"location"`
	TopicPattern string            `json:"topic_pattern"`
	Sensors      []string          `json:"sensors"`
	ExternalURLs map[string]string `json:"external_urls,omitempty"`

	// Category is the known_devices key the device was listed under.
	// Filled during Load, not part of the file format.
	Category string `json:"-"`
}

type MedianEntity struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Location     string   `json:"location"`
	TopicPattern string   `json:"topic_pattern"`
	Stations     []string `json:"stations"`
	Sensors      []string `json:"sensors"`
}

type FieldMapping struct {
	Units         map[string]string `json:"units"`
	DeviceClasses map[string]string `json:"device_classes"`
	Icons         map[string]string `json:"icons"`
}

type ParsingSection struct {
	DataPath        string          `json:"data_path"`
	MedianDetection MedianDetection `json:"median_detection"`
	IgnoreRSSIOnly  *bool           `json:"ignore_rssi_only"`
}

type MedianDetection struct {
	TopicPattern string `json:"topic_pattern"`
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c.applyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	for category, devices := range c.KnownDevices {
		for i := range devices {
			devices[i].Category = category
		}
		c.KnownDevices[category] = devices
	}

	return &c, nil
}

func (c *Catalog) applyDefaults() {
	if c.Parsing.DataPath == "" {
		c.Parsing.DataPath = "fields"
	}
	if c.Parsing.MedianDetection.TopicPattern == "" {
		c.Parsing.MedianDetection.TopicPattern = "senseBox:home/median"
	}
	if c.Parsing.IgnoreRSSIOnly == nil {
		ignore := true
		c.Parsing.IgnoreRSSIOnly = &ignore
	}
}

func (c *Catalog) Validate() error {
	if len(c.KnownDevices) == 0 {
		return fmt.Errorf("known_devices is empty")
	}

	seen := make(map[string]struct{})
	for category, devices := range c.KnownDevices {
		for _, device := range devices {
			if device.ID == "" {
				return fmt.Errorf("device without id in category %s", category)
			}
			if device.TopicPattern == "" {
				return fmt.Errorf("device %s has no topic_pattern", device.ID)
			}
			if len(device.Sensors) == 0 {
				return fmt.Errorf("device %s has no sensors", device.ID)
			}
			if _, ok := seen[device.ID]; ok {
				return fmt.Errorf("duplicate device id %s", device.ID)
			}
			seen[device.ID] = struct{}{}
		}
	}

	for _, median := range c.MedianEntities {
		if median.ID == "" {
			return fmt.Errorf("median entity without id")
		}
		if median.Location == "" {
			return fmt.Errorf("median entity %s has no location", median.ID)
		}
		if len(median.Sensors) == 0 {
			return fmt.Errorf("median entity %s has no sensors", median.ID)
		}
		for _, stationID := range median.Stations {
			if _, ok := seen[stationID]; !ok {
				return fmt.Errorf("median entity %s references unknown station %s", median.ID, stationID)
			}
		}
	}

	return nil
}

func (c *Catalog) DeviceByID(deviceID string) (*Device, bool) {
	// senseBox devices take precedence when an ID exists in two categories.
	for _, device := range c.KnownDevices[CategorySenseBox] {
		if device.ID == deviceID {
			d := device
			return &d, true
		}
	}

	for category, devices := range c.KnownDevices {
		if category == CategorySenseBox {
			continue
		}
		for _, device := range devices {
			if device.ID == deviceID {
				d := device
				return &d, true
			}
		}
	}

	return nil, false
}

func (c *Catalog) DevicesByCategory(category string) []Device {
	return c.KnownDevices[category]
}

func (c *Catalog) AllDevices() []Device {
	var devices []Device
	devices = append(devices, c.KnownDevices[CategorySenseBox]...)
	for category, list := range c.KnownDevices {
		if category == CategorySenseBox {
			continue
		}
		devices = append(devices, list...)
	}
	return devices
}

func (c *Catalog) MedianByID(medianID string) (*MedianEntity, bool) {
	for _, median := range c.MedianEntities {
		if median.ID == medianID {
			m := median
			return &m, true
		}
	}
	return nil, false
}

// MedianByLocation resolves a location name as published on the median
// topics (senseBox:home/median/<Location>) to the configured entity. IDs
// of the form median_<Location> are accepted as well.
func (c *Catalog) MedianByLocation(locationOrID string) (*MedianEntity, bool) {
	for _, median := range c.MedianEntities {
		if median.ID == locationOrID || median.Location == locationOrID {
			m := median
			return &m, true
		}
		if strings.HasPrefix(locationOrID, MedianIDPrefix) &&
			median.Location == strings.TrimPrefix(locationOrID, MedianIDPrefix) {
			m := median
			return &m, true
		}
	}
	return nil, false
}

// DeviceType reports the parser-facing type for a known device ID.
func (c *Catalog) DeviceType(deviceID string) string {
	if _, ok := c.MedianByID(deviceID); ok {
		return DeviceTypeMedian
	}

	device, ok := c.DeviceByID(deviceID)
	if !ok {
		return ""
	}
	if device.Category == CategorySenseBox {
		return DeviceTypeSenseBox
	}
	return DeviceTypeSpecial
}

// SensorsForDevice returns the configured field whitelist for a device or
// median entity, or nil when the ID is unknown.
func (c *Catalog) SensorsForDevice(deviceID string) []string {
	if device, ok := c.DeviceByID(deviceID); ok {
		return device.Sensors
	}
	if median, ok := c.MedianByLocation(deviceID); ok {
		return median.Sensors
	}
	return nil
}

func (c *Catalog) Unit(field string) string {
	return c.FieldMapping.Units[field]
}

func (c *Catalog) DeviceClass(field string) string {
	return c.FieldMapping.DeviceClasses[field]
}

// Icon resolves an icon: device class mapping first, then the field's
// sensor category, then the configured default.
func (c *Catalog) Icon(field string) string {
	icons := c.FieldMapping.Icons

	if deviceClass := c.DeviceClass(field); deviceClass != "" {
		if icon, ok := icons[deviceClass]; ok {
			return icon
		}
	}

	for category, fields := range c.SensorCategories {
		for _, name := range fields {
			if name == field {
				if icon, ok := icons[category]; ok {
					return icon
				}
			}
		}
	}

	if icon, ok := icons["default"]; ok {
		return icon
	}
	return "mdi:eye"
}

// SelectedDevices applies the device selection from config. An empty
// selection selects every catalog device.
func (c *Catalog) SelectedDevices(ids []string) []Device {
	if len(ids) == 0 {
		return c.AllDevices()
	}

	var devices []Device
	for _, id := range ids {
		if device, ok := c.DeviceByID(id); ok {
			devices = append(devices, *device)
		}
	}
	return devices
}

// SelectedMedians applies the median selection from config. An empty
// selection selects every configured median entity.
func (c *Catalog) SelectedMedians(ids []string) []MedianEntity {
	if len(ids) == 0 {
		return c.MedianEntities
	}

	var medians []MedianEntity
	for _, id := range ids {
		if median, ok := c.MedianByID(id); ok {
			medians = append(medians, *median)
		}
	}
	return medians
}
