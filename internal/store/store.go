// Package store keeps the last-known reading per device and field. It is
// the in-process equivalent of the coordinator data the entities read
// from: writes come from the broker handlers, reads from the median
// aggregator, the entity publisher and the status endpoint.
package store

import (
	"sync"
	"time"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
)

// UpdateListener is called after a device's readings changed. Listeners
// run on the caller's goroutine and must not call back into the store
// for the same device synchronously with long-running work.
type UpdateListener func(deviceID string, readings map[string]models.Reading)

type ReadingStore struct {
	mu        sync.RWMutex
	readings  map[string]map[string]models.Reading
	listeners []UpdateListener
	now       func() time.Time
}

func NewReadingStore() *ReadingStore {
	return &ReadingStore{
		readings: make(map[string]map[string]models.Reading),
		now:      time.Now,
	}
}

// AddListener registers a fan-out callback. Not safe to call concurrently
// with Apply; wire the listeners during startup.
func (s *ReadingStore) AddListener(listener UpdateListener) {
	s.listeners = append(s.listeners, listener)
}

// Apply overwrites the stored readings for the given fields and notifies
// the listeners. The broker is the source of truth; later messages always
// win.
func (s *ReadingStore) Apply(deviceID string, readings map[string]models.Reading) {
	if len(readings) == 0 {
		return
	}

	s.mu.Lock()
	device, ok := s.readings[deviceID]
	if !ok {
		device = make(map[string]models.Reading, len(readings))
		s.readings[deviceID] = device
	}
	for field, reading := range readings {
		device[field] = reading
	}
	updated := cloneReadings(device)
	s.mu.Unlock()

	for _, listener := range s.listeners {
		listener(deviceID, updated)
	}
}

// DeviceReadings returns a copy of the device's readings, or nil if the
// device has never reported.
func (s *ReadingStore) DeviceReadings(deviceID string) map[string]models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.readings[deviceID]
	if !ok {
		return nil
	}
	return cloneReadings(device)
}

// FreshReadings returns the device's readings not older than maxAge.
func (s *ReadingStore) FreshReadings(deviceID string, maxAge time.Duration) map[string]models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.readings[deviceID]
	if !ok {
		return nil
	}

	now := s.now()
	fresh := make(map[string]models.Reading)
	for field, reading := range device {
		if reading.FreshAt(now, maxAge) {
			fresh[field] = reading
		}
	}
	return fresh
}

// LastSeen reports the newest reading timestamp of a device.
func (s *ReadingStore) LastSeen(deviceID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.readings[deviceID]
	if !ok {
		return time.Time{}, false
	}

	var last time.Time
	for _, reading := range device {
		if reading.Timestamp.After(last) {
			last = reading.Timestamp
		}
	}
	return last, !last.IsZero()
}

// Snapshot returns a copy of the full store contents.
func (s *ReadingStore) Snapshot() map[string]map[string]models.Reading {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]map[string]models.Reading, len(s.readings))
	for deviceID, device := range s.readings {
		snapshot[deviceID] = cloneReadings(device)
	}
	return snapshot
}

// DeviceCount reports how many devices have reported at least once.
func (s *ReadingStore) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

func cloneReadings(device map[string]models.Reading) map[string]models.Reading {
	clone := make(map[string]models.Reading, len(device))
	for field, reading := range device {
		clone[field] = reading
	}
	return clone
}
