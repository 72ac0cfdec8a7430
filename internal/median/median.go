// Package median derives per-location aggregate values from the member
// stations' readings. The aggregate is fail-safe: one reporting station
// is enough to produce a value, and a field goes unavailable only when
// every member is stale or silent.
package median

import (
	"sort"
	"time"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/store"
)

// Median returns the median of values. Even counts average the two middle
// values. An empty slice returns ok=false.
func Median(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid], true
	}
	return (sorted[mid-1] + sorted[mid]) / 2, true
}

// Aggregator recomputes median entities from the reading store.
type Aggregator struct {
	store  *store.ReadingStore
	maxAge time.Duration
	now    func() time.Time
}

func NewAggregator(readingStore *store.ReadingStore, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		store:  readingStore,
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Compute derives the median readings for one entity. Fields whose member
// inputs are all stale or missing are absent from the result; an empty
// result means the entity is unavailable.
func (a *Aggregator) Compute(entity catalog.MedianEntity) map[string]models.Reading {
	inputs := make(map[string][]float64, len(entity.Sensors))
	for _, field := range entity.Sensors {
		inputs[field] = nil
	}

	for _, stationID := range entity.Stations {
		fresh := a.store.FreshReadings(stationID, a.maxAge)
		for field, reading := range fresh {
			if _, wanted := inputs[field]; wanted {
				inputs[field] = append(inputs[field], reading.Value)
			}
		}
	}

	now := a.now()
	readings := make(map[string]models.Reading)
	for field, values := range inputs {
		if value, ok := Median(values); ok {
			readings[field] = models.Reading{
				Field:     field,
				Value:     value,
				Timestamp: now,
			}
		}
	}
	return readings
}

// MembersOf reports which of the given median entities contain the
// station, so a station update only recomputes the affected locations.
func MembersOf(deviceID string, entities []catalog.MedianEntity) []catalog.MedianEntity {
	var affected []catalog.MedianEntity
	for _, entity := range entities {
		for _, stationID := range entity.Stations {
			if stationID == deviceID {
				affected = append(affected, entity)
				break
			}
		}
	}
	return affected
}
