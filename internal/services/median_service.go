package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/influx"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/median"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/metrics"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/store"
)

// MedianService recomputes the locally aggregated median entities
// whenever one of their member stations reports. Broker-precomputed
// medians (entities without configured member stations) bypass this
// service and flow through the measurement path directly.
type MedianService struct {
	aggregator    *median.Aggregator
	readingStore  *store.ReadingStore
	entityService *EntityService
	readingWriter *influx.ReadingWriter
	catalog       *catalog.Catalog
	entities      []catalog.MedianEntity
	refreshEvery  time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	mu        sync.Mutex
	available map[string]bool
}

func NewMedianService(
	aggregator *median.Aggregator,
	readingStore *store.ReadingStore,
	entityService *EntityService,
	readingWriter *influx.ReadingWriter,
	cat *catalog.Catalog,
	selected []catalog.MedianEntity,
	refreshEvery time.Duration,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MedianService {
	entities := make([]catalog.MedianEntity, 0, len(selected))
	for _, entity := range selected {
		if len(entity.Stations) > 0 {
			entities = append(entities, entity)
		}
	}

	return &MedianService{
		aggregator:    aggregator,
		readingStore:  readingStore,
		entityService: entityService,
		readingWriter: readingWriter,
		catalog:       cat,
		entities:      entities,
		refreshEvery:  refreshEvery,
		metrics:       m,
		logger:        logger,
	}
}

// Run re-evaluates member staleness on a fixed interval, so a median
// whose stations all went silent flips to unavailable even though no
// further messages arrive to trigger the store listener.
func (s *MedianService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshAvailability()
		}
	}
}

// refreshAvailability flips entities whose members are all stale to
// unavailable. Entities with fresh members are left alone, the store
// listener keeps their state current.
func (s *MedianService) refreshAvailability() {
	for _, entity := range s.entities {
		if len(s.aggregator.Compute(entity)) > 0 {
			continue
		}
		s.markUnavailable(entity)
	}
}

// LocalEntities returns the selected median entities this service
// aggregates locally.
func (s *MedianService) LocalEntities() []catalog.MedianEntity {
	return s.entities
}

// OnReadingsUpdated is registered as a reading-store listener. Updates
// for median IDs are ignored so applying a computed median does not
// recurse.
func (s *MedianService) OnReadingsUpdated(deviceID string, _ map[string]models.Reading) {
	if s.catalog.DeviceType(deviceID) == catalog.DeviceTypeMedian {
		return
	}

	for _, entity := range median.MembersOf(deviceID, s.entities) {
		s.recompute(entity)
	}
}

func (s *MedianService) recompute(entity catalog.MedianEntity) {
	readings := s.aggregator.Compute(entity)

	if len(readings) == 0 {
		// Fail-safe boundary: every member is stale, the median entity
		// itself goes unavailable.
		s.markUnavailable(entity)
		return
	}

	for field, reading := range readings {
		reading.Unit = s.catalog.Unit(field)
		readings[field] = reading
	}

	s.readingStore.Apply(entity.ID, readings)

	if err := s.entityService.PublishState(entity.ID, readings); err != nil {
		s.logger.Error().Err(err).
			Str("median_id", entity.ID).
			Msg("could not publish median state")
	}

	if s.markAvailable(entity.ID, true) {
		s.entityService.PublishAvailability(entity.ID, true)
	}

	s.archive(entity, readings)

	if s.metrics != nil {
		s.metrics.MediansComputed.Inc()
	}

	s.logger.Debug().
		Str("median_id", entity.ID).
		Str("location", entity.Location).
		Int("fields", len(readings)).
		Msg("median recomputed")
}

func (s *MedianService) archive(entity catalog.MedianEntity, readings map[string]models.Reading) {
	if s.readingWriter == nil {
		return
	}

	for field, reading := range readings {
		measurement := &models.Measurement{
			DeviceID:   entity.ID,
			DeviceType: catalog.DeviceTypeMedian,
			Location:   entity.Location,
			Field:      field,
			Value:      reading.Value,
			Unit:       reading.Unit,
			Timestamp:  reading.Timestamp,
		}

		if err := s.readingWriter.WriteMeasurement(measurement); err != nil {
			s.logger.Error().Err(err).
				Str("median_id", entity.ID).
				Str("field", field).
				Msg("could not archive median reading")
			continue
		}

		if s.metrics != nil {
			s.metrics.PointsWritten.Inc()
		}
	}
}

func (s *MedianService) markUnavailable(entity catalog.MedianEntity) {
	if !s.markAvailable(entity.ID, false) {
		return
	}

	s.entityService.PublishAvailability(entity.ID, false)
	s.logger.Warn().
		Str("median_id", entity.ID).
		Str("location", entity.Location).
		Msg("no fresh member readings, median unavailable")
}

// markAvailable records the availability state and reports whether it
// changed. The first observation always counts as a change so the
// initial availability gets published.
func (s *MedianService) markAvailable(medianID string, available bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.available == nil {
		s.available = make(map[string]bool)
	}

	previous, seen := s.available[medianID]
	s.available[medianID] = available
	return !seen || previous != available
}
