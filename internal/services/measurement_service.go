package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/influx"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/metrics"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/parser"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/store"
)

// MeasurementService turns parsed broker messages into stored readings,
// registry updates, published entity state and archived data points.
type MeasurementService struct {
	readingStore   *store.ReadingStore
	stationService *StationService
	entityService  *EntityService
	readingWriter  *influx.ReadingWriter
	catalog        *catalog.Catalog
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	now            func() time.Time

	// Median IDs aggregated locally; broker-published payloads for
	// these are dropped so the two sources cannot fight over state.
	localMedians map[string]bool
}

func NewMeasurementService(
	readingStore *store.ReadingStore,
	stationService *StationService,
	entityService *EntityService,
	readingWriter *influx.ReadingWriter,
	cat *catalog.Catalog,
	localMedians []catalog.MedianEntity,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MeasurementService {
	local := make(map[string]bool, len(localMedians))
	for _, entity := range localMedians {
		local[entity.ID] = true
	}

	return &MeasurementService{
		readingStore:   readingStore,
		stationService: stationService,
		entityService:  entityService,
		readingWriter:  readingWriter,
		catalog:        cat,
		metrics:        m,
		logger:         logger,
		now:            time.Now,
		localMedians:   local,
	}
}

// ProcessParsed stores the readings of a parsed message and fans them
// out to the registry, the entity publisher and the archive.
func (s *MeasurementService) ProcessParsed(ctx context.Context, msg *parser.ParsedMessage) error {
	if msg.IsMedian && s.localMedians[msg.DeviceID] {
		s.logger.Debug().
			Str("device_id", msg.DeviceID).
			Msg("broker median ignored, entity is aggregated locally")
		return nil
	}

	now := s.now()
	readings := make(map[string]models.Reading, len(msg.Readings))
	for field, value := range msg.Readings {
		readings[field] = models.Reading{
			Field:     field,
			Value:     value,
			Unit:      s.catalog.Unit(field),
			Timestamp: now,
		}
	}

	s.readingStore.Apply(msg.DeviceID, readings)

	if !msg.IsMedian {
		if err := s.stationService.MarkSeen(ctx, msg.DeviceID, now); err != nil {
			s.logger.Error().Err(err).
				Str("device_id", msg.DeviceID).
				Msg("could not update station registry")
		}
	}

	if err := s.entityService.PublishState(msg.DeviceID, readings); err != nil {
		s.logger.Error().Err(err).
			Str("device_id", msg.DeviceID).
			Msg("could not publish entity state")
	}

	if msg.IsMedian {
		s.entityService.PublishAvailability(msg.DeviceID, true)
	}

	s.archive(msg, readings)

	if s.metrics != nil {
		s.metrics.ReadingsApplied.Add(float64(len(readings)))
	}

	s.logger.Debug().
		Str("device_id", msg.DeviceID).
		Str("device_type", msg.DeviceType).
		Int("fields", len(readings)).
		Msg("readings processed")

	return nil
}

func (s *MeasurementService) archive(msg *parser.ParsedMessage, readings map[string]models.Reading) {
	if s.readingWriter == nil {
		return
	}

	location := s.locationOf(msg)

	for field, reading := range readings {
		measurement := &models.Measurement{
			DeviceID:   msg.DeviceID,
			DeviceType: msg.DeviceType,
			Location:   location,
			Field:      field,
			Value:      reading.Value,
			Unit:       reading.Unit,
			Timestamp:  reading.Timestamp,
		}

		if err := s.readingWriter.WriteMeasurement(measurement); err != nil {
			s.logger.Error().Err(err).
				Str("device_id", msg.DeviceID).
				Str("field", field).
				Msg("could not archive reading")
			continue
		}

		if s.metrics != nil {
			s.metrics.PointsWritten.Inc()
		}
	}
}

func (s *MeasurementService) locationOf(msg *parser.ParsedMessage) string {
	if msg.IsMedian {
		if entity, ok := s.catalog.MedianByID(msg.DeviceID); ok {
			return entity.Location
		}
		return ""
	}
	if device, ok := s.catalog.DeviceByID(msg.DeviceID); ok {
		return device.Location
	}
	return ""
}
