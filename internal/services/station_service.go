package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/postgres/repositories"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
)

// StationService keeps the Postgres registry in line with the configured
// selection and tracks per-station liveness from the message flow.
type StationService struct {
	stationRepository *repositories.StationRepository
	entityService     *EntityService
	timeout           time.Duration
	sweepInterval     time.Duration
	logger            zerolog.Logger
}

func NewStationService(
	stationRepository *repositories.StationRepository,
	entityService *EntityService,
	timeout time.Duration,
	sweepInterval time.Duration,
	logger zerolog.Logger,
) *StationService {
	return &StationService{
		stationRepository: stationRepository,
		entityService:     entityService,
		timeout:           timeout,
		sweepInterval:     sweepInterval,
		logger:            logger,
	}
}

// SyncSelection upserts registry rows for the selected devices and removes
// rows of stations that fell out of the selection. Runs at startup, which
// is the moment configuration changes take effect.
func (s *StationService) SyncSelection(ctx context.Context, devices []catalog.Device) error {
	selectedIDs := make([]string, 0, len(devices))

	for _, device := range devices {
		station := models.StationFromCatalog(device)
		station.Prepare()

		if !station.IsValid() {
			return fmt.Errorf("catalog device %s is not a valid station", device.ID)
		}

		if err := s.stationRepository.CreateOrUpdate(ctx, station); err != nil {
			return fmt.Errorf("error saving station %s to registry: %w", device.ID, err)
		}
		selectedIDs = append(selectedIDs, device.ID)
	}

	removed, err := s.stationRepository.DeleteNotIn(ctx, selectedIDs)
	if err != nil {
		return fmt.Errorf("error removing deselected stations: %w", err)
	}
	if removed > 0 {
		s.logger.Info().
			Int64("removed", removed).
			Msg("removed deselected stations from registry")
	}

	s.logger.Info().
		Int("stations", len(selectedIDs)).
		Msg("station registry synced")

	return nil
}

// MarkSeen records a message arrival. The first message after a timeout
// flips the station back online, including its availability topic.
func (s *StationService) MarkSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	station, err := s.stationRepository.FindByDeviceID(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("station %s not in registry: %w", deviceID, err)
	}

	wasOffline := !station.Online

	if err := s.stationRepository.MarkSeen(ctx, deviceID, seenAt); err != nil {
		return fmt.Errorf("error updating last seen for %s: %w", deviceID, err)
	}

	if wasOffline && s.entityService != nil {
		s.entityService.PublishAvailability(deviceID, true)
		s.logger.Info().
			Str("device_id", deviceID).
			Msg("station back online")
	}

	return nil
}

// Run executes the offline sweep until the context is cancelled.
func (s *StationService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *StationService) sweep(ctx context.Context) {
	stations, err := s.stationRepository.GetAllStations(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("offline sweep: could not list stations")
		return
	}

	cutoff := time.Now().Add(-s.timeout)
	for _, station := range stations {
		if !station.Online || station.LastSeenAt == nil || station.LastSeenAt.After(cutoff) {
			continue
		}

		if s.entityService != nil {
			s.entityService.PublishAvailability(station.DeviceID, false)
		}
		s.logger.Warn().
			Str("device_id", station.DeviceID).
			Time("last_seen", *station.LastSeenAt).
			Msg("station timed out, marking offline")
	}

	marked, err := s.stationRepository.MarkOfflineStations(ctx, s.timeout)
	if err != nil {
		s.logger.Error().Err(err).Msg("offline sweep: could not mark stations offline")
		return
	}
	if marked > 0 {
		s.logger.Info().Int64("stations", marked).Msg("offline sweep finished")
	}
}
