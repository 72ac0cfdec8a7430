package repositories

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
)

type StationRepository struct {
	db *gorm.DB
}

func NewStationRepository(db *gorm.DB) *StationRepository {
	return &StationRepository{db: db}
}

func (r *StationRepository) CreateOrUpdate(ctx context.Context, station *models.Station) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Station
		result := tx.Where("device_id = ?", station.DeviceID).First(&existing)

		if result.Error == nil {
			updateMap := map[string]interface{}{
				"name":     station.Name,
				"category": station.Category,
				"location": station.Location,
				"topic":    station.Topic,
				"sensors":  station.Sensors,
			}

			return tx.Model(&models.Station{}).
				Where("device_id = ?", station.DeviceID).
				Updates(updateMap).Error

		} else if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tx.Create(station).Error

		} else {
			return result.Error
		}
	})
}

func (r *StationRepository) FindByDeviceID(ctx context.Context, deviceID string) (*models.Station, error) {
	var station models.Station
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&station).Error
	if err != nil {
		return nil, err
	}
	return &station, nil
}

// MarkSeen records a message arrival and flips the station back online.
func (r *StationRepository) MarkSeen(ctx context.Context, deviceID string, seenAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Station{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"last_seen_at": seenAt,
			"online":       true,
		}).Error
}

// MarkOfflineStations flips stations offline whose last message is older
// than the timeout. Returns the number of affected rows for logging.
func (r *StationRepository) MarkOfflineStations(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	result := r.db.WithContext(ctx).Model(&models.Station{}).
		Where("last_seen_at < ? AND online = ?", cutoff, true).
		Update("online", false)
	return result.RowsAffected, result.Error
}

func (r *StationRepository) GetAllStations(ctx context.Context) ([]*models.Station, error) {
	var stations []*models.Station
	err := r.db.WithContext(ctx).Find(&stations).Error
	return stations, err
}

// DeleteNotIn removes registry rows for stations that are no longer part
// of the configured selection. An empty selection clears the registry.
func (r *StationRepository) DeleteNotIn(ctx context.Context, deviceIDs []string) (int64, error) {
	if len(deviceIDs) == 0 {
		result := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.Station{})
		return result.RowsAffected, result.Error
	}

	result := r.db.WithContext(ctx).
		Where("device_id NOT IN ?", deviceIDs).
		Delete(&models.Station{})
	return result.RowsAffected, result.Error
}
