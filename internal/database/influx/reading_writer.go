package influx

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/models"
)

const readingMeasurement = "sensor_reading"

// ReadingWriter archives accepted readings through the non-blocking
// write API; points are batched and flushed by the client.
type ReadingWriter struct {
	writeAPI api.WriteAPI
	logger   zerolog.Logger
}

func NewReadingWriter(writeAPI api.WriteAPI, logger zerolog.Logger) *ReadingWriter {
	return &ReadingWriter{
		writeAPI: writeAPI,
		logger:   logger,
	}
}

func (w *ReadingWriter) WriteMeasurement(measurement *models.Measurement) error {
	if err := measurement.Validate(); err != nil {
		return err
	}

	point := influxdb2.NewPoint(
		readingMeasurement,
		measurement.ToInfluxTags(),
		measurement.ToInfluxFields(),
		measurement.Timestamp,
	)

	w.writeAPI.WritePoint(point)

	w.logger.Debug().
		Str("device_id", measurement.DeviceID).
		Str("field", measurement.Field).
		Float64("value", measurement.Value).
		Msg("added reading to InfluxDB batch")

	return nil
}

func (w *ReadingWriter) WriteBatch(measurements []*models.Measurement) error {
	for _, measurement := range measurements {
		if err := w.WriteMeasurement(measurement); err != nil {
			return err
		}
	}
	return nil
}
