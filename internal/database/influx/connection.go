package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/errtrack"
)

const writeErrorContext = "influx:write"

type InfluxDB struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	config   *config.InfluxConfig
	tracker  *errtrack.Tracker
	logger   zerolog.Logger
}

func NewConnection(cfg *config.InfluxConfig, tracker *errtrack.Tracker, logger zerolog.Logger) (*InfluxDB, error) {
	options := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushInterval * 1000))

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, options)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	writeAPI := client.WriteAPI(cfg.Organization, cfg.Bucket)

	influxDB := &InfluxDB{
		client:   client,
		writeAPI: writeAPI,
		config:   cfg,
		tracker:  tracker,
		logger:   logger,
	}

	// Writes are batched and asynchronous; failures surface on the error
	// channel, not on WritePoint.
	go drainWriteErrors(writeAPI.Errors(), tracker)

	logger.Info().
		Str("url", cfg.URL).
		Str("bucket", cfg.Bucket).
		Msg("Successfully connected to InfluxDB")

	return influxDB, nil
}

// drainWriteErrors consumes failed batch writes until the channel is
// closed on shutdown.
func drainWriteErrors(errorsCh <-chan error, tracker *errtrack.Tracker) {
	for err := range errorsCh {
		tracker.Handle(err, errtrack.KindStorage, writeErrorContext)
	}
}

func (i *InfluxDB) GetWriteAPI() api.WriteAPI {
	return i.writeAPI
}

func (i *InfluxDB) Close() {
	i.writeAPI.Flush()
	i.client.Close()
}
