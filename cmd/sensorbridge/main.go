package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/catalog"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/influx"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/postgres"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/database/postgres/repositories"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/errtrack"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/httpapi"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/logger"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/median"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/metrics"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/mq/handlers"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/parser"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/services"
	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/store"
)

type Application struct {
	config  *config.Config
	catalog *catalog.Catalog

	selectedDevices []catalog.Device
	selectedMedians []catalog.MedianEntity

	postgresDB *postgres.PostgresDB
	influxDB   *influx.InfluxDB

	stationRepository *repositories.StationRepository

	readingStore *store.ReadingStore
	tracker      *errtrack.Tracker
	metrics      *metrics.Metrics

	entityService      *services.EntityService
	stationService     *services.StationService
	medianService      *services.MedianService
	measurementService *services.MeasurementService

	mqttClient       *mq.Client
	topicManager     *mq.TopicManager
	sensorHandler    *handlers.SensorHandler
	subscribedTopics []string

	httpServer *httpapi.Server

	shutdownChan chan os.Signal
	ctx          context.Context
	cancelFunc   context.CancelFunc
}

func main() {
	app := &Application{}

	if err := app.initialize(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}

	if err := app.run(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run application")
	}
}

func (app *Application) initialize() error {
	var err error

	app.config, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logger.NewLogger(app.config.Logger)
	log.Info().
		Str("component", "main").
		Str("version", app.config.Service.Version).
		Msg("Setting up service...")

	app.ctx, app.cancelFunc = context.WithCancel(context.Background())
	app.shutdownChan = make(chan os.Signal, 1)
	signal.Notify(app.shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	if err := app.loadCatalog(); err != nil {
		return fmt.Errorf("error while loading catalog: %w", err)
	}

	app.tracker = errtrack.NewTracker(logger.GetLogger("error-tracker"))

	if err := app.initializeDatabases(); err != nil {
		return fmt.Errorf("error while initialize databases: %w", err)
	}

	if err := app.initializeMQTT(); err != nil {
		return fmt.Errorf("error while initializing MQTT: %w", err)
	}

	if err := app.initializeRepositories(); err != nil {
		return fmt.Errorf("error while initializing repositories: %w", err)
	}

	if err := app.initializeServices(); err != nil {
		return fmt.Errorf("error while initializing services: %w", err)
	}

	if err := app.setupTopicHandlers(); err != nil {
		return fmt.Errorf("error while setting up topic handlers: %w", err)
	}

	if err := app.announceSelection(); err != nil {
		return fmt.Errorf("error while announcing selection: %w", err)
	}

	app.startBackground()

	log.Info().Msg("Successfully initialized application")
	return nil
}

func (app *Application) loadCatalog() error {
	var err error

	app.catalog, err = catalog.Load(app.config.Service.CatalogPath)
	if err != nil {
		return err
	}

	app.selectedDevices = app.catalog.SelectedDevices(app.config.Service.SelectedDevices)
	app.selectedMedians = app.catalog.SelectedMedians(app.config.Service.SelectedMedians)

	if len(app.selectedDevices) == 0 && len(app.selectedMedians) == 0 {
		return fmt.Errorf("selection matches no device or median entity in catalog %s", app.config.Service.CatalogPath)
	}

	// The environment overrides the broker URL shipped with the catalog.
	if app.config.MQTT.BrokerURL == "" {
		app.config.MQTT.BrokerURL = app.catalog.MQTT.BrokerURL
	}
	if app.config.MQTT.BrokerURL == "" {
		return fmt.Errorf("no MQTT broker URL in environment or catalog %s", app.config.Service.CatalogPath)
	}

	log.Info().
		Str("component", "main").
		Int("devices", len(app.selectedDevices)).
		Int("medians", len(app.selectedMedians)).
		Msg("Successfully loaded catalog")
	return nil
}

func (app *Application) initializeDatabases() error {
	var err error

	app.postgresDB, err = postgres.NewConnection(app.config.Postgres)
	if err != nil {
		return fmt.Errorf("could not connect to PostgreSQL: %w", err)
	}

	app.influxDB, err = influx.NewConnection(&app.config.InfluxDB, app.tracker, logger.GetLogger("influxdb"))
	if err != nil {
		return fmt.Errorf("could not connect to InfluxDB: %w", err)
	}

	log.Info().
		Str("component", "main").
		Str("host", app.config.Postgres.Host).
		Msg("Successfully initialized databases")
	return nil
}

func (app *Application) initializeMQTT() error {
	var err error

	app.topicManager = mq.NewTopicManager(
		app.catalog.Parsing.MedianDetection.TopicPattern,
		logger.GetLogger("topic-manager"),
	)

	will := &mq.LastWill{
		Topic:    app.config.Discovery.AvailabilityTopic,
		Payload:  "offline",
		Qos:      app.config.MQTT.QoS,
		Retained: true,
	}

	app.mqttClient, err = mq.NewClient(
		&app.config.MQTT,
		will,
		logger.GetLogger("mq-client"),
		app.onBrokerConnection,
	)
	if err != nil {
		return fmt.Errorf("could not create MQTT client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()

	if err := app.mqttClient.Connect(connectCtx); err != nil {
		return fmt.Errorf("could not connect to MQTT broker: %w", err)
	}

	app.metrics = metrics.New(
		func() float64 { return float64(app.mqttClient.Reconnects()) },
		func() float64 {
			if app.mqttClient.IsConnected() {
				return 1
			}
			return 0
		},
	)

	log.Info().
		Str("component", "main").
		Str("client_id", app.mqttClient.ClientID()).
		Msg("Successfully initialized MQTT client")

	return nil
}

func (app *Application) initializeRepositories() error {
	db := app.postgresDB.GetDB()

	app.stationRepository = repositories.NewStationRepository(db)

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized repositories")
	return nil
}

func (app *Application) initializeServices() error {
	app.readingStore = store.NewReadingStore()

	app.entityService = services.NewEntityService(
		app.mqttClient,
		app.catalog,
		app.config.Discovery,
		logger.GetLogger("entity-service"),
	)

	app.stationService = services.NewStationService(
		app.stationRepository,
		app.entityService,
		app.config.Service.StationTimeout,
		app.config.Service.HealthCheckInterval,
		logger.GetLogger("station-service"),
	)

	readingWriter := influx.NewReadingWriter(
		app.influxDB.GetWriteAPI(),
		logger.GetLogger("reading-writer"),
	)

	aggregator := median.NewAggregator(app.readingStore, app.config.Service.ReadingMaxAge)

	app.medianService = services.NewMedianService(
		aggregator,
		app.readingStore,
		app.entityService,
		readingWriter,
		app.catalog,
		app.selectedMedians,
		app.config.Service.HealthCheckInterval,
		app.metrics,
		logger.GetLogger("median-service"),
	)

	app.measurementService = services.NewMeasurementService(
		app.readingStore,
		app.stationService,
		app.entityService,
		readingWriter,
		app.catalog,
		app.medianService.LocalEntities(),
		app.metrics,
		logger.GetLogger("measurement-service"),
	)

	app.readingStore.AddListener(app.medianService.OnReadingsUpdated)

	log.Info().
		Str("component", "main").
		Msg("Successfully initialized services")
	return nil
}

func (app *Application) setupTopicHandlers() error {
	sensorParser := parser.NewParser(
		app.catalog,
		app.topicManager,
		logger.GetLogger("parser"),
	)

	app.sensorHandler = handlers.NewSensorHandler(
		sensorParser,
		app.measurementService,
		app.topicManager,
		app.tracker,
		app.metrics,
		logger.GetLogger("sensor-handler"),
	)

	return app.subscribeAll()
}

func (app *Application) subscribeAll() error {
	qos := app.config.MQTT.QoS
	app.subscribedTopics = app.subscribedTopics[:0]

	for _, device := range app.selectedDevices {
		if err := app.mqttClient.Subscribe(device.TopicPattern, qos, app.sensorHandler.Handle); err != nil {
			return fmt.Errorf("error subscribing to %s: %w", device.TopicPattern, err)
		}
		app.subscribedTopics = append(app.subscribedTopics, device.TopicPattern)
	}

	local := make(map[string]bool)
	for _, entity := range app.medianService.LocalEntities() {
		local[entity.ID] = true
	}

	// Broker-precomputed medians only; locally aggregated entities are
	// fed from their member stations.
	for _, entity := range app.selectedMedians {
		if local[entity.ID] {
			continue
		}
		if err := app.mqttClient.Subscribe(entity.TopicPattern, qos, app.sensorHandler.Handle); err != nil {
			return fmt.Errorf("error subscribing to %s: %w", entity.TopicPattern, err)
		}
		app.subscribedTopics = append(app.subscribedTopics, entity.TopicPattern)
	}

	return nil
}

func (app *Application) announceSelection() error {
	if err := app.stationService.SyncSelection(app.ctx, app.selectedDevices); err != nil {
		return fmt.Errorf("error syncing station registry: %w", err)
	}

	if err := app.entityService.AnnounceSelection(app.selectedDevices, app.selectedMedians); err != nil {
		return fmt.Errorf("error announcing entities: %w", err)
	}

	app.entityService.PublishBridgeAvailability(true)

	log.Info().
		Str("component", "main").
		Msg("Successfully announced selection")
	return nil
}

func (app *Application) startBackground() {
	go app.stationService.Run(app.ctx)
	go app.medianService.Run(app.ctx)

	if app.config.HTTP.Enabled {
		app.httpServer = httpapi.NewServer(
			app.config.HTTP,
			app.mqttClient,
			app.readingStore,
			app.tracker,
			app.metrics.Registry,
			app.config.Service.ReadingMaxAge,
			logger.GetLogger("http-server"),
		)
		app.httpServer.Start()
	}
}

// onBrokerConnection restores the session after a reconnect. The broker
// drops subscriptions of clean sessions, and the retained offline will
// has to be overwritten again.
func (app *Application) onBrokerConnection(connected bool) {
	if !connected || app.sensorHandler == nil {
		return
	}

	if err := app.subscribeAll(); err != nil {
		log.Error().Err(err).Msg("Failed to restore subscriptions after reconnect")
	}

	app.entityService.PublishBridgeAvailability(true)
}

func (app *Application) run() error {
	select {
	case sig := <-app.shutdownChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-app.ctx.Done():
		log.Info().Msg("context cancelled, shutting down application")
	}

	return app.shutdown()
}

func (app *Application) shutdown() error {
	// Stop the background sweeps before their databases go away.
	app.cancelFunc()

	if app.entityService != nil && app.mqttClient != nil && app.mqttClient.IsConnected() {
		app.entityService.PublishBridgeAvailability(false)
	}

	if app.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down HTTP server")
		}
		cancel()
	}

	if app.mqttClient != nil {
		if len(app.subscribedTopics) > 0 && app.mqttClient.IsConnected() {
			if err := app.mqttClient.Unsubscribe(app.subscribedTopics...); err != nil {
				log.Error().Err(err).Msg("Error unsubscribing from topics")
			}
		}
		app.mqttClient.Disconnect()
	}

	if app.influxDB != nil {
		app.influxDB.Close()
	}

	if app.postgresDB != nil {
		if err := app.postgresDB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing PostgreSQL connection")
		}
	}

	return nil
}
