package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MQTT      MQTTConfig      `json:"mqtt"`
	Postgres  PostgresConfig  `json:"postgres"`
	InfluxDB  InfluxConfig    `json:"influxdb"`
	Logger    LoggerConfig    `json:"logger"`
	Service   ServiceConfig   `json:"service"`
	Discovery DiscoveryConfig `json:"discovery"`
	HTTP      HTTPConfig      `json:"http"`
}

type MQTTConfig struct {
	BrokerURL            string        `json:"broker_url"`
	Username             string        `json:"username"`
	Password             string        `json:"password"`
	ClientIDPrefix       string        `json:"client_id_prefix"`
	QoS                  byte          `json:"qos"`
	KeepAlive            time.Duration `json:"keep_alive"`
	ConnectTimeout       time.Duration `json:"connect_timeout"`
	AutoReconnect        bool          `json:"auto_reconnect"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval"`
	CleanSession         bool          `json:"clean_session"`
}

type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Dsn      string `json:"dsn"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	TimeZone string `json:"timezone"`
}

type InfluxConfig struct {
	URL           string `json:"url"`
	Token         string `json:"token"`
	Organization  string `json:"organization"`
	Bucket        string `json:"bucket"`
	BatchSize     int    `json:"batch_size"`
	FlushInterval int    `json:"flush_interval_seconds"`
}

type LoggerConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

type ServiceConfig struct {
	Name                string        `json:"name"`
	Version             string        `json:"version"`
	CatalogPath         string        `json:"catalog_path"`
	SelectedDevices     []string      `json:"selected_devices"`
	SelectedMedians     []string      `json:"selected_medians"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	ReadingMaxAge       time.Duration `json:"reading_max_age"`
	StationTimeout      time.Duration `json:"station_timeout"`
}

type DiscoveryConfig struct {
	Enabled           bool   `json:"enabled"`
	Prefix            string `json:"prefix"`
	StateTopicBase    string `json:"state_topic_base"`
	AvailabilityTopic string `json:"availability_topic"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		MQTT: MQTTConfig{
			BrokerURL:            getEnv("MQTT_BROKER_URL", ""),
			Username:             getEnv("MQTT_USERNAME", ""),
			Password:             getEnv("MQTT_PASSWORD", ""),
			ClientIDPrefix:       getEnv("MQTT_CLIENT_ID_PREFIX", "sc-sensorbridge"),
			QoS:                  byte(getEnvAsInt("MQTT_QOS", 0)),
			KeepAlive:            getEnvAsDuration("MQTT_KEEP_ALIVE", "60s"),
			ConnectTimeout:       getEnvAsDuration("MQTT_CONNECT_TIMEOUT", "30s"),
			AutoReconnect:        getEnvAsBool("MQTT_AUTO_RECONNECT", true),
			MaxReconnectInterval: getEnvAsDuration("MQTT_MAX_RECONNECT_INTERVAL", "30s"),
			CleanSession:         getEnvAsBool("MQTT_CLEAN_SESSION", true),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DATABASE", "sensorbridge"),
			SSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		InfluxDB: InfluxConfig{
			URL:           getEnv("INFLUXDB_URL", "http://localhost:8086"),
			Token:         getEnv("INFLUXDB_TOKEN", ""),
			Organization:  getEnv("INFLUXDB_ORG", "partheland"),
			Bucket:        getEnv("INFLUXDB_BUCKET", "sensor_readings"),
			BatchSize:     getEnvAsInt("INFLUXDB_BATCH_SIZE", 100),
			FlushInterval: getEnvAsInt("INFLUXDB_FLUSH_INTERVAL", 10),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
		Service: ServiceConfig{
			Name:                getEnv("SERVICE_NAME", "smartcity-sensorbridge"),
			Version:             getEnv("SERVICE_VERSION", "1.0.0"),
			CatalogPath:         getEnv("BRIDGE_CATALOG_PATH", "catalog.json"),
			SelectedDevices:     getEnvAsList("BRIDGE_SELECTED_DEVICES"),
			SelectedMedians:     getEnvAsList("BRIDGE_SELECTED_MEDIANS"),
			HealthCheckInterval: getEnvAsDuration("BRIDGE_HEALTH_CHECK_INTERVAL", "30s"),
			ReadingMaxAge:       getEnvAsDuration("BRIDGE_READING_MAX_AGE", "15m"),
			StationTimeout:      getEnvAsDuration("BRIDGE_STATION_TIMEOUT", "15m"),
		},
		Discovery: DiscoveryConfig{
			Enabled:           getEnvAsBool("DISCOVERY_ENABLED", true),
			Prefix:            getEnv("DISCOVERY_PREFIX", "homeassistant"),
			StateTopicBase:    getEnv("BRIDGE_STATE_TOPIC_BASE", "partheland/bridge"),
			AvailabilityTopic: getEnv("BRIDGE_AVAILABILITY_TOPIC", "partheland/bridge/status"),
		},
		HTTP: HTTPConfig{
			Enabled: getEnvAsBool("HTTP_ENABLED", true),
			Addr:    getEnv("HTTP_ADDR", ":8099"),
		},
	}

	config.Discovery.Prefix = strings.TrimSuffix(config.Discovery.Prefix, "/")
	config.Discovery.StateTopicBase = strings.TrimSuffix(config.Discovery.StateTopicBase, "/")

	config.Postgres.Dsn = fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		config.Postgres.Host, config.Postgres.Port, config.Postgres.User,
		config.Postgres.Password, config.Postgres.Database,
		func() string {
			if config.Postgres.SSLMode == "false" || config.Postgres.SSLMode == "" {
				return "disable"
			}
			return config.Postgres.SSLMode
		}(),
		config.Postgres.TimeZone,
	)

	return config, config.validate()
}

// An empty broker URL is allowed here; the catalog's mqtt_config is the
// fallback and the selection is resolved at startup.
func (c *Config) validate() error {
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Service.CatalogPath == "" {
		return fmt.Errorf("BRIDGE_CATALOG_PATH has to be set")
	}
	if c.Service.ReadingMaxAge <= 0 {
		return fmt.Errorf("BRIDGE_READING_MAX_AGE must be positive")
	}
	if c.Service.HealthCheckInterval <= 0 {
		return fmt.Errorf("BRIDGE_HEALTH_CHECK_INTERVAL must be positive")
	}
	if c.Service.StationTimeout <= 0 {
		return fmt.Errorf("BRIDGE_STATION_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	parts := strings.Split(value, ",")
	list := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			list = append(list, trimmed)
		}
	}
	return list
}
