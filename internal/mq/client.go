package mq

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/makerspace-partheland/smartcity-sensorbridge-partheland/internal/config"
)

type MessageOptions struct {
	Qos      byte          `json:"qos"`
	Retained bool          `json:"retained"`
	Timeout  time.Duration `json:"timeout"`
}

func DefaultMessageOptions() *MessageOptions {
	return &MessageOptions{
		Qos:      0,
		Retained: true,
		Timeout:  5 * time.Second,
	}
}

// ConnectionListener is notified from paho's network goroutines; the
// callbacks must not block.
type ConnectionListener func(connected bool)

// LastWill is published by the broker when the bridge drops off without a
// clean disconnect, so downstream consumers see the bridge as offline.
type LastWill struct {
	Topic    string
	Payload  string
	Qos      byte
	Retained bool
}

type Client struct {
	client     mqtt.Client
	config     *config.MQTTConfig
	logger     zerolog.Logger
	clientID   string
	connected  atomic.Bool
	reconnects atomic.Int64
	listeners  []ConnectionListener
}

func NewClient(cfg *config.MQTTConfig, will *LastWill, logger zerolog.Logger, listeners ...ConnectionListener) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)

	clientID := fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.New().String()[:8])
	opts.SetClientID(clientID)

	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if strings.HasPrefix(cfg.BrokerURL, "wss://") || strings.HasPrefix(cfg.BrokerURL, "ssl://") {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetMaxReconnectInterval(cfg.MaxReconnectInterval)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetOrderMatters(false)

	if will != nil {
		opts.SetWill(will.Topic, will.Payload, will.Qos, will.Retained)
	}

	mqttClient := &Client{
		config:    cfg,
		logger:    logger,
		clientID:  clientID,
		listeners: listeners,
	}

	opts.SetOnConnectHandler(mqttClient.onConnect)
	opts.SetConnectionLostHandler(mqttClient.onConnectionLost)
	opts.SetReconnectingHandler(mqttClient.onReconnecting)

	mqttClient.client = mqtt.NewClient(opts)

	return mqttClient, nil
}

func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("error connecting to MQTT broker: %w", token.Error())
		}
		c.connected.Store(true)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection to MQTT broker timed out: %w", ctx.Err())
	}
}

func (c *Client) Disconnect() {
	if !c.IsConnected() {
		c.logger.Warn().Msg("MQTT client is not connected, nothing to disconnect")
		return
	}

	c.client.Disconnect(250)
	c.connected.Store(false)
	c.logger.Info().Msg("MQTT client disconnected")
}

func (c *Client) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected, cannot subscribe to topic %s", topic)
	}

	token := c.client.Subscribe(topic, qos, handler)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("error subscribing to topic %s: %w", topic, token.Error())
	}

	c.logger.Info().Str("topic", topic).Msg("Added topic subscription")

	return nil
}

func (c *Client) Unsubscribe(topics ...string) error {
	if !c.client.IsConnected() {
		return fmt.Errorf("MQTT client is not connected, cannot unsubscribe")
	}

	token := c.client.Unsubscribe(topics...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("error unsubscribing: %w", token.Error())
	}

	return nil
}

func (c *Client) PublishWithOptions(topic string, payload []byte, options *MessageOptions) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	token := c.client.Publish(topic, options.Qos, options.Retained, payload)
	token.WaitTimeout(options.Timeout)

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.Debug().
		Str("topic", topic).
		Int("payload_size", len(payload)).
		Msg("published message")

	return nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	return c.PublishWithOptions(topic, payload, DefaultMessageOptions())
}

func (c *Client) PublishJSON(topic string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return c.PublishWithOptions(topic, payload, DefaultMessageOptions())
}

// PublishRetainedRaw publishes a raw retained payload; an empty payload
// clears the retained message, which is how discovery configs are removed.
func (c *Client) PublishRetainedRaw(topic string, payload []byte) error {
	return c.PublishWithOptions(topic, payload, &MessageOptions{
		Qos:      0,
		Retained: true,
		Timeout:  5 * time.Second,
	})
}

func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client.IsConnected()
}

func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)

	c.logger.Info().
		Str("client_id", c.clientID).
		Msg("Successfully connected to broker")

	for _, listener := range c.listeners {
		listener(true)
	}
}

func (c *Client) onConnectionLost(client mqtt.Client, err error) {
	c.connected.Store(false)
	c.logger.Warn().Err(err).Msg("lost connection to broker")

	for _, listener := range c.listeners {
		listener(false)
	}
}

func (c *Client) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	c.reconnects.Add(1)
	c.logger.Info().Msg("attempting to reconnect to broker")
}
