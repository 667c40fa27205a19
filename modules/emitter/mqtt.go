package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
)

// ErrNotConnected is returned by Emit while the broker connection is down.
var ErrNotConnected = errors.New("emitter: mqtt not connected")

// MQTTConfig contains MQTT broker settings.
type MQTTConfig struct {
	// Broker is host:port, or a full URL (tcp://, ssl://, ws://)
	Broker string `yaml:"broker"`
	// ClientID defaults to "orion-barcode-scan"
	ClientID string `yaml:"client_id"`
	// Topic prefix; the barcode format is appended: <topic>/qr_code
	Topic string `yaml:"topic"`
	QoS   byte   `yaml:"qos"`
	// ConnectTimeout bounds the initial connection (default 5s)
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// PublishTimeout bounds each publish (default 2s)
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

func (c *MQTTConfig) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "orion-barcode-scan"
	}
	if c.Topic == "" {
		c.Topic = "orion/barcodes"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 2 * time.Second
	}
}

// Validate checks the configuration.
func (c MQTTConfig) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("emitter: mqtt broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("emitter: mqtt qos must be 0, 1 or 2 (got %d)", c.QoS)
	}
	return nil
}

// publisher is the subset of mqtt.Client the emitter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes detection events to a broker as JSON.
type MQTT struct {
	cfg       MQTTConfig
	client    mqtt.Client
	pub       publisher
	connected atomic.Bool
	counters
}

// NewMQTT validates cfg. Call Connect before emitting.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MQTT{cfg: cfg}, nil
}

// Connect establishes connection to the broker. Reconnection after a lost
// connection is automatic.
func (e *MQTT) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.connected.Store(true)
		slog.Info("emitter: mqtt connection established",
			"broker", broker,
			"client_id", e.cfg.ClientID,
		)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.connected.Store(false)
		slog.Warn("emitter: mqtt connection lost, will auto-reconnect",
			"broker", broker,
			"error", err,
		)
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	slog.Info("emitter: connecting to mqtt broker", "broker", broker)

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(e.cfg.ConnectTimeout):
		e.client.Disconnect(0)
		return fmt.Errorf("emitter: mqtt connection timeout (%s)", e.cfg.ConnectTimeout)
	case <-ctx.Done():
		e.client.Disconnect(0)
		return context.Cause(ctx)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt connection failed: %w", err)
	}

	e.connected.Store(true)
	return nil
}

// Topic returns the topic an event is published on.
func (e *MQTT) Topic(ev framebus.Event) string {
	return e.cfg.Topic + "/" + ev.Barcode.Format.String()
}

// Emit publishes ev as JSON.
func (e *MQTT) Emit(ev framebus.Event) error {
	return e.record(e.publish(ev))
}

func (e *MQTT) publish(ev framebus.Event) error {
	if e.pub == nil || !e.connected.Load() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("emitter: marshal event: %w", err)
	}

	topic := e.Topic(ev)
	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(e.cfg.PublishTimeout) {
		return fmt.Errorf("emitter: mqtt publish timeout on %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("emitter: mqtt publish failed: %w", err)
	}

	slog.Debug("emitter: barcode published",
		"topic", topic,
		"qos", e.cfg.QoS,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTT) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("emitter: mqtt disconnected")
	}
	e.connected.Store(false)
}

// Stats returns emitter statistics.
func (e *MQTT) Stats() Stats {
	return Stats{
		Connected: e.connected.Load(),
		Published: e.published.Load(),
		Errors:    e.errors.Load(),
	}
}
