package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

// ErrNotConnected is returned when publishing while the broker is down.
var ErrNotConnected = errors.New("notify: not connected to MQTT broker")

// MQTTConfig describes the broker connection.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// MQTTPublisher publishes events as JSON at QoS 0.
type MQTTPublisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
}

// NewMQTTPublisher connects to the broker. paho reconnects on its own after
// the first successful connection.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("connected to MQTT broker", "broker", cfg.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Ops("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("notify: connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: connect to %s: %w", cfg.Broker, err)
	}
	return newMQTTPublisher(client, cfg.Topic, cfg.Timeout), nil
}

func newMQTTPublisher(client mqtt.Client, topic string, timeout time.Duration) *MQTTPublisher {
	return &MQTTPublisher{client: client, topic: topic, timeout: timeout}
}

// Publish sends e to the configured topic.
func (p *MQTTPublisher) Publish(ctx context.Context, e eventlog.Event) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("notify: publish to %s: %w", p.topic, ctx.Err())
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
