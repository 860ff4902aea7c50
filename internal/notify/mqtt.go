package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	KeepAlive   time.Duration
}

// MQTTPublisher publishes events under <prefix>/<sensor>/<kind>. Attribute
// and state messages are retained so a late subscriber sees the current
// picture.
type MQTTPublisher struct {
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, token.Error())
	}

	logger.Info("MQTT publisher connected",
		zap.String("broker", cfg.Broker),
		zap.String("prefix", cfg.TopicPrefix))

	return NewMQTTPublisherClient(client, cfg.TopicPrefix, cfg.QoS, logger), nil
}

// NewMQTTPublisherClient wraps an already connected client.
func NewMQTTPublisherClient(client mqtt.Client, prefix string, qos byte, logger *zap.Logger) *MQTTPublisher {
	if prefix == "" {
		prefix = "opensensorcore"
	}
	return &MQTTPublisher{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		qos:     qos,
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

func (p *MQTTPublisher) Topic(e Event) string {
	kind := strings.TrimPrefix(string(e.Type), "sensor_")
	return fmt.Sprintf("%s/%s/%s", p.prefix, e.Sensor, kind)
}

func (p *MQTTPublisher) Publish(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	retained := e.Type != EventError
	token := p.client.Publish(p.Topic(e), p.qos, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		p.logger.Warn("MQTT publish timed out", zap.String("topic", p.Topic(e)))
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Error("MQTT publish failed",
			zap.String("topic", p.Topic(e)),
			zap.Error(err))
	}
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
