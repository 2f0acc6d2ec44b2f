package mqttstorage

import (
	"errors"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fleetsim/fleetctl/internal/config"
)

type pahoPublisher struct {
	opts   *mqtt.ClientOptions
	client mqtt.Client
	broker string
	log    *slog.Logger
}

func newPahoPublisher(cfg config.MQTTConfig, logger *slog.Logger) *pahoPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetConnectTimeout(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	return &pahoPublisher{opts: opts, broker: cfg.Broker, log: logger}
}

func (p *pahoPublisher) Connect(onConnect func()) error {
	p.opts.SetOnConnectHandler(func(mqtt.Client) { go onConnect() })
	p.client = mqtt.NewClient(p.opts)

	// With ConnectRetry the token only completes once connected; a broker
	// that is down at start keeps retrying in the background.
	token := p.client.Connect()
	if token.WaitTimeout(publishTimeout) && token.Error() != nil {
		return token.Error()
	}
	if !p.client.IsConnected() {
		p.log.Warn("MQTT broker not reachable yet, buffering", "broker", p.broker)
	}
	return nil
}

func (p *pahoPublisher) Connected() bool {
	return p.client != nil && p.client.IsConnectionOpen()
}

func (p *pahoPublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("mqtt publish timed out")
	}
	return token.Error()
}

func (p *pahoPublisher) Disconnect() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}
