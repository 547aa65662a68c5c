package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Event is an unsolicited modem line matched by a rule of the script book.
type Event struct {
	Name string    `json:"event"`
	Args []string  `json:"args"`
	Time time.Time `json:"time"`
}

// Publisher receives unsolicited events. Publish is called from the chat
// worker and must not block.
type Publisher interface {
	Publish(e Event)
}

// LogPublisher writes events to a logger. It is used when no broker is
// configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(e Event) {
	p.Logger.Info("unsolicited event", "event", e.Name, "args", e.Args)
}

// MQTTPublisher publishes events as JSON to <topic>/<event name>.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	logger *slog.Logger
	// timeout bounds how long a delivery is tracked for errors
	timeout time.Duration
}

func NewMQTTPublisher(client mqtt.Client, topic string, logger *slog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		logger:  logger,
		timeout: 10 * time.Second,
	}
}

func (p *MQTTPublisher) Publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("Failed to encode event", "event", e.Name, "error", err)
		return
	}

	topic := p.topic + "/" + e.Name
	token := p.client.Publish(topic, 1, false, payload)

	go func() {
		if !token.WaitTimeout(p.timeout) {
			p.logger.Warn("MQTT publish not acknowledged", "topic", topic, "timeout", p.timeout)
			return
		}
		if err := token.Error(); err != nil {
			p.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
		}
	}()
}

// ConnectMQTT connects to the broker named in config. The client reconnects
// on its own after the first connection succeeded.
func ConnectMQTT(ctx context.Context, config *Config, logger *slog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(config.MQTTBroker).
		SetClientID(config.MQTTClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if config.MQTTUsername != "" {
		opts.SetUsername(config.MQTTUsername)
		opts.SetPassword(config.MQTTPassword)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connected", "broker", config.MQTTBroker)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect MQTT broker %s: %w", config.MQTTBroker, err)
	}
	return client, nil
}
