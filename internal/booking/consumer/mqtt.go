package consumer

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"service-dispatch/internal/shared/models"
	"service-dispatch/internal/shared/util"
)

const (
	LocationTopic = "providers/+/location"
	StatusTopic   = "providers/+/status"

	mqttQoS            = 1
	mqttConnectTimeout = 10 * time.Second
)

// MQTTConsumer ingests device telemetry published on
// providers/<providerId>/location and providers/<providerId>/status.
type MQTTConsumer struct {
	tracker Tracker
	opts    *mqtt.ClientOptions
	client  mqtt.Client
	log     *util.Logger
}

func NewMQTTConsumer(cfg models.MQTTConfig, tracker Tracker, log *util.Logger) *MQTTConsumer {
	c := &MQTTConsumer{tracker: tracker, log: log}
	c.opts = mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTTConsumer", "connection lost: "+err.Error())
		})
	return c
}

// Start connects and subscribes. Subscriptions are renewed on every
// reconnect; ctx bounds the handling of each message.
func (c *MQTTConsumer) Start(ctx context.Context) error {
	c.opts.SetOnConnectHandler(func(client mqtt.Client) {
		filters := map[string]byte{LocationTopic: mqttQoS, StatusTopic: mqttQoS}
		token := client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
			c.handle(ctx, m.Topic(), m.Payload())
		})
		if !token.WaitTimeout(mqttConnectTimeout) {
			c.log.Warn("MQTTConsumer.subscribe", "subscribe timed out after "+mqttConnectTimeout.String())
			return
		}
		if err := token.Error(); err != nil {
			c.log.Error("MQTTConsumer.subscribe", "subscribe failed", err)
			return
		}
		c.log.OK("MQTTConsumer.subscribe", "subscribed to provider telemetry")
	})

	c.client = mqtt.NewClient(c.opts)
	token := c.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (c *MQTTConsumer) Stop() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func (c *MQTTConsumer) handle(ctx context.Context, topic string, payload []byte) {
	instance := "MQTTConsumer.handle"
	providerID, k, err := parseTopic(topic)
	if err != nil {
		c.log.Warn(instance, err.Error())
		return
	}
	if _, err := apply(ctx, c.tracker, k, providerID, payload); err != nil {
		c.log.Warn(instance, fmt.Sprintf("%s from %s rejected: %v", k, providerID, err))
	}
}

func parseTopic(topic string) (string, kind, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "providers" || parts[1] == "" {
		return "", 0, fmt.Errorf("unexpected topic %q", topic)
	}
	switch parts[2] {
	case "location":
		return parts[1], kindLocation, nil
	case "status":
		return parts[1], kindStatus, nil
	}
	return "", 0, fmt.Errorf("unexpected topic %q", topic)
}
