package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"service-dispatch/internal/shared/models"
)

// EnvPrefix namespaces environment overrides, e.g. DISPATCH_DATABASE_HOST.
const EnvPrefix = "DISPATCH"

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadConfig reads a YAML file, expands ${VAR:-default} placeholders,
// then applies DISPATCH_* environment overrides.
func LoadConfig(filename string) (*models.Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*models.Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(expand(raw), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Defaults() *models.Config {
	return &models.Config{
		HTTP: models.HTTPConfig{
			Port:            "3000",
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: models.DatabaseConfig{
			Driver:     "sqlite",
			Port:       "5432",
			SSLMode:    "disable",
			SQLitePath: "dispatch.db",
		},
		Kafka: models.KafkaConfig{Topic: "provider-locations"},
		MQTT:  models.MQTTConfig{ClientID: "service-dispatch"},
		Notifications: models.NotificationsConfig{
			SMS:             models.ChannelConfig{Sender: "log"},
			WhatsApp:        models.ChannelConfig{Sender: "log"},
			Email:           models.ChannelConfig{Sender: "log"},
			UserChannel:     "sms",
			ProviderChannel: "sms",
			Exchange:        "notifications_topic",
			DeliveryTimeout: 10 * time.Second,
		},
		Tracking: models.TrackingConfig{
			AverageSpeedKmh:   40,
			MinUpdateInterval: 3 * time.Second,
		},
		Telemetry: models.TelemetryConfig{ServiceName: "service-dispatch"},
	}
}

func expand(raw []byte) []byte {
	return placeholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		parts := placeholder.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(parts[1])); ok {
			return []byte(v)
		}
		return parts[2]
	})
}

func validate(cfg *models.Config) error {
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	if cfg.Tracking.AverageSpeedKmh <= 0 {
		return fmt.Errorf("tracking.average_speed_kmh must be positive")
	}
	for name, ch := range map[string]models.ChannelConfig{
		"sms": cfg.Notifications.SMS, "whatsapp": cfg.Notifications.WhatsApp, "email": cfg.Notifications.Email,
	} {
		switch ch.Sender {
		case "", "none", "log", "amqp":
		case "webhook":
			if ch.URL == "" {
				return fmt.Errorf("notifications.%s.url is required for webhook sender", name)
			}
		default:
			return fmt.Errorf("notifications.%s.sender %q is unknown", name, ch.Sender)
		}
	}
	for key, name := range map[string]string{
		"user_channel": cfg.Notifications.UserChannel, "provider_channel": cfg.Notifications.ProviderChannel,
	} {
		if name == "" || name == "app" {
			continue
		}
		ch, ok := cfg.Notifications.Channel(name)
		if !ok {
			return fmt.Errorf("notifications.%s %q is unknown", key, name)
		}
		if ch.Sender == "none" {
			return fmt.Errorf("notifications.%s is %s but that channel has sender none", key, name)
		}
	}
	return nil
}
