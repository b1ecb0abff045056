package models

import (
	"fmt"
	"net/url"
	"time"
)

// Environment overrides are derived from field names by envconfig,
// e.g. DISPATCH_DATABASE_HOST or DISPATCH_TRACKING_MINUPDATEINTERVAL.
type HTTPConfig struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	SSLMode    string `yaml:"sslmode"`
	SQLitePath string `yaml:"sqlite_path"`
}

func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + d.Port,
		Path:     d.Database,
		RawQuery: "sslmode=" + d.SSLMode,
	}
	return u.String()
}

type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

func (r RabbitMQConfig) Enabled() bool { return r.Host != "" }

func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ChannelConfig selects the sender for one external channel.
// Sender is one of "log", "webhook", "amqp" or "none".
type ChannelConfig struct {
	Sender string `yaml:"sender"`
	URL    string `yaml:"url"`
}

type NotificationsConfig struct {
	SMS      ChannelConfig `yaml:"sms"`
	WhatsApp ChannelConfig `yaml:"whatsapp"`
	Email    ChannelConfig `yaml:"email"`
	// UserChannel and ProviderChannel pick the external channel dispatch
	// notifications go out on: "app", "sms", "whatsapp" or "email".
	UserChannel     string        `yaml:"user_channel"`
	ProviderChannel string        `yaml:"provider_channel"`
	Exchange        string        `yaml:"exchange"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

// Channel returns the sender settings for an external channel name.
func (n NotificationsConfig) Channel(name string) (ChannelConfig, bool) {
	switch name {
	case "sms":
		return n.SMS, true
	case "whatsapp":
		return n.WhatsApp, true
	case "email":
		return n.Email, true
	}
	return ChannelConfig{}, false
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type TrackingConfig struct {
	AverageSpeedKmh   float64       `yaml:"average_speed_kmh"`
	MinUpdateInterval time.Duration `yaml:"min_update_interval"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Database      DatabaseConfig      `yaml:"database"`
	RabbitMQ      RabbitMQConfig      `yaml:"rabbitmq"`
	Redis         RedisConfig         `yaml:"redis"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Auth          AuthConfig          `yaml:"auth"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}
