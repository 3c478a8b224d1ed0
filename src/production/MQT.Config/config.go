package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// IngestorConfig holds all configuration for the sensor relay service
type IngestorConfig struct {
	Server  ServerConfig  `mapstructure:"server"`
	Broker  BrokerConfig  `mapstructure:"broker"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Store   StoreConfig   `mapstructure:"store"`
	Buffer  BufferConfig  `mapstructure:"buffer"`
	Ingest  IngestConfig  `mapstructure:"ingest"`
	Publish PublishConfig `mapstructure:"publish"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds the health/metrics HTTP server configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// AllowedOrigins enables CORS for browser dashboards; empty disables it
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BrokerConfig holds MQTT broker connection settings
type BrokerConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Pass       string `mapstructure:"pass"`
	UseTLS     bool   `mapstructure:"tls"`
	CACertPath string `mapstructure:"ca_file"`
}

// MQTTConfig holds MQTT session and topic settings
type MQTTConfig struct {
	ClientID       string        `mapstructure:"client_id"`
	Topics         []string      `mapstructure:"topics"`
	LocationTokens []string      `mapstructure:"location_tokens"`
	KeepAlive      time.Duration `mapstructure:"keep_alive"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// StoreConfig holds relational store settings
type StoreConfig struct {
	Driver       string        `mapstructure:"driver"` // postgres, pgx or sqlite3
	DSN          string        `mapstructure:"dsn"`    // overrides the discrete fields when set
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	Name         string        `mapstructure:"name"`
	SSLMode      string        `mapstructure:"sslmode"`
	Timeout      time.Duration `mapstructure:"timeout"`
	EnsureSchema bool          `mapstructure:"ensure_schema"`
}

// BufferConfig holds durable buffer settings
type BufferConfig struct {
	Path       string `mapstructure:"path"`
	MaxEntries int    `mapstructure:"max_entries"`
}

// IngestConfig holds coordinator timing settings
type IngestConfig struct {
	DrainInterval time.Duration `mapstructure:"drain_interval"`
	QueueSize     int           `mapstructure:"queue_size"`
}

// PublishConfig holds snapshot publisher settings
type PublishConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	TopicPrefix string        `mapstructure:"topic_prefix"`
}

// RedisConfig holds the optional redis snapshot sink settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `mapstructure:"level"`
	Format       string `mapstructure:"format"` // json or text
	Output       string `mapstructure:"output"` // stdout or stderr
	EnableCaller bool   `mapstructure:"enable_caller"`
}

// LoadIngestorConfig loads configuration from .env, an optional YAML file and
// the environment. Environment variables use the upper-cased key with "." replaced
// by "_", e.g. broker.host <= BROKER_HOST.
func LoadIngestorConfig(configFile string) (*IngestorConfig, error) {
	// A missing .env file is fine, variables may be set directly
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg IngestorConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "sensor-relay-" + uuid.New().String()[:8]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "9003")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("broker.host", "test.mosquitto.org")
	v.SetDefault("broker.port", 1883)
	v.SetDefault("broker.user", "")
	v.SetDefault("broker.pass", "")
	v.SetDefault("broker.tls", false)
	v.SetDefault("broker.ca_file", "")

	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.topics", []string{"IUT/Colmar2025/SAE2.04/Maison1", "IUT/Colmar2025/SAE2.04/Maison2"})
	v.SetDefault("mqtt.location_tokens", []string{"Maison1", "Maison2"})
	v.SetDefault("mqtt.keep_alive", "60s")
	v.SetDefault("mqtt.ping_timeout", "10s")
	v.SetDefault("mqtt.publish_timeout", "5s")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.name", "sae204")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.timeout", "5s")
	v.SetDefault("store.ensure_schema", true)

	v.SetDefault("buffer.path", "buffer.json")
	v.SetDefault("buffer.max_entries", 0)

	v.SetDefault("ingest.drain_interval", "10s")
	v.SetDefault("ingest.queue_size", 256)

	v.SetDefault("publish.interval", "5s")
	v.SetDefault("publish.topic_prefix", "IUT/Colmar2025/SAE2.04/JSON")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sensor_relay:latest")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.enable_caller", false)
}

// Validate validates the configuration
func (c *IngestorConfig) Validate() error {
	if c.Broker.Host == "" {
		return errors.New("BROKER_HOST is required")
	}
	if len(c.MQTT.Topics) == 0 {
		return errors.New("at least one MQTT topic is required")
	}
	if c.Buffer.Path == "" {
		return errors.New("BUFFER_PATH is required")
	}
	if c.Buffer.MaxEntries < 0 {
		return errors.New("buffer max entries must be >= 0")
	}
	if c.Ingest.DrainInterval <= 0 {
		return errors.New("drain interval must be > 0")
	}
	if c.Ingest.QueueSize <= 0 {
		return errors.New("ingest queue size must be > 0")
	}
	if c.Publish.Interval <= 0 {
		return errors.New("publish interval must be > 0")
	}
	if c.Store.Timeout <= 0 {
		return errors.New("store timeout must be > 0")
	}
	switch c.Store.Driver {
	case "postgres", "pgx", "sqlite3":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	return nil
}

// GetDatabaseDSN returns the database connection string
func (c *IngestorConfig) GetDatabaseDSN() string {
	if c.Store.DSN != "" {
		return c.Store.DSN
	}
	if c.Store.Driver == "sqlite3" {
		return c.Store.Name
	}
	connectTimeout := int(c.Store.Timeout.Seconds())
	if connectTimeout < 1 {
		connectTimeout = 1
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Store.Host, c.Store.Port, c.Store.User, c.Store.Password, c.Store.Name, c.Store.SSLMode, connectTimeout)
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *IngestorConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.Broker.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}
