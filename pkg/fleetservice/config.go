// Package fleetservice assembles the fleet telemetry service: broker intake,
// rule routing, event-sourced gateway state, and the HTTP query surface.
package fleetservice

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MQTTConfig holds the broker connection settings loaded from YAML. TLS,
// credentials, and timeouts come from the environment via
// mqtt.LoadClientConfigWithEnv; only deploy-static settings live here.
type MQTTConfig struct {
	BrokerURL      string `yaml:"broker_url"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
}

// IngressConfig sizes the ingress loop and its dispatch pool.
type IngressConfig struct {
	NumWorkers     int `yaml:"num_workers"`
	PoolWorkers    int `yaml:"pool_workers"`
	PoolQueueDepth int `yaml:"pool_queue_depth"`
}

// RedisCacheConfig configures the optional projection cache.
type RedisCacheConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// BridgeConfig configures the optional Pub/Sub mirror for republished traffic.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled"`
	TopicID string `yaml:"topic_id"`
}

// ArchiveConfig configures the optional cold-path sinks.
type ArchiveConfig struct {
	EventsEnabled   bool   `yaml:"events_enabled"`
	EventsDatasetID string `yaml:"events_dataset_id"`
	EventsTableID   string `yaml:"events_table_id"`
	RawEnabled      bool   `yaml:"raw_enabled"`
	RawBucket       string `yaml:"raw_bucket"`
	RawObjectPrefix string `yaml:"raw_object_prefix"`
}

// Config holds the full service configuration.
type Config struct {
	LogLevel        string `yaml:"log_level"`
	HTTPPort        string `yaml:"http_port"`
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	ServiceName     string `yaml:"service_name"`

	// RulesFile points at the JSON routing rule document.
	RulesFile string `yaml:"rules_file"`

	MQTT    MQTTConfig       `yaml:"mqtt"`
	Ingress IngressConfig    `yaml:"ingress"`
	Redis   RedisCacheConfig `yaml:"redis"`
	Bridge  BridgeConfig     `yaml:"bridge"`
	Archive ArchiveConfig    `yaml:"archive"`
}

// NewConfigDefaults provides a config with sensible defaults applied.
func NewConfigDefaults() *Config {
	return &Config{
		LogLevel:    "info",
		HTTPPort:    ":8080",
		ServiceName: "gateway-fleet",
		Ingress: IngressConfig{
			NumWorkers:     4,
			PoolWorkers:    8,
			PoolQueueDepth: 128,
		},
	}
}

// LoadConfig reads and validates a YAML config file. Validation failures here
// are fatal at load time; a service with a broken config must not start.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := NewConfigDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running service cannot do without.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("http_port is required")
	}
	if c.RulesFile == "" {
		return fmt.Errorf("rules_file is required")
	}
	if c.Ingress.NumWorkers <= 0 {
		return fmt.Errorf("ingress.num_workers must be positive")
	}
	if c.Bridge.Enabled && c.Bridge.TopicID == "" {
		return fmt.Errorf("bridge.topic_id is required when the bridge is enabled")
	}
	if c.Archive.EventsEnabled && (c.Archive.EventsDatasetID == "" || c.Archive.EventsTableID == "") {
		return fmt.Errorf("archive.events_dataset_id and archive.events_table_id are required when event archiving is enabled")
	}
	if c.Archive.RawEnabled && c.Archive.RawBucket == "" {
		return fmt.Errorf("archive.raw_bucket is required when raw archiving is enabled")
	}
	return nil
}
