package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// ClientConfig holds all necessary configuration for the Paho MQTT client.
// It defines connection parameters and security settings; the subscription
// filters are derived from the rule set and passed to the consumer directly.
type ClientConfig struct {
	// BrokerURL is the full URL of the MQTT broker to connect to.
	// Example: "tls://mqtt.example.com:8883"
	BrokerURL string
	// ClientIDPrefix is a prefix for the MQTT client ID. A unique suffix is
	// automatically added to ensure client uniqueness, which is required by most brokers.
	ClientIDPrefix string
	// Username for authenticating with the MQTT broker.
	Username string
	// Password for authenticating with the MQTT broker.
	Password string
	// KeepAlive is the interval at which the client sends keep-alive pings to the broker.
	KeepAlive time.Duration
	// ConnectTimeout is the timeout for the initial connection attempt.
	ConnectTimeout time.Duration
	// ReconnectWaitMax is the maximum time to wait between reconnect attempts.
	ReconnectWaitMax time.Duration
	// CACertFile is an optional path to a CA certificate file for verifying the broker's certificate.
	CACertFile string
	// ClientCertFile is an optional path to a client certificate file for mTLS authentication.
	ClientCertFile string
	// ClientKeyFile is an optional path to a client key file for mTLS authentication.
	ClientKeyFile string
	// InsecureSkipVerify skips TLS certificate verification.
	// This is NOT recommended for production environments.
	InsecureSkipVerify bool
}

// Env constants for MQTT settings.
const (
	EnvMqttBrokerURL             = "MQTT_BROKER_URL"
	EnvMqttUsername              = "MQTT_USERNAME"
	EnvMqttPassword              = "MQTT_PASSWORD"
	EnvMqttSkipVerify            = "MQTT_INSECURE_SKIP_VERIFY"
	EnvMqttKeepAliveSeconds      = "MQTT_KEEP_ALIVE_SECONDS"
	EnvMqttConnectTimeoutSeconds = "MQTT_CONNECT_TIMEOUT_SECONDS"
)

// LoadClientConfigWithEnv loads MQTT operational configuration from environment
// variables, populating timeouts and keep-alive intervals with sensible
// defaults when the variables are not set.
func LoadClientConfigWithEnv() *ClientConfig {
	cfg := &ClientConfig{
		KeepAlive:        60 * time.Second,
		ConnectTimeout:   10 * time.Second,
		ReconnectWaitMax: 120 * time.Second,
		ClientIDPrefix:   "gateway-fleet-",
	}
	if url := os.Getenv(EnvMqttBrokerURL); url != "" {
		cfg.BrokerURL = url
	}
	cfg.Username = os.Getenv(EnvMqttUsername)
	cfg.Password = os.Getenv(EnvMqttPassword)
	if skipVerify := os.Getenv(EnvMqttSkipVerify); skipVerify == "true" {
		cfg.InsecureSkipVerify = true
	}

	if ka := os.Getenv(EnvMqttKeepAliveSeconds); ka != "" {
		s, err := time.ParseDuration(ka + "s")
		if err == nil {
			cfg.KeepAlive = s
		} else {
			log.Printf("mqtt: error parsing keepAlive seconds: %s, using default", err)
		}
	}
	if ct := os.Getenv(EnvMqttConnectTimeoutSeconds); ct != "" {
		s, err := time.ParseDuration(ct + "s")
		if err == nil {
			cfg.ConnectTimeout = s
		} else {
			log.Printf("mqtt: error parsing connect timeout seconds: %s, using default", err)
		}
	}

	return cfg
}

// newTLSConfig is a helper to create a tls.Config.
func newTLSConfig(cfg *ClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}
	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
