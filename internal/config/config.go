// Package config loads the per-process configuration once at start. There is
// no mutable process-wide state beyond this: every worker receives a Config
// value and holds it for its lifetime.
//
// Secrets (document-store DSN, source credentials) may be overlaid from a
// Vault KV v2 path when VAULT_ADDR is set; plain environment variables are
// the fallback for local development.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is the full configuration surface of a pipeline process.
type Config struct {
	// Message log.
	KafkaBootstrapServers []string
	KafkaGroupID          string
	KafkaClientID         string
	KafkaAutoOffsetReset  string // "earliest" or "latest"

	// Document store.
	PostgresURL string

	// Authenticated source.
	SessionStorageDir string
	SourceUsername    string
	SourcePassword    string

	// Telemetry. Empty disables the OTLP exporter.
	OTELEndpoint string
}

// Defaults that hold when the environment is silent.
const (
	DefaultGroupID         = "scrawler_handshake"
	defaultAutoOffsetReset = "earliest"
)

// FromEnv builds a Config from the environment, applying the Vault overlay
// when VAULT_ADDR is set.
func FromEnv() (Config, error) {
	cfg := Config{
		KafkaGroupID:         envOr("KAFKA_GROUP_ID", DefaultGroupID),
		KafkaClientID:        os.Getenv("KAFKA_CLIENT_ID"),
		KafkaAutoOffsetReset: envOr("KAFKA_AUTO_OFFSET_RESET", defaultAutoOffsetReset),
		PostgresURL:          os.Getenv("POSTGRES_URL"),
		SessionStorageDir:    os.Getenv("SESSION_STORAGE"),
		SourceUsername:       os.Getenv("USER_APP_HANDSHAKE_COM"),
		SourcePassword:       os.Getenv("PASS_APP_HANDSHAKE_COM"),
		OTELEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if servers := os.Getenv("KAFKA_BOOTSTRAP_SERVERS"); servers != "" {
		cfg.KafkaBootstrapServers = splitServers(servers)
	}

	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		manager, err := NewSecretManager(addr, envOr("VAULT_TOKEN", "root"))
		if err != nil {
			return Config{}, err
		}
		secrets, err := manager.GetKV2(envOr("VAULT_SECRET_PATH", "secret/data/scrawler"))
		if err != nil {
			return Config{}, fmt.Errorf("failed to load secrets from Vault: %w", err)
		}
		cfg.applySecrets(secrets)
	}

	return cfg, cfg.validate()
}

func (c *Config) applySecrets(secrets map[string]interface{}) {
	if v, ok := secrets["PG_URL"].(string); ok && v != "" {
		c.PostgresURL = v
	}
	if v, ok := secrets["KAFKA_BOOTSTRAP_SERVERS"].(string); ok && v != "" {
		c.KafkaBootstrapServers = splitServers(v)
	}
	if v, ok := secrets["USER_APP_HANDSHAKE_COM"].(string); ok && v != "" {
		c.SourceUsername = v
	}
	if v, ok := secrets["PASS_APP_HANDSHAKE_COM"].(string); ok && v != "" {
		c.SourcePassword = v
	}
}

func (c Config) validate() error {
	if len(c.KafkaBootstrapServers) == 0 {
		return fmt.Errorf("config: KAFKA_BOOTSTRAP_SERVERS is required")
	}
	if c.PostgresURL == "" {
		return fmt.Errorf("config: POSTGRES_URL is required")
	}
	switch c.KafkaAutoOffsetReset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("config: unsupported auto offset reset %q", c.KafkaAutoOffsetReset)
	}
	return nil
}

func splitServers(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
