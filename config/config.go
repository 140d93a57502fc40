// Package config loads the demo application's startup parameters from an
// optional YAML file. The library's own Configure call takes programmatic
// arguments only and never touches files or the environment; everything
// here exists to bootstrap the cmd/demo and cmd/seeder processes hosting
// it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/resilor/config.yaml",
}

// Config holds everything the demo process needs to wire a Middleware.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Redis      RedisConfig      `koanf:"redis"`
	Gateway    GatewayConfig    `koanf:"gateway"`
	Twilio     TwilioConfig     `koanf:"twilio"`
	Middleware MiddlewareConfig `koanf:"middleware"`
}

// ServerConfig configures the demo's webhook HTTP server.
type ServerConfig struct {
	Port        string `koanf:"port"`
	Environment string `koanf:"environment"`
}

// DatabaseConfig selects the persistent queue backend. An empty URL makes
// the demo fall back to the in-memory store.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig enables publishing network-status transitions onto Redis
// Pub/Sub. Optional; an empty URL disables it.
type RedisConfig struct {
	URL string `koanf:"url"`
}

// GatewayConfig identifies the trusted SMS gateway and the credentials its
// webhook callers present.
type GatewayConfig struct {
	PhoneNumber string `koanf:"phone_number"`
	JWTSecret   string `koanf:"jwt_secret"`
	JWTIssuer   string `koanf:"jwt_issuer"`
}

// TwilioConfig holds the outbound SMS transport credentials. An empty
// AccountSID makes the demo use the in-memory SMS adapter instead.
type TwilioConfig struct {
	AccountSID      string `koanf:"account_sid"`
	AuthToken       string `koanf:"auth_token"`
	FromPhoneNumber string `koanf:"from_phone_number"`
}

// MiddlewareConfig carries the initial routing parameters handed to
// Initialize.
type MiddlewareConfig struct {
	Strategy         string        `koanf:"strategy"`
	SMSEnabled       bool          `koanf:"sms_enabled"`
	MaxQueueSize     int           `koanf:"max_queue_size"`
	ReliableEndpoint string        `koanf:"reliable_endpoint"`
	ProbeInterval    time.Duration `koanf:"probe_interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: "development",
		},
		Gateway: GatewayConfig{
			JWTIssuer: "resilor-gateway",
		},
		Middleware: MiddlewareConfig{
			Strategy:      "BALANCED",
			SMSEnabled:    true,
			MaxQueueSize:  1000,
			ProbeInterval: 15 * time.Second,
		},
	}
}

// Load builds a Config from defaults merged with the first readable YAML
// file: path when non-empty, otherwise the DefaultConfigPaths. A missing
// file is not an error; the defaults stand alone.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	paths := DefaultConfigPaths
	if path != "" {
		paths = []string{path}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		break
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Server.Environment == "production" && cfg.Gateway.JWTSecret == "" {
		return nil, fmt.Errorf("gateway.jwt_secret is required in production")
	}
	return &cfg, nil
}

// SecretCache is the demo's on-disk record of which secrets it was last
// started with. Only bcrypt hashes are written, never the secrets
// themselves; on the next start the live config is verified against the
// cache so a silently rotated gateway secret is noticed at boot rather
// than at the first rejected webhook.
type SecretCache struct {
	GatewaySecretHash string `json:"gateway_secret_hash,omitempty"`
	TwilioTokenHash   string `json:"twilio_token_hash,omitempty"`
}

// WriteSecretCache hashes the config's secrets and writes the cache to
// path with owner-only permissions.
func (c *Config) WriteSecretCache(path string) error {
	var cache SecretCache
	if c.Gateway.JWTSecret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Gateway.JWTSecret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash gateway secret: %w", err)
		}
		cache.GatewaySecretHash = string(hash)
	}
	if c.Twilio.AuthToken != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(c.Twilio.AuthToken), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash twilio token: %w", err)
		}
		cache.TwilioTokenHash = string(hash)
	}

	data, err := json.Marshal(cache)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// VerifySecretCache reports whether the live config's secrets match the
// hashes cached at path. A missing cache file verifies trivially.
func (c *Config) VerifySecretCache(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var cache SecretCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return false, fmt.Errorf("parse secret cache: %w", err)
	}

	if cache.GatewaySecretHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(cache.GatewaySecretHash), []byte(c.Gateway.JWTSecret)) != nil {
			return false, nil
		}
	}
	if cache.TwilioTokenHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(cache.TwilioTokenHash), []byte(c.Twilio.AuthToken)) != nil {
			return false, nil
		}
	}
	return true, nil
}
