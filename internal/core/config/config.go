// Package config provides configuration management for the abusefilter service.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Cache    CacheConfig
	Actions  ActionsConfig
	// Groups maps action kinds to rule groups.
	Groups map[string]string
	// Emergency holds throttle thresholds per rule group; "default"
	// applies to groups without an entry.
	Emergency map[string]Thresholds
	// Messages overrides user-visible message templates by key.
	Messages map[string]string
	Sets     SetsConfig
}

// ServerConfig holds configuration for the gRPC FilterAPI service.
type ServerConfig struct {
	Host           string
	Port           int
	MaxConnections int
	RequestTimeout time.Duration
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string
}

type DatabaseConfig struct {
	URL string
}

// RedisConfig selects redis-backed counters, caches and tags. An empty URL
// keeps everything in process.
type RedisConfig struct {
	URL string
}

// EngineConfig bounds rule evaluation.
type EngineConfig struct {
	OperationBudget  int
	RegexTimeout     time.Duration
	CompileCacheSize int
	PatternCacheSize int
}

type CacheConfig struct {
	Size     int
	WarnTTL  time.Duration
	StashTTL time.Duration
	TagTTL   time.Duration
}

// ActionsConfig tunes consequences.
type ActionsConfig struct {
	BlockDuration     time.Duration
	ProfileActionsCap int64
}

// SetsConfig points at the named value sets file and the set holding
// blocked external domains.
type SetsConfig struct {
	File             string
	BlockedDomainSet string
}

// Thresholds mirrors the emergency watcher settings of one group.
type Thresholds struct {
	Count     int64         `mapstructure:"count"`
	Threshold float64       `mapstructure:"threshold"`
	Age       time.Duration `mapstructure:"age"`
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			MaxConnections: 1000,
			RequestTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{URL: "sqlite://./data/abusefilter.db"},
		Engine: EngineConfig{
			OperationBudget:  1000,
			RegexTimeout:     250 * time.Millisecond,
			CompileCacheSize: 4096,
			PatternCacheSize: 512,
		},
		Cache: CacheConfig{
			Size:     10_000,
			WarnTTL:  24 * time.Hour,
			StashTTL: 5 * time.Minute,
			TagTTL:   7 * 24 * time.Hour,
		},
		Actions: ActionsConfig{
			BlockDuration:     0,
			ProfileActionsCap: 10_000,
		},
		Groups:    map[string]string{},
		Emergency: map[string]Thresholds{},
		Messages:  map[string]string{},
	}
}

// HMACSecrets extracts HMAC secrets from environment variables.
// Supports AF_HMAC_SECRET (single) and AF_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
// Secret IDs are 32 hex chars matching the API key format.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	// Format: <secret_id>:<base64_secret>
	if val := os.Getenv("AF_HMAC_SECRET"); val != "" {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("AF_HMAC_SECRET: %w", err)
		}
		secrets[secretID] = decoded
	}

	// Multiple secrets enable rotation: old and new keys valid during migration
	for i := 1; ; i++ {
		key := fmt.Sprintf("AF_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return nil, fmt.Errorf("duplicate secret_id '%s' found in environment variables (check AF_HMAC_SECRET and AF_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
	}

	return secrets, nil
}

// ParseHMACSecret decodes a base64-encoded HMAC secret.
func ParseHMACSecret(envValue string) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envValue))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(decoded) < 32 {
		return nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(decoded))
	}
	return decoded, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 lowercase hex chars.
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = ParseHMACSecret(parts[1])
	if err != nil {
		return "", nil, err
	}
	return secretID, secret, nil
}
