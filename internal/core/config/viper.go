package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// secretKeys may only come from the environment.
var secretKeys = []string{"hmac_secret", "server.hmac_secret"}

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// bound by the caller through Bind.
func LoadConfig(configPath string) (*Config, error) {
	return Load(viper.New(), configPath)
}

// Load reads configuration through v, which may already carry flag bindings.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v, DefaultConfig())

	// Bind environment variables with AF_ prefix
	v.SetEnvPrefix("AF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Secrets must be environment-only per 12-factor principles
	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			MaxConnections: v.GetInt("server.max_connections"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MetricsAddr:    v.GetString("server.metrics_addr"),
		},
		Database: DatabaseConfig{URL: v.GetString("database.url")},
		Redis:    RedisConfig{URL: v.GetString("redis.url")},
		Engine: EngineConfig{
			OperationBudget:  v.GetInt("engine.operation_budget"),
			RegexTimeout:     v.GetDuration("engine.regex_timeout"),
			CompileCacheSize: v.GetInt("engine.compile_cache_size"),
			PatternCacheSize: v.GetInt("engine.pattern_cache_size"),
		},
		Cache: CacheConfig{
			Size:     v.GetInt("cache.size"),
			WarnTTL:  v.GetDuration("cache.warn_ttl"),
			StashTTL: v.GetDuration("cache.stash_ttl"),
			TagTTL:   v.GetDuration("cache.tag_ttl"),
		},
		Actions: ActionsConfig{
			BlockDuration:     v.GetDuration("actions.block_duration"),
			ProfileActionsCap: v.GetInt64("actions.profile_actions_cap"),
		},
		Groups:   v.GetStringMapString("groups"),
		Messages: v.GetStringMapString("messages"),
		Sets: SetsConfig{
			File:             v.GetString("sets.file"),
			BlockedDomainSet: v.GetString("sets.blocked_domain_set"),
		},
	}
	if err := v.UnmarshalKey("emergency", &cfg.Emergency); err != nil {
		return nil, fmt.Errorf("invalid emergency thresholds: %w", err)
	}
	if cfg.Emergency == nil {
		cfg.Emergency = map[string]Thresholds{}
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_connections", d.Server.MaxConnections)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.metrics_addr", "")
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("redis.url", "")
	v.SetDefault("engine.operation_budget", d.Engine.OperationBudget)
	v.SetDefault("engine.regex_timeout", d.Engine.RegexTimeout.String())
	v.SetDefault("engine.compile_cache_size", d.Engine.CompileCacheSize)
	v.SetDefault("engine.pattern_cache_size", d.Engine.PatternCacheSize)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("cache.warn_ttl", d.Cache.WarnTTL.String())
	v.SetDefault("cache.stash_ttl", d.Cache.StashTTL.String())
	v.SetDefault("cache.tag_ttl", d.Cache.TagTTL.String())
	v.SetDefault("actions.block_duration", d.Actions.BlockDuration.String())
	v.SetDefault("actions.profile_actions_cap", d.Actions.ProfileActionsCap)
	v.SetDefault("sets.file", "")
	v.SetDefault("sets.blocked_domain_set", "")
}

// validateConfig checks port range and positive engine and cache bounds.
func validateConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Server.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive, got %d", cfg.Server.MaxConnections)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url must be set")
	}
	if cfg.Engine.OperationBudget <= 0 {
		return fmt.Errorf("operation_budget must be positive, got %d", cfg.Engine.OperationBudget)
	}
	if cfg.Engine.RegexTimeout <= 0 {
		return fmt.Errorf("regex_timeout must be positive, got %v", cfg.Engine.RegexTimeout)
	}
	if cfg.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", cfg.Cache.Size)
	}
	if cfg.Actions.BlockDuration < 0 {
		return fmt.Errorf("block_duration must not be negative, got %v", cfg.Actions.BlockDuration)
	}
	for group, th := range cfg.Emergency {
		if th.Count < 0 || th.Threshold < 0 || th.Threshold > 1 || th.Age < 0 {
			return fmt.Errorf("emergency thresholds for %s out of range", group)
		}
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range secretKeys {
		if v.InConfig(key) {
			return fmt.Errorf("HMAC secrets not allowed in config files (use AF_HMAC_SECRET environment variable)")
		}
	}
	return nil
}
