package config

import (
	"os"
	"testing"
)

func TestSecretsAreEnvironmentOnly(t *testing.T) {
	t.Run("environment secret accessible via HMACSecrets", func(t *testing.T) {
		os.Setenv("AF_HMAC_SECRET", "0123456789abcdef0123456789abcdef:dGVzdHNlY3JldDEyMzQ1Njc4OTBhYmNkZWZnaGlqa2xtbm9w")
		defer os.Unsetenv("AF_HMAC_SECRET")

		secrets, err := HMACSecrets()
		if err != nil {
			t.Fatalf("HMACSecrets() error = %v, want nil", err)
		}
		if _, ok := secrets["0123456789abcdef0123456789abcdef"]; !ok {
			t.Fatal("secret not accessible")
		}

		// an environment secret must not trip the config file check
		if _, err := LoadConfig(""); err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
	})

	t.Run("config file with hmac_secret rejected", func(t *testing.T) {
		path := writeConfig(t, `server:
  host: "localhost"
  port: 8080
  hmac_secret: "should_be_rejected"
`)
		_, err := LoadConfig(path)
		if err == nil {
			t.Fatal("expected error for secret in config file")
		}
		if err.Error() != "HMAC secrets not allowed in config files (use AF_HMAC_SECRET environment variable)" {
			t.Fatalf("wrong error message: %v", err)
		}
	})

	t.Run("environment overrides config file", func(t *testing.T) {
		os.Setenv("AF_SERVER_PORT", "8080")
		defer os.Unsetenv("AF_SERVER_PORT")

		path := writeConfig(t, `server:
  port: 9090
`)
		cfg, err := LoadConfig(path)
		if err != nil {
			t.Fatalf("LoadConfig() error = %v, want nil", err)
		}
		if cfg.Server.Port != 8080 {
			t.Fatalf("expected 8080 from environment, got %d", cfg.Server.Port)
		}
	})
}
