package token

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/relaynotify/relay/internal/platform/duration"
)

// tokenEnv holds raw env values before post-parse validation.
type tokenEnv struct {
	AccessSecret  string            `env:"RELAY_AUTH_ACCESS_SECRET"`
	RefreshSecret string            `env:"RELAY_AUTH_REFRESH_SECRET"`
	AccessTTL     duration.Duration `env:"RELAY_AUTH_ACCESS_TTL"  envDefault:"15m"`
	RefreshTTL    duration.Duration `env:"RELAY_AUTH_REFRESH_TTL" envDefault:"7d"`
	Issuer        string            `env:"RELAY_AUTH_ISSUER"      envDefault:"relay-auth"`
}

// Config defines how access and refresh tokens are signed and how long they
// live. Access and refresh tokens use separate HMAC secrets so a leaked
// access secret cannot forge refresh credentials.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     duration.Duration
	RefreshTTL    duration.Duration
	Issuer        string
}

// LoadConfigFromEnv reads token signing configuration.
func LoadConfigFromEnv() (Config, error) {
	var raw tokenEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse token env: %w", err)
	}

	accessSecret := strings.TrimSpace(raw.AccessSecret)
	refreshSecret := strings.TrimSpace(raw.RefreshSecret)
	if accessSecret == "" {
		return Config{}, fmt.Errorf("RELAY_AUTH_ACCESS_SECRET is required")
	}
	if refreshSecret == "" {
		return Config{}, fmt.Errorf("RELAY_AUTH_REFRESH_SECRET is required")
	}
	if accessSecret == refreshSecret {
		return Config{}, fmt.Errorf("access and refresh secrets must differ")
	}

	return Config{
		AccessSecret:  []byte(accessSecret),
		RefreshSecret: []byte(refreshSecret),
		AccessTTL:     raw.AccessTTL,
		RefreshTTL:    raw.RefreshTTL,
		Issuer:        strings.TrimSpace(raw.Issuer),
	}, nil
}
