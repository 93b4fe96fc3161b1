package oauth

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config describes the external provider configuration.
type Config struct {
	Providers              map[string]ProviderConfig
	LoginRedirectAllowlist []string
	StateTTL               time.Duration
}

// ProviderConfig describes a single external OAuth provider.
type ProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	// EmailsURL is an optional secondary endpoint for providers that do
	// not return an email address in the profile payload.
	EmailsURL string
	Scopes    []string
}

// oauthEnv holds raw env values for provider configuration.
type oauthEnv struct {
	LoginRedirects     []string      `env:"RELAY_AUTH_OAUTH_LOGIN_REDIRECTS"      envSeparator:","`
	StateTTL           time.Duration `env:"RELAY_AUTH_OAUTH_STATE_TTL"            envDefault:"15m"`
	GoogleClientID     string        `env:"RELAY_AUTH_OAUTH_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"RELAY_AUTH_OAUTH_GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURI  string        `env:"RELAY_AUTH_OAUTH_GOOGLE_REDIRECT_URI"`
	GoogleScopes       []string      `env:"RELAY_AUTH_OAUTH_GOOGLE_SCOPES"        envSeparator:","`
	GitHubClientID     string        `env:"RELAY_AUTH_OAUTH_GITHUB_CLIENT_ID"`
	GitHubClientSecret string        `env:"RELAY_AUTH_OAUTH_GITHUB_CLIENT_SECRET"`
	GitHubRedirectURI  string        `env:"RELAY_AUTH_OAUTH_GITHUB_REDIRECT_URI"`
	GitHubScopes       []string      `env:"RELAY_AUTH_OAUTH_GITHUB_SCOPES"        envSeparator:","`
}

// LoadConfigFromEnv loads provider configuration from environment variables.
// Providers without a complete client id, secret, and redirect URI are left
// unconfigured.
func LoadConfigFromEnv() Config {
	var raw oauthEnv
	if err := env.Parse(&raw); err != nil {
		return Config{StateTTL: 15 * time.Minute}
	}

	return Config{
		Providers:              buildProviders(raw),
		LoginRedirectAllowlist: trimCSV(raw.LoginRedirects),
		StateTTL:               raw.StateTTL,
	}
}

// trimCSV removes empty entries from a string slice.
func trimCSV(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func buildProviders(raw oauthEnv) map[string]ProviderConfig {
	providers := make(map[string]ProviderConfig)
	if raw.GoogleClientID != "" && raw.GoogleClientSecret != "" && raw.GoogleRedirectURI != "" {
		scopes := trimCSV(raw.GoogleScopes)
		if len(scopes) == 0 {
			scopes = []string{"openid", "email", "profile"}
		}
		providers["google"] = ProviderConfig{
			Name:         "Google",
			ClientID:     raw.GoogleClientID,
			ClientSecret: raw.GoogleClientSecret,
			RedirectURI:  raw.GoogleRedirectURI,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:       scopes,
		}
	}
	if raw.GitHubClientID != "" && raw.GitHubClientSecret != "" && raw.GitHubRedirectURI != "" {
		scopes := trimCSV(raw.GitHubScopes)
		if len(scopes) == 0 {
			scopes = []string{"read:user", "user:email"}
		}
		providers["github"] = ProviderConfig{
			Name:         "GitHub",
			ClientID:     raw.GitHubClientID,
			ClientSecret: raw.GitHubClientSecret,
			RedirectURI:  raw.GitHubRedirectURI,
			AuthURL:      "https://github.com/login/oauth/authorize",
			TokenURL:     "https://github.com/login/oauth/access_token",
			UserInfoURL:  "https://api.github.com/user",
			EmailsURL:    "https://api.github.com/user/emails",
			Scopes:       scopes,
		}
	}
	if len(providers) == 0 {
		return nil
	}
	return providers
}
