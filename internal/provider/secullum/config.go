package secullum

import (
	"os"
	"time"
)

const (
	// DefaultAuthBaseURL hosts the token and ledger listing endpoints.
	DefaultAuthBaseURL = "https://autenticador.secullum.com.br"

	// DefaultAPIBaseURL hosts the external integration data endpoints.
	DefaultAPIBaseURL = "https://pontowebintegracaoexterna.secullum.com.br/IntegracaoExterna"

	// DefaultClientID is the OAuth client id of the external integration.
	DefaultClientID = "3"

	// DefaultTimezone is the zone the provider reports Data/Hora in.
	DefaultTimezone = "America/Sao_Paulo"

	// ProviderName identifies this provider.
	ProviderName = "secullum"
)

// Config holds credentials and endpoints for the Secullum integration.
type Config struct {
	Username    string
	Password    string
	ClientID    string
	AuthBaseURL string
	APIBaseURL  string
	Timeout     time.Duration
	Location    *time.Location

	// LedgerID, when set, is selected at startup.
	LedgerID string
}

// Enabled reports whether credentials are configured.
func (c Config) Enabled() bool {
	return c.Username != "" && c.Password != ""
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() Config {
	timeout, err := time.ParseDuration(getEnvOrDefault("SECULLUM_TIMEOUT", "5s"))
	if err != nil {
		timeout = 5 * time.Second
	}

	return Config{
		Username:    os.Getenv("SECULLUM_USER"),
		Password:    os.Getenv("SECULLUM_PASSWORD"),
		ClientID:    getEnvOrDefault("SECULLUM_CLIENT_ID", DefaultClientID),
		AuthBaseURL: getEnvOrDefault("SECULLUM_AUTH_URL", DefaultAuthBaseURL),
		APIBaseURL:  getEnvOrDefault("SECULLUM_API_URL", DefaultAPIBaseURL),
		Timeout:     timeout,
		Location:    LoadLocation(getEnvOrDefault("SECULLUM_TIMEZONE", DefaultTimezone)),
		LedgerID:    os.Getenv("SECULLUM_LEDGER_ID"),
	}
}

// LoadLocation resolves a zone name, falling back to a fixed UTC-3 offset
// when the zone database is unavailable.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
