package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config carries every runtime setting of the API process. All values come
// from the environment; nothing in the tree reads os.Getenv directly so
// tests can construct a Config by hand.
type Config struct {
	Port        string
	Environment string // "production" tightens cookie and key handling

	// PostgreSQL connection settings
	PostgresDSN      string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// RS256 key material for access/refresh tokens. Either the PEM blobs
	// or file paths must be provided.
	JWTPrivatePEM     string
	JWTPublicPEM      string
	JWTPrivateKeyPath string
	JWTPublicKeyPath  string

	// Cookie scope
	CookieDomain string
	CookieSecure bool

	// Absolute base URL of this API, used to build OAuth redirect URIs.
	PublicURL string
	// Where the user agent lands after a successful federated login.
	AfterAuthURL string
	// Browser origin allowed for credentialed CORS requests.
	AppOrigin string

	GoogleClientID       string
	GoogleClientSecret   string
	FacebookClientID     string
	FacebookClientSecret string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// IsProduction reports whether the process runs with production hardening.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DSN returns the PostgreSQL DSN, assembling one from the individual
// settings when KONTOROS_PG_DSN is not set.
func (c *Config) DSN() (string, error) {
	if c.PostgresDSN != "" {
		return c.PostgresDSN, nil
	}
	if c.PostgresHost == "" {
		return "", errors.New("KONTOROS_PG_HOST or KONTOROS_PG_DSN must be set")
	}
	if c.PostgresUser == "" {
		return "", errors.New("KONTOROS_PG_USER must be set")
	}
	if c.PostgresDB == "" {
		return "", errors.New("KONTOROS_PG_DB must be set")
	}

	port := c.PostgresPort
	if port == "" {
		port = "5432"
	}
	sslMode := c.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s",
		c.PostgresHost, port, c.PostgresUser, c.PostgresDB, sslMode)
	if c.PostgresPassword != "" {
		dsn += " password=" + c.PostgresPassword
	}
	return dsn, nil
}

// JWTKeys returns the private and public PEM blocks, loading them from disk
// when only paths were configured.
func (c *Config) JWTKeys() (privatePEM, publicPEM string, err error) {
	privatePEM = c.JWTPrivatePEM
	publicPEM = c.JWTPublicPEM
	if privatePEM == "" && c.JWTPrivateKeyPath != "" {
		data, err := os.ReadFile(c.JWTPrivateKeyPath)
		if err != nil {
			return "", "", fmt.Errorf("read private key: %w", err)
		}
		privatePEM = string(data)
	}
	if publicPEM == "" && c.JWTPublicKeyPath != "" {
		data, err := os.ReadFile(c.JWTPublicKeyPath)
		if err != nil {
			return "", "", fmt.Errorf("read public key: %w", err)
		}
		publicPEM = string(data)
	}
	if privatePEM == "" || publicPEM == "" {
		return "", "", errors.New("JWT signing keys are not configured")
	}
	return privatePEM, publicPEM, nil
}

// New loads and validates the configuration from the environment.
func New() (*Config, error) {
	c := &Config{
		Port:        getenv("PORT", "8080"),
		Environment: getenv("KONTOROS_ENV", getenv("ENV", "")),

		PostgresDSN:      getenv("KONTOROS_PG_DSN", ""),
		PostgresHost:     getenv("KONTOROS_PG_HOST", "localhost"),
		PostgresPort:     getenv("KONTOROS_PG_PORT", "5432"),
		PostgresUser:     getenv("KONTOROS_PG_USER", "kontoros"),
		PostgresPassword: getenv("KONTOROS_PG_PASSWORD", ""),
		PostgresDB:       getenv("KONTOROS_PG_DB", "kontoros"),
		PostgresSSLMode:  getenv("KONTOROS_PG_SSLMODE", ""),

		JWTPrivatePEM:     getenv("KONTOROS_JWT_PRIVATE_PEM", ""),
		JWTPublicPEM:      getenv("KONTOROS_JWT_PUBLIC_PEM", ""),
		JWTPrivateKeyPath: getenv("KONTOROS_JWT_PRIVATE_KEY_PATH", ""),
		JWTPublicKeyPath:  getenv("KONTOROS_JWT_PUBLIC_KEY_PATH", ""),

		CookieDomain: getenv("KONTOROS_COOKIE_DOMAIN", ""),

		PublicURL:    strings.TrimRight(getenv("KONTOROS_PUBLIC_URL", "http://localhost:8080"), "/"),
		AfterAuthURL: getenv("KONTOROS_AFTER_AUTH_URL", "/"),
		AppOrigin:    getenv("KONTOROS_APP_ORIGIN", ""),

		GoogleClientID:       getenv("KONTOROS_GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:   getenv("KONTOROS_GOOGLE_CLIENT_SECRET", ""),
		FacebookClientID:     getenv("KONTOROS_FB_CLIENT_ID", ""),
		FacebookClientSecret: getenv("KONTOROS_FB_CLIENT_SECRET", ""),
	}

	// Secure cookies everywhere except local development over plain HTTP.
	c.CookieSecure = c.IsProduction() || strings.HasPrefix(c.PublicURL, "https://")

	if c.IsProduction() {
		if _, _, err := c.JWTKeys(); err != nil {
			return nil, err
		}
		if _, err := c.DSN(); err != nil {
			return nil, err
		}
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return nil, fmt.Errorf("invalid PORT: %s", c.Port)
	}

	return c, nil
}
