// Package dbconfig resolves Postgres connection settings from the
// environment. A full DATABASE_URL wins; otherwise the DSN is assembled
// from the individual DB_* variables with local-development defaults.
package dbconfig

import (
	"net"
	"net/url"
	"os"
	"strconv"
)

// Config holds Postgres connection settings.
type Config struct {
	// URL is a complete DSN override. When set it is used verbatim and
	// the remaining fields only feed connection logging.
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads DATABASE_URL and the DB_* variables.
func NewConfigFromEnv() Config {
	cfg := Config{
		URL:      os.Getenv("DATABASE_URL"),
		Host:     envOr("DB_HOST", "localhost"),
		Port:     5432,
		User:     envOr("DB_USER", "postgres"),
		Password: envOr("DB_PASSWORD", "postgres"),
		Database: envOr("DB_NAME", "triviarena"),
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	if p, err := strconv.Atoi(envOr("DB_PORT", "5432")); err == nil {
		cfg.Port = p
	}
	if cfg.URL != "" {
		cfg.adoptURL()
	}
	return cfg
}

// adoptURL copies the loggable parts of the DSN override into the
// individual fields so connection logs report the real target.
func (c *Config) adoptURL() {
	u, err := url.Parse(c.URL)
	if err != nil {
		return
	}
	if h := u.Hostname(); h != "" {
		c.Host = h
	}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		c.Port = p
	}
	if u.User != nil {
		c.User = u.User.Username()
	}
	if len(u.Path) > 1 {
		c.Database = u.Path[1:]
	}
}

// DSN returns the Postgres connection URL with escaped credentials.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
