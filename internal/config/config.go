// Package config loads codeshelf settings from the environment.
//
// Values come from, in increasing priority: defaults in the struct tags, a
// .env file (optional), then real environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Log formats accepted in LOG_FORMAT.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is every setting the server and CLI read.
type Config struct {
	Port      int    `envconfig:"PORT" default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"data/codeshelf.db"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWTTTL       time.Duration `envconfig:"JWT_TTL" default:"24h"`
	CookieSecure bool          `envconfig:"COOKIE_SECURE" default:"false"`

	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `envconfig:"GITHUB_CALLBACK_URL"`

	// CORSOrigins is comma-separated. Empty allows any origin, which also
	// opens the WebSocket endpoint to any origin.
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	ExplainAPIKey  string        `envconfig:"EXPLAIN_API_KEY"`
	ExplainBaseURL string        `envconfig:"EXPLAIN_BASE_URL"`
	ExplainModel   string        `envconfig:"EXPLAIN_MODEL"`
	ExplainTimeout time.Duration `envconfig:"EXPLAIN_TIMEOUT" default:"60s"`
}

// Load reads envFile (".env" when empty; a missing file is not an error)
// and then the environment.
func Load(envFile string) (Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	origins := c.CORSOrigins[:0]
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins

	if c.GitHubCallbackURL == "" {
		c.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", c.Port)
	}
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.LogLevel, validation.In("DEBUG", "INFO", "WARN", "WARNING", "ERROR")),
		validation.Field(&c.LogFormat, validation.In(LogFormatText, LogFormatJSON)),
	)
}

// ValidateServer adds the session settings only the HTTP server uses.
func (c *Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.JWTSecret,
			validation.Required.Error("is required; generate one with `openssl rand -hex 32`"),
			validation.Length(16, 0)),
		validation.Field(&c.JWTTTL, validation.Min(time.Minute)),
	)
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// EnsureDataDir creates the directory that holds the database file.
func (c Config) EnsureDataDir() error {
	if c.DBPath == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(c.DBPath), 0o755)
}

// GitHubEnabled reports whether both OAuth credentials are set.
func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// LogAttrs summarises the effective settings without secrets.
func (c Config) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.Int("port", c.Port),
		slog.String("database", c.DBPath),
		slog.String("log_level", c.LogLevel),
		slog.Bool("github_login", c.GitHubEnabled()),
		slog.Bool("explain", c.ExplainAPIKey != ""),
		slog.Int("cors_origins", len(c.CORSOrigins)),
	}
}

// NewLogger builds the process logger. The mcp command passes os.Stderr
// because stdout carries the protocol.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if c.LogFormat == LogFormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
