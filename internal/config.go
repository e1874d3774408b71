package internal

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/kodebase/internal/cascade"
	"github.com/starford/kodebase/internal/telemetry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Artifacts ArtifactsConfig   `yaml:"artifacts"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Cascade   CascadeConfig     `yaml:"cascade"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Artifacts.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.Cascade.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level    `yaml:"log_level"`
	LogFile  LogFileConfig `yaml:"log_file"`
	HTTP     HTTPConfig    `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.LogFile.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// NewLogger builds the JSON logger. Without a log file path it writes to w.
func (c *ApplicationConfig) NewLogger(w io.Writer) *slog.Logger {
	if c.LogFile.Path != "" {
		w = c.LogFile.Writer()
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}

// LogFileConfig configures a rotating log file.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Validate validates the log file configuration.
func (c *LogFileConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.When(c.Path != "", validation.Required, validation.Min(1))),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// Writer returns a rotating writer for the configured path.
func (c *LogFileConfig) Writer() io.Writer {
	return &lumberjack.Logger{
		Filename:   c.Path,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ArtifactsConfig holds the directory the artifact records live in.
type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

// Validate validates the artifacts configuration.
func (c *ArtifactsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// CascadeConfig controls how mutations are attributed and serialised.
type CascadeConfig struct {
	// DefaultActor is recorded on cascade events when the caller gives none.
	DefaultActor string `yaml:"default_actor"`
	// LockFile is taken around every mutation. Relative paths resolve
	// against the artifacts root.
	LockFile string `yaml:"lock_file"`
	// LockWait bounds how long a mutation retries a held lock.
	LockWait time.Duration `yaml:"lock_wait"`
}

// Validate validates the cascade configuration.
func (c *CascadeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultActor, validation.Required),
		validation.Field(&c.LockFile, validation.Required),
		validation.Field(&c.LockWait, validation.Min(time.Duration(0))),
	)
}

// LockPath resolves LockFile against root.
func (c *CascadeConfig) LockPath(root string) string {
	if filepath.IsAbs(c.LockFile) {
		return c.LockFile
	}
	return filepath.Join(root, c.LockFile)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			LogFile: LogFileConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Artifacts: ArtifactsConfig{
			Root: ".kodebase/artifacts",
		},
		SQLite: SQLiteConfig{
			Path: ".kodebase/index.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Cascade: CascadeConfig{
			DefaultActor: cascade.DefaultActor,
			LockFile:     ".cascade.lock",
			LockWait:     10 * time.Second,
		},
	}
}
