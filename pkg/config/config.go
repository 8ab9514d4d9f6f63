package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blinkup/internal/devicefactory"
	"github.com/srg/blinkup/internal/provision"
	"github.com/srg/blinkup/scanner"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BLINKUP_"

var outputFormats = []string{"table", "json"}

// EnrollmentConfig configures the enrollment service client.
type EnrollmentConfig struct {
	BaseURL        string        `yaml:"base_url" default:"https://api.electricimp.com/v1"`
	PollTimeout    time.Duration `yaml:"poll_timeout" default:"60s"`
	PollInterval   time.Duration `yaml:"poll_interval" default:"2s"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"10s"`
}

// CredentialsConfig locates the credential store.
type CredentialsConfig struct {
	// Dir defaults to the per-user config directory when empty.
	Dir string `yaml:"dir"`
}

// MQTTConfig enables event publishing when Broker is set.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic" default:"blinkup/events"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config holds application configuration
type Config struct {
	LogLevel       string                `yaml:"log_level" default:"warn"`
	Backend        string                `yaml:"backend" default:"goble"`
	ScanTimeout    time.Duration         `yaml:"scan_timeout" default:"15s"`
	ConnectTimeout time.Duration         `yaml:"connect_timeout" default:"15s"`
	PinRetry       provision.RetryPolicy `yaml:"pin_retry"`
	GraceDelay     time.Duration         `yaml:"grace_delay" default:"3s"`
	OutputFormat   string                `yaml:"output_format" default:"table"`
	Enrollment     EnrollmentConfig      `yaml:"enrollment"`
	Credentials    CredentialsConfig     `yaml:"credentials"`
	MQTT           MQTTConfig            `yaml:"mqtt"`

	// APIKey is only taken from the environment, never from the config file.
	APIKey string `yaml:"-"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns $XDG_CONFIG_HOME/blinkup/config.yaml (or the platform equivalent).
func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "blinkup", "config.yaml")
}

// Load builds the configuration from defaults, the YAML file at path, a .env
// file in the working directory and BLINKUP_* environment variables, in that
// order of precedence. An empty path means DefaultPath, which may be absent.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" {
		if err := cfg.loadFile(path, explicit); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields from BLINKUP_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LOG_LEVEL":       &c.LogLevel,
		"BACKEND":         &c.Backend,
		"OUTPUT_FORMAT":   &c.OutputFormat,
		"ENROLLMENT_URL":  &c.Enrollment.BaseURL,
		"CREDENTIALS_DIR": &c.Credentials.Dir,
		"MQTT_BROKER":     &c.MQTT.Broker,
		"MQTT_TOPIC":      &c.MQTT.Topic,
		"MQTT_USERNAME":   &c.MQTT.Username,
		"MQTT_PASSWORD":   &c.MQTT.Password,
		"API_KEY":         &c.APIKey,
	}
	for name, dst := range str {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"SCAN_TIMEOUT":    &c.ScanTimeout,
		"CONNECT_TIMEOUT": &c.ConnectTimeout,
		"GRACE_DELAY":     &c.GraceDelay,
		"PIN_RETRY_DELAY": &c.PinRetry.Delay,
		"POLL_TIMEOUT":    &c.Enrollment.PollTimeout,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
	}

	if v, ok := lookup(EnvPrefix + "PIN_RETRY_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sPIN_RETRY_ATTEMPTS: %w", EnvPrefix, err)
		}
		c.PinRetry.MaxAttempts = n
	}
	return nil
}

// Validate rejects out-of-range timings and unknown names.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if !contains(devicefactory.Backends(), c.Backend) {
		errs = append(errs, fmt.Errorf("backend: unknown %q (available: %s)", c.Backend, strings.Join(devicefactory.Backends(), ", ")))
	}
	if !contains(outputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format: unknown %q (available: %s)", c.OutputFormat, strings.Join(outputFormats, ", ")))
	}
	if err := (&scanner.ScanOptions{Timeout: c.ScanTimeout}).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scan_timeout: %w", err))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout: must be positive"))
	}
	if c.PinRetry.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("pin_retry.max_attempts: must be positive"))
	}
	if c.PinRetry.Delay < 0 || c.GraceDelay < 0 {
		errs = append(errs, fmt.Errorf("pin_retry.delay and grace_delay must not be negative"))
	}
	if c.Enrollment.PollTimeout <= 0 || c.Enrollment.PollInterval <= 0 || c.Enrollment.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("enrollment timings must be positive"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// SessionConfig returns the provisioning session timings.
func (c *Config) SessionConfig() provision.SessionConfig {
	return provision.SessionConfig{
		ConnectTimeout: c.ConnectTimeout,
		GraceDelay:     c.GraceDelay,
		PollTimeout:    c.Enrollment.PollTimeout,
		Retry:          c.PinRetry,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
