package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/fspropfaker/fspropfaker/internal/capacity"
	"github.com/fspropfaker/fspropfaker/pkg/errors"
	"github.com/fspropfaker/fspropfaker/pkg/retry"
	"github.com/fspropfaker/fspropfaker/pkg/utils"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "FSPROPFAKER_"

// Configuration represents the complete application configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Mount     MountConfig     `yaml:"mount"`
	Faking    FakingConfig    `yaml:"faking"`
	Readiness ReadinessConfig `yaml:"readiness"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int64  `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogCompress   bool   `yaml:"log_compress"`
}

// MountConfig describes what is mounted where
type MountConfig struct {
	Name         string        `yaml:"name"`
	Root         string        `yaml:"root"`
	MountPoint   string        `yaml:"mount_point"`
	Debug        bool          `yaml:"debug"`
	AllowOther   bool          `yaml:"allow_other"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// FakingConfig holds the initial capacity rules
type FakingConfig struct {
	Disk RuleConfig `yaml:"disk"`
	Free RuleConfig `yaml:"free"`
}

// RuleConfig is one capacity rule. Exactly one of Blocks and MB may be set;
// an empty rule tracks the real value.
type RuleConfig struct {
	Mode   string `yaml:"mode,omitempty"`
	Blocks *int64 `yaml:"blocks,omitempty"`
	MB     *int64 `yaml:"mb,omitempty"`
}

// ReadinessConfig bounds the poll that waits for a fresh mount to answer
type ReadinessConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// APIConfig configures the HTTP control API
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// HealthConfig configures periodic health checks
type HealthConfig struct {
	CheckInterval        time.Duration `yaml:"check_interval"`
	ErrorThreshold       int           `yaml:"error_threshold"`
	UnavailableThreshold int           `yaml:"unavailable_threshold"`
}

// NewDefault creates a configuration with default values
func NewDefault() *Configuration {
	readiness := retry.DefaultConfig()

	return &Configuration{
		Global: GlobalConfig{
			LogLevel:      "INFO",
			LogFormat:     "text",
			LogMaxSizeMB:  100,
			LogMaxBackups: 3,
			LogCompress:   true,
		},
		Mount: MountConfig{
			Name:         "propfaker",
			AttrTimeout:  time.Second,
			EntryTimeout: time.Second,
		},
		Readiness: ReadinessConfig{
			MaxAttempts:  readiness.MaxAttempts,
			InitialDelay: readiness.InitialDelay,
			MaxDelay:     readiness.MaxDelay,
			Multiplier:   readiness.Multiplier,
		},
		API: APIConfig{
			Enabled: true,
			Address: "127.0.0.1:8787",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fspropfaker",
		},
		Health: HealthConfig{
			CheckInterval:        10 * time.Second,
			ErrorThreshold:       3,
			UnavailableThreshold: 10,
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the current values
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to read config file").
			WithComponent("config").WithContext("file", filename)
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to parse config file").
			WithComponent("config").WithContext("file", filename)
	}

	return nil
}

// LoadFromEnv loads configuration from FSPROPFAKER_* environment variables
func (c *Configuration) LoadFromEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":         &c.Global.LogLevel,
		"LOG_FORMAT":        &c.Global.LogFormat,
		"LOG_FILE":          &c.Global.LogFile,
		"NAME":              &c.Mount.Name,
		"ROOT":              &c.Mount.Root,
		"MOUNT_POINT":       &c.Mount.MountPoint,
		"API_ADDRESS":       &c.API.Address,
		"METRICS_NAMESPACE": &c.Metrics.Namespace,
		"DISK_MODE":         &c.Faking.Disk.Mode,
		"FREE_MODE":         &c.Faking.Free.Mode,
	}
	for key, dst := range strs {
		if val, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = val
		}
	}

	bools := map[string]*bool{
		"DEBUG":           &c.Mount.Debug,
		"ALLOW_OTHER":     &c.Mount.AllowOther,
		"API_ENABLED":     &c.API.Enabled,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	}
	for key, dst := range bools {
		val, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return envError(key, val, err)
		}
		*dst = b
	}

	ints := map[string]**int64{
		"DISK_BLOCKS": &c.Faking.Disk.Blocks,
		"DISK_MB":     &c.Faking.Disk.MB,
		"FREE_BLOCKS": &c.Faking.Free.Blocks,
		"FREE_MB":     &c.Faking.Free.MB,
	}
	for key, dst := range ints {
		val, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return envError(key, val, err)
		}
		*dst = &n
	}

	if val, ok := os.LookupEnv(EnvPrefix + "READINESS_MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return envError("READINESS_MAX_ATTEMPTS", val, err)
		}
		c.Readiness.MaxAttempts = n
	}

	return nil
}

func envError(key, val string, err error) error {
	return errors.Wrap(err, errors.ErrCodeInvalidConfig, "invalid environment variable").
		WithComponent("config").
		WithContext("variable", EnvPrefix+key).
		WithContext("value", val)
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to marshal config").WithComponent("config")
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to create config directory").
			WithComponent("config").WithContext("file", filename)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigSave, "failed to write config file").
			WithComponent("config").WithContext("file", filename)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).WithComponent("config")
	}

	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return invalid("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join([]string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}, ", "))
	}
	if _, err := utils.ParseLogFormat(c.Global.LogFormat); err != nil {
		return invalid("invalid log_format: %s (must be text or json)", c.Global.LogFormat)
	}
	if c.Global.LogMaxSizeMB < 0 || c.Global.LogMaxBackups < 0 {
		return invalid("log rotation limits must not be negative")
	}

	if c.Mount.Root == "" {
		return invalid("mount.root is required")
	}
	if len(c.Mount.Name) > 20 {
		return invalid("mount.name must be at most 20 bytes, got %d", len(c.Mount.Name))
	}

	if err := c.Faking.Disk.validate("disk"); err != nil {
		return err
	}
	if err := c.Faking.Free.validate("free"); err != nil {
		return err
	}

	if c.Readiness.MaxAttempts <= 0 {
		return invalid("readiness.max_attempts must be greater than 0")
	}
	if c.Readiness.Multiplier != 0 && c.Readiness.Multiplier < 1 {
		return invalid("readiness.multiplier must be at least 1")
	}

	if c.API.Enabled && c.API.Address == "" {
		return invalid("api.address is required when the API is enabled")
	}
	if c.Health.CheckInterval < 0 {
		return invalid("health.check_interval must not be negative")
	}

	return nil
}

// IsZero reports whether the rule leaves the value tracking the real one.
func (r RuleConfig) IsZero() bool {
	return r.Mode == "" && r.Blocks == nil && r.MB == nil
}

// ParsedMode returns the rule's mode; an empty mode means delta.
func (r RuleConfig) ParsedMode() (capacity.Mode, error) {
	if r.Mode == "" {
		return capacity.ModeDelta, nil
	}
	return capacity.ParseMode(r.Mode)
}

func (r RuleConfig) validate(name string) error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrCodeInvalidConfig, format, args...).
			WithComponent("config").WithContext("rule", name)
	}

	mode, err := r.ParsedMode()
	if err != nil {
		return invalid("faking.%s.mode: %v", name, err)
	}
	if r.Blocks != nil && r.MB != nil {
		return invalid("faking.%s: blocks and mb are mutually exclusive", name)
	}
	if mode == capacity.ModeFixed {
		switch {
		case r.Blocks == nil && r.MB == nil:
			return invalid("faking.%s: fixed mode needs blocks or mb", name)
		case r.Blocks != nil && *r.Blocks <= 0, r.MB != nil && *r.MB <= 0:
			return invalid("faking.%s: fixed value must be greater than 0", name)
		}
	}
	return nil
}

// RetryConfig returns the readiness poll as a retry configuration.
func (c *Configuration) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.Readiness.MaxAttempts
	if c.Readiness.InitialDelay > 0 {
		cfg.InitialDelay = c.Readiness.InitialDelay
	}
	if c.Readiness.MaxDelay > 0 {
		cfg.MaxDelay = c.Readiness.MaxDelay
	}
	if c.Readiness.Multiplier > 0 {
		cfg.Multiplier = c.Readiness.Multiplier
	}
	return cfg
}

// LoggerConfig builds the structured logger configuration. The log file, if
// any, is opened by the caller through the returned rotation settings.
func (c *Configuration) LoggerConfig() (*utils.StructuredLoggerConfig, error) {
	level, err := utils.ParseLogLevel(c.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := utils.ParseLogFormat(c.Global.LogFormat)
	if err != nil {
		return nil, err
	}

	cfg := &utils.StructuredLoggerConfig{
		Level:  level,
		Output: os.Stderr,
		Format: format,
	}
	if c.Global.LogFile != "" {
		cfg.Rotation = &utils.RotationConfig{
			Filename:   c.Global.LogFile,
			MaxSize:    c.Global.LogMaxSizeMB,
			MaxBackups: c.Global.LogMaxBackups,
			Compress:   c.Global.LogCompress,
		}
	}
	return cfg, nil
}

func (r RuleConfig) String() string {
	mode := r.Mode
	if mode == "" {
		mode = "delta"
	}
	switch {
	case r.Blocks != nil:
		return fmt.Sprintf("%s %d blocks", mode, *r.Blocks)
	case r.MB != nil:
		return fmt.Sprintf("%s %d MB", mode, *r.MB)
	default:
		return mode + " 0"
	}
}
