package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete, process-wide configuration for a mount:
// the MountContext fields of §3 plus the ambient network/retry/circuit
// sub-configuration aimed at the object-store subprocess, and the
// observability settings every component logs and records metrics through.
type Configuration struct {
	Global  GlobalConfig  `yaml:"global"`
	Mount   MountConfig   `yaml:"mount"`
	Network NetworkConfig `yaml:"network"`
}

// GlobalConfig carries the ambient logging and service-port settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFile     string `yaml:"log_file"`
	MetricsPort int    `yaml:"metrics_port"`
	HealthPort  int    `yaml:"health_port"`
}

// MountConfig is the MountContext of §3: the per-mount state that is
// immutable once the mount begins serving callbacks.
type MountConfig struct {
	BackingDir  string `yaml:"backing_dir"`
	MountPoint  string `yaml:"mount_point"`
	NumVersions int    `yaml:"num_versions"`
	GetAll      bool   `yaml:"get_all"`
	NotifyCmd   string `yaml:"notify_cmd"`
	Foreground  bool   `yaml:"foreground"`

	// SyncInterval is how often the sync engine runs unprompted, in
	// addition to any explicit `sync`/`merge` control command. Zero
	// disables the periodic loop; a mount can still be synced on demand
	// through the control file.
	SyncInterval time.Duration `yaml:"sync_interval"`
}

// NetworkConfig groups the timeout, retry and circuit-breaker settings for
// object-store subprocess calls. cmd/sharebox-mount applies only
// CircuitBreaker; Timeouts and Retry are loaded and validated but no
// package reads them when building the store driver.
type NetworkConfig struct {
	Timeouts       TimeoutConfig        `yaml:"timeouts"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// TimeoutConfig holds a per-command time bound for a single subprocess
// invocation. The store driver does not read it: commands run until they
// exit or the caller's context ends.
type TimeoutConfig struct {
	Command time.Duration `yaml:"command"`
}

// RetryConfig holds backoff parameters for retryable store command
// failures. The store driver does not read it; it retries with
// pkg/retry.DefaultConfig.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig parameterizes the breaker that sits in front of the
// object-store driver so a wedged remote does not block every VFS
// operation behind a long retry chain.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// NewDefault returns a configuration with sensible defaults; mount_point
// and backing_dir are left empty since they have no sane default and must
// come from the CLI or a config file.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:    "INFO",
			MetricsPort: 9090,
			HealthPort:  9091,
		},
		Mount: MountConfig{
			NumVersions:  0,
			GetAll:       false,
			NotifyCmd:    `notify-send "sharebox" "%s"`,
			SyncInterval: 5 * time.Minute,
		},
		Network: NetworkConfig{
			Timeouts: TimeoutConfig{
				Command: 30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    10 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				Timeout:          30 * time.Second,
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, overlaying it on
// whatever values c already holds (normally NewDefault's).
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays SHAREBOX_* environment variables onto c.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("SHAREBOX_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("SHAREBOX_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("SHAREBOX_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("SHAREBOX_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}
	if val := os.Getenv("SHAREBOX_BACKING_DIR"); val != "" {
		c.Mount.BackingDir = val
	}
	if val := os.Getenv("SHAREBOX_MOUNT_POINT"); val != "" {
		c.Mount.MountPoint = val
	}
	if val := os.Getenv("SHAREBOX_NUM_VERSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Mount.NumVersions = n
		}
	}
	if val := os.Getenv("SHAREBOX_GET_ALL"); val != "" {
		c.Mount.GetAll = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("SHAREBOX_NOTIFY_CMD"); val != "" {
		c.Mount.NotifyCmd = val
	}
	if val := os.Getenv("SHAREBOX_SYNC_INTERVAL"); val != "" {
		if secs, err := strconv.Atoi(val); err == nil {
			c.Mount.SyncInterval = time.Duration(secs) * time.Second
		}
	}
	return nil
}

// SaveToFile writes c to filename as YAML, creating parent directories as
// needed.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the fields a mount cannot start without.
func (c *Configuration) Validate() error {
	if c.Mount.BackingDir == "" {
		return fmt.Errorf("mount.backing_dir is required")
	}
	if !filepath.IsAbs(c.Mount.BackingDir) {
		abs, err := filepath.Abs(c.Mount.BackingDir)
		if err != nil {
			return fmt.Errorf("failed to resolve backing_dir: %w", err)
		}
		c.Mount.BackingDir = abs
	}
	if !strings.Contains(c.Mount.NotifyCmd, "%s") {
		return fmt.Errorf("mount.notify_cmd must contain a %%s placeholder")
	}
	if c.Global.MetricsPort != 0 && c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("network.retry.max_attempts must be greater than 0")
	}

	return nil
}
