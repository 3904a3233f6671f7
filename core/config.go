// Package core holds process-wide configuration, configuration errors,
// exit codes and the per-user data directory.
package core

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mochi_backend/generation"
)

// Config is the resolved server configuration. Precedence, lowest first:
// built-in defaults, the YAML file named by MOCHI_CONFIG_FILE, the process
// environment (including .env).
type Config struct {
	ModelDir      string               `yaml:"model_dir"`
	ControlNetDir string               `yaml:"controlnet_dir"`
	ImageDir      string               `yaml:"image_dir"`
	ImageType     generation.ImageType `yaml:"image_type"`
	DBPath        string               `yaml:"db_path"`

	ListenAddr    string `yaml:"listen_addr"`
	APIPassword   string `yaml:"api_password"`
	SessionSecret string `yaml:"session_secret"`

	ComputeUnit  generation.ComputeUnit `yaml:"compute_unit"`
	ReduceMemory bool                   `yaml:"reduce_memory"`

	SendNotification  bool `yaml:"send_notification"`
	NotificationSound bool `yaml:"notification_sound"`

	HistoryRetention time.Duration `yaml:"history_retention"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
	DevMode  bool   `yaml:"dev_mode"`

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ModelDir:          DefaultModelDir(),
		ControlNetDir:     DefaultControlNetDir(),
		ImageDir:          DefaultImageDir(),
		ImageType:         generation.ImageTypePNG,
		DBPath:            DefaultDBPath(),
		ListenAddr:        ":8085",
		ComputeUnit:       generation.ComputeCPUAndGPU,
		SendNotification:  true,
		NotificationSound: false,
		HistoryRetention:  30 * 24 * time.Hour,
		CleanupInterval:   time.Hour,
		LogLevel:          "info",
		LogFile:           DefaultLogFile(),
	}
}

// LoadConfig reads envPath (a missing file is fine), applies the optional
// YAML file, then environment overrides, and validates the result.
func LoadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, ErrConfigFile(envPath, err)
		}
	}

	cfg := DefaultConfig()
	if path := os.Getenv("MOCHI_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ModelDir = GetEnvOrDefault("MOCHI_MODEL_DIR", c.ModelDir)
	c.ControlNetDir = GetEnvOrDefault("MOCHI_CONTROLNET_DIR", c.ControlNetDir)
	c.ImageDir = GetEnvOrDefault("MOCHI_IMAGE_DIR", c.ImageDir)
	c.ImageType = generation.ImageType(GetEnvOrDefault("MOCHI_IMAGE_TYPE", string(c.ImageType)))
	c.DBPath = GetEnvOrDefault("MOCHI_DB_PATH", c.DBPath)
	c.ListenAddr = GetEnvOrDefault("MOCHI_LISTEN_ADDR", c.ListenAddr)
	c.APIPassword = GetEnvOrDefault("MOCHI_API_PASSWORD", c.APIPassword)
	c.SessionSecret = GetEnvOrDefault("MOCHI_SESSION_SECRET", c.SessionSecret)
	c.ComputeUnit = generation.ComputeUnit(GetEnvOrDefault("MOCHI_COMPUTE_UNIT", string(c.ComputeUnit)))
	c.ReduceMemory = ParseBoolEnv("MOCHI_REDUCE_MEMORY", c.ReduceMemory)
	c.SendNotification = ParseBoolEnv("MOCHI_SEND_NOTIFICATION", c.SendNotification)
	c.NotificationSound = ParseBoolEnv("MOCHI_NOTIFICATION_SOUND", c.NotificationSound)
	c.HistoryRetention = ParseDurationEnv("MOCHI_HISTORY_RETENTION", c.HistoryRetention)
	c.CleanupInterval = ParseDurationEnv("MOCHI_CLEANUP_INTERVAL", c.CleanupInterval)
	c.LogLevel = GetEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFile = GetEnvOrDefault("MOCHI_LOG_FILE", c.LogFile)
	c.DevMode = ParseBoolEnv("DEV_MODE", c.DevMode)
}

// Validate normalizes enumerations and checks values that cannot be fixed
// up silently.
func (c *Config) Validate() error {
	imageType, err := generation.ParseImageType(string(c.ImageType))
	if err != nil {
		return ErrInvalidValue("MOCHI_IMAGE_TYPE", string(c.ImageType), "png, jpeg")
	}
	c.ImageType = imageType

	unit, err := generation.ParseComputeUnit(string(c.ComputeUnit))
	if err != nil {
		return ErrInvalidValue("MOCHI_COMPUTE_UNIT", string(c.ComputeUnit), "cpuOnly, cpuAndGPU, cpuAndNeuralEngine, all")
	}
	c.ComputeUnit = unit

	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return ErrListenAddr(c.ListenAddr, err)
	}
	for _, dir := range []struct{ key, value string }{
		{"MOCHI_MODEL_DIR", c.ModelDir},
		{"MOCHI_CONTROLNET_DIR", c.ControlNetDir},
		{"MOCHI_IMAGE_DIR", c.ImageDir},
		{"MOCHI_DB_PATH", c.DBPath},
	} {
		if strings.TrimSpace(dir.value) == "" {
			return ErrMissingConfig(dir.key)
		}
	}
	if c.HistoryRetention < 0 {
		return ErrInvalidValue("MOCHI_HISTORY_RETENTION", c.HistoryRetention.String(), "a non-negative duration, 0 keeps history forever")
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Hour
	}
	return nil
}

// AuthEnabled reports whether the API requires a password.
func (c *Config) AuthEnabled() bool { return c.APIPassword != "" }
