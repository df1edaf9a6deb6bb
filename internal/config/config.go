package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/renameio/v2"
	jsonparser "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/pkg/constants"
)

// Config represents the application configuration
type Config struct {
	Profile  string `koanf:"profile" json:"profile"`
	DataDir  string `koanf:"data_dir" json:"data_dir" validate:"required"`
	LogLevel string `koanf:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFile  string `koanf:"log_file" json:"log_file"`

	Serial SerialConfig `koanf:"serial" json:"serial"`
	API    APIConfig    `koanf:"api" json:"api"`
	Scan   ScanConfig   `koanf:"scan" json:"scan"`
}

// SerialConfig describes the controller connection
type SerialConfig struct {
	Device     string `koanf:"device" json:"device"`
	Baud       int    `koanf:"baud" json:"baud" validate:"gt=0"`
	Simulate   bool   `koanf:"simulate" json:"simulate"`
	StatusPoll string `koanf:"status_poll" json:"status_poll"` // cron spec, empty disables polling

	// PushOnConnect writes the stored settings to the controller once the
	// link is up.
	PushOnConnect bool `koanf:"push_on_connect" json:"push_on_connect"`
}

// APIConfig describes the HTTP API
type APIConfig struct {
	Port   int    `koanf:"port" json:"port" validate:"min=1,max=65535"`
	Secret string `koanf:"secret" json:"-"` // HS256 key; empty disables auth
}

// ScanConfig holds the default raster scan parameters
type ScanConfig struct {
	XRange  float64 `koanf:"x_range" json:"x_range" validate:"gte=0"`
	YRange  float64 `koanf:"y_range" json:"y_range" validate:"gte=0"`
	RatioX  int     `koanf:"ratio_x" json:"ratio_x" validate:"gt=0"`
	RatioY  int     `koanf:"ratio_y" json:"ratio_y" validate:"gt=0"`
	Quality int     `koanf:"quality" json:"quality" validate:"gt=0"`
	Order   string  `koanf:"order" json:"order" validate:"oneof=xy yx"`

	AutoStart bool `koanf:"auto_start" json:"auto_start"` // start a scan once connected
}

var validate = validator.New()

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Profile:  "",
		DataDir:  constants.DefaultDataDir,
		LogLevel: constants.DefaultLogLevel,
		Serial: SerialConfig{
			Baud:       constants.DefaultBaud,
			StatusPoll: constants.DefaultStatusPoll,
		},
		API: APIConfig{
			Port: constants.DefaultPort,
		},
		Scan: ScanConfig{
			XRange:  constants.DefaultScanXRange,
			RatioX:  constants.DefaultScanRatioX,
			RatioY:  constants.DefaultScanRatioY,
			Quality: constants.DefaultScanQuality,
			Order:   constants.DefaultScanOrder,
		},
	}
}

// Manager handles configuration loading
type Manager struct {
	config     *Config
	configPath string
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager. An empty path falls back to
// GRBLCTL_CONFIG, then to config.json in the working directory.
func NewManager(path string) *Manager {
	if path == "" {
		path = os.Getenv(constants.EnvConfigFile)
	}
	if path == "" {
		path = filepath.Join(constants.DefaultDataDir, constants.ConfigFileName)
	}
	return &Manager{configPath: path}
}

// Path returns the configuration file path
func (m *Manager) Path() string {
	return m.configPath
}

// Load merges defaults, the optional JSON file and GRBLCTL_* environment
// variables, in that order. Nested keys use a double underscore:
// GRBLCTL_SERIAL__DEVICE sets serial.device.
func (m *Manager) Load() (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := koanf.New(".")

	if _, err := os.Stat(m.configPath); err == nil {
		if err := k.Load(file.Provider(m.configPath), jsonparser.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := k.Load(env.Provider(constants.EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m.config = cfg
	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, constants.EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// Save validates cfg and writes it to the configuration file atomically.
// The API secret is never written; supply it through the environment.
func (m *Manager) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(m.configPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := renameio.WriteFile(m.configPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	configCopy := *cfg
	m.config = &configCopy
	return nil
}

// Get returns the current configuration (thread-safe)
func (m *Manager) Get() (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	// Return a copy to prevent external modifications
	configCopy := *m.config
	return &configCopy, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := defaults.Lookup(defaults.SelectedName(c.Profile)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ActiveProfile returns the defaults profile this configuration selects
func (c *Config) ActiveProfile() (defaults.Profile, error) {
	return defaults.Active(c.Profile)
}

// DatabaseDir returns the directory holding the settings database
func (c *Config) DatabaseDir() string {
	return c.DataDir
}
