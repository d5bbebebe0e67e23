package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. MINICAM_SERVER_PORT
const EnvPrefix = "MINICAM"

// Manager handles configuration
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigDir returns $HOME/.config/minicam
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "minicam"), nil
}

// NewManager creates a new configuration manager. An empty configFile uses
// the default path; a missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := configFile
	if actualConfigPath == "" {
		configDir, err := DefaultConfigDir()
		if err != nil {
			return nil, err
		}
		actualConfigPath = filepath.Join(configDir, "config.yaml")
	}

	m := &Manager{
		configPath: actualConfigPath,
		v:          newViper(Defaults(filepath.Dir(actualConfigPath))),
	}
	m.v.SetConfigFile(actualConfigPath)
	m.v.SetConfigType("yaml")

	if err := m.load(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			if err := m.refresh(); err != nil {
				return nil, err
			}
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := m.Get()
	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("camera", cfg.Camera.Source).
		Int("port", cfg.ServerPort).
		Msg("Config loaded")

	return m, nil
}

// newViper creates a viper instance seeded with defaults so every key can
// be overridden from the environment
func newViper(d *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)

	v.SetDefault("stream.boundary", d.Stream.Boundary)
	v.SetDefault("stream.chunk_size", d.Stream.ChunkSize)
	v.SetDefault("stream.max_sessions", d.Stream.MaxSessions)

	v.SetDefault("camera.source", d.Camera.Source)
	v.SetDefault("camera.device", d.Camera.Device)
	v.SetDefault("camera.frame_size", d.Camera.FrameSize)
	v.SetDefault("camera.pixel_format", d.Camera.PixelFormat)
	v.SetDefault("camera.sensor_jpeg_quality", d.Camera.SensorJPEGQuality)
	v.SetDefault("camera.transcode_quality", d.Camera.TranscodeQuality)
	v.SetDefault("camera.frame_rate", d.Camera.FrameRate)
	v.SetDefault("camera.fb_count", d.Camera.FBCount)
	v.SetDefault("camera.fallback", d.Camera.Fallback)

	v.SetDefault("network.ap_ssid", d.Network.APSSID)
	v.SetDefault("network.ap_password", d.Network.APPassword)
	v.SetDefault("network.ssid_file", d.Network.SSIDFile)
	v.SetDefault("network.password_file", d.Network.PasswordFile)
	v.SetDefault("network.credentials_dir", d.Network.CredentialsDir)
	v.SetDefault("network.backend", d.Network.Backend)
	v.SetDefault("network.interface", d.Network.Interface)
	v.SetDefault("network.connect_timeout", d.Network.ConnectTimeout)

	return v
}

// load reads the configuration from disk
func (m *Manager) load() error {
	if _, err := os.Stat(m.configPath); err != nil {
		return err
	}
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return m.refresh()
}

// refresh decodes viper's merged view into a validated Config
func (m *Manager) refresh() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults(m.GetConfigDir())
	}
	cfg := *m.config
	return &cfg
}

// GetViper exposes the underlying viper instance for key-based access
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// Override sets a value for this process only; nothing is written to disk
func (m *Manager) Override(key string, value interface{}) error {
	if !m.knownKey(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	prev := m.v.Get(key)
	m.v.Set(key, value)
	if err := m.refresh(); err != nil {
		m.v.Set(key, prev)
		return err
	}
	return nil
}

// Set changes a value and saves the file
func (m *Manager) Set(key string, value interface{}) error {
	if err := m.Override(key, value); err != nil {
		return err
	}
	return m.Save()
}

func (m *Manager) knownKey(key string) bool {
	key = strings.ToLower(key)
	for _, k := range m.v.AllKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	log := logger.WithComponent("config")
	log.Debug().Str("path", m.configPath).Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Update replaces the entire configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	if err := m.Save(); err != nil {
		return err
	}
	// Keep viper's view in step with the file
	if err := m.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	return nil
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	return m.Set("server_port", port)
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	return m.Set("log_level", level)
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
