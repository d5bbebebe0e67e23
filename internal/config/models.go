package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/minicam/internal/capture"
	"github.com/bryanchriswhite/minicam/internal/logger"
	"github.com/bryanchriswhite/minicam/internal/stream"
	"github.com/bryanchriswhite/minicam/internal/transport"
)

// Config represents the application configuration
type Config struct {
	ServerPort int    `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool   `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`

	Stream  StreamConfig  `json:"stream" yaml:"stream" mapstructure:"stream"`
	Camera  CameraConfig  `json:"camera" yaml:"camera" mapstructure:"camera"`
	Network NetworkConfig `json:"network" yaml:"network" mapstructure:"network"`
}

// StreamConfig controls the multipart stream endpoint
type StreamConfig struct {
	Boundary    string `json:"boundary" yaml:"boundary" mapstructure:"boundary"`
	ChunkSize   int    `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`
	MaxSessions int    `json:"max_sessions" yaml:"max_sessions" mapstructure:"max_sessions"`
}

// CameraConfig represents camera sensor configuration
type CameraConfig struct {
	Source            string `json:"source" yaml:"source" mapstructure:"source"`
	Device            string `json:"device" yaml:"device" mapstructure:"device"`
	FrameSize         string `json:"frame_size" yaml:"frame_size" mapstructure:"frame_size"`
	PixelFormat       string `json:"pixel_format" yaml:"pixel_format" mapstructure:"pixel_format"`
	SensorJPEGQuality int    `json:"sensor_jpeg_quality" yaml:"sensor_jpeg_quality" mapstructure:"sensor_jpeg_quality"` // 0-63, lower means higher quality
	TranscodeQuality  int    `json:"transcode_quality" yaml:"transcode_quality" mapstructure:"transcode_quality"`
	FrameRate         int    `json:"frame_rate" yaml:"frame_rate" mapstructure:"frame_rate"`
	FBCount           int    `json:"fb_count" yaml:"fb_count" mapstructure:"fb_count"`
	Fallback          bool   `json:"fallback" yaml:"fallback" mapstructure:"fallback"` // use the test pattern if the camera fails to start
}

// NetworkConfig represents Wi-Fi provisioning settings
type NetworkConfig struct {
	APSSID         string        `json:"ap_ssid" yaml:"ap_ssid" mapstructure:"ap_ssid"`
	APPassword     string        `json:"ap_password" yaml:"ap_password" mapstructure:"ap_password"` // empty for an open network
	SSIDFile       string        `json:"ssid_file" yaml:"ssid_file" mapstructure:"ssid_file"`
	PasswordFile   string        `json:"password_file" yaml:"password_file" mapstructure:"password_file"`
	CredentialsDir string        `json:"credentials_dir" yaml:"credentials_dir" mapstructure:"credentials_dir"`
	Backend        string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	Interface      string        `json:"interface" yaml:"interface" mapstructure:"interface"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
}

// Defaults returns the default configuration. configDir is where relative
// credential files live.
func Defaults(configDir string) *Config {
	return &Config{
		ServerPort: 80,
		LogLevel:   "info",
		Stream: StreamConfig{
			Boundary:    stream.DefaultBoundary,
			ChunkSize:   transport.DefaultChunkSize,
			MaxSessions: 1,
		},
		Camera: CameraConfig{
			Source:            capture.SourceTestPattern,
			Device:            "/dev/video0",
			FrameSize:         "VGA",
			PixelFormat:       "jpeg",
			SensorJPEGQuality: 15,
			TranscodeQuality:  capture.DefaultTranscodeQuality,
			FrameRate:         15,
			FBCount:           2,
			Fallback:          true,
		},
		Network: NetworkConfig{
			APSSID:         "mini-cam",
			APPassword:     "",
			SSIDFile:       "ssid.txt",
			PasswordFile:   "password.txt",
			CredentialsDir: configDir,
			Backend:        "none",
			Interface:      "wlan0",
			ConnectTimeout: 20 * time.Second,
		},
	}
}

// Validate checks every field that would otherwise fail at startup
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", c.ServerPort)
	}
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q (use: debug, info, warn, error)", c.LogLevel)
	}

	if err := stream.ValidateBoundary(c.Stream.Boundary); err != nil {
		return fmt.Errorf("invalid stream.boundary: %w", err)
	}
	if err := (transport.Options{ChunkSize: c.Stream.ChunkSize}).Validate(); err != nil {
		return fmt.Errorf("invalid stream.chunk_size: %w", err)
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("invalid stream.chunk_size %d", c.Stream.ChunkSize)
	}
	if c.Stream.MaxSessions < 0 {
		return fmt.Errorf("invalid stream.max_sessions %d", c.Stream.MaxSessions)
	}

	if _, err := c.SensorConfig(); err != nil {
		return err
	}
	switch c.Camera.Source {
	case capture.SourceTestPattern, capture.SourceGStreamer:
	default:
		return fmt.Errorf("invalid camera.source %q", c.Camera.Source)
	}
	if c.Camera.SensorJPEGQuality < 0 || c.Camera.SensorJPEGQuality > 63 {
		return fmt.Errorf("invalid camera.sensor_jpeg_quality %d (0-63)", c.Camera.SensorJPEGQuality)
	}
	if c.Camera.TranscodeQuality < 1 || c.Camera.TranscodeQuality > 100 {
		return fmt.Errorf("invalid camera.transcode_quality %d (1-100)", c.Camera.TranscodeQuality)
	}
	if c.Camera.FrameRate < 1 {
		return fmt.Errorf("invalid camera.frame_rate %d", c.Camera.FrameRate)
	}
	if c.Camera.FBCount < 1 {
		return fmt.Errorf("invalid camera.fb_count %d", c.Camera.FBCount)
	}

	if c.Network.APSSID == "" {
		return fmt.Errorf("network.ap_ssid must not be empty")
	}
	if c.Network.APPassword != "" && len(c.Network.APPassword) < 8 {
		return fmt.Errorf("network.ap_password must be empty or at least 8 characters")
	}
	switch c.Network.Backend {
	case "none", "nmcli":
	default:
		return fmt.Errorf("invalid network.backend %q (use: none, nmcli)", c.Network.Backend)
	}
	return nil
}

// SensorConfig converts the camera section into capture settings
func (c *Config) SensorConfig() (capture.SensorConfig, error) {
	size, err := capture.ParseFrameSize(c.Camera.FrameSize)
	if err != nil {
		return capture.SensorConfig{}, fmt.Errorf("invalid camera.frame_size: %w", err)
	}
	format, err := capture.ParsePixelFormat(c.Camera.PixelFormat)
	if err != nil {
		return capture.SensorConfig{}, fmt.Errorf("invalid camera.pixel_format: %w", err)
	}
	return capture.SensorConfig{
		Device:      c.Camera.Device,
		FrameSize:   size,
		Format:      format,
		JPEGQuality: c.Camera.SensorJPEGQuality,
		FrameRate:   c.Camera.FrameRate,
		FBCount:     c.Camera.FBCount,
	}, nil
}

// CredentialPaths resolves the SSID and password files
func (n NetworkConfig) CredentialPaths() (ssid, password string) {
	return n.resolve(n.SSIDFile), n.resolve(n.PasswordFile)
}

func (n NetworkConfig) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || n.CredentialsDir == "" {
		return path
	}
	return filepath.Join(n.CredentialsDir, path)
}

// Redacted returns a copy safe to expose over the API
func (c *Config) Redacted() *Config {
	out := *c
	if out.Network.APPassword != "" {
		out.Network.APPassword = "********"
	}
	return &out
}
