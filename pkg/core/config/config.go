// ============================================================================
// Pulse - Local Voice Assistant Daemon
// ============================================================================
//
// Package:     config
// Description: Daemon configuration loading and validation
// License:     MIT
// ============================================================================

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete daemon configuration
type Config struct {
	path string

	General       GeneralConfig       `toml:"general" yaml:"general"`
	Schedule      ScheduleConfig      `toml:"schedule" yaml:"schedule"`
	Wake          WakeConfig          `toml:"wake" yaml:"wake"`
	Mic           MicConfig           `toml:"mic" yaml:"mic"`
	HomeAssistant HomeAssistantConfig `toml:"homeassistant" yaml:"homeassistant"`
	Calendar      CalendarConfig      `toml:"calendar" yaml:"calendar"`
	History       HistoryConfig       `toml:"history" yaml:"history"`
}

// GeneralConfig holds daemon-wide settings
type GeneralConfig struct {
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`
}

// ScheduleConfig holds the schedule service settings
type ScheduleConfig struct {
	StorePath string `toml:"store_path" yaml:"store_path"`
}

// WakeConfig holds wake word detection settings
type WakeConfig struct {
	Models      []string                  `toml:"models" yaml:"models"`
	Routing     map[string]string         `toml:"routing" yaml:"routing"`
	Default     string                    `toml:"default_pipeline" yaml:"default_pipeline"`
	Sensitivity string                    `toml:"sensitivity" yaml:"sensitivity"`
	Endpoints   map[string]EndpointConfig `toml:"endpoints" yaml:"endpoints"`
}

// EndpointConfig identifies one detection endpoint
type EndpointConfig struct {
	Host string `toml:"host" yaml:"host"`
	Port int    `toml:"port" yaml:"port"`
}

// Addr returns the host:port form of the endpoint
func (e EndpointConfig) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// MicConfig holds microphone capture settings
type MicConfig struct {
	SampleRate int    `toml:"sample_rate" yaml:"sample_rate"`
	Width      int    `toml:"width" yaml:"width"`
	Channels   int    `toml:"channels" yaml:"channels"`
	ChunkMs    int    `toml:"chunk_ms" yaml:"chunk_ms"`
	Device     string `toml:"device" yaml:"device"`
}

// ChunkDuration returns the chunk duration
func (m MicConfig) ChunkDuration() time.Duration {
	return time.Duration(m.ChunkMs) * time.Millisecond
}

// HomeAssistantConfig holds the remote assistant connection settings
type HomeAssistantConfig struct {
	BaseURL      string `toml:"base_url" yaml:"base_url"`
	WebSocketURL string `toml:"websocket_url" yaml:"websocket_url"`
	Token        string `toml:"token" yaml:"token"`
	MediaPlayer  string `toml:"media_player" yaml:"media_player"`
}

// CalendarConfig holds the ICS reminder source settings
type CalendarConfig struct {
	Enabled         bool   `toml:"enabled" yaml:"enabled"`
	URL             string `toml:"url" yaml:"url"`
	PollIntervalMin int    `toml:"poll_interval_min" yaml:"poll_interval_min"`
	LookaheadHours  int    `toml:"lookahead_hours" yaml:"lookahead_hours"`
}

// HistoryConfig holds the firing-history store settings
type HistoryConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Default returns the default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local", "share", "pulse")

	return &Config{
		General: GeneralConfig{
			DataDir:   dataDir,
			LogLevel:  "info",
			LogFormat: "text",
		},
		Schedule: ScheduleConfig{
			StorePath: filepath.Join(dataDir, "events.json"),
		},
		Wake: WakeConfig{
			Models:      []string{"ok_pulse"},
			Routing:     map[string]string{},
			Default:     "pulse",
			Sensitivity: "normal",
			Endpoints: map[string]EndpointConfig{
				"pulse":         {Host: "127.0.0.1", Port: 10400},
				"homeassistant": {Host: "127.0.0.1", Port: 10400},
			},
		},
		Mic: MicConfig{
			SampleRate: 16000,
			Width:      2,
			Channels:   1,
			ChunkMs:    30,
			Device:     "default",
		},
		HomeAssistant: HomeAssistantConfig{
			BaseURL:     "http://homeassistant.local:8123",
			MediaPlayer: "media_player.kitchen",
		},
		Calendar: CalendarConfig{
			Enabled:         false,
			PollIntervalMin: 15,
			LookaheadHours:  24,
		},
		History: HistoryConfig{
			Path: filepath.Join(dataDir, "history.db"),
		},
	}
}

// Load reads the configuration file at path, applying defaults for missing
// values. The format is chosen by extension: .toml, .yaml or .yml.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.path = path
	return cfg, nil
}

// Path returns the file this configuration was loaded from, or empty for a
// default configuration
func (c *Config) Path() string {
	return c.path
}

// Validate checks the configuration for values the daemon cannot run with
func (c *Config) Validate() error {
	if c.Schedule.StorePath == "" {
		return fmt.Errorf("schedule.store_path must not be empty")
	}
	if c.Mic.SampleRate <= 0 {
		return fmt.Errorf("mic.sample_rate must be positive, got %d", c.Mic.SampleRate)
	}
	if c.Mic.Channels <= 0 {
		return fmt.Errorf("mic.channels must be positive, got %d", c.Mic.Channels)
	}
	if c.Mic.ChunkMs <= 0 {
		return fmt.Errorf("mic.chunk_ms must be positive, got %d", c.Mic.ChunkMs)
	}
	switch c.Wake.Sensitivity {
	case "low", "normal", "high":
	default:
		return fmt.Errorf("wake.sensitivity must be low, normal or high, got %q", c.Wake.Sensitivity)
	}
	for _, model := range c.Wake.Models {
		pipeline := c.PipelineFor(model)
		if _, ok := c.Wake.Endpoints[pipeline]; !ok {
			return fmt.Errorf("wake model %q routes to pipeline %q with no endpoint", model, pipeline)
		}
	}
	return nil
}

// PipelineFor resolves the pipeline name for a wake model
func (c *Config) PipelineFor(model string) string {
	if p, ok := c.Wake.Routing[model]; ok && p != "" {
		return p
	}
	return c.Wake.Default
}
