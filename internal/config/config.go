package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Carrier  CarrierConfig  `yaml:"carrier"`
	AISpeech AISpeechConfig `yaml:"aispeech"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Engine   EngineConfig   `yaml:"engine"`
	Scenario ScenarioConfig `yaml:"scenario"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port      int    `yaml:"port"`
	Address   string `yaml:"address"`
	PublicURL string `yaml:"public_url"` // externally reachable base URL for carrier callbacks
}

// CarrierConfig contains outbound call placement configuration.
// When AccountSID or AuthToken is empty the client runs in simulated
// mode and never reaches the network.
type CarrierConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
	BaseURL    string `yaml:"base_url"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// AISpeechConfig contains the realtime speech service connection parameters
type AISpeechConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	Voice      string `yaml:"voice"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"` // PCM rate on the AI leg
	Timeout    int    `yaml:"timeout"`     // seconds, dial timeout
}

// BridgeConfig contains media bridging parameters
type BridgeConfig struct {
	TelephonyRate int `yaml:"telephony_rate"` // Hz, fixed by the carrier media stream
	FrameBytes    int `yaml:"frame_bytes"`    // outbound mu-law frame size
	OutboundQueue int `yaml:"outbound_queue"` // frames buffered toward the telephony leg
	StaleTimeout  int `yaml:"stale_timeout"`  // seconds before an idle session is reaped
}

// EngineConfig contains per-call execution limits
type EngineConfig struct {
	RingTimeout  int     `yaml:"ring_timeout"`  // seconds
	CallTimeout  int     `yaml:"call_timeout"`  // seconds
	PollInterval float64 `yaml:"poll_interval"` // seconds between monitor passes
	MaxIdleLoops int     `yaml:"max_idle_loops"`
}

// ScenarioConfig contains scripted-call injection configuration
type ScenarioConfig struct {
	Dir  string `yaml:"dir"`
	Mode string `yaml:"mode"` // "step" or "batch"
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv overrides secrets from the environment so credentials never
// have to live in the YAML file.
func (c *Config) applyEnv() {
	if v := os.Getenv("CARRIER_ACCOUNT_SID"); v != "" {
		c.Carrier.AccountSID = v
	}
	if v := os.Getenv("CARRIER_AUTH_TOKEN"); v != "" {
		c.Carrier.AuthToken = v
	}
	if v := os.Getenv("CARRIER_FROM_NUMBER"); v != "" {
		c.Carrier.FromNumber = v
	}
	if v := os.Getenv("AISPEECH_API_KEY"); v != "" {
		c.AISpeech.APIKey = v
	}
	if v := os.Getenv("PUBLIC_URL"); v != "" {
		c.Server.PublicURL = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Carrier.Validate(); err != nil {
		return fmt.Errorf("carrier config: %w", err)
	}

	if err := c.AISpeech.Validate(); err != nil {
		return fmt.Errorf("aispeech config: %w", err)
	}

	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}

	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	if err := c.Scenario.Validate(); err != nil {
		return fmt.Errorf("scenario config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	return nil
}

// Validate validates carrier configuration
func (c *CarrierConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", c.MaxRetries)
	}

	// AccountSID/AuthToken may be empty: that selects simulated placement.
	return nil
}

// Validate validates AI speech configuration
func (a *AISpeechConfig) Validate() error {
	if a.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if a.SampleRate != 8000 && a.SampleRate != 16000 && a.SampleRate != 24000 {
		return fmt.Errorf("sample_rate must be 8000, 16000 or 24000 Hz, got %d", a.SampleRate)
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates bridge configuration
func (b *BridgeConfig) Validate() error {
	if b.TelephonyRate != 8000 {
		return fmt.Errorf("telephony_rate must be 8000 Hz for carrier media streams, got %d", b.TelephonyRate)
	}

	if b.FrameBytes < 1 {
		return fmt.Errorf("frame_bytes must be positive, got %d", b.FrameBytes)
	}

	if b.OutboundQueue < 1 {
		return fmt.Errorf("outbound_queue must be at least 1, got %d", b.OutboundQueue)
	}

	if b.StaleTimeout < 1 {
		return fmt.Errorf("stale_timeout must be at least 1 second, got %d", b.StaleTimeout)
	}

	return nil
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	if e.RingTimeout < 1 {
		return fmt.Errorf("ring_timeout must be at least 1 second, got %d", e.RingTimeout)
	}

	if e.CallTimeout <= e.RingTimeout {
		return fmt.Errorf("call_timeout (%d) must be greater than ring_timeout (%d)",
			e.CallTimeout, e.RingTimeout)
	}

	if e.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", e.PollInterval)
	}

	if e.MaxIdleLoops < 1 {
		return fmt.Errorf("max_idle_loops must be at least 1, got %d", e.MaxIdleLoops)
	}

	return nil
}

// Validate validates scenario configuration
func (s *ScenarioConfig) Validate() error {
	validModes := map[string]bool{"step": true, "batch": true}
	if !validModes[s.Mode] {
		return fmt.Errorf("mode must be 'step' or 'batch', got '%s'", s.Mode)
	}

	// Dir may be empty: scripted injection is then disabled.
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the carrier request timeout as a time.Duration
func (c *CarrierConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// Simulated reports whether placement should be simulated instead of
// reaching the carrier API.
func (c *CarrierConfig) Simulated() bool {
	return c.AccountSID == "" || c.AuthToken == ""
}

// GetTimeoutDuration returns the AI dial timeout as a time.Duration
func (a *AISpeechConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetStaleTimeoutDuration returns the idle session timeout as a time.Duration
func (b *BridgeConfig) GetStaleTimeoutDuration() time.Duration {
	return time.Duration(b.StaleTimeout) * time.Second
}

// GetRingTimeoutDuration returns the ring limit as a time.Duration
func (e *EngineConfig) GetRingTimeoutDuration() time.Duration {
	return time.Duration(e.RingTimeout) * time.Second
}

// GetCallTimeoutDuration returns the whole-call limit as a time.Duration
func (e *EngineConfig) GetCallTimeoutDuration() time.Duration {
	return time.Duration(e.CallTimeout) * time.Second
}

// GetPollIntervalDuration returns the monitor poll interval as a time.Duration
func (e *EngineConfig) GetPollIntervalDuration() time.Duration {
	return time.Duration(e.PollInterval * float64(time.Second))
}
