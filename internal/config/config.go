package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Responder   ResponderConfig   `yaml:"responder"`
	Session     SessionConfig     `yaml:"session"`
	Registry    RegistryConfig    `yaml:"registry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`

	// PublicHost is the externally reachable hostname used when building
	// telephony callback URLs, without scheme.
	PublicHost string `yaml:"public_host"`
}

// TwilioConfig contains outbound telephony configuration
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

// RecognizerConfig contains speech-to-text configuration
type RecognizerConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EndpointingMs  int    `yaml:"endpointing_ms"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// SynthesizerConfig contains text-to-speech configuration
type SynthesizerConfig struct {
	APIKey          string  `yaml:"api_key"`
	VoiceID         string  `yaml:"voice_id"`
	ModelID         string  `yaml:"model_id"`
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`
	ConnectTimeout  int     `yaml:"connect_timeout"` // seconds
}

// ResponderConfig contains response engine configuration
type ResponderConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	Timeout   int    `yaml:"timeout"` // seconds
}

// SessionConfig contains call session timing and capacity configuration
type SessionConfig struct {
	SettleTimeout      int `yaml:"settle_timeout"`   // seconds
	SettleDelayMs      int `yaml:"settle_delay_ms"`
	GoodbyeGraceMs     int `yaml:"goodbye_grace_ms"`
	RetryDelayMs       int `yaml:"retry_delay_ms"`
	StreamTimeout      int `yaml:"stream_timeout"` // seconds
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`
}

// RegistryConfig contains call setup registry configuration
type RegistryConfig struct {
	SpecTTL int `yaml:"spec_ttl"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. Credentials may come from
// the environment instead of the file; env values win.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides replaces credentials with environment values when set,
// so secrets can stay out of the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TWILIO_ACCOUNT_SID"); v != "" {
		c.Twilio.AccountSID = v
	}
	if v := os.Getenv("TWILIO_AUTH_TOKEN"); v != "" {
		c.Twilio.AuthToken = v
	}
	if v := os.Getenv("DEEPGRAM_API_KEY"); v != "" {
		c.Recognizer.APIKey = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		c.Synthesizer.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Responder.APIKey = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Twilio.Validate(); err != nil {
		return fmt.Errorf("twilio config: %w", err)
	}

	if err := c.Recognizer.Validate(); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Synthesizer.Validate(); err != nil {
		return fmt.Errorf("synthesizer config: %w", err)
	}

	if err := c.Responder.Validate(); err != nil {
		return fmt.Errorf("responder config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Registry.Validate(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.PublicHost == "" {
		return fmt.Errorf("public_host cannot be empty")
	}

	return nil
}

// Validate validates telephony configuration
func (t *TwilioConfig) Validate() error {
	if t.AccountSID == "" {
		return fmt.Errorf("account_sid cannot be empty")
	}

	if t.AuthToken == "" {
		return fmt.Errorf("auth_token cannot be empty")
	}

	if t.FromNumber == "" {
		return fmt.Errorf("from_number cannot be empty")
	}

	return nil
}

// Validate validates recognizer configuration
func (r *RecognizerConfig) Validate() error {
	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.EndpointingMs < 0 {
		return fmt.Errorf("endpointing_ms cannot be negative, got %d", r.EndpointingMs)
	}

	if r.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", r.ConnectTimeout)
	}

	return nil
}

// Validate validates synthesizer configuration
func (s *SynthesizerConfig) Validate() error {
	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.VoiceID == "" {
		return fmt.Errorf("voice_id cannot be empty")
	}

	if s.Stability < 0 || s.Stability > 1 {
		return fmt.Errorf("stability must be between 0 and 1, got %f", s.Stability)
	}

	if s.SimilarityBoost < 0 || s.SimilarityBoost > 1 {
		return fmt.Errorf("similarity_boost must be between 0 and 1, got %f", s.SimilarityBoost)
	}

	if s.ConnectTimeout < 1 {
		return fmt.Errorf("connect_timeout must be at least 1 second, got %d", s.ConnectTimeout)
	}

	return nil
}

// Validate validates responder configuration
func (r *ResponderConfig) Validate() error {
	if r.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if r.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be at least 1, got %d", r.MaxTokens)
	}

	if r.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.SettleTimeout < 1 {
		return fmt.Errorf("settle_timeout must be at least 1 second, got %d", s.SettleTimeout)
	}

	if s.SettleDelayMs < 0 {
		return fmt.Errorf("settle_delay_ms cannot be negative, got %d", s.SettleDelayMs)
	}

	if s.GoodbyeGraceMs < 0 {
		return fmt.Errorf("goodbye_grace_ms cannot be negative, got %d", s.GoodbyeGraceMs)
	}

	if s.RetryDelayMs < 0 {
		return fmt.Errorf("retry_delay_ms cannot be negative, got %d", s.RetryDelayMs)
	}

	if s.StreamTimeout < 1 {
		return fmt.Errorf("stream_timeout must be at least 1 second, got %d", s.StreamTimeout)
	}

	if s.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls cannot be negative, got %d", s.MaxConcurrentCalls)
	}

	return nil
}

// Validate validates registry configuration
func (r *RegistryConfig) Validate() error {
	if r.SpecTTL < 1 {
		return fmt.Errorf("spec_ttl must be at least 1 second, got %d", r.SpecTTL)
	}

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

// GetConnectTimeoutDuration returns the recognizer connect timeout as a time.Duration
func (r *RecognizerConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(r.ConnectTimeout) * time.Second
}

// GetEndpointingDuration returns the recognizer endpointing window as a time.Duration
func (r *RecognizerConfig) GetEndpointingDuration() time.Duration {
	return time.Duration(r.EndpointingMs) * time.Millisecond
}

// GetConnectTimeoutDuration returns the synthesizer connect timeout as a time.Duration
func (s *SynthesizerConfig) GetConnectTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectTimeout) * time.Second
}

// GetTimeoutDuration returns the responder request timeout as a time.Duration
func (r *ResponderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetSettleTimeoutDuration returns the synthesis settle timeout as a time.Duration
func (s *SessionConfig) GetSettleTimeoutDuration() time.Duration {
	return time.Duration(s.SettleTimeout) * time.Second
}

// GetSettleDelayDuration returns the playout settle delay as a time.Duration
func (s *SessionConfig) GetSettleDelayDuration() time.Duration {
	return time.Duration(s.SettleDelayMs) * time.Millisecond
}

// GetGoodbyeGraceDuration returns the farewell grace period as a time.Duration
func (s *SessionConfig) GetGoodbyeGraceDuration() time.Duration {
	return time.Duration(s.GoodbyeGraceMs) * time.Millisecond
}

// GetRetryDelayDuration returns the responder retry backoff as a time.Duration
func (s *SessionConfig) GetRetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// GetStreamTimeoutDuration returns the stream inactivity timeout as a time.Duration
func (s *SessionConfig) GetStreamTimeoutDuration() time.Duration {
	return time.Duration(s.StreamTimeout) * time.Second
}

// GetSpecTTLDuration returns the registry entry lifetime as a time.Duration
func (r *RegistryConfig) GetSpecTTLDuration() time.Duration {
	return time.Duration(r.SpecTTL) * time.Second
}
