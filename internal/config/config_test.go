package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation; tests mutate
// one field at a time.
func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:       8080,
			Address:    "0.0.0.0",
			PublicHost: "agent.example.com",
		},
		Twilio: TwilioConfig{
			AccountSID: "AC00000000000000000000000000000000",
			AuthToken:  "secret",
			FromNumber: "+15550001111",
		},
		Recognizer: RecognizerConfig{
			APIKey:         "dg-key",
			Model:          "nova-2",
			EndpointingMs:  1200,
			ConnectTimeout: 5,
		},
		Synthesizer: SynthesizerConfig{
			APIKey:          "el-key",
			VoiceID:         "voice-1",
			ModelID:         "eleven_turbo_v2_5",
			Stability:       0.5,
			SimilarityBoost: 0.75,
			ConnectTimeout:  5,
		},
		Responder: ResponderConfig{
			APIKey:    "model-key",
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 150,
			Timeout:   30,
		},
		Session: SessionConfig{
			SettleTimeout:      10,
			SettleDelayMs:      500,
			GoodbyeGraceMs:     1500,
			RetryDelayMs:       500,
			StreamTimeout:      60,
			MaxConcurrentCalls: 50,
		},
		Registry: RegistryConfig{
			SpecTTL: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid configuration",
			mutate:      func(c *Config) {},
			expectError: false,
		},
		{
			name:        "invalid http port",
			mutate:      func(c *Config) { c.HTTP.Port = 70000 },
			expectError: true,
			errorMsg:    "port must be between 1 and 65535",
		},
		{
			name:        "missing public host",
			mutate:      func(c *Config) { c.HTTP.PublicHost = "" },
			expectError: true,
			errorMsg:    "public_host cannot be empty",
		},
		{
			name:        "missing twilio auth token",
			mutate:      func(c *Config) { c.Twilio.AuthToken = "" },
			expectError: true,
			errorMsg:    "auth_token cannot be empty",
		},
		{
			name:        "missing recognizer api key",
			mutate:      func(c *Config) { c.Recognizer.APIKey = "" },
			expectError: true,
			errorMsg:    "api_key cannot be empty",
		},
		{
			name:        "negative endpointing",
			mutate:      func(c *Config) { c.Recognizer.EndpointingMs = -1 },
			expectError: true,
			errorMsg:    "endpointing_ms cannot be negative",
		},
		{
			name:        "stability out of range",
			mutate:      func(c *Config) { c.Synthesizer.Stability = 1.5 },
			expectError: true,
			errorMsg:    "stability must be between 0 and 1",
		},
		{
			name:        "missing voice id",
			mutate:      func(c *Config) { c.Synthesizer.VoiceID = "" },
			expectError: true,
			errorMsg:    "voice_id cannot be empty",
		},
		{
			name:        "zero max tokens",
			mutate:      func(c *Config) { c.Responder.MaxTokens = 0 },
			expectError: true,
			errorMsg:    "max_tokens must be at least 1",
		},
		{
			name:        "zero stream timeout",
			mutate:      func(c *Config) { c.Session.StreamTimeout = 0 },
			expectError: true,
			errorMsg:    "stream_timeout must be at least 1 second",
		},
		{
			name:        "zero spec ttl",
			mutate:      func(c *Config) { c.Registry.SpecTTL = 0 },
			expectError: true,
			errorMsg:    "spec_ttl must be at least 1 second",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "trace" },
			expectError: true,
			errorMsg:    "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config file",
			configYAML: `
http:
  port: 8080
  address: "0.0.0.0"
  public_host: "agent.example.com"
twilio:
  account_sid: "AC00000000000000000000000000000000"
  auth_token: "secret"
  from_number: "+15550001111"
recognizer:
  api_key: "dg-key"
  model: "nova-2"
  endpointing_ms: 1200
  connect_timeout: 5
synthesizer:
  api_key: "el-key"
  voice_id: "voice-1"
  model_id: "eleven_turbo_v2_5"
  stability: 0.5
  similarity_boost: 0.75
  connect_timeout: 5
responder:
  api_key: "model-key"
  model: "claude-sonnet-4-20250514"
  max_tokens: 150
  timeout: 30
session:
  settle_timeout: 10
  settle_delay_ms: 500
  goodbye_grace_ms: 1500
  retry_delay_ms: 500
  stream_timeout: 60
  max_concurrent_calls: 50
registry:
  spec_ttl: 300
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
http:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
http:
  port: 8080
  address: "0.0.0.0"
`,
			expectError: true,
			errorMsg:    "public_host cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			err := os.WriteFile(configPath, []byte(tt.configYAML), 0644)
			if err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEEPGRAM_API_KEY", "env-dg-key")
	t.Setenv("ANTHROPIC_API_KEY", "env-model-key")

	config := validConfig()
	config.applyEnvOverrides()

	if config.Recognizer.APIKey != "env-dg-key" {
		t.Errorf("Expected recognizer key from env, got %q", config.Recognizer.APIKey)
	}
	if config.Responder.APIKey != "env-model-key" {
		t.Errorf("Expected responder key from env, got %q", config.Responder.APIKey)
	}
	if config.Synthesizer.APIKey != "el-key" {
		t.Errorf("Unset env var must not clear file value, got %q", config.Synthesizer.APIKey)
	}
}

func TestDurationHelpers(t *testing.T) {
	recognizer := RecognizerConfig{
		EndpointingMs:  1200,
		ConnectTimeout: 5,
	}

	if recognizer.GetEndpointingDuration() != 1200*time.Millisecond {
		t.Errorf("Expected 1.2 seconds, got %v", recognizer.GetEndpointingDuration())
	}

	if recognizer.GetConnectTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", recognizer.GetConnectTimeoutDuration())
	}

	session := SessionConfig{
		SettleTimeout:  10,
		SettleDelayMs:  500,
		GoodbyeGraceMs: 1500,
		RetryDelayMs:   250,
		StreamTimeout:  60,
	}

	if session.GetSettleTimeoutDuration() != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", session.GetSettleTimeoutDuration())
	}

	if session.GetSettleDelayDuration() != 500*time.Millisecond {
		t.Errorf("Expected 0.5 seconds, got %v", session.GetSettleDelayDuration())
	}

	if session.GetGoodbyeGraceDuration() != 1500*time.Millisecond {
		t.Errorf("Expected 1.5 seconds, got %v", session.GetGoodbyeGraceDuration())
	}

	if session.GetRetryDelayDuration() != 250*time.Millisecond {
		t.Errorf("Expected 0.25 seconds, got %v", session.GetRetryDelayDuration())
	}

	if session.GetStreamTimeoutDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", session.GetStreamTimeoutDuration())
	}

	registry := RegistryConfig{SpecTTL: 300}

	if registry.GetSpecTTLDuration() != 5*time.Minute {
		t.Errorf("Expected 5 minutes, got %v", registry.GetSpecTTLDuration())
	}
}

func TestLoggingConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		config LoggingConfig
		valid  bool
	}{
		{
			name: "valid json to stdout",
			config: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stdout",
			},
			valid: true,
		},
		{
			name: "valid text to stderr",
			config: LoggingConfig{
				Level:  "debug",
				Format: "text",
				Output: "stderr",
			},
			valid: true,
		},
		{
			name: "invalid log level",
			config: LoggingConfig{
				Level:  "trace",
				Format: "json",
				Output: "stdout",
			},
			valid: false,
		},
		{
			name: "invalid format",
			config: LoggingConfig{
				Level:  "info",
				Format: "xml",
				Output: "stdout",
			},
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid config but got error: %v", err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected invalid config but got no error")
			}
		})
	}
}

// Helper function to check if a string contains a substring
func contains(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(substr) == 0 ||
		(len(s) > len(substr) && findSubstring(s, substr)))
}

func findSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
