// Package config provides unified configuration loading for voiceflow:
// defaults, then YAML file, then environment overrides (prefix VOICEFLOW).
package config

import (
	"fmt"
	"time"
)

// Config is the complete voiceflow configuration.
type Config struct {
	// Server holds the HTTP listener configuration.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Daily holds the room provisioning API configuration.
	Daily DailyConfig `yaml:"daily" env:"DAILY"`

	// STT holds the speech recognition service configuration.
	STT STTConfig `yaml:"stt" env:"STT"`

	// TTS holds the speech synthesis service configuration.
	TTS TTSConfig `yaml:"tts" env:"TTS"`

	// LLM holds the chat model service configuration.
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Session holds the session supervisor configuration.
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// Persona selects and optionally overrides the deployed assistant persona.
	Persona PersonaConfig `yaml:"persona" env:"PERSONA"`

	// Log holds the logging configuration.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry holds the tracing configuration.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig holds the HTTP and metrics listener settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DailyConfig holds the Daily REST API settings.
// A missing APIKey is not fatal for the server; /room reports it per request.
type DailyConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// RoomExpiry is the lifetime applied to created rooms and minted tokens.
	RoomExpiry time.Duration `yaml:"room_expiry" env:"ROOM_EXPIRY"`
}

// STTConfig holds the streaming speech recognition settings.
type STTConfig struct {
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	Server     string `yaml:"server" env:"SERVER"`
	FunctionID string `yaml:"function_id" env:"FUNCTION_ID"`
	Model      string `yaml:"model" env:"MODEL"`
	SampleRate int    `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// TTSConfig holds the speech synthesis settings.
type TTSConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	Server     string        `yaml:"server" env:"SERVER"`
	FunctionID string        `yaml:"function_id" env:"FUNCTION_ID"`
	Model      string        `yaml:"model" env:"MODEL"`
	VoiceID    string        `yaml:"voice_id" env:"VOICE_ID"`
	SampleRate int           `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig holds the chat model settings.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL"`
	Model       string        `yaml:"model" env:"MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Temperature float64       `yaml:"temperature" env:"TEMPERATURE"`
	// ContextTokenBudget caps the conversation context; oldest turns are
	// trimmed past it. Zero disables trimming.
	ContextTokenBudget int `yaml:"context_token_budget" env:"CONTEXT_TOKEN_BUDGET"`
}

// SessionConfig holds the session supervisor settings.
type SessionConfig struct {
	// GreetingGrace is how long to wait for a participant before the
	// fallback greeting fires.
	GreetingGrace time.Duration `yaml:"greeting_grace" env:"GREETING_GRACE"`
	// ShutdownTimeout bounds how long Supervisor.Shutdown waits for
	// sessions to drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// PersonaConfig selects the assistant persona. Name picks a built-in
// ("institute" or "devotional"); the remaining fields override it.
type PersonaConfig struct {
	Name         string `yaml:"name" env:"NAME"`
	DisplayName  string `yaml:"display_name" env:"DISPLAY_NAME"`
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	Greeting     string `yaml:"greeting" env:"GREETING"`
	// GreetingMode is "speak" (literal synthesis) or "prompt" (model-generated).
	GreetingMode string `yaml:"greeting_mode" env:"GREETING_MODE"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	Level       string   `yaml:"level" env:"LEVEL"`
	Format      string   `yaml:"format" env:"FORMAT"` // json or console
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig holds the OpenTelemetry tracing settings.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Daily: DailyConfig{
			BaseURL:    "https://api.daily.co/v1",
			Timeout:    30 * time.Second,
			RoomExpiry: time.Hour,
		},
		STT: STTConfig{
			Server:     "grpc.nvcf.nvidia.com:443",
			FunctionID: "1598d209-5e27-4d3c-8079-4751568b1081",
			Model:      "parakeet-ctc-1.1b-asr",
			SampleRate: 16000,
		},
		TTS: TTSConfig{
			Server:     "grpc.nvcf.nvidia.com:443",
			FunctionID: "877104f7-e885-42b9-8de8-f6e4c6303969",
			Model:      "magpie-tts-multilingual",
			VoiceID:    "Magpie-Multilingual.EN-US.Sofia",
			SampleRate: 16000,
			Timeout:    60 * time.Second,
		},
		LLM: LLMConfig{
			BaseURL:            "https://integrate.api.nvidia.com/v1",
			Model:              "meta/llama-3.1-8b-instruct",
			Timeout:            60 * time.Second,
			Temperature:        0.7,
			ContextTokenBudget: 8192,
		},
		Session: SessionConfig{
			GreetingGrace:   3 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Persona: PersonaConfig{
			Name: "institute",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Telemetry: TelemetryConfig{
			ServiceName: "voiceflow",
			SampleRatio: 1.0,
		},
	}
}

// Validate checks the configuration for structural problems. Missing
// upstream credentials are deliberately not validated here; they surface
// per-session and in /health.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics_port: %d", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("metrics_port must differ from http_port")
	}
	switch c.Persona.GreetingMode {
	case "", "speak", "prompt":
	default:
		return fmt.Errorf("invalid persona greeting_mode: %q", c.Persona.GreetingMode)
	}
	if c.Session.GreetingGrace < 0 {
		return fmt.Errorf("greeting_grace must not be negative")
	}
	if c.LLM.ContextTokenBudget < 0 {
		return fmt.Errorf("context_token_budget must not be negative")
	}
	return nil
}
