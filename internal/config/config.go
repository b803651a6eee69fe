// Package config provides the environment-driven configuration schema and
// loader for the gateway.
//
// Values come from process environment variables, optionally seeded from a
// .env file ([Load] reads one when present). [Validate] returns a joined
// error listing every problem at once.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/gimseonjin/realtime-character/pkg/provider/tts"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LLMProvider selects the token-streaming backend.
type LLMProvider string

const (
	LLMMock   LLMProvider = "mock"
	LLMOpenAI LLMProvider = "openai"
)

// IsValid reports whether p is a recognised LLM provider.
func (p LLMProvider) IsValid() bool {
	return p == LLMMock || p == LLMOpenAI
}

// TTSProvider selects the synthesis backend.
type TTSProvider string

const (
	TTSDummy  TTSProvider = "dummy"
	TTSOpenAI TTSProvider = "openai"
)

// IsValid reports whether p is a recognised TTS provider.
func (p TTSProvider) IsValid() bool {
	return p == TTSDummy || p == TTSOpenAI
}

// Config is the root configuration for the gateway.
type Config struct {
	// ListenAddr is the TCP address the HTTP server listens on.
	ListenAddr string

	// LogLevel controls verbosity. Default info.
	LogLevel LogLevel

	// LogJSON switches the log handler to JSON output.
	LogJSON bool

	// DatabaseURL is the PostgreSQL DSN.
	DatabaseURL string

	// CacheURL is the redis address for the history cache.
	CacheURL string

	// HistoryMaxTurns bounds the retained conversation turns per session.
	HistoryMaxTurns int

	// LLMProvider selects the streaming backend.
	LLMProvider LLMProvider

	// OpenAIAPIKey authenticates both the LLM and TTS OpenAI backends.
	OpenAIAPIKey string

	// OpenAILLMModel is the chat-completions model identifier.
	OpenAILLMModel string

	// OpenAILLMTemperature is the sampling temperature; HasTemperature marks
	// whether it was set at all.
	OpenAILLMTemperature float64
	HasTemperature       bool

	// OpenAILLMMaxTokens caps completion length; zero uses the model default.
	OpenAILLMMaxTokens int

	// OpenAILLMSystemPrompt overrides the character's system prompt when the
	// character carries none.
	OpenAILLMSystemPrompt string

	// TTSProvider selects the synthesis backend.
	TTSProvider TTSProvider

	// TTSURL overrides the synthesis endpoint base URL.
	TTSURL string

	// OpenAITTSModel is the speech model identifier.
	OpenAITTSModel string

	// OpenAITTSVoice is the fallback voice when a character has none.
	OpenAITTSVoice string

	// TTSSampleRate is the dummy synthesizer's sample rate in Hz.
	TTSSampleRate int

	// TTSMaxTextLen truncates fragments before synthesis; zero disables.
	TTSMaxTextLen int

	// AudioFormat is the synthesis format for audio chunk events.
	AudioFormat tts.Format
}

// Load reads configuration from the environment, seeding it from the .env
// file at envFile when that file exists (empty envFile skips the seed).
// The result is validated.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load %q: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment and validates
// it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:            getDefault("LISTEN_ADDR", ":8000"),
		LogLevel:              LogLevel(getDefault("LOG_LEVEL", string(LogInfo))),
		LogJSON:               boolEnv("LOG_JSON"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		CacheURL:              getDefault("CACHE_URL", "localhost:6379"),
		LLMProvider:           LLMProvider(getDefault("LLM_PROVIDER", string(LLMMock))),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAILLMModel:        getDefault("OPENAI_LLM_MODEL", "gpt-4o-mini"),
		OpenAILLMSystemPrompt: os.Getenv("OPENAI_LLM_SYSTEM_PROMPT"),
		TTSProvider:           TTSProvider(getDefault("TTS_PROVIDER", string(TTSDummy))),
		TTSURL:                os.Getenv("TTS_URL"),
		OpenAITTSModel:        getDefault("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice:        getDefault("OPENAI_TTS_VOICE", "alloy"),
		AudioFormat:           tts.Format(getDefault("AUDIO_FORMAT", string(tts.FormatWAV))),
	}

	var err error
	if cfg.HistoryMaxTurns, err = intEnv("HISTORY_MAX_TURNS", 10); err != nil {
		return nil, err
	}
	if cfg.TTSSampleRate, err = intEnv("TTS_SAMPLE_RATE", 24000); err != nil {
		return nil, err
	}
	if cfg.TTSMaxTextLen, err = intEnv("TTS_MAX_TEXT_LEN", 0); err != nil {
		return nil, err
	}
	if cfg.OpenAILLMMaxTokens, err = intEnv("OPENAI_LLM_MAX_TOKENS", 0); err != nil {
		return nil, err
	}
	if raw := os.Getenv("OPENAI_LLM_TEMPERATURE"); raw != "" {
		cfg.OpenAILLMTemperature, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("config: OPENAI_LLM_TEMPERATURE %q: %w", raw, err)
		}
		cfg.HasTemperature = true
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !cfg.LLMProvider.IsValid() {
		errs = append(errs, fmt.Errorf("LLM_PROVIDER %q is invalid; valid values: mock, openai", cfg.LLMProvider))
	}
	if !cfg.TTSProvider.IsValid() {
		errs = append(errs, fmt.Errorf("TTS_PROVIDER %q is invalid; valid values: dummy, openai", cfg.TTSProvider))
	}
	if !cfg.AudioFormat.IsValid() {
		errs = append(errs, fmt.Errorf("AUDIO_FORMAT %q is invalid", cfg.AudioFormat))
	}
	if cfg.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL must be set"))
	}
	if cfg.LLMProvider == LLMOpenAI && cfg.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set when LLM_PROVIDER=openai"))
	}
	if cfg.TTSProvider == TTSOpenAI && cfg.OpenAIAPIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY must be set when TTS_PROVIDER=openai"))
	}
	if cfg.HistoryMaxTurns < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_MAX_TURNS must be >= 1, got %d", cfg.HistoryMaxTurns))
	}
	if cfg.TTSSampleRate < 8000 {
		errs = append(errs, fmt.Errorf("TTS_SAMPLE_RATE must be >= 8000, got %d", cfg.TTSSampleRate))
	}

	return errors.Join(errs...)
}

func getDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s %q: %w", key, raw, err)
	}
	return v, nil
}
