package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	LLMModeProvider   = "provider"
	LLMModeSimulation = "simulation"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`
	AutoMigrate   bool   `mapstructure:"AUTO_MIGRATE"`

	LLMMode         string  `mapstructure:"LLM_MODE"`
	LLMBaseURL      string  `mapstructure:"LLM_BASE_URL"`
	LLMAPIKey       string  `mapstructure:"LLM_API_KEY"`
	LLMRateLimitRPS float64 `mapstructure:"LLM_RATE_LIMIT_RPS"`

	LLMFrequencyPenalty float64 `mapstructure:"LLM_FREQUENCY_PENALTY"`
	LLMPresencePenalty  float64 `mapstructure:"LLM_PRESENCE_PENALTY"`
	LLMTopP             float64 `mapstructure:"LLM_TOP_P"`

	ChatModel       string        `mapstructure:"CHAT_MODEL"`
	ChatTemperature float64       `mapstructure:"CHAT_TEMPERATURE"`
	ChatMaxTokens   int           `mapstructure:"CHAT_MAX_TOKENS"`
	ChatTimeout     time.Duration `mapstructure:"CHAT_TIMEOUT"`
	HistoryWindow   int           `mapstructure:"HISTORY_WINDOW"`

	DiagnosisModel       string        `mapstructure:"DIAGNOSIS_MODEL"`
	DiagnosisTemperature float64       `mapstructure:"DIAGNOSIS_TEMPERATURE"`
	DiagnosisMaxTokens   int           `mapstructure:"DIAGNOSIS_MAX_TOKENS"`
	DiagnosisTimeout     time.Duration `mapstructure:"DIAGNOSIS_TIMEOUT"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	STTURL     string `mapstructure:"STT_URL"`
	TTSAPIKey  string `mapstructure:"TTS_API_KEY"`
	TTSVoiceID string `mapstructure:"TTS_VOICE_ID"`

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	DoctorChatID     int64  `mapstructure:"DOCTOR_CHAT_ID"`
	ReportFontPath   string `mapstructure:"REPORT_FONT_PATH"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR", "AUTO_MIGRATE",
	"LLM_MODE", "LLM_BASE_URL", "LLM_API_KEY", "LLM_RATE_LIMIT_RPS",
	"LLM_FREQUENCY_PENALTY", "LLM_PRESENCE_PENALTY", "LLM_TOP_P",
	"CHAT_MODEL", "CHAT_TEMPERATURE", "CHAT_MAX_TOKENS", "CHAT_TIMEOUT", "HISTORY_WINDOW",
	"DIAGNOSIS_MODEL", "DIAGNOSIS_TEMPERATURE", "DIAGNOSIS_MAX_TOKENS", "DIAGNOSIS_TIMEOUT",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"STT_URL", "TTS_API_KEY", "TTS_VOICE_ID",
	"TELEGRAM_BOT_TOKEN", "DOCTOR_CHAT_ID", "REPORT_FONT_PATH",
}

// Load reads configuration from the environment and an optional .env file.
// It does not validate; call Validate before serving.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("AUTO_MIGRATE", true)
	v.SetDefault("LLM_MODE", "")
	v.SetDefault("LLM_BASE_URL", "https://api.aimlapi.com/v1")
	v.SetDefault("LLM_RATE_LIMIT_RPS", 0)
	v.SetDefault("LLM_FREQUENCY_PENALTY", 1.0)
	v.SetDefault("LLM_PRESENCE_PENALTY", 1.0)
	v.SetDefault("LLM_TOP_P", 1.0)
	v.SetDefault("CHAT_MODEL", "gpt-4o-mini")
	v.SetDefault("CHAT_TEMPERATURE", 0.7)
	v.SetDefault("CHAT_MAX_TOKENS", 500)
	v.SetDefault("CHAT_TIMEOUT", "30s")
	v.SetDefault("HISTORY_WINDOW", 10)
	v.SetDefault("DIAGNOSIS_MODEL", "gpt-4o-mini-2024-07-18")
	v.SetDefault("DIAGNOSIS_TEMPERATURE", 0.3)
	v.SetDefault("DIAGNOSIS_MAX_TOKENS", 2048)
	v.SetDefault("DIAGNOSIS_TIMEOUT", "45s")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedLLMMode returns the effective gateway mode. Without an API key the
// simulated gateway is used unless provider mode is forced.
func (c *Config) ResolvedLLMMode() string {
	if c.LLMMode != "" {
		return c.LLMMode
	}
	if c.LLMAPIKey == "" {
		return LLMModeSimulation
	}
	return LLMModeProvider
}

// UsesDatabase reports whether the postgres stores are configured. Without
// DATABASE_URL the service runs on in-memory stores.
func (c *Config) UsesDatabase() bool {
	return c.DatabaseURL != ""
}

func (c *Config) Validate() error {
	mode := c.ResolvedLLMMode()
	if mode != LLMModeProvider && mode != LLMModeSimulation {
		return fmt.Errorf("LLM_MODE must be %q or %q, got %q", LLMModeProvider, LLMModeSimulation, mode)
	}
	if mode == LLMModeProvider && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when LLM_MODE is %q", LLMModeProvider)
	}
	if c.ChatTemperature < 0 || c.ChatTemperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be within [0,2], got %v", c.ChatTemperature)
	}
	if c.DiagnosisTemperature < 0 || c.DiagnosisTemperature > 2 {
		return fmt.Errorf("DIAGNOSIS_TEMPERATURE must be within [0,2], got %v", c.DiagnosisTemperature)
	}
	if c.LLMFrequencyPenalty < -2 || c.LLMFrequencyPenalty > 2 || c.LLMPresencePenalty < -2 || c.LLMPresencePenalty > 2 {
		return fmt.Errorf("LLM_FREQUENCY_PENALTY and LLM_PRESENCE_PENALTY must be within [-2,2]")
	}
	if c.LLMTopP <= 0 || c.LLMTopP > 1 {
		return fmt.Errorf("LLM_TOP_P must be within (0,1], got %v", c.LLMTopP)
	}
	if c.ChatMaxTokens <= 0 || c.DiagnosisMaxTokens <= 0 {
		return fmt.Errorf("CHAT_MAX_TOKENS and DIAGNOSIS_MAX_TOKENS must be positive")
	}
	if c.ChatTimeout <= 0 || c.DiagnosisTimeout <= 0 {
		return fmt.Errorf("CHAT_TIMEOUT and DIAGNOSIS_TIMEOUT must be positive")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be positive, got %d", c.HistoryWindow)
	}
	if c.TelegramBotToken != "" && c.DoctorChatID == 0 {
		return fmt.Errorf("DOCTOR_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.UsesDatabase() && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
