// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	DBPath        string
	BotToken      string
	GitHubToken   string
	Organization  string
	AllowedChatID int64

	// TimeoutPeriod is the idle window after which an unattended wizard
	// session is abandoned.
	TimeoutPeriod time.Duration
	// TotalTimeLimit is the stale-event ceiling: inbound events older than
	// this are ignored outright.
	TotalTimeLimit time.Duration
	// TeamRefreshInterval controls the periodic team list updater.
	TeamRefreshInterval time.Duration

	// CORSAllowedOrigins lists origins allowed to call the ops API.
	CORSAllowedOrigins []string

	Teams TeamConfig
}

// TeamConfig names the special organization teams that gate wizard branches
// and provisioning side effects.
type TeamConfig struct {
	Security         string
	Core             string
	CommonDevelopers string
	Architecture     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/repobutler.db"),
		BotToken:            getEnv("BOT_TOKEN", ""),
		GitHubToken:         getEnv("GITHUB_TOKEN", ""),
		Organization:        getEnv("GITHUB_ORG", ""),
		AllowedChatID:       getEnvInt64("ALLOWED_CHAT_ID", 0),
		TimeoutPeriod:       time.Duration(getEnvInt("TIMEOUT_PERIOD_SECONDS", 60)) * time.Second,
		TotalTimeLimit:      time.Duration(getEnvInt("TOTAL_TIME_LIMIT_MINUTES", 10)) * time.Minute,
		TeamRefreshInterval: time.Duration(getEnvInt("TEAM_REFRESH_INTERVAL_SECONDS", 3600)) * time.Second,
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		Teams: TeamConfig{
			Security:         getEnv("SECURITY_TEAM", "Security"),
			Core:             getEnv("CORE_TEAM", "Core"),
			CommonDevelopers: getEnv("COMMON_DEVELOPERS_TEAM", "Developers"),
			Architecture:     getEnv("ARCHITECTURE_TEAM", "Architecture"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BotToken == "" {
		return fmt.Errorf("BOT_TOKEN cannot be empty")
	}
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN cannot be empty")
	}
	if c.Organization == "" {
		return fmt.Errorf("GITHUB_ORG cannot be empty")
	}
	if c.AllowedChatID == 0 {
		return fmt.Errorf("ALLOWED_CHAT_ID cannot be empty")
	}
	if c.TimeoutPeriod <= 0 {
		return fmt.Errorf("TIMEOUT_PERIOD_SECONDS must be > 0")
	}
	if c.TotalTimeLimit <= 0 {
		return fmt.Errorf("TOTAL_TIME_LIMIT_MINUTES must be > 0")
	}
	if c.TeamRefreshInterval <= 0 {
		return fmt.Errorf("TEAM_REFRESH_INTERVAL_SECONDS must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvInt64(key string, fallback int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
