// Package config loads service configuration from the environment. A
// .env file in the working directory is folded in first so local runs
// work without exporting anything.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config carries everything main needs to assemble the service.
type Config struct {
	Port string
	Env  string

	CardsBackend     string
	AnalyticsBackend string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int

	AuthJWTSecret string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string
	LLMTimeout        time.Duration
	LLMRetryAttempts  int
	LLMRetryDelay     time.Duration

	AppURL  string
	AppName string
}

// Load reads the environment into a validated Config.
func Load() (Config, error) {
	// A missing .env is fine; deployments set the environment directly.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "production")
	v.SetDefault("CARDS_BACKEND", "memory")
	v.SetDefault("ANALYTICS_BACKEND", "log")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OPENROUTER_MODEL", "openai/gpt-4o-mini")
	v.SetDefault("LLM_TIMEOUT", "30s")
	v.SetDefault("LLM_RETRY_ATTEMPTS", 2)
	v.SetDefault("LLM_RETRY_DELAY", "1s")
	v.SetDefault("APP_NAME", "10x-cards")

	cfg := Config{
		Port: v.GetString("PORT"),
		Env:  v.GetString("ENV"),

		CardsBackend:     v.GetString("CARDS_BACKEND"),
		AnalyticsBackend: v.GetString("ANALYTICS_BACKEND"),
		RedisAddr:        v.GetString("REDIS_ADDR"),
		RedisPassword:    v.GetString("REDIS_PASSWORD"),
		RedisDB:          v.GetInt("REDIS_DB"),

		AuthJWTSecret: v.GetString("AUTH_JWT_SECRET"),

		OpenRouterAPIKey:  v.GetString("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: v.GetString("OPENROUTER_BASE_URL"),
		OpenRouterModel:   v.GetString("OPENROUTER_MODEL"),
		LLMTimeout:        v.GetDuration("LLM_TIMEOUT"),
		LLMRetryAttempts:  v.GetInt("LLM_RETRY_ATTEMPTS"),
		LLMRetryDelay:     v.GetDuration("LLM_RETRY_DELAY"),

		AppURL:  v.GetString("APP_URL"),
		AppName: v.GetString("APP_NAME"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.OpenRouterAPIKey) == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is required")
	}
	switch c.CardsBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CARDS_BACKEND %q", c.CardsBackend)
	}
	switch c.AnalyticsBackend {
	case "", "log", "redis", "none":
	default:
		return fmt.Errorf("unknown ANALYTICS_BACKEND %q", c.AnalyticsBackend)
	}
	return nil
}

// NeedsRedis reports whether any selected backend requires a Redis
// connection at startup.
func (c Config) NeedsRedis() bool {
	return c.CardsBackend == "redis" || c.AnalyticsBackend == "redis"
}
