// Package config содержит логику чтения конфигурации сервиса лояльности.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации сервиса лояльности.
type Config struct {
	RunAddress   string        `env:"RUN_ADDRESS"`
	DatabaseURI  string        `env:"DATABASE_URI"`
	GenAIKey     string        `env:"GENAI_API_KEY"`
	GenAIBaseURL string        `env:"GENAI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com"`
	GenAIModel   string        `env:"GENAI_MODEL" envDefault:"gemini-2.0-flash"`
	AuthSecret   string        `env:"AUTH_SECRET"`
	AdminEmail   string        `env:"ADMIN_EMAIL" envDefault:"admin@barber.club"`
	AdminPass    string        `env:"ADMIN_PASSWORD"`
	ReplyTimeout time.Duration `env:"REPLY_TIMEOUT" envDefault:"15s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Parse считывает конфигурацию из .env, флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envGenAIKey := cfg.GenAIKey

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI, in-memory store when empty")
	flag.StringVar(&cfg.GenAIKey, "k", "", "generative model API key, canned replies when empty")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envGenAIKey != "" {
		cfg.GenAIKey = envGenAIKey
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
