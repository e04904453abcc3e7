package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type config struct {
	Port      int    `yaml:"port"`
	Root      string `yaml:"root"`
	LogLevel  string `yaml:"log_level"`
	Inference struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"inference"`

	// DatabaseURL comes from the environment, not the config file, so the
	// credentials stay out of version control. A .env file is honored.
	DatabaseURL string `yaml:"-"`
}

func loadConfig(path string) (config, error) {
	// Missing .env is fine; the variable may come from the real environment.
	_ = godotenv.Load()

	cfg := config{
		Port:     8080,
		Root:     ".",
		LogLevel: "info",
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DatabaseURL = os.Getenv("DATABASE_URL")
			return cfg, nil
		}
		return config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(bs, &cfg); err != nil {
		return config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	return cfg, nil
}
