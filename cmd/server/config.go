package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Every field has a sane
// default and an environment override, so the file itself may be absent.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Relayer struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"relayer"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Session struct {
		TTLMinutes int `yaml:"ttl_minutes"`
	} `yaml:"session"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&config)
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnvOverrides(&config)
	return &config, nil
}

func applyEnvOverrides(config *Config) {
	config.Server.Port = getEnv("PORT", defaultString(config.Server.Port, "8080"))
	config.Relayer.URL = getEnv("RELAYER_URL", defaultString(config.Relayer.URL, "http://localhost:9010"))
	config.Relayer.APIKey = getEnv("RELAYER_API_KEY", config.Relayer.APIKey)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Session.TTLMinutes = getEnvAsInt("SESSION_TTL_MINUTES", defaultInt(config.Session.TTLMinutes, 24*60))
}

func defaultString(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func defaultInt(current, fallback int) int {
	if current != 0 {
		return current
	}
	return fallback
}

func (c *Config) sessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}
