package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/estimate/go/internal/dbconfig"
	"github.com/mcdev12/estimate/go/internal/room"
)

// Config is the server configuration, read from the environment.
type Config struct {
	Port     string
	LogLevel string

	// Store is "memory" or "postgres".
	Store string
	// Feed carries change notifications for the postgres store: "postgres" or "nats".
	Feed    string
	NATSURL string
	DB      dbconfig.Config

	// RedisURL selects Redis for browser identity storage; empty keeps it in memory.
	RedisURL   string
	SessionTTL time.Duration

	ShareBaseURL string
	PolicyFile   string
	Policy       Policy
}

// Policy holds the behaviour switches read from the YAML policy file.
type Policy struct {
	Rejoin          string        `yaml:"rejoin"`
	UniqueCodes     *bool         `yaml:"unique_codes"`
	MaxCodeAttempts int           `yaml:"max_code_attempts"`
	StoreTimeout    time.Duration `yaml:"store_timeout"`
}

func defaultPolicy() Policy {
	unique := room.DefaultDirectoryConfig().UniqueCodes
	return Policy{
		Rejoin:          string(room.RejoinKeepVote),
		UniqueCodes:     &unique,
		MaxCodeAttempts: room.DefaultDirectoryConfig().MaxCodeAttempts,
		StoreTimeout:    10 * time.Second,
	}
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		Store:        getEnv("STORE", "memory"),
		Feed:         getEnv("FEED", "postgres"),
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		DB:           dbconfig.NewConfigFromEnv(),
		RedisURL:     os.Getenv("REDIS_URL"),
		SessionTTL:   getEnvAsDuration("SESSION_TTL", 12*time.Hour),
		ShareBaseURL: getEnv("SHARE_BASE_URL", "http://localhost:"+getEnv("PORT", "8080")),
		PolicyFile:   os.Getenv("POLICY_FILE"),
		Policy:       defaultPolicy(),
	}

	if cfg.PolicyFile != "" {
		policy, err := loadPolicy(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.Policy = policy
	}
	if n := getEnvAsInt("MAX_CODE_ATTEMPTS", 0); n > 0 {
		cfg.Policy.MaxCodeAttempts = n
	}
	if v := os.Getenv("REJOIN_POLICY"); v != "" {
		cfg.Policy.Rejoin = v
	}

	switch cfg.Store {
	case "memory", "postgres":
	default:
		return nil, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	switch cfg.Feed {
	case "postgres", "nats":
	default:
		return nil, fmt.Errorf("unknown FEED %q", cfg.Feed)
	}
	if _, err := room.ParseRejoinPolicy(cfg.Policy.Rejoin); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadPolicy reads path on top of the default policy.
func loadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}

	policy := defaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}
	return policy, nil
}

func (p Policy) directoryConfig() room.DirectoryConfig {
	cfg := room.DefaultDirectoryConfig()
	if p.UniqueCodes != nil {
		cfg.UniqueCodes = *p.UniqueCodes
	}
	if p.MaxCodeAttempts > 0 {
		cfg.MaxCodeAttempts = p.MaxCodeAttempts
	}
	return cfg
}

func (p Policy) sessionConfig() (room.SessionConfig, error) {
	rejoin, err := room.ParseRejoinPolicy(p.Rejoin)
	if err != nil {
		return room.SessionConfig{}, err
	}
	return room.SessionConfig{Rejoin: rejoin}, nil
}
