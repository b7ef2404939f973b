package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the scheduler worker.
type AppConfig struct {
	DatabaseURL      string
	RedisURL         string
	VAPIDPublicKey   string
	VAPIDPrivateKey  string
	VAPIDSubject     string
	Timezone         string
	SchedulerWorkers int
	LogLevel         string
	Environment      string
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables; a missing .env
	// file is not an error.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is not set")
	}

	cfg.VAPIDPublicKey = os.Getenv("VAPID_PUBLIC_KEY")
	if cfg.VAPIDPublicKey == "" {
		return nil, fmt.Errorf("VAPID_PUBLIC_KEY is not set")
	}

	cfg.VAPIDPrivateKey = os.Getenv("VAPID_PRIVATE_KEY")
	if cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("VAPID_PRIVATE_KEY is not set")
	}

	cfg.VAPIDSubject = os.Getenv("VAPID_SUBJECT")
	if cfg.VAPIDSubject == "" {
		return nil, fmt.Errorf("VAPID_SUBJECT is not set")
	}
	if !strings.HasPrefix(cfg.VAPIDSubject, "mailto:") && !strings.HasPrefix(cfg.VAPIDSubject, "https://") {
		return nil, fmt.Errorf("VAPID_SUBJECT must be a mailto: or https: URI, got %q", cfg.VAPIDSubject)
	}

	cfg.Timezone = os.Getenv("TIMEZONE")
	if cfg.Timezone == "" {
		cfg.Timezone = "Europe/Berlin"
	}

	workersStr := os.Getenv("SCHEDULER_WORKERS")
	if workersStr == "" {
		cfg.SchedulerWorkers = 3
	} else {
		workers, err := strconv.Atoi(workersStr)
		if err != nil || workers < 1 {
			return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %q", workersStr)
		}
		cfg.SchedulerWorkers = workers
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	return cfg, nil
}
