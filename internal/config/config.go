package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kenedwardtan/real-time-logistics-tracker/internal/mutation"
)

const (
	defaultPort                 = "8080"
	defaultMutationTimeout      = 10 * time.Second
	defaultSimulatedDelay       = 1 * time.Second
	defaultSimulatedFailureRate = 0.1
	defaultReconnectBase        = 1 * time.Second
	defaultReconnectMax         = 30 * time.Second
	defaultFirebaseCredentials  = "./firebase-service-account.json"
)

// Config holds the process configuration read from the environment
type Config struct {
	Port        string
	DatabaseURL string
	JWTSecret   string

	FeedURL         string
	FeedAutoConnect bool
	ReconnectBase   time.Duration
	ReconnectMax    time.Duration

	MutationTimeout time.Duration
	RollbackPolicy  mutation.RollbackPolicy

	SimulatedBackend     bool
	SimulatedDelay       time.Duration
	SimulatedFailureRate float64

	RedisURL string

	FirebaseCredentialsBase64 string
	FirebaseCredentialsFile   string
}

// Load reads configuration from environment variables and applies defaults.
// Without DATABASE_URL the dashboard serves the demonstration fleet and
// confirms changes against the simulated backend.
func Load() (Config, error) {
	cfg := Config{
		Port:                      defaultPort,
		DatabaseURL:               strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:                 os.Getenv("APP_JWT_SECRET"),
		FeedURL:                   strings.TrimSpace(os.Getenv("FEED_URL")),
		ReconnectBase:             defaultReconnectBase,
		ReconnectMax:              defaultReconnectMax,
		MutationTimeout:           defaultMutationTimeout,
		RollbackPolicy:            mutation.PolicySnapshot,
		SimulatedDelay:            defaultSimulatedDelay,
		SimulatedFailureRate:      defaultSimulatedFailureRate,
		RedisURL:                  strings.TrimSpace(os.Getenv("REDIS_URL")),
		FirebaseCredentialsBase64: os.Getenv("FIREBASE_CREDENTIALS_BASE64"),
		FirebaseCredentialsFile:   defaultFirebaseCredentials,
	}

	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("FIREBASE_CREDENTIALS_FILE"); v != "" {
		cfg.FirebaseCredentialsFile = v
	}

	if v, err := readBoolEnv("FEED_AUTOCONNECT"); err != nil {
		return Config{}, fmt.Errorf("parse FEED_AUTOCONNECT: %w", err)
	} else if v != nil {
		cfg.FeedAutoConnect = *v
	} else {
		cfg.FeedAutoConnect = cfg.FeedURL != ""
	}

	if v, err := readIntEnv("MUTATION_TIMEOUT_MS"); err != nil {
		return Config{}, fmt.Errorf("parse MUTATION_TIMEOUT_MS: %w", err)
	} else if v != nil {
		cfg.MutationTimeout = time.Duration(*v) * time.Millisecond
	}

	if v := os.Getenv("ROLLBACK_POLICY"); v != "" {
		policy, err := mutation.ParseRollbackPolicy(strings.ToLower(strings.TrimSpace(v)))
		if err != nil {
			return Config{}, fmt.Errorf("parse ROLLBACK_POLICY: %w", err)
		}
		cfg.RollbackPolicy = policy
	}

	if v, err := readBoolEnv("SIMULATED_BACKEND"); err != nil {
		return Config{}, fmt.Errorf("parse SIMULATED_BACKEND: %w", err)
	} else if v != nil {
		cfg.SimulatedBackend = *v
	} else {
		cfg.SimulatedBackend = cfg.DatabaseURL == ""
	}

	if v, err := readIntEnv("SIMULATED_DELAY_MS"); err != nil {
		return Config{}, fmt.Errorf("parse SIMULATED_DELAY_MS: %w", err)
	} else if v != nil {
		cfg.SimulatedDelay = time.Duration(*v) * time.Millisecond
	}

	if v := os.Getenv("SIMULATED_FAILURE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("parse SIMULATED_FAILURE_RATE: %w", err)
		}
		cfg.SimulatedFailureRate = rate
	}

	if v, err := readIntEnv("RECONNECT_BASE_MS"); err != nil {
		return Config{}, fmt.Errorf("parse RECONNECT_BASE_MS: %w", err)
	} else if v != nil {
		cfg.ReconnectBase = time.Duration(*v) * time.Millisecond
	}

	if v, err := readIntEnv("RECONNECT_MAX_MS"); err != nil {
		return Config{}, fmt.Errorf("parse RECONNECT_MAX_MS: %w", err)
	} else if v != nil {
		cfg.ReconnectMax = time.Duration(*v) * time.Millisecond
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("APP_JWT_SECRET is required")
	}
	if cfg.MutationTimeout <= 0 {
		return Config{}, fmt.Errorf("MUTATION_TIMEOUT_MS must be positive")
	}
	if cfg.SimulatedDelay < 0 {
		return Config{}, fmt.Errorf("SIMULATED_DELAY_MS must not be negative")
	}
	if cfg.SimulatedFailureRate < 0 || cfg.SimulatedFailureRate > 1 {
		return Config{}, fmt.Errorf("SIMULATED_FAILURE_RATE must be between 0 and 1")
	}
	if !cfg.SimulatedBackend && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required when SIMULATED_BACKEND is false")
	}
	if cfg.ReconnectBase < 0 {
		return Config{}, fmt.Errorf("RECONNECT_BASE_MS must not be negative")
	}
	if cfg.ReconnectMax > 0 && cfg.ReconnectMax < cfg.ReconnectBase {
		return Config{}, fmt.Errorf("RECONNECT_MAX_MS must be >= RECONNECT_BASE_MS")
	}
	if cfg.FeedAutoConnect && cfg.FeedURL == "" {
		return Config{}, fmt.Errorf("FEED_URL is required when FEED_AUTOCONNECT is set")
	}

	return cfg, nil
}

func readIntEnv(name string) (*int, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func readBoolEnv(name string) (*bool, error) {
	val := os.Getenv(name)
	if val == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(val)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
