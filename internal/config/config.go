package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all service configuration, loaded from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
}

type ServiceConfig struct {
	Name        string `validate:"required"`
	Version     string `validate:"required"`
	Environment string `validate:"oneof=development staging production"`
}

type ServerConfig struct {
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"min=1s"`
	WriteTimeout    time.Duration `validate:"min=1s"`
	IdleTimeout     time.Duration `validate:"min=1s"`
	ShutdownTimeout time.Duration `validate:"min=1s"`
}

type DatabaseConfig struct {
	Host           string `validate:"required"`
	Port           int    `validate:"min=1,max=65535"`
	User           string `validate:"required"`
	Password       string
	Database       string `validate:"required"`
	SSLMode        string `validate:"oneof=disable require verify-ca verify-full"`
	MaxConns       int    `validate:"min=1"`
	MinConns       int    `validate:"min=0"`
	MigrationsPath string `validate:"required"`
}

type NATSConfig struct {
	URL string // empty disables event publishing
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-cm-works"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 8086),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Database:       getEnv("DB_NAME", "cm_works"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConns:       getEnvInt("DB_MAX_CONNS", 10),
			MinConns:       getEnvInt("DB_MIN_CONNS", 2),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", ""),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
