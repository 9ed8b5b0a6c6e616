package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all process configuration, loaded once at startup.
type Config struct {
	ServerPort  int
	Environment string

	JWTSecret    string
	TokenTTL     time.Duration
	ChallengeTTL time.Duration

	PostgresURL string
	MongoURL    string
	MongoDB     string
	RedisURL    string

	Mail    MailConfig
	Storage StorageConfig
	Events  EventsConfig
}

// MailConfig configures the outbound SMTP transport. Mail is disabled when
// Host is empty.
type MailConfig struct {
	Host string
	Port int
	From string
}

// StorageConfig selects and configures the avatar object-storage backend.
// Storage is disabled when Backend is empty.
type StorageConfig struct {
	Backend string // "minio" or "gcs"
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string
}

// EventsConfig selects and configures the activity event broker. Fan-out is
// disabled when Backend is empty.
type EventsConfig struct {
	Backend         string // "rabbitmq" or "pubsub"
	RabbitMQURL     string
	PubSubProjectID string
	CredentialsFile string
}

// LoadConfig reads configuration from the environment. In development a
// .env file is loaded first. Missing required variables are a fatal error.
func LoadConfig() (Config, error) {
	if getEnv("NODE_ENV", "development") != "production" {
		godotenv.Load()
	}

	cfg := Config{
		ServerPort:  getEnvInt("SERVER_PORT", 8080),
		Environment: getEnv("NODE_ENV", "development"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		TokenTTL:     getEnvDuration("TOKEN_TTL", 24*time.Hour),
		ChallengeTTL: getEnvDuration("CHALLENGE_TTL", 5*time.Minute),

		PostgresURL: getEnv("POSTGRES_URL", ""),
		MongoURL:    getEnv("MONGODB_URL", ""),
		MongoDB:     getEnv("MONGODB_DATABASE", "walletgate"),
		RedisURL:    getEnv("REDIS_URL", ""),

		Mail: MailConfig{
			Host: getEnv("MAIL_HOST", ""),
			Port: getEnvInt("MAIL_PORT", 587),
			From: getEnv("MAIL_FROM", ""),
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", ""),
			Minio: MinioConfig{
				Endpoint:  getEnv("MINIO_ENDPOINT", ""),
				AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
				SecretKey: getEnv("MINIO_SECRET_KEY", ""),
				Bucket:    getEnv("MINIO_BUCKET", "avatars"),
				UseSSL:    getEnvBool("MINIO_USE_SSL", false),
			},
			GCS: GCSConfig{
				Bucket:          getEnv("GCS_BUCKET", ""),
				ProjectID:       getEnv("GCS_PROJECT_ID", ""),
				CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
			},
		},
		Events: EventsConfig{
			Backend:         getEnv("EVENTS_BACKEND", ""),
			RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
			PubSubProjectID: getEnv("PUBSUB_PROJECT_ID", ""),
			CredentialsFile: getEnv("PUBSUB_CREDENTIALS_FILE", ""),
		},
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if cfg.PostgresURL == "" {
		return Config{}, errors.New("POSTGRES_URL is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		var value int
		if _, err := fmt.Sscanf(valueStr, "%d", &value); err == nil {
			return value
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		return valueStr == "true" || valueStr == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return defaultValue
}
