// Package config loads gasync's runtime configuration from the
// environment (optionally seeded by a .env file), the way the
// teacher's weather server configures its own database, queue, and
// notification layers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Gearman  GearmanConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Stats    StatsConfig
	SMTP     SMTPConfig
	Alerting AlertingConfig
}

// GearmanConfig names the job servers a pool of endpoints connects to,
// the pool's size cap, and a connect retry count.
type GearmanConfig struct {
	Hosts          []string
	PoolMaxSize    int
	ConnectRetries int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers      []string
	TopicEvents  string
	BatchSize    int
	BatchTimeout time.Duration
	Compression  string
	Async        bool
	MaxAttempts  int
	RequiredAcks int
}

// StatsConfig governs the in-memory hourly rollup's retention.
type StatsConfig struct {
	RetainFor     time.Duration
	PruneInterval time.Duration
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       string
}

// AlertingConfig bounds how often the same endpoint can trigger
// another failure email.
type AlertingConfig struct {
	Cooldown time.Duration
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Gearman: GearmanConfig{
			Hosts:          strings.Split(getEnv("GEARMAN_HOSTS", "localhost:7003"), ","),
			PoolMaxSize:    getEnvAsInt("GEARMAN_POOL_MAX_SIZE", 50),
			ConnectRetries: getEnvAsInt("GEARMAN_CONNECT_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "gasync_user"),
			Password: getEnv("DB_PASSWORD", "gasync_pass"),
			DBName:   getEnv("DB_NAME", "gasync_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			TopicEvents:  getEnv("KAFKA_TOPIC_EVENTS", "gasync.endpoint.events"),
			BatchSize:    getEnvAsInt("KAFKA_BATCH_SIZE", 100),
			BatchTimeout: getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 100*time.Millisecond),
			Compression:  getEnv("KAFKA_COMPRESSION", "snappy"),
			Async:        getEnvAsBool("KAFKA_ASYNC", true),
			MaxAttempts:  getEnvAsInt("KAFKA_MAX_ATTEMPTS", 3),
			RequiredAcks: getEnvAsInt("KAFKA_REQUIRED_ACKS", 1),
		},
		Stats: StatsConfig{
			RetainFor:     getEnvAsDuration("STATS_RETAIN_FOR", 7*24*time.Hour),
			PruneInterval: getEnvAsDuration("STATS_PRUNE_INTERVAL", 1*time.Hour),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "gasync@example.com"),
			To:       getEnv("SMTP_TO", "admin@example.com"),
		},
		Alerting: AlertingConfig{
			Cooldown: getEnvAsDuration("ALERTING_COOLDOWN", 15*time.Minute),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
