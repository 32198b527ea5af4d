package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort    string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBMaxConns string
	DBMinConns string

	StoreDriver    string
	MigrationsDir  string
	RedisAddr      string
	LogLevel       string
	LogDevelopment string

	SweepInterval        string
	DefaultClaimValidity string
	TokenMaxAttempts     string
	WSPath               string

	KafkaBrokers           string
	KafkaClientID          string
	KafkaGroupID           string
	KafkaFeedGroupID       string
	KafkaRetryGroupID      string
	KafkaInstanceID        string
	KafkaTopicPartitions   string
	KafkaRetryPartitions   string
	KafkaReplicationFactor string
	KafkaMinISR            string
	EventDrivenEnabled     string
}

func Load() *Config {
	instanceID := os.Getenv("KAFKA_INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	return &Config{
		AppPort:    getEnv("APP_PORT", "8080"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "offerdb"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		DBMaxConns: getEnv("DB_MAX_CONNS", "16"),
		DBMinConns: getEnv("DB_MIN_CONNS", "1"),

		StoreDriver:    getEnv("STORE_DRIVER", "postgres"),
		MigrationsDir:  getEnv("MIGRATIONS_DIR", "db/migrations"),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogDevelopment: getEnv("LOG_DEVELOPMENT", "false"),

		SweepInterval:        getEnv("SWEEP_INTERVAL", "5s"),
		DefaultClaimValidity: getEnv("DEFAULT_CLAIM_VALIDITY", "24h"),
		TokenMaxAttempts:     getEnv("TOKEN_MAX_ATTEMPTS", "5"),
		WSPath:               getEnv("WS_PATH", "/ws"),

		KafkaBrokers:           getEnv("KAFKA_BROKERS", "kafka:9092"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "offer-service"),
		KafkaGroupID:           getEnv("KAFKA_GROUP_ID", "offer-consumers"),
		KafkaFeedGroupID:       getEnv("KAFKA_FEED_GROUP_ID", "offer-feed-"+instanceID),
		KafkaRetryGroupID:      getEnv("KAFKA_RETRY_GROUP_ID", "offer-retry"),
		KafkaInstanceID:        instanceID,
		KafkaTopicPartitions:   getEnv("KAFKA_TOPIC_PARTITIONS", "3"),
		KafkaRetryPartitions:   getEnv("KAFKA_RETRY_PARTITIONS", "1"),
		KafkaReplicationFactor: getEnv("KAFKA_REPLICATION_FACTOR", "1"),
		KafkaMinISR:            getEnv("KAFKA_MIN_ISR", "1"),
		EventDrivenEnabled:     getEnv("EVENT_DRIVEN_ENABLED", "true"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) DSN() string {
	return "postgresql://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName + "?sslmode=" + c.DBSSLMode
}

func (c *Config) EventDriven() bool {
	return parseBool(c.EventDrivenEnabled, true)
}

func (c *Config) Development() bool {
	return parseBool(c.LogDevelopment, false)
}

func (c *Config) MaxConns() int32 {
	return int32(parseInt(c.DBMaxConns, 16))
}

func (c *Config) MinConns() int32 {
	return int32(parseInt(c.DBMinConns, 1))
}

func (c *Config) TopicPartitions() int {
	return parseInt(c.KafkaTopicPartitions, 3)
}

func (c *Config) RetryPartitions() int {
	return parseInt(c.KafkaRetryPartitions, 1)
}

func (c *Config) ReplicationFactor() int16 {
	value := parseInt(c.KafkaReplicationFactor, 1)
	return int16(value)
}

func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, 5*time.Second)
}

func (c *Config) ClaimValidity() time.Duration {
	return parseDuration(c.DefaultClaimValidity, 24*time.Hour)
}

func (c *Config) MaxTokenAttempts() int {
	return parseInt(c.TokenMaxAttempts, 5)
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseBool(value string, fallback bool) bool {
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
