package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is a application configuration structure
type (
	AppConfig struct {
		Database DatabaseConfig
		Logging  LoggingConfig
		Redis    RedisConfig
		Kafka    KafkaConfig
		Indexer  IndexerConfig
	}

	RedisConfig struct {
		Addr     string
		Password string
		IndexDB  int
		PubSubDB int
	}

	KafkaConfig struct {
		Brokers []string
		GroupID string
	}

	// IndexerConfig carries the knobs of the index/sync pipeline. It is built
	// once in Setup and injected into components; nothing reads env after that.
	IndexerConfig struct {
		KeyPrefix      string
		IndexTTL       time.Duration
		EventChannel   string
		EventTopic     string
		RetryAttempts  int
		RetryDelay     time.Duration
		MaxRetries     int
		SyncChunkSize  int
		SampleSize     int
		EventRetention time.Duration
		PollInterval   time.Duration
		PollBatchSize  int
	}
)

var (
	Logging  *LoggingConfig
	Database *DatabaseConfig
	Redis    *RedisConfig
	Kafka    *KafkaConfig
	Indexer  *IndexerConfig
)

func Setup() {

	if err := godotenv.Load(".env"); err != nil {
		fmt.Println("Error loading .env file:", err)
	}

	conf := &AppConfig{
		Database: DatabaseConfig{
			Host:     os.Getenv("DB_HOST"),
			Username: os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			DBName:   os.Getenv("DB_NAME"),
			Port:     getEnvAsInt("DB_PORT", 3306),
			Debug:    os.Getenv("DB_DEBUG") == "true",
		},
		Logging: LoggingConfig{
			Level:      os.Getenv("LOG_LEVEL"),
			Format:     os.Getenv("LOG_FORMAT"),
			ServerName: os.Getenv("SERVER_NAME"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOr("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			IndexDB:  getEnvAsInt("REDIS_INDEX_DB", 1),
			PubSubDB: getEnvAsInt("REDIS_PUBSUB_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: strings.Split(getEnvOr("KAFKA_BROKERS", "localhost:9092"), ","),
			GroupID: getEnvOr("KAFKA_GROUP_ID", "coupon-indexer"),
		},
		Indexer: IndexerConfig{
			KeyPrefix:      getEnvOr("COUPON_INDEX_PREFIX", "coupon_idx:"),
			IndexTTL:       time.Duration(getEnvAsInt("COUPON_INDEX_TTL", 86400)) * time.Second,
			EventChannel:   getEnvOr("REDIS_PUB_SUB_CHANNEL", "coupon_events"),
			EventTopic:     getEnvOr("COUPON_EVENT_TOPIC", "coupon_events"),
			RetryAttempts:  getEnvAsInt("COUPON_EVENT_RETRY_ATTEMPTS", 3),
			RetryDelay:     time.Duration(getEnvAsInt("COUPON_EVENT_RETRY_DELAY", 60)) * time.Second,
			MaxRetries:     getEnvAsInt("COUPON_EVENT_MAX_RETRIES", 5),
			SyncChunkSize:  getEnvAsInt("COUPON_SYNC_CHUNK_SIZE", 100),
			SampleSize:     getEnvAsInt("COUPON_CONSISTENCY_SAMPLE", 100),
			EventRetention: time.Duration(getEnvAsInt("COUPON_EVENT_RETENTION_DAYS", 30)) * 24 * time.Hour,
			PollInterval:   time.Duration(getEnvAsInt("COUPON_EVENT_POLL_SECONDS", 10)) * time.Second,
			PollBatchSize:  getEnvAsInt("COUPON_EVENT_POLL_BATCH", 50),
		},
	}

	conf.Database.Setup()
	conf.Logging.Setup()

	Database = &conf.Database
	Logging = &conf.Logging
	Redis = &conf.Redis
	Kafka = &conf.Kafka
	Indexer = &conf.Indexer
}

func Config(key string) string {
	return os.Getenv(key)
}

func getEnvOr(key string, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Helper convert env -> int
func getEnvAsInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}
