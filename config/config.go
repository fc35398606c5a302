package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DatabaseDSN  string
	MigrationDir string

	KafkaHost       string
	OrdersTopic     string
	DeadLetterTopic string
	ConsumerGroup   string

	RedisURL string

	InboxDir         string
	ProcessedSuffix  string
	IngestInterval   time.Duration
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	RetryInterval    time.Duration
	MaxAttempts      int
	WorkerCount      int

	WebhookURL     string
	WebhookTimeout time.Duration

	HTTPAddr string
}

var DefaultConfig = Config{
	DatabaseDSN:      "root:1@tcp(localhost:3306)/integrahub?parseTime=true",
	MigrationDir:     "migration",
	KafkaHost:        "localhost:29092",
	OrdersTopic:      "ORDERS",
	DeadLetterTopic:  "ORDERS_DLQ",
	ConsumerGroup:    "fulfillment",
	RedisURL:         "redis://localhost:6379",
	InboxDir:         "data/inbox",
	ProcessedSuffix:  ".processed",
	IngestInterval:   10 * time.Second,
	RetryBackoffBase: 2 * time.Second,
	RetryBackoffMax:  5 * time.Minute,
	RetryInterval:    time.Second,
	MaxAttempts:      5,
	WorkerCount:      4,
	WebhookTimeout:   5 * time.Second,
	HTTPAddr:         ":8080",
}

// Load returns DefaultConfig with environment overrides applied.
func Load() Config {
	conf := DefaultConfig
	setString(&conf.DatabaseDSN, "DATABASE_DSN")
	setString(&conf.MigrationDir, "MIGRATION_DIR")
	setString(&conf.KafkaHost, "KAFKA_HOST")
	setString(&conf.OrdersTopic, "ORDERS_TOPIC")
	setString(&conf.DeadLetterTopic, "DEAD_LETTER_TOPIC")
	setString(&conf.ConsumerGroup, "CONSUMER_GROUP")
	setString(&conf.RedisURL, "REDIS_URL")
	setString(&conf.InboxDir, "INBOX_DIR")
	setString(&conf.WebhookURL, "WEBHOOK_URL")
	setString(&conf.HTTPAddr, "HTTP_ADDR")
	setInt(&conf.MaxAttempts, "MAX_ATTEMPTS")
	setInt(&conf.WorkerCount, "WORKER_COUNT")
	setDuration(&conf.IngestInterval, "INGEST_INTERVAL")
	setDuration(&conf.RetryBackoffBase, "RETRY_BACKOFF_BASE")
	setDuration(&conf.RetryBackoffMax, "RETRY_BACKOFF_MAX")
	setDuration(&conf.RetryInterval, "RETRY_INTERVAL")
	return conf
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
