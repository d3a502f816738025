package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration
type Config struct {
	ServiceName string
	Database    DatabaseConfig
	RabbitMQ    RabbitMQConfig
	Emulator    EmulatorConfig
	Anomaly     AnomalyConfig
	Scheduler   SchedulerConfig
}

// DatabaseConfig holds database connection and pool settings
type DatabaseConfig struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// RabbitMQConfig holds RabbitMQ connection, queue and consumer settings
type RabbitMQConfig struct {
	URL                 string
	IngestExchange      string
	IngestQueue         string
	IngestRoutingKey    string
	RetryQueue          string
	DLQQueue            string
	Concurrency         int
	MaxDeliveryAttempts int
	RetryDelaySeconds   int
}

// EmulatorConfig holds reading generation and publish settings
type EmulatorConfig struct {
	IntervalMinutes int
	BatchSize       int
	NominalVoltage  float64
	Stochastic      bool
	QueueDepthLimit int
}

// AnomalyConfig holds batch anomaly detection thresholds
type AnomalyConfig struct {
	CriticalVoltage      float64
	LowVoltage           float64
	CriticalCount        int
	LowCount             int
	MissingRateThreshold float64
	EventLifespanMinutes int
}

// SchedulerConfig holds the always-on auto publish settings
type SchedulerConfig struct {
	Enabled              bool
	TenantID             string
	MeterCount           int
	FeederCount          int
	BatchSize            int
	IntervalMinutes      int
	CheckIntervalSeconds int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "ami-telemetry-worker"),
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			MaxConns: int32(getEnvAsInt("DATABASE_MAX_CONNS", 10)),
			MinConns: int32(getEnvAsInt("DATABASE_MIN_CONNS", 2)),
		},
		RabbitMQ: RabbitMQConfig{
			URL:                 getEnv("RABBITMQ_URL", ""),
			IngestExchange:      getEnv("RABBITMQ_INGEST_EXCHANGE", "ami.ingest.exchange"),
			IngestQueue:         getEnv("RABBITMQ_INGEST_QUEUE", "ami.ingest.queue"),
			IngestRoutingKey:    getEnv("RABBITMQ_INGEST_ROUTING_KEY", "ami.reads.batch"),
			RetryQueue:          getEnv("RABBITMQ_RETRY_QUEUE", "ami.ingest.retry"),
			DLQQueue:            getEnv("RABBITMQ_DLQ_QUEUE", "ami.ingest.dlq"),
			Concurrency:         getEnvAsInt("WORKER_CONCURRENCY", 8),
			MaxDeliveryAttempts: getEnvAsInt("WORKER_MAX_DELIVERY_ATTEMPTS", 3),
			RetryDelaySeconds:   getEnvAsInt("WORKER_RETRY_DELAY_SECONDS", 30),
		},
		Emulator: EmulatorConfig{
			IntervalMinutes: getEnvAsInt("EMULATOR_INTERVAL_MINUTES", 15),
			BatchSize:       getEnvAsInt("EMULATOR_BATCH_SIZE", 100),
			NominalVoltage:  getEnvAsFloat("EMULATOR_NOMINAL_VOLTAGE", 120.0),
			Stochastic:      getEnvAsBool("EMULATOR_STOCHASTIC_NOISE", true),
			QueueDepthLimit: getEnvAsInt("EMULATOR_QUEUE_DEPTH_LIMIT", 500),
		},
		Anomaly: AnomalyConfig{
			CriticalVoltage:      getEnvAsFloat("ANOMALY_CRITICAL_VOLTAGE", 108.0),
			LowVoltage:           getEnvAsFloat("ANOMALY_LOW_VOLTAGE", 114.0),
			CriticalCount:        getEnvAsInt("ANOMALY_CRITICAL_COUNT", 3),
			LowCount:             getEnvAsInt("ANOMALY_LOW_COUNT", 5),
			MissingRateThreshold: getEnvAsFloat("ANOMALY_MISSING_RATE_THRESHOLD", 0.10),
			EventLifespanMinutes: getEnvAsInt("ANOMALY_EVENT_LIFESPAN_MINUTES", 30),
		},
		Scheduler: SchedulerConfig{
			Enabled:              getEnvAsBool("SCHEDULER_ENABLED", true),
			TenantID:             getEnv("SCHEDULER_TENANT_ID", "DEMO_TENANT"),
			MeterCount:           getEnvAsInt("SCHEDULER_METER_COUNT", 25000),
			FeederCount:          getEnvAsInt("SCHEDULER_FEEDER_COUNT", 25),
			BatchSize:            getEnvAsInt("SCHEDULER_BATCH_SIZE", 500),
			IntervalMinutes:      getEnvAsInt("SCHEDULER_INTERVAL_MINUTES", 15),
			CheckIntervalSeconds: getEnvAsInt("SCHEDULER_CHECK_INTERVAL_SECONDS", 60),
		},
	}

	// Validate required fields
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required but not set in environment variables")
	}
	if cfg.RabbitMQ.URL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
