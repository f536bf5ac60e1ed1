package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName            string `env:"APP_NAME" env-default:"fern"`
	Port               int    `env:"PORT" env-default:"3004"`
	LogLevel           string `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs         bool   `env:"PRETTY_LOGS" env-default:"false"`
	StartupMaxAttempts int    `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL
	DatabaseDriver                string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" env-default:"localhost"`
	DatabasePort                  string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword              string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                  string        `env:"DB_NAME" env-default:"fern"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" env-default:"disable"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath   string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" env-default:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" env-default:"true"`

	// Redis (job locks, registry token buckets)
	RedisEnabled  bool   `env:"REDIS_ENABLED" env-default:"true"`
	RedisHost     string `env:"REDIS_HOST" env-default:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" env-default:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" env-default:""`
	RedisDB       int    `env:"REDIS_DB" env-default:"0"`

	// Graph projection (Neo4j / Memgraph)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" env-default:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`

	// Kafka consumer (prepared batches)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"prepared-batches"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"fern-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka producer (completion events)
	KafkaOutputTopic     string        `env:"KAFKA_OUTPUT_TOPIC" env-default:"fern-events"`
	KafkaProducerEnabled bool          `env:"KAFKA_PRODUCER_ENABLED" env-default:"true"`
	KafkaBatchSize       int           `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout    time.Duration `env:"KAFKA_BATCH_TIMEOUT" env-default:"100ms"`
	KafkaRequiredAcks    int           `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression     string        `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Tracing
	TracingEnabled  bool          `env:"TRACING_ENABLED" env-default:"false"`
	TracingEndpoint string        `env:"TRACING_ENDPOINT" env-default:"localhost:4317"`
	TracingProtocol string        `env:"TRACING_PROTOCOL" env-default:"grpc"`
	TracingInsecure bool          `env:"TRACING_INSECURE" env-default:"true"`
	TracingTimeout  time.Duration `env:"TRACING_TIMEOUT" env-default:"10s"`

	// Processing
	DetachIdentifiersOnMerge bool          `env:"DETACH_IDENTIFIERS_ON_MERGE" env-default:"true"`
	MergeChainCap            int           `env:"MERGE_CHAIN_CAP" env-default:"10"`
	CrossCurrencyTolerance   string        `env:"CROSS_CURRENCY_TOLERANCE" env-default:"0.1"`
	CurrencyRatesFile        string        `env:"CURRENCY_RATES_FILE" env-default:""`
	ReportDir                string        `env:"REPORT_DIR" env-default:"reports"`
	JobLockTTL               time.Duration `env:"JOB_LOCK_TTL" env-default:"10m"`
	JobRescheduleBackoff     time.Duration `env:"JOB_RESCHEDULE_BACKOFF" env-default:"30s"`
	JobMaxReschedules        int           `env:"JOB_MAX_RESCHEDULES" env-default:"20"`
	JobWorkers               int           `env:"JOB_WORKERS" env-default:"4"`

	// Identifier refresh
	RegistryRefreshInterval       time.Duration `env:"REGISTRY_REFRESH_INTERVAL" env-default:"15m"`
	RegistryBatchSize             int           `env:"REGISTRY_BATCH_SIZE" env-default:"100"`
	RegistryTimeout               time.Duration `env:"REGISTRY_TIMEOUT" env-default:"30s"`
	RegistryBucketCapacity        int           `env:"REGISTRY_BUCKET_CAPACITY" env-default:"50"`
	RegistryBucketRefillPerSecond float64       `env:"REGISTRY_BUCKET_REFILL_PER_SECOND" env-default:"2"`
	RegistryRORURL                string        `env:"REGISTRY_ROR_URL" env-default:""`
	RegistryWikidataURL           string        `env:"REGISTRY_WIKIDATA_URL" env-default:""`
	RegistryCustomURL             string        `env:"REGISTRY_CUSTOM_URL" env-default:""`
}

// Load reads an optional .env file, then resolves every field from the environment, falling back to its env-default.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
	}

	v := viper.New()
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}
		v.SetDefault(key, field.Tag.Get("env-default"))
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "env"
		dc.WeaklyTypedInput = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}
