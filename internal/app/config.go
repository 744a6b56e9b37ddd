package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/flashorder/internal/service/fulfillment"
)

// Драйверы хранилищ и транспорта.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMySQL    = "mysql"

	LedgerDriverMemory = "memory"
	LedgerDriverRedis  = "redis"

	QueueDriverMemory = "memory"
	QueueDriverKafka  = "kafka"
)

// Переменные окружения, переопределяющие конфигурацию.
const (
	EnvHTTPAddr               = "FLASHORDER_HTTP_ADDR"
	EnvGRPCAddr               = "FLASHORDER_GRPC_ADDR"
	EnvMetricsAddr            = "FLASHORDER_METRICS_ADDR"
	EnvStorageDriver          = "FLASHORDER_STORAGE_DRIVER"
	EnvPostgresDSN            = "FLASHORDER_POSTGRES_DSN"
	EnvPostgresAutoMigrate    = "FLASHORDER_POSTGRES_AUTO_MIGRATE"
	EnvMySQLDSN               = "FLASHORDER_MYSQL_DSN"
	EnvMySQLAutoMigrate       = "FLASHORDER_MYSQL_AUTO_MIGRATE"
	EnvLedgerDriver           = "FLASHORDER_LEDGER_DRIVER"
	EnvRedisAddr              = "FLASHORDER_REDIS_ADDR"
	EnvRedisPassword          = "FLASHORDER_REDIS_PASSWORD"
	EnvRedisDB                = "FLASHORDER_REDIS_DB"
	EnvRedisKeyPrefix         = "FLASHORDER_REDIS_KEY_PREFIX"
	EnvQueueDriver            = "FLASHORDER_QUEUE_DRIVER"
	EnvQueueWorkers           = "FLASHORDER_QUEUE_WORKERS"
	EnvKafkaBrokers           = "FLASHORDER_KAFKA_BROKERS"
	EnvKafkaGroupID           = "FLASHORDER_KAFKA_GROUP_ID"
	EnvFulfillmentMaxAttempts = "FLASHORDER_FULFILLMENT_MAX_ATTEMPTS"
	EnvFulfillmentBackoff     = "FLASHORDER_FULFILLMENT_BACKOFF"
	EnvFulfillmentTimeout     = "FLASHORDER_FULFILLMENT_TIMEOUT"
	EnvOutboxPollInterval     = "FLASHORDER_OUTBOX_POLL_INTERVAL"
	EnvOutboxBatchSize        = "FLASHORDER_OUTBOX_BATCH_SIZE"
	EnvOutboxMaxAttempts      = "FLASHORDER_OUTBOX_MAX_ATTEMPTS"
	EnvOutboxRetryDelay       = "FLASHORDER_OUTBOX_RETRY_DELAY"
	EnvSeedDemoCatalog        = "FLASHORDER_SEED_DEMO_CATALOG"
	EnvJaegerEndpoint         = "FLASHORDER_JAEGER_ENDPOINT"
	EnvServiceName            = "FLASHORDER_SERVICE_NAME"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	MySQLDSN            string `yaml:"mysql_dsn"`
	MySQLAutoMigrate    bool   `yaml:"mysql_auto_migrate"`
	// SeedDemoCatalog заполняет пустое in-memory хранилище демо-товарами.
	SeedDemoCatalog bool `yaml:"seed_demo_catalog"`

	LedgerDriver   string `yaml:"ledger_driver"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	QueueDriver  string   `yaml:"queue_driver"`
	QueueWorkers int      `yaml:"queue_workers"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaGroupID string   `yaml:"kafka_group_id"`

	FulfillmentMaxAttempts int             `yaml:"fulfillment_max_attempts"`
	FulfillmentBackoff     []time.Duration `yaml:"fulfillment_backoff"`
	FulfillmentTimeout     time.Duration   `yaml:"fulfillment_timeout"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`

	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	policy := fulfillment.DefaultRetryPolicy()
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MySQLAutoMigrate:    true,
		SeedDemoCatalog:     true,

		LedgerDriver:   LedgerDriverMemory,
		RedisAddr:      "localhost:6379",
		RedisKeyPrefix: "flashorder",

		QueueDriver:  QueueDriverMemory,
		QueueWorkers: 4,
		KafkaGroupID: "flashorder-fulfillment",

		FulfillmentMaxAttempts: policy.MaxAttempts,
		FulfillmentBackoff:     policy.Backoff,
		FulfillmentTimeout:     policy.Timeout,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		ServiceName: "flashorder",
	}
}

// LoadConfig читает YAML-файл поверх значений по умолчанию. Пустой path: только defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv переопределяет конфигурацию из окружения. Некорректные значения
// пропускаются и возвращаются как предупреждения.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, []string) {
	var warnings []string
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok {
			return "", false
		}
		v = strings.TrimSpace(v)
		return v, v != ""
	}
	warn := func(key, value string, err error) {
		warnings = append(warnings, fmt.Sprintf("ignore %s=%q: %v", key, value, err))
	}

	setString := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = v
		}
	}
	setLower := func(key string, dst *string) {
		if v, ok := get(key); ok {
			*dst = strings.ToLower(v)
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := get(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := get(key); ok {
			b, err := parseBool(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := get(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				warn(key, v, err)
				return
			}
			*dst = d
		}
	}

	setString(EnvHTTPAddr, &cfg.HTTPAddr)
	setString(EnvGRPCAddr, &cfg.GRPCAddr)
	setString(EnvMetricsAddr, &cfg.MetricsAddr)

	setLower(EnvStorageDriver, &cfg.StorageDriver)
	setString(EnvPostgresDSN, &cfg.PostgresDSN)
	setBool(EnvPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setString(EnvMySQLDSN, &cfg.MySQLDSN)
	setBool(EnvMySQLAutoMigrate, &cfg.MySQLAutoMigrate)
	setBool(EnvSeedDemoCatalog, &cfg.SeedDemoCatalog)

	setLower(EnvLedgerDriver, &cfg.LedgerDriver)
	setString(EnvRedisAddr, &cfg.RedisAddr)
	setString(EnvRedisPassword, &cfg.RedisPassword)
	setInt(EnvRedisDB, &cfg.RedisDB)
	setString(EnvRedisKeyPrefix, &cfg.RedisKeyPrefix)

	setLower(EnvQueueDriver, &cfg.QueueDriver)
	setInt(EnvQueueWorkers, &cfg.QueueWorkers)
	if v, ok := get(EnvKafkaBrokers); ok {
		cfg.KafkaBrokers = splitList(v)
	}
	setString(EnvKafkaGroupID, &cfg.KafkaGroupID)

	setInt(EnvFulfillmentMaxAttempts, &cfg.FulfillmentMaxAttempts)
	if v, ok := get(EnvFulfillmentBackoff); ok {
		backoff, err := parseDurations(v)
		if err != nil {
			warn(EnvFulfillmentBackoff, v, err)
		} else {
			cfg.FulfillmentBackoff = backoff
		}
	}
	setDuration(EnvFulfillmentTimeout, &cfg.FulfillmentTimeout)

	setDuration(EnvOutboxPollInterval, &cfg.OutboxPollInterval)
	setInt(EnvOutboxBatchSize, &cfg.OutboxBatchSize)
	setInt(EnvOutboxMaxAttempts, &cfg.OutboxMaxAttempts)
	setDuration(EnvOutboxRetryDelay, &cfg.OutboxRetryDelay)

	setString(EnvJaegerEndpoint, &cfg.JaegerEndpoint)
	setString(EnvServiceName, &cfg.ServiceName)

	return cfg, warnings
}

// RetryPolicy собирает политику повторов исполнения.
func (c Config) RetryPolicy() fulfillment.RetryPolicy {
	return fulfillment.RetryPolicy{
		MaxAttempts: c.FulfillmentMaxAttempts,
		Backoff:     append([]time.Duration(nil), c.FulfillmentBackoff...),
		Timeout:     c.FulfillmentTimeout,
	}
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	var errs []error

	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for postgres storage"))
		}
	case StorageDriverMySQL:
		if c.MySQLDSN == "" {
			errs = append(errs, errors.New("mysql_dsn is required for mysql storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.LedgerDriver {
	case LedgerDriverMemory:
	case LedgerDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for redis ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ledger driver %q", c.LedgerDriver))
	}

	switch c.QueueDriver {
	case QueueDriverMemory:
	case QueueDriverKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka_brokers is required for kafka queue"))
		}
		if c.KafkaGroupID == "" {
			errs = append(errs, errors.New("kafka_group_id is required for kafka queue"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported queue driver %q", c.QueueDriver))
	}

	// In-memory очередь живёт в процессе: общая БД с другими инстансами
	// не увидит её задач, но это допустимо для dev. Счётчик в памяти при
	// durable-хранилище нескольких инстансов приведёт к перепродаже.
	if c.LedgerDriver == LedgerDriverMemory && c.StorageDriver != StorageDriverMemory {
		errs = append(errs, errors.New("memory ledger can only be combined with memory storage"))
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("fulfillment retry policy: %w", err))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox_batch_size must be positive"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox_poll_interval must be positive"))
	}

	return errors.Join(errs...)
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseDurations(v string) ([]time.Duration, error) {
	items := splitList(v)
	out := make([]time.Duration, 0, len(items))
	for _, item := range items {
		d, err := time.ParseDuration(item)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("empty backoff list")
	}
	return out, nil
}
