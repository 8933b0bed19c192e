package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mini-maxit/judge/internal/logger"
	"github.com/mini-maxit/judge/pkg/constants"
)

type Config struct {
	NodeID string

	MaxWorkers    int
	QueueCapacity int
	MaxAttempts   int
	LeaseTTL      time.Duration
	PollInterval  time.Duration
	PriorityBurst int

	MaxSourceBytes  int
	SandboxDriver   string
	AllowUnconfined bool
	WallTimeGrace   time.Duration
	OutputCapBytes  int64
	LanguagesFile   string
	CatalogFile     string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	StatusTTL     time.Duration

	RabbitMQURL     string
	JudgeQueueName  string
	StatusQueueName string

	HTTPAddr string
}

func NewConfig() *Config {
	log := logger.NewNamedLogger("config")

	_, err := os.Stat(".env")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Fatalf("failed to stat .env file with error: %v", err)
		}
	} else {
		if os.Getenv("ENV") == "PROD" {
			log.Warn(".env file detected in production environment. This is not recommended.")
		}
		if err := godotenv.Load(".env"); err != nil {
			log.Fatalf("failed to load .env file with error: %v", err)
		}
	}

	r := reader{log: log}
	cfg := &Config{
		NodeID:          r.str("NODE_ID", constants.DefaultNodeID),
		MaxWorkers:      r.positiveInt("MAX_WORKERS", constants.DefaultMaxWorkers),
		QueueCapacity:   r.int("QUEUE_CAPACITY", constants.DefaultQueueCapacity),
		MaxAttempts:     r.positiveInt("MAX_ATTEMPTS", constants.DefaultMaxAttempts),
		LeaseTTL:        r.duration("LEASE_TTL", constants.DefaultLeaseTTL),
		PollInterval:    r.duration("POLL_INTERVAL", constants.DefaultPollInterval),
		PriorityBurst:   r.positiveInt("PRIORITY_BURST", constants.DefaultPriorityBurst),
		MaxSourceBytes:  r.positiveInt("MAX_SOURCE_BYTES", constants.DefaultMaxSourceBytes),
		SandboxDriver:   sandboxDriver(r),
		AllowUnconfined: r.bool("SANDBOX_ALLOW_UNCONFINED", false),
		WallTimeGrace:   r.duration("WALL_TIME_GRACE", constants.DefaultWallTimeGrace),
		OutputCapBytes:  int64(r.positiveInt("OUTPUT_CAP_BYTES", constants.DefaultOutputCapBytes)),
		LanguagesFile:   r.optional("LANGUAGES_FILE"),
		CatalogFile:     r.optional("CATALOG_FILE"),
		DatabaseURL:     r.optional("DATABASE_URL"),
		RedisAddr:       r.optional("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		StatusTTL:       r.duration("STATUS_TTL", constants.DefaultStatusTTL),
		RabbitMQURL:     rabbitmqURL(r),
		JudgeQueueName:  r.str("JUDGE_QUEUE_NAME", constants.DefaultJudgeQueueName),
		StatusQueueName: r.str("STATUS_QUEUE_NAME", constants.DefaultStatusQueueName),
		HTTPAddr:        r.str("HTTP_ADDR", constants.DefaultHTTPAddr),
	}

	if cfg.QueueCapacity < 0 {
		log.Fatalf("QUEUE_CAPACITY must not be negative, got %d", cfg.QueueCapacity)
	}
	if cfg.LeaseTTL <= cfg.PollInterval {
		log.Warnf("LEASE_TTL (%s) should be well above POLL_INTERVAL (%s)", cfg.LeaseTTL, cfg.PollInterval)
	}

	return cfg
}

func rabbitmqURL(r reader) string {
	host := r.str("RABBITMQ_HOST", constants.DefaultRabbitmqHost)
	portStr := r.str("RABBITMQ_PORT", constants.DefaultRabbitmqPort)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		r.log.Fatalf("failed to parse RABBITMQ_PORT with error: %v", err)
	}
	user := r.str("RABBITMQ_USER", constants.DefaultRabbitmqUser)
	password := r.str("RABBITMQ_PASSWORD", constants.DefaultRabbitmqPassword)

	return fmt.Sprintf("amqp://%s:%s@%s:%d/", user, password, host, port)
}

func sandboxDriver(r reader) string {
	driver := r.str("SANDBOX_DRIVER", constants.DefaultSandboxDriver)
	switch driver {
	case constants.SandboxDriverDocker, constants.SandboxDriverProcess:
		return driver
	default:
		r.log.Fatalf("SANDBOX_DRIVER must be %q or %q, got %q",
			constants.SandboxDriverDocker, constants.SandboxDriverProcess, driver)
		return ""
	}
}

type reader struct {
	log *zap.SugaredLogger
}

func (r reader) str(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		r.log.Warnf("%s is not set, using default value %s", key, def)
		return def
	}
	return v
}

// optional reads a variable whose absence switches a component off.
func (r reader) optional(key string) string {
	v := os.Getenv(key)
	if v == "" {
		r.log.Infof("%s is not set", key)
	}
	return v
}

func (r reader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		r.log.Warnf("%s is not set, using default value %d", key, def)
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.log.Fatalf("failed to parse %s with error: %v", key, err)
	}
	return n
}

func (r reader) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		r.log.Warnf("%s is not set, using default value %t", key, def)
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.log.Fatalf("failed to parse %s with error: %v", key, err)
	}
	return b
}

func (r reader) positiveInt(key string, def int) int {
	n := r.int(key, def)
	if n <= 0 {
		r.log.Fatalf("%s must be positive, got %d", key, n)
	}
	return n
}

func (r reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		r.log.Warnf("%s is not set, using default value %s", key, def)
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.log.Fatalf("failed to parse %s with error: %v", key, err)
	}
	if d <= 0 {
		r.log.Fatalf("%s must be positive, got %s", key, d)
	}
	return d
}
