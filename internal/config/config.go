// Package config builds the worker configuration from the environment.
//
// The configuration is loaded once at process start and passed by pointer into
// every component constructor. Nothing outside cmd/ reads the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/naka0519/TownReady/internal/constants"
)

// Transport drivers
const (
	TransportMemory   = "memory"
	TransportPubSub   = "pubsub"
	TransportRabbitMQ = "rabbitmq"
)

// Database drivers
const (
	DBDriverSQLite   = "sqlite"
	DBDriverPostgres = "postgres"
)

// Token verifier modes
const (
	AuthModeGoogle = "google"
	AuthModeHMAC   = "hmac"
)

// Retry delay modes
const (
	DelayModeInline = "inline"
	DelayModeTimer  = "timer"
	DelayModeRedis  = "redis"
)

// DefaultIssuers are the issuers Google signs push tokens with
var DefaultIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// Config is the immutable worker configuration
type Config struct {
	Port      string
	LogLevel  string
	Transport string

	PubSub    PubSubConfig
	RabbitMQ  RabbitMQConfig
	DB        DBConfig
	Auth      AuthConfig
	Retry     RetryConfig
	Redis     RedisConfig
	Reconcile ReconcileConfig
}

// PubSubConfig configures the Google Pub/Sub publisher
type PubSubConfig struct {
	Project string
	Topic   string
}

// RabbitMQConfig configures the RabbitMQ transport
type RabbitMQConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

// DBConfig configures the job record store
type DBConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
	SQLitePath string
}

// AuthConfig configures push endpoint token verification
type AuthConfig struct {
	Verify          bool
	Mode            string
	Audience        string
	ServiceAccount  string
	HMACSecret      string
	AcceptedIssuers []string
}

// RetryConfig configures the retry/backoff controller
type RetryConfig struct {
	MaxAttempts int
	DelayMode   string
	TaskLease   time.Duration
}

// RedisConfig configures the redis client used by the delayed retry scheduler
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ReconcileConfig configures stale job reconciliation
type ReconcileConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

// Default returns a configuration suitable for local development
func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		Transport: TransportMemory,
		PubSub: PubSubConfig{
			Topic: "townready-jobs",
		},
		RabbitMQ: RabbitMQConfig{
			Exchange:   "townready",
			Queue:      "townready-jobs",
			RoutingKey: "jobs",
		},
		DB: DBConfig{
			Driver:     DBDriverSQLite,
			Port:       5432,
			SSLMode:    "disable",
			SQLitePath: "townready.db",
		},
		Auth: AuthConfig{
			Mode:            AuthModeGoogle,
			AcceptedIssuers: DefaultIssuers,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			DelayMode:   DelayModeInline,
			TaskLease:   10 * time.Minute,
		},
		Reconcile: ReconcileConfig{
			StaleAfter: 15 * time.Minute,
		},
	}
}

// Load reads the configuration from the environment on top of Default
func Load() (*Config, error) {
	cfg := Default()

	cfg.Port = getEnv(constants.EnvPort, cfg.Port)
	cfg.LogLevel = getEnv(constants.EnvLogLevel, cfg.LogLevel)
	cfg.Transport = strings.ToLower(getEnv(constants.EnvTransport, cfg.Transport))

	cfg.PubSub.Project = getEnv(constants.EnvGCPProject, cfg.PubSub.Project)
	cfg.PubSub.Topic = getEnv(constants.EnvPubSubTopic, cfg.PubSub.Topic)

	cfg.RabbitMQ.URL = getEnv(constants.EnvAMQPURL, cfg.RabbitMQ.URL)
	cfg.RabbitMQ.Exchange = getEnv(constants.EnvAMQPExchange, cfg.RabbitMQ.Exchange)
	cfg.RabbitMQ.Queue = getEnv(constants.EnvAMQPQueue, cfg.RabbitMQ.Queue)
	cfg.RabbitMQ.RoutingKey = getEnv(constants.EnvAMQPRoutingKey, cfg.RabbitMQ.RoutingKey)

	cfg.DB.Driver = strings.ToLower(getEnv(constants.EnvDBDriver, cfg.DB.Driver))
	cfg.DB.Host = getEnv(constants.EnvDBHost, cfg.DB.Host)
	cfg.DB.User = getEnv(constants.EnvDBUser, cfg.DB.User)
	cfg.DB.Password = getEnv(constants.EnvDBPassword, cfg.DB.Password)
	cfg.DB.Name = getEnv(constants.EnvDBName, cfg.DB.Name)
	cfg.DB.SSLMode = getEnv(constants.EnvDBSSLMode, cfg.DB.SSLMode)
	cfg.DB.SQLitePath = getEnv(constants.EnvSQLitePath, cfg.DB.SQLitePath)

	var err error
	if cfg.DB.Port, err = getEnvInt(constants.EnvDBPort, cfg.DB.Port); err != nil {
		return nil, err
	}

	if cfg.Auth.Verify, err = getEnvBool(constants.EnvPubSubVerify, cfg.Auth.Verify); err != nil {
		return nil, err
	}
	cfg.Auth.Mode = strings.ToLower(getEnv(constants.EnvAuthMode, cfg.Auth.Mode))
	cfg.Auth.Audience = getEnv(constants.EnvPubSubAudience, cfg.Auth.Audience)
	cfg.Auth.ServiceAccount = getEnv(constants.EnvPubSubServiceAccount, cfg.Auth.ServiceAccount)
	cfg.Auth.HMACSecret = getEnv(constants.EnvAuthHMACSecret, cfg.Auth.HMACSecret)
	if issuers := getEnv(constants.EnvAuthIssuers, ""); issuers != "" {
		cfg.Auth.AcceptedIssuers = splitList(issuers)
	}

	if cfg.Retry.MaxAttempts, err = getEnvInt(constants.EnvMaxAttempts, cfg.Retry.MaxAttempts); err != nil {
		return nil, err
	}
	cfg.Retry.DelayMode = strings.ToLower(getEnv(constants.EnvRetryDelayMode, cfg.Retry.DelayMode))
	if cfg.Retry.TaskLease, err = getEnvDuration(constants.EnvTaskLease, cfg.Retry.TaskLease); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = getEnv(constants.EnvRedisAddr, cfg.Redis.Addr)
	cfg.Redis.Password = getEnv(constants.EnvRedisPassword, cfg.Redis.Password)
	if cfg.Redis.DB, err = getEnvInt(constants.EnvRedisDB, cfg.Redis.DB); err != nil {
		return nil, err
	}

	cfg.Reconcile.Schedule = getEnv(constants.EnvReconcileSchedule, cfg.Reconcile.Schedule)
	if cfg.Reconcile.StaleAfter, err = getEnvDuration(constants.EnvReconcileStaleAfter, cfg.Reconcile.StaleAfter); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportMemory:
	case TransportPubSub:
		if c.PubSub.Project == "" {
			return fmt.Errorf("%s is required for the pubsub transport", constants.EnvGCPProject)
		}
		if c.PubSub.Topic == "" {
			return fmt.Errorf("%s is required for the pubsub transport", constants.EnvPubSubTopic)
		}
	case TransportRabbitMQ:
		if c.RabbitMQ.URL == "" {
			return fmt.Errorf("%s is required for the rabbitmq transport", constants.EnvAMQPURL)
		}
	default:
		return fmt.Errorf("unsupported transport: %s", c.Transport)
	}

	switch c.DB.Driver {
	case DBDriverSQLite:
		if c.DB.SQLitePath == "" {
			return fmt.Errorf("%s is required for the sqlite driver", constants.EnvSQLitePath)
		}
	case DBDriverPostgres:
	default:
		return fmt.Errorf("unsupported database driver: %s", c.DB.Driver)
	}

	if c.Auth.Verify {
		switch c.Auth.Mode {
		case AuthModeGoogle:
			if c.Auth.Audience == "" {
				return fmt.Errorf("%s is required when token verification is enabled", constants.EnvPubSubAudience)
			}
		case AuthModeHMAC:
			if c.Auth.HMACSecret == "" {
				return fmt.Errorf("%s is required for the hmac verifier", constants.EnvAuthHMACSecret)
			}
		default:
			return fmt.Errorf("unsupported auth mode: %s", c.Auth.Mode)
		}
		if len(c.Auth.AcceptedIssuers) == 0 {
			return fmt.Errorf("at least one accepted issuer is required")
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", constants.EnvMaxAttempts)
	}
	if c.Retry.TaskLease <= 0 {
		return fmt.Errorf("%s must be positive", constants.EnvTaskLease)
	}
	switch c.Retry.DelayMode {
	case DelayModeInline, DelayModeTimer:
	case DelayModeRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("%s is required for the redis delay mode", constants.EnvRedisAddr)
		}
	default:
		return fmt.Errorf("unsupported retry delay mode: %s", c.Retry.DelayMode)
	}

	if c.Reconcile.Schedule != "" && c.Reconcile.StaleAfter <= 0 {
		return fmt.Errorf("%s must be positive", constants.EnvReconcileStaleAfter)
	}
	return nil
}

// getEnv retrieves the value of an environment variable with a fallback value if not set
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
