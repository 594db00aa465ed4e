package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	base "github.com/techcsc21/trade4u-sub031/libs/config"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

type RedisConfig struct {
	Addr string
	// PriceFallbackTTL bounds how long a locally cached market price may
	// be served after Redis becomes unreachable.
	PriceFallbackTTL time.Duration
}

type KafkaTopics struct {
	TradeNotifications string
	AuditAlerts        string
	AdminNotifications string
	DLQ                string
}

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        KafkaTopics
}

type AuthConfig struct {
	JWTSecret string
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

type Config struct {
	App     base.AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	Auth    AuthConfig
	Limits  engine.Limits
	Sweeper SweeperConfig
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("ESCROW_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("ESCROW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("ESCROW_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.consumer_group", "escrow-service")
	v.SetDefault("kafka.topics.trade_notifications", "notifications.trades")
	v.SetDefault("kafka.topics.audit_alerts", "audit.alerts")
	v.SetDefault("kafka.topics.admin_notifications", "notifications.admin")
	v.SetDefault("kafka.topics.dlq", "escrow.dlq")

	kafkaBrokers := envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers"))
	kafkaConsumer := envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group"))
	tradeTopic := envString("KAFKA_TRADE_NOTIFICATIONS_TOPIC", v.GetString("kafka.topics.trade_notifications"))
	alertsTopic := envString("KAFKA_AUDIT_ALERTS_TOPIC", v.GetString("kafka.topics.audit_alerts"))
	adminTopic := envString("KAFKA_ADMIN_NOTIFICATIONS_TOPIC", v.GetString("kafka.topics.admin_notifications"))
	dlqTopic := envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dlq"))

	defaults := engine.DefaultLimits()

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "escrow"),
			User:     envString("POSTGRES_USER", "escrow"),
			Password: envString("POSTGRES_PASSWORD", "escrow"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:             envString("REDIS_ADDR", "localhost:6379"),
			PriceFallbackTTL: envDuration("ESCROW_PRICE_FALLBACK_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:       kafkaBrokers,
			ConsumerGroup: kafkaConsumer,
			Topics: KafkaTopics{
				TradeNotifications: tradeTopic,
				AuditAlerts:        alertsTopic,
				AdminNotifications: adminTopic,
				DLQ:                dlqTopic,
			},
		},
		Auth: AuthConfig{
			JWTSecret: envString("ESCROW_JWT_SECRET", ""),
		},
		Limits: engine.Limits{
			MinTradeAmount:       envDecimal("ESCROW_MIN_TRADE_AMOUNT", defaults.MinTradeAmount),
			MaxTradeAmount:       envDecimal("ESCROW_MAX_TRADE_AMOUNT", defaults.MaxTradeAmount),
			LargeAmountThreshold: envDecimal("ESCROW_LARGE_AMOUNT_THRESHOLD", defaults.LargeAmountThreshold),
			MaxMessageLength:     envInt("ESCROW_MAX_MESSAGE_LENGTH", defaults.MaxMessageLength),
			MinTermsLength:       envInt("ESCROW_MIN_TERMS_LENGTH", defaults.MinTermsLength),
			MaxTermsLength:       envInt("ESCROW_MAX_TERMS_LENGTH", defaults.MaxTermsLength),
			DefaultAutoCancel:    envDuration("ESCROW_DEFAULT_AUTO_CANCEL", defaults.DefaultAutoCancel),
			GraceWindow:          envDuration("ESCROW_DISPUTE_GRACE_WINDOW", defaults.GraceWindow),
			AllowRedispute:       envBool("ESCROW_ALLOW_REDISPUTE", defaults.AllowRedispute),
		},
		Sweeper: SweeperConfig{
			Interval:  envDuration("ESCROW_SWEEP_INTERVAL", time.Minute),
			BatchSize: envInt("ESCROW_SWEEP_BATCH_SIZE", 100),
		},
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("ESCROW_JWT_SECRET required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Kafka.ConsumerGroup == "" {
		return nil, fmt.Errorf("kafka consumer group required")
	}
	if cfg.Kafka.Topics.TradeNotifications == "" || cfg.Kafka.Topics.AuditAlerts == "" || cfg.Kafka.Topics.AdminNotifications == "" {
		return nil, fmt.Errorf("kafka topics required")
	}
	if cfg.Limits.MinTradeAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("ESCROW_MIN_TRADE_AMOUNT must be positive")
	}
	if cfg.Limits.MaxTradeAmount.LessThan(cfg.Limits.MinTradeAmount) {
		return nil, fmt.Errorf("ESCROW_MAX_TRADE_AMOUNT must be >= ESCROW_MIN_TRADE_AMOUNT")
	}
	if cfg.Sweeper.Interval <= 0 {
		return nil, fmt.Errorf("ESCROW_SWEEP_INTERVAL must be positive")
	}
	if cfg.Sweeper.BatchSize <= 0 {
		return nil, fmt.Errorf("ESCROW_SWEEP_BATCH_SIZE must be positive")
	}

	return cfg, nil
}

// DSN renders the postgres connection string for pgxpool.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
