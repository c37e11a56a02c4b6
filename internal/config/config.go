package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	LogLevel              string
	DBDriver              string
	DatabaseDSN           string
	JWTSecret             string
	AccessTokenTTLMinutes int

	FanoutDriver string
	FanoutTopic  string
	RedisURL     string
	NATSURL      string
	KafkaBrokers []string
	NodeID       string

	WSMaxMessageBytes int64
	WSEventsPerSecond float64
	WSEventBurst      int

	OTLPEndpoint string
	ServiceName  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_port", "8080")
	v.SetDefault("app_env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("database_dsn", "host=localhost user=postgres password=postgres dbname=chatrelay port=5432 sslmode=disable TimeZone=UTC")
	v.SetDefault("jwt_secret", defaultJWTSecret)
	v.SetDefault("access_token_ttl_minutes", 60)
	v.SetDefault("fanout_driver", "local")
	v.SetDefault("fanout_topic", "chatrelay.fanout")
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("node_id", "")
	v.SetDefault("ws_max_message_bytes", 64*1024)
	v.SetDefault("ws_events_per_second", 20)
	v.SetDefault("ws_event_burst", 40)
	v.SetDefault("otel_exporter_otlp_endpoint", "")
	v.SetDefault("otel_service_name", "chatrelay")
}

// Load 依次读取默认值、可选的配置文件（CONFIG_PATH）和环境变量，环境变量优先级最高。
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		Port:                  v.GetString("app_port"),
		Env:                   v.GetString("app_env"),
		LogLevel:              v.GetString("log_level"),
		DBDriver:              strings.ToLower(v.GetString("db_driver")),
		DatabaseDSN:           v.GetString("database_dsn"),
		JWTSecret:             v.GetString("jwt_secret"),
		AccessTokenTTLMinutes: positiveInt(v.GetInt("access_token_ttl_minutes"), 60),
		FanoutDriver:          strings.ToLower(v.GetString("fanout_driver")),
		FanoutTopic:           v.GetString("fanout_topic"),
		RedisURL:              v.GetString("redis_url"),
		NATSURL:               v.GetString("nats_url"),
		KafkaBrokers:          splitList(v.GetString("kafka_brokers")),
		NodeID:                v.GetString("node_id"),
		WSMaxMessageBytes:     int64(positiveInt(v.GetInt("ws_max_message_bytes"), 64*1024)),
		WSEventsPerSecond:     v.GetFloat64("ws_events_per_second"),
		WSEventBurst:          positiveInt(v.GetInt("ws_event_burst"), 40),
		OTLPEndpoint:          v.GetString("otel_exporter_otlp_endpoint"),
		ServiceName:           v.GetString("otel_service_name"),
	}
	if cfg.WSEventsPerSecond <= 0 {
		cfg.WSEventsPerSecond = 20
	}
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.NewString()[:8]
	}
	return cfg, nil
}

// Validate 在启动前做最基本的配置校验，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	switch cfg.FanoutDriver {
	case "local", "redis", "nats", "kafka":
	default:
		return fmt.Errorf("unsupported FANOUT_DRIVER %q", cfg.FanoutDriver)
	}
	if cfg.FanoutDriver == "kafka" && len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required for the kafka fan-out driver")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be changed outside dev")
	}
	return nil
}

func positiveInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
