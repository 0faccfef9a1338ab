package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MQ       MQConfig       `mapstructure:"mq"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Mode     string `mapstructure:"mode"`
	WorkerID int64  `mapstructure:"worker_id"` // 雪花算法机器号，多实例部署时各不相同
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	SQLLevel string `mapstructure:"sql_level"`
}

// DatabaseConfig Driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MQConfig Driver 取值 kafka / rabbitmq / none
type MQConfig struct {
	Driver   string        `mapstructure:"driver"`
	Brokers  []string      `mapstructure:"brokers"`
	AMQPURL  string        `mapstructure:"amqp_url"`
	Exchange string        `mapstructure:"exchange"`
	Topic    MQTopicConfig `mapstructure:"topic"`
}

type MQTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	CallbackToken string `mapstructure:"callback_token"`
}

type GatewayConfig struct {
	Name           string `mapstructure:"name"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
}

type CacheConfig struct {
	SummaryTTLSeconds int `mapstructure:"summary_ttl_seconds"`
}

type BusinessConfig struct {
	MinWithdraw          string `mapstructure:"min_withdraw"`
	MaxRetryCount        int    `mapstructure:"max_retry_count"`
	WithdrawTimeoutHours int    `mapstructure:"withdraw_timeout_hours"`
}

// MinWithdrawAmount 最低提现金额，未配置时为 50000
func (b BusinessConfig) MinWithdrawAmount() (decimal.Decimal, error) {
	if b.MinWithdraw == "" {
		return decimal.NewFromInt(50000), nil
	}
	d, err := decimal.NewFromString(b.MinWithdraw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("business.min_withdraw: %w", err)
	}
	if !d.IsPositive() {
		return decimal.Zero, errors.New("business.min_withdraw must be positive")
	}
	return d, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.sql_level", "warn")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "wallet_ledger")
	v.SetDefault("database.sqlite_path", "./data/ledger.db")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("mq.driver", "none")
	v.SetDefault("mq.brokers", []string{})
	v.SetDefault("mq.amqp_url", "")
	v.SetDefault("mq.exchange", "ledger")
	v.SetDefault("mq.topic.ledger_events", "ledger_events")
	// 未出现在配置文件里的 key 也要有默认值，否则环境变量覆盖不生效
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.callback_token", "")
	v.SetDefault("gateway.name", "manual")
	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.timeout_seconds", 10)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "wallet-ledger")
	v.SetDefault("cache.summary_ttl_seconds", 30)
	v.SetDefault("business.min_withdraw", "50000")
	v.SetDefault("business.max_retry_count", 5)
	v.SetDefault("business.withdraw_timeout_hours", 72)
}

// LoadConfig 加载配置文件，环境变量可覆盖（如 DATABASE_HOST 覆盖 database.host）
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if _, err := cfg.Business.MinWithdrawAmount(); err != nil {
		return nil, err
	}

	return cfg, nil
}
