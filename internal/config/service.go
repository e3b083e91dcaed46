package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Service is the runtime configuration of the hiregate process.
type Service struct {
	Addr        string            `mapstructure:"addr"`
	BasePath    string            `mapstructure:"base_path"`
	Workspace   string            `mapstructure:"workspace"`
	JWTSecret   string            `mapstructure:"jwt_secret"`
	Log         LogConfig         `mapstructure:"log"`
	Lock        LockConfig        `mapstructure:"lock"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch"`
	Evaluations EvaluationsConfig `mapstructure:"evaluations"`
	Token       TokenConfig       `mapstructure:"token"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DispatchConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	Lease         time.Duration `mapstructure:"lease"`
	Webhooks      []string      `mapstructure:"webhooks"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	SNSTopicARN   string        `mapstructure:"sns_topic_arn"`
	AWSRegion     string        `mapstructure:"aws_region"`
	SES           SESConfig     `mapstructure:"ses"`
}

type SESConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

type EvaluationsConfig struct {
	ProvisionURL string        `mapstructure:"provision_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type TokenConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

const (
	LockLocal = "local"
	LockRedis = "redis"

	DefaultTokenTTL = 30 * 24 * time.Hour
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("base_path", "/internal")
	v.SetDefault("workspace", ".")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("lock.backend", LockLocal)
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("lock.redis.address", "")
	v.SetDefault("lock.redis.password", "")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("dispatch.interval", "2s")
	v.SetDefault("dispatch.max_attempts", 5)
	v.SetDefault("dispatch.lease", "2m")
	v.SetDefault("dispatch.webhooks", []string{})
	v.SetDefault("dispatch.webhook_secret", "")
	v.SetDefault("dispatch.sns_topic_arn", "")
	v.SetDefault("dispatch.aws_region", "")
	v.SetDefault("dispatch.ses.from", "")
	v.SetDefault("dispatch.ses.to", "")
	v.SetDefault("evaluations.provision_url", "")
	v.SetDefault("evaluations.timeout", "5s")
	v.SetDefault("token.ttl", DefaultTokenTTL.String())
}

// LoadService reads an optional hiregate.yaml (or the explicit path), a .env
// file when present, and HIREGATE_* environment overrides.
func LoadService(path string) (*Service, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("HIREGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hiregate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Service
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Service) Validate() error {
	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if c.Lock.Redis.Address == "" {
			return fmt.Errorf("lock.redis.address is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("lock.backend must be %q or %q", LockLocal, LockRedis)
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("token.ttl must be positive")
	}
	if c.Dispatch.MaxAttempts <= 0 {
		return fmt.Errorf("dispatch.max_attempts must be positive")
	}
	if c.Dispatch.Interval <= 0 {
		return fmt.Errorf("dispatch.interval must be positive")
	}
	if c.Dispatch.Lease < 0 {
		return fmt.Errorf("dispatch.lease must not be negative")
	}
	if (c.Dispatch.SES.From == "") != (c.Dispatch.SES.To == "") {
		return fmt.Errorf("dispatch.ses.from and dispatch.ses.to must be set together")
	}
	return nil
}
