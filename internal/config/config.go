package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type App struct {
	Env     string `yaml:"env"`
	Port    int    `yaml:"port"`
	Timeout string `yaml:"shutdown_timeout"`
}

func (a *App) PortString() string { return fmt.Sprintf("%d", a.Port) }

type Mongo struct {
	URI string `yaml:"uri"`
	DB  string `yaml:"db"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type Booking struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type JWT struct {
	Alg           string `yaml:"alg"`
	PublicKeyPath string `yaml:"public_key_path"`
	HSSecret      string `yaml:"hs_secret"`
}

// Session holds the lifecycle tunables. All durations are minutes or
// seconds as named; zero values are replaced by defaults in Load.
type Session struct {
	DefaultMinutes      int `yaml:"default_minutes"`
	GraceMinutes        int `yaml:"grace_minutes"`
	WarningMinutes      int `yaml:"warning_minutes"`
	SweepSeconds        int `yaml:"sweep_seconds"`
	RecallWindowMinutes int `yaml:"recall_window_minutes"`
	UndoTTLSeconds      int `yaml:"undo_ttl_seconds"`
	DeleteBatchMax      int `yaml:"delete_batch_max"`
	RecallBatchMax      int `yaml:"recall_batch_max"`
	PageSize            int `yaml:"page_size"`
}

func (s *Session) DefaultDuration() time.Duration {
	return time.Duration(s.DefaultMinutes) * time.Minute
}

func (s *Session) GracePeriod() time.Duration {
	return time.Duration(s.GraceMinutes) * time.Minute
}

func (s *Session) WarningWindow() time.Duration {
	return time.Duration(s.WarningMinutes) * time.Minute
}

func (s *Session) SweepInterval() time.Duration {
	return time.Duration(s.SweepSeconds) * time.Second
}

func (s *Session) RecallWindow() time.Duration {
	return time.Duration(s.RecallWindowMinutes) * time.Minute
}

func (s *Session) UndoTTL() time.Duration {
	return time.Duration(s.UndoTTLSeconds) * time.Second
}

type Config struct {
	App     App     `yaml:"app"`
	Mongo   Mongo   `yaml:"mongo"`
	Redis   Redis   `yaml:"redis"`
	Kafka   Kafka   `yaml:"kafka"`
	Booking Booking `yaml:"booking"`
	JWT     JWT     `yaml:"jwt"`
	Session Session `yaml:"session"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat("config.yaml"); err == nil {
		b, _ := os.ReadFile("config.yaml")
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	overrideFromEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		n, _ := strconv.Atoi(v)
		cfg.App.Port = n
	}

	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_NAME"); v != "" {
		cfg.Mongo.DB = v
	}

	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}

	if v := os.Getenv("BOOKING_BASE_URL"); v != "" {
		cfg.Booking.BaseURL = v
	}

	if v := os.Getenv("JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.JWT.PublicKeyPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.HSSecret = v
	}
}

func applyDefaults(cfg *Config) {
	s := &cfg.Session
	if s.DefaultMinutes == 0 {
		s.DefaultMinutes = 60
	}
	if s.GraceMinutes == 0 {
		s.GraceMinutes = 10
	}
	if s.WarningMinutes == 0 {
		s.WarningMinutes = 10
	}
	if s.SweepSeconds == 0 {
		s.SweepSeconds = 60
	}
	if s.RecallWindowMinutes == 0 {
		s.RecallWindowMinutes = 3
	}
	if s.UndoTTLSeconds == 0 {
		s.UndoTTLSeconds = 30
	}
	if s.DeleteBatchMax == 0 {
		s.DeleteBatchMax = 50
	}
	if s.RecallBatchMax == 0 {
		s.RecallBatchMax = 10
	}
	if s.PageSize == 0 {
		s.PageSize = 50
	}
	if cfg.Booking.TimeoutSeconds == 0 {
		cfg.Booking.TimeoutSeconds = 5
	}
}

func validate(cfg *Config) error {
	if cfg.App.Port == 0 {
		return errors.New("app.port missing or invalid")
	}

	if cfg.Mongo.URI == "" {
		return errors.New("mongo.uri missing")
	}
	if cfg.Mongo.DB == "" {
		return errors.New("mongo.db missing")
	}

	if cfg.Redis.Addr == "" {
		return errors.New("redis.addr missing")
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers missing")
	}
	if cfg.Kafka.Topic == "" {
		return errors.New("kafka.topic missing")
	}

	if cfg.Booking.BaseURL == "" {
		return errors.New("booking.base_url missing")
	}

	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256":
		if cfg.JWT.PublicKeyPath == "" {
			return errors.New("jwt.public_key_path required for RS256")
		}
	case "HS256":
		if cfg.JWT.HSSecret == "" {
			return errors.New("jwt.hs_secret required for HS256")
		}
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}

	return nil
}
