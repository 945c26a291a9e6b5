package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the bounce forwarder.
// Environment variables use the names below with no prefix.
type Config struct {
	Port      int    `mapstructure:"PORT" validate:"min=1,max=65535"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"oneof=json text"`
	PublicDir string `mapstructure:"PUBLIC_DIR"`

	SparkPostAPIKey  string        `mapstructure:"SPARKPOST_API_KEY" validate:"required"`
	SparkPostAPIURL  string        `mapstructure:"SPARKPOST_API_URL" validate:"required,url"`
	SparkPostTimeout time.Duration `mapstructure:"SPARKPOST_TIMEOUT" validate:"gt=0"`

	ForwardFrom string `mapstructure:"FORWARD_FROM" validate:"required,email"`
	ForwardTo   string `mapstructure:"FORWARD_TO" validate:"required,email"`

	QueueURL            string        `mapstructure:"QUEUE_URL" validate:"required"`
	QueueChannel        string        `mapstructure:"QUEUE_CHANNEL" validate:"required"`
	QueueHealthInterval time.Duration `mapstructure:"QUEUE_HEALTH_INTERVAL" validate:"gt=0"`

	// WebhookAuthToken is sent to the provider on registration. Empty means
	// a random token is generated for each registration.
	WebhookAuthToken string `mapstructure:"WEBHOOK_AUTH_TOKEN"`

	// ConfigFileUsed is the defaults file that was read, if any.
	ConfigFileUsed string `mapstructure:"-"`
}

// envBindings maps each config key to the environment variables it is read from,
// in order of preference.
var envBindings = map[string][]string{
	"PORT":                  {"PORT"},
	"LOG_LEVEL":             {"LOG_LEVEL"},
	"LOG_FORMAT":            {"LOG_FORMAT"},
	"PUBLIC_DIR":            {"PUBLIC_DIR"},
	"SPARKPOST_API_KEY":     {"SPARKPOST_API_KEY"},
	"SPARKPOST_API_URL":     {"SPARKPOST_API_URL"},
	"SPARKPOST_TIMEOUT":     {"SPARKPOST_TIMEOUT"},
	"FORWARD_FROM":          {"FORWARD_FROM"},
	"FORWARD_TO":            {"FORWARD_TO"},
	"QUEUE_URL":             {"QUEUE_URL", "REDIS_URL"},
	"QUEUE_CHANNEL":         {"QUEUE_CHANNEL"},
	"QUEUE_HEALTH_INTERVAL": {"QUEUE_HEALTH_INTERVAL"},
	"WEBHOOK_AUTH_TOKEN":    {"WEBHOOK_AUTH_TOKEN"},
}

// DefaultConfigPaths are searched for config.defaults.yaml.
var DefaultConfigPaths = []string{
	"./configs",
	"../configs",
	"../../configs",
	"../../../configs",
	".",
}

// Load reads config.defaults.yaml (if found) and the environment, then validates
// the result. Missing required values are reported together in one error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigPaths...)
}

// LoadFrom is Load with explicit search paths for the defaults file.
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config.defaults")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetDefault("PORT", 5000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("PUBLIC_DIR", "./public")
	v.SetDefault("SPARKPOST_API_URL", "https://api.sparkpost.com")
	v.SetDefault("SPARKPOST_TIMEOUT", "30s")
	v.SetDefault("QUEUE_CHANNEL", "queue")
	v.SetDefault("QUEUE_HEALTH_INTERVAL", "5s")

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.ConfigFileUsed = v.ConfigFileUsed()
	cfg.SparkPostAPIURL = strings.TrimRight(cfg.SparkPostAPIURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and formats.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			problems = append(problems, fe.Field()+" must be set")
			continue
		}
		problems = append(problems, fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
}

// ListenAddr is the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
