package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigins         []string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	ReceiptCacheTTLSeconds int
	AuthSecret             string
	AccessTokenTTLMinutes  int
	LoginRatePerMinute     int
	AppEnv                 string
	LogLevel               string
}

var defaults = map[string]any{
	"PORT":                      "8080",
	"ALLOWED_ORIGINS":           "http://127.0.0.1:3000",
	"DATABASE_URL":              "",
	"REDIS_ADDR":                "",
	"REDIS_PASSWORD":            "",
	"REDIS_DB":                  0,
	"RECEIPT_CACHE_TTL_SECONDS": 300,
	"AUTH_SECRET":               "",
	"ACCESS_TOKEN_TTL_MINUTES":  480,
	"LOGIN_RATE_PER_MINUTE":     5,
	"APP_ENV":                   "development",
	"LOG_LEVEL":                 "info",
}

// New returns a viper instance reading the environment, layered over an
// optional dotenv file. A missing envFile is not an error.
func New(envFile string) (*viper.Viper, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if envFile == "" {
		return v, nil
	}
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}
	return v, nil
}

func Load(v *viper.Viper) Config {
	return Config{
		Port:                   strings.TrimSpace(v.GetString("PORT")),
		AllowedOrigins:         splitList(v.GetString("ALLOWED_ORIGINS")),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		ReceiptCacheTTLSeconds: positiveOr(v.GetInt("RECEIPT_CACHE_TTL_SECONDS"), 300),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  positiveOr(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		LoginRatePerMinute:     positiveOr(v.GetInt("LOGIN_RATE_PER_MINUTE"), 5),
		AppEnv:                 strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:               strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) ReceiptCacheTTL() time.Duration {
	return time.Duration(c.ReceiptCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func positiveOr(value, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}
