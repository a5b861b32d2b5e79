package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	StoreRedis    = "redis"
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	DynamoDB   DynamoDBConfig
	Redis      RedisConfig
	JWT        JWTConfig
	TokenStore TokenStoreConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// CookieName is the cookie consulted for the access token when no
	// Authorization header is present. Empty disables cookie lookup.
	CookieName string
}

type LogConfig struct {
	Level string
}

type DynamoDBConfig struct {
	Endpoint  string
	Region    string
	TableName string
}

type RedisConfig struct {
	Endpoint  string
	Password  string
	DB        int
	KeyPrefix string
}

type JWTConfig struct {
	SecretKey     string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
	// StoreTimeout bounds every token store round trip made by the token manager.
	StoreTimeout time.Duration
}

type TokenStoreConfig struct {
	Backend string
}

func Load() (*Config, error) {
	storeTimeout := getEnvAsDuration("TOKEN_STORE_TIMEOUT", 500*time.Millisecond)

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			CookieName:   getEnv("AUTH_COOKIE_NAME", ""),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		DynamoDB: DynamoDBConfig{
			Endpoint:  getEnv("DYNAMODB_ENDPOINT", ""),
			Region:    getEnv("DYNAMODB_REGION", "ap-northeast-2"),
			TableName: getEnv("DYNAMODB_TABLE_NAME", "AuthTable"),
		},
		Redis: RedisConfig{
			Endpoint:  getEnv("REDIS_ENDPOINT", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "auth"),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", ""),
			AccessExpiry:  getEnvAsDuration("JWT_ACCESS_EXPIRY", 30*time.Minute),
			RefreshExpiry: getEnvAsDuration("JWT_REFRESH_EXPIRY", 14*24*time.Hour),
			StoreTimeout:  storeTimeout,
		},
		TokenStore: TokenStoreConfig{
			Backend: getEnv("TOKEN_STORE", StoreRedis),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
	}

	if c.JWT.AccessExpiry <= 0 || c.JWT.RefreshExpiry <= 0 {
		return fmt.Errorf("JWT_ACCESS_EXPIRY and JWT_REFRESH_EXPIRY must be positive")
	}

	if c.JWT.RefreshExpiry < c.JWT.AccessExpiry {
		return fmt.Errorf("JWT_REFRESH_EXPIRY must not be shorter than JWT_ACCESS_EXPIRY")
	}

	if c.JWT.StoreTimeout <= 0 {
		return fmt.Errorf("TOKEN_STORE_TIMEOUT must be positive")
	}

	switch c.TokenStore.Backend {
	case StoreRedis, StoreDynamoDB, StoreMemory:
	default:
		return fmt.Errorf("unsupported TOKEN_STORE %q", c.TokenStore.Backend)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration syntax ("15m") or a plain number of seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
