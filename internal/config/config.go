package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Redis    RedisConfig
	Database DatabaseConfig
	ASR      ASRConfig
	Upload   UploadConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	APIKey    string
	JWTSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type ASRConfig struct {
	Backend       string // "funasr" or "openai"
	FunASRBaseURL string
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	Timeout       time.Duration
	CacheTTL      time.Duration
}

type UploadConfig struct {
	StagingRoot string
	SessionTTL  time.Duration
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	asrTimeout, err := getEnvInt("ASR_TIMEOUT_SECONDS", 300)
	if err != nil {
		return nil, fmt.Errorf("invalid ASR_TIMEOUT_SECONDS: %w", err)
	}

	cacheTTL, err := getEnvInt("ASR_CACHE_TTL_SECONDS", 3600)
	if err != nil {
		return nil, fmt.Errorf("invalid ASR_CACHE_TTL_SECONDS: %w", err)
	}

	sessionTTL, err := getEnvInt("UPLOAD_SESSION_TTL_MINUTES", 1440)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_SESSION_TTL_MINUTES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Auth: AuthConfig{
			APIKey:    getEnv("API_KEY", "your-secret-api-key"),
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		ASR: ASRConfig{
			Backend:       getEnv("ASR_BACKEND", "funasr"),
			FunASRBaseURL: getEnv("FUNASR_BASE_URL", "http://localhost:10095"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("ASR_OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("ASR_OPENAI_MODEL", ""),
			Timeout:       time.Duration(asrTimeout) * time.Second,
			CacheTTL:      time.Duration(cacheTTL) * time.Second,
		},
		Upload: UploadConfig{
			StagingRoot: getEnv("UPLOAD_STAGING_ROOT", os.TempDir()),
			SessionTTL:  time.Duration(sessionTTL) * time.Minute,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Auth.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if c.ASR.Backend == "openai" && c.ASR.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
