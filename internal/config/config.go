package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction  = "prod"
	EnvQA          = "qa"
	EnvDevelopment = "dev"
	EnvTest        = "test"
)

type Config struct {
	Env      string
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Storage  StorageConfig
	Worker   WorkerConfig
	Redis    RedisConfig
	Mail     MailConfig
	Tracking TrackingConfig
	Crypto   CryptoConfig
	Services ServicesConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret string
}

type StorageConfig struct {
	S3 S3Config
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type WorkerConfig struct {
	Concurrency     int
	SendConcurrency int
}

type RedisConfig struct {
	Addr     string
	Password string
	Username string
	DB       int
}

// MailConfig configures the platform sending identity
type MailConfig struct {
	Region              string
	AccessKey           string
	SecretKey           string
	ConfigurationSet    string
	DefaultFrom         string
	MaxSendRate         int
	TestMailbox         string
	ApprovedTestDomains []string
}

// TrackingConfig configures tracking links written into outgoing mail
type TrackingConfig struct {
	BaseURL        string
	Secret         string
	FallbackURL    string
	PixelURL       string
	PreferencesURL string
}

type CryptoConfig struct {
	CredentialsKey string
}

// ServicesConfig points at collaborating services
type ServicesConfig struct {
	ListServiceURL   string
	ListServiceToken string
	Timeout          time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Env: strings.ToLower(getEnv("APP_ENV", EnvDevelopment)),
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Name:     getEnv("POSTGRES_DB", "talentmail"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
		},
		Storage: StorageConfig{
			S3: S3Config{
				Bucket:    getEnv("S3_BUCKET", ""),
				Region:    getEnv("S3_REGION", ""),
				Endpoint:  getEnv("S3_ENDPOINT", ""),
				AccessKey: getEnv("S3_ACCESS_KEY", ""),
				SecretKey: getEnv("S3_SECRET_KEY", ""),
			},
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvAsInt("WORKER_CONCURRENCY", 10),
			SendConcurrency: getEnvAsInt("WORKER_SEND_CONCURRENCY", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			Username: getEnv("REDIS_USERNAME", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Mail: MailConfig{
			Region:              getEnv("SES_REGION", "us-east-1"),
			AccessKey:           getEnv("SES_ACCESS_KEY", ""),
			SecretKey:           getEnv("SES_SECRET_KEY", ""),
			ConfigurationSet:    getEnv("SES_CONFIGURATION_SET", ""),
			DefaultFrom:         getEnv("MAIL_DEFAULT_FROM", "no-reply@talentmail.local"),
			MaxSendRate:         getEnvAsInt("MAIL_MAX_SEND_RATE", 14),
			TestMailbox:         getEnv("MAIL_TEST_MAILBOX", ""),
			ApprovedTestDomains: getEnvAsList("MAIL_APPROVED_TEST_DOMAINS", nil),
		},
		Tracking: TrackingConfig{
			BaseURL:        strings.TrimRight(getEnv("TRACKING_BASE_URL", "http://localhost:8080"), "/"),
			Secret:         getEnv("TRACKING_SECRET", ""),
			FallbackURL:    getEnv("TRACKING_FALLBACK_URL", "https://www.talentmail.local"),
			PixelURL:       getEnv("TRACKING_PIXEL_URL", ""),
			PreferencesURL: getEnv("TRACKING_PREFERENCES_URL", "http://localhost:8080/preferences"),
		},
		Crypto: CryptoConfig{
			CredentialsKey: getEnv("CREDENTIALS_KEY", ""),
		},
		Services: ServicesConfig{
			ListServiceURL:   strings.TrimRight(getEnv("LIST_SERVICE_URL", "http://localhost:8081"), "/"),
			ListServiceToken: getEnv("LIST_SERVICE_TOKEN", ""),
			Timeout:          time.Duration(getEnvAsInt("LIST_SERVICE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
	}

	return cfg, nil
}

// IsProduction reports whether outgoing mail reaches real recipients
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// IsApprovedTestDomain reports whether a domain may receive real mail outside production
func (c *Config) IsApprovedTestDomain(name string) bool {
	for _, d := range c.Mail.ApprovedTestDomains {
		if strings.EqualFold(strings.TrimSpace(d), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
