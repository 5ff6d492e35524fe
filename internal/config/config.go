// Package config loads the application configuration from YAML with
// environment-variable overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port          string `yaml:"port"`
	DataDir       string `yaml:"dataDir"`
	ArtifactDir   string `yaml:"artifactDir"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	LogLevel      string `yaml:"logLevel"`

	JWTSecret     string `yaml:"jwtSecret"`
	AdminEmail    string `yaml:"adminEmail"`
	AdminPassword string `yaml:"adminPassword"`

	SMTPHost     string `yaml:"smtpHost"`
	SMTPPort     string `yaml:"smtpPort"`
	SMTPUsername string `yaml:"smtpUsername"`
	SMTPPassword string `yaml:"smtpPassword"`
	SMTPFrom     string `yaml:"smtpFrom"`

	SeedCustomers int `yaml:"seedCustomers"`

	LoginRateLimitPerMinute  int `yaml:"loginRateLimitPerMinute"`
	VerifyRateLimitPerMinute int `yaml:"verifyRateLimitPerMinute"`

	// TrustedProxies lists reverse-proxy addresses or CIDRs whose
	// X-Forwarded-For is believed when resolving client IPs. Empty means
	// the socket address is always used.
	TrustedProxies []string `yaml:"trustedProxies"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("SHIELD_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SHIELD_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SHIELD_ARTIFACT_DIR"); v != "" {
		cfg.ArtifactDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.AdminEmail = v
	}
	if v := os.Getenv("ADMIN_PASSWORD"); v != "" {
		cfg.AdminPassword = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		cfg.SMTPPort = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		cfg.SMTPUsername = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		cfg.SMTPPassword = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.SMTPFrom = v
	}
	if v := os.Getenv("SHIELD_SEED_CUSTOMERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SeedCustomers = n
		}
	}
	if v := os.Getenv("SHIELD_LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SHIELD_VERIFY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.VerifyRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("SHIELD_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = strings.Split(v, ",")
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("config: dataDir is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.ArtifactDir) == "" {
		return errors.New("config: artifactDir is required (set in config.yaml)")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required (set REDIS_ADDR)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set JWT_SECRET)")
	}
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return errors.New("config: adminEmail and adminPassword are required")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.VerifyRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	return nil
}
