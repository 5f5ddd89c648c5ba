// Package config loads runtime settings from defaults, an optional YAML file
// named by CONFIG_FILE, and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config holds the API server settings.
type Config struct {
	Port        string        `yaml:"port"`
	Env         string        `yaml:"env"`
	JWTSecret   string        `yaml:"jwt_secret"`
	JWTExpiry   time.Duration `yaml:"jwt_expiry"`
	CORSOrigins []string      `yaml:"cors_origins"`
	LogLevel    string        `yaml:"log_level"`
	LogFormat   string        `yaml:"log_format"`
	Store       StoreConfig   `yaml:"store"`
	RateLimit   RateLimit     `yaml:"rate_limit"`
	Redis       RedisConfig   `yaml:"redis"`
	// TrustedProxies lists reverse proxies (CIDR or address) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Off when empty.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// StoreConfig selects and addresses the database.
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	MongoURI      string `yaml:"mongodb_uri"`
	MongoDatabase string `yaml:"mongodb_database"`
	MySQLDSN      string `yaml:"mysql_dsn"`
}

// RateLimit bounds requests to the unauthenticated auth routes per client IP.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// RedisConfig enables the shared rate limiter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Defaults returns the development configuration.
func Defaults() Config {
	return Config{
		Port:        "4000",
		Env:         "development",
		JWTSecret:   devJWTSecret,
		JWTExpiry:   7 * 24 * time.Hour,
		CORSOrigins: []string{"http://localhost:5173"},
		LogLevel:    "info",
		LogFormat:   "text",
		Store: StoreConfig{
			Driver:        "mongo",
			MongoDatabase: "irrigation",
			MySQLDSN:      "root:password@tcp(127.0.0.1:3306)/irrigation",
		},
		RateLimit: RateLimit{RPS: 5, Burst: 10},
	}
}

// Load builds the configuration and validates it.
func Load() (Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	if c.Env == "production" && c.JWTSecret == devJWTSecret {
		return errors.New("JWT_SECRET must be set in production environment")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must not be empty")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return errors.New("AUTH_RATE_LIMIT and AUTH_RATE_BURST must be positive")
	}
	for _, p := range c.TrustedProxies {
		if !validProxy(p) {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p)
		}
	}

	switch c.Store.Driver {
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI is required for the mongo store")
		}
	case "mysql":
		if c.Store.MySQLDSN == "" {
			return errors.New("MYSQL_DSN is required for the mysql store")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("decoding config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.Env, "ENV")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.Store.Driver, "STORE_DRIVER")
	setString(&cfg.Store.MongoURI, "MONGODB_URI")
	setString(&cfg.Store.MongoDatabase, "MONGODB_DATABASE")
	setString(&cfg.Store.MySQLDSN, "MYSQL_DSN")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		cfg.CORSOrigins = SplitList(v)
	}

	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = SplitList(v)
	}

	if v := os.Getenv("JWT_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing JWT_EXPIRY: %w", err)
		}
		cfg.JWTExpiry = d
	}

	if v := os.Getenv("REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing REDIS_DB: %w", err)
		}
		cfg.Redis.DB = n
	}

	if v := os.Getenv("AUTH_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parsing AUTH_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.RPS = f
	}

	if v := os.Getenv("AUTH_RATE_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing AUTH_RATE_BURST: %w", err)
		}
		cfg.RateLimit.Burst = n
	}

	return nil
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
