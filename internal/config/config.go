package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string
	ProfileDir    string
	LogDir        string
	CaptureDir    string

	DB Database

	Workers  int
	Headless bool

	PortalUsername string
	PortalPassword string
	PortalFile     string
	AuthTimeout    time.Duration
	FieldTimeout   time.Duration
	OrderPrefix    string

	TaskMaxRetries int
}

// Database holds the relational connection parameters.
type Database struct {
	Host     string `json:"host"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"password"`
	Port     int    `json:"port"`
	SSLMode  string `json:"sslmode"`
}

// DSN renders the parameters as a lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, quoteDSN(d.Password), d.Name, d.SSLMode)
}

func quoteDSN(v string) string {
	if v == "" || strings.ContainsAny(v, " '\\") {
		return "'" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v) + "'"
	}
	return v
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads .env (when present) and the process environment.
func Load() Config {
	_ = godotenv.Load()

	dataDir := getenv("DATA_DIR", "./data")
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       dataDir,
		ProfileDir:    getenv("PROFILE_DIR", filepath.Join(dataDir, "Profiles")),
		LogDir:        getenv("LOG_DIR", filepath.Join(dataDir, "Logs")),
		CaptureDir:    getenv("CAPTURE_DIR", filepath.Join(dataDir, "Captures")),

		DB: Database{
			Host:     getenv("DB_HOST", "localhost"),
			Name:     getenv("DB_NAME", "postgres"),
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", "postgres"),
			Port:     getenvInt("DB_PORT", 5432),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},

		Workers:  getenvInt("WORKERS", 1),
		Headless: getenvBool("HEADLESS", true),

		PortalUsername: os.Getenv("PORTAL_USERNAME"),
		PortalPassword: os.Getenv("PORTAL_PASSWORD"),
		PortalFile:     os.Getenv("PORTAL_FILE"),
		AuthTimeout:    getenvDuration("AUTH_TIMEOUT", 60*time.Second),
		FieldTimeout:   getenvDuration("FIELD_TIMEOUT", 10*time.Second),
		OrderPrefix:    getenv("ORDER_PREFIX", "HM-"),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", 0),
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg
}
