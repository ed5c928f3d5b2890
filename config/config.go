package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"estate_admin/models"
)

type Config struct {
	API       APIConfig
	Cache     CacheConfig
	Mirror    MirrorConfig
	S3        S3Config
	Scheduler SchedulerConfig
	PerPage   int
	DBPath    string
	LogLevel  string
	LogPath   string
	Presets   map[string]*Preset
}

type APIConfig struct {
	BaseURL  string
	Timeout  time.Duration
	ProxyURL string
}

// CacheConfig selects the second-level catalog page store
type CacheConfig struct {
	Backend       string // memory, sqlite or redis
	RedisAddr     string
	RedisPassword string
	TTL           time.Duration
}

type MirrorConfig struct {
	DatabaseURL string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

// Preset is a named catalog filter stored as YAML
type Preset struct {
	Name   string        `yaml:"name"`
	Filter models.Filter `yaml:"filter"`
}

const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

var presetDir = "config/presets"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		API: APIConfig{
			BaseURL:  strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:8000/api"), "/"),
			Timeout:  getEnvDuration("API_TIMEOUT", 30*time.Second),
			ProxyURL: os.Getenv("PROXY_URL"),
		},
		Cache: CacheConfig{
			Backend:       getEnv("CACHE_BACKEND", CacheSQLite),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			TTL:           getEnvDuration("CACHE_TTL", 10*time.Minute),
		},
		Mirror: MirrorConfig{
			DatabaseURL: os.Getenv("MIRROR_DB_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("MIRROR_CRON"),
			Interval: getEnvDuration("MIRROR_INTERVAL", 0),
		},
		PerPage:  getEnvInt("PER_PAGE", models.DefaultPerPage),
		DBPath:   getEnv("DB_PATH", "estate_admin.db"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  os.Getenv("LOG_PATH"),
		Presets:  make(map[string]*Preset),
	}

	switch cfg.Cache.Backend {
	case CacheMemory, CacheSQLite, CacheRedis:
	default:
		return nil, fmt.Errorf("unknown CACHE_BACKEND %q", cfg.Cache.Backend)
	}

	if err := cfg.loadPresets(presetDir); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPresets reads every *.yaml file in dir. A missing directory is not an error.
func (c *Config) loadPresets(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var p Preset
		if err := yaml.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("preset %s: %w", entry.Name(), err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(entry.Name(), ".yaml")
		}
		if err := p.Filter.Validate(); err != nil {
			return fmt.Errorf("preset %s: %w", p.Name, err)
		}

		c.Presets[p.Name] = &p
	}

	return nil
}

// DefaultFilter is the listing state a fresh session starts from
func (c *Config) DefaultFilter() models.Filter {
	return models.DefaultFilter(c.PerPage)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
