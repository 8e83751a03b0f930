package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Pages     PagesConfig     `yaml:"pages"`
	Queue     QueueConfig     `yaml:"queue"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Intel     IntelConfig     `yaml:"intel"`
	LLM       LLMConfig       `yaml:"llm"`
	DNS       DNSConfig       `yaml:"dns"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
	// TokenSalt seasons domain-verification tokens. Changing it invalidates
	// every TXT record users have already published, so treat it like a key.
	TokenSalt string `yaml:"token_salt"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PagesConfig struct {
	Dir string `yaml:"dir"`
}

type QueueConfig struct {
	Concurrency int `yaml:"concurrency"`
	MaxAttempts int `yaml:"max_attempts"`
}

type SchedulerConfig struct {
	MaterializeInterval time.Duration `yaml:"materialize_interval"`
	CleanupInterval     time.Duration `yaml:"cleanup_interval"`
	StatsInterval       time.Duration `yaml:"stats_interval"`
	PromotionInterval   time.Duration `yaml:"promotion_interval"`
	RetentionInterval   time.Duration `yaml:"retention_interval"`
	SourceScanInterval  time.Duration `yaml:"source_scan_interval"`
}

type IntelConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

type LLMConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type DNSConfig struct {
	// Resolver is host:port of the DNS server used for TXT verification.
	// Empty means the system resolver from /etc/resolv.conf.
	Resolver string `yaml:"resolver"`
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Port: "8080", Env: "development"},
		Database: DatabaseConfig{URL: "postgres://localhost:5432/autoguard?sslmode=disable"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Pages:    PagesConfig{Dir: "./pages"},
		Queue:    QueueConfig{Concurrency: 2, MaxAttempts: 5},
		Scheduler: SchedulerConfig{
			MaterializeInterval: 5 * time.Minute,
			CleanupInterval:     1 * time.Hour,
			StatsInterval:       5 * time.Minute,
			PromotionInterval:   1 * time.Second,
			RetentionInterval:   24 * time.Hour,
			SourceScanInterval:  1 * time.Minute,
		},
	}
}

// LoadConfig reads a YAML config file, falling back to defaults for any
// unset field, then applies environment overrides. A missing file is not an
// error: env-only deployments are the norm.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			decoder := yaml.NewDecoder(f)
			decodeErr := decoder.Decode(cfg)
			f.Close()
			if decodeErr != nil {
				return nil, decodeErr
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("TOKEN_SALT"); v != "" {
		c.Server.TokenSalt = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("PAGES_DIR"); v != "" {
		c.Pages.Dir = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.Concurrency = n
		}
	}
	if v := os.Getenv("BLACKLIST_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.MaterializeInterval = d
		}
	}
	if v := os.Getenv("EXPIRY_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.CleanupInterval = d
		}
	}
	if v := os.Getenv("STATS_AGGREGATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Scheduler.StatsInterval = d
		}
	}
	if v := os.Getenv("IPINTEL_URL"); v != "" {
		c.Intel.URL = v
	}
	if v := os.Getenv("IPINTEL_API_KEY"); v != "" {
		c.Intel.APIKey = v
	}
	if v := os.Getenv("LLM_URL"); v != "" {
		c.LLM.URL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("DNS_RESOLVER"); v != "" {
		c.DNS.Resolver = v
	}
}
