package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Cache     CacheConfig         `mapstructure:"cache"`
	Database  DatabaseConfig      `mapstructure:"database"`
	SQLEngine SQLEngineConfig     `mapstructure:"sql_engine"`
	Queue     QueueConfig         `mapstructure:"queue"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	// RESTPort is the port of the REST API; 0 disables it.
	RESTPort int `mapstructure:"rest_port"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// SandboxConfig holds sandbox configuration
type SandboxConfig struct {
	Backend            string `mapstructure:"backend"`
	MemoryMB           int    `mapstructure:"memory_mb"`
	PidsLimit          int    `mapstructure:"pids_limit"`
	MaxOutputBytes     int    `mapstructure:"max_output_bytes"`
	NetworkEnabled     bool   `mapstructure:"network_enabled"`
	EnableLocalBackend bool   `mapstructure:"enable_local_backend"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds result cache configuration
type CacheConfig struct {
	Backend                string        `mapstructure:"backend"`
	Redis                  RedisConfig   `mapstructure:"redis"`
	QuestionTTL            time.Duration `mapstructure:"question_ttl"`
	ResultTTL              time.Duration `mapstructure:"result_ttl"`
	ProgressTTL            time.Duration `mapstructure:"progress_ttl"`
	RuntimeTTL             time.Duration `mapstructure:"runtime_ttl"`
	CompressThresholdBytes int           `mapstructure:"compress_threshold_bytes"`
}

// DatabaseConfig locates the question store. URL wins over QuestionsFile.
type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	MaxConns      int32  `mapstructure:"max_conns"`
	QuestionsFile string `mapstructure:"questions_file"`
}

// SQLEngineConfig holds the dedicated pool used to run submitted queries.
type SQLEngineConfig struct {
	URL              string        `mapstructure:"url"`
	MaxConns         int32         `mapstructure:"max_conns"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MaxRows          int           `mapstructure:"max_rows"`
}

// NATSConfig holds job event publishing settings; an empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// QueueConfig holds job queue configuration
type QueueConfig struct {
	MaxAttempts          int           `mapstructure:"max_attempts"`
	BackoffBase          time.Duration `mapstructure:"backoff_base"`
	CompletedRetention   int           `mapstructure:"completed_retention"`
	FailedRetention      int           `mapstructure:"failed_retention"`
	MaxWaiting           int           `mapstructure:"max_waiting"`
	StalledCheckInterval time.Duration `mapstructure:"stalled_check_interval"`
	NATS                 NATSConfig    `mapstructure:"nats"`
}

// Language holds per-language settings
type Language struct {
	Enabled      bool   `mapstructure:"enabled"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	MemoryMB     int    `mapstructure:"memory_mb"`
	Concurrency  int    `mapstructure:"concurrency"`
	MaxCodeBytes int    `mapstructure:"max_code_bytes"`
	Image        string `mapstructure:"image"`
}

// Timeout returns the language execution bound as a duration
func (l Language) Timeout() time.Duration {
	return time.Duration(l.TimeoutMs) * time.Millisecond
}

type languageDefaults struct {
	timeoutMs   int
	memoryMB    int
	concurrency int
	image       string
}

var defaultLanguages = map[string]languageDefaults{
	"javascript": {timeoutMs: 5000, memoryMB: 128, concurrency: 4},
	"sql":        {timeoutMs: 5000, memoryMB: 0, concurrency: 4},
	"python":     {timeoutMs: 10000, memoryMB: 256, concurrency: 2, image: "python:3.12-alpine"},
	"go":         {timeoutMs: 20000, memoryMB: 512, concurrency: 1, image: "golang:1.25-alpine"},
	"cpp":        {timeoutMs: 15000, memoryMB: 256, concurrency: 1, image: "gcc:14"},
}

// New loads .env, then config.yaml, and validates the result
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	return load(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CODEARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.rest_port", 8081)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("sandbox.backend", "docker")
	v.SetDefault("sandbox.memory_mb", 256)
	v.SetDefault("sandbox.pids_limit", 64)
	v.SetDefault("sandbox.max_output_bytes", 64<<10)
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.enable_local_backend", false)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.question_ttl", 30*time.Minute)
	v.SetDefault("cache.result_ttl", time.Hour)
	v.SetDefault("cache.progress_ttl", 5*time.Minute)
	v.SetDefault("cache.runtime_ttl", 24*time.Hour)
	v.SetDefault("cache.compress_threshold_bytes", 4096)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.questions_file", "")

	v.SetDefault("sql_engine.url", "")
	v.SetDefault("sql_engine.max_conns", 4)
	v.SetDefault("sql_engine.statement_timeout", 5*time.Second)
	v.SetDefault("sql_engine.max_rows", 1000)

	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", 2*time.Second)
	v.SetDefault("queue.completed_retention", 100)
	v.SetDefault("queue.failed_retention", 50)
	v.SetDefault("queue.max_waiting", 1000)
	v.SetDefault("queue.stalled_check_interval", 30*time.Second)
	v.SetDefault("queue.nats.url", "")
	v.SetDefault("queue.nats.subject_prefix", "codearena.jobs")

	for name, d := range defaultLanguages {
		prefix := "languages." + name + "."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"timeout_ms", d.timeoutMs)
		v.SetDefault(prefix+"memory_mb", d.memoryMB)
		v.SetDefault(prefix+"concurrency", d.concurrency)
		v.SetDefault(prefix+"max_code_bytes", 64<<10)
		v.SetDefault(prefix+"image", d.image)
	}

	return v
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.RESTPort < 0 {
		return fmt.Errorf("server.rest_port must not be negative, got: %d", c.Server.RESTPort)
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  c.Sandbox.EnableLocalBackend, // local only enabled if specifically allowed
	}

	if !supportedBackends[c.Sandbox.Backend] {
		return fmt.Errorf("unsupported sandbox.backend: %s", c.Sandbox.Backend)
	}

	if c.Cache.Backend != "redis" && c.Cache.Backend != "memory" {
		return fmt.Errorf("unsupported cache.backend: %s, must be 'redis' or 'memory'", c.Cache.Backend)
	}

	ttls := map[string]time.Duration{
		"cache.question_ttl": c.Cache.QuestionTTL,
		"cache.result_ttl":   c.Cache.ResultTTL,
		"cache.progress_ttl": c.Cache.ProgressTTL,
		"cache.runtime_ttl":  c.Cache.RuntimeTTL,
	}
	for key, ttl := range ttls {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive, got: %s", key, ttl)
		}
	}

	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1, got: %d", c.Queue.MaxAttempts)
	}

	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("queue.backoff_base must be positive, got: %s", c.Queue.BackoffBase)
	}

	if c.SQLEngine.StatementTimeout <= 0 {
		return fmt.Errorf("sql_engine.statement_timeout must be positive, got: %s", c.SQLEngine.StatementTimeout)
	}

	for name, lang := range c.Languages {
		if !lang.Enabled {
			continue
		}
		if lang.TimeoutMs <= 0 {
			return fmt.Errorf("languages.%s.timeout_ms must be positive, got: %d", name, lang.TimeoutMs)
		}
		if lang.Concurrency <= 0 {
			return fmt.Errorf("languages.%s.concurrency must be positive, got: %d", name, lang.Concurrency)
		}
	}

	return nil
}

// EnabledLanguages returns the names of enabled languages
func (c *Config) EnabledLanguages() []string {
	var names []string
	for name, lang := range c.Languages {
		if lang.Enabled {
			names = append(names, name)
		}
	}
	return names
}
