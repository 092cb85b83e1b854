// Package config loads the service configuration from an optional YAML
// file overlaid with WEBGIS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Configuration validation errors.
var (
	ErrInvalidPort        = errors.New("server.port must be between 1 and 65535")
	ErrUnknownBackend     = errors.New("store.backend must be one of: memory, duckdb, supabase")
	ErrMissingSupabaseURL = errors.New("supabase.url is required for the supabase backend")
	ErrMissingSupabaseKey = errors.New("supabase.anon_key is required for the supabase backend")
	ErrInvalidConcurrency = errors.New("import.max_concurrency must be at least 1")
	ErrInvalidBatchSize   = errors.New("import.batch_size and import.project_batch_size must be at least 1")
	ErrInvalidWizardTTL   = errors.New("wizard.ttl must be longer than wizard.close_delay")
	ErrInvalidZoomRange   = errors.New("tiles.min_zoom must be between 0 and tiles.max_zoom, max_zoom at most 22")
	ErrInvalidLogLevel    = errors.New("observability.log_level must be one of: debug, info, warn, error")
)

// Config is the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Supabase      SupabaseConfig      `yaml:"supabase"`
	Redis         RedisConfig         `yaml:"redis"`
	Import        ImportConfig        `yaml:"import"`
	Wizard        WizardConfig        `yaml:"wizard"`
	Export        ExportConfig        `yaml:"export"`
	Tiles         TilesConfig         `yaml:"tiles"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	WebDir          string        `yaml:"web_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the entity store.
type StoreConfig struct {
	Backend string `yaml:"backend"`  // memory, duckdb or supabase
	DataDir string `yaml:"data_dir"` // snapshots (memory) or database directory (duckdb)
	DBName  string `yaml:"db_name"`
}

// SupabaseConfig reaches a PostgREST endpoint.
type SupabaseConfig struct {
	URL            string        `yaml:"url"`
	AnonKey        string        `yaml:"anon_key"`
	ServiceKey     string        `yaml:"service_key"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// RedisConfig enables the shared import guard when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url"`
	Prefix  string        `yaml:"prefix"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

type ImportConfig struct {
	MaxConcurrency   int `yaml:"max_concurrency"`
	BatchSize        int `yaml:"batch_size"`
	ProjectBatchSize int `yaml:"project_batch_size"` // premises per bulk create when a project is created
}

type WizardConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	CloseDelay time.Duration `yaml:"close_delay"`
}

// ExportConfig sets where exports are written. S3 is used when a bucket is set.
type ExportConfig struct {
	Dir      string `yaml:"dir"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

type TilesConfig struct {
	Dir     string `yaml:"dir"`
	MinZoom int    `yaml:"min_zoom"`
	MaxZoom int    `yaml:"max_zoom"`
}

type ObservabilityConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"` // empty disables trace export
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8086,
			WebDir:          "web",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
			DataDir: ".data",
			DBName:  "webgis",
		},
		Supabase: SupabaseConfig{
			HTTPTimeout:    10 * time.Second,
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
		},
		Redis: RedisConfig{
			Prefix:  "webgis:import:",
			LockTTL: 10 * time.Minute,
		},
		Import: ImportConfig{
			MaxConcurrency:   8,
			BatchSize:        500,
			ProjectBatchSize: 50,
		},
		Wizard: WizardConfig{
			TTL:        30 * time.Minute,
			CloseDelay: 2 * time.Second,
		},
		Export: ExportConfig{
			Dir:      ".data/exports",
			S3Region: "us-east-1",
		},
		Tiles: TilesConfig{
			Dir:     ".data/tiles",
			MinZoom: 10,
			MaxZoom: 16,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			ServiceName: "webgis",
		},
	}
}

// Load reads path (when not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("WEBGIS_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("WEBGIS_PORT", c.Server.Port)
	c.Server.WebDir = getEnv("WEBGIS_WEB_DIR", c.Server.WebDir)

	c.Store.Backend = getEnv("WEBGIS_STORE", c.Store.Backend)
	c.Store.DataDir = getEnv("WEBGIS_DATA_DIR", c.Store.DataDir)

	c.Supabase.URL = getEnv("WEBGIS_SUPABASE_URL", c.Supabase.URL)
	c.Supabase.AnonKey = getEnv("WEBGIS_SUPABASE_ANON_KEY", c.Supabase.AnonKey)
	c.Supabase.ServiceKey = getEnv("WEBGIS_SUPABASE_SERVICE_KEY", c.Supabase.ServiceKey)
	c.Supabase.HTTPTimeout = getEnvDuration("WEBGIS_SUPABASE_TIMEOUT", c.Supabase.HTTPTimeout)

	c.Redis.URL = getEnv("WEBGIS_REDIS_URL", c.Redis.URL)

	c.Import.MaxConcurrency = getEnvInt("WEBGIS_IMPORT_CONCURRENCY", c.Import.MaxConcurrency)
	c.Import.BatchSize = getEnvInt("WEBGIS_IMPORT_BATCH_SIZE", c.Import.BatchSize)

	c.Wizard.TTL = getEnvDuration("WEBGIS_WIZARD_TTL", c.Wizard.TTL)

	c.Export.S3Bucket = getEnv("WEBGIS_S3_BUCKET", c.Export.S3Bucket)
	c.Export.S3Prefix = getEnv("WEBGIS_S3_PREFIX", c.Export.S3Prefix)
	c.Export.S3Region = getEnv("AWS_REGION", c.Export.S3Region)

	c.Observability.LogLevel = getEnv("WEBGIS_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Observability.OTLPEndpoint)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidPort
	}

	switch c.Store.Backend {
	case "memory", "duckdb":
	case "supabase":
		if c.Supabase.URL == "" {
			return ErrMissingSupabaseURL
		}
		if c.Supabase.AnonKey == "" {
			return ErrMissingSupabaseKey
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Store.Backend)
	}

	if c.Import.MaxConcurrency < 1 {
		return ErrInvalidConcurrency
	}
	if c.Import.BatchSize < 1 || c.Import.ProjectBatchSize < 1 {
		return ErrInvalidBatchSize
	}

	if c.Wizard.TTL <= c.Wizard.CloseDelay {
		return ErrInvalidWizardTTL
	}

	if c.Tiles.MinZoom < 0 || c.Tiles.MinZoom > c.Tiles.MaxZoom || c.Tiles.MaxZoom > 22 {
		return ErrInvalidZoomRange
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Observability.LogLevel] {
		return ErrInvalidLogLevel
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
