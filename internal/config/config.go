package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	Debug     bool                      `yaml:"debug"`
	Server    ServerConfig              `yaml:"server"`
	Databases map[string]DatabaseConfig `yaml:"databases"`
	Store     StoreConfig               `yaml:"store"`
	Blobs     BlobConfig                `yaml:"blobs"`
	Redis     RedisConfig               `yaml:"redis"`
	Queue     QueueConfig               `yaml:"queue"`
	Workers   WorkerConfig              `yaml:"workers"`
	Ingest    IngestConfig              `yaml:"ingest"`
	Engine    EngineConfig              `yaml:"engine"`
}

type ServerConfig struct {
	Address        string `yaml:"address"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// DatabaseConfig is keyed by driver name in Config.Databases.
type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"db_name"`
	Params   string `yaml:"params"`
}

type StoreConfig struct {
	Backend             string `yaml:"backend"` // sql | firestore
	Driver              string `yaml:"driver"`  // sqlite3 | mysql
	FirestoreProject    string `yaml:"firestore_project"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type BlobConfig struct {
	Backend string `yaml:"backend"` // disk | gcs
	BaseDir string `yaml:"base_dir"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Backend            string `yaml:"backend"` // memory | redis
	KeyPrefix          string `yaml:"key_prefix"`
	StatusTTLMinutes   int    `yaml:"status_ttl_minutes"`
	BlockTimeoutSecond int    `yaml:"block_timeout_seconds"`
}

type WorkerConfig struct {
	MinWorkers        int `yaml:"min_workers"`
	MaxWorkers        int `yaml:"max_workers"`
	QueueSize         int `yaml:"queue_size"`
	WorkerIdleTimeout int `yaml:"worker_idle_timeout"` // minutes
	TaskTimeout       int `yaml:"task_timeout"`        // minutes
}

type IngestConfig struct {
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxPages          int      `yaml:"max_pages"`
	MaxPageBytes      int64    `yaml:"max_page_bytes"`
	UploadConcurrency int      `yaml:"upload_concurrency"`
}

type EngineConfig struct {
	Provider       string `yaml:"provider"`  // gemini | vertex | openai | claude
	Framework      string `yaml:"framework"` // native | eino, only meaningful for gemini and vertex
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Project        string `yaml:"project"`
	Location       string `yaml:"location"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxTokens      int    `yaml:"max_tokens"`
}

const (
	envConfigPath    = "DOCDIGITIZER_CONFIG"
	envEngineAPIKey  = "DOCDIGITIZER_ENGINE_API_KEY"
	envRedisPassword = "DOCDIGITIZER_REDIS_PASSWORD"
)

// PathFromEnv returns the configured config path, defaulting to config.yaml.
func PathFromEnv() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	return "config.yaml"
}

// Load reads configuration from the provided path (defaults to config.yaml).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	ApplyDefaults(&cfg)
	applyEnv(&cfg)

	configDir := filepath.Dir(absPath)
	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" {
		db.DSN = resolveSQLitePath(db.DSN, configDir)
		cfg.Databases["sqlite3"] = db
	}
	if !filepath.IsAbs(cfg.Blobs.BaseDir) {
		cfg.Blobs.BaseDir = filepath.Join(configDir, cfg.Blobs.BaseDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(envEngineAPIKey); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv(envRedisPassword); v != "" {
		cfg.Redis.Password = v
	}
}

// resolveSQLitePath anchors relative sqlite files at the config directory.
// In-memory and URI style DSNs are left untouched.
func resolveSQLitePath(dsn, configDir string) string {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") || filepath.IsAbs(dsn) {
		return dsn
	}
	return filepath.Join(configDir, dsn)
}

// Validate checks backend selections and the values each backend requires.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case "sql":
		if _, ok := c.Databases[c.Store.Driver]; !ok {
			errs = append(errs, fmt.Errorf("database config for %s not found", c.Store.Driver))
		}
	case "firestore":
		if c.Store.FirestoreProject == "" {
			errs = append(errs, errors.New("store.firestore_project must be configured"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported store backend: %s", c.Store.Backend))
	}
	switch c.Blobs.Backend {
	case "disk":
	case "gcs":
		if c.Blobs.Bucket == "" {
			errs = append(errs, errors.New("blobs.bucket must be configured for gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported blob backend: %s", c.Blobs.Backend))
	}
	switch c.Queue.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported queue backend: %s", c.Queue.Backend))
	}
	switch c.Engine.Provider {
	case "gemini", "openai", "claude":
		if c.Engine.APIKey == "" {
			errs = append(errs, fmt.Errorf("engine.api_key must be configured for %s", c.Engine.Provider))
		}
	case "vertex":
		if c.Engine.Project == "" || c.Engine.Location == "" {
			errs = append(errs, errors.New("engine.project and engine.location must be configured for vertex"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported engine provider: %s", c.Engine.Provider))
	}
	switch c.Engine.Framework {
	case "native", "eino":
	default:
		errs = append(errs, fmt.Errorf("unsupported engine framework: %s", c.Engine.Framework))
	}
	return errors.Join(errs...)
}
