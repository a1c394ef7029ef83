package config

// DefaultAllowedExtensions mirrors the image formats plus PDF accepted for page uploads.
var DefaultAllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "heic", "pdf"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":5000"
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 16 << 20
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "sql"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite3"
	}
	if cfg.Store.FirestoreCollection == "" {
		cfg.Store.FirestoreCollection = "documents"
	}
	if cfg.Databases == nil {
		cfg.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := cfg.Databases["sqlite3"]; !ok && cfg.Store.Driver == "sqlite3" {
		cfg.Databases["sqlite3"] = DatabaseConfig{DSN: "./data/documents.db"}
	}
	if cfg.Blobs.Backend == "" {
		cfg.Blobs.Backend = "disk"
	}
	if cfg.Blobs.BaseDir == "" {
		cfg.Blobs.BaseDir = "./data/uploads"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "127.0.0.1"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = "memory"
	}
	if cfg.Queue.KeyPrefix == "" {
		cfg.Queue.KeyPrefix = "docdigitizer"
	}
	if cfg.Queue.StatusTTLMinutes == 0 {
		cfg.Queue.StatusTTLMinutes = 24 * 60
	}
	if cfg.Queue.BlockTimeoutSecond == 0 {
		cfg.Queue.BlockTimeoutSecond = 5
	}
	if cfg.Workers.MinWorkers == 0 {
		cfg.Workers.MinWorkers = 2
	}
	if cfg.Workers.MaxWorkers == 0 {
		cfg.Workers.MaxWorkers = 8
	}
	if cfg.Workers.QueueSize == 0 {
		cfg.Workers.QueueSize = 128
	}
	if cfg.Workers.WorkerIdleTimeout == 0 {
		cfg.Workers.WorkerIdleTimeout = 5
	}
	if cfg.Workers.TaskTimeout == 0 {
		cfg.Workers.TaskTimeout = 30
	}
	if len(cfg.Ingest.AllowedExtensions) == 0 {
		cfg.Ingest.AllowedExtensions = append([]string(nil), DefaultAllowedExtensions...)
	}
	if cfg.Ingest.MaxPages == 0 {
		cfg.Ingest.MaxPages = 50
	}
	if cfg.Ingest.MaxPageBytes == 0 {
		cfg.Ingest.MaxPageBytes = 16 << 20
	}
	if cfg.Ingest.UploadConcurrency == 0 {
		cfg.Ingest.UploadConcurrency = 4
	}
	if cfg.Engine.Provider == "" {
		cfg.Engine.Provider = "gemini"
	}
	if cfg.Engine.Model == "" {
		switch cfg.Engine.Provider {
		case "openai":
			cfg.Engine.Model = "gpt-4o-mini"
		case "claude":
			cfg.Engine.Model = "claude-3-5-sonnet-latest"
		default:
			cfg.Engine.Model = "gemini-2.0-flash"
		}
	}
	if cfg.Engine.Framework == "" {
		cfg.Engine.Framework = "native"
	}
	if cfg.Engine.TimeoutSeconds == 0 {
		cfg.Engine.TimeoutSeconds = 60
	}
	if cfg.Engine.MaxTokens == 0 {
		cfg.Engine.MaxTokens = 8192
	}
}
