package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
engine:
  provider: gemini
  api_key: file-key
databases:
  sqlite3:
    dsn: data/docs.db
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":5000" {
		t.Fatalf("unexpected address %q", cfg.Server.Address)
	}
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "data/docs.db") {
		t.Fatalf("sqlite dsn not resolved: %s", got)
	}
	if cfg.Blobs.BaseDir != filepath.Join(dir, "data/uploads") {
		t.Fatalf("blob dir not resolved: %s", cfg.Blobs.BaseDir)
	}
	if len(cfg.Ingest.AllowedExtensions) != len(DefaultAllowedExtensions) {
		t.Fatalf("allow-list default missing: %v", cfg.Ingest.AllowedExtensions)
	}
	if cfg.Engine.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected default model %q", cfg.Engine.Model)
	}
}

func TestLoadEnvOverridesAPIKey(t *testing.T) {
	t.Setenv(envEngineAPIKey, "env-key")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	// JSON is accepted because the decoder is YAML.
	if err := os.WriteFile(path, []byte(`{"engine": {"provider": "openai"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.APIKey != "env-key" {
		t.Fatalf("expected env api key, got %q", cfg.Engine.APIKey)
	}
	if cfg.Engine.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model %q", cfg.Engine.Model)
	}
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	cfg := &Config{
		Store:  StoreConfig{Backend: "mongo"},
		Blobs:  BlobConfig{Backend: "gcs"},
		Queue:  QueueConfig{Backend: "kafka"},
		Engine: EngineConfig{Provider: "vertex"},
	}
	ApplyDefaults(cfg)
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"store backend", "blobs.bucket", "queue backend", "vertex"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
