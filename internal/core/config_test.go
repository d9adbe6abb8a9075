package core

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "queryengine.db" {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Blob.Driver != "fs" || cfg.Blob.FSRoot != "blobdata" {
		t.Fatalf("unexpected blob defaults %+v", cfg.Blob)
	}
	if cfg.Log.Level != "info" || cfg.Metrics.Exporter != "none" || cfg.PageSize != 256 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "queryengine.yaml")
	body := []byte(`storage:
  driver: badger
  badger_path: /var/lib/qe
blob:
  driver: s3
  s3_bucket: archives
  s3_path_style: true
page_size: 64
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("QUERYENGINE_LOG_LEVEL", "debug")
	t.Setenv("QUERYENGINE_STORAGE_BADGER_PATH", "/tmp/override")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "badger" {
		t.Fatalf("file value ignored: %+v", cfg.Storage)
	}
	if cfg.Storage.BadgerPath != "/tmp/override" {
		t.Fatalf("environment must override the file, got %s", cfg.Storage.BadgerPath)
	}
	if cfg.Blob.S3Bucket != "archives" || !cfg.Blob.S3PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.Log.Level != "debug" || cfg.PageSize != 64 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
