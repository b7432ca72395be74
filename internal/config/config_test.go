package config

import (
	"os"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "ddf")
	t.Setenv("CACHE_ALLOW", "10")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Storage.MySQL.Host != "db.internal" {
		t.Errorf("Storage.MySQL.Host = %q, want db.internal", cfg.Storage.MySQL.Host)
	}
	if cfg.Caching.Allow != 10 {
		t.Errorf("Caching.Allow = %d, want 10", cfg.Caching.Allow)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidateRejectsMySQLWithoutDatabase(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Type = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for mysql storage without database name")
	}
}

func TestValidateRejectsS3WithoutBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Assets.Store = "s3"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for s3 asset store without bucket")
	}
}

func TestLoadFromFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("server:\n  port: 8181\nstorage:\n  type: memory\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
}
