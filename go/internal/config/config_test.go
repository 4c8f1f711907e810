package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendMemory {
		t.Errorf("backend = %q", cfg.StoreBackend)
	}
	if cfg.Lang != "ar" {
		t.Errorf("lang = %q, want ar", cfg.Lang)
	}
	if !cfg.Notifications {
		t.Error("notifications should default on")
	}
	if cfg.NATS.EphemeralTTL != 30*time.Second {
		t.Errorf("ttl = %s", cfg.NATS.EphemeralTTL)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	body := `
store_backend: nats
nats:
  url: nats://example:4222
  bucket: timers
  ephemeral_ttl: 45s
gateway_addr: ":9000"
lang: en
nickname: zac
admin: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != BackendNATS {
		t.Errorf("backend = %q", cfg.StoreBackend)
	}
	if cfg.NATS.URL != "nats://example:4222" || cfg.NATS.Bucket != "timers" {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.NATS.EphemeralTTL != 45*time.Second {
		t.Errorf("ttl = %s", cfg.NATS.EphemeralTTL)
	}
	if cfg.GatewayAddr != ":9000" || cfg.Lang != "en" || cfg.Nickname != "zac" || !cfg.Admin {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_EnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("lang: en\nnickname: file-name\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LANG_CODE", "ar")
	t.Setenv("NICKNAME", "env-name")
	t.Setenv("NOTIFICATIONS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lang != "ar" {
		t.Errorf("lang = %q, want env override", cfg.Lang)
	}
	if cfg.Nickname != "env-name" {
		t.Errorf("nickname = %q", cfg.Nickname)
	}
	if cfg.Notifications {
		t.Error("notifications should be off via env")
	}
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestLoad_RejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("store_backend: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
