package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != DefaultServer || cfg.Timeout != DefaultTimeout || cfg.StatePath != DefaultStatePath {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Encrypt == nil || !*cfg.Encrypt || cfg.PrettyJSON == nil || !*cfg.PrettyJSON {
		t.Fatalf("boolean defaults not applied")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	data := "server: http://localhost:8080\ntimeout: 5s\nencrypt: false\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server != "http://localhost:8080" || cfg.Timeout != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if *cfg.Encrypt {
		t.Fatalf("encrypt should be false")
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
