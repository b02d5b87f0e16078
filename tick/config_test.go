package tick

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kdbtick.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
host = "kdb.example.com"
port = 5012
include_entities = ["light.kitchen"]
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "kdb.example.com" || cfg.Port != 5012 {
		t.Errorf("host/port = %q/%d", cfg.Host, cfg.Port)
	}
	if len(cfg.IncludeEntities) != 1 || cfg.IncludeEntities[0] != "light.kitchen" {
		t.Errorf("include_entities = %v", cfg.IncludeEntities)
	}
	// keys absent from the file keep their defaults
	if cfg.Name != DefaultName || cfg.Func != DefaultFunc {
		t.Errorf("name/func = %q/%q", cfg.Name, cfg.Func)
	}
	if cfg.ListenAddr != DefaultListenAddr || cfg.RetrySeconds != DefaultRetrySeconds {
		t.Errorf("listen_addr/retry = %q/%d", cfg.ListenAddr, cfg.RetrySeconds)
	}
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	for _, body := range []string{
		`port = 0`,
		`port = 70000`,
		`host = ""`,
		`retry_interval_seconds = -1`,
	} {
		if _, err := LoadConfig(writeConfig(t, body)); err == nil {
			t.Errorf("config %q accepted", body)
		}
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestRetryInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetrySeconds = 5
	if got := cfg.RetryInterval(); got != 5*time.Second {
		t.Errorf("RetryInterval = %v", got)
	}
}
