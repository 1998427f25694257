package main

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/shoepad/internal/config"
	"github.com/banshee-data/shoepad/internal/fsutil"
)

func TestMain(m *testing.M) {
	log.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("", nil)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetHTTPListen(); got != ":8080" {
		t.Errorf("listen = %q, want :8080", got)
	}
	if got := cfg.GetDBPath(); got != "shoepad.db" {
		t.Errorf("db = %q, want shoepad.db", got)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shoepad.json")
	body := `{"http_listen": ":9000", "db_path": "from-file.db", "window_size": 20}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path, map[string]string{
		"db":     "from-flag.db",
		"serial": "/dev/ttyUSB0",
	})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if got := cfg.GetHTTPListen(); got != ":9000" {
		t.Errorf("listen = %q, want :9000", got)
	}
	if got := cfg.GetDBPath(); got != "from-flag.db" {
		t.Errorf("db = %q, want from-flag.db", got)
	}
	if got := cfg.GetSerialPort(); got != "/dev/ttyUSB0" {
		t.Errorf("serial = %q, want /dev/ttyUSB0", got)
	}
	if got := cfg.GetWindowSize(); got != 20 {
		t.Errorf("window size = %d, want 20", got)
	}
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shoepad.json")
	if err := os.WriteFile(path, []byte(`{"window_size": 0}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, nil); err == nil {
		t.Error("expected error for invalid config")
	}
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestLoadClassifier_MissingModel(t *testing.T) {
	dir := "nowhere"
	cfg := &config.Config{ModelDir: &dir}
	if w := loadClassifier(fsutil.NewMemoryFileSystem(), cfg, nil); w != nil {
		t.Error("expected no worker without an exported model")
	}
}
