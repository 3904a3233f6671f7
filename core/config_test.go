package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mochi_backend/generation"
)

var configKeys = []string{
	"MOCHI_CONFIG_FILE", "MOCHI_MODEL_DIR", "MOCHI_CONTROLNET_DIR", "MOCHI_IMAGE_DIR",
	"MOCHI_IMAGE_TYPE", "MOCHI_DB_PATH", "MOCHI_LISTEN_ADDR", "MOCHI_API_PASSWORD",
	"MOCHI_SESSION_SECRET", "MOCHI_COMPUTE_UNIT", "MOCHI_REDUCE_MEMORY",
	"MOCHI_SEND_NOTIFICATION", "MOCHI_NOTIFICATION_SOUND", "MOCHI_HISTORY_RETENTION",
	"MOCHI_CLEANUP_INTERVAL", "LOG_LEVEL", "MOCHI_LOG_FILE", "DEV_MODE",
}

// clearConfigEnv blanks every config variable for the test. t.Setenv
// restores the previous values afterwards.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configKeys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.ListenAddr != ":8085" || cfg.ImageType != generation.ImageTypePNG || cfg.ComputeUnit != generation.ComputeCPUAndGPU {
		t.Errorf("defaults = %+v", cfg)
	}
	if filepath.Base(cfg.ModelDir) != "models" || filepath.Base(filepath.Dir(cfg.ModelDir)) != AppName {
		t.Errorf("ModelDir = %s", cfg.ModelDir)
	}
	if !cfg.SendNotification || cfg.AuthEnabled() {
		t.Errorf("notification/auth defaults = %v/%v", cfg.SendNotification, cfg.AuthEnabled())
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	clearConfigEnv(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "mochi.yaml")
	writeFile(t, yamlPath, `
model_dir: /yaml/models
image_dir: /yaml/images
image_type: jpg
compute_unit: all
history_retention: 48h
send_notification: false
`)
	envPath := filepath.Join(dir, ".env")
	writeFile(t, envPath, "MOCHI_CONFIG_FILE="+yamlPath+"\nMOCHI_IMAGE_DIR=/env/images\nMOCHI_API_PASSWORD=pw\n")
	// godotenv does not override variables that are already set, and
	// t.Setenv("", ...) counts as set. Unset the ones .env provides.
	os.Unsetenv("MOCHI_CONFIG_FILE")
	os.Unsetenv("MOCHI_IMAGE_DIR")
	os.Unsetenv("MOCHI_API_PASSWORD")
	t.Cleanup(func() {
		os.Unsetenv("MOCHI_CONFIG_FILE")
		os.Unsetenv("MOCHI_IMAGE_DIR")
		os.Unsetenv("MOCHI_API_PASSWORD")
	})
	t.Setenv("MOCHI_HISTORY_RETENTION", "3600")

	cfg, err := LoadConfig(envPath)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.ModelDir != "/yaml/models" {
		t.Errorf("ModelDir = %s, want yaml value", cfg.ModelDir)
	}
	if cfg.ImageDir != "/env/images" {
		t.Errorf("ImageDir = %s, want env value", cfg.ImageDir)
	}
	if cfg.ImageType != generation.ImageTypeJPEG || cfg.ComputeUnit != generation.ComputeAll {
		t.Errorf("enums = %s/%s", cfg.ImageType, cfg.ComputeUnit)
	}
	if cfg.HistoryRetention != time.Hour {
		t.Errorf("HistoryRetention = %v, want env override of 1h", cfg.HistoryRetention)
	}
	if cfg.SendNotification {
		t.Error("SendNotification should come from yaml")
	}
	if !cfg.AuthEnabled() || cfg.ConfigFile != yamlPath {
		t.Errorf("auth = %v file = %s", cfg.AuthEnabled(), cfg.ConfigFile)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		yaml     string
		wantCode string
	}{
		{name: "bad compute unit", env: map[string]string{"MOCHI_COMPUTE_UNIT": "gpuOnly"}, wantCode: ErrCodeInvalidValue},
		{name: "bad image type", env: map[string]string{"MOCHI_IMAGE_TYPE": "gif"}, wantCode: ErrCodeInvalidValue},
		{name: "bad listen addr", env: map[string]string{"MOCHI_LISTEN_ADDR": "8085"}, wantCode: ErrCodeListenAddr},
		{name: "negative retention", env: map[string]string{"MOCHI_HISTORY_RETENTION": "-1h"}, wantCode: ErrCodeInvalidValue},
		{name: "unknown yaml key", yaml: "modle_dir: /x\n", wantCode: ErrCodeConfigFile},
		{name: "malformed yaml", yaml: "model_dir: [\n", wantCode: ErrCodeConfigFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if tt.yaml != "" {
				path := filepath.Join(t.TempDir(), "c.yaml")
				writeFile(t, path, tt.yaml)
				t.Setenv("MOCHI_CONFIG_FILE", path)
			}
			_, err := LoadConfig("")
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("error = %v (code %q), want code %q", err, got, tt.wantCode)
			}
			if ExitCodeFor(err) != ExitCodeConfig {
				t.Errorf("ExitCodeFor() = %d, want %d", ExitCodeFor(err), ExitCodeConfig)
			}
		})
	}
}

func TestLoadConfig_MissingConfigFile(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("MOCHI_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig("")
	ce, ok := AsConfigError(err)
	if !ok || ce.Code != ErrCodeConfigFile || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v", err)
	}
}

func TestConfig_WriteFileOmitsSecrets(t *testing.T) {
	clearConfigEnv(t)
	cfg := DefaultConfig()
	cfg.APIPassword = "pw"
	cfg.SessionSecret = "s"
	cfg.HistoryRetention = 90 * time.Minute
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	loaded := &Config{}
	if err := loaded.applyFile(path); err != nil {
		t.Fatalf("applyFile() error: %v", err)
	}
	if loaded.APIPassword != "" || loaded.SessionSecret != "" {
		t.Error("secrets were written")
	}
	if loaded.HistoryRetention != 90*time.Minute || loaded.ListenAddr != ":8085" {
		t.Errorf("round trip = %+v", loaded)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
