package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Limits.MaxErrors != 25 {
		t.Errorf("expected MaxErrors=25, got %d", cfg.Limits.MaxErrors)
	}
	if cfg.Binary.MinFormatVersion != 1 || cfg.Binary.MaxFormatVersion != 1 {
		t.Errorf("expected format version window [1,1], got [%d,%d]", cfg.Binary.MinFormatVersion, cfg.Binary.MaxFormatVersion)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "sievecore.yaml")

	cfg := DefaultConfig()
	cfg.Limits.MaxErrors = 50
	cfg.Extensions.Enabled = []string{"fileinto"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Limits.MaxErrors != 50 {
		t.Errorf("expected MaxErrors=50, got %d", loaded.Limits.MaxErrors)
	}
	if len(loaded.Extensions.Enabled) != 1 || loaded.Extensions.Enabled[0] != "fileinto" {
		t.Errorf("expected Enabled=[fileinto], got %v", loaded.Extensions.Enabled)
	}
}

func TestConfig_LoadPartialDocumentKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "partial.yaml")
	if err := os.WriteFile(path, []byte("limits:\n  max_errors: 3\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Limits.MaxErrors != 3 {
		t.Errorf("expected MaxErrors=3, got %d", cfg.Limits.MaxErrors)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected untouched Logging.Level default info, got %q", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxErrors = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for max_errors=0")
	}

	cfg = DefaultConfig()
	cfg.Binary.MinFormatVersion = 2
	cfg.Binary.MaxFormatVersion = 1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for inverted format version window")
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for unknown logging level")
	}
}

func TestBinaryConfig_Supports(t *testing.T) {
	b := BinaryConfig{MinFormatVersion: 1, MaxFormatVersion: 2}
	if !b.Supports(1) || !b.Supports(2) {
		t.Error("expected versions 1 and 2 to be supported")
	}
	if b.Supports(3) {
		t.Error("expected version 3 to be unsupported")
	}
}

func TestLimitsConfig_CPUBudget(t *testing.T) {
	if (LimitsConfig{MaxCPUTimeSecs: 0}).CPUBudget() != 0 {
		t.Error("expected zero budget for MaxCPUTimeSecs=0 to mean unlimited")
	}
	if got, want := (LimitsConfig{MaxCPUTimeSecs: 5}).CPUBudget(), 5*time.Second; got != want {
		t.Errorf("expected %v, got %v", want, got)
	}
}
