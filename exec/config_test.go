package exec_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amorphous-parallel/runtime/exec"
)

func TestConfig_Merge(t *testing.T) {
	cfg := exec.DefaultConfig()
	enabled := false
	cfg.Merge(&exec.Config{
		LoopName:   "refine",
		Escalation: "bounded",
		ChunkSize:  64,
		Stats:      &enabled,
	})

	if cfg.LoopName != "refine" {
		t.Errorf("got loop name %q, want %q", cfg.LoopName, "refine")
	}
	if cfg.Escalation != "bounded" {
		t.Errorf("got escalation %q, want %q", cfg.Escalation, "bounded")
	}
	if cfg.ChunkSize != 64 {
		t.Errorf("got chunk size %d, want 64", cfg.ChunkSize)
	}
	if cfg.Stats == nil || *cfg.Stats {
		t.Error("stats override should be false")
	}
	if cfg.Observer != "" {
		t.Errorf("unset field should stay at default, got %q", cfg.Observer)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loop.json")
	data := `{"loop_name": "match", "observer": "noop", "chunk_size": 16}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := exec.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.LoopName != "match" {
		t.Errorf("got loop name %q, want %q", cfg.LoopName, "match")
	}
	if cfg.Observer != "noop" {
		t.Errorf("got observer %q, want %q", cfg.Observer, "noop")
	}
	if cfg.ChunkSize != 16 {
		t.Errorf("got chunk size %d, want 16", cfg.ChunkSize)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := exec.LoadConfig(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := exec.LoadConfig(path); err == nil {
		t.Error("malformed file should fail")
	}
}
