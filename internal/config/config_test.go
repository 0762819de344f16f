package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadReadsSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[registry]
addr = ":9100"
db_path = "mesh.db"
heartbeat_timeout_ms = 15000

[stream]
backend = "redis"
redis = "redis://localhost:6379/0"

[matcher]
min_score = 0.7
fallback_agent = "generalist"

[agent]
id = "calc_agent"
capabilities = ["calculation", "math"]

[classifier]
auto_tune = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Registry.Addr != ":9100" || cfg.Registry.HeartbeatTimeoutMS != 15000 {
		t.Fatalf("registry section: %+v", cfg.Registry)
	}
	if cfg.Stream.Backend != "redis" || cfg.Stream.Redis != "redis://localhost:6379/0" {
		t.Fatalf("stream section: %+v", cfg.Stream)
	}
	if cfg.Matcher.MinScore != 0.7 || cfg.Matcher.FallbackAgent != "generalist" {
		t.Fatalf("matcher section: %+v", cfg.Matcher)
	}
	if cfg.Agent.ID != "calc_agent" || len(cfg.Agent.Capabilities) != 2 {
		t.Fatalf("agent section: %+v", cfg.Agent)
	}
	if !cfg.Classifier.AutoTune {
		t.Fatalf("classifier section: %+v", cfg.Classifier)
	}
	if cfg.Path != path {
		t.Fatalf("path=%q", cfg.Path)
	}
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}
