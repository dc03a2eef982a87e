package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
index_path = "` + dir + `/index.db"
fetch_interval = "30m"
listen_addr = ":9090"
source_priority = ["package-registry", "repository-host"]

[sources.teeth]
type = "levilamina"
interval = "2h"

[sources.teeth.config]
token = "abc123"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.IndexPath != dir+"/index.db" {
		t.Errorf("IndexPath = %q", cfg.IndexPath)
	}
	if cfg.FetchInterval.Duration != 30*time.Minute {
		t.Errorf("FetchInterval = %v", cfg.FetchInterval.Duration)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.CacheDir == "" {
		t.Error("CacheDir should default to the XDG cache directory")
	}
	if len(cfg.SourcePriority) != 2 || cfg.SourcePriority[0] != "package-registry" {
		t.Errorf("SourcePriority = %v", cfg.SourcePriority)
	}

	srcType, raw, err := cfg.GetSourceConfig("teeth")
	if err != nil {
		t.Fatalf("GetSourceConfig() error: %v", err)
	}
	if srcType != "levilamina" {
		t.Errorf("source type = %q", srcType)
	}
	if raw == nil {
		t.Error("source config should carry the raw table")
	}
	if got := cfg.GetSourceInterval("teeth"); got != 2*time.Hour {
		t.Errorf("GetSourceInterval() = %v", got)
	}
	if got := cfg.GetSourceInterval("missing"); got != time.Hour {
		t.Errorf("GetSourceInterval(missing) = %v, want the default", got)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.IndexPath == "" || filepath.Base(cfg.IndexPath) != "index.db" {
		t.Errorf("IndexPath = %q", cfg.IndexPath)
	}
	if cfg.FetchInterval.Duration != time.Hour {
		t.Errorf("FetchInterval = %v", cfg.FetchInterval.Duration)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if len(cfg.Sources) != 0 {
		t.Errorf("Sources = %v, want empty", cfg.Sources)
	}
}

func TestSaveTemplateConfig(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	cfg, err := GetDefaultConfig()
	if err != nil {
		t.Fatalf("GetDefaultConfig() error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "config.toml")
	if err := cfg.SaveTemplateConfig(path); err != nil {
		t.Fatalf("SaveTemplateConfig() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading template: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, cfg.IndexPath) {
		t.Error("template should embed the resolved index path")
	}
	if !strings.Contains(text, "[sources.levilamina]") || !strings.Contains(text, "[sources.endstone]") {
		t.Error("template should show both source examples")
	}

	// The template is valid TOML and round-trips through LoadConfig.
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig(template) error: %v", err)
	}
	if loaded.IndexPath != cfg.IndexPath {
		t.Errorf("IndexPath = %q, want %q", loaded.IndexPath, cfg.IndexPath)
	}
	if _, ok := loaded.Sources["levilamina"]; !ok {
		t.Error("template sources should parse")
	}
}
