package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
)

type stubConfig struct {
	SearchQuery string `toml:"search_query"`
	CacheDir    string `toml:"cache_dir"`
}

func (c *stubConfig) Validate() error { return nil }

func (c *stubConfig) SetCacheDir(dir string) {
	if c.CacheDir == "" {
		c.CacheDir = dir
	}
}

type stubSource struct {
	instanceName string
	config       *stubConfig
}

func (s *stubSource) Type() string     { return "stub" }
func (s *stubSource) Name() string     { return s.instanceName }
func (s *stubSource) Platform() string { return "stub" }

func (s *stubSource) Discover(ctx context.Context, out chan<- core.RepositoryDescriptor) error {
	return nil
}

func (s *stubSource) Resolve(ctx context.Context, desc core.RepositoryDescriptor) (*core.Package, error) {
	return nil, nil
}

func (s *stubSource) ConfigType() interface{} { return &stubConfig{} }

func (s *stubSource) SetConfig(config interface{}) error {
	cfg, ok := config.(*stubConfig)
	if !ok {
		return fmt.Errorf("invalid config type for stub source")
	}
	s.config = cfg
	return nil
}

func (s *stubSource) GetConfig() interface{} { return s.config }
func (s *stubSource) Close() error           { return nil }

func (s *stubSource) Factory(instanceName string, config interface{}) (core.Source, error) {
	src := &stubSource{instanceName: instanceName, config: &stubConfig{}}
	if config != nil {
		if err := src.SetConfig(config); err != nil {
			return nil, err
		}
	}
	return src, nil
}

func newStubRegistry(t *testing.T) *core.Registry {
	t.Helper()

	registry := core.NewRegistry()
	if err := registry.RegisterPrototype("stub", &stubSource{}); err != nil {
		t.Fatalf("registering prototype: %v", err)
	}
	t.Cleanup(func() {
		if err := registry.Close(); err != nil {
			t.Logf("Warning: failed to close registry: %v", err)
		}
	})
	return registry
}

func TestCreateSourcesFromConfig(t *testing.T) {
	registry := newStubRegistry(t)
	sharedCache := filepath.Join(t.TempDir(), "cache")

	cfg := &config.Config{
		CacheDir: sharedCache,
		Sources: map[string]config.SourceInfo{
			"main": {
				Type: "stub",
				Config: map[string]interface{}{
					"search_query": "topic:lip-tooth",
				},
			},
			"custom-cache": {
				Type: "stub",
				Config: map[string]interface{}{
					"cache_dir": "/srv/private-cache",
				},
			},
		},
	}

	if err := createSourcesFromConfig(registry, cfg); err != nil {
		t.Fatalf("creating sources: %v", err)
	}

	main, err := registry.GetSource("main")
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}
	mainCfg, ok := main.GetConfig().(*stubConfig)
	if !ok {
		t.Fatalf("unexpected config type %T", main.GetConfig())
	}
	if mainCfg.SearchQuery != "topic:lip-tooth" {
		t.Errorf("search query = %q, want topic:lip-tooth", mainCfg.SearchQuery)
	}
	if mainCfg.CacheDir != sharedCache {
		t.Errorf("cache dir = %q, want shared %q", mainCfg.CacheDir, sharedCache)
	}

	custom, err := registry.GetSource("custom-cache")
	if err != nil {
		t.Fatalf("getting source: %v", err)
	}
	customCfg := custom.GetConfig().(*stubConfig)
	if customCfg.CacheDir != "/srv/private-cache" {
		t.Errorf("instance cache override lost, got %q", customCfg.CacheDir)
	}
}

func TestCreateSourcesFromConfigUnknownType(t *testing.T) {
	registry := newStubRegistry(t)

	cfg := &config.Config{
		Sources: map[string]config.SourceInfo{
			"main": {Type: "doesnotexist"},
		},
	}

	if err := createSourcesFromConfig(registry, cfg); err == nil {
		t.Fatal("expected error for unknown source type")
	}
}

func TestConvertRawConfigToTypeNil(t *testing.T) {
	src := &stubSource{}

	converted, err := convertRawConfigToType(src, nil)
	if err != nil {
		t.Fatalf("converting nil config: %v", err)
	}
	if _, ok := converted.(*stubConfig); !ok {
		t.Fatalf("expected *stubConfig, got %T", converted)
	}
}

func TestWarehouseConfigPriority(t *testing.T) {
	cfg := &config.Config{
		SourcePriority: []string{"package-registry", "repository-host"},
	}

	whCfg, err := warehouseConfig(cfg, time.Hour)
	if err != nil {
		t.Fatalf("building warehouse config: %v", err)
	}
	if whCfg.OptimizeInterval != time.Hour {
		t.Errorf("optimize interval = %v, want 1h", whCfg.OptimizeInterval)
	}

	want := []core.VersionOrigin{core.OriginPackageRegistry, core.OriginRepositoryHost}
	if len(whCfg.OriginPriority) != len(want) {
		t.Fatalf("priority length = %d, want %d", len(whCfg.OriginPriority), len(want))
	}
	for i, origin := range want {
		if whCfg.OriginPriority[i] != origin {
			t.Errorf("priority[%d] = %q, want %q", i, whCfg.OriginPriority[i], origin)
		}
	}
}

func TestWarehouseConfigRejectsUnknownOrigin(t *testing.T) {
	cfg := &config.Config{
		SourcePriority: []string{"bittorrent"},
	}

	if _, err := warehouseConfig(cfg, 0); err == nil {
		t.Fatal("expected error for unknown origin")
	}
}

func TestRunMigrations(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.toml")
	indexPath := filepath.Join(dir, "index.db")

	content := fmt.Sprintf("index_path = %q\n", indexPath)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	// A database that does not exist yet is not an error.
	if err := RunMigrations(configPath, false); err != nil {
		t.Fatalf("migrating missing database: %v", err)
	}

	// Opening the index creates the file without applying migrations.
	ix, err := index.Open(indexPath)
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("closing index: %v", err)
	}

	if err := RunMigrations(configPath, true); err != nil {
		t.Fatalf("showing migration status: %v", err)
	}
	if err := RunMigrations(configPath, false); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	// All migrations should now be applied.
	ix, err = index.Open(indexPath)
	if err != nil {
		t.Fatalf("reopening index: %v", err)
	}
	defer func() {
		if err := ix.Close(); err != nil {
			t.Logf("Warning: failed to close index: %v", err)
		}
	}()

	pending, err := index.NewMigrationManager(ix.DB()).GetPendingMigrations()
	if err != nil {
		t.Fatalf("getting pending migrations: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending migrations after apply = %d, want 0", len(pending))
	}
}

func TestFirehoseURLFromListenAddr(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{":8080", "ws://localhost:8080/api/firehose/ws"},
		{"127.0.0.1:9000", "ws://127.0.0.1:9000/api/firehose/ws"},
		{"0.0.0.0:8080", "ws://localhost:8080/api/firehose/ws"},
		{"bogus", "ws://localhost:8080/api/firehose/ws"},
	}

	for _, tc := range tests {
		if got := firehoseURLFromListenAddr(tc.addr); got != tc.want {
			t.Errorf("firehoseURLFromListenAddr(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
