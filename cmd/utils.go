package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LipPkg/LipIndex/pkg/config"
	"github.com/LipPkg/LipIndex/pkg/core"
	"github.com/LipPkg/LipIndex/pkg/index"
	"github.com/LipPkg/LipIndex/pkg/warehouse"
	"github.com/pelletier/go-toml/v2"
)

// createSourcesFromConfig creates and configures source instances from the config
func createSourcesFromConfig(registry *core.Registry, cfg *config.Config) error {
	for name := range cfg.Sources {
		if err := configureSource(registry, cfg, name); err != nil {
			return err
		}
	}
	return nil
}

// configureSource creates one source instance in the registry and applies
// its per-instance config plus the shared cache directory.
func configureSource(registry *core.Registry, cfg *config.Config, name string) error {
	srcType, srcConfigRaw, err := cfg.GetSourceConfig(name)
	if err != nil {
		return fmt.Errorf("getting config for source %s: %w", name, err)
	}

	// Create source with empty config first
	if err := registry.CreateSource(name, srcType, nil); err != nil {
		return fmt.Errorf("creating source %s: %w", name, err)
	}

	// Get the source and configure it
	sources := registry.GetAllSources()
	src, exists := sources[name]
	if !exists {
		return fmt.Errorf("source %s not found after creation", name)
	}

	// Convert the raw config to the proper type using the source's ConfigType
	srcConfig, err := convertRawConfigToType(src, srcConfigRaw)
	if err != nil {
		return fmt.Errorf("converting config for source %s: %w", name, err)
	}

	// The revision cache location is a top-level setting shared by all
	// sources; instances may still override it in their own block.
	if c, ok := srcConfig.(interface{ SetCacheDir(string) }); ok {
		c.SetCacheDir(cfg.CacheDir)
	}

	// Set the config on the source
	if err := src.SetConfig(srcConfig); err != nil {
		return fmt.Errorf("setting config for source %s: %w", name, err)
	}

	return nil
}

// convertRawConfigToType converts raw config to the source's expected type
func convertRawConfigToType(src core.Source, rawConfig interface{}) (interface{}, error) {
	// Get the expected config type from the source
	configType := src.ConfigType()

	if rawConfig == nil {
		// Return the default config type
		return configType, nil
	}

	// Marshal and unmarshal to convert between types
	configData, err := toml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("marshaling config data: %w", err)
	}

	if err := toml.Unmarshal(configData, configType); err != nil {
		return nil, fmt.Errorf("unmarshaling source config: %w", err)
	}

	return configType, nil
}

// openIndex opens the index database and brings its schema current.
func openIndex(cfg *config.Config) (*index.Index, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.IndexPath), 0755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}

	ix, err := index.Open(cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}

	if err := ix.EnsureSchema(); err != nil {
		_ = ix.Close()
		return nil, fmt.Errorf("ensuring index schema: %w", err)
	}

	return ix, nil
}

// warehouseConfig maps the TOML config onto warehouse settings.
func warehouseConfig(cfg *config.Config, optimizeInterval time.Duration) (warehouse.Config, error) {
	priority, err := core.ParseOriginPriority(cfg.SourcePriority)
	if err != nil {
		return warehouse.Config{}, fmt.Errorf("parsing source_priority: %w", err)
	}

	return warehouse.Config{
		OptimizeInterval: optimizeInterval,
		OriginPriority:   priority,
	}, nil
}
