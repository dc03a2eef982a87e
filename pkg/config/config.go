package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed config.toml.sample
var configTemplate string

type Config struct {
	// IndexPath is the SQLite index database file.
	IndexPath     string   `toml:"index_path"`
	FetchInterval Duration `toml:"fetch_interval"`
	ListenAddr    string   `toml:"listen_addr"`
	// CacheDir holds the compressed revision cache shared by all sources.
	CacheDir string `toml:"cache_dir"`
	// SourcePriority is the version dedup order when several upstreams
	// report the same version string. Defaults to
	// repository-host, module-proxy, package-registry.
	SourcePriority []string              `toml:"source_priority"`
	Sources        map[string]SourceInfo `toml:"sources"`
}

type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

type SourceInfo struct {
	Type string `toml:"type"`
	// Interval specifies how often this source should be fetched.
	// If not specified, defaults to 1 hour.
	Interval *Duration   `toml:"interval,omitempty"`
	Config   interface{} `toml:"config"`
}

func GetDefaultConfig() (*Config, error) {
	indexPath, err := GetDefaultIndexPath()
	if err != nil {
		return nil, fmt.Errorf("getting default index path: %w", err)
	}
	cacheDir, err := GetDefaultCacheDir()
	if err != nil {
		return nil, fmt.Errorf("getting default cache directory: %w", err)
	}
	return &Config{
		IndexPath:     indexPath,
		FetchInterval: Duration{time.Hour},
		ListenAddr:    ":8080",
		CacheDir:      cacheDir,
		Sources:       make(map[string]SourceInfo),
	}, nil
}

func LoadConfig(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return GetDefaultConfig()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if config.IndexPath == "" {
		indexPath, err := GetDefaultIndexPath()
		if err != nil {
			return nil, fmt.Errorf("getting default index path: %w", err)
		}
		config.IndexPath = indexPath
	}

	if config.FetchInterval.Duration == 0 {
		config.FetchInterval = Duration{time.Hour}
	}

	if config.ListenAddr == "" {
		config.ListenAddr = ":8080"
	}

	if config.CacheDir == "" {
		cacheDir, err := GetDefaultCacheDir()
		if err != nil {
			return nil, fmt.Errorf("getting default cache directory: %w", err)
		}
		config.CacheDir = cacheDir
	}

	if config.Sources == nil {
		config.Sources = make(map[string]SourceInfo)
	}

	return &config, nil
}

func (c *Config) SaveConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

func (c *Config) SaveTemplateConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	template, err := c.generateConfigTemplate()
	if err != nil {
		return fmt.Errorf("generating config template: %w", err)
	}
	return os.WriteFile(configPath, []byte(template), 0644)
}

func (c *Config) generateConfigTemplate() (string, error) {
	indexPath := c.IndexPath
	if indexPath == "" {
		var err error
		indexPath, err = GetDefaultIndexPath()
		if err != nil {
			return "", fmt.Errorf("getting default index path: %w", err)
		}
	}

	// Replace the placeholder index_path with the actual path
	template := strings.Replace(configTemplate, "/home/user/.local/share/lipindex/index.db", indexPath, 1)
	return template, nil
}

func (c *Config) AddSource(name, srcType string, srcConfig interface{}) error {
	info := SourceInfo{
		Type:   srcType,
		Config: srcConfig,
	}

	c.Sources[name] = info
	return nil
}

func (c *Config) GetSourceConfig(name string) (string, interface{}, error) {
	info, exists := c.Sources[name]
	if !exists {
		return "", nil, fmt.Errorf("source %s not found", name)
	}

	return info.Type, info.Config, nil
}

func (c *Config) GetSourceInterval(name string) time.Duration {
	info, exists := c.Sources[name]
	if !exists || info.Interval == nil {
		return time.Hour // Default to 1 hour
	}
	return info.Interval.Duration
}

func (c *Config) ListSources() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	return names
}

func (c *Config) RemoveSource(name string) {
	delete(c.Sources, name)
}

// GetDefaultDataDir returns the default data directory for the index
func GetDefaultDataDir() (string, error) {
	// Use XDG_DATA_HOME if set, otherwise use ~/.local/share
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	indexDir := filepath.Join(dataDir, "lipindex")

	// Create the directory if it doesn't exist
	if err := os.MkdirAll(indexDir, 0755); err != nil {
		return "", fmt.Errorf("creating data directory %s: %w", indexDir, err)
	}

	return indexDir, nil
}

// GetDefaultIndexPath returns the default index database path in the user's data directory
func GetDefaultIndexPath() (string, error) {
	dataDir, err := GetDefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "index.db"), nil
}

// GetDefaultCacheDir returns the default revision cache directory
func GetDefaultCacheDir() (string, error) {
	// Use XDG_CACHE_HOME if set, otherwise use ~/.cache
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		cacheDir = filepath.Join(homeDir, ".cache")
	}

	return filepath.Join(cacheDir, "lipindex"), nil
}

// GetConfigDir returns the configuration directory for lipindex
func GetConfigDir() (string, error) {
	// Use XDG_CONFIG_HOME if set, otherwise use ~/.config
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting user home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	appConfigDir := filepath.Join(configDir, "lipindex")

	// Create the directory if it doesn't exist
	if err := os.MkdirAll(appConfigDir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory %s: %w", appConfigDir, err)
	}

	return appConfigDir, nil
}

// GetDefaultConfigPath returns the default configuration file path
func GetDefaultConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.toml"), nil
}
