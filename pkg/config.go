package merklebuild

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-ini/ini"
)

// Config represents the merkle-build configuration file
type Config struct {
	configPath string
	ini        *ini.File
}

// HashConfig represents tree hashing configuration
type HashConfig struct {
	Ignore        []string // Entry names excluded from directory hashes
	IncludeHidden bool     // Hash dot-named entries
}

// CacheConfig represents persistent cache configuration
type CacheConfig struct {
	Dir string // Persistent record directory, empty for memory only
}

// MarkerConfig represents change detector configuration
type MarkerConfig struct {
	File string // Marker file name inside each watched directory
}

// OutputConfig represents output format configuration
type OutputConfig struct {
	Format string // Default output format: human, json, yaml
}

// VerboseConfig represents verbosity configuration
type VerboseConfig struct {
	Level int    // Default verbose level (0=quiet, 1=basic, 2=detailed, 3=trace)
	Debug string // Default debug flags (comma-separated)
}

// PerformanceConfig represents performance-related configuration
type PerformanceConfig struct {
	HashWorkers int    // Number of concurrent file hashes (default: 4)
	HashBuffer  string // File read buffer size (default: "2M")
}

// WatchConfig represents watch mode configuration
type WatchConfig struct {
	Debounce time.Duration // Quiet period before re-checking after an event
}

// AllConfig represents all configuration options
type AllConfig struct {
	Hash        *HashConfig
	Cache       *CacheConfig
	Marker      *MarkerConfig
	Output      *OutputConfig
	Verbose     *VerboseConfig
	Performance *PerformanceConfig
	Watch       *WatchConfig
}

// LoadConfig loads configuration from configPath. A missing file yields the
// defaults without creating anything on disk; use Save to write it.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{
		configPath: configPath,
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			iniFile, err := ini.Load(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
			cfg.ini = iniFile
			return cfg, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg.ini = ini.Empty()
	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("failed to set default config: %w", err)
	}
	return cfg, nil
}

// Path returns the location the config is loaded from and saved to
func (c *Config) Path() string {
	return c.configPath
}

// setDefaults sets default configuration values
func (c *Config) setDefaults() error {
	defaults := []struct {
		section, key, value string
	}{
		{"hash", "ignore", ""},
		{"hash", "include_hidden", "false"},
		{"cache", "dir", ""},
		{"marker", "file", DefaultMarkerFile},
		{"output", "format", "human"},
		{"verbose", "level", "0"},
		{"verbose", "debug", ""},
		{"performance", "hash_workers", fmt.Sprintf("%d", DefaultHashWorkers)},
		{"performance", "hash_buffer", DefaultHashBuffer},
		{"watch", "debounce", "200ms"},
	}

	for _, d := range defaults {
		section := c.ini.Section(d.section)
		if _, err := section.NewKey(d.key, d.value); err != nil {
			return fmt.Errorf("failed to set default %s.%s: %w", d.section, d.key, err)
		}
	}
	return nil
}

// GetHashConfig returns the hash configuration
func (c *Config) GetHashConfig() *HashConfig {
	hashConfig := &HashConfig{}

	if c.ini.HasSection("hash") {
		section := c.ini.Section("hash")
		if section.HasKey("ignore") {
			hashConfig.Ignore = ParseNameList(section.Key("ignore").String())
		}
		if section.HasKey("include_hidden") {
			if includeHidden, err := section.Key("include_hidden").Bool(); err == nil {
				hashConfig.IncludeHidden = includeHidden
			}
		}
	}

	return hashConfig
}

// GetCacheConfig returns the persistent cache configuration
func (c *Config) GetCacheConfig() *CacheConfig {
	cacheConfig := &CacheConfig{}

	if c.ini.HasSection("cache") {
		section := c.ini.Section("cache")
		if section.HasKey("dir") {
			cacheConfig.Dir = section.Key("dir").String()
		}
	}

	return cacheConfig
}

// GetMarkerConfig returns the change detector marker configuration
func (c *Config) GetMarkerConfig() *MarkerConfig {
	markerConfig := &MarkerConfig{
		File: DefaultMarkerFile,
	}

	if c.ini.HasSection("marker") {
		section := c.ini.Section("marker")
		if section.HasKey("file") {
			if file := section.Key("file").String(); file != "" {
				markerConfig.File = file
			}
		}
	}

	return markerConfig
}

// GetOutputConfig returns the output configuration
func (c *Config) GetOutputConfig() *OutputConfig {
	outputConfig := &OutputConfig{
		Format: "human",
	}

	if c.ini.HasSection("output") {
		section := c.ini.Section("output")
		if section.HasKey("format") {
			outputConfig.Format = section.Key("format").String()
		}
	}

	return outputConfig
}

// GetVerboseConfig returns the verbose configuration
func (c *Config) GetVerboseConfig() *VerboseConfig {
	verboseConfig := &VerboseConfig{}

	if c.ini.HasSection("verbose") {
		section := c.ini.Section("verbose")
		if section.HasKey("level") {
			if level, err := section.Key("level").Int(); err == nil {
				verboseConfig.Level = level
			}
		}
		if section.HasKey("debug") {
			verboseConfig.Debug = section.Key("debug").String()
		}
	}

	return verboseConfig
}

// GetPerformanceConfig returns the performance configuration
func (c *Config) GetPerformanceConfig() *PerformanceConfig {
	performanceConfig := &PerformanceConfig{
		HashWorkers: DefaultHashWorkers,
		HashBuffer:  DefaultHashBuffer,
	}

	if c.ini.HasSection("performance") {
		section := c.ini.Section("performance")
		if section.HasKey("hash_workers") {
			if workers, err := section.Key("hash_workers").Int(); err == nil {
				performanceConfig.HashWorkers = workers
			}
		}
		if section.HasKey("hash_buffer") {
			if bufferSize := section.Key("hash_buffer").String(); bufferSize != "" {
				performanceConfig.HashBuffer = bufferSize
			}
		}
	}

	return performanceConfig
}

// GetWatchConfig returns the watch mode configuration
func (c *Config) GetWatchConfig() *WatchConfig {
	watchConfig := &WatchConfig{
		Debounce: 200 * time.Millisecond,
	}

	if c.ini.HasSection("watch") {
		section := c.ini.Section("watch")
		if section.HasKey("debounce") {
			if debounce, err := section.Key("debounce").Duration(); err == nil && debounce > 0 {
				watchConfig.Debounce = debounce
			}
		}
	}

	return watchConfig
}

// GetAllConfig returns all configuration options
func (c *Config) GetAllConfig() *AllConfig {
	return &AllConfig{
		Hash:        c.GetHashConfig(),
		Cache:       c.GetCacheConfig(),
		Marker:      c.GetMarkerConfig(),
		Output:      c.GetOutputConfig(),
		Verbose:     c.GetVerboseConfig(),
		Performance: c.GetPerformanceConfig(),
		Watch:       c.GetWatchConfig(),
	}
}

// HashOptions converts the configuration into hashing options
func (c *Config) HashOptions() (Options, error) {
	hashConfig := c.GetHashConfig()
	performanceConfig := c.GetPerformanceConfig()

	bufferSize, err := ParseHumanSize(performanceConfig.HashBuffer)
	if err != nil {
		return Options{}, fmt.Errorf("invalid performance.hash_buffer: %w", err)
	}
	if err := ValidateHashWorkers(performanceConfig.HashWorkers); err != nil {
		return Options{}, err
	}

	return Options{
		Ignore:        hashConfig.Ignore,
		IncludeHidden: hashConfig.IncludeHidden,
		CacheDir:      c.GetCacheConfig().Dir,
		Workers:       performanceConfig.HashWorkers,
		BufferSize:    bufferSize,
	}, nil
}

// ChangeDetectorOptions converts the configuration into change detector options
func (c *Config) ChangeDetectorOptions() (ChangeDetectorOptions, error) {
	options, err := c.HashOptions()
	if err != nil {
		return ChangeDetectorOptions{}, err
	}
	return ChangeDetectorOptions{
		Options:    options,
		MarkerFile: c.GetMarkerConfig().File,
	}, nil
}

// SetIgnore sets the ignored entry names
func (c *Config) SetIgnore(names []string) {
	c.ini.Section("hash").Key("ignore").SetValue(strings.Join(names, ","))
}

// SetIncludeHidden sets whether dot-named entries are hashed
func (c *Config) SetIncludeHidden(includeHidden bool) {
	c.ini.Section("hash").Key("include_hidden").SetValue(fmt.Sprintf("%t", includeHidden))
}

// SetCacheDir sets the persistent cache directory
func (c *Config) SetCacheDir(dir string) {
	c.ini.Section("cache").Key("dir").SetValue(dir)
}

// SetMarkerFile sets the marker file name
func (c *Config) SetMarkerFile(file string) {
	c.ini.Section("marker").Key("file").SetValue(file)
}

// SetOutputFormat sets the default output format
func (c *Config) SetOutputFormat(format string) {
	c.ini.Section("output").Key("format").SetValue(format)
}

// SetVerboseLevel sets the default verbose level
func (c *Config) SetVerboseLevel(level int) {
	c.ini.Section("verbose").Key("level").SetValue(fmt.Sprintf("%d", level))
}

// SetDebugFlags sets the default debug flags
func (c *Config) SetDebugFlags(debug string) {
	c.ini.Section("verbose").Key("debug").SetValue(debug)
}

// SetHashWorkers sets the number of concurrent file hashes
func (c *Config) SetHashWorkers(workers int) {
	c.ini.Section("performance").Key("hash_workers").SetValue(fmt.Sprintf("%d", workers))
}

// WriteTo writes the configuration in ini format
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	return c.ini.WriteTo(w)
}

// Save writes the configuration to its path atomically
func (c *Config) Save() error {
	if c.configPath == "" {
		return fmt.Errorf("config has no path to save to")
	}

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return AtomicWrite(c.configPath, buf.String())
}

// Exists reports whether the config file is present on disk
func (c *Config) Exists() bool {
	if c.configPath == "" {
		return false
	}
	_, err := os.Stat(c.configPath)
	return err == nil
}

// ApplyOverrides applies command-line overrides to the configuration
// Accepts strings like "ignore:node_modules,dist", "dir:/tmp/cache", "level:2"
func (c *Config) ApplyOverrides(overrides []string) error {
	for _, override := range overrides {
		parts := strings.SplitN(override, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid override format '%s', expected 'key:value'", override)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "ignore":
			c.ini.Section("hash").Key("ignore").SetValue(value)
		case "include_hidden":
			c.ini.Section("hash").Key("include_hidden").SetValue(value)
		case "dir":
			c.ini.Section("cache").Key("dir").SetValue(value)
		case "marker":
			c.ini.Section("marker").Key("file").SetValue(value)
		case "format":
			if err := ValidateOutputFormat(value); err != nil {
				return err
			}
			c.ini.Section("output").Key("format").SetValue(value)
		case "level":
			c.ini.Section("verbose").Key("level").SetValue(value)
		case "debug":
			c.ini.Section("verbose").Key("debug").SetValue(value)
		case "hash_workers":
			c.ini.Section("performance").Key("hash_workers").SetValue(value)
		case "hash_buffer":
			c.ini.Section("performance").Key("hash_buffer").SetValue(value)
		case "debounce":
			c.ini.Section("watch").Key("debounce").SetValue(value)
		default:
			return fmt.Errorf("unsupported override key '%s' (supported: ignore, include_hidden, dir, marker, format, level, debug, hash_workers, hash_buffer, debounce)", key)
		}
	}

	return nil
}

// ValidateOutputFormat validates that an output format is supported
func ValidateOutputFormat(format string) error {
	switch strings.ToLower(format) {
	case "human", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unsupported output format: %s (supported: human, json, yaml)", format)
	}
}

// ValidateVerboseLevel validates that a verbose level is valid
func ValidateVerboseLevel(level int) error {
	if level < 0 || level > 3 {
		return fmt.Errorf("invalid verbose level: %d (supported: 0-3)", level)
	}
	return nil
}

// ValidateMarkerFile validates that a marker file name is a bare name
func ValidateMarkerFile(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsRune(name, os.PathSeparator) {
		return fmt.Errorf("invalid marker file name: %q (must be a plain file name)", name)
	}
	return nil
}

// ValidateHashWorkers validates that the hash worker count is reasonable
func ValidateHashWorkers(workers int) error {
	if workers < 1 {
		return fmt.Errorf("hash workers must be at least 1, got: %d", workers)
	}
	if workers > 64 {
		return fmt.Errorf("hash workers should not exceed 64, got: %d", workers)
	}
	return nil
}
