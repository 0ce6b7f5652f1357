// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. HCISNOOP_LOG_LEVEL.
const EnvPrefix = "HCISNOOP"

// Defaults carried over from the on-target snoop tooling.
const (
	DefaultDevice = "/dev/ttyBT0"
	DefaultOutput = "snoop_circlebuffer_default.log"
)

// Config is the top-level configuration.
type Config struct {
	Log     LogConfig      `mapstructure:"log"`
	Device  string         `mapstructure:"device"`
	Source  SourceConfig   `mapstructure:"source"`
	Layout  LayoutConfig   `mapstructure:"layout"`
	Buffers []BufferConfig `mapstructure:"buffers"`
	Output  OutputConfig   `mapstructure:"output"`
}

// LogConfig controls diagnostic logging. Status lines are not affected.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"` // text | json
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables a rotating log file next to stderr output.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SourceConfig selects where target memory is read from.
// Exactly one of Image or PID should be set.
type SourceConfig struct {
	Image string `mapstructure:"image"` // raw memory dump
	Base  uint64 `mapstructure:"base"`  // address of the first byte of Image
	PID   int    `mapstructure:"pid"`   // live process (linux only)
}

// LayoutConfig describes the target's circbuf control block.
type LayoutConfig struct {
	PointerSize int    `mapstructure:"pointer_size"`
	ByteOrder   string `mapstructure:"byte_order"`
}

// BufferConfig names one ring buffer. Either Address points at its control
// block in target memory, or Capacity and friends describe it directly.
type BufferConfig struct {
	Name     string `mapstructure:"name"`
	Address  uint64 `mapstructure:"address"`
	Base     uint64 `mapstructure:"base"`
	Capacity uint64 `mapstructure:"capacity"`
	Head     uint64 `mapstructure:"head"`
	Tail     uint64 `mapstructure:"tail"`
}

// Static reports whether the buffer is described without a control block address.
func (b BufferConfig) Static() bool {
	return b.Address == 0
}

// OutputConfig controls what extract writes.
type OutputConfig struct {
	Path   string `mapstructure:"path"`
	Format string `mapstructure:"format"`
	Index  bool   `mapstructure:"index"`
	Filter string `mapstructure:"filter"`
	Stats  bool   `mapstructure:"stats"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
			File: LogFileConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Device: DefaultDevice,
		Layout: LayoutConfig{
			PointerSize: 4,
			ByteOrder:   "little",
		},
		Output: OutputConfig{
			Path:   DefaultOutput,
			Format: "btsnoop",
		},
	}
}

// SetDefaults registers Default() with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("device", d.Device)

	v.SetDefault("source.image", d.Source.Image)
	v.SetDefault("source.base", d.Source.Base)
	v.SetDefault("source.pid", d.Source.PID)

	v.SetDefault("layout.pointer_size", d.Layout.PointerSize)
	v.SetDefault("layout.byte_order", d.Layout.ByteOrder)

	v.SetDefault("output.path", d.Output.Path)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.index", d.Output.Index)
	v.SetDefault("output.filter", d.Output.Filter)
	v.SetDefault("output.stats", d.Output.Stats)
}

// Dir returns the directory searched for config.yaml.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hcisnoop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hcisnoop")
}

// Load reads configuration into v and decodes it. When cfgFile is empty the
// default location is tried and a missing file is not an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir := Dir(); dir != "" {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
