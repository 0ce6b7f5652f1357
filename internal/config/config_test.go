package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, DefaultDevice, cfg.Device)
	assert.Equal(t, DefaultOutput, cfg.Output.Path)
	assert.Equal(t, "btsnoop", cfg.Output.Format)
	assert.Equal(t, 4, cfg.Layout.PointerSize)
	assert.Empty(t, cfg.Validate())
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hcisnoop.yaml")
	data := `
log:
  level: debug
  format: json
source:
  image: ram.bin
  base: "0x20000000"
layout:
  pointer_size: 8
  byte_order: big
buffers:
  - name: /dev/ttyBT0
    address: "0x20001000"
  - name: dump
    base: 4096
    capacity: 256
    head: 300
    tail: 100
output:
  path: out.log
  format: pcapng
  index: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "ram.bin", cfg.Source.Image)
	assert.Equal(t, uint64(0x20000000), cfg.Source.Base)
	assert.Equal(t, 8, cfg.Layout.PointerSize)
	assert.Equal(t, "big", cfg.Layout.ByteOrder)
	require.Len(t, cfg.Buffers, 2)
	assert.Equal(t, BufferConfig{Name: "/dev/ttyBT0", Address: 0x20001000}, cfg.Buffers[0])
	assert.False(t, cfg.Buffers[0].Static())
	assert.Equal(t, BufferConfig{Name: "dump", Base: 4096, Capacity: 256, Head: 300, Tail: 100}, cfg.Buffers[1])
	assert.True(t, cfg.Buffers[1].Static())
	assert.Equal(t, "out.log", cfg.Output.Path)
	assert.Equal(t, "pcapng", cfg.Output.Format)
	assert.True(t, cfg.Output.Index)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultDevice, cfg.Device)
	assert.Empty(t, cfg.Validate())
}

func TestLoadDefaultLocation(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "hcisnoop"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hcisnoop", "config.yaml"), []byte("device: /dev/ttyBT1\n"), 0644))

	assert.Equal(t, filepath.Join(dir, "hcisnoop"), Dir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyBT1", cfg.Device)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HCISNOOP_LOG_LEVEL", "debug")
	t.Setenv("HCISNOOP_OUTPUT_FORMAT", "pcap")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "pcap", cfg.Output.Format)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, []string{"log.level"}},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, []string{"log.format"}},
		{"negative rotation", func(c *Config) { c.Log.File.MaxSizeMB = -1 }, []string{"log.file.max_size_mb"}},
		{"image and pid", func(c *Config) { c.Source.Image = "a.bin"; c.Source.PID = 10 }, []string{"source"}},
		{"pointer size", func(c *Config) { c.Layout.PointerSize = 2 }, []string{"layout.pointer_size"}},
		{"byte order", func(c *Config) { c.Layout.ByteOrder = "middle" }, []string{"layout.byte_order"}},
		{"unnamed buffer", func(c *Config) { c.Buffers = []BufferConfig{{Address: 1}} }, []string{"buffers[0].name"}},
		{"duplicate buffer", func(c *Config) {
			c.Buffers = []BufferConfig{{Name: "a", Address: 1}, {Name: "a", Capacity: 8}}
		}, []string{"buffers[1].name"}},
		{"address and static", func(c *Config) {
			c.Buffers = []BufferConfig{{Name: "a", Address: 1, Capacity: 8}}
		}, []string{"buffers[0]"}},
		{"output", func(c *Config) { c.Output.Path = ""; c.Output.Format = "txt" }, []string{"output.path", "output.format"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			errs := cfg.Validate()
			var fields []string
			for _, e := range errs {
				fields = append(fields, e.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestValidationErrorsError(t *testing.T) {
	assert.Equal(t, "", ValidationErrors{}.Error())

	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	assert.Equal(t, "a: bad (got: 1)", one.Error())

	two := append(one, ValidationError{Field: "b", Value: "x", Message: "worse"})
	assert.Contains(t, two.Error(), "2 validation errors:")
	assert.Contains(t, two.Error(), "2. b: worse (got: x)")
}
