// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/sys", cfg.Host.SysFS)
	assert.Equal(t, "/dev/cpu/%d/msr", cfg.Host.MSRPath)
	assert.Equal(t, 5*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.Staleness)
	assert.True(t, *cfg.Exporter.Stdout.Enabled)
	assert.False(t, *cfg.Accelerator.Enabled)
	assert.Equal(t, 100*time.Millisecond, cfg.Accelerator.PollInterval)
}

func TestLoadFromYAML(t *testing.T) {
	yamlData := `
log:
  level: debug
  format: json
host:
  msrPath: /tmp/fake/%d/msr
monitor:
  interval: 2s
accelerator:
  enabled: true
  pollInterval: 250ms
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/tmp/fake/%d/msr", cfg.Host.MSRPath)
	assert.Equal(t, 2*time.Second, cfg.Monitor.Interval)
	assert.True(t, *cfg.Accelerator.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Accelerator.PollInterval)
}

func TestLoadEmptyFromYAML(t *testing.T) {
	cfg, err := Load(strings.NewReader(``))
	require.NoError(t, err)

	defaultCfg := DefaultConfig()
	assert.Equal(t, defaultCfg.Log.Level, cfg.Log.Level)
	assert.Equal(t, defaultCfg.Log.Format, cfg.Log.Format)
	assert.Equal(t, defaultCfg.Host.SysFS, cfg.Host.SysFS)
	assert.Equal(t, defaultCfg.Monitor.Interval, cfg.Monitor.Interval)
}

func TestCommandLinePrecedence(t *testing.T) {
	yamlData := `
log:
  level: info
monitor:
  interval: 10s
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level, "Must read YAML file")

	app := kingpin.New("test", "Test application")
	updateConfig := RegisterFlags(app)
	assert.Equal(t, "info", cfg.Log.Level, "Must not change YAML values until updateConfig is called")

	_, err = app.Parse([]string{"--log.level=debug", "--monitor.interval=1s"})
	require.NoError(t, err)

	require.NoError(t, updateConfig(cfg))

	// command line should override YAML values, defaults stay untouched
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestPartialConfig(t *testing.T) {
	yamlData := `
log:
  level: warn
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/sys", cfg.Host.SysFS)
}

func TestWhitespaceHandling(t *testing.T) {
	yamlData := `
log:
  level: "  debug  "
  format: "  json  "
host:
  sysfs: "  /sys  "
`
	cfg, err := Load(strings.NewReader(yamlData))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "/sys", cfg.Host.SysFS)
}

func TestFromRealFile(t *testing.T) {
	yamlData := `
log:
  level: debug
`
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpfile.Name())

	_, err = tmpfile.Write([]byte(yamlData))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())

	cfg, err := FromFile(tmpfile.Name())
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestInvalidYAML(t *testing.T) {
	yamlData := `
log:
  level: FATAL
invalid yaml
`
	_, err := Load(strings.NewReader(yamlData))
	assert.Error(t, err, "Loading invalid YAML should return an error")
}

func TestInvalidFile(t *testing.T) {
	_, err := FromFile("non_existent_file.yaml")
	assert.Error(t, err, "Loading from non-existent file should return an error")
}

// ErrorReader is a mock io.Reader that always returns an error
type ErrorReader struct{}

func (r *ErrorReader) Read(p []byte) (n int, err error) {
	return 0, os.ErrInvalid
}

func TestReadError(t *testing.T) {
	_, err := Load(&ErrorReader{})
	assert.Error(t, err, "Read error should propagate")
}

func TestValidate(t *testing.T) {
	tt := []struct {
		name          string
		mutate        func(*Config)
		expectedError string
	}{
		{"invalid log level", func(c *Config) { c.Log.Level = "FATAL" }, "invalid log level"},
		{"invalid log format", func(c *Config) { c.Log.Format = "JASON" }, "invalid log format"},
		{"empty sysfs", func(c *Config) { c.Host.SysFS = "" }, "sysfs path"},
		{"msr template without %d", func(c *Config) { c.Host.MSRPath = "/dev/cpu/msr" }, "msr path template"},
		{"negative monitor interval", func(c *Config) { c.Monitor.Interval = -time.Second }, "monitor interval"},
		{"zero stdout interval", func(c *Config) { c.Exporter.Stdout.Interval = 0 }, "stdout exporter interval"},
		{"zero accelerator interval", func(c *Config) { c.Accelerator.PollInterval = 0 }, "accelerator poll interval"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedError)
		})
	}
}

func TestInvalidFlagValues(t *testing.T) {
	tt := []struct {
		name string
		args []string
	}{
		{"invalid log.level", []string{"--log.level=FATAL"}},
		{"invalid log.format", []string{"--log.format=JASON"}},
		{"unparseable interval", []string{"--monitor.interval=fast"}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			app := kingpin.New("test", "Test application")
			RegisterFlags(app)
			_, parseErr := app.Parse(tc.args)
			assert.Error(t, parseErr, "expected test args to produce a parse error")
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	s := cfg.String()
	assert.Contains(t, s, "level: info")
	assert.Contains(t, s, "msrPath: /dev/cpu/%d/msr")
}
