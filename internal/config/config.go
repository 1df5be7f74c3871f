// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
	"k8s.io/utils/ptr"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Host points the meter at the kernel interfaces it reads. Both paths
	// are overridable so tests and containers can supply fake trees.
	Host struct {
		SysFS   string `yaml:"sysfs"`
		MSRPath string `yaml:"msrPath"`
	}

	Monitor struct {
		// Interval of sampling the energy counters; 0 disables the
		// background refresh and samples only on demand
		Interval time.Duration `yaml:"interval"`

		// Staleness is how long a computed snapshot is served before a
		// fresh sample is taken
		Staleness time.Duration `yaml:"staleness"`
	}

	StdoutExporter struct {
		Enabled  *bool         `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"`
	}

	Exporter struct {
		Stdout StdoutExporter `yaml:"stdout"`
	}

	Accelerator struct {
		Enabled      *bool         `yaml:"enabled"`
		PollInterval time.Duration `yaml:"pollInterval"`
	}

	Config struct {
		Log         Log         `yaml:"log"`
		Host        Host        `yaml:"host"`
		Monitor     Monitor     `yaml:"monitor"`
		Exporter    Exporter    `yaml:"exporter"`
		Accelerator Accelerator `yaml:"accelerator"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	HostSysFSFlag   = "host.sysfs"
	HostMSRPathFlag = "host.msr-path"

	MonitorIntervalFlag  = "monitor.interval"
	MonitorStalenessFlag = "monitor.staleness"

	StdoutIntervalFlag = "exporter.stdout.interval"

	AcceleratorEnabledFlag  = "accelerator.enabled"
	AcceleratorIntervalFlag = "accelerator.poll-interval"
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Host: Host{
			SysFS:   "/sys",
			MSRPath: "/dev/cpu/%d/msr",
		},
		Monitor: Monitor{
			Interval:  5 * time.Second,
			Staleness: 500 * time.Millisecond,
		},
		Exporter: Exporter{
			Stdout: StdoutExporter{
				Enabled:  ptr.To(true),
				Interval: 5 * time.Second,
			},
		},
		Accelerator: Accelerator{
			Enabled:      ptr.To(false),
			PollInterval: 100 * time.Millisecond,
		},
	}

	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// Host interfaces
	hostSysFS := app.Flag(HostSysFSFlag, "Path to sysfs filesystem").Default("/sys").ExistingDir()
	hostMSRPath := app.Flag(HostMSRPathFlag, "Per-CPU MSR device path template").Default("/dev/cpu/%d/msr").String()

	// Monitor
	monitorInterval := app.Flag(MonitorIntervalFlag, "Interval for sampling energy counters").Default("5s").Duration()
	monitorStaleness := app.Flag(MonitorStalenessFlag, "Duration after which a computed snapshot is considered stale").Default("500ms").Duration()

	// Exporters
	stdoutInterval := app.Flag(StdoutIntervalFlag, "Interval for stdout reporting").Default("5s").Duration()

	// Accelerator
	acceleratorEnabled := app.Flag(AcceleratorEnabledFlag, "Enable the NVML GPU power poller").Default("false").Bool()
	acceleratorInterval := app.Flag(AcceleratorIntervalFlag, "Interval for GPU power polling").Default("100ms").Duration()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[HostSysFSFlag] {
			cfg.Host.SysFS = *hostSysFS
		}

		if flagsSet[HostMSRPathFlag] {
			cfg.Host.MSRPath = *hostMSRPath
		}

		if flagsSet[MonitorIntervalFlag] {
			cfg.Monitor.Interval = *monitorInterval
		}

		if flagsSet[MonitorStalenessFlag] {
			cfg.Monitor.Staleness = *monitorStaleness
		}

		if flagsSet[StdoutIntervalFlag] {
			cfg.Exporter.Stdout.Interval = *stdoutInterval
		}

		if flagsSet[AcceleratorEnabledFlag] {
			cfg.Accelerator.Enabled = acceleratorEnabled
		}

		if flagsSet[AcceleratorIntervalFlag] {
			cfg.Accelerator.PollInterval = *acceleratorInterval
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Host.SysFS = strings.TrimSpace(c.Host.SysFS)
	c.Host.MSRPath = strings.TrimSpace(c.Host.MSRPath)
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level
		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // host paths
		if c.Host.SysFS == "" {
			errs = append(errs, "host sysfs path must not be empty")
		}
		if !strings.Contains(c.Host.MSRPath, "%d") {
			errs = append(errs, fmt.Sprintf("msr path template must contain %%d: %s", c.Host.MSRPath))
		}
	}
	{ // intervals
		if c.Monitor.Interval < 0 {
			errs = append(errs, fmt.Sprintf("monitor interval must not be negative: %s", c.Monitor.Interval))
		}
		if c.Monitor.Staleness < 0 {
			errs = append(errs, fmt.Sprintf("monitor staleness must not be negative: %s", c.Monitor.Staleness))
		}
		if c.Exporter.Stdout.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("stdout exporter interval must be positive: %s", c.Exporter.Stdout.Interval))
		}
		if c.Accelerator.PollInterval <= 0 {
			errs = append(errs, fmt.Sprintf("accelerator poll interval must be positive: %s", c.Accelerator.PollInterval))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE: this code path should not happen but if yaml marshal fails for
	// some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{HostSysFSFlag, c.Host.SysFS},
		{HostMSRPathFlag, c.Host.MSRPath},
		{MonitorIntervalFlag, c.Monitor.Interval.String()},
		{MonitorStalenessFlag, c.Monitor.Staleness.String()},
		{StdoutIntervalFlag, c.Exporter.Stdout.Interval.String()},
		{AcceleratorIntervalFlag, c.Accelerator.PollInterval.String()},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
