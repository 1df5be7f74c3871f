// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/temporal-hpc/powermon/internal/accel/nvidia"
	"github.com/temporal-hpc/powermon/internal/config"
	"github.com/temporal-hpc/powermon/internal/exporter/stdout"
	"github.com/temporal-hpc/powermon/internal/logger"
	"github.com/temporal-hpc/powermon/internal/monitor"
	"github.com/temporal-hpc/powermon/internal/msr"
	"github.com/temporal-hpc/powermon/internal/rapl"
	"github.com/temporal-hpc/powermon/internal/service"
	"github.com/temporal-hpc/powermon/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig()
	if err != nil {
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(log)
	logHostInfo(log)
	printConfigInfo(log, cfg)

	services, err := createServices(log, cfg)
	if err != nil {
		log.Error("Failed to create services", "error", err)
		// preserve the device error contract: 2 (no such cpu),
		// 3 (msr unsupported), 127 (other I/O failure)
		os.Exit(msr.ExitCode(err))
	}

	if err := service.Init(log, services); err != nil {
		log.Error("Initialization failed", "error", err)
		os.Exit(msr.ExitCode(err))
	}

	log.Info("Starting powermon")
	if err := service.Run(context.Background(), log, services); err != nil {
		log.Error("Powermon terminated with an error", "error", err)
		os.Exit(1)
	}
	log.Info("Graceful shutdown completed")
}

func logVersionInfo(log *slog.Logger) {
	v := version.Info()
	log.Info("Powermon version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

// logHostInfo logs the processor inventory once at startup so that a saved
// log identifies the measured hardware.
func logHostInfo(log *slog.Logger) {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		log.Warn("Could not read processor info", "error", err)
		return
	}

	first := infos[0]
	counts, _ := cpu.Counts(true)
	log.Info("Host processor",
		"vendor", first.VendorID,
		"model", first.ModelName,
		"family", first.Family,
		"cpus", counts,
	)
}

func waitForInterrupt() service.Service {
	return service.NewSignalHandler(os.Interrupt)
}

func parseArgsAndConfig() (*config.Config, error) {
	const appName = "powermon"
	app := kingpin.New(appName, "RAPL based CPU and GPU power monitor.")

	configFile := app.Flag("config.file", "Path to YAML configuration file").String()
	updateConfig := config.RegisterFlags(app)
	kingpin.MustParse(app.Parse(os.Args[1:]))

	log := logger.New("info", "text", os.Stderr)
	cfg := config.DefaultConfig()
	if *configFile != "" {
		log.Info("Loading configuration file", "path", *configFile)
		loadedCfg, err := config.FromFile(*configFile)
		if err != nil {
			log.Error("Error loading config file", "error", err.Error())
			return nil, err
		}
		// Replace default config with loaded config
		cfg = loadedCfg
		log.Info("Completed loading of configuration file", "path", *configFile)
	}

	// Apply command line flags (these override config file settings)
	if err := updateConfig(cfg); err != nil {
		log.Error("Error applying command line flags", "error", err.Error())
		return nil, err
	}

	return cfg, nil
}

func printConfigInfo(log *slog.Logger, cfg *config.Config) {
	if !log.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Printf(`
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(log *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	log.Debug("Creating all services")

	meter, err := rapl.NewMeter(
		rapl.WithLogger(log),
		rapl.WithSysfsPath(cfg.Host.SysFS),
		rapl.WithDevicePath(cfg.Host.MSRPath),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create RAPL meter: %w", err)
	}

	pm := monitor.NewPowerMonitor(
		meter,
		monitor.WithLogger(log),
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithMaxStaleness(cfg.Monitor.Staleness),
	)

	services := []service.Service{
		pm,
		waitForInterrupt(),
	}

	if cfg.Exporter.Stdout.Enabled == nil || *cfg.Exporter.Stdout.Enabled {
		services = append(services, stdout.NewExporter(
			pm,
			stdout.WithLogger(log),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	if cfg.Accelerator.Enabled != nil && *cfg.Accelerator.Enabled {
		gpuMeter := nvidia.NewPowerMeter(nvidia.WithLogger(log))
		services = append(services, nvidia.NewService(gpuMeter, log, cfg.Accelerator.PollInterval))
	}

	return services, nil
}
