// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"fmt"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/temporal-hpc/powermon/internal/rapl"
)

// PowerMeter integrates the instantaneous power of all accelerators into
// cumulative energy, one rectangle per sample interval. Like the RAPL
// meter it carries no internal synchronization: the poller serializes
// Sample calls, and queries belong outside an open measurement window.
type PowerMeter struct {
	logger  *slog.Logger
	clock   clock.PassiveClock
	backend Backend

	devices []Device

	lastPower   rapl.Power
	lastAt      time.Time
	since       time.Time
	totalMicroJ float64
}

type Opts struct {
	logger  *slog.Logger
	clock   clock.PassiveClock
	backend Backend
}

// DefaultOpts returns a new Opts with defaults set.
func DefaultOpts() Opts {
	return Opts{
		logger:  slog.Default(),
		clock:   clock.RealClock{},
		backend: NewBackend(),
	}
}

// OptionFn is a function that sets one or more options in Opts.
type OptionFn func(*Opts)

// WithLogger sets the logger for the PowerMeter.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock used for energy integration.
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithBackend substitutes the NVML backend (for testing).
func WithBackend(b Backend) OptionFn {
	return func(o *Opts) {
		o.backend = b
	}
}

// NewPowerMeter creates an accelerator power meter.
func NewPowerMeter(applyOpts ...OptionFn) *PowerMeter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &PowerMeter{
		logger:  opts.logger.With("service", "nvidia"),
		clock:   opts.clock,
		backend: opts.backend,
	}
}

// Name identifies the meter.
func (m *PowerMeter) Name() string {
	return "nvml"
}

// Init initializes the telemetry library and enumerates devices. It fails
// when no accelerator is present.
func (m *PowerMeter) Init() error {
	if err := m.backend.Init(); err != nil {
		return err
	}

	devices, err := m.backend.Devices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return fmt.Errorf("no accelerator devices found")
	}
	m.devices = devices

	for i, dev := range devices {
		m.logger.Info("Accelerator device found", "index", i, "name", dev.Name())
	}

	m.ResetCounters()
	return nil
}

// ResetCounters clears the accumulated energy and restarts the window.
func (m *PowerMeter) ResetCounters() {
	m.lastPower = 0
	m.lastAt = time.Time{}
	m.since = time.Time{}
	m.totalMicroJ = 0
}

// Sample reads the current power draw of every device and folds it into
// the cumulative energy as power times the elapsed interval.
func (m *PowerMeter) Sample() error {
	var microWatts float64
	for _, dev := range m.devices {
		p, err := dev.PowerUsage()
		if err != nil {
			return err
		}
		microWatts += p.MicroWatts()
	}

	now := m.clock.Now()
	if m.since.IsZero() {
		m.since = now
	}
	if !m.lastAt.IsZero() {
		m.totalMicroJ += microWatts * now.Sub(m.lastAt).Seconds()
	}
	m.lastPower = rapl.Power(microWatts)
	m.lastAt = now
	return nil
}

// CurrentPower returns the power draw observed by the latest sample,
// summed over all devices.
func (m *PowerMeter) CurrentPower() rapl.Power {
	return m.lastPower
}

// TotalEnergy returns the energy accumulated since the first sample after
// the last reset.
func (m *PowerMeter) TotalEnergy() rapl.Energy {
	return rapl.Energy(m.totalMicroJ)
}

// AveragePower returns total energy over the sampled window, or zero for
// an empty window.
func (m *PowerMeter) AveragePower() rapl.Power {
	elapsed := m.lastAt.Sub(m.since).Seconds()
	if elapsed == 0 {
		return 0
	}
	return rapl.Power(m.totalMicroJ / elapsed)
}

// DeviceCount returns the number of enumerated accelerators.
func (m *PowerMeter) DeviceCount() int {
	return len(m.devices)
}

// Shutdown releases the telemetry library.
func (m *PowerMeter) Shutdown() error {
	return m.backend.Shutdown()
}
