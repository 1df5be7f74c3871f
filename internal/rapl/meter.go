// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package rapl samples the RAPL energy counters of every CPU socket and
// turns the raw 32-bit monotonic values into instantaneous power and
// cumulative energy figures. The Meter is single-threaded by design:
// callers serialize Sample, Reset and all queries against one another.
package rapl

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"k8s.io/utils/clock"

	"github.com/temporal-hpc/powermon/internal/cpuid"
	"github.com/temporal-hpc/powermon/internal/msr"
	"github.com/temporal-hpc/powermon/internal/topology"
)

// Domain is one separately metered energy plane of a package.
type Domain string

const (
	DomainPackage Domain = "package"
	DomainCore    Domain = "core"   // PP0, processor cores
	DomainUncore  Domain = "uncore" // PP1, integrated graphics/uncore
	DomainDRAM    Domain = "dram"
)

// Domains lists all planes in reporting order.
var Domains = []Domain{DomainPackage, DomainCore, DomainUncore, DomainDRAM}

// counterMask truncates raw register values to the 32 bits the energy
// status counters actually occupy.
const counterMask = math.MaxUint32

// energyDelta computes the rollover-safe difference of two successive
// 32-bit counter readings. When the counter has wrapped past its range the
// missing span up to the counter maximum is added back.
func energyDelta(before, after uint64) uint64 {
	if after >= before {
		return after - before
	}
	return after + (counterMask - before)
}

// ringSlots is the snapshot ring size: previous, current and one scratch
// slot for the in-progress sample. Allocated once, rotated by relabeling.
const ringSlots = 3

// counters is one per-socket capture of the four domain counters.
type counters struct {
	pkg    uint64
	core   uint64
	uncore uint64
	dram   uint64
	at     time.Time
}

func (c *counters) value(d Domain) uint64 {
	switch d {
	case DomainPackage:
		return c.pkg
	case DomainCore:
		return c.core
	case DomainUncore:
		return c.uncore
	case DomainDRAM:
		return c.dram
	default:
		return 0
	}
}

// totals accumulates corrected (unwrapped) counter deltas per domain since
// the last reset. Monotonically non-decreasing until Reset.
type totals struct {
	pkg    uint64
	core   uint64
	uncore uint64
	dram   uint64
	since  time.Time
}

func (t *totals) value(d Domain) uint64 {
	switch d {
	case DomainPackage:
		return t.pkg
	case DomainCore:
		return t.core
	case DomainUncore:
		return t.uncore
	case DomainDRAM:
		return t.dram
	default:
		return 0
	}
}

// socketState is the sampling state of one physical package: its register
// handle, the three-slot snapshot ring and the running totals.
type socketState struct {
	id    int
	dev   RegisterReader
	ring  [ringSlots]counters
	cur   int // index of the current slot; (cur+2)%3 is previous, (cur+1)%3 is scratch
	total totals
}

func (s *socketState) current() *counters {
	return &s.ring[s.cur]
}

func (s *socketState) previous() *counters {
	return &s.ring[(s.cur+2)%ringSlots]
}

// Meter is the rotating-state sampling engine over all discovered sockets.
type Meter struct {
	logger *slog.Logger
	clock  clock.PassiveClock

	cpu     cpuid.CPUInfo
	uncore  bool // PP1 domain present on this CPU
	units   Units
	info    PowerInfo
	sockets []*socketState
}

type Opts struct {
	logger     *slog.Logger
	clock      clock.PassiveClock
	sysfsPath  string
	devicePath string
}

// DefaultOpts returns a new Opts with defaults set.
func DefaultOpts() Opts {
	return Opts{
		logger:     slog.Default(),
		clock:      clock.RealClock{},
		sysfsPath:  "/sys",
		devicePath: msr.DefaultDevicePath,
	}
}

// OptionFn is a function that sets one or more options in Opts.
type OptionFn func(*Opts)

// WithLogger sets the logger for the Meter.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the clock used for capture timestamps.
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithSysfsPath sets the sysfs mount point used for topology discovery.
func WithSysfsPath(path string) OptionFn {
	return func(o *Opts) {
		o.sysfsPath = path
	}
}

// WithDevicePath sets the MSR device path template.
func WithDevicePath(path string) OptionFn {
	return func(o *Opts) {
		o.devicePath = path
	}
}

// NewMeter detects the CPU vendor, discovers the socket topology, opens one
// register handle per socket, calibrates the units and primes the snapshot
// rings. Any failure is returned with enough classification for the caller
// to map it to a termination code.
func NewMeter(applyOpts ...OptionFn) (*Meter, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	info := cpuid.Detect()

	topo, err := topology.Discover(opts.sysfsPath)
	if err != nil {
		return nil, fmt.Errorf("discovering socket topology: %w", err)
	}

	devs := make([]RegisterReader, 0, len(topo.Sockets))
	for _, socket := range topo.Sockets {
		dev, err := msr.Open(socket.FirstCPU, opts.devicePath)
		if err != nil {
			closeAll(devs)
			return nil, err
		}
		devs = append(devs, dev)
	}

	m, err := newMeter(info, topo.Sockets, devs, opts)
	if err != nil {
		closeAll(devs)
		return nil, err
	}
	return m, nil
}

// newMeter wires an already-opened set of register handles, one per socket
// in ascending package id order. Split from NewMeter so tests can inject
// fake readers.
func newMeter(info cpuid.CPUInfo, sockets []topology.Socket, devs []RegisterReader, opts Opts) (*Meter, error) {
	if len(sockets) == 0 || len(sockets) != len(devs) {
		return nil, fmt.Errorf("need one register handle per socket, got %d for %d sockets", len(devs), len(sockets))
	}

	m := &Meter{
		logger: opts.logger.With("service", "rapl"),
		clock:  opts.clock,
		cpu:    info,
		uncore: info.SupportsUncore(),
	}

	units, err := readUnits(devs[0], info.Vendor)
	if err != nil {
		return nil, err
	}
	m.units = units

	powerInfo, err := readPowerInfo(devs[0], info.Vendor, units)
	if err != nil {
		return nil, err
	}
	m.info = powerInfo

	m.sockets = make([]*socketState, len(sockets))
	for i, socket := range sockets {
		m.sockets[i] = &socketState{id: socket.ID, dev: devs[i]}
	}

	if err := m.Reset(); err != nil {
		return nil, err
	}

	m.logger.Info("RAPL meter initialized",
		"vendor", info.Vendor,
		"sockets", len(m.sockets),
		"uncore", m.uncore,
		"energy_unit_j", m.units.Energy,
	)
	return m, nil
}

func closeAll(devs []RegisterReader) {
	for _, dev := range devs {
		_ = dev.Close()
	}
}

// Name identifies the meter.
func (m *Meter) Name() string {
	return "rapl-msr"
}

// Vendor returns the detected CPU vendor.
func (m *Meter) Vendor() cpuid.Vendor {
	return m.cpu.Vendor
}

// Units returns the calibrated register scale factors.
func (m *Meter) Units() Units {
	return m.units
}

// PowerInfo returns the static package power parameters (zero on AMD).
func (m *Meter) PowerInfo() PowerInfo {
	return m.info
}

// SupportsUncore reports whether the PP1 (graphics/uncore) domain is
// sampled on this CPU. When it is not, the DRAM domain is sampled instead.
func (m *Meter) SupportsUncore() bool {
	return m.uncore
}

// ActiveDomains returns the domains this meter populates. AMD exposes only
// the package counter; Intel adds the core plane and one of uncore or DRAM.
func (m *Meter) ActiveDomains() []Domain {
	if m.cpu.Vendor == cpuid.AMD {
		return []Domain{DomainPackage}
	}
	if m.uncore {
		return []Domain{DomainPackage, DomainCore, DomainUncore}
	}
	return []Domain{DomainPackage, DomainCore, DomainDRAM}
}

// SocketCount returns the number of discovered packages.
func (m *Meter) SocketCount() int {
	return len(m.sockets)
}

// SocketIDs returns the package ids in sampling order.
func (m *Meter) SocketIDs() []int {
	ids := make([]int, len(m.sockets))
	for i, s := range m.sockets {
		ids[i] = s.id
	}
	return ids
}

// Sample advances every socket, in ascending package id order.
func (m *Meter) Sample() error {
	for _, s := range m.sockets {
		if err := m.sampleSocket(s); err != nil {
			return err
		}
	}
	return nil
}

// SampleSocket advances the socket with the given package id.
func (m *Meter) SampleSocket(id int) error {
	for _, s := range m.sockets {
		if s.id == id {
			return m.sampleSocket(s)
		}
	}
	return fmt.Errorf("unknown socket %d", id)
}

// sampleSocket captures the domain counters into the scratch slot, folds
// the rollover-safe deltas into the running totals and rotates the ring.
func (m *Meter) sampleSocket(s *socketState) error {
	next := (s.cur + 1) % ringSlots
	slot := &s.ring[next]

	if m.cpu.Vendor == cpuid.AMD {
		// AMD exposes only the package counter through this interface.
		pkg, err := s.dev.Read(AMDMSRPackageEnergy)
		if err != nil {
			return err
		}
		slot.pkg = pkg & counterMask
		slot.core, slot.uncore, slot.dram = 0, 0, 0
	} else {
		pkg, err := s.dev.Read(MSRPkgEnergyStatus)
		if err != nil {
			return err
		}
		core, err := s.dev.Read(MSRPP0EnergyStatus)
		if err != nil {
			return err
		}
		slot.pkg = pkg & counterMask
		slot.core = core & counterMask

		// Exactly one of uncore and dram is captured per sample; the
		// other is forced to zero.
		if m.uncore {
			uncore, err := s.dev.Read(MSRPP1EnergyStatus)
			if err != nil {
				return err
			}
			slot.uncore = uncore & counterMask
			slot.dram = 0
		} else {
			dram, err := s.dev.Read(MSRDramEnergyStatus)
			if err != nil {
				return err
			}
			slot.dram = dram & counterMask
			slot.uncore = 0
		}
	}
	slot.at = m.clock.Now()

	cur := s.current()
	s.total.pkg += energyDelta(cur.pkg, slot.pkg)
	s.total.core += energyDelta(cur.core, slot.core)
	s.total.uncore += energyDelta(cur.uncore, slot.uncore)
	s.total.dram += energyDelta(cur.dram, slot.dram)

	// Rotate by relabeling: the scratch slot becomes current, the old
	// current becomes previous, the old previous becomes scratch.
	s.cur = next
	return nil
}

// Reset clears each socket's snapshot ring and running totals, then primes
// previous and current with two real captures so that no delta is ever
// computed against uninitialized slots. Totals stay zero until the next
// Sample after Reset.
func (m *Meter) Reset() error {
	for _, s := range m.sockets {
		s.ring = [ringSlots]counters{}
		s.cur = 0
		s.total = totals{}

		if err := m.sampleSocket(s); err != nil {
			return err
		}
		if err := m.sampleSocket(s); err != nil {
			return err
		}

		s.total = totals{since: m.clock.Now()}
	}
	return nil
}

// Close releases every socket's register handle.
func (m *Meter) Close() error {
	var errs []error
	for _, s := range m.sockets {
		if err := s.dev.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
