// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import "github.com/temporal-hpc/powermon/internal/cpuid"

// Intel RAPL register offsets.
const (
	// MSRRaplPowerUnit holds the fixed-point scaling factors for power,
	// energy and time values of every other RAPL register.
	MSRRaplPowerUnit = 0x606

	// MSRPkgPowerInfo holds the static package power parameters
	// (thermal spec, min, max, time window).
	MSRPkgPowerInfo = 0x614

	// Energy status counters, 32-bit monotonic with wraparound.
	MSRPkgEnergyStatus  = 0x611 // whole package
	MSRPP0EnergyStatus  = 0x639 // power plane 0: processor cores
	MSRPP1EnergyStatus  = 0x641 // power plane 1: graphics/uncore
	MSRDramEnergyStatus = 0x619 // memory controller
)

// AMD RAPL register offsets. AMD exposes only unit, core and package
// registers through this interface; there is no PP1 or DRAM counter.
const (
	AMDMSRPowerUnit     = 0xC0010299
	AMDMSRCoreEnergy    = 0xC001029A
	AMDMSRPackageEnergy = 0xC001029B
)

// RegisterReader is the per-socket register access a Meter samples from.
// *msr.Device satisfies it; tests substitute fakes.
type RegisterReader interface {
	// CPU returns the logical core id the handle addresses.
	CPU() int

	// Read returns the 64-bit register value at the given offset.
	Read(offset uint32) (uint64, error)

	// Close releases the handle.
	Close() error
}

func powerUnitRegister(vendor cpuid.Vendor) uint32 {
	if vendor == cpuid.AMD {
		return AMDMSRPowerUnit
	}
	return MSRRaplPowerUnit
}
