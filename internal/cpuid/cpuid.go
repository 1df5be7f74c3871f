// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package cpuid identifies the CPU vendor and the RAPL capabilities that
// depend on the exact processor model. All CPUID plumbing stays behind
// Detect(); callers only ever see the decoded CPUInfo value.
package cpuid

import (
	"fmt"

	cpuidv2 "github.com/klauspost/cpuid/v2"
)

// Vendor is the CPU vendor as far as RAPL is concerned. Everything that is
// not AMD takes the Intel register layout.
type Vendor int

const (
	Intel Vendor = iota
	AMD
)

// amdVendorString is the exact 12-byte CPUID leaf-0 vendor identification
// string; any other value, truncated or padded, selects the Intel layout.
const amdVendorString = "AuthenticAMD"

func (v Vendor) String() string {
	switch v {
	case AMD:
		return "amd"
	case Intel:
		return "intel"
	default:
		return fmt.Sprintf("vendor(%d)", int(v))
	}
}

// CPUInfo is the decoded result of the hardware identification queries.
// It is determined once and immutable for the process lifetime.
type CPUInfo struct {
	Vendor       Vendor
	VendorString string

	// Display family and model, i.e. base plus extended fields of the
	// leaf-1 signature already combined.
	Family int
	Model  int
}

// Detect queries the processor once and returns the decoded identification.
// It cannot fail: CPUID is available on every supported platform.
func Detect() CPUInfo {
	return newCPUInfo(cpuidv2.CPU.VendorString, cpuidv2.CPU.Family, cpuidv2.CPU.Model)
}

func newCPUInfo(vendorString string, family, model int) CPUInfo {
	return CPUInfo{
		Vendor:       vendorOf(vendorString),
		VendorString: vendorString,
		Family:       family,
		Model:        model,
	}
}

func vendorOf(vendorString string) Vendor {
	if vendorString == amdVendorString {
		return AMD
	}
	return Intel
}

// signature identifies a processor generation by display family and model.
type signature struct {
	family int
	model  int
}

// uncoreUnsupported lists server/workstation parts whose packages carry no
// PP1 (graphics/uncore plane) energy counter. Static table: extend by adding
// entries, never by inference.
var uncoreUnsupported = map[signature]string{
	{6, 0x2d}: "sandy bridge-e",
	{6, 0x3f}: "haswell-e",
	{6, 0x4f}: "broadwell-e",
}

// SupportsUncore reports whether the PP1 (graphics/uncore) RAPL domain is
// present. AMD exposes no PP1 MSR at all; on Intel the domain is missing on
// the models listed in uncoreUnsupported.
func (c CPUInfo) SupportsUncore() bool {
	if c.Vendor == AMD {
		return false
	}
	_, excluded := uncoreUnsupported[signature{c.Family, c.Model}]
	return !excluded
}
