// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package msr opens per-core model-specific-register device files and
// performs positioned 64-bit reads from them. Failures are classified into
// the termination codes a supervising process relies on; the classification
// lives here, terminating the process does not.
package msr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultDevicePath is the conventional MSR device path template, keyed by
// logical core id.
const DefaultDevicePath = "/dev/cpu/%d/msr"

// Termination codes for setup and read failures. A supervisor distinguishes
// failure classes by these values, so they are part of the public contract.
const (
	ExitNoCPU       = 2   // the addressed CPU does not exist
	ExitUnsupported = 3   // the CPU has no MSR interface
	ExitIOFailure   = 127 // any other I/O failure, including short reads
)

var (
	ErrNoCPU       = errors.New("no such CPU")
	ErrUnsupported = errors.New("CPU does not support MSRs")
)

// Device is a read-only handle to one core's MSR device. The core belongs
// to a socket whose package-wide counters every core handle reads, so one
// Device per socket is enough.
type Device struct {
	cpu  int
	path string
	file *os.File
}

// Open opens the MSR device of the given logical core read-only.
// pathTemplate must contain a single %d verb for the core id.
func Open(cpuID int, pathTemplate string) (*Device, error) {
	path := fmt.Sprintf(pathTemplate, cpuID)
	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENXIO), errors.Is(err, unix.ENODEV):
			return nil, fmt.Errorf("%w: cpu %d (%s)", ErrNoCPU, cpuID, path)
		case errors.Is(err, unix.EIO):
			return nil, fmt.Errorf("%w: cpu %d (%s)", ErrUnsupported, cpuID, path)
		default:
			return nil, fmt.Errorf("opening MSR device %s: %w", path, err)
		}
	}

	return &Device{cpu: cpuID, path: path, file: file}, nil
}

// CPU returns the logical core id this device addresses.
func (d *Device) CPU() int {
	return d.cpu
}

// Path returns the device file path.
func (d *Device) Path() string {
	return d.path
}

// Read performs a positioned 8-byte read at the given register offset and
// returns the register value. A short read is an error: registers are read
// whole or not at all.
func (d *Device) Read(offset uint32) (uint64, error) {
	var buf [8]byte
	if _, err := d.file.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, fmt.Errorf("reading MSR 0x%x on cpu %d: %w", offset, d.cpu, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close releases the device handle.
func (d *Device) Close() error {
	return d.file.Close()
}

// ExitCode maps an error from this package to the process termination code
// contract. A nil error maps to 0.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNoCPU):
		return ExitNoCPU
	case errors.Is(err, ErrUnsupported):
		return ExitUnsupported
	default:
		return ExitIOFailure
	}
}
