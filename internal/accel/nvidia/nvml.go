// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvidia measures accelerator power through the NVML telemetry
// library. The library calls stay behind the Backend interface so the meter
// can be exercised without a GPU.
package nvidia

import (
	"fmt"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/temporal-hpc/powermon/internal/rapl"
)

// Backend is the NVML surface the power meter needs.
type Backend interface {
	Init() error
	Shutdown() error
	Devices() ([]Device, error)
}

// Device is one accelerator exposed by the backend.
type Device interface {
	Name() string
	PowerUsage() (rapl.Power, error)
}

// nvmlBackend is the real NVML implementation of Backend.
type nvmlBackend struct{}

// NewBackend returns the NVML-backed Backend.
func NewBackend() Backend {
	return &nvmlBackend{}
}

func (b *nvmlBackend) Init() error {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return fmt.Errorf("initializing NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

func (b *nvmlBackend) Shutdown() error {
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("shutting down NVML: %s", nvml.ErrorString(ret))
	}
	return nil
}

func (b *nvmlBackend) Devices() ([]Device, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("counting NVML devices: %s", nvml.ErrorString(ret))
	}

	devices := make([]Device, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("getting NVML device %d: %s", i, nvml.ErrorString(ret))
		}
		devices = append(devices, &nvmlDevice{index: i, dev: dev})
	}
	return devices, nil
}

type nvmlDevice struct {
	index int
	dev   nvml.Device
}

func (d *nvmlDevice) Name() string {
	name, ret := d.dev.GetName()
	if ret != nvml.SUCCESS {
		return fmt.Sprintf("gpu-%d", d.index)
	}
	return name
}

func (d *nvmlDevice) PowerUsage() (rapl.Power, error) {
	milliWatts, ret := d.dev.GetPowerUsage()
	if ret != nvml.SUCCESS {
		return 0, fmt.Errorf("reading power of device %d: %s", d.index, nvml.ErrorString(ret))
	}
	return rapl.Power(milliWatts) * rapl.MilliWatt, nil
}
