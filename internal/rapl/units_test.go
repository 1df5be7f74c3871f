// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temporal-hpc/powermon/internal/cpuid"
)

func TestDecodeUnits(t *testing.T) {
	// power 0b0011, energy 0b01110, time 0b1010
	raw := uint64(0x3 | 0xE<<8 | 0xA<<16)

	u := decodeUnits(raw)
	assert.Equal(t, math.Pow(2, -3), u.Power)
	assert.Equal(t, math.Pow(2, -14), u.Energy)
	assert.Equal(t, math.Pow(2, -10), u.Time)
}

func TestDecodeUnitsBounds(t *testing.T) {
	// Every decodable factor is 2^-n, so each lies in (0, 1].
	for _, raw := range []uint64{0, 0xf | 0x1f<<8 | 0xf<<16, 0xa0e03, ^uint64(0)} {
		u := decodeUnits(raw)
		for _, f := range []float64{u.Power, u.Energy, u.Time} {
			assert.Greater(t, f, 0.0)
			assert.LessOrEqual(t, f, 1.0)
		}
	}
}

func TestDecodePowerInfo(t *testing.T) {
	u := Units{Power: 0.125, Time: 1.0 / 1024}

	// thermal spec 0x118 (35W at 1/8W units), min 0x60, max 0x200, window 0x10
	raw := uint64(0x118) | uint64(0x60)<<16 | uint64(0x200)<<32 | uint64(0x10)<<48

	info := decodePowerInfo(raw, u)
	assert.InDelta(t, 35.0, info.ThermalSpecPower, 1e-9)
	assert.InDelta(t, 12.0, info.MinPower, 1e-9)
	assert.InDelta(t, 64.0, info.MaxPower, 1e-9)
	assert.InDelta(t, 16.0/1024, info.TimeWindow, 1e-9)
}

func TestReadPowerInfoAMDIsZero(t *testing.T) {
	// AMD has no package power info register; all fields stay zero and the
	// register is never read.
	dev := &fakeDevice{cpu: 0, values: map[uint32][]uint64{}}

	info, err := readPowerInfo(dev, cpuid.AMD, Units{Power: 0.125})
	require.NoError(t, err)
	assert.Equal(t, PowerInfo{}, info)
}
