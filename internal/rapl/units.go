// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import (
	"fmt"
	"math"

	"github.com/temporal-hpc/powermon/internal/cpuid"
)

// Units are the fixed-point scale factors of the RAPL registers, decoded
// once from the vendor's power unit register. Each factor is 2^-n for a
// small n, so each lies in (0, 1].
type Units struct {
	Power  float64 // watts per power LSB
	Energy float64 // joules per energy LSB
	Time   float64 // seconds per time LSB
}

// decodeUnits extracts the three 2^-n scale factors from the raw power unit
// register value: power from bits [3:0], energy from bits [12:8], time from
// bits [19:16]. The field layout is shared by the Intel and AMD registers.
func decodeUnits(raw uint64) Units {
	return Units{
		Power:  math.Pow(0.5, float64(raw&0xf)),
		Energy: math.Pow(0.5, float64((raw>>8)&0x1f)),
		Time:   math.Pow(0.5, float64((raw>>16)&0xf)),
	}
}

func readUnits(dev RegisterReader, vendor cpuid.Vendor) (Units, error) {
	raw, err := dev.Read(powerUnitRegister(vendor))
	if err != nil {
		return Units{}, fmt.Errorf("reading power unit register: %w", err)
	}
	return decodeUnits(raw), nil
}

// PowerInfo carries the static package power parameters, already scaled to
// watts and seconds. Informational only. AMD exposes no such register, so
// on AMD all fields are zero.
type PowerInfo struct {
	ThermalSpecPower float64
	MinPower         float64
	MaxPower         float64
	TimeWindow       float64
}

// decodePowerInfo scales the four 15-bit sub-fields of the package power
// info register by the unit factors.
func decodePowerInfo(raw uint64, u Units) PowerInfo {
	return PowerInfo{
		ThermalSpecPower: u.Power * float64(raw&0x7fff),
		MinPower:         u.Power * float64((raw>>16)&0x7fff),
		MaxPower:         u.Power * float64((raw>>32)&0x7fff),
		TimeWindow:       u.Time * float64((raw>>48)&0x7fff),
	}
}

func readPowerInfo(dev RegisterReader, vendor cpuid.Vendor, u Units) (PowerInfo, error) {
	if vendor == cpuid.AMD {
		return PowerInfo{}, nil
	}
	raw, err := dev.Read(MSRPkgPowerInfo)
	if err != nil {
		return PowerInfo{}, fmt.Errorf("reading package power info register: %w", err)
	}
	return decodePowerInfo(raw, u), nil
}
