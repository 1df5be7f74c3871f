// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"time"

	"github.com/temporal-hpc/powermon/internal/rapl"
)

// DomainPower is the computed power data of one RAPL domain, aggregated
// over all sockets.
type DomainPower struct {
	// Power is the instantaneous power over the latest sampling interval
	Power rapl.Power

	// AveragePower is the mean power since counting started
	AveragePower rapl.Power

	// EnergyTotal is the cumulative energy since counting started
	EnergyTotal rapl.Energy
}

// Snapshot is an immutable point-in-time view of the computed power data.
type Snapshot struct {
	Timestamp   time.Time
	SocketCount int

	// Elapsed is the accumulation window the averages refer to
	Elapsed time.Duration

	Domains map[rapl.Domain]DomainPower
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		Domains: make(map[rapl.Domain]DomainPower),
	}
}

// Clone returns a deep copy so that callers can hold on to the data while
// the monitor keeps refreshing its own copy.
func (s *Snapshot) Clone() *Snapshot {
	clone := &Snapshot{
		Timestamp:   s.Timestamp,
		SocketCount: s.SocketCount,
		Elapsed:     s.Elapsed,
		Domains:     make(map[rapl.Domain]DomainPower, len(s.Domains)),
	}
	for d, p := range s.Domains {
		clone.Domains[d] = p
	}
	return clone
}
