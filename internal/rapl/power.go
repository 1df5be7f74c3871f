// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package rapl

import "time"

// CurrentPower returns the instantaneous power of a domain, summed over all
// sockets: the energy between the previous and current snapshots divided by
// the time between them. A socket whose snapshots carry the same timestamp
// contributes zero.
func (m *Meter) CurrentPower(d Domain) Power {
	var watts float64
	for _, s := range m.sockets {
		prev, cur := s.previous(), s.current()
		elapsed := cur.at.Sub(prev.at).Seconds()
		if elapsed == 0 {
			continue
		}
		joules := m.units.Energy * float64(energyDelta(prev.value(d), cur.value(d)))
		watts += joules / elapsed
	}
	return Power(watts) * Watt
}

// TotalEnergy returns the cumulative energy of a domain since the last
// Reset, summed over all sockets.
func (m *Meter) TotalEnergy(d Domain) Energy {
	var joules float64
	for _, s := range m.sockets {
		joules += m.units.Energy * float64(s.total.value(d))
	}
	return Energy(joules * float64(Joule))
}

// TotalDuration returns the time between the start of accumulation and the
// latest sample. Sockets are sampled closely enough together that the first
// socket's clock serves as the reference for the whole system.
func (m *Meter) TotalDuration() time.Duration {
	ref := m.sockets[0]
	return ref.current().at.Sub(ref.total.since)
}

// CurrentInterval returns the time between the two most recent snapshots of
// the reference socket.
func (m *Meter) CurrentInterval() time.Duration {
	ref := m.sockets[0]
	return ref.current().at.Sub(ref.previous().at)
}

// AveragePower returns the cumulative energy of a domain divided by the
// accumulation window, or zero for a zero-length window.
func (m *Meter) AveragePower(d Domain) Power {
	elapsed := m.TotalDuration().Seconds()
	if elapsed == 0 {
		return 0
	}
	return Power(m.TotalEnergy(d).Joules()/elapsed) * Watt
}
