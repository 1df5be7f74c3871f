// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor turns raw meter samples into power snapshots served to
// exporters.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/temporal-hpc/powermon/internal/rapl"
	"github.com/temporal-hpc/powermon/internal/service"
)

// Meter is the measurement source the monitor samples. *rapl.Meter is the
// production implementation.
type Meter interface {
	Name() string
	Sample() error
	Reset() error
	ActiveDomains() []rapl.Domain
	SocketCount() int
	CurrentPower(rapl.Domain) rapl.Power
	AveragePower(rapl.Domain) rapl.Power
	TotalEnergy(rapl.Domain) rapl.Energy
	TotalDuration() time.Duration
	Close() error
}

var _ Meter = (*rapl.Meter)(nil)

type PowerDataProvider interface {
	// Snapshot returns the current power data
	Snapshot() (*Snapshot, error)

	// DataChannel returns a channel that signals when new data is available
	DataChannel() <-chan struct{}

	// Domains returns the RAPL domains present in every snapshot
	Domains() []rapl.Domain
}

// Service defines the interface for the power monitoring service
type Service interface {
	service.Service
	PowerDataProvider
}

// PowerMonitor is the default implementation of the monitoring service
type PowerMonitor struct {
	logger *slog.Logger
	meter  Meter

	interval     time.Duration
	clock        clock.WithTicker
	maxStaleness time.Duration

	// signals when a snapshot has been updated
	dataCh chan struct{}

	computeGroup singleflight.Group
	snapshot     atomic.Pointer[Snapshot]

	domains []rapl.Domain // cached, fixed after Init

	// for managing the collection loop
	collectionCtx    context.Context
	collectionCancel context.CancelFunc
}

var _ Service = (*PowerMonitor)(nil)

// NewPowerMonitor creates a new PowerMonitor instance
func NewPowerMonitor(meter Meter, applyOpts ...OptionFn) *PowerMonitor {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())

	monitor := &PowerMonitor{
		logger:           opts.logger.With("service", "monitor"),
		meter:            meter,
		clock:            opts.clock,
		interval:         opts.interval,
		dataCh:           make(chan struct{}, 1),
		maxStaleness:     opts.maxStaleness,
		collectionCtx:    ctx,
		collectionCancel: cancel,
	}

	return monitor
}

func (pm *PowerMonitor) Name() string {
	return "monitor"
}

func (pm *PowerMonitor) Init() error {
	pm.domains = pm.meter.ActiveDomains()

	// start counting from a known state
	if err := pm.meter.Reset(); err != nil {
		return fmt.Errorf("meter reset failed: %w", err)
	}

	// signal now so that exporters can construct their output layout
	pm.signalNewData()

	return nil
}

func (pm *PowerMonitor) signalNewData() {
	select {
	case pm.dataCh <- struct{}{}: // send signal to any waiting goroutine
		pm.logger.Debug("Data channel updated")
	default:
		pm.logger.Debug("Data channel is full")
	}
}

func (pm *PowerMonitor) Run(ctx context.Context) error {
	pm.logger.Info("Monitor is running...")
	pm.collectionLoop()
	<-ctx.Done()
	pm.collectionCancel()
	pm.logger.Info("Monitor has terminated.")
	return nil
}

func (pm *PowerMonitor) Shutdown() error {
	pm.logger.Info("shutting down monitor")
	pm.collectionCancel()
	return pm.meter.Close()
}

func (pm *PowerMonitor) DataChannel() <-chan struct{} {
	return pm.dataCh
}

func (pm *PowerMonitor) Domains() []rapl.Domain {
	// need not lock since it is fixed after Init
	return pm.domains
}

func (pm *PowerMonitor) Snapshot() (*Snapshot, error) {
	if err := pm.ensureFreshData(); err != nil {
		return nil, err
	}

	snapshot := pm.snapshot.Load()
	if snapshot == nil {
		return nil, fmt.Errorf("failed to get snapshot")
	}
	return snapshot.Clone(), nil
}

// collectionLoop handles periodic data collection
func (pm *PowerMonitor) collectionLoop() {
	if err := pm.synchronizedRefresh(); err != nil {
		pm.logger.Error("Failed to collect initial power data", "error", err)
	}

	if pm.interval > 0 {
		pm.scheduleNextCollection()
	}
}

// scheduleNextCollection schedules the next data collection
func (pm *PowerMonitor) scheduleNextCollection() {
	timer := pm.clock.After(pm.interval)
	go func() {
		select {
		case <-timer:
			if err := pm.synchronizedRefresh(); err != nil {
				pm.logger.Error("Failed to collect power data", "error", err)
			}
			pm.scheduleNextCollection()

		case <-pm.collectionCtx.Done():
			pm.logger.Info("Collection loop terminated")
			return
		}
	}()
}

// ensureFreshData ensures that the data returned is recent enough (< maxStaleness)
func (pm *PowerMonitor) ensureFreshData() error {
	if pm.isFresh() {
		return nil // Data is fresh, nothing more to do
	}

	return pm.synchronizedRefresh()
}

// synchronizedRefresh creates a new snapshot of power consumption, while
// ensuring that only one goroutine does the sampling at a time. It is
// called by scheduleNextCollection and by ensureFreshData.
func (pm *PowerMonitor) synchronizedRefresh() error {
	_, err, _ := pm.computeGroup.Do("compute", func() (any, error) {
		// check freshness again after acquiring the singleflight slot; a
		// concurrent caller may have refreshed while this one waited
		if pm.isFresh() {
			return nil, nil
		}

		return nil, pm.refreshSnapshot()
	})

	return err
}

func (pm *PowerMonitor) isFresh() bool {
	snapshot := pm.snapshot.Load()
	if snapshot == nil || snapshot.Timestamp.IsZero() {
		return false
	}

	age := pm.clock.Now().Sub(snapshot.Timestamp)
	return age <= pm.maxStaleness
}

// refreshSnapshot samples the meter and publishes a new snapshot.
func (pm *PowerMonitor) refreshSnapshot() error {
	started := pm.clock.Now()
	defer func() {
		pm.logger.Debug("Computed power", "duration", pm.clock.Since(started))
	}()

	if err := pm.meter.Sample(); err != nil {
		return fmt.Errorf("failed to sample %s: %w", pm.meter.Name(), err)
	}

	newSnapshot := NewSnapshot()
	newSnapshot.SocketCount = pm.meter.SocketCount()
	newSnapshot.Elapsed = pm.meter.TotalDuration()
	for _, d := range pm.domains {
		newSnapshot.Domains[d] = DomainPower{
			Power:        pm.meter.CurrentPower(d),
			AveragePower: pm.meter.AveragePower(d),
			EnergyTotal:  pm.meter.TotalEnergy(d),
		}
	}

	newSnapshot.Timestamp = pm.clock.Now()
	pm.snapshot.Store(newSnapshot)
	pm.signalNewData()

	return nil
}
