// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package nvidia

import (
	"context"
	"log/slog"
	"time"

	"github.com/temporal-hpc/powermon/internal/poller"
	"github.com/temporal-hpc/powermon/internal/service"
)

// Service runs the accelerator meter behind a poller for the lifetime of
// the process: the measurement window opens when the service starts and
// closes, with the poller fully drained, when it stops.
type Service struct {
	logger   *slog.Logger
	meter    *PowerMeter
	poller   *poller.Poller
	interval time.Duration
}

var (
	_ service.Initializer = (*Service)(nil)
	_ service.Runner      = (*Service)(nil)
	_ service.Shutdowner  = (*Service)(nil)
)

func NewService(meter *PowerMeter, logger *slog.Logger, interval time.Duration) *Service {
	return &Service{
		logger:   logger.With("service", "nvidia"),
		meter:    meter,
		interval: interval,
	}
}

func (s *Service) Name() string {
	return "nvidia"
}

func (s *Service) Init() error {
	if err := s.meter.Init(); err != nil {
		return err
	}
	s.poller = poller.New(s.meter, poller.WithLogger(s.logger))
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.poller.Begin("gpu", s.interval); err != nil {
		return err
	}
	<-ctx.Done()

	err := s.poller.End()
	s.logger.Info("GPU measurement window closed",
		"devices", s.meter.DeviceCount(),
		"energy", s.meter.TotalEnergy(),
		"avgPower", s.meter.AveragePower(),
	)
	return err
}

func (s *Service) Shutdown() error {
	return s.meter.Shutdown()
}
