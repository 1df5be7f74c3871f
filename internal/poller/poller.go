// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package poller brackets a measurement window around a periodically
// sampled meter. Begin starts a background goroutine that samples at a
// fixed interval; End closes the window and blocks until that goroutine has
// fully stopped, so no sample can land after End returns.
package poller

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Sampler is anything that can be sampled on a schedule. Both the RAPL
// meter and the accelerator power meter satisfy it.
type Sampler interface {
	Name() string
	Sample() error
}

// Poller drives one Sampler. A Poller is reusable: after End it can Begin a
// new window. Begin and End are safe to call from different goroutines than
// the polling one.
type Poller struct {
	logger  *slog.Logger
	clock   clock.WithTicker
	sampler Sampler

	mu      sync.Mutex
	running bool
	label   string
	began   time.Time
	stop    chan struct{}
	done    chan struct{}
	err     error
}

type Opts struct {
	logger *slog.Logger
	clock  clock.WithTicker
}

// DefaultOpts returns a new Opts with defaults set.
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		clock:  clock.RealClock{},
	}
}

// OptionFn is a function that sets one or more options in Opts.
type OptionFn func(*Opts)

// WithLogger sets the logger for the Poller.
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithClock sets the ticking clock, letting tests drive the schedule.
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// New creates a Poller over the given sampler.
func New(sampler Sampler, applyOpts ...OptionFn) *Poller {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Poller{
		logger:  opts.logger.With("service", "poller", "sampler", sampler.Name()),
		clock:   opts.clock,
		sampler: sampler,
	}
}

// Begin opens a measurement window: it starts the background sampling
// goroutine at the given interval. It fails if a window is already open or
// the interval is not positive.
func (p *Poller) Begin(label string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", interval)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("measurement window %q is still open", p.label)
	}

	p.running = true
	p.label = label
	p.began = p.clock.Now()
	p.err = nil
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info("Measurement window opened", "label", label, "interval", interval)
	go p.loop(p.clock.NewTicker(interval), p.stop, p.done)
	return nil
}

func (p *Poller) loop(ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if err := p.sampler.Sample(); err != nil {
				p.logger.Error("Sampling failed, closing window early", "error", err)
				p.mu.Lock()
				p.err = err
				p.mu.Unlock()
				return
			}
		}
	}
}

// End closes the window. It blocks until the polling goroutine has stopped,
// then returns the first sampling error of the window, if any.
func (p *Poller) End() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("no open measurement window")
	}
	p.running = false
	label, began := p.label, p.began
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done

	p.mu.Lock()
	err := p.err
	p.mu.Unlock()

	p.logger.Info("Measurement window closed", "label", label, "duration", p.clock.Since(began), "error", err)
	return err
}

// Running reports whether a window is currently open.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Label returns the label of the current (or last) window.
func (p *Poller) Label() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label
}
