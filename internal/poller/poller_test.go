// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

// countingSampler records every Sample call and signals a channel so tests
// can wait for a poll to land without sleeping.
type countingSampler struct {
	mu      sync.Mutex
	count   int
	err     error
	sampled chan struct{}
}

func newCountingSampler() *countingSampler {
	return &countingSampler{sampled: make(chan struct{}, 64)}
}

func (s *countingSampler) Name() string { return "counting" }

func (s *countingSampler) Sample() error {
	s.mu.Lock()
	s.count++
	err := s.err
	s.mu.Unlock()
	s.sampled <- struct{}{}
	return err
}

func (s *countingSampler) samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func waitForSample(t *testing.T, s *countingSampler) {
	t.Helper()
	select {
	case <-s.sampled:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sample")
	}
}

func TestPollerBeginEnd(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	sampler := newCountingSampler()
	p := New(sampler, WithClock(clk))

	require.NoError(t, p.Begin("matmul", 100*time.Millisecond))
	assert.True(t, p.Running())
	assert.Equal(t, "matmul", p.Label())

	clk.Step(100 * time.Millisecond)
	waitForSample(t, sampler)
	clk.Step(100 * time.Millisecond)
	waitForSample(t, sampler)

	require.NoError(t, p.End())
	assert.False(t, p.Running())
	assert.Equal(t, 2, sampler.samples())
}

func TestPollerNoSampleAfterEnd(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	sampler := newCountingSampler()
	p := New(sampler, WithClock(clk))

	require.NoError(t, p.Begin("w", time.Millisecond))
	clk.Step(time.Millisecond)
	waitForSample(t, sampler)

	require.NoError(t, p.End())
	after := sampler.samples()

	// Ticks delivered after End must not produce samples: the polling
	// goroutine is guaranteed to have stopped before End returned.
	clk.Step(10 * time.Millisecond)
	clk.Step(10 * time.Millisecond)
	assert.Equal(t, after, sampler.samples())
}

func TestPollerDoubleBegin(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	p := New(newCountingSampler(), WithClock(clk))

	require.NoError(t, p.Begin("first", time.Second))
	err := p.Begin("second", time.Second)
	assert.ErrorContains(t, err, "first")
	require.NoError(t, p.End())

	// A closed window can be reopened.
	assert.NoError(t, p.Begin("second", time.Second))
	assert.NoError(t, p.End())
}

func TestPollerEndWithoutBegin(t *testing.T) {
	p := New(newCountingSampler(), WithClock(clocktesting.NewFakeClock(time.Now())))
	assert.Error(t, p.End())
}

func TestPollerInvalidInterval(t *testing.T) {
	p := New(newCountingSampler(), WithClock(clocktesting.NewFakeClock(time.Now())))
	assert.Error(t, p.Begin("w", 0))
	assert.Error(t, p.Begin("w", -time.Second))
}

func TestPollerSamplerError(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Now())
	sampler := newCountingSampler()
	boom := errors.New("register read failed")
	sampler.err = boom

	p := New(sampler, WithClock(clk))
	require.NoError(t, p.Begin("w", time.Millisecond))

	clk.Step(time.Millisecond)
	waitForSample(t, sampler)

	// The loop stops on its own after a failed sample; End reports it.
	err := p.End()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sampler.samples())
}
