// SPDX-FileCopyrightText: 2026 The Powermon Authors
// SPDX-License-Identifier: Apache-2.0

// Package service defines the small lifecycle contract every long-lived
// component of the process implements, plus helpers to initialize and run a
// set of them together.
package service

import "context"

// Service is the interface all services must implement.
type Service interface {
	// Name returns the name of the service
	Name() string
}

// Initializer is implemented by services that need initialization before
// the run phase.
type Initializer interface {
	Service
	Init() error
}

// Runner is implemented by services that run in the background. Run is
// expected to block until the context is canceled.
type Runner interface {
	Service
	Run(ctx context.Context) error
}

// Shutdowner is implemented by services that need cleanup on termination.
type Shutdowner interface {
	Service
	Shutdown() error
}
