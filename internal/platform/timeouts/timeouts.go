// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// Resolve caps a single resolution pass including its commit.
const Resolve = 10 * time.Second

// SweepTick is the floor for the deadline sweeper interval.
const SweepTick = time.Second
