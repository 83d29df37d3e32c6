// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics collects per-method call counters and latency
// aggregates. The collector observes the protocol server's dispatch
// passively — recording never affects request results — and produces
// read-only snapshots on demand.
package metrics

import (
	"sync"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
)

// Collector accumulates counters. Safe for concurrent use. Counters
// are monotonic within a reset epoch; Reset starts a new epoch.
type Collector struct {
	clock clock.Clock

	mu        sync.Mutex
	epochFrom time.Time
	methods   map[string]*methodStats
}

type methodStats struct {
	calls         uint64
	failures      uint64
	totalDuration time.Duration
	maxDuration   time.Duration
}

// MethodSnapshot is the aggregate for one method within the epoch.
type MethodSnapshot struct {
	Calls           uint64 `json:"calls"`
	Failures        uint64 `json:"failures"`
	TotalDurationUS int64  `json:"total_duration_us"`
	MaxDurationUS   int64  `json:"max_duration_us"`
	MeanDurationUS  int64  `json:"mean_duration_us"`
}

// Snapshot is a read-only view of the collector, recomputed on demand.
type Snapshot struct {
	EpochStart    int64                     `json:"epoch_start_ms"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	TotalCalls    uint64                    `json:"total_calls"`
	TotalFailures uint64                    `json:"total_failures"`
	Methods       map[string]MethodSnapshot `json:"methods"`
}

// NewCollector returns an empty collector with its epoch starting now.
func NewCollector(clk clock.Clock) *Collector {
	return &Collector{
		clock:     clk,
		epochFrom: clk.Now(),
		methods:   make(map[string]*methodStats),
	}
}

// Record adds one observation for the given method.
func (c *Collector) Record(method string, failed bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.methods[method]
	if !ok {
		stats = &methodStats{}
		c.methods[method] = stats
	}
	stats.calls++
	if failed {
		stats.failures++
	}
	stats.totalDuration += duration
	if duration > stats.maxDuration {
		stats.maxDuration = duration
	}
}

// Snapshot returns the current aggregates.
func (c *Collector) Snapshot() Snapshot {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := Snapshot{
		EpochStart:    c.epochFrom.UnixMilli(),
		UptimeSeconds: int64(now.Sub(c.epochFrom).Seconds()),
		Methods:       make(map[string]MethodSnapshot, len(c.methods)),
	}
	for method, stats := range c.methods {
		entry := MethodSnapshot{
			Calls:           stats.calls,
			Failures:        stats.failures,
			TotalDurationUS: stats.totalDuration.Microseconds(),
			MaxDurationUS:   stats.maxDuration.Microseconds(),
		}
		if stats.calls > 0 {
			entry.MeanDurationUS = stats.totalDuration.Microseconds() / int64(stats.calls)
		}
		snapshot.Methods[method] = entry
		snapshot.TotalCalls += stats.calls
		snapshot.TotalFailures += stats.failures
	}
	return snapshot
}

// Reset clears all counters and starts a new epoch.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochFrom = c.clock.Now()
	c.methods = make(map[string]*methodStats)
}
