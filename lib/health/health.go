// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package health reports process vitals and component liveness for the
// health wire method. The report is observational only — nothing here
// participates in request correctness.
package health

import (
	"runtime"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
)

// SessionCounter exposes the session manager's counts without
// importing it here.
type SessionCounter interface {
	Counts() (live, total int)
}

// Checker assembles health reports.
type Checker struct {
	Clock     clock.Clock
	StartedAt time.Time
	Sessions  SessionCounter

	// JournalEnabled reports whether the audit journal is configured.
	JournalEnabled bool

	// ActiveConnections returns the number of connections currently
	// being serviced. Optional.
	ActiveConnections func() int
}

// Report is the wire-ready health result.
type Report struct {
	Healthy           bool   `json:"healthy"`
	UptimeSeconds     int64  `json:"uptime_seconds"`
	Goroutines        int    `json:"goroutines"`
	HeapBytes         uint64 `json:"heap_bytes"`
	LiveSessions      int    `json:"live_sessions"`
	TotalSessions     int    `json:"total_sessions"`
	ActiveConnections int    `json:"active_connections"`
	JournalEnabled    bool   `json:"journal_enabled"`
}

// Report builds a point-in-time health report.
func (c *Checker) Report() Report {
	var memory runtime.MemStats
	runtime.ReadMemStats(&memory)

	report := Report{
		Healthy:        true,
		UptimeSeconds:  int64(c.Clock.Now().Sub(c.StartedAt).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		HeapBytes:      memory.HeapAlloc,
		JournalEnabled: c.JournalEnabled,
	}
	if c.Sessions != nil {
		report.LiveSessions, report.TotalSessions = c.Sessions.Counts()
	}
	if c.ActiveConnections != nil {
		report.ActiveConnections = c.ActiveConnections()
	}
	return report
}
