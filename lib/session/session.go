// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package session implements the session registry: issuing session
// identifiers, tracking activity, and expiring idle sessions.
//
// A session outlives any single connection — a terminal can reconnect
// and keep using its session id. Expiry is evaluated two ways: lazily,
// whenever a session is read, and periodically by Sweep. Expired and
// closed sessions are kept (not-live) for a retention window so that
// late diagnostic lookups can distinguish "was a session" from "never
// existed"; only Sweep physically evicts them.
//
// Locking: the manager's RWMutex covers map membership only. Each
// record carries its own mutex for field mutation, so the sweep and
// clients touching unrelated sessions never serialize against each
// other.
package session

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pos-kernel/poskernel/lib/clock"
)

// ErrCapacity reports that the live session count is at the configured
// maximum.
var ErrCapacity = errors.New("session capacity exceeded")

// State is the session lifecycle state. Transitions are one-way: a
// session never returns to Live; the client creates a new one.
type State int

const (
	// Live sessions accept operations.
	Live State = iota
	// Expired sessions idled past the timeout.
	Expired
	// Closed sessions were shut down explicitly.
	Closed
)

func (s State) String() string {
	switch s {
	case Live:
		return "Live"
	case Expired:
		return "Expired"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Record is a read-only copy of a session's state at one instant.
type Record struct {
	ID            string
	TerminalID    string
	OperatorID    string
	CreatedAt     time.Time
	LastActivity  time.Time
	State         State
	TransactionID string

	// seq orders sessions by creation even when CreatedAt ties (the
	// fake clock stands still across creations).
	seq uint64
}

type session struct {
	mu sync.Mutex
	Record
}

// Config holds the manager's tuning knobs.
type Config struct {
	// IdleTimeout marks a live session not-live once
	// now - lastActivity >= IdleTimeout. The boundary is inclusive: a
	// session read exactly at the timeout is already expired.
	IdleTimeout time.Duration

	// Retention is how long a not-live session's record survives for
	// diagnostics before Sweep evicts it. Measured from last activity,
	// so it must exceed IdleTimeout to be meaningful.
	Retention time.Duration

	// MaxSessions caps the number of live sessions.
	MaxSessions int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager is the thread-safe session registry.
type Manager struct {
	idleTimeout time.Duration
	retention   time.Duration
	maxSessions int
	clock       clock.Clock
	logger      *slog.Logger

	// live counts Live sessions. Written under mu by Create and
	// atomically by state transitions (which hold only the record
	// mutex); Create reads it under mu so concurrent creation never
	// overshoots the cap.
	live atomic.Int64

	seq atomic.Uint64

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewManager returns an empty registry.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		idleTimeout: cfg.IdleTimeout,
		retention:   cfg.Retention,
		maxSessions: cfg.MaxSessions,
		clock:       cfg.Clock,
		logger:      logger,
		sessions:    make(map[string]*session),
	}
}

// Create issues a new live session. The id is derived from a random
// UUID — never a counter, so ids are not guessable and concurrent
// creation cannot collide. Fails with ErrCapacity at the live-session
// cap.
func (m *Manager) Create(terminalID, operatorID string) (string, error) {
	now := m.clock.Now()
	id := "sess_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && m.live.Load() >= int64(m.maxSessions) {
		return "", ErrCapacity
	}
	m.sessions[id] = &session{Record: Record{
		ID:           id,
		TerminalID:   terminalID,
		OperatorID:   operatorID,
		CreatedAt:    now,
		LastActivity: now,
		State:        Live,
		seq:          m.seq.Add(1),
	}}
	m.live.Add(1)
	return id, nil
}

// Get returns a copy of the session record. Reading a live session
// that has idled past the timeout transitions it to Expired as a side
// effect; the expired record is still returned so callers can tell a
// stale id from a nonexistent one.
func (m *Manager) Get(id string) (Record, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	m.expireLocked(s, m.clock.Now())
	return s.Record, true
}

// Touch updates last activity to now. Touching an unknown or not-live
// session is a no-op; the unknown case is logged as an anomaly since
// callers are expected to validate first.
func (m *Manager) Touch(id string) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("touch of unknown session", "session_id", id)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == Live {
		s.LastActivity = m.clock.Now()
	}
}

// SetTransaction records the session's current transaction id (empty
// clears it). Returns false if the session is unknown or not live.
func (m *Manager) SetTransaction(id, transactionID string) bool {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != Live {
		return false
	}
	s.TransactionID = transactionID
	return true
}

// Close marks the session not-live immediately. Idempotent; closing an
// already expired or closed session changes nothing.
func (m *Manager) Close(id string) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == Live {
		s.State = Closed
		m.live.Add(-1)
	}
}

// ListActive returns copies of all live sessions in creation order.
func (m *Manager) ListActive() []Record {
	now := m.clock.Now()

	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var records []Record
	for _, s := range all {
		s.mu.Lock()
		m.expireLocked(s, now)
		if s.State == Live {
			records = append(records, s.Record)
		}
		s.mu.Unlock()
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	return records
}

// Counts returns the live session count and the total record count
// (including not-live records awaiting eviction).
func (m *Manager) Counts() (live, total int) {
	m.mu.RLock()
	total = len(m.sessions)
	m.mu.RUnlock()
	return int(m.live.Load()), total
}

// Sweep expires idle live sessions and evicts not-live sessions whose
// last activity is older than the retention window. It never holds the
// registry lock while examining a record, so in-flight requests are
// not blocked. Returns the number of sessions expired and the ids of
// the evicted ones, so the caller can release whatever state those
// sessions still owned.
func (m *Manager) Sweep() (expired int, evicted []string) {
	now := m.clock.Now()

	m.mu.RLock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var evict []string
	for _, s := range all {
		s.mu.Lock()
		before := s.State
		m.expireLocked(s, now)
		if before == Live && s.State == Expired {
			expired++
		}
		if s.State != Live && now.Sub(s.LastActivity) >= m.retention {
			evict = append(evict, s.ID)
		}
		s.mu.Unlock()
	}

	if len(evict) > 0 {
		m.mu.Lock()
		for _, id := range evict {
			if s, ok := m.sessions[id]; ok {
				// Recheck under the record lock: state transitions are
				// one-way, so not-live here is permanent.
				s.mu.Lock()
				notLive := s.State != Live
				s.mu.Unlock()
				if notLive {
					delete(m.sessions, id)
					evicted = append(evicted, id)
				}
			}
		}
		m.mu.Unlock()
	}

	if expired > 0 || len(evicted) > 0 {
		m.logger.Info("session sweep", "expired", expired, "evicted", len(evicted))
	}
	return expired, evicted
}

// expireLocked transitions a live session to Expired when it has idled
// past the timeout. Caller holds s.mu.
func (m *Manager) expireLocked(s *session, now time.Time) {
	if s.State == Live && now.Sub(s.LastActivity) >= m.idleTimeout {
		s.State = Expired
		m.live.Add(-1)
	}
}
