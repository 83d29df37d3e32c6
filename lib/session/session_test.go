// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pos-kernel/poskernel/lib/clock"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func testManager(t *testing.T, fake *clock.FakeClock) *Manager {
	t.Helper()
	return NewManager(Config{
		IdleTimeout: 15 * time.Minute,
		Retention:   24 * time.Hour,
		MaxSessions: 100,
		Clock:       fake,
	})
}

func TestCreateAndGet(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)

	id, err := m.Create("TERM-1", "alice")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	record, ok := m.Get(id)
	if !ok {
		t.Fatal("created session not found")
	}
	if record.State != Live {
		t.Errorf("state = %v, want Live", record.State)
	}
	if record.TerminalID != "TERM-1" || record.OperatorID != "alice" {
		t.Errorf("record = %+v", record)
	}
	if !record.CreatedAt.Equal(testEpoch) {
		t.Errorf("created at = %v, want %v", record.CreatedAt, testEpoch)
	}

	if _, ok := m.Get("sess_NOPE"); ok {
		t.Error("lookup of unknown id succeeded")
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := NewManager(Config{
		IdleTimeout: time.Minute,
		Retention:   time.Hour,
		MaxSessions: 10000,
		Clock:       fake,
	})

	const workers = 16
	const perWorker = 50

	ids := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := m.Create("T", "op")
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %q under concurrent creation", id)
		}
		seen[id] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("created %d unique ids, want %d", len(seen), workers*perWorker)
	}
}

func TestCapacityLimit(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := NewManager(Config{
		IdleTimeout: time.Minute,
		Retention:   time.Hour,
		MaxSessions: 2,
		Clock:       fake,
	})

	first, err := m.Create("T", "op")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("T", "op"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.Create("T", "op"); !errors.Is(err, ErrCapacity) {
		t.Errorf("third create: got %v, want ErrCapacity", err)
	}

	// Closing a session frees capacity.
	m.Close(first)
	if _, err := m.Create("T", "op"); err != nil {
		t.Errorf("create after close: %v", err)
	}
}

func TestLazyExpiryOnGet(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)
	id, _ := m.Create("T", "op")

	// One tick short of the timeout: still live.
	fake.Advance(15*time.Minute - time.Second)
	record, _ := m.Get(id)
	if record.State != Live {
		t.Fatalf("state just before timeout = %v, want Live", record.State)
	}

	// Get counts as a read, not activity — advancing one more second
	// reaches the boundary, which is inclusive.
	fake.Advance(time.Second)
	record, ok := m.Get(id)
	if !ok {
		t.Fatal("expired session should still be returned")
	}
	if record.State != Expired {
		t.Errorf("state at timeout boundary = %v, want Expired", record.State)
	}
}

func TestTouchExtendsLife(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)
	id, _ := m.Create("T", "op")

	fake.Advance(10 * time.Minute)
	m.Touch(id)
	fake.Advance(10 * time.Minute)

	record, _ := m.Get(id)
	if record.State != Live {
		t.Errorf("state after touch = %v, want Live", record.State)
	}

	// Unknown id: logged anomaly, no panic.
	m.Touch("sess_UNKNOWN")
}

func TestCloseIsIdempotentAndOneWay(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)
	id, _ := m.Create("T", "op")

	m.Close(id)
	record, _ := m.Get(id)
	if record.State != Closed {
		t.Errorf("state = %v, want Closed", record.State)
	}

	m.Close(id)
	m.Touch(id) // must not resurrect
	record, _ = m.Get(id)
	if record.State != Closed {
		t.Errorf("state after re-close and touch = %v, want Closed", record.State)
	}

	live, _ := m.Counts()
	if live != 0 {
		t.Errorf("live count = %d, want 0", live)
	}
}

func TestSetTransaction(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)
	id, _ := m.Create("T", "op")

	if !m.SetTransaction(id, "txn_AAA") {
		t.Fatal("SetTransaction on live session failed")
	}
	record, _ := m.Get(id)
	if record.TransactionID != "txn_AAA" {
		t.Errorf("transaction id = %q", record.TransactionID)
	}

	m.Close(id)
	if m.SetTransaction(id, "txn_BBB") {
		t.Error("SetTransaction succeeded on closed session")
	}
	if m.SetTransaction("sess_NOPE", "txn_CCC") {
		t.Error("SetTransaction succeeded on unknown session")
	}
}

func TestListActiveOrderedByCreation(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)

	// Same fake-clock instant for all three: order must still be
	// stable by creation sequence.
	a, _ := m.Create("T", "op")
	b, _ := m.Create("T", "op")
	c, _ := m.Create("T", "op")

	m.Close(b)
	records := m.ListActive()
	if len(records) != 2 {
		t.Fatalf("ListActive returned %d records, want 2", len(records))
	}
	if records[0].ID != a || records[1].ID != c {
		t.Errorf("order = [%s %s], want [%s %s]", records[0].ID, records[1].ID, a, c)
	}
}

func TestSweepExpiresAndEvicts(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := NewManager(Config{
		IdleTimeout: 15 * time.Minute,
		Retention:   time.Hour,
		MaxSessions: 100,
		Clock:       fake,
	})

	idle, _ := m.Create("T", "op")
	fresh, _ := m.Create("T", "op")

	// Keep fresh alive across the idle timeout; leave idle untouched.
	fake.Advance(10 * time.Minute)
	m.Touch(fresh)
	fake.Advance(10 * time.Minute)

	expired, evicted := m.Sweep()
	if expired != 1 {
		t.Errorf("expired = %d, want 1", expired)
	}
	if len(evicted) != 0 {
		t.Errorf("evicted = %v before retention elapsed", evicted)
	}

	record, _ := m.Get(idle)
	if record.State != Expired {
		t.Errorf("idle session state = %v, want Expired", record.State)
	}
	record, _ = m.Get(fresh)
	if record.State != Live {
		t.Errorf("touched session state = %v, want Live", record.State)
	}

	// Past retention (measured from last activity) the records vanish.
	// fresh idles out during the gap and gets evicted by the same
	// sweep once its retention window closes. The evicted ids come
	// back so callers can release state those sessions owned.
	fake.Advance(2 * time.Hour)
	_, evicted = m.Sweep()
	if len(evicted) != 2 {
		t.Errorf("evicted ids = %v, want both sessions", evicted)
	}
	for _, id := range evicted {
		if id != idle && id != fresh {
			t.Errorf("evicted unknown session id %q", id)
		}
	}
	if _, ok := m.Get(idle); ok {
		t.Error("evicted session still present")
	}
	if _, ok := m.Get(fresh); ok {
		t.Error("second session should be evicted after retention")
	}

	_, total := m.Counts()
	if total != 0 {
		t.Errorf("total records after eviction = %d, want 0", total)
	}
}

func TestSweepNeverEvictsLive(t *testing.T) {
	fake := clock.Fake(testEpoch)
	m := testManager(t, fake)
	id, _ := m.Create("T", "op")

	for i := 0; i < 48; i++ {
		fake.Advance(10 * time.Minute)
		m.Touch(id)
		m.Sweep()
	}
	record, ok := m.Get(id)
	if !ok || record.State != Live {
		t.Errorf("continuously touched session gone or not live: ok=%v state=%v", ok, record.State)
	}
}
