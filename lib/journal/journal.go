// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal persists committed transactions to a tamper-evident
// SQLite audit log. Every commit appends one row carrying a CBOR
// snapshot of the transaction and a BLAKE3 hash chaining the row to
// its predecessor, so any after-the-fact edit to a stored row breaks
// verification of everything after it.
//
// The journal is strictly append-only from the kernel's point of view:
// rows are never updated or deleted by this package.
package journal

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pos-kernel/poskernel/lib/clock"
	"github.com/pos-kernel/poskernel/lib/codec"
	"github.com/pos-kernel/poskernel/lib/engine"
)

// HashSize is the size in bytes of a chain hash.
const HashSize = 32

const schema = `
CREATE TABLE IF NOT EXISTS journal (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	transaction_id TEXT    NOT NULL,
	session_id     TEXT    NOT NULL,
	store          TEXT    NOT NULL,
	currency       TEXT    NOT NULL,
	total_minor    INTEGER NOT NULL,
	tendered_minor INTEGER NOT NULL,
	change_minor   INTEGER NOT NULL,
	committed_at   INTEGER NOT NULL,
	snapshot       BLOB    NOT NULL,
	chain_hash     BLOB    NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_transaction ON journal (transaction_id);
CREATE INDEX IF NOT EXISTS journal_session ON journal (session_id);
`

// Config holds the parameters for opening a journal.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does not
	// exist.
	Path string

	// Clock provides commit timestamps.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Journal is an append-only audit log of committed transactions.
// Safe for concurrent use; appends are serialized so that the hash
// chain is well defined.
type Journal struct {
	pool   *sqlitex.Pool
	clock  clock.Clock
	logger *slog.Logger
	path   string

	// appendMu serializes the read-last-hash + insert pair. Reads
	// (Recent, Verify, Count) only need a pool connection.
	appendMu sync.Mutex
}

// Entry is one journal row.
type Entry struct {
	Seq           int64     `json:"seq"`
	TransactionID string    `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	Store         string    `json:"store"`
	Currency      string    `json:"currency"`
	TotalMinor    int64     `json:"total_minor"`
	TenderedMinor int64     `json:"tendered_minor"`
	ChangeMinor   int64     `json:"change_minor"`
	CommittedAt   time.Time `json:"committed_at"`
	Snapshot      []byte    `json:"-"`
	ChainHash     []byte    `json:"-"`
}

// Open creates or opens the journal database at cfg.Path, applying
// pragmas and schema to every pooled connection. The caller must call
// Close when done.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal: Path is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("journal: Clock is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		// Writes are serialized by appendMu anyway; a couple of
		// connections cover concurrent readers.
		PoolSize:    2,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: opening %s: %w", cfg.Path, err)
	}

	logger.Info("journal opened", "path", cfg.Path)

	return &Journal{
		pool:   pool,
		clock:  cfg.Clock,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// prepareConnection applies pragmas and ensures the schema. Runs once
// per pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("journal: applying schema: %w", err)
	}
	return nil
}

// Close closes the underlying database pool.
func (j *Journal) Close() error {
	if err := j.pool.Close(); err != nil {
		return fmt.Errorf("journal: closing %s: %w", j.path, err)
	}
	j.logger.Info("journal closed", "path", j.path)
	return nil
}

// RecordCommit appends one row for a committed transaction. The
// snapshot is encoded as deterministic CBOR and chained to the
// previous row: hash = blake3(previous_hash || snapshot). The first
// row chains from a zero hash.
func (j *Journal) RecordCommit(sessionID string, snapshot engine.Snapshot) error {
	blob, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("journal: encoding snapshot %s: %w", snapshot.TransactionID, err)
	}

	ctx := context.Background()
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("journal: record commit: %w", err)
	}
	defer j.pool.Put(conn)

	j.appendMu.Lock()
	defer j.appendMu.Unlock()

	previous, err := lastChainHash(conn)
	if err != nil {
		return err
	}
	hash := chainHash(previous, blob)

	err = sqlitex.Execute(conn, `INSERT INTO journal
		(transaction_id, session_id, store, currency,
		 total_minor, tendered_minor, change_minor,
		 committed_at, snapshot, chain_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			snapshot.TransactionID,
			sessionID,
			snapshot.Store,
			snapshot.Currency.Code,
			snapshot.TotalMinor,
			snapshot.TenderedMinor,
			snapshot.ChangeMinor,
			j.clock.Now().UnixMilli(),
			blob,
			hash,
		},
	})
	if err != nil {
		return fmt.Errorf("journal: inserting %s: %w", snapshot.TransactionID, err)
	}

	j.logger.Info("transaction journaled",
		"transaction_id", snapshot.TransactionID,
		"session_id", sessionID,
		"total_minor", snapshot.TotalMinor,
	)
	return nil
}

// Recent returns the most recent n entries, newest first. Snapshot
// blobs and chain hashes are included.
func (j *Journal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	conn, err := j.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	defer j.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn, `SELECT seq, transaction_id, session_id,
		store, currency, total_minor, tendered_minor, change_minor,
		committed_at, snapshot, chain_hash
		FROM journal ORDER BY seq DESC LIMIT ?`, &sqlitex.ExecOptions{
		Args: []any{n},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, scanEntry(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, nil
}

// Count returns the number of journaled commits.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	defer j.pool.Put(conn)

	var count int64
	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM journal`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("journal: count: %w", err)
	}
	return count, nil
}

// Verify walks the whole chain in sequence order, recomputing every
// hash from the stored snapshots. Returns an error naming the first
// row whose stored hash does not match the recomputation.
func (j *Journal) Verify(ctx context.Context) error {
	conn, err := j.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("journal: verify: %w", err)
	}
	defer j.pool.Put(conn)

	previous := make([]byte, HashSize)
	err = sqlitex.Execute(conn, `SELECT seq, snapshot, chain_hash
		FROM journal ORDER BY seq ASC`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			seq := stmt.ColumnInt64(0)
			blob := columnBlob(stmt, 1)
			stored := columnBlob(stmt, 2)

			expected := chainHash(previous, blob)
			if !bytes.Equal(expected, stored) {
				return fmt.Errorf("journal: chain broken at seq %d", seq)
			}
			previous = stored
			return nil
		},
	})
	if err != nil {
		return err
	}
	return nil
}

// DecodeSnapshot decodes an entry's CBOR snapshot blob.
func DecodeSnapshot(entry Entry) (engine.Snapshot, error) {
	var snapshot engine.Snapshot
	if err := codec.Unmarshal(entry.Snapshot, &snapshot); err != nil {
		return engine.Snapshot{}, fmt.Errorf("journal: decoding snapshot for seq %d: %w", entry.Seq, err)
	}
	return snapshot, nil
}

// lastChainHash reads the newest row's hash, or a zero hash for an
// empty journal.
func lastChainHash(conn *sqlite.Conn) ([]byte, error) {
	hash := make([]byte, HashSize)
	err := sqlitex.Execute(conn, `SELECT chain_hash FROM journal
		ORDER BY seq DESC LIMIT 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hash = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("journal: reading chain head: %w", err)
	}
	return hash, nil
}

// chainHash computes blake3(previous || snapshot).
func chainHash(previous, snapshot []byte) []byte {
	hasher := blake3.New()
	hasher.Write(previous)
	hasher.Write(snapshot)
	return hasher.Sum(nil)
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	blob := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, blob)
	return blob
}

func scanEntry(stmt *sqlite.Stmt) Entry {
	return Entry{
		Seq:           stmt.ColumnInt64(0),
		TransactionID: stmt.ColumnText(1),
		SessionID:     stmt.ColumnText(2),
		Store:         stmt.ColumnText(3),
		Currency:      stmt.ColumnText(4),
		TotalMinor:    stmt.ColumnInt64(5),
		TenderedMinor: stmt.ColumnInt64(6),
		ChangeMinor:   stmt.ColumnInt64(7),
		CommittedAt:   time.UnixMilli(stmt.ColumnInt64(8)).UTC(),
		Snapshot:      columnBlob(stmt, 9),
		ChainHash:     columnBlob(stmt, 10),
	}
}
