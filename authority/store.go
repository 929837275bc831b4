// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

package authority

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/pulseroom/pulseroom/lib/codec"
	"github.com/pulseroom/pulseroom/wire"
)

// Store persists session state in SQLite. Each session is one row
// whose snapshot column is a deterministic-CBOR blob rewritten
// wholesale on every mutation — the per-session mutex already
// guarantees a single writer, so there is nothing to merge.
//
// Participants and CPU samples are connection- and process-scoped;
// they are stripped before encoding.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// persistedSession is the durable subset of a session.
type persistedSession struct {
	ID           string              `cbor:"id"`
	Title        string              `cbor:"title"`
	Slug         string              `cbor:"slug"`
	Channels     []wire.Channel      `cbor:"channels,omitempty"`
	Master       wire.MasterArtifact `cbor:"master"`
	ApplyDelayMs int                 `cbor:"apply_delay_ms"`
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    slug       TEXT NOT NULL,
    snapshot   BLOB NOT NULL,
    updated_at TEXT NOT NULL
);
`

// OpenStore opens (creating if necessary) the session database. Use
// ":memory:" in tests; the pool is then sized to a single connection
// since each in-memory connection is independent.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("authority: store path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	poolSize := 4
	if path == ":memory:" {
		poolSize = 1
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("%s: %w", pragma, err)
				}
			}
			return sqlitex.ExecuteScript(conn, storeSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authority: opening store %s: %w", path, err)
	}

	logger.Info("session store opened", "path", path)
	return &Store{pool: pool, logger: logger, path: path}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("authority: closing store %s: %w", s.path, err)
	}
	return nil
}

// SaveSession writes the session's durable state, replacing any
// existing row.
func (s *Store) SaveSession(ctx context.Context, session wire.Session) error {
	blob, err := codec.Marshal(persistedSession{
		ID:           session.ID,
		Title:        session.Title,
		Slug:         session.Slug,
		Channels:     session.Channels,
		Master:       session.Master,
		ApplyDelayMs: session.ApplyDelayMs,
	})
	if err != nil {
		return fmt.Errorf("authority: encoding session %s: %w", session.ID, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("authority: store take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (id, slug, snapshot, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET slug = excluded.slug,
		                                snapshot = excluded.snapshot,
		                                updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{session.ID, session.Slug, blob, time.Now().UTC().Format(time.RFC3339Nano)},
		})
	if err != nil {
		return fmt.Errorf("authority: saving session %s: %w", session.ID, err)
	}
	return nil
}

// LoadSession reads one persisted session.
func (s *Store) LoadSession(ctx context.Context, sessionID string) (wire.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return wire.Session{}, fmt.Errorf("authority: store take: %w", err)
	}
	defer s.pool.Put(conn)

	var found bool
	var session wire.Session
	err = sqlitex.Execute(conn,
		`SELECT snapshot FROM sessions WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				decoded, err := decodeSnapshot(stmt)
				if err != nil {
					return err
				}
				session = decoded
				return nil
			},
		})
	if err != nil {
		return wire.Session{}, fmt.Errorf("authority: loading session %s: %w", sessionID, err)
	}
	if !found {
		return wire.Session{}, wire.NewError(wire.CodeNotFound, "session %q is not persisted", sessionID)
	}
	return session, nil
}

// LoadSessions reads every persisted session, for restart recovery.
func (s *Store) LoadSessions(ctx context.Context) ([]wire.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("authority: store take: %w", err)
	}
	defer s.pool.Put(conn)

	var sessions []wire.Session
	err = sqlitex.Execute(conn,
		`SELECT snapshot FROM sessions ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				decoded, err := decodeSnapshot(stmt)
				if err != nil {
					return err
				}
				sessions = append(sessions, decoded)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("authority: loading sessions: %w", err)
	}
	return sessions, nil
}

// decodeSnapshot reads the snapshot blob from result column 0.
func decodeSnapshot(stmt *sqlite.Stmt) (wire.Session, error) {
	blob := make([]byte, stmt.ColumnLen(0))
	stmt.ColumnBytes(0, blob)

	var persisted persistedSession
	if err := codec.Unmarshal(blob, &persisted); err != nil {
		return wire.Session{}, fmt.Errorf("decoding snapshot blob: %w", err)
	}
	return wire.Session{
		ID:           persisted.ID,
		Title:        persisted.Title,
		Slug:         persisted.Slug,
		Channels:     persisted.Channels,
		Master:       persisted.Master,
		ApplyDelayMs: persisted.ApplyDelayMs,
	}, nil
}
