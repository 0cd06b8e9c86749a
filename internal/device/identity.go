// Package device persists per-device state across restarts — per-device
// UUID, per-device pairing code, daily request/earn stats keyed by date —
// over a sqlite file, mirroring the atomic-durability
// intent of internal/pairing/store.go's flat-file store but backed by a
// real embedded database so the stats side can be queried by date rather
// than rewritten whole on every update.
package device

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed device state store. A process opens exactly
// one Store over its configured identity_path for its lifetime.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("device: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single-writer, avoid SQLITE_BUSY under concurrent access

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS device_kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_stats (
			date           TEXT PRIMARY KEY,
			requests       INTEGER NOT NULL DEFAULT 0,
			earned_units   INTEGER NOT NULL DEFAULT 0
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("device: migrate: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DeviceID returns this device's persisted UUID, minting and storing one
// on first use. The id is globally unique and persists across restarts.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, ok, err := s.kvGet(ctx, "device_id")
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id = uuid.NewString()
	if err := s.kvSet(ctx, "device_id", id); err != nil {
		return "", err
	}
	return id, nil
}

// PairingCode returns the currently persisted pairing code, if any.
func (s *Store) PairingCode(ctx context.Context) (code string, ok bool, err error) {
	return s.kvGet(ctx, "pairing_code")
}

// SetPairingCode persists a freshly rotated pairing code.
func (s *Store) SetPairingCode(ctx context.Context, code string) error {
	return s.kvSet(ctx, "pairing_code", code)
}

func (s *Store) kvGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM device_kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("device: read %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) kvSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("device: write %s: %w", key, err)
	}
	return nil
}
