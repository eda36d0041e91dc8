// Package database opens the sqlite store backing the journal with
// production pragmas.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// Profile selects the pragma set for a database.
type Profile string

const (
	// ProfileJournal - maximum safety for the append-only cycle journal
	ProfileJournal Profile = "journal"
	// ProfileStandard - balanced configuration
	ProfileStandard Profile = "standard"
)

// DB wraps a sqlite connection with its configuration.
type DB struct {
	conn    *sql.DB
	path    string
	profile Profile
}

// Open creates the database connection, ensuring the parent directory
// exists and the connection answers a ping.
func Open(path string, profile Profile) (*DB, error) {
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = abs
	}
	if profile == "" {
		profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", connString(path, profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(24 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: path, profile: profile}, nil
}

// connString builds the sqlite URI with profile-specific pragmas.
func connString(path string, profile Profile) string {
	s := path + "?_pragma=journal_mode(WAL)"
	switch profile {
	case ProfileJournal:
		s += "&_pragma=synchronous(FULL)" // fsync every write: audit trail
		s += "&_pragma=auto_vacuum(NONE)" // append-only, never shrink
	default:
		s += "&_pragma=synchronous(NORMAL)"
		s += "&_pragma=temp_store(MEMORY)"
	}
	s += "&_pragma=foreign_keys(1)"
	s += "&_pragma=wal_autocheckpoint(1000)"
	return s
}

// Conn returns the underlying connection.
func (db *DB) Conn() *sql.DB { return db.conn }

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close closes the connection.
func (db *DB) Close() error { return db.conn.Close() }

// HealthCheck pings and runs a quick integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check returned %q", result)
	}
	return nil
}

// WALCheckpoint truncates the WAL to keep the file bounded.
func (db *DB) WALCheckpoint() error {
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint failed: %w", err)
	}
	return nil
}
