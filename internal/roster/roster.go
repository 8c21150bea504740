// Package roster implements the optional MariaDB/MySQL student-roster
// cross-check (SPEC_FULL.md §3's PersonSource addition): it never supplies
// embeddings, only annotates a reference folder name with the roster's
// canonical display name. An unreachable or unconfigured roster degrades
// to "no annotation," never to an error, per SPEC_FULL.md's "additive and
// never blocks a run" rule.
package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Lookup queries a roster table for the canonical display name matching a
// normalized reference-folder name. It implements internal/reference.RosterLookup.
type Lookup struct {
	db *sql.DB
}

// Connect opens a pooled connection to dsn. Pool sizing stays small,
// fitting this kind of auxiliary, low-volume lookup database.
func Connect(dsn string) (*Lookup, error) {
	if dsn == "" {
		return nil, errors.New("roster: DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("roster: opening database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("roster: pinging database: %w", err)
	}

	return &Lookup{db: db}, nil
}

// Close releases the connection pool.
func (l *Lookup) Close() error {
	if l.db == nil {
		return nil
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("roster: closing database: %w", err)
	}
	return nil
}

// DisplayName implements internal/reference.RosterLookup: it reports the
// roster's canonical display name for normalizedName, matched
// case-insensitively against the roster's folder_name column.
func (l *Lookup) DisplayName(normalizedName string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var displayName string
	err := l.db.QueryRowContext(ctx, `
		SELECT display_name FROM roster
		WHERE LOWER(folder_name) = LOWER(?)
		LIMIT 1
	`, normalizedName).Scan(&displayName)
	if err != nil {
		return "", false
	}
	return displayName, true
}
