package sqlite

import (
	"context"
	"errors"
	"fmt"
)

// LatestVersion is the newest schema version this build understands.
const LatestVersion = 3

// ErrDowngrade is returned when the database was written by a newer build.
var ErrDowngrade = errors.New("database schema is newer than requested version")

type migration struct {
	version int
	stmts   []string
}

// Steps are additive: each creates what is missing and never drops data.
var migrations = []migration{
	{version: 1, stmts: []string{
		`CREATE TABLE IF NOT EXISTS books (
id INTEGER PRIMARY KEY,
title TEXT NOT NULL DEFAULT '',
creator TEXT NOT NULL DEFAULT '',
series TEXT NOT NULL DEFAULT '',
series_index TEXT NOT NULL DEFAULT '',
description TEXT NOT NULL DEFAULT '',
language TEXT NOT NULL DEFAULT '',
publisher TEXT NOT NULL DEFAULT '',
rights TEXT NOT NULL DEFAULT '',
modified_date TEXT NOT NULL DEFAULT '',
cover_image BLOB,
cover_media_type TEXT NOT NULL DEFAULT '',
content_fingerprint TEXT NOT NULL DEFAULT '',
size INTEGER NOT NULL DEFAULT 0,
added_at INTEGER NOT NULL DEFAULT 0,
reading_position TEXT,
reading_progress_percent INTEGER,
finished INTEGER NOT NULL DEFAULT 0
);`,
	}},
	{version: 2, stmts: []string{
		`ALTER TABLE books ADD COLUMN reading_settings TEXT;`,
		`ALTER TABLE books ADD COLUMN cover_blurhash TEXT NOT NULL DEFAULT '';`,
	}},
	{version: 3, stmts: []string{
		`CREATE INDEX IF NOT EXISTS idx_books_fingerprint ON books(content_fingerprint);`,
	}},
}

// Migrate brings the schema to target. Opening an older database applies
// the missing steps in one transaction; opening a newer one is refused.
func (i *Index) Migrate(ctx context.Context, target int) error {
	if target < 1 || target > LatestVersion {
		return fmt.Errorf("unsupported schema version %d (latest %d)", target, LatestVersion)
	}
	if err := i.db.PingContext(ctx); err != nil {
		return err
	}
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	if err := tx.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > target {
		return fmt.Errorf("%w: have %d, want %d", ErrDowngrade, current, target)
	}
	if current == target {
		return nil
	}
	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
	}
	// PRAGMA does not accept bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", target)); err != nil {
		return err
	}
	return tx.Commit()
}

// SchemaVersion reports the version recorded in the database.
func (i *Index) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := i.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&v)
	return v, err
}
