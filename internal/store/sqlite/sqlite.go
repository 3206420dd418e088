// Package sqlite provides a SQLite-backed implementation of the
// store.MetadataIndex port.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/folio/internal/domain"
	"github.com/haukened/folio/internal/store"

	// database/sql SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var _ store.MetadataIndex = (*Index)(nil)

// Open opens a database handle for dsn. Use a DSN carrying _txlock=immediate
// so read-modify-write transactions take the write lock up front.
func Open(dsn string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn)
}

// Index implements store.MetadataIndex using SQLite. It is safe for
// concurrent use; database/sql manages connection pooling.
type Index struct{ db *sql.DB }

// New returns an Index over db. The schema is created by Migrate.
func New(db *sql.DB) *Index { return &Index{db: db} }

const columns = `id, title, creator, series, series_index, description, language, publisher, rights,
modified_date, cover_image, cover_media_type, cover_blurhash, content_fingerprint, size, added_at,
reading_position, reading_progress_percent, finished, reading_settings`

type scanner interface{ Scan(dest ...any) error }

func scanRecord(row scanner) (*domain.BookRecord, error) {
	var (
		r        domain.BookRecord
		added    int64
		finished int
		pos      sql.NullString
		pct      sql.NullInt64
		settings sql.NullString
	)
	err := row.Scan(&r.ID, &r.Title, &r.Creator, &r.Series, &r.SeriesIndex, &r.Description,
		&r.Language, &r.Publisher, &r.Rights, &r.ModifiedDate, &r.CoverImage, &r.CoverMediaType,
		&r.CoverBlurHash, &r.ContentFingerprint, &r.Size, &added, &pos, &pct, &finished, &settings)
	if err != nil {
		return nil, err
	}
	r.AddedAt = time.UnixMilli(added).UTC()
	r.Finished = finished == 1
	if pos.Valid {
		r.ReadingPosition = &pos.String
	}
	if pct.Valid {
		p := int(pct.Int64)
		r.ReadingProgressPercent = &p
	}
	if settings.Valid && settings.String != "" {
		var s domain.ReadingSettings
		if err := json.Unmarshal([]byte(settings.String), &s); err != nil {
			return nil, fmt.Errorf("decode reading settings: %w", err)
		}
		r.ReadingSettings = &s
	}
	return &r, nil
}

func recordArgs(r *domain.BookRecord) ([]any, error) {
	var (
		pos      sql.NullString
		pct      sql.NullInt64
		settings sql.NullString
	)
	if r.ReadingPosition != nil {
		pos = sql.NullString{String: *r.ReadingPosition, Valid: true}
	}
	if r.ReadingProgressPercent != nil {
		pct = sql.NullInt64{Int64: int64(*r.ReadingProgressPercent), Valid: true}
	}
	if r.ReadingSettings != nil {
		b, err := json.Marshal(r.ReadingSettings)
		if err != nil {
			return nil, err
		}
		settings = sql.NullString{String: string(b), Valid: true}
	}
	finished := 0
	if r.Finished {
		finished = 1
	}
	return []any{int64(r.ID), r.Title, r.Creator, r.Series, r.SeriesIndex, r.Description,
		r.Language, r.Publisher, r.Rights, r.ModifiedDate, r.CoverImage, r.CoverMediaType,
		r.CoverBlurHash, r.ContentFingerprint, r.Size, r.AddedAt.UnixMilli(), pos, pct, finished, settings}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, r *domain.BookRecord) error {
	args, err := recordArgs(r)
	if err != nil {
		return err
	}
	const q = `INSERT OR REPLACE INTO books (` + columns + `) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`
	_, err = db.ExecContext(ctx, q, args...)
	return err
}

// Put inserts or replaces the record.
func (i *Index) Put(ctx context.Context, r *domain.BookRecord) error {
	return put(ctx, i.db, r)
}

// Get returns the record for id or domain.ErrNotFound.
func (i *Index) Get(ctx context.Context, id domain.BookID) (*domain.BookRecord, error) {
	r, err := scanRecord(i.db.QueryRowContext(ctx, `SELECT `+columns+` FROM books WHERE id=?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return r, err
}

// All returns every record ordered by id.
func (i *Index) All(ctx context.Context) ([]*domain.BookRecord, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT `+columns+` FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []*domain.BookRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Keys returns every record id in ascending order.
func (i *Index) Keys(ctx context.Context) ([]domain.BookID, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT id FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []domain.BookID
	for rows.Next() {
		var id int64
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, domain.BookID(id))
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Update runs fn against the current record inside one transaction.
func (i *Index) Update(ctx context.Context, id domain.BookID, fn func(*domain.BookRecord) error) (*domain.BookRecord, error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+columns+` FROM books WHERE id=?`, int64(id)))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.ErrNotFound
	case err != nil:
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	r.ID = id
	if err := put(ctx, tx, r); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes the record. Missing ids are not an error.
func (i *Index) Delete(ctx context.Context, id domain.BookID) error {
	_, err := i.db.ExecContext(ctx, `DELETE FROM books WHERE id=?`, int64(id))
	return err
}
