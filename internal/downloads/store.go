// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package downloads is the durable record of recordings fetched for offline
// viewing.
package downloads

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/harekaze/internal/changefeed"
	"github.com/ManuGH/harekaze/internal/model"
	"github.com/ManuGH/harekaze/internal/persistence/sqlite"
)

var (
	ErrNotFound = errors.New("downloads: not found")
	ErrExists   = errors.New("downloads: already exists")
)

var migrations = []sqlite.Migration{
	sqlite.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id TEXT PRIMARY KEY,
		recording TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		downloaded_at_ms INTEGER NOT NULL
	)`),
	sqlite.Exec(`ALTER TABLE downloads ADD COLUMN last_played REAL NOT NULL DEFAULT 0`),
	sqlite.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_size ON downloads(size)`),
}

// SchemaVersion is the user_version a fully migrated database carries.
var SchemaVersion = len(migrations)

// Store persists model.Download rows in SQLite.
type Store struct {
	db   *sql.DB
	feed *changefeed.Feed
	now  func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(ctx context.Context, path string, feed *changefeed.Feed) (*Store, error) {
	db, err := sqlite.Open(path, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, feed)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. feed may be nil.
func New(ctx context.Context, db *sql.DB, feed *changefeed.Feed) (*Store, error) {
	if err := sqlite.Migrate(ctx, db, migrations); err != nil {
		return nil, fmt.Errorf("downloads store: migration failed: %w", err)
	}
	return &Store{db: db, feed: feed, now: time.Now}, nil
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

const columns = `id, recording, size, downloaded_at_ms, last_played`

// Create inserts d. It fails with ErrExists when the id is taken.
func (s *Store) Create(ctx context.Context, d model.Download) error {
	d = s.stamp(d)
	rec, err := encodeRecording(d.Recording)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (`+columns+`) VALUES (?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		d.ID, rec, d.Size, d.DownloadedAt.UnixMilli(), model.ClampPosition(d.LastPlayed))
	if err != nil {
		return fmt.Errorf("downloads: create %s: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrExists
	}
	s.publish(ctx, changefeed.OpUpsert, d.ID)
	return nil
}

// Put inserts or replaces d.
func (s *Store) Put(ctx context.Context, d model.Download) error {
	d = s.stamp(d)
	rec, err := encodeRecording(d.Recording)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO downloads (`+columns+`) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		recording = excluded.recording,
		size = excluded.size,
		downloaded_at_ms = excluded.downloaded_at_ms,
		last_played = excluded.last_played`,
		d.ID, rec, d.Size, d.DownloadedAt.UnixMilli(), model.ClampPosition(d.LastPlayed))
	if err != nil {
		return fmt.Errorf("downloads: put %s: %w", d.ID, err)
	}
	s.publish(ctx, changefeed.OpUpsert, d.ID)
	return nil
}

// Get returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*model.Download, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM downloads WHERE id = ?`, id)
	d, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("downloads: get %s: %w", id, err)
	}
	return d, nil
}

// List returns every download, newest first.
func (s *Store) List(ctx context.Context) ([]model.Download, error) {
	return s.query(ctx, `SELECT `+columns+` FROM downloads ORDER BY downloaded_at_ms DESC, id`)
}

// ListIncomplete returns the downloads whose size is still 0.
func (s *Store) ListIncomplete(ctx context.Context) ([]model.Download, error) {
	return s.query(ctx, `SELECT `+columns+` FROM downloads WHERE size = 0 ORDER BY id`)
}

// SetSize records the final byte count of a finished transfer.
func (s *Store) SetSize(ctx context.Context, id string, size int64) error {
	return s.update(ctx, id, `UPDATE downloads SET size = ? WHERE id = ?`, size, id)
}

// SetLastPlayed stores the playback position, clamped to [0,1].
func (s *Store) SetLastPlayed(ctx context.Context, id string, pos float64) error {
	return s.update(ctx, id, `UPDATE downloads SET last_played = ? WHERE id = ?`, model.ClampPosition(pos), id)
}

// Delete removes the row. Deleting an unknown id returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("downloads: delete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, changefeed.OpDelete, id)
	return nil
}

// DeleteIncomplete removes the row only while its size is still 0. It
// returns ErrNotFound when the id is unknown or the download completed.
func (s *Store) DeleteIncomplete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ? AND size = 0`, id)
	if err != nil {
		return fmt.Errorf("downloads: delete incomplete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, changefeed.OpDelete, id)
	return nil
}

func (s *Store) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("downloads: update %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(ctx, changefeed.OpUpsert, id)
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.Download, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("downloads: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []model.Download{}
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("downloads: scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) stamp(d model.Download) model.Download {
	if d.DownloadedAt.IsZero() {
		d.DownloadedAt = s.now()
	}
	d.DownloadedAt = d.DownloadedAt.UTC().Truncate(time.Millisecond)
	return d
}

func (s *Store) publish(ctx context.Context, op changefeed.Op, id string) {
	if s.feed == nil {
		return
	}
	_ = s.feed.Publish(context.WithoutCancel(ctx), changefeed.Event{Collection: changefeed.Downloads, Op: op, ID: id})
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*model.Download, error) {
	var (
		d   model.Download
		rec sql.NullString
		ms  int64
	)
	if err := row.Scan(&d.ID, &rec, &d.Size, &ms, &d.LastPlayed); err != nil {
		return nil, err
	}
	d.DownloadedAt = time.UnixMilli(ms).UTC()
	if rec.Valid && rec.String != "" {
		var r model.Recording
		if err := json.Unmarshal([]byte(rec.String), &r); err != nil {
			return nil, fmt.Errorf("decode recording of %s: %w", d.ID, err)
		}
		d.Recording = &r
	}
	return &d, nil
}

func encodeRecording(r *model.Recording) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("downloads: encode recording: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
