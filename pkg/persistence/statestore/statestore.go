package statestore

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// Store persists small bits of bridge state that must survive page loads,
// currently the per-frame visibility flag and its timestamp.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the state database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("statestore: empty path")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, "statestore: open")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS frame_visibility (
			frame_id      TEXT PRIMARY KEY,
			visible       INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		)
	`)
	return errors.Wrap(err, "statestore: migrate")
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveVisibility upserts the visibility flag for a frame. Redundant writes
// are expected and harmless.
func (s *Store) SaveVisibility(ctx context.Context, frameID string, visible bool, ts time.Time) error {
	if s == nil || s.db == nil {
		return errors.New("statestore: db is nil")
	}
	if frameID == "" {
		return errors.New("statestore: frame id is empty")
	}
	v := 0
	if visible {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frame_visibility (frame_id, visible, updated_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(frame_id) DO UPDATE SET
			visible = excluded.visible,
			updated_at_ms = excluded.updated_at_ms
	`, frameID, v, ts.UnixMilli())
	return errors.Wrap(err, "statestore: save visibility")
}

// LoadVisibility reads the persisted visibility flag for a frame. ok is
// false when no record exists.
func (s *Store) LoadVisibility(ctx context.Context, frameID string) (bool, time.Time, bool, error) {
	if s == nil || s.db == nil {
		return false, time.Time{}, false, errors.New("statestore: db is nil")
	}
	var v int
	var ms int64
	err := s.db.QueryRowContext(ctx,
		`SELECT visible, updated_at_ms FROM frame_visibility WHERE frame_id = ?`, frameID,
	).Scan(&v, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return false, time.Time{}, false, nil
	}
	if err != nil {
		return false, time.Time{}, false, errors.Wrap(err, "statestore: load visibility")
	}
	return v != 0, time.UnixMilli(ms), true, nil
}
