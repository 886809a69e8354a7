package cache

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// A cached layer.
type Entry struct {
	Key         string    // Cache key of the step that produced the layer.
	Parent      string    // Key of the previous layer, or the base chain ID.
	Snapshot    string    // Committed snapshot name.
	Platform    string    // Target platform, e.g. "linux/amd64".
	Description string    // Human-readable step, e.g. "run pip install ...".
	Layer       ocispec.Descriptor
	DiffID      digest.Digest
	CreatedAt   time.Time
	LastUsedAt  time.Time
	Hits        int64
}

// SQLite-backed layer index.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// Opens the index at path, creating the file and applying migrations as
// needed. The special path ":memory:" opens a private in-memory index.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCache, err)
		}
	}

	db, err := sqlx.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	// A single connection keeps ":memory:" coherent and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrMigrate, err)
	}

	return &Store{db: db, now: time.Now}, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	Key         string `db:"key"`
	Parent      string `db:"parent"`
	Snapshot    string `db:"snapshot"`
	Platform    string `db:"platform"`
	Description string `db:"description"`
	MediaType   string `db:"media_type"`
	Digest      string `db:"digest"`
	Size        int64  `db:"size"`
	DiffID      string `db:"diff_id"`
	CreatedAt   int64  `db:"created_at"`
	LastUsedAt  int64  `db:"last_used_at"`
	Hits        int64  `db:"hits"`
}

func (r row) entry() Entry {
	return Entry{
		Key:         r.Key,
		Parent:      r.Parent,
		Snapshot:    r.Snapshot,
		Platform:    r.Platform,
		Description: r.Description,
		Layer: ocispec.Descriptor{
			MediaType: r.MediaType,
			Digest:    digest.Digest(r.Digest),
			Size:      r.Size,
		},
		DiffID:     digest.Digest(r.DiffID),
		CreatedAt:  time.Unix(0, r.CreatedAt),
		LastUsedAt: time.Unix(0, r.LastUsedAt),
		Hits:       r.Hits,
	}
}

const columns = `key, parent, snapshot, platform, description, media_type, digest, size, diff_id, created_at, last_used_at, hits`

// Looks up a layer by key. Returns [ErrNotFound] on a miss.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+columns+` FROM layers WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}
	e := r.entry()
	return &e, nil
}

// Records a layer. An existing entry with the same key is replaced.
func (s *Store) Put(ctx context.Context, e Entry) error {
	now := s.now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastUsedAt.IsZero() {
		e.LastUsedAt = e.CreatedAt
	}

	r := row{
		Key:         e.Key,
		Parent:      e.Parent,
		Snapshot:    e.Snapshot,
		Platform:    e.Platform,
		Description: e.Description,
		MediaType:   e.Layer.MediaType,
		Digest:      e.Layer.Digest.String(),
		Size:        e.Layer.Size,
		DiffID:      e.DiffID.String(),
		CreatedAt:   e.CreatedAt.UnixNano(),
		LastUsedAt:  e.LastUsedAt.UnixNano(),
		Hits:        e.Hits,
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO layers (`+columns+`)
		VALUES (:key, :parent, :snapshot, :platform, :description, :media_type,
		        :digest, :size, :diff_id, :created_at, :last_used_at, :hits)`, r)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}

// Marks a layer as used now and increments its hit count.
func (s *Store) Touch(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE layers SET hits = hits + 1, last_used_at = ? WHERE key = ?`,
		s.now().UnixNano(), key)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Returns every cached layer, most recently used first.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+columns+` FROM layers ORDER BY last_used_at DESC, key`); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	entries := make([]Entry, len(rows))
	for i, r := range rows {
		entries[i] = r.entry()
	}
	return entries, nil
}

// Removes a layer from the index.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM layers WHERE key = ?`, key); err != nil {
		return fmt.Errorf("%w: %w", ErrCache, err)
	}
	return nil
}
