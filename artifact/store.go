// Package artifact is a content-addressed blob store for extraction
// by-products: rendered page rasters, uploaded source files. Blobs are
// keyed by sha256, so storing the same bytes twice yields the same
// artifact row and URL.
package artifact

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Schema for the artifacts table. Pass to dbopen.WithSchema or apply manually.
const Schema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id TEXT PRIMARY KEY,
	hash TEXT NOT NULL UNIQUE,
	mime TEXT NOT NULL,
	size INTEGER NOT NULL,
	data BLOB NOT NULL,
	created INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_created ON artifacts(created);
`

// ErrNotFound is returned by Get for an unknown artifact id.
var ErrNotFound = errors.New("artifact: not found")

// Artifact is one stored blob.
type Artifact struct {
	ID      string
	Hash    string
	Mime    string
	Size    int
	Created time.Time
}

// Store persists blobs in SQLite. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	baseURL string
	group   singleflight.Group
}

// NewStore wraps an open database. baseURL prefixes the URLs Upload
// returns; empty means "artifact:" opaque URIs.
func NewStore(db *sql.DB, baseURL string) *Store {
	return &Store{db: db, baseURL: baseURL}
}

// Init creates the artifacts table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Ensure stores the blob if its hash is new and returns the artifact row
// either way. Concurrent calls with identical bytes are collapsed to a
// single insert.
func (s *Store) Ensure(ctx context.Context, data []byte, mime string) (Artifact, error) {
	if len(data) == 0 {
		return Artifact{}, errors.New("artifact: empty blob")
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	v, err, _ := s.group.Do(hash, func() (any, error) {
		return s.ensureOne(ctx, hash, data, mime)
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

func (s *Store) ensureOne(ctx context.Context, hash string, data []byte, mime string) (Artifact, error) {
	if a, err := s.byHash(ctx, hash); err == nil {
		return a, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("artifact: lookup: %w", err)
	}

	a := Artifact{
		ID:      uuid.NewString(),
		Hash:    hash,
		Mime:    mime,
		Size:    len(data),
		Created: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, hash, mime, size, data, created) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		a.ID, a.Hash, a.Mime, a.Size, data, a.Created.UnixMicro())
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: insert: %w", err)
	}

	// Another writer may have won the conflict; the row in the table is
	// authoritative either way.
	stored, err := s.byHash(ctx, hash)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact: reread: %w", err)
	}
	return stored, nil
}

func (s *Store) byHash(ctx context.Context, hash string) (Artifact, error) {
	var a Artifact
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash, mime, size, created FROM artifacts WHERE hash = ?`, hash).
		Scan(&a.ID, &a.Hash, &a.Mime, &a.Size, &created)
	if err != nil {
		return Artifact{}, err
	}
	a.Created = time.UnixMicro(created).UTC()
	return a, nil
}

// Get returns an artifact's metadata and bytes by id.
func (s *Store) Get(ctx context.Context, id string) (Artifact, []byte, error) {
	var a Artifact
	var created int64
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, hash, mime, size, data, created FROM artifacts WHERE id = ?`, id).
		Scan(&a.ID, &a.Hash, &a.Mime, &a.Size, &data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, nil, ErrNotFound
	}
	if err != nil {
		return Artifact{}, nil, fmt.Errorf("artifact: get: %w", err)
	}
	a.Created = time.UnixMicro(created).UTC()
	return a, data, nil
}

// URL returns the public URL for an artifact id.
func (s *Store) URL(id string) string {
	if s.baseURL == "" {
		return "artifact:" + id
	}
	return s.baseURL + "/" + id
}

// Upload stores the blob and returns its URL. Satisfies the pipeline's
// uploader capability.
func (s *Store) Upload(ctx context.Context, data []byte, mime string) (string, error) {
	a, err := s.Ensure(ctx, data, mime)
	if err != nil {
		return "", err
	}
	return s.URL(a.ID), nil
}
