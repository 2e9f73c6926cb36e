package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/JSH-Team/vidcache/internal/utils/logger"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/tools/filesystem"

	_ "modernc.org/sqlite"
)

var (
	ErrIncompleteResponse = errors.New("only complete 200 responses can be cached")
	ErrStoreClosed        = errors.New("cache store is closed")
	ErrInvalidName        = errors.New("invalid cache generation name")
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS generations (
	name       TEXT PRIMARY KEY NOT NULL,
	created_at TEXT NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	url        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	headers    TEXT NOT NULL,
	body_key   TEXT NOT NULL,
	size       INTEGER NOT NULL,
	stored_at  TEXT NOT NULL,
	PRIMARY KEY (generation, url)
)`,
}

// Store is the persistent, origin-scoped response store. Entry metadata is
// indexed in SQLite; bodies are blobs on the local filesystem.
type Store struct {
	db     *dbx.DB
	blobs  *filesystem.System
	mu     sync.RWMutex
	closed bool
}

// GenerationStats summarises one generation.
type GenerationStats struct {
	Name    string `db:"name"`
	Entries int    `db:"entries"`
	Bytes   int64  `db:"bytes"`
}

// NewStore opens (creating if needed) the index at indexPath and the blob
// directory at blobsDir.
func NewStore(indexPath, blobsDir string) (*Store, error) {
	if err := os.MkdirAll(blobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory %s: %w", blobsDir, err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", indexPath)
	db, err := dbx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index %s: %w", indexPath, err)
	}
	db.DB().SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.NewQuery(stmt).Execute(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate cache index: %w", err)
		}
	}

	blobs, err := filesystem.NewLocal(blobsDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open blob filesystem: %w", err)
	}

	return &Store{db: db, blobs: blobs}, nil
}

// Close releases the index and blob handles. Operations after Close fail
// with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return errors.Join(s.blobs.Close(), s.db.Close())
}

// acquire holds the read side of the lifecycle lock for one operation.
func (s *Store) acquire() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	return s.mu.RUnlock, nil
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\`) && name != "." && name != ".."
}

// Open returns a handle on the named generation, creating it when absent.
func (s *Store) Open(ctx context.Context, name string) (*Cache, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	_, err = s.db.NewQuery("INSERT OR IGNORE INTO generations (name, created_at) VALUES ({:name}, {:created_at})").
		WithContext(ctx).
		Bind(dbx.Params{"name": name, "created_at": now()}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to open generation %s: %w", name, err)
	}

	return &Cache{store: s, name: name}, nil
}

// Generations lists every generation name, sorted.
func (s *Store) Generations(ctx context.Context) ([]string, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	names := []string{}
	err = s.db.Select("name").From("generations").OrderBy("name ASC").WithContext(ctx).Column(&names)
	if err != nil {
		return nil, fmt.Errorf("failed to list generations: %w", err)
	}
	return names, nil
}

// DeleteGeneration removes the generation and all of its entries. It
// reports whether the generation existed.
func (s *Store) DeleteGeneration(ctx context.Context, name string) (bool, error) {
	if !validName(name) {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	release, err := s.acquire()
	if err != nil {
		return false, err
	}
	defer release()

	var existed bool
	err = s.db.TransactionalContext(ctx, nil, func(tx *dbx.Tx) error {
		if _, err := tx.Delete("entries", dbx.HashExp{"generation": name}).Execute(); err != nil {
			return err
		}
		res, err := tx.Delete("generations", dbx.HashExp{"name": name}).Execute()
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		existed = affected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete generation %s: %w", name, err)
	}

	for _, err := range s.blobs.DeletePrefix(name + "/") {
		logger.Warn("Failed to delete blob of generation %s: %v", name, err)
	}

	return existed, nil
}

// Stats reports entry counts and body bytes per generation.
func (s *Store) Stats(ctx context.Context) ([]GenerationStats, error) {
	release, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	stats := []GenerationStats{}
	err = s.db.NewQuery(`
		SELECT g.name AS name, COUNT(e.url) AS entries, COALESCE(SUM(e.size), 0) AS bytes
		FROM generations g
		LEFT JOIN entries e ON e.generation = g.name
		GROUP BY g.name
		ORDER BY g.name ASC`).WithContext(ctx).All(&stats)
	if err != nil {
		return nil, fmt.Errorf("failed to collect generation stats: %w", err)
	}
	return stats, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func urlHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
