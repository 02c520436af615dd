// Package store persists channels, threads, and compiled knowledge articles
// in SQLite. Embeddings are stored as JSON float arrays; when the sqlite-vec
// extension is available similarity search uses it, otherwise a brute-force
// cosine scan over the stored vectors serves the same queries.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"threadloom/internal/embedding"
	"threadloom/internal/logging"
)

// vecOnce registers the sqlite-vec extension for all future connections.
// Registration is process-wide; doing it per Store would be redundant.
var vecOnce sync.Once

// Sentinel errors surfaced to callers.
var (
	// ErrChannelNotFound means no channel matches (source_type, external_id).
	ErrChannelNotFound = errors.New("store: channel not found")

	// ErrArticleNotFound means no article matches the given id.
	ErrArticleNotFound = errors.New("store: article not found")

	// ErrDuplicateSource means an article for the same source URL already
	// exists. Callers treat it as a soft success: the returned id points at
	// the existing row.
	ErrDuplicateSource = errors.New("store: article for source already exists")

	// ErrNotImplemented marks contracted operations whose implementation is
	// deferred, such as re-compilation after consent revocation.
	ErrNotImplemented = errors.New("store: not implemented")
)

// Store wraps the SQLite database shared by the pipeline.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	embedder  embedding.Engine // optional; nil disables embedding at persist time
	vectorExt bool             // sqlite-vec available
}

// New opens (or creates) the database at path and prepares the schema.
// The embedder may be nil; articles are then stored without vectors.
func New(path string, embedder embedding.Engine) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "New")
	defer timer.Stop()

	logging.Store("Opening article store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	vecOnce.Do(sqlite_vec.Auto)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	// synchronous=NORMAL is safe under WAL and much faster than FULL.
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path, embedder: embedder}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.detectVecExtension()
	if s.vectorExt {
		s.initVecIndex()
	}
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
	} else {
		logging.StoreDebug("sqlite-vec not available; similarity search uses brute-force cosine")
	}

	logging.Store("Article store ready (channels, threads, articles, exports)")
	return s, nil
}

// DB exposes the underlying handle so sibling stores (graph checkpoints,
// consent registry) can share the same database file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *Store) Close() error {
	logging.StoreDebug("Closing article store")
	return s.db.Close()
}

// detectVecExtension probes for sqlite-vec.
func (s *Store) detectVecExtension() {
	var version string
	if err := s.db.QueryRow("SELECT vec_version()").Scan(&version); err == nil && version != "" {
		s.vectorExt = true
		logging.StoreDebug("sqlite-vec version %s", version)
	}
}

// initVecIndex creates the ANN index. Each row mirrors one article; the
// article id is the vec rowid, so searches join straight back to articles.
func (s *Store) initVecIndex() {
	dims := embedding.Dimensions
	if s.embedder != nil {
		dims = s.embedder.Dimensions()
	}
	ddl := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_articles USING vec0(embedding float[%d])`, dims)
	if _, err := s.db.Exec(ddl); err != nil {
		logging.Get(logging.CategoryStore).Warn("Failed to create vec_articles index, ANN disabled: %v", err)
		s.vectorExt = false
		return
	}
	logging.StoreDebug("vec_articles index ready (%d dimensions)", dims)
}
