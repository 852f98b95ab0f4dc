// Package storage provides the durable key-value store backing a machine
// instance: string keys mapped to 256-bit words, surviving process
// restarts via SQLite.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
	_ "modernc.org/sqlite"
)

// ErrNotFound indicates a load of a key that was never stored.
var ErrNotFound = errors.New("key not found")

// ErrClosed indicates an operation on a store after Close.
var ErrClosed = errors.New("store is closed")

var log = commonlog.GetLogger("stackvm.storage")

// Store is a durable key->word mapping. Keys are unique; the last write
// wins. A Store serializes its own operations but offers no multi-writer
// guarantee across processes.
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// Open opens or creates the store at path and bootstraps its schema. The
// returned handle must be released with Close; Open itself releases the
// half-open connection on every failure path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Create table if needed
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS storage (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Debugf("opened store at %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the storage location the store was opened at.
func (s *Store) Path() string {
	return s.path
}

// Put upserts the value for key, overwriting any existing value.
func (s *Store) Put(key string, value uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	// Words exceed SQLite's 64-bit integers, so values persist as hex text.
	_, err := s.db.Exec(`INSERT OR REPLACE INTO storage (key, value) VALUES (?, ?)`, key, value.Hex())
	if err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) (uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uint256.Int{}, ErrClosed
	}

	var text string
	err := s.db.QueryRow(`SELECT value FROM storage WHERE key = ?`, key).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return uint256.Int{}, fmt.Errorf("%q: %w", key, ErrNotFound)
	}
	if err != nil {
		return uint256.Int{}, fmt.Errorf("loading %q: %w", key, err)
	}

	value, err := uint256.FromHex(text)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("corrupt value for %q: %w", key, err)
	}
	return *value, nil
}

// Count returns the number of persisted entries.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM storage`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return count, nil
}

// Close flushes and releases the underlying database. Close is idempotent;
// every other operation after it fails with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	log.Debugf("closing store at %s", s.path)
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
