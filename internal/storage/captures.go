package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// CaptureBucket stores the per-color capture counters
	CaptureBucket = "captures"

	// WhiteKey and BlackKey are the two counter keys
	WhiteKey = "white"
	BlackKey = "black"
)

// ErrClosed is returned by every method after Close
var ErrClosed = errors.New("store is closed")

// Counters is the number of pieces of each color moved to capture storage
type Counters struct {
	White uint64 `json:"white"`
	Black uint64 `json:"black"`
}

// CounterStore persists capture counters across process restarts
type CounterStore interface {
	Load() (Counters, error)
	Save(Counters) error
}

// CaptureStore keeps the capture counters in a BoltDB file
type CaptureStore struct {
	db       *bbolt.DB
	dbPath   string
	isClosed bool
}

// NewCaptureStore opens (or creates) the counter database at dbPath
func NewCaptureStore(dbPath string) (*CaptureStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(CaptureBucket)); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &CaptureStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Load reads both counters; missing keys read as zero
func (s *CaptureStore) Load() (Counters, error) {
	if s.isClosed {
		return Counters{}, ErrClosed
	}

	var c Counters
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(CaptureBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		c.White = decodeCount(b.Get([]byte(WhiteKey)))
		c.Black = decodeCount(b.Get([]byte(BlackKey)))
		return nil
	})

	return c, err
}

// Save rewrites both counters in a single transaction
func (s *CaptureStore) Save(c Counters) error {
	if s.isClosed {
		return ErrClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(CaptureBucket))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		if err := b.Put([]byte(WhiteKey), encodeCount(c.White)); err != nil {
			return err
		}
		return b.Put([]byte(BlackKey), encodeCount(c.Black))
	})
}

// Reset zeroes both counters, for when the capture storage has been emptied
// by hand
func (s *CaptureStore) Reset() error {
	return s.Save(Counters{})
}

// Path returns the database file path
func (s *CaptureStore) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *CaptureStore) Close() error {
	if s.isClosed {
		return nil
	}

	s.isClosed = true
	return s.db.Close()
}

func encodeCount(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func decodeCount(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

// MemoryStore is a CounterStore that lives only as long as the process, used
// for dry runs
type MemoryStore struct {
	counters Counters
	saves    int
	mu       sync.Mutex
}

// NewMemoryStore creates a MemoryStore starting at c
func NewMemoryStore(c Counters) *MemoryStore {
	return &MemoryStore{counters: c}
}

// Load returns the stored counters
func (m *MemoryStore) Load() (Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters, nil
}

// Save replaces the stored counters
func (m *MemoryStore) Save(c Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = c
	m.saves++
	return nil
}

// Saves returns how many times Save was called
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
