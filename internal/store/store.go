// Package store provides a small transactional key-value layer. Every
// Update runs against a private overlay that is committed in one step, so a
// callback either lands all of its writes or none of them.
package store

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by KV.Get for absent keys.
var ErrNotFound = errors.New("store: key not found")

// Driver names accepted by Open.
const (
	DriverMemory  = "memory"
	DriverFile    = "file"
	DriverLevelDB = "leveldb"
)

// KV is the view a transaction callback reads and writes through.
type KV interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Set(key, value []byte) error
}

// DB runs callbacks against a consistent view of the store.
type DB interface {
	// View runs fn with read-only access; writes made by fn are rejected.
	View(fn func(kv KV) error) error
	// Update runs fn and commits its writes atomically if fn returns nil.
	Update(fn func(kv KV) error) error
	Close() error
}

// backend is what each driver implements.
type backend interface {
	get(key []byte) ([]byte, error)
	commit(writes map[string][]byte) error
	close() error
}

type db struct {
	mu      sync.RWMutex
	backend backend
	closed  bool
}

var errClosed = errors.New("store: closed")

// Open returns a DB for the named driver. path is ignored by the memory driver.
func Open(driver, path string) (DB, error) {
	var (
		b   backend
		err error
	)
	switch driver {
	case DriverMemory, "":
		b = newMemoryBackend()
	case DriverFile:
		b, err = openFileBackend(path)
	case DriverLevelDB:
		b, err = openLevelBackend(path)
	default:
		return nil, errors.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return &db{backend: b}, nil
}

// NewMemory returns an empty in-memory DB.
func NewMemory() DB {
	return &db{backend: newMemoryBackend()}
}

func (d *db) View(fn func(kv KV) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errClosed
	}
	return fn(&txn{backend: d.backend, readOnly: true})
}

func (d *db) Update(fn func(kv KV) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errClosed
	}
	tx := &txn{backend: d.backend, writes: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.writes) == 0 {
		return nil
	}
	return errors.Wrap(d.backend.commit(tx.writes), "store: commit")
}

func (d *db) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.backend.close()
}

// txn overlays staged writes on top of the backend.
type txn struct {
	backend  backend
	writes   map[string][]byte
	readOnly bool
}

var errReadOnly = errors.New("store: write in read-only view")

func (t *txn) Get(key []byte) ([]byte, error) {
	if v, ok := t.writes[string(key)]; ok {
		return clone(v), nil
	}
	return t.backend.get(key)
}

func (t *txn) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *txn) Set(key, value []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	t.writes[string(key)] = clone(value)
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
