package store

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// fileState is the on-disk JSON document of the file driver. Keys are hex
// encoded since store keys are arbitrary bytes.
type fileState struct {
	Entries   map[string][]byte `json:"entries"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// fileBackend keeps the whole store in memory and rewrites a JSON document
// on every commit. Suited to a single small deployment.
//
// The state is only read once, so the backend holds an exclusive lock on
// "<path>.lock" until close and a second opener fails instead of
// overwriting commits it never saw.
type fileBackend struct {
	path  string
	lock  storage.Storage
	state *fileState
}

func openFileBackend(path string) (*fileBackend, error) {
	if path == "" {
		return nil, errors.New("store: file driver needs a path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	lock, err := storage.OpenFile(path+".lock", false)
	if err != nil {
		return nil, errors.Wrapf(err, "store: %s is in use", path)
	}
	state, err := loadFileState(path)
	if err != nil {
		lock.Close()
		return nil, err
	}
	return &fileBackend{path: path, lock: lock, state: state}, nil
}

// loadFileState returns an empty state if the file doesn't exist.
func loadFileState(path string) (*fileState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &fileState{Entries: make(map[string][]byte)}, nil
		}
		return nil, errors.Wrap(err, "store: read state file")
	}
	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "store: decode state file")
	}
	if state.Entries == nil {
		state.Entries = make(map[string][]byte)
	}
	return &state, nil
}

func (f *fileBackend) get(key []byte) ([]byte, error) {
	v, ok := f.state.Entries[hex.EncodeToString(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

// commit writes the merged state to a temp file and renames it into place,
// then swaps the in-memory state. A failed write leaves both untouched.
func (f *fileBackend) commit(writes map[string][]byte) error {
	next := &fileState{Entries: make(map[string][]byte, len(f.state.Entries)+len(writes))}
	for k, v := range f.state.Entries {
		next.Entries[k] = v
	}
	for k, v := range writes {
		next.Entries[hex.EncodeToString([]byte(k))] = v
	}
	next.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return err
	}
	f.state = next
	return nil
}

func (f *fileBackend) close() error { return f.lock.Close() }
