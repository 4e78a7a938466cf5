package store

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

type levelBackend struct {
	db *leveldb.DB
}

func openLevelBackend(path string) (*levelBackend, error) {
	if path == "" {
		return nil, errors.New("store: leveldb driver needs a path")
	}
	cache := 16
	db, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*lverrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: open leveldb %s", path)
	}
	return &levelBackend{db: db}, nil
}

func (l *levelBackend) get(key []byte) ([]byte, error) {
	v, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return v, err
}

func (l *levelBackend) commit(writes map[string][]byte) error {
	batch := new(leveldb.Batch)
	for k, v := range writes {
		batch.Put([]byte(k), v)
	}
	return l.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (l *levelBackend) close() error { return l.db.Close() }
