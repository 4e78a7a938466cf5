package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAll() map[string]func(t *testing.T) DB {
	return map[string]func(t *testing.T) DB{
		DriverMemory: func(t *testing.T) DB {
			db, err := Open(DriverMemory, "")
			require.NoError(t, err)
			return db
		},
		DriverFile: func(t *testing.T) DB {
			db, err := Open(DriverFile, filepath.Join(t.TempDir(), "state.json"))
			require.NoError(t, err)
			return db
		},
		DriverLevelDB: func(t *testing.T) DB {
			db, err := Open(DriverLevelDB, filepath.Join(t.TempDir(), "ledger"))
			require.NoError(t, err)
			return db
		},
	}
}

func TestUpdate_CommitAndRollback(t *testing.T) {
	for name, open := range openAll() {
		t.Run(name, func(t *testing.T) {
			db := open(t)
			defer db.Close()

			require.NoError(t, db.Update(func(kv KV) error {
				return kv.Set([]byte("a"), []byte("1"))
			}))

			boom := errors.New("boom")
			err := db.Update(func(kv KV) error {
				require.NoError(t, kv.Set([]byte("a"), []byte("2")))
				require.NoError(t, kv.Set([]byte("b"), []byte("3")))
				// staged writes are visible inside the transaction
				v, err := kv.Get([]byte("a"))
				require.NoError(t, err)
				assert.Equal(t, []byte("2"), v)
				return boom
			})
			assert.ErrorIs(t, err, boom)

			require.NoError(t, db.View(func(kv KV) error {
				v, err := kv.Get([]byte("a"))
				require.NoError(t, err)
				assert.Equal(t, []byte("1"), v)

				ok, err := kv.Has([]byte("b"))
				require.NoError(t, err)
				assert.False(t, ok)

				_, err = kv.Get([]byte("b"))
				assert.ErrorIs(t, err, ErrNotFound)
				return nil
			}))
		})
	}
}

func TestView_ReadOnly(t *testing.T) {
	db := NewMemory()
	err := db.View(func(kv KV) error {
		return kv.Set([]byte("k"), []byte("v"))
	})
	assert.Error(t, err)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	for _, driver := range []string{DriverFile, DriverLevelDB} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(dir, driver)
			db, err := Open(driver, path)
			require.NoError(t, err)
			require.NoError(t, db.Update(func(kv KV) error {
				return kv.Set([]byte("round"), []byte{1})
			}))
			require.NoError(t, db.Close())

			db, err = Open(driver, path)
			require.NoError(t, err)
			defer db.Close()
			require.NoError(t, db.View(func(kv KV) error {
				v, err := kv.Get([]byte("round"))
				require.NoError(t, err)
				assert.Equal(t, []byte{1}, v)
				return nil
			}))
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open("bolt", "x")
	assert.Error(t, err)
	_, err = Open(DriverFile, "")
	assert.Error(t, err)
	_, err = Open(DriverLevelDB, "")
	assert.Error(t, err)
}

func TestClosed(t *testing.T) {
	db := NewMemory()
	require.NoError(t, db.Close())
	assert.Error(t, db.Update(func(KV) error { return nil }))
	assert.NoError(t, db.Close())
}

func TestFileBackend_BinaryKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	db, err := Open(DriverFile, path)
	require.NoError(t, err)

	// invalid UTF-8 keys must stay distinct on disk
	k1 := []byte{0xff, 0x01}
	k2 := []byte{0xfe, 0x01}
	require.NoError(t, db.Update(func(kv KV) error {
		require.NoError(t, kv.Set(k1, []byte("one")))
		return kv.Set(k2, []byte("two"))
	}))
	require.NoError(t, db.Close())

	db, err = Open(DriverFile, path)
	require.NoError(t, err)
	require.NoError(t, db.View(func(kv KV) error {
		v, err := kv.Get(k1)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), v)
		v, err = kv.Get(k2)
		require.NoError(t, err)
		assert.Equal(t, []byte("two"), v)
		return nil
	}))
}

func TestOpen_SingleOpener(t *testing.T) {
	for _, driver := range []string{DriverFile, DriverLevelDB} {
		t.Run(driver, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), driver)
			first, err := Open(driver, path)
			require.NoError(t, err)
			require.NoError(t, first.Update(func(kv KV) error {
				return kv.Set([]byte("deposited"), []byte{250})
			}))

			_, err = Open(driver, path)
			require.Error(t, err, "a second opener would write from a stale copy")

			require.NoError(t, first.Close())
			again, err := Open(driver, path)
			require.NoError(t, err)
			defer again.Close()
			require.NoError(t, again.View(func(kv KV) error {
				v, err := kv.Get([]byte("deposited"))
				require.NoError(t, err)
				assert.Equal(t, []byte{250}, v)
				return nil
			}))
		})
	}
}
