package round

import (
	"github.com/fxamacker/cbor/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/store"
)

const recordPrefix = "lottery-"

// records encodes RoundConfig values under their lottery address and keeps
// recently committed ones in an LRU cache. The cache is only written after a
// commit, never from inside a transaction.
type records struct {
	cache *lru.Cache
}

func newRecords(size int) (*records, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &records{cache: c}, nil
}

func recordKey(addr identity.Key) []byte {
	return append([]byte(recordPrefix), addr[:]...)
}

func (r *records) load(kv store.KV, addr identity.Key) (*model.RoundConfig, error) {
	value, err := kv.Get(recordKey(addr))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.Wrapf(ErrNotFound, "lottery %s", addr)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load lottery %s", addr)
	}
	var cfg model.RoundConfig
	if err := cbor.Unmarshal(value, &cfg); err != nil {
		return nil, errors.Wrapf(err, "decode lottery %s", addr)
	}
	return &cfg, nil
}

// create stores a new record, refusing to overwrite an existing one.
func (r *records) create(kv store.KV, addr identity.Key, cfg *model.RoundConfig) error {
	exists, err := kv.Has(recordKey(addr))
	if err != nil {
		return errors.Wrapf(err, "check lottery %s", addr)
	}
	if exists {
		return errors.Wrapf(ErrAlreadyInitialized, "lottery %s", addr)
	}
	return r.put(kv, addr, cfg)
}

func (r *records) put(kv store.KV, addr identity.Key, cfg *model.RoundConfig) error {
	value, err := cbor.Marshal(cfg)
	if err != nil {
		return errors.Wrapf(err, "encode lottery %s", addr)
	}
	return kv.Set(recordKey(addr), value)
}

func (r *records) cached(addr identity.Key) (*model.RoundConfig, bool) {
	v, ok := r.cache.Get(addr)
	if !ok {
		return nil, false
	}
	cfg := *v.(*model.RoundConfig)
	return &cfg, true
}

func (r *records) remember(addr identity.Key, cfg *model.RoundConfig) {
	c := *cfg
	r.cache.Add(addr, &c)
}
