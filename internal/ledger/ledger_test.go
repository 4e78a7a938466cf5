package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/store"
)

var (
	alice = identity.Key{1}
	bob   = identity.Key{2}
)

func TestTransfer(t *testing.T) {
	db := store.NewMemory()
	acc := NewAccounts("acct-")

	require.NoError(t, db.Update(func(kv store.KV) error {
		_, err := acc.Credit(kv, alice, 500)
		return err
	}))

	var receipt *Receipt
	require.NoError(t, db.Update(func(kv store.KV) error {
		var err error
		receipt, err = acc.Transfer(kv, alice, bob, 200)
		return err
	}))
	assert.Equal(t, uint64(200), receipt.Debited())
	assert.Equal(t, uint64(200), receipt.Credited())
	assert.Equal(t, uint64(500), receipt.From.Prev.Balance)
	assert.Equal(t, uint64(300), receipt.From.Current.Balance)

	require.NoError(t, db.View(func(kv store.KV) error {
		a, err := acc.Balance(kv, alice)
		require.NoError(t, err)
		b, err := acc.Balance(kv, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(300), a)
		assert.Equal(t, uint64(200), b)
		return nil
	}))
}

func TestTransfer_Errors(t *testing.T) {
	db := store.NewMemory()
	acc := NewAccounts("acct-")
	require.NoError(t, db.Update(func(kv store.KV) error {
		_, err := acc.Credit(kv, alice, 100)
		return err
	}))

	tests := []struct {
		name     string
		from, to identity.Key
		amount   uint64
		want     error
	}{
		{"zero", alice, bob, 0, ErrAmount},
		{"same", alice, alice, 10, ErrSendSameToRecv},
		{"short", alice, bob, 101, ErrNoBalance},
		{"empty sender", bob, alice, 1, ErrNoBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := db.Update(func(kv store.KV) error {
				_, err := acc.Transfer(kv, tt.from, tt.to, tt.amount)
				return err
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCredit_Overflow(t *testing.T) {
	db := store.NewMemory()
	acc := NewAccounts("acct-")
	err := db.Update(func(kv store.KV) error {
		if _, err := acc.Credit(kv, alice, math.MaxUint64); err != nil {
			return err
		}
		_, err := acc.Credit(kv, alice, 1)
		return err
	})
	assert.ErrorIs(t, err, ErrBalanceLimit)

	require.NoError(t, db.View(func(kv store.KV) error {
		b, err := acc.Balance(kv, alice)
		require.NoError(t, err)
		assert.Zero(t, b, "failed update must not commit")
		return nil
	}))
}
