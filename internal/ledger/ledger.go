// Package ledger keeps custody balances for depositors and lottery vaults.
package ledger

import (
	"math/bits"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/store"
)

var (
	ErrAmount         = errors.New("ledger: amount must be positive")
	ErrNoBalance      = errors.New("ledger: insufficient balance")
	ErrSendSameToRecv = errors.New("ledger: sender and receiver are the same")
	ErrBalanceLimit   = errors.New("ledger: balance would overflow")
)

// Account is a single balance entry.
type Account struct {
	Owner   identity.Key `cbor:"1,keyasint"`
	Balance uint64       `cbor:"2,keyasint"`
}

// BalanceChange records an account before and after a mutation.
type BalanceChange struct {
	Prev    Account
	Current Account
}

// Receipt describes the balances touched by a transfer.
type Receipt struct {
	From BalanceChange
	To   BalanceChange
}

// Debited returns how much left the sender according to the receipt.
func (r *Receipt) Debited() uint64 { return r.From.Prev.Balance - r.From.Current.Balance }

// Credited returns how much reached the receiver according to the receipt.
func (r *Receipt) Credited() uint64 { return r.To.Current.Balance - r.To.Prev.Balance }

// Ledger moves value between accounts inside a store transaction.
type Ledger interface {
	Balance(kv store.KV, owner identity.Key) (uint64, error)
	Credit(kv store.KV, owner identity.Key, amount uint64) (*BalanceChange, error)
	Transfer(kv store.KV, from, to identity.Key, amount uint64) (*Receipt, error)
}

// Accounts is the KV-backed Ledger.
type Accounts struct {
	prefix []byte
}

// NewAccounts returns a ledger whose account keys start with prefix.
func NewAccounts(prefix string) *Accounts {
	return &Accounts{prefix: []byte(prefix)}
}

// AccountKey returns the store key of owner's account.
func (a *Accounts) AccountKey(owner identity.Key) []byte {
	key := make([]byte, 0, len(a.prefix)+identity.KeySize)
	key = append(key, a.prefix...)
	return append(key, owner[:]...)
}

func (a *Accounts) load(kv store.KV, owner identity.Key) (Account, error) {
	value, err := kv.Get(a.AccountKey(owner))
	if errors.Is(err, store.ErrNotFound) {
		return Account{Owner: owner}, nil
	}
	if err != nil {
		return Account{}, errors.Wrapf(err, "ledger: load %s", owner)
	}
	var acc Account
	if err := cbor.Unmarshal(value, &acc); err != nil {
		return Account{}, errors.Wrapf(err, "ledger: decode %s", owner)
	}
	return acc, nil
}

func (a *Accounts) save(kv store.KV, acc Account) error {
	value, err := cbor.Marshal(acc)
	if err != nil {
		return errors.Wrapf(err, "ledger: encode %s", acc.Owner)
	}
	return kv.Set(a.AccountKey(acc.Owner), value)
}

func (a *Accounts) Balance(kv store.KV, owner identity.Key) (uint64, error) {
	acc, err := a.load(kv, owner)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit adds newly issued funds to owner's account.
func (a *Accounts) Credit(kv store.KV, owner identity.Key, amount uint64) (*BalanceChange, error) {
	if amount == 0 {
		return nil, ErrAmount
	}
	acc, err := a.load(kv, owner)
	if err != nil {
		return nil, err
	}
	prev := acc
	sum, carry := bits.Add64(acc.Balance, amount, 0)
	if carry != 0 {
		return nil, ErrBalanceLimit
	}
	acc.Balance = sum
	if err := a.save(kv, acc); err != nil {
		return nil, err
	}
	return &BalanceChange{Prev: prev, Current: acc}, nil
}

func (a *Accounts) Transfer(kv store.KV, from, to identity.Key, amount uint64) (*Receipt, error) {
	if amount == 0 {
		return nil, ErrAmount
	}
	if from == to {
		return nil, ErrSendSameToRecv
	}
	accFrom, err := a.load(kv, from)
	if err != nil {
		return nil, err
	}
	accTo, err := a.load(kv, to)
	if err != nil {
		return nil, err
	}
	if accFrom.Balance < amount {
		return nil, errors.Wrapf(ErrNoBalance, "%s holds %d, needs %d", from, accFrom.Balance, amount)
	}
	sum, carry := bits.Add64(accTo.Balance, amount, 0)
	if carry != 0 {
		return nil, ErrBalanceLimit
	}

	receipt := &Receipt{
		From: BalanceChange{Prev: accFrom},
		To:   BalanceChange{Prev: accTo},
	}
	accFrom.Balance -= amount
	accTo.Balance = sum
	if err := a.save(kv, accFrom); err != nil {
		return nil, err
	}
	if err := a.save(kv, accTo); err != nil {
		return nil, err
	}
	receipt.From.Current = accFrom
	receipt.To.Current = accTo
	return receipt, nil
}
