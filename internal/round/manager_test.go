package round

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/ledger"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/store"
)

var (
	authority = identity.Key{0xA1}
	alice     = identity.Key{0xB1}
	bob       = identity.Key{0xB2}
	mallory   = identity.Key{0xEE}

	t0 = time.Unix(1_700_000_000, 0)
)

var scenarioParams = InitParams{TicketPrice: 100, RoundDuration: 3600, PurchaseBps: 9000, OwnerBps: 1000}

type fixture struct {
	db      store.DB
	ledger  ledger.Ledger
	clock   *ManualClock
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLedger(t, ledger.NewAccounts("acct-"))
}

func newFixtureWithLedger(t *testing.T, l ledger.Ledger) *fixture {
	t.Helper()
	f := &fixture{db: store.NewMemory(), ledger: l, clock: NewManualClock(t0)}
	m, err := NewManager(f.db, l, Options{Name: "test", Clock: f.clock})
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *fixture) credit(t *testing.T, owner identity.Key, amount uint64) {
	t.Helper()
	require.NoError(t, f.db.Update(func(kv store.KV) error {
		_, err := f.ledger.Credit(kv, owner, amount)
		return err
	}))
}

func (f *fixture) balance(t *testing.T, owner identity.Key) uint64 {
	t.Helper()
	var b uint64
	require.NoError(t, f.db.View(func(kv store.KV) error {
		var err error
		b, err = f.ledger.Balance(kv, owner)
		return err
	}))
	return b
}

func (f *fixture) initLottery(t *testing.T, p InitParams) identity.Key {
	t.Helper()
	addr, err := f.manager.Initialize(context.Background(), authority, p)
	require.NoError(t, err)
	return addr
}

func (f *fixture) deposit(lottery identity.Key, from identity.Key, amount uint64) (*model.DepositReceipt, error) {
	return f.manager.Deposit(context.Background(), DepositRequest{
		Lottery: lottery, Authority: authority, Depositor: from, Amount: amount,
	})
}

func (f *fixture) deposited(t *testing.T, lottery identity.Key) uint64 {
	t.Helper()
	st, err := f.manager.Status(context.Background(), lottery)
	require.NoError(t, err)
	return st.Config.Deposited
}

func TestInitialize_InvalidSplits(t *testing.T) {
	tests := []struct {
		purchase, owner uint16
	}{
		{9000, 999},
		{9000, 1001},
		{0, 0},
		{10000, 1},
		{60000, 15536},
		{math.MaxUint16, math.MaxUint16},
	}
	for _, tt := range tests {
		f := newFixture(t)
		_, err := f.manager.Initialize(context.Background(), authority, InitParams{
			TicketPrice: 100, RoundDuration: 60, PurchaseBps: tt.purchase, OwnerBps: tt.owner,
		})
		assert.ErrorIs(t, err, ErrInvalidSplits, "purchase=%d owner=%d", tt.purchase, tt.owner)

		_, err = f.manager.Status(context.Background(), f.manager.Address(authority))
		assert.ErrorIs(t, err, ErrNotFound, "no record may be created")
	}
}

func TestInitialize_ValidSplits(t *testing.T) {
	splits := [][2]uint16{{10000, 0}, {0, 10000}, {9000, 1000}, {5000, 5000}, {1, 9999}}
	for _, s := range splits {
		f := newFixture(t)
		addr := f.initLottery(t, InitParams{TicketPrice: 5, RoundDuration: 600, PurchaseBps: s[0], OwnerBps: s[1]})
		assert.Equal(t, f.manager.Address(authority), addr)

		st, err := f.manager.Status(context.Background(), addr)
		require.NoError(t, err)
		c := st.Config
		assert.Equal(t, authority, c.Authority)
		assert.Equal(t, uint64(1), c.Round)
		assert.Zero(t, c.Deposited)
		assert.Equal(t, t0.Unix(), c.RoundStart)
		assert.Equal(t, c.RoundStart+c.RoundDuration, c.RoundEnd)
		assert.Equal(t, s[0], c.PurchaseBps)
		assert.Equal(t, s[1], c.OwnerBps)
		assert.Equal(t, model.PhaseOpen, st.Phase)
		assert.Equal(t, int64(600), st.Remaining)
	}
}

func TestInitialize_RejectsBadParams(t *testing.T) {
	tests := []struct {
		name string
		p    InitParams
		want error
	}{
		{"zero price", InitParams{TicketPrice: 0, RoundDuration: 60, PurchaseBps: 9000, OwnerBps: 1000}, ErrInvalidTicketPrice},
		{"zero duration", InitParams{TicketPrice: 1, RoundDuration: 0, PurchaseBps: 9000, OwnerBps: 1000}, ErrInvalidDuration},
		{"negative duration", InitParams{TicketPrice: 1, RoundDuration: -5, PurchaseBps: 9000, OwnerBps: 1000}, ErrInvalidDuration},
		{"end overflows", InitParams{TicketPrice: 1, RoundDuration: math.MaxInt64, PurchaseBps: 9000, OwnerBps: 1000}, ErrInvalidDuration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.manager.Initialize(context.Background(), authority, tt.p)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	f := newFixture(t)
	_, err := f.manager.Initialize(context.Background(), identity.Key{}, scenarioParams)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInitialize_Twice(t *testing.T) {
	f := newFixture(t)
	f.initLottery(t, scenarioParams)
	_, err := f.manager.Initialize(context.Background(), authority, InitParams{
		TicketPrice: 1, RoundDuration: 1, PurchaseBps: 10000,
	})
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	st, err := f.manager.Status(context.Background(), f.manager.Address(authority))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), st.Config.TicketPrice, "original record kept")
}

func TestDeposit_Scenario(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 1000)
	lottery := f.initLottery(t, scenarioParams)

	r, err := f.deposit(lottery, alice, 250)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), r.Deposited)
	assert.Equal(t, uint64(2), r.Tickets)
	assert.Equal(t, uint64(250), f.deposited(t, lottery))

	f.clock.Set(t0.Add(3601 * time.Second))
	_, err = f.deposit(lottery, alice, 150)
	assert.ErrorIs(t, err, ErrRoundClosed)
	assert.Equal(t, uint64(250), f.deposited(t, lottery))
	assert.Equal(t, uint64(750), f.balance(t, alice))
	assert.Equal(t, uint64(250), f.balance(t, lottery))
}

func TestDeposit_OpenUntilRoundEnd(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 10)
	lottery := f.initLottery(t, scenarioParams)

	f.clock.Set(t0.Add(3600 * time.Second))
	_, err := f.deposit(lottery, alice, 1)
	require.NoError(t, err, "deposit at round_end is accepted")

	f.clock.Advance(time.Second)
	_, err = f.deposit(lottery, alice, 1)
	assert.ErrorIs(t, err, ErrRoundClosed)
}

func TestDeposit_SumIsExact(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 1_000_000)
	f.credit(t, bob, 1_000_000)
	lottery := f.initLottery(t, scenarioParams)

	amounts := []uint64{1, 99, 100, 12345, 7, 50_000, 3}
	var sum uint64
	for i, a := range amounts {
		from := alice
		if i%2 == 1 {
			from = bob
		}
		f.clock.Advance(10 * time.Second)
		r, err := f.deposit(lottery, from, a)
		require.NoError(t, err)
		sum += a
		assert.Equal(t, sum, r.Deposited)
	}
	assert.Equal(t, sum, f.deposited(t, lottery))
	assert.Equal(t, sum, f.balance(t, lottery))
	assert.Equal(t, uint64(2_000_000)-sum, f.balance(t, alice)+f.balance(t, bob))
}

func TestDeposit_Concurrent(t *testing.T) {
	const (
		depositors = 8
		perWorker  = 25
	)
	tests := []struct {
		name     string
		managers int
	}{
		{"one manager", 1},
		{"two managers on one store", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			lottery := f.initLottery(t, scenarioParams)
			managers := []*Manager{f.manager}
			for len(managers) < tt.managers {
				m, err := NewManager(f.db, f.ledger, Options{Name: "test", Clock: f.clock})
				require.NoError(t, err)
				managers = append(managers, m)
			}

			var want uint64
			keys := make([]identity.Key, depositors)
			for i := range keys {
				keys[i] = identity.Key{0xC0, byte(i)}
				f.credit(t, keys[i], 1_000_000)
				for j := 0; j < perWorker; j++ {
					want += uint64(i*100 + j + 1)
				}
			}

			var wg sync.WaitGroup
			for i, key := range keys {
				wg.Add(1)
				go func(i int, key identity.Key) {
					defer wg.Done()
					m := managers[i%len(managers)]
					for j := 0; j < perWorker; j++ {
						_, err := m.Deposit(context.Background(), DepositRequest{
							Lottery: lottery, Authority: authority, Depositor: key, Amount: uint64(i*100 + j + 1),
						})
						assert.NoError(t, err)
					}
				}(i, key)
			}
			wg.Wait()

			assert.Equal(t, want, f.deposited(t, lottery))
			assert.Equal(t, want, f.balance(t, lottery))
			var left uint64
			for _, key := range keys {
				left += f.balance(t, key)
			}
			assert.Equal(t, uint64(depositors*1_000_000)-want, left)
		})
	}
}

func TestDeposit_Overflow(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, math.MaxUint64)
	lottery := f.initLottery(t, scenarioParams)

	_, err := f.deposit(lottery, alice, math.MaxUint64-10)
	require.NoError(t, err)

	_, err = f.deposit(lottery, alice, 11)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, uint64(math.MaxUint64-10), f.deposited(t, lottery))
	assert.Equal(t, uint64(10), f.balance(t, alice), "no funds move on overflow")

	_, err = f.deposit(lottery, alice, 10)
	require.NoError(t, err, "filling up to the maximum is fine")
	assert.Equal(t, uint64(math.MaxUint64), f.deposited(t, lottery))
}

func TestDeposit_AuthorityMismatch(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 100)
	lottery := f.initLottery(t, scenarioParams)

	_, err := f.manager.Deposit(context.Background(), DepositRequest{
		Lottery: lottery, Authority: mallory, Depositor: alice, Amount: 50,
	})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, f.deposited(t, lottery))
	assert.Equal(t, uint64(100), f.balance(t, alice))
}

func TestDeposit_AnySignerMayDeposit(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 100)
	f.credit(t, bob, 100)
	lottery := f.initLottery(t, scenarioParams)

	for _, who := range []identity.Key{alice, bob} {
		r, err := f.deposit(lottery, who, 100)
		require.NoError(t, err)
		assert.Equal(t, who, r.Depositor)
	}
	assert.Equal(t, uint64(200), f.deposited(t, lottery))
}

func TestDeposit_Rejections(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 100)
	lottery := f.initLottery(t, scenarioParams)

	_, err := f.deposit(lottery, alice, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.deposit(lottery, alice, 101)
	assert.ErrorIs(t, err, ledger.ErrNoBalance)

	_, err = f.deposit(identity.Key{0x42}, alice, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, f.deposited(t, lottery))
	assert.Equal(t, uint64(100), f.balance(t, alice))
}

// skimLedger delivers one unit less than asked, like a transfer that
// charges a hidden fee.
type skimLedger struct {
	*ledger.Accounts
}

func (s skimLedger) Transfer(kv store.KV, from, to identity.Key, amount uint64) (*ledger.Receipt, error) {
	return s.Accounts.Transfer(kv, from, to, amount-1)
}

func TestDeposit_AmountMismatch(t *testing.T) {
	f := newFixtureWithLedger(t, skimLedger{ledger.NewAccounts("acct-")})
	f.credit(t, alice, 100)
	lottery := f.initLottery(t, scenarioParams)

	_, err := f.deposit(lottery, alice, 50)
	assert.ErrorIs(t, err, ErrAmountMismatch)
	assert.Zero(t, f.deposited(t, lottery))
	assert.Equal(t, uint64(100), f.balance(t, alice), "skimmed transfer is rolled back")
	assert.Zero(t, f.balance(t, lottery))
}

func TestDepositTickets(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 1000)
	lottery := f.initLottery(t, scenarioParams)

	req := DepositRequest{Lottery: lottery, Authority: authority, Depositor: alice}
	r, err := f.manager.DepositTickets(context.Background(), req, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), r.Amount)
	assert.Equal(t, uint64(3), r.Tickets)

	_, err = f.manager.DepositTickets(context.Background(), req, math.MaxUint64)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRollover(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 1000)
	lottery := f.initLottery(t, scenarioParams)
	ctx := context.Background()

	_, err := f.deposit(lottery, alice, 250)
	require.NoError(t, err)

	_, err = f.manager.Rollover(ctx, lottery, authority)
	assert.ErrorIs(t, err, ErrRoundOpen)

	f.clock.Set(t0.Add(4000 * time.Second))
	st, err := f.manager.Status(ctx, lottery)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseClosed, st.Phase)
	assert.Zero(t, st.Remaining)

	_, err = f.manager.Rollover(ctx, lottery, mallory)
	assert.ErrorIs(t, err, ErrUnauthorized)

	s, err := f.manager.Rollover(ctx, lottery, authority)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseSettled, s.Phase)
	assert.Equal(t, uint64(1), s.Round)
	assert.Equal(t, uint64(250), s.Deposited)
	assert.Equal(t, uint64(2), s.Tickets)
	assert.Equal(t, uint64(225), s.Pools.Purchase)
	assert.Equal(t, uint64(25), s.Pools.Owner)
	assert.Equal(t, t0.Unix(), s.Start)
	assert.Equal(t, t0.Unix()+3600, s.End)
	assert.Equal(t, t0.Unix()+4000, s.SettledAt)

	st, err = f.manager.Status(ctx, lottery)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseOpen, st.Phase)
	assert.Equal(t, uint64(2), st.Config.Round)
	assert.Zero(t, st.Config.Deposited)
	assert.Equal(t, t0.Unix()+4000, st.Config.RoundStart)
	assert.Equal(t, st.Config.RoundStart+st.Config.RoundDuration, st.Config.RoundEnd)
	assert.Equal(t, uint64(250), st.Custody, "settled funds stay in custody")

	_, err = f.manager.Rollover(ctx, lottery, authority)
	assert.ErrorIs(t, err, ErrRoundOpen, "fresh round cannot be rolled over")

	r, err := f.deposit(lottery, alice, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Round)
	assert.Equal(t, uint64(100), r.Deposited)
}

func TestStatus_DerivedValues(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 1000)
	lottery := f.initLottery(t, scenarioParams)

	_, err := f.deposit(lottery, alice, 999)
	require.NoError(t, err)

	st, err := f.manager.Status(context.Background(), lottery)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), st.Tickets, "partial tickets round down")
	assert.Equal(t, uint64(899), st.Pools.Purchase)
	assert.Equal(t, uint64(100), st.Pools.Owner)
	assert.Equal(t, uint64(999), st.Custody)
}

func TestManager_PersistsAcrossInstances(t *testing.T) {
	f := newFixture(t)
	f.credit(t, alice, 500)
	lottery := f.initLottery(t, scenarioParams)
	_, err := f.deposit(lottery, alice, 300)
	require.NoError(t, err)

	fresh, err := NewManager(f.db, f.ledger, Options{Name: "test", Clock: f.clock})
	require.NoError(t, err)
	st, err := fresh.Status(context.Background(), lottery)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), st.Config.Deposited)
}

func TestManager_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.manager.Initialize(ctx, authority, scenarioParams)
	assert.True(t, errors.Is(err, context.Canceled))
}
