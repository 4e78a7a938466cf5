package recorder

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/split"
)

func TestSQLiteRecorder(t *testing.T) {
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer r.Close()

	lottery := identity.Key{9}
	cfg := &model.RoundConfig{
		Authority:     identity.Key{1},
		TicketPrice:   100,
		RoundDuration: 3600,
		PurchaseBps:   9000,
		OwnerBps:      1000,
		Round:         1,
		RoundStart:    1000,
		RoundEnd:      4600,
	}
	require.NoError(t, r.RecordInit(&InitEvent{Lottery: lottery, Config: cfg}))

	require.NoError(t, r.RecordDeposit(&model.DepositReceipt{
		Lottery: lottery, Depositor: identity.Key{2}, Round: 1,
		Amount: 250, Deposited: 250, Tickets: 2, At: 1001,
	}))
	// totals above MaxInt64 still record
	require.NoError(t, r.RecordDeposit(&model.DepositReceipt{
		Lottery: lottery, Depositor: identity.Key{3}, Round: 1,
		Amount: math.MaxUint64 - 250, Deposited: math.MaxUint64, At: 1002,
	}))

	next := *cfg
	next.Round = 2
	require.NoError(t, r.RecordRollover(&RolloverEvent{
		Settlement: &model.Settlement{
			Lottery: lottery, Round: 1, Start: 1000, End: 4600,
			Deposited: 250, Tickets: 2, Pools: split.Pools{Purchase: 225, Owner: 25},
			SettledAt: 4601, Phase: model.PhaseSettled,
		},
		Next: &next,
	}))

	counts := map[string]int{"lottery_inits": 1, "deposits": 2, "rollovers": 1}
	for table, want := range counts {
		var n int
		require.NoError(t, r.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		assert.Equal(t, want, n, table)
	}

	var big string
	require.NoError(t, r.db.QueryRow("SELECT deposited FROM deposits WHERE timestamp = 1002").Scan(&big))
	assert.Equal(t, "18446744073709551615", big)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NewNoopRecorder()
	assert.NoError(t, r.RecordInit(&InitEvent{}))
	assert.NoError(t, r.RecordDeposit(&model.DepositReceipt{}))
	assert.NoError(t, r.RecordRollover(&RolloverEvent{}))
	assert.NoError(t, r.Close())
}
