package round

import (
	"context"
	"log"
	"math"
	"math/bits"
	"sync"

	"github.com/pkg/errors"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/ledger"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/recorder"
	"LotteryKeeper/internal/split"
	"LotteryKeeper/internal/store"
)

// InitParams configures a new lottery.
type InitParams struct {
	TicketPrice   uint64
	RoundDuration int64 // seconds
	PurchaseBps   uint16
	OwnerBps      uint16
}

// DepositRequest asks to move Amount from Depositor into a lottery.
// Authority is the owner the depositor expects the lottery to have; a
// mismatch is rejected before anything is touched.
type DepositRequest struct {
	Lottery   identity.Key
	Authority identity.Key
	Depositor identity.Key
	Amount    uint64
}

// Options tunes a Manager. Zero values pick defaults.
type Options struct {
	Name      string // deployment name mixed into lottery addresses
	CacheSize int
	Clock     Clock
	Recorder  recorder.Recorder
}

// Manager runs the round lifecycle and deposit accounting for lotteries
// kept in a store.DB. All mutations go through one store transaction each.
type Manager struct {
	mu       sync.Mutex
	db       store.DB
	ledger   ledger.Ledger
	clock    Clock
	records  *records
	recorder recorder.Recorder
	name     string
}

// NewManager creates a Manager on top of db and l.
func NewManager(db store.DB, l ledger.Ledger, opts Options) (*Manager, error) {
	recs, err := newRecords(opts.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "create record cache")
	}
	m := &Manager{
		db:       db,
		ledger:   l,
		clock:    opts.Clock,
		records:  recs,
		recorder: opts.Recorder,
		name:     opts.Name,
	}
	if m.clock == nil {
		m.clock = SystemClock{}
	}
	if m.recorder == nil {
		m.recorder = recorder.NewNoopRecorder()
	}
	return m, nil
}

// Address returns the lottery address owned by authority in this deployment.
func (m *Manager) Address(authority identity.Key) identity.Key {
	return identity.DeriveAddress(authority, m.name)
}

func (m *Manager) now() int64 { return m.clock.Now().Unix() }

// Initialize creates the lottery owned by authority and opens round 1.
func (m *Manager) Initialize(ctx context.Context, authority identity.Key, p InitParams) (identity.Key, error) {
	if err := ctx.Err(); err != nil {
		return identity.Key{}, err
	}
	if authority.IsZero() {
		return identity.Key{}, errors.Wrap(ErrUnauthorized, "empty authority")
	}
	if !split.Valid(p.PurchaseBps, p.OwnerBps) {
		return identity.Key{}, errors.Wrapf(ErrInvalidSplits, "purchase %d + owner %d bps", p.PurchaseBps, p.OwnerBps)
	}
	if p.TicketPrice == 0 {
		return identity.Key{}, ErrInvalidTicketPrice
	}
	if p.RoundDuration <= 0 {
		return identity.Key{}, errors.Wrapf(ErrInvalidDuration, "%d seconds", p.RoundDuration)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.now()
	end, ok := addInt64(start, p.RoundDuration)
	if !ok {
		return identity.Key{}, errors.Wrapf(ErrInvalidDuration, "%d seconds from %d", p.RoundDuration, start)
	}
	addr := m.Address(authority)
	cfg := &model.RoundConfig{
		Authority:     authority,
		TicketPrice:   p.TicketPrice,
		RoundDuration: p.RoundDuration,
		PurchaseBps:   p.PurchaseBps,
		OwnerBps:      p.OwnerBps,
		Round:         1,
		RoundStart:    start,
		RoundEnd:      end,
	}
	if err := m.db.Update(func(kv store.KV) error {
		return m.records.create(kv, addr, cfg)
	}); err != nil {
		return identity.Key{}, err
	}
	m.records.remember(addr, cfg)

	log.Printf("[INFO] lottery %s initialized by %s: ticket_price=%d duration=%ds split=%d/%d",
		addr, authority, cfg.TicketPrice, cfg.RoundDuration, cfg.PurchaseBps, cfg.OwnerBps)
	if err := m.recorder.RecordInit(&recorder.InitEvent{Lottery: addr, Config: cfg}); err != nil {
		log.Printf("[ERROR] record init: %v", err)
	}
	return addr, nil
}

// Deposit moves req.Amount from the depositor into the lottery's custody
// account and adds it to the round total. The ledger receipt must show the
// exact amount moving, otherwise nothing is committed.
func (m *Manager) Deposit(ctx context.Context, req DepositRequest) (*model.DepositReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		cfg     *model.RoundConfig
		receipt *model.DepositReceipt
	)
	err := m.db.Update(func(kv store.KV) error {
		c, err := m.records.load(kv, req.Lottery)
		if err != nil {
			return err
		}
		if c.Authority != req.Authority {
			return errors.Wrapf(ErrUnauthorized, "lottery %s is not owned by %s", req.Lottery, req.Authority)
		}
		now := m.now()
		if c.Phase(now) != model.PhaseOpen {
			return errors.Wrapf(ErrRoundClosed, "round %d ended at %d", c.Round, c.RoundEnd)
		}
		if req.Amount == 0 {
			return ErrInvalidAmount
		}
		total, carry := bits.Add64(c.Deposited, req.Amount, 0)
		if carry != 0 {
			return errors.Wrapf(ErrOverflow, "deposited %d + %d", c.Deposited, req.Amount)
		}

		tr, err := m.ledger.Transfer(kv, req.Depositor, req.Lottery, req.Amount)
		if err != nil {
			return errors.Wrap(err, "deposit transfer")
		}
		if tr.Debited() != req.Amount || tr.Credited() != req.Amount {
			return errors.Wrapf(ErrAmountMismatch, "declared %d, debited %d, credited %d",
				req.Amount, tr.Debited(), tr.Credited())
		}

		c.Deposited = total
		if err := m.records.put(kv, req.Lottery, c); err != nil {
			return err
		}
		cfg = c
		receipt = &model.DepositReceipt{
			Lottery:   req.Lottery,
			Depositor: req.Depositor,
			Round:     c.Round,
			Amount:    req.Amount,
			Deposited: c.Deposited,
			Tickets:   c.Tickets(),
			At:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.records.remember(req.Lottery, cfg)

	if err := m.recorder.RecordDeposit(receipt); err != nil {
		log.Printf("[ERROR] record deposit: %v", err)
	}
	return receipt, nil
}

// DepositTickets deposits the price of the given number of tickets.
func (m *Manager) DepositTickets(ctx context.Context, req DepositRequest, tickets uint64) (*model.DepositReceipt, error) {
	cfg, err := m.config(req.Lottery)
	if err != nil {
		return nil, err
	}
	hi, lo := bits.Mul64(tickets, cfg.TicketPrice)
	if hi != 0 {
		return nil, errors.Wrapf(ErrOverflow, "%d tickets at %d", tickets, cfg.TicketPrice)
	}
	req.Amount = lo
	return m.Deposit(ctx, req)
}

// Rollover settles a closed round and opens the next one. Only the
// authority may call it. The settled deposits stay in custody; the new
// round starts from zero.
func (m *Manager) Rollover(ctx context.Context, lottery, caller identity.Key) (*model.Settlement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		next       *model.RoundConfig
		settlement *model.Settlement
	)
	err := m.db.Update(func(kv store.KV) error {
		c, err := m.records.load(kv, lottery)
		if err != nil {
			return err
		}
		if c.Authority != caller {
			return errors.Wrapf(ErrUnauthorized, "%s may not roll over lottery %s", caller, lottery)
		}
		now := m.now()
		if c.Phase(now) == model.PhaseOpen {
			return errors.Wrapf(ErrRoundOpen, "round %d ends at %d", c.Round, c.RoundEnd)
		}
		end, ok := addInt64(now, c.RoundDuration)
		if !ok {
			return errors.Wrapf(ErrInvalidDuration, "%d seconds from %d", c.RoundDuration, now)
		}
		if c.Round == math.MaxUint64 {
			return errors.Wrap(ErrOverflow, "round counter")
		}

		settlement = &model.Settlement{
			Lottery:   lottery,
			Round:     c.Round,
			Start:     c.RoundStart,
			End:       c.RoundEnd,
			Deposited: c.Deposited,
			Tickets:   c.Tickets(),
			Pools:     c.Pools(),
			SettledAt: now,
			Phase:     model.PhaseSettled,
		}

		c.Round++
		c.RoundStart = now
		c.RoundEnd = end
		c.Deposited = 0
		if err := m.records.put(kv, lottery, c); err != nil {
			return err
		}
		next = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.records.remember(lottery, next)

	log.Printf("[INFO] lottery %s round %d settled: deposited=%d tickets=%d, round %d open until %d",
		lottery, settlement.Round, settlement.Deposited, settlement.Tickets, next.Round, next.RoundEnd)
	if err := m.recorder.RecordRollover(&recorder.RolloverEvent{Settlement: settlement, Next: next}); err != nil {
		log.Printf("[ERROR] record rollover: %v", err)
	}
	return settlement, nil
}

// Status returns the derived view of a lottery at the current time.
func (m *Manager) Status(ctx context.Context, lottery identity.Key) (*model.RoundStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var st *model.RoundStatus
	err := m.db.View(func(kv store.KV) error {
		c, ok := m.records.cached(lottery)
		if !ok {
			var err error
			if c, err = m.records.load(kv, lottery); err != nil {
				return err
			}
		}
		custody, err := m.ledger.Balance(kv, lottery)
		if err != nil {
			return errors.Wrap(err, "custody balance")
		}
		now := m.now()
		st = &model.RoundStatus{
			Lottery: lottery,
			Config:  *c,
			Phase:   c.Phase(now),
			Tickets: c.Tickets(),
			Pools:   c.Pools(),
			Custody: custody,
			Now:     now,
		}
		if st.Phase == model.PhaseOpen {
			st.Remaining = c.RoundEnd - now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.records.remember(lottery, &st.Config)
	return st, nil
}

func (m *Manager) config(lottery identity.Key) (*model.RoundConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.records.cached(lottery); ok {
		return c, nil
	}
	var cfg *model.RoundConfig
	err := m.db.View(func(kv store.KV) error {
		var err error
		cfg, err = m.records.load(kv, lottery)
		return err
	})
	return cfg, err
}

func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
