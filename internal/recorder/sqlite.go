package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"LotteryKeeper/internal/model"
)

// SQLiteRecorder persists the audit trail to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lottery_inits (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id       TEXT NOT NULL UNIQUE,
			timestamp      INTEGER NOT NULL,
			lottery        TEXT NOT NULL,
			authority      TEXT NOT NULL,
			ticket_price   TEXT,
			round_duration INTEGER,
			purchase_bps   INTEGER,
			owner_bps      INTEGER,
			round_start    INTEGER,
			round_end      INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS deposits (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id  TEXT NOT NULL UNIQUE,
			timestamp INTEGER NOT NULL,
			lottery   TEXT NOT NULL,
			depositor TEXT NOT NULL,
			round     TEXT,
			amount    TEXT,
			deposited TEXT,
			tickets   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposits_round ON deposits(lottery, round)`,

		`CREATE TABLE IF NOT EXISTS rollovers (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id      TEXT NOT NULL UNIQUE,
			timestamp     INTEGER NOT NULL,
			lottery       TEXT NOT NULL,
			round         TEXT,
			round_start   INTEGER,
			round_end     INTEGER,
			deposited     TEXT,
			tickets       TEXT,
			purchase_pool TEXT,
			owner_pool    TEXT,
			next_round    TEXT,
			next_end      INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rollovers_ts ON rollovers(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// amount renders a u64 as exact decimal text. SQLite integers are signed
// and an INTEGER column would turn larger values into lossy REALs.
func amount(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func (r *SQLiteRecorder) RecordInit(evt *InitEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := evt.Config
	_, err := r.db.Exec(`INSERT INTO lottery_inits
		(event_id, timestamp, lottery, authority, ticket_price, round_duration,
		 purchase_bps, owner_bps, round_start, round_end)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), time.Now().Unix(), evt.Lottery.String(), cfg.Authority.String(),
		amount(cfg.TicketPrice), cfg.RoundDuration, int64(cfg.PurchaseBps), int64(cfg.OwnerBps),
		cfg.RoundStart, cfg.RoundEnd,
	)
	return err
}

func (r *SQLiteRecorder) RecordDeposit(rc *model.DepositReceipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO deposits
		(event_id, timestamp, lottery, depositor, round, amount, deposited, tickets)
		VALUES (?,?,?,?,?,?,?,?)`,
		uuid.NewString(), rc.At, rc.Lottery.String(), rc.Depositor.String(),
		amount(rc.Round), amount(rc.Amount), amount(rc.Deposited), amount(rc.Tickets),
	)
	return err
}

func (r *SQLiteRecorder) RecordRollover(evt *RolloverEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := evt.Settlement
	_, err := r.db.Exec(`INSERT INTO rollovers
		(event_id, timestamp, lottery, round, round_start, round_end, deposited, tickets,
		 purchase_pool, owner_pool, next_round, next_end)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		uuid.NewString(), s.SettledAt, s.Lottery.String(), amount(s.Round), s.Start, s.End,
		amount(s.Deposited), amount(s.Tickets), amount(s.Pools.Purchase), amount(s.Pools.Owner),
		amount(evt.Next.Round), evt.Next.RoundEnd,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
