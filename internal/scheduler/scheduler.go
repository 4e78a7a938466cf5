package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/notifier"
	"LotteryKeeper/internal/round"
)

// Scheduler watches one lottery and rolls its round over once it closes.
type Scheduler struct {
	Cron         *cron.Cron
	Rounds       *round.Manager
	Notifier     notifier.Notifier
	Lottery      identity.Key
	Authority    identity.Key
	AutoRollover bool
	Units        notifier.Units
	Ctx          context.Context

	mu             sync.Mutex
	alertedClosure uint64 // round whose closure was already announced
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, rm *round.Manager, n notifier.Notifier, lottery, authority identity.Key, units notifier.Units, autoRollover bool) *Scheduler {
	return &Scheduler{
		Cron:         cron.New(cron.WithSeconds()),
		Rounds:       rm,
		Notifier:     n,
		Lottery:      lottery,
		Authority:    authority,
		AutoRollover: autoRollover,
		Units:        units,
		Ctx:          ctx,
	}
}

// Register adds the round check task.
func (s *Scheduler) Register(rolloverCron string) error {
	if _, err := s.Cron.AddFunc(rolloverCron, s.CheckRound); err != nil {
		return fmt.Errorf("register rollover task: %w", err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Println("[INFO] scheduler started")
}

// Stop stops the cron scheduler and waits for a running check to finish.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Println("[INFO] scheduler stopped")
}

// CheckRound settles the lottery's round if it has closed. Without
// auto-rollover it only announces the closure, once per round.
func (s *Scheduler) CheckRound() {
	st, err := s.Rounds.Status(s.Ctx, s.Lottery)
	if err != nil {
		if errors.Is(err, round.ErrNotFound) {
			log.Printf("[WARN] lottery %s not initialized yet", s.Lottery)
			return
		}
		log.Printf("[ERROR] round status: %v", err)
		return
	}
	if st.Phase != model.PhaseClosed {
		return
	}

	if !s.AutoRollover {
		s.mu.Lock()
		already := s.alertedClosure == st.Config.Round
		s.alertedClosure = st.Config.Round
		s.mu.Unlock()
		if !already {
			s.trySend(fmt.Sprintf("⏰ <b>Round %d closed</b>\n\nDeposits are blocked until the authority rolls the round over.\n\n%s",
				st.Config.Round, notifier.FormatRoundStatus(st, s.Units)))
		}
		return
	}

	log.Printf("[INFO] round %d of %s closed, rolling over", st.Config.Round, s.Lottery)
	settlement, err := s.Rounds.Rollover(s.Ctx, s.Lottery, s.Authority)
	if err != nil {
		// Another caller may have rolled over between the status read and now.
		if errors.Is(err, round.ErrRoundOpen) {
			return
		}
		log.Printf("[ERROR] rollover: %v", err)
		s.trySend(fmt.Sprintf("❌ Rollover of round %d failed: %v", st.Config.Round, err))
		return
	}
	s.trySend(notifier.FormatSettlement(settlement, s.Units))
}

// HandleCommand processes a chat command and returns a reply.
func (s *Scheduler) HandleCommand(command string) string {
	switch command {
	case "/status":
		st, err := s.Rounds.Status(s.Ctx, s.Lottery)
		if err != nil {
			return fmt.Sprintf("status unavailable: %v", err)
		}
		return notifier.FormatRoundStatus(st, s.Units)
	case "/lottery":
		return fmt.Sprintf("Lottery address: %s\nAuthority: %s", s.Lottery, s.Authority)
	default:
		return "Available commands:\n• /status\n• /lottery"
	}
}

func (s *Scheduler) trySend(text string) {
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		log.Printf("[ERROR] send notification: %v", err)
	}
}
