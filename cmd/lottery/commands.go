package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/model"
	"LotteryKeeper/internal/notifier"
	"LotteryKeeper/internal/round"
	"LotteryKeeper/internal/scheduler"
	"LotteryKeeper/internal/store"
)

func KeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a key file from a new or existing bip39 mnemonic",
		RunE:  keygen,
	}
	cmd.Flags().StringP("out", "o", "", "key file to write")
	cmd.MarkFlagRequired("out")
	cmd.Flags().StringP("mnemonic", "m", "", "restore from this mnemonic instead of generating one")
	cmd.Flags().String("passphrase", "", "optional bip39 passphrase")
	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	mnemonic, _ := cmd.Flags().GetString("mnemonic")
	passphrase, _ := cmd.Flags().GetString("passphrase")

	generated := mnemonic == ""
	if generated {
		var err error
		if mnemonic, err = identity.NewMnemonic(); err != nil {
			return err
		}
	}
	kp, err := identity.FromMnemonic(mnemonic, passphrase)
	if err != nil {
		return err
	}
	if err := identity.SaveKeypair(out, kp); err != nil {
		return err
	}
	if generated {
		fmt.Printf("mnemonic: %s\n", mnemonic)
	}
	fmt.Printf("public key: %s\n", kp.Public)
	return nil
}

func FundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit base units to an account (development faucet)",
		RunE:  fund,
	}
	cmd.Flags().StringP("to", "t", "", "receiving public key")
	cmd.MarkFlagRequired("to")
	cmd.Flags().Uint64P("amount", "a", 0, "amount in base units")
	cmd.MarkFlagRequired("amount")
	return cmd
}

func fund(cmd *cobra.Command, args []string) error {
	to, _ := cmd.Flags().GetString("to")
	amount, _ := cmd.Flags().GetUint64("amount")
	owner, err := identity.ParseKey(to)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var balance uint64
	if err := a.db.Update(func(kv store.KV) error {
		change, err := a.ledger.Credit(kv, owner, amount)
		if err != nil {
			return err
		}
		balance = change.Current.Balance
		return nil
	}); err != nil {
		return err
	}
	fmt.Printf("%s balance: %s\n", owner, a.units.Format(balance))
	return nil
}

func InitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the lottery and open round 1 (authority)",
		RunE:  initLottery,
	}
	return cmd
}

func initLottery(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	kp, err := identity.LoadKeypair(cfg.Lottery.AuthorityKey)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := a.rounds.Initialize(cmd.Context(), kp.Public, round.InitParams{
		TicketPrice:   cfg.Lottery.TicketPrice,
		RoundDuration: cfg.Lottery.RoundDuration,
		PurchaseBps:   cfg.Lottery.PurchaseBps,
		OwnerBps:      cfg.Lottery.OwnerBps,
	})
	if err != nil {
		return err
	}
	fmt.Printf("lottery: %s\n", addr)
	return printStatus(cmd.Context(), a, addr)
}

func DepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit funds into the current round",
		RunE:  deposit,
	}
	cmd.Flags().StringP("key", "k", "", "depositor key file")
	cmd.MarkFlagRequired("key")
	cmd.Flags().Uint64P("amount", "a", 0, "amount in base units")
	cmd.Flags().Uint64("tickets", 0, "number of tickets to pay for instead of --amount")
	return cmd
}

func deposit(cmd *cobra.Command, args []string) error {
	keyFile, _ := cmd.Flags().GetString("key")
	amount, _ := cmd.Flags().GetUint64("amount")
	tickets, _ := cmd.Flags().GetUint64("tickets")
	if (amount == 0) == (tickets == 0) {
		return fmt.Errorf("exactly one of --amount or --tickets is required")
	}

	depositor, err := identity.LoadKeypair(keyFile)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lottery, auth, err := a.lottery()
	if err != nil {
		return err
	}
	req := round.DepositRequest{Lottery: lottery, Authority: auth, Depositor: depositor.Public, Amount: amount}
	var r *model.DepositReceipt
	if tickets > 0 {
		r, err = a.rounds.DepositTickets(cmd.Context(), req, tickets)
	} else {
		r, err = a.rounds.Deposit(cmd.Context(), req)
	}
	if err != nil {
		return err
	}
	fmt.Printf("deposited %s into round %d, round total %s (%d tickets)\n",
		a.units.Format(r.Amount), r.Round, a.units.Format(r.Deposited), r.Tickets)
	return nil
}

func RolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Settle a closed round and open the next one (authority)",
		RunE:  rollover,
	}
}

func rollover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	kp, err := identity.LoadKeypair(cfg.Lottery.AuthorityKey)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.rounds.Rollover(cmd.Context(), a.rounds.Address(kp.Public), kp.Public)
	if err != nil {
		return err
	}
	fmt.Println(notifier.FormatSettlement(s, a.units))
	return nil
}

func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current round",
		RunE:  status,
	}
}

func status(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lottery, _, err := a.lottery()
	if err != nil {
		return err
	}
	return printStatus(cmd.Context(), a, lottery)
}

func printStatus(ctx context.Context, a *app, lottery identity.Key) error {
	st, err := a.rounds.Status(ctx, lottery)
	if err != nil {
		return err
	}
	fmt.Println(notifier.FormatRoundStatus(st, a.units))
	return nil
}

func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch the lottery, roll rounds over and answer chat commands",
		RunE:  run,
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	log.Println("[INFO] LotteryKeeper starting...")

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	lottery, auth, err := a.lottery()
	if err != nil {
		return err
	}
	autoRollover := cfg.Schedule.AutoRollover
	if autoRollover {
		kp, err := identity.LoadKeypair(cfg.Lottery.AuthorityKey)
		switch {
		case err != nil:
			log.Printf("[WARN] authority key unavailable, auto rollover disabled: %v", err)
			autoRollover = false
		case kp.Public != auth:
			log.Printf("[WARN] authority key %s does not own lottery, auto rollover disabled", kp.Public)
			autoRollover = false
		}
	}

	var (
		n  notifier.Notifier = notifier.NoopNotifier{}
		tn *notifier.TelegramNotifier
	)
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		n = tn
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sched := scheduler.NewScheduler(ctx, a.rounds, n, lottery, auth, a.units, autoRollover)
	if err := sched.Register(cfg.Schedule.RolloverCron); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if tn != nil {
		g.Go(func() error {
			tn.StartPolling(gctx, sched.HandleCommand)
			return nil
		})
		log.Println("[INFO] Telegram polling started")
	}

	// Optional: check immediately on start
	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, checking round now")
		g.Go(func() error {
			sched.CheckRound()
			return nil
		})
	}

	log.Printf("[INFO] watching lottery %s (auto rollover: %v). Press Ctrl+C to stop.", lottery, autoRollover)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Println("[INFO] shutdown signal received, stopping...")
	case <-gctx.Done():
	}
	cancel()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err = <-done:
	case <-time.After(10 * time.Second):
		log.Println("[WARN] timed out waiting for background tasks")
	}
	log.Println("[INFO] LotteryKeeper stopped")
	return err
}
