package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"LotteryKeeper/internal/config"
	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/ledger"
	"LotteryKeeper/internal/notifier"
	"LotteryKeeper/internal/recorder"
	"LotteryKeeper/internal/round"
	"LotteryKeeper/internal/store"
)

const accountPrefix = "acct-"

// app bundles the components every command works with.
type app struct {
	cfg      *config.Config
	db       store.DB
	ledger   *ledger.Accounts
	recorder recorder.Recorder
	rounds   *round.Manager
	units    notifier.Units
}

func loadConfig(cmd *cobra.Command, validateLottery bool) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
		if v := os.Getenv("CONFIG_PATH"); v != "" {
			cfgPath = v
		}
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(validateLottery); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg)
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if cfg.Log.File == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		LocalTime:  true,
	}))
}

func openApp(cfg *config.Config) (*app, error) {
	db, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	accounts := ledger.NewAccounts(accountPrefix)
	rm, err := round.NewManager(db, accounts, round.Options{
		Name:      cfg.Lottery.Name,
		CacheSize: cfg.Store.CacheSize,
		Recorder:  rec,
	})
	if err != nil {
		rec.Close()
		db.Close()
		return nil, err
	}
	return &app{
		cfg:      cfg,
		db:       db,
		ledger:   accounts,
		recorder: rec,
		rounds:   rm,
		units:    notifier.Units{Decimals: cfg.Lottery.Decimals, Symbol: cfg.Lottery.Symbol},
	}, nil
}

func (a *app) Close() {
	if err := a.recorder.Close(); err != nil {
		log.Printf("[WARN] close recorder: %v", err)
	}
	if err := a.db.Close(); err != nil {
		log.Printf("[WARN] close store: %v", err)
	}
}

// authority returns the configured authority public key, falling back to
// the authority key file.
func (a *app) authority() (identity.Key, error) {
	if a.cfg.Lottery.Authority != "" {
		return identity.ParseKey(a.cfg.Lottery.Authority)
	}
	kp, err := identity.LoadKeypair(a.cfg.Lottery.AuthorityKey)
	if err != nil {
		return identity.Key{}, fmt.Errorf("authority: %w", err)
	}
	return kp.Public, nil
}

// lottery returns the address of the configured deployment.
func (a *app) lottery() (identity.Key, identity.Key, error) {
	auth, err := a.authority()
	if err != nil {
		return identity.Key{}, identity.Key{}, err
	}
	return a.rounds.Address(auth), auth, nil
}
