package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/split"
	"LotteryKeeper/internal/store"
)

// Config holds all application configuration.
type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Lottery struct {
		Name          string `yaml:"name"`
		Authority     string `yaml:"authority"` // base58 public key; defaults to the key file's
		AuthorityKey  string `yaml:"authority_key_file"`
		TicketPrice   uint64 `yaml:"ticket_price"`
		RoundDuration int64  `yaml:"round_duration"` // seconds
		PurchaseBps   uint16 `yaml:"purchase_bps"`
		OwnerBps      uint16 `yaml:"owner_bps"`
		Decimals      int32  `yaml:"decimals"`
		Symbol        string `yaml:"symbol"`
	} `yaml:"lottery"`
	Store struct {
		Driver    string `yaml:"driver"`
		Path      string `yaml:"path"`
		CacheSize int    `yaml:"cache_size"`
	} `yaml:"store"`
	Schedule struct {
		RolloverCron string `yaml:"rollover_cron"`
		AutoRollover bool   `yaml:"auto_rollover"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Log struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Preset so an explicit false or 0 in the file is kept.
	cfg.Schedule.AutoRollover = true
	cfg.Lottery.Decimals = 9

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("AUTHORITY_KEY_FILE"); v != "" {
		cfg.Lottery.AuthorityKey = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("ROLLOVER_CRON"); v != "" {
		cfg.Schedule.RolloverCron = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}

	// Defaults
	if cfg.Lottery.Name == "" {
		cfg.Lottery.Name = "main"
	}
	if cfg.Lottery.AuthorityKey == "" {
		cfg.Lottery.AuthorityKey = "data/authority.key"
	}
	if cfg.Lottery.Symbol == "" {
		cfg.Lottery.Symbol = "SOL"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = store.DriverLevelDB
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Driver {
		case store.DriverFile:
			cfg.Store.Path = "data/lottery_state.json"
		default:
			cfg.Store.Path = "data/lottery.db"
		}
	}
	if cfg.Store.CacheSize == 0 {
		cfg.Store.CacheSize = 128
	}
	if cfg.Schedule.RolloverCron == "" {
		cfg.Schedule.RolloverCron = "0 * * * * *"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}

	return cfg, nil
}

// Validate checks field ranges. Lottery parameters are only required when
// validateLottery is set, since most commands act on an existing lottery.
func (c *Config) Validate(validateLottery bool) error {
	switch c.Store.Driver {
	case store.DriverMemory, store.DriverFile, store.DriverLevelDB:
	default:
		return fmt.Errorf("store.driver %q is not one of memory, file, leveldb", c.Store.Driver)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must not be negative")
	}
	if c.Lottery.Authority != "" {
		if _, err := identity.ParseKey(c.Lottery.Authority); err != nil {
			return fmt.Errorf("lottery.authority: %w", err)
		}
	}
	if c.Lottery.Decimals < 0 || c.Lottery.Decimals > 18 {
		return fmt.Errorf("lottery.decimals must be within 0..18")
	}
	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id must be set together")
	}
	if !validateLottery {
		return nil
	}
	if c.Lottery.TicketPrice == 0 {
		return fmt.Errorf("lottery.ticket_price must be positive")
	}
	if c.Lottery.RoundDuration <= 0 {
		return fmt.Errorf("lottery.round_duration must be positive")
	}
	if !split.Valid(c.Lottery.PurchaseBps, c.Lottery.OwnerBps) {
		return fmt.Errorf("lottery.purchase_bps + lottery.owner_bps must equal %d", split.Total)
	}
	return nil
}
