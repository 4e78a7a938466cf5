package recorder

import (
	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/model"
)

// InitEvent records the creation of a lottery.
type InitEvent struct {
	Lottery identity.Key
	Config  *model.RoundConfig
}

// RolloverEvent records a settled round and the round that replaced it.
type RolloverEvent struct {
	Settlement *model.Settlement
	Next       *model.RoundConfig
}

// Recorder keeps an append-only audit trail of accepted operations.
type Recorder interface {
	RecordInit(evt *InitEvent) error
	RecordDeposit(receipt *model.DepositReceipt) error
	RecordRollover(evt *RolloverEvent) error
	Close() error
}
