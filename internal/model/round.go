package model

import (
	"LotteryKeeper/internal/identity"
	"LotteryKeeper/internal/split"
)

// Phase is the lifecycle position of a round.
type Phase string

const (
	PhaseOpen    Phase = "OPEN"
	PhaseClosed  Phase = "CLOSED"
	PhaseSettled Phase = "SETTLED"
)

// RoundConfig is the persistent record of one lottery deployment.
type RoundConfig struct {
	Authority     identity.Key `cbor:"1,keyasint" json:"authority"`
	TicketPrice   uint64       `cbor:"2,keyasint" json:"ticket_price"`
	RoundDuration int64        `cbor:"3,keyasint" json:"round_duration"` // seconds
	PurchaseBps   uint16       `cbor:"4,keyasint" json:"purchase_bps"`
	OwnerBps      uint16       `cbor:"5,keyasint" json:"owner_bps"`
	Round         uint64       `cbor:"6,keyasint" json:"round"`
	RoundStart    int64        `cbor:"7,keyasint" json:"round_start"` // unix seconds
	RoundEnd      int64        `cbor:"8,keyasint" json:"round_end"`
	Deposited     uint64       `cbor:"9,keyasint" json:"deposited"`
}

// Phase reports whether the round still accepts deposits at now.
// A round is open up to and including RoundEnd.
func (c *RoundConfig) Phase(now int64) Phase {
	if now > c.RoundEnd {
		return PhaseClosed
	}
	return PhaseOpen
}

// Tickets is the number of whole tickets covered by the deposits so far.
// Remainders below TicketPrice buy nothing but stay in Deposited.
func (c *RoundConfig) Tickets() uint64 {
	if c.TicketPrice == 0 {
		return 0
	}
	return c.Deposited / c.TicketPrice
}

// Pools splits the current deposits between the purchase and owner pools.
func (c *RoundConfig) Pools() split.Pools {
	p, err := split.Apply(c.Deposited, c.PurchaseBps)
	if err != nil {
		// PurchaseBps above 10000 can't pass initialize.
		return split.Pools{Owner: c.Deposited}
	}
	return p
}

// Settlement is the snapshot of a round taken when it is rolled over.
type Settlement struct {
	Lottery   identity.Key
	Round     uint64
	Start     int64
	End       int64
	Deposited uint64
	Tickets   uint64
	Pools     split.Pools
	SettledAt int64
	Phase     Phase
}

// DepositReceipt is returned for every accepted deposit.
type DepositReceipt struct {
	Lottery   identity.Key
	Depositor identity.Key
	Round     uint64
	Amount    uint64
	Deposited uint64 // round total after this deposit
	Tickets   uint64 // round tickets after this deposit
	At        int64
}

// RoundStatus is a read-time view of a lottery.
type RoundStatus struct {
	Lottery   identity.Key
	Config    RoundConfig
	Phase     Phase
	Tickets   uint64
	Pools     split.Pools
	Custody   uint64 // balance held by the lottery's custody account
	Remaining int64  // seconds until RoundEnd, 0 once closed
	Now       int64
}
