package round

import "github.com/pkg/errors"

var (
	// ErrInvalidSplits rejects a configuration whose purchase and owner
	// shares don't add up to exactly 10000 bps.
	ErrInvalidSplits = errors.New("invalid fee splits")
	// ErrRoundClosed rejects deposits after the round end.
	ErrRoundClosed = errors.New("round closed")
	// ErrOverflow aborts an operation whose running total would exceed the
	// representable range.
	ErrOverflow = errors.New("arithmetic overflow")
	// ErrUnauthorized rejects a caller or authority that does not match the
	// record's authority.
	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidTicketPrice = errors.New("ticket price must be positive")
	ErrInvalidDuration    = errors.New("invalid round duration")
	ErrInvalidAmount      = errors.New("deposit amount must be positive")
	ErrAlreadyInitialized = errors.New("lottery already initialized")
	ErrNotFound           = errors.New("lottery not found")
	ErrRoundOpen          = errors.New("round still open")
	ErrAmountMismatch     = errors.New("transferred amount does not match deposit")
)
