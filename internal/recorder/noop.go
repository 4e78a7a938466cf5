package recorder

import "LotteryKeeper/internal/model"

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordInit(_ *InitEvent) error               { return nil }
func (n *NoopRecorder) RecordDeposit(_ *model.DepositReceipt) error { return nil }
func (n *NoopRecorder) RecordRollover(_ *RolloverEvent) error       { return nil }
func (n *NoopRecorder) Close() error                                { return nil }
