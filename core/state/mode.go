package state

import (
	"zkex/core/types"
)

type storedMode struct {
	Mode         uint8
	ShutdownAt   uint64
	WithdrawalAt uint64
}

// ModeRecord loads the persisted mode state machine. A missing record reads
// as Normal, so a freshly initialized exchange needs no explicit write.
func (m *Manager) ModeRecord() (*types.ModeRecord, error) {
	stored := new(storedMode)
	ok, err := m.getRLP(modeKey, stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.ModeRecord{Mode: types.ModeNormal}, nil
	}
	return &types.ModeRecord{
		Mode:         types.Mode(stored.Mode),
		ShutdownAt:   int64(stored.ShutdownAt),
		WithdrawalAt: int64(stored.WithdrawalAt),
	}, nil
}

// PutModeRecord stages the mode record.
func (m *Manager) PutModeRecord(record *types.ModeRecord) error {
	shutdownAt := uint64(0)
	if record.ShutdownAt > 0 {
		shutdownAt = uint64(record.ShutdownAt)
	}
	withdrawalAt := uint64(0)
	if record.WithdrawalAt > 0 {
		withdrawalAt = uint64(record.WithdrawalAt)
	}
	return m.putRLP(modeKey, &storedMode{
		Mode:         uint8(record.Mode),
		ShutdownAt:   shutdownAt,
		WithdrawalAt: withdrawalAt,
	})
}
