package types

// Mode is the exchange operating mode. WithdrawalMode is terminal: once a
// ModeRecord reaches it the record never transitions again.
type Mode uint8

const (
	ModeNormal Mode = iota + 1
	ModeShutdownPending
	ModeWithdrawal
)

func (m Mode) Valid() bool {
	switch m {
	case ModeNormal, ModeShutdownPending, ModeWithdrawal:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeShutdownPending:
		return "shutdown-pending"
	case ModeWithdrawal:
		return "withdrawal"
	default:
		return "unknown"
	}
}

// ModeRecord is the persisted mode state machine: the current mode plus the
// timestamps of the transitions taken so far (zero when not taken).
type ModeRecord struct {
	Mode         Mode  `json:"mode"`
	ShutdownAt   int64 `json:"shutdownAt,omitempty"`
	WithdrawalAt int64 `json:"withdrawalAt,omitempty"`
}

// InWithdrawal reports whether the terminal mode has been reached.
func (r *ModeRecord) InWithdrawal() bool {
	return r != nil && r.Mode == ModeWithdrawal
}

func (r *ModeRecord) Clone() *ModeRecord {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}
