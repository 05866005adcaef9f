package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

const (
	TypeBlockSubmitted           = "exchange.blockSubmitted"
	TypeDepositRecorded          = "exchange.depositRecorded"
	TypeDepositReclaimed         = "exchange.depositReclaimed"
	TypeForcedWithdrawalOpened   = "exchange.forcedWithdrawalOpened"
	TypeForcedWithdrawalCanceled = "exchange.forcedWithdrawalCanceled"
	TypeShutdownStarted          = "exchange.shutdownStarted"
	TypeWithdrawalModeEntered    = "exchange.withdrawalModeEntered"
	TypeStakeBurned              = "exchange.stakeBurned"
	TypeBalanceCredited          = "exchange.balanceCredited"
	TypeBalanceClaimed           = "exchange.balanceClaimed"
	TypeMerkleExit               = "exchange.merkleExit"
	TypeTokenRegistered          = "exchange.tokenRegistered"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string { return strconv.FormatInt(v, 10) }

func uintToString(v uint64) string { return strconv.FormatUint(v, 10) }

type BlockSubmitted struct {
	Index     uint64
	RootAfter common.Hash
	Timestamp int64
}

func (BlockSubmitted) EventType() string { return TypeBlockSubmitted }

func (e BlockSubmitted) Event() *types.Event {
	return &types.Event{
		Type: TypeBlockSubmitted,
		Attributes: map[string]string{
			"index":     uintToString(e.Index),
			"rootAfter": e.RootAfter.Hex(),
			"timestamp": intToString(e.Timestamp),
		},
	}
}

type DepositRecorded struct {
	Owner     common.Address
	TokenID   uint32
	Amount    *big.Int
	CreatedAt int64
}

func (DepositRecorded) EventType() string { return TypeDepositRecorded }

func (e DepositRecorded) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositRecorded,
		Attributes: map[string]string{
			"owner":     e.Owner.Hex(),
			"tokenId":   uintToString(uint64(e.TokenID)),
			"amount":    formatAmount(e.Amount),
			"createdAt": intToString(e.CreatedAt),
		},
	}
}

type DepositReclaimed struct {
	Owner   common.Address
	TokenID uint32
	Amount  *big.Int
}

func (DepositReclaimed) EventType() string { return TypeDepositReclaimed }

func (e DepositReclaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeDepositReclaimed,
		Attributes: map[string]string{
			"owner":   e.Owner.Hex(),
			"tokenId": uintToString(uint64(e.TokenID)),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type ForcedWithdrawalOpened struct {
	AccountID uint32
	TokenID   uint32
	Submitter common.Address
	CreatedAt int64
}

func (ForcedWithdrawalOpened) EventType() string { return TypeForcedWithdrawalOpened }

func (e ForcedWithdrawalOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeForcedWithdrawalOpened,
		Attributes: map[string]string{
			"accountId": uintToString(uint64(e.AccountID)),
			"tokenId":   uintToString(uint64(e.TokenID)),
			"submitter": e.Submitter.Hex(),
			"createdAt": intToString(e.CreatedAt),
		},
	}
}

type ForcedWithdrawalCanceled struct {
	AccountID uint32
	TokenID   uint32
}

func (ForcedWithdrawalCanceled) EventType() string { return TypeForcedWithdrawalCanceled }

func (e ForcedWithdrawalCanceled) Event() *types.Event {
	return &types.Event{
		Type: TypeForcedWithdrawalCanceled,
		Attributes: map[string]string{
			"accountId": uintToString(uint64(e.AccountID)),
			"tokenId":   uintToString(uint64(e.TokenID)),
		},
	}
}

type ShutdownStarted struct {
	At int64
}

func (ShutdownStarted) EventType() string { return TypeShutdownStarted }

func (e ShutdownStarted) Event() *types.Event {
	return &types.Event{
		Type:       TypeShutdownStarted,
		Attributes: map[string]string{"at": intToString(e.At)},
	}
}

type WithdrawalModeEntered struct {
	At     int64
	Reason string
}

func (WithdrawalModeEntered) EventType() string { return TypeWithdrawalModeEntered }

func (e WithdrawalModeEntered) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawalModeEntered,
		Attributes: map[string]string{
			"at":     intToString(e.At),
			"reason": e.Reason,
		},
	}
}

type StakeBurned struct {
	ExchangeID uint64
	Amount     *big.Int
}

func (StakeBurned) EventType() string { return TypeStakeBurned }

func (e StakeBurned) Event() *types.Event {
	return &types.Event{
		Type: TypeStakeBurned,
		Attributes: map[string]string{
			"exchangeId": uintToString(e.ExchangeID),
			"amount":     formatAmount(e.Amount),
		},
	}
}

type BalanceCredited struct {
	Owner   common.Address
	TokenID uint32
	Amount  *big.Int
	Origin  string
}

func (BalanceCredited) EventType() string { return TypeBalanceCredited }

func (e BalanceCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeBalanceCredited,
		Attributes: map[string]string{
			"owner":   e.Owner.Hex(),
			"tokenId": uintToString(uint64(e.TokenID)),
			"amount":  formatAmount(e.Amount),
			"origin":  e.Origin,
		},
	}
}

type BalanceClaimed struct {
	Owner   common.Address
	TokenID uint32
	Amount  *big.Int
}

func (BalanceClaimed) EventType() string { return TypeBalanceClaimed }

func (e BalanceClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeBalanceClaimed,
		Attributes: map[string]string{
			"owner":   e.Owner.Hex(),
			"tokenId": uintToString(uint64(e.TokenID)),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type MerkleExit struct {
	Owner     common.Address
	AccountID uint32
	TokenID   uint32
	Amount    *big.Int
}

func (MerkleExit) EventType() string { return TypeMerkleExit }

func (e MerkleExit) Event() *types.Event {
	return &types.Event{
		Type: TypeMerkleExit,
		Attributes: map[string]string{
			"owner":     e.Owner.Hex(),
			"accountId": uintToString(uint64(e.AccountID)),
			"tokenId":   uintToString(uint64(e.TokenID)),
			"amount":    formatAmount(e.Amount),
		},
	}
}

type TokenRegistered struct {
	TokenID uint32
	Address common.Address
}

func (TokenRegistered) EventType() string { return TypeTokenRegistered }

func (e TokenRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenRegistered,
		Attributes: map[string]string{
			"tokenId": uintToString(uint64(e.TokenID)),
			"address": e.Address.Hex(),
		},
	}
}
