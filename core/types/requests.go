package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DepositRequest tracks funds received from a user that have not yet been
// absorbed into the off-chain balance tree. Repeated deposits for the same
// (owner, token) pair while one is pending increment Amount in place; Seq is
// assigned once, when the entry is created, and orders consumption by blocks.
type DepositRequest struct {
	Seq       uint64         `json:"seq"`
	Owner     common.Address `json:"owner"`
	TokenID   uint32         `json:"tokenId"`
	Amount    *big.Int       `json:"amount"`
	CreatedAt int64          `json:"createdAt"`
}

func (d *DepositRequest) Clone() *DepositRequest {
	if d == nil {
		return nil
	}
	out := *d
	if d.Amount != nil {
		out.Amount = new(big.Int).Set(d.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return &out
}

// ForcedWithdrawal is an open escape-hatch request. At most one exists per
// (AccountID, TokenID). Seq orders operator settlement; Fee is the spam bond
// paid on submission and refunded into the submitter's withdrawable balance
// when the request is cancelled or settled.
type ForcedWithdrawal struct {
	Seq       uint64         `json:"seq"`
	AccountID uint32         `json:"accountId"`
	TokenID   uint32         `json:"tokenId"`
	Owner     common.Address `json:"owner"`
	Submitter common.Address `json:"submitter"`
	Fee       *big.Int       `json:"fee"`
	CreatedAt int64          `json:"createdAt"`
}

func (f *ForcedWithdrawal) Clone() *ForcedWithdrawal {
	if f == nil {
		return nil
	}
	out := *f
	if f.Fee != nil {
		out.Fee = new(big.Int).Set(f.Fee)
	} else {
		out.Fee = big.NewInt(0)
	}
	return &out
}

// TokenRecord maps a dense token id onto its external asset address. The
// mapping is bijective and append-only; ids are assigned sequentially.
type TokenRecord struct {
	ID      uint32         `json:"id"`
	Address common.Address `json:"address"`
	SubID   uint64         `json:"subId,omitempty"`
}

func (t *TokenRecord) Clone() *TokenRecord {
	if t == nil {
		return nil
	}
	out := *t
	return &out
}
