package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// BlockWithdrawal is a single withdrawal settled by a block. Forced entries
// must match an open forced-withdrawal request, which the block consumes.
type BlockWithdrawal struct {
	Owner     common.Address `json:"owner"`
	AccountID uint32         `json:"accountId"`
	TokenID   uint32         `json:"tokenId"`
	Amount    *big.Int       `json:"amount"`
	Forced    bool           `json:"forced"`
}

func (w *BlockWithdrawal) Clone() *BlockWithdrawal {
	if w == nil {
		return nil
	}
	out := *w
	if w.Amount != nil {
		out.Amount = new(big.Int).Set(w.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return &out
}

// Block is one batch commitment update. RootBefore must equal the previous
// block's RootAfter; the proof system attests that applying the batch encoded
// in PublicData transforms RootBefore into RootAfter.
type Block struct {
	Index        uint64            `json:"index"`
	RootBefore   common.Hash       `json:"rootBefore"`
	RootAfter    common.Hash       `json:"rootAfter"`
	Timestamp    int64             `json:"timestamp"`
	DepositCount uint64            `json:"depositCount"`
	Withdrawals  []BlockWithdrawal `json:"withdrawals,omitempty"`
	FeeRecipient common.Address    `json:"feeRecipient"`
	Fee          *big.Int          `json:"fee"`
	PublicData   []byte            `json:"publicData,omitempty"`
}

// ForcedCount reports how many forced-withdrawal slots the block settles.
func (b *Block) ForcedCount() uint64 {
	if b == nil {
		return 0
	}
	var n uint64
	for i := range b.Withdrawals {
		if b.Withdrawals[i].Forced {
			n++
		}
	}
	return n
}

func (b *Block) Clone() *Block {
	if b == nil {
		return nil
	}
	out := *b
	if b.Fee != nil {
		out.Fee = new(big.Int).Set(b.Fee)
	} else {
		out.Fee = big.NewInt(0)
	}
	if b.Withdrawals != nil {
		out.Withdrawals = make([]BlockWithdrawal, len(b.Withdrawals))
		for i := range b.Withdrawals {
			out.Withdrawals[i] = *b.Withdrawals[i].Clone()
		}
	}
	out.PublicData = append([]byte(nil), b.PublicData...)
	return &out
}

type blockDigest struct {
	Index        uint64
	RootBefore   common.Hash
	RootAfter    common.Hash
	Timestamp    uint64
	DepositCount uint64
	FeeRecipient common.Address
	Fee          *big.Int
	PublicData   []byte
}

// Hash returns the keccak256 digest identifying the block in the log.
func (b *Block) Hash() (common.Hash, error) {
	fee := big.NewInt(0)
	if b.Fee != nil {
		fee = b.Fee
	}
	ts := uint64(0)
	if b.Timestamp > 0 {
		ts = uint64(b.Timestamp)
	}
	enc, err := rlp.EncodeToBytes(&blockDigest{
		Index:        b.Index,
		RootBefore:   b.RootBefore,
		RootAfter:    b.RootAfter,
		Timestamp:    ts,
		DepositCount: b.DepositCount,
		FeeRecipient: b.FeeRecipient,
		Fee:          fee,
		PublicData:   b.PublicData,
	})
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(ethcrypto.Keccak256(enc)), nil
}
