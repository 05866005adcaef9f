package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

type storedWithdrawal struct {
	Owner     common.Address
	AccountID uint32
	TokenID   uint32
	Amount    *big.Int
	Forced    bool
}

type storedBlock struct {
	Index        uint64
	RootBefore   common.Hash
	RootAfter    common.Hash
	Timestamp    uint64
	DepositCount uint64
	Withdrawals  []storedWithdrawal
	FeeRecipient common.Address
	Fee          *big.Int
	PublicData   []byte
}

func newStoredBlock(b *types.Block) *storedBlock {
	fee := big.NewInt(0)
	if b.Fee != nil {
		fee = new(big.Int).Set(b.Fee)
	}
	withdrawals := make([]storedWithdrawal, len(b.Withdrawals))
	for i := range b.Withdrawals {
		w := b.Withdrawals[i]
		amount := big.NewInt(0)
		if w.Amount != nil {
			amount = new(big.Int).Set(w.Amount)
		}
		withdrawals[i] = storedWithdrawal{
			Owner:     w.Owner,
			AccountID: w.AccountID,
			TokenID:   w.TokenID,
			Amount:    amount,
			Forced:    w.Forced,
		}
	}
	ts := uint64(0)
	if b.Timestamp > 0 {
		ts = uint64(b.Timestamp)
	}
	return &storedBlock{
		Index:        b.Index,
		RootBefore:   b.RootBefore,
		RootAfter:    b.RootAfter,
		Timestamp:    ts,
		DepositCount: b.DepositCount,
		Withdrawals:  withdrawals,
		FeeRecipient: b.FeeRecipient,
		Fee:          fee,
		PublicData:   append([]byte(nil), b.PublicData...),
	}
}

func (s *storedBlock) toBlock() *types.Block {
	withdrawals := make([]types.BlockWithdrawal, len(s.Withdrawals))
	for i := range s.Withdrawals {
		w := s.Withdrawals[i]
		amount := big.NewInt(0)
		if w.Amount != nil {
			amount = new(big.Int).Set(w.Amount)
		}
		withdrawals[i] = types.BlockWithdrawal{
			Owner:     w.Owner,
			AccountID: w.AccountID,
			TokenID:   w.TokenID,
			Amount:    amount,
			Forced:    w.Forced,
		}
	}
	fee := big.NewInt(0)
	if s.Fee != nil {
		fee = new(big.Int).Set(s.Fee)
	}
	return &types.Block{
		Index:        s.Index,
		RootBefore:   s.RootBefore,
		RootAfter:    s.RootAfter,
		Timestamp:    int64(s.Timestamp),
		DepositCount: s.DepositCount,
		Withdrawals:  withdrawals,
		FeeRecipient: s.FeeRecipient,
		Fee:          fee,
		PublicData:   append([]byte(nil), s.PublicData...),
	}
}

// CurrentRoot returns the latest committed commitment root.
func (m *Manager) CurrentRoot() (common.Hash, error) {
	raw, ok, err := m.get(currentRootKey)
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		return common.Hash{}, fmt.Errorf("state: commitment root not initialized")
	}
	return common.BytesToHash(raw), nil
}

// SetCurrentRoot stages a new commitment root.
func (m *Manager) SetCurrentRoot(root common.Hash) {
	m.put(currentRootKey, root.Bytes())
}

// BlockHeight returns the number of blocks in the log (the next index to
// apply).
func (m *Manager) BlockHeight() (uint64, error) {
	return m.getUint64(blockHeightKey)
}

// AppendBlock stages the block at the tail of the log and bumps the height.
// The caller has already validated index continuity.
func (m *Manager) AppendBlock(b *types.Block) error {
	if err := m.putRLP(seqKey(blockPrefix, b.Index), newStoredBlock(b)); err != nil {
		return err
	}
	m.putUint64(blockHeightKey, b.Index+1)
	return nil
}

// BlockByIndex loads a block from the log.
func (m *Manager) BlockByIndex(index uint64) (*types.Block, bool, error) {
	stored := new(storedBlock)
	ok, err := m.getRLP(seqKey(blockPrefix, index), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toBlock(), true, nil
}
