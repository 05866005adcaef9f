package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

type storedDeposit struct {
	Seq       uint64
	Owner     common.Address
	TokenID   uint32
	Amount    *big.Int
	CreatedAt uint64
}

func depositIndexKey(owner common.Address, tokenID uint32) []byte {
	buf := make([]byte, len(depositIndexPrefix)+common.AddressLength+4)
	copy(buf, depositIndexPrefix)
	copy(buf[len(depositIndexPrefix):], owner.Bytes())
	binary.BigEndian.PutUint32(buf[len(depositIndexPrefix)+common.AddressLength:], tokenID)
	return buf
}

func (s *storedDeposit) toDeposit() *types.DepositRequest {
	amount := big.NewInt(0)
	if s.Amount != nil {
		amount = new(big.Int).Set(s.Amount)
	}
	return &types.DepositRequest{
		Seq:       s.Seq,
		Owner:     s.Owner,
		TokenID:   s.TokenID,
		Amount:    amount,
		CreatedAt: int64(s.CreatedAt),
	}
}

// NextDepositSeq allocates the next deposit sequence number.
func (m *Manager) NextDepositSeq() (uint64, error) {
	seq, err := m.getUint64(depositSeqKey)
	if err != nil {
		return 0, err
	}
	m.putUint64(depositSeqKey, seq+1)
	return seq, nil
}

// PutDeposit stages a pending deposit and its (owner, token) index entry.
func (m *Manager) PutDeposit(d *types.DepositRequest) error {
	amount := big.NewInt(0)
	if d.Amount != nil {
		amount = new(big.Int).Set(d.Amount)
	}
	ts := uint64(0)
	if d.CreatedAt > 0 {
		ts = uint64(d.CreatedAt)
	}
	if err := m.putRLP(seqKey(depositPrefix, d.Seq), &storedDeposit{
		Seq:       d.Seq,
		Owner:     d.Owner,
		TokenID:   d.TokenID,
		Amount:    amount,
		CreatedAt: ts,
	}); err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], d.Seq)
	m.put(depositIndexKey(d.Owner, d.TokenID), seqBuf[:])
	return nil
}

// DepositByOwner returns the pending deposit for (owner, token), if any.
func (m *Manager) DepositByOwner(owner common.Address, tokenID uint32) (*types.DepositRequest, bool, error) {
	raw, ok, err := m.get(depositIndexKey(owner, tokenID))
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) != 8 {
		return nil, false, fmt.Errorf("state: malformed deposit index for %s", owner.Hex())
	}
	stored := new(storedDeposit)
	ok, err = m.getRLP(seqKey(depositPrefix, binary.BigEndian.Uint64(raw)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toDeposit(), true, nil
}

// DeleteDeposit removes a pending deposit and its index entry.
func (m *Manager) DeleteDeposit(d *types.DepositRequest) {
	m.del(seqKey(depositPrefix, d.Seq))
	m.del(depositIndexKey(d.Owner, d.TokenID))
}

// DepositsAscending visits pending deposits in sequence order.
func (m *Manager) DepositsAscending(fn func(*types.DepositRequest) error) error {
	return m.ascend(depositPrefix, func(_, value []byte) error {
		stored := new(storedDeposit)
		if err := decodeStored(value, stored); err != nil {
			return err
		}
		return fn(stored.toDeposit())
	})
}
