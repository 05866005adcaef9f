package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

type storedForced struct {
	Seq       uint64
	AccountID uint32
	TokenID   uint32
	Owner     common.Address
	Submitter common.Address
	Fee       *big.Int
	CreatedAt uint64
}

func forcedIndexKey(accountID, tokenID uint32) []byte {
	buf := make([]byte, len(forcedIndexPrefix)+8)
	copy(buf, forcedIndexPrefix)
	binary.BigEndian.PutUint32(buf[len(forcedIndexPrefix):], accountID)
	binary.BigEndian.PutUint32(buf[len(forcedIndexPrefix)+4:], tokenID)
	return buf
}

func (s *storedForced) toForced() *types.ForcedWithdrawal {
	fee := big.NewInt(0)
	if s.Fee != nil {
		fee = new(big.Int).Set(s.Fee)
	}
	return &types.ForcedWithdrawal{
		Seq:       s.Seq,
		AccountID: s.AccountID,
		TokenID:   s.TokenID,
		Owner:     s.Owner,
		Submitter: s.Submitter,
		Fee:       fee,
		CreatedAt: int64(s.CreatedAt),
	}
}

// NextForcedSeq allocates the next forced-withdrawal sequence number.
func (m *Manager) NextForcedSeq() (uint64, error) {
	seq, err := m.getUint64(forcedSeqKey)
	if err != nil {
		return 0, err
	}
	m.putUint64(forcedSeqKey, seq+1)
	return seq, nil
}

// OpenForcedCount returns the number of occupied forced-request slots.
func (m *Manager) OpenForcedCount() (uint64, error) {
	return m.getUint64(forcedOpenKey)
}

// PutForced stages an open forced-withdrawal request, its pair index and the
// bumped slot count.
func (m *Manager) PutForced(f *types.ForcedWithdrawal) error {
	fee := big.NewInt(0)
	if f.Fee != nil {
		fee = new(big.Int).Set(f.Fee)
	}
	ts := uint64(0)
	if f.CreatedAt > 0 {
		ts = uint64(f.CreatedAt)
	}
	if err := m.putRLP(seqKey(forcedPrefix, f.Seq), &storedForced{
		Seq:       f.Seq,
		AccountID: f.AccountID,
		TokenID:   f.TokenID,
		Owner:     f.Owner,
		Submitter: f.Submitter,
		Fee:       fee,
		CreatedAt: ts,
	}); err != nil {
		return err
	}
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], f.Seq)
	m.put(forcedIndexKey(f.AccountID, f.TokenID), seqBuf[:])
	open, err := m.OpenForcedCount()
	if err != nil {
		return err
	}
	m.putUint64(forcedOpenKey, open+1)
	return nil
}

// ForcedByPair returns the open request for (accountID, tokenID), if any.
func (m *Manager) ForcedByPair(accountID, tokenID uint32) (*types.ForcedWithdrawal, bool, error) {
	raw, ok, err := m.get(forcedIndexKey(accountID, tokenID))
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) != 8 {
		return nil, false, fmt.Errorf("state: malformed forced index for account %d", accountID)
	}
	stored := new(storedForced)
	ok, err = m.getRLP(seqKey(forcedPrefix, binary.BigEndian.Uint64(raw)), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.toForced(), true, nil
}

// DeleteForced removes an open request, its pair index, and frees its slot.
func (m *Manager) DeleteForced(f *types.ForcedWithdrawal) error {
	m.del(seqKey(forcedPrefix, f.Seq))
	m.del(forcedIndexKey(f.AccountID, f.TokenID))
	open, err := m.OpenForcedCount()
	if err != nil {
		return err
	}
	if open == 0 {
		return fmt.Errorf("state: forced slot count underflow")
	}
	m.putUint64(forcedOpenKey, open-1)
	return nil
}

// ForcedAscending visits open forced requests in submission order.
func (m *Manager) ForcedAscending(fn func(*types.ForcedWithdrawal) error) error {
	return m.ascend(forcedPrefix, func(_, value []byte) error {
		stored := new(storedForced)
		if err := decodeStored(value, stored); err != nil {
			return err
		}
		return fn(stored.toForced())
	})
}
