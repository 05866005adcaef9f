package state

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	// ErrBalanceOverflow signals a credit that would exceed 256 bits.
	ErrBalanceOverflow = errors.New("state: balance overflow")
	// ErrNegativeAmount signals a negative credit, which the ledger never
	// accepts: the withdrawable-balance table is purely additive.
	ErrNegativeAmount = errors.New("state: negative amount")
)

func balanceKey(owner common.Address, tokenID uint32) []byte {
	buf := make([]byte, len(balancePrefix)+common.AddressLength+4)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], owner.Bytes())
	binary.BigEndian.PutUint32(buf[len(balancePrefix)+common.AddressLength:], tokenID)
	return buf
}

func exitKey(accountID, tokenID uint32) []byte {
	buf := make([]byte, len(exitPrefix)+8)
	copy(buf, exitPrefix)
	binary.BigEndian.PutUint32(buf[len(exitPrefix):], accountID)
	binary.BigEndian.PutUint32(buf[len(exitPrefix)+4:], tokenID)
	return buf
}

// Balance returns the withdrawable balance for (owner, token). A missing
// entry reads as zero.
func (m *Manager) Balance(owner common.Address, tokenID uint32) (*big.Int, error) {
	raw, ok, err := m.get(balanceKey(owner, tokenID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value := new(uint256.Int).SetBytes(raw)
	return value.ToBig(), nil
}

// AddBalance credits amount onto (owner, token) with 256-bit overflow
// detection.
func (m *Manager) AddBalance(owner common.Address, tokenID uint32, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	credit, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrBalanceOverflow
	}
	current, err := m.Balance(owner, tokenID)
	if err != nil {
		return err
	}
	base, _ := uint256.FromBig(current)
	sum, carry := new(uint256.Int).AddOverflow(base, credit)
	if carry {
		return ErrBalanceOverflow
	}
	m.put(balanceKey(owner, tokenID), sum.Bytes())
	return nil
}

// ZeroBalance clears the entry for (owner, token) and returns the amount that
// was held.
func (m *Manager) ZeroBalance(owner common.Address, tokenID uint32) (*big.Int, error) {
	current, err := m.Balance(owner, tokenID)
	if err != nil {
		return nil, err
	}
	if current.Sign() > 0 {
		m.del(balanceKey(owner, tokenID))
	}
	return current, nil
}

// ExitConsumed reports whether the merkle exit for (accountID, tokenID) has
// already been taken.
func (m *Manager) ExitConsumed(accountID, tokenID uint32) (bool, error) {
	return m.has(exitKey(accountID, tokenID))
}

// MarkExitConsumed burns the merkle exit slot for (accountID, tokenID) so the
// same proof cannot be replayed.
func (m *Manager) MarkExitConsumed(accountID, tokenID uint32) {
	m.put(exitKey(accountID, tokenID), []byte{0x01})
}
