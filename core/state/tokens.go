package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

// ErrTokenNotFound is returned when a token lookup misses the registry.
var ErrTokenNotFound = errors.New("state: token not registered")

type storedToken struct {
	ID      uint32
	Address common.Address
	SubID   uint64
}

func tokenIDKey(id uint32) []byte {
	buf := make([]byte, len(tokenByIDPrefix)+4)
	copy(buf, tokenByIDPrefix)
	binary.BigEndian.PutUint32(buf[len(tokenByIDPrefix):], id)
	return buf
}

func tokenAddrKey(addr common.Address) []byte {
	buf := make([]byte, len(tokenByAddrPrefix)+common.AddressLength)
	copy(buf, tokenByAddrPrefix)
	copy(buf[len(tokenByAddrPrefix):], addr.Bytes())
	return buf
}

// TokenCount returns the number of registered tokens; ids are dense in
// [0, count).
func (m *Manager) TokenCount() (uint32, error) {
	count, err := m.getUint64(tokenCountKey)
	return uint32(count), err
}

// PutToken stages both directions of the id<->address bijection. The caller
// assigns the id and has already checked for duplicates.
func (m *Manager) PutToken(token *types.TokenRecord) error {
	if err := m.putRLP(tokenIDKey(token.ID), &storedToken{
		ID:      token.ID,
		Address: token.Address,
		SubID:   token.SubID,
	}); err != nil {
		return err
	}
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], token.ID)
	m.put(tokenAddrKey(token.Address), idBuf[:])
	m.putUint64(tokenCountKey, uint64(token.ID)+1)
	return nil
}

// TokenByID resolves a dense token id.
func (m *Manager) TokenByID(id uint32) (*types.TokenRecord, bool, error) {
	stored := new(storedToken)
	ok, err := m.getRLP(tokenIDKey(id), stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &types.TokenRecord{ID: stored.ID, Address: stored.Address, SubID: stored.SubID}, true, nil
}

// TokenByAddress resolves a token address to its registration.
func (m *Manager) TokenByAddress(addr common.Address) (*types.TokenRecord, bool, error) {
	raw, ok, err := m.get(tokenAddrKey(addr))
	if err != nil || !ok {
		return nil, false, err
	}
	if len(raw) != 4 {
		return nil, false, fmt.Errorf("state: malformed token index for %s", addr.Hex())
	}
	return m.TokenByID(binary.BigEndian.Uint32(raw))
}
