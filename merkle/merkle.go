// Package merkle verifies balance inclusion proofs against a committed root
// of the off-chain account/balance tree. Only verification lives on-ledger;
// the tree itself is maintained by the operator, so this package never builds
// or mutates a full tree (the test helper excepted).
package merkle

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Domain-separation prefixes keep leaf and interior digests from colliding.
const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

var (
	ErrProofLength  = errors.New("merkle: proof length does not match tree depth")
	ErrRootMismatch = errors.New("merkle: computed root does not match commitment")
	ErrAmountRange  = errors.New("merkle: amount outside 256-bit range")
	ErrDepthRange   = errors.New("merkle: depth must be between 1 and 48")
)

// BalanceLeaf is the claimed content of one (account, token) slot in the
// committed tree.
type BalanceLeaf struct {
	AccountID uint32
	TokenID   uint32
	Owner     common.Address
	Balance   *big.Int
}

// Proof is a bottom-up list of sibling digests for a BalanceLeaf.
type Proof struct {
	Leaf     BalanceLeaf
	Siblings []common.Hash
}

// LeafIndex positions a leaf deterministically: accounts are laid out
// consecutively, each spanning a fixed token stride. tokenBits is the number
// of index bits reserved for the token dimension.
func LeafIndex(accountID, tokenID uint32, tokenBits uint) uint64 {
	return uint64(accountID)<<tokenBits | uint64(tokenID)
}

// LeafHash digests a balance leaf. The balance is encoded as a fixed 32-byte
// big-endian word so that zero balances and absent leaves hash differently
// from short encodings.
func LeafHash(leaf BalanceLeaf) (common.Hash, error) {
	balance := leaf.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	word, overflow := uint256.FromBig(balance)
	if overflow || balance.Sign() < 0 {
		return common.Hash{}, ErrAmountRange
	}
	buf := make([]byte, 0, 1+4+4+common.AddressLength+32)
	buf = append(buf, leafPrefix)
	buf = binary.BigEndian.AppendUint32(buf, leaf.AccountID)
	buf = binary.BigEndian.AppendUint32(buf, leaf.TokenID)
	buf = append(buf, leaf.Owner.Bytes()...)
	encoded := word.Bytes32()
	buf = append(buf, encoded[:]...)
	return common.BytesToHash(ethcrypto.Keccak256(buf)), nil
}

func nodeHash(left, right common.Hash) common.Hash {
	buf := make([]byte, 0, 1+2*common.HashLength)
	buf = append(buf, nodePrefix)
	buf = append(buf, left.Bytes()...)
	buf = append(buf, right.Bytes()...)
	return common.BytesToHash(ethcrypto.Keccak256(buf))
}

// Root folds a proof bottom-up into the root it commits to. tokenBits must
// match the layout used when the tree was committed.
func Root(proof *Proof, depth, tokenBits uint) (common.Hash, error) {
	if depth == 0 || depth > 48 {
		return common.Hash{}, ErrDepthRange
	}
	if uint(len(proof.Siblings)) != depth {
		return common.Hash{}, ErrProofLength
	}
	node, err := LeafHash(proof.Leaf)
	if err != nil {
		return common.Hash{}, err
	}
	index := LeafIndex(proof.Leaf.AccountID, proof.Leaf.TokenID, tokenBits)
	for _, sibling := range proof.Siblings {
		if index&1 == 1 {
			node = nodeHash(sibling, node)
		} else {
			node = nodeHash(node, sibling)
		}
		index >>= 1
	}
	return node, nil
}

// Verify checks proof against root for a tree of the given depth.
func Verify(root common.Hash, proof *Proof, depth, tokenBits uint) error {
	computed, err := Root(proof, depth, tokenBits)
	if err != nil {
		return err
	}
	if computed != root {
		return ErrRootMismatch
	}
	return nil
}

// EmptySubtreeHashes returns the digest of the all-empty subtree at each
// level, level 0 being an empty leaf slot. Operators use these to build
// sparse proofs; tests use them to assemble small trees.
func EmptySubtreeHashes(depth uint) []common.Hash {
	hashes := make([]common.Hash, depth+1)
	hashes[0] = common.BytesToHash(ethcrypto.Keccak256([]byte{leafPrefix}))
	for i := uint(1); i <= depth; i++ {
		hashes[i] = nodeHash(hashes[i-1], hashes[i-1])
	}
	return hashes
}
