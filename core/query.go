package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

// Read-only queries. They hold the same mutex as the mutating entry points
// (single sequential ledger) but never stage writes.

// GetMerkleRoot returns the current commitment root.
func (ex *Exchange) GetMerkleRoot() (common.Hash, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if err := ex.requireInitialized(); err != nil {
		return common.Hash{}, err
	}
	return ex.st.CurrentRoot()
}

// GetBlockHeight returns the number of applied blocks, genesis included.
func (ex *Exchange) GetBlockHeight() (uint64, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if err := ex.requireInitialized(); err != nil {
		return 0, err
	}
	return ex.st.BlockHeight()
}

// GetBlockInfo returns the block at index from the append-only log.
func (ex *Exchange) GetBlockInfo(index uint64) (*types.Block, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if err := ex.requireInitialized(); err != nil {
		return nil, false, err
	}
	return ex.st.BlockByIndex(index)
}

// Mode returns the current operating mode record.
func (ex *Exchange) Mode() (*types.ModeRecord, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.modeCtl.Record()
}

// PendingDeposit returns the open deposit entry for (owner, token), if any.
func (ex *Exchange) PendingDeposit(owner common.Address, tokenID uint32) (*types.DepositRequest, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.st.DepositByOwner(owner, tokenID)
}

// OpenForcedRequest returns the open forced request for the pair, if any.
func (ex *Exchange) OpenForcedRequest(accountID, tokenID uint32) (*types.ForcedWithdrawal, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.st.ForcedByPair(accountID, tokenID)
}

// WithdrawableBalance returns the claimable amount for (owner, token).
func (ex *Exchange) WithdrawableBalance(owner common.Address, tokenID uint32) (*big.Int, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.st.Balance(owner, tokenID)
}

// TokenByID resolves a dense token id.
func (ex *Exchange) TokenByID(id uint32) (*types.TokenRecord, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.st.TokenByID(id)
}

// TokenByAddress resolves a token address.
func (ex *Exchange) TokenByAddress(addr common.Address) (*types.TokenRecord, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.st.TokenByAddress(addr)
}

// GetStake reads the operator's bonded amount from the external registry.
func (ex *Exchange) GetStake() (*big.Int, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.modeCtl.Stake()
}

// Params returns a copy of the exchange's policy constants. The fee is
// deep-copied so callers cannot mutate the live parameter through it.
func (ex *Exchange) Params() Params {
	out := ex.params
	if ex.params.ForcedRequestFee != nil {
		out.ForcedRequestFee = new(big.Int).Set(ex.params.ForcedRequestFee)
	}
	return out
}
