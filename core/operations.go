package core

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	zkexerrors "zkex/core/errors"
	"zkex/core/types"
	"zkex/merkle"
	"zkex/native/deposit"
	"zkex/native/forced"
	"zkex/native/mode"
	"zkex/native/settlement"
)

// Deposit accepts funds for owner via the custody contract and records a
// pending deposit. caller must be owner or a registered agent.
func (ex *Exchange) Deposit(ctx context.Context, caller, owner, token common.Address, amount *big.Int) (*types.DepositRequest, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return nil, err
	}
	ex.st.Begin()
	pending, err := ex.deposits.Deposit(ctx, owner, token, amount)
	if err != nil {
		ex.st.Revert()
		return nil, wrapDepositErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.metrics.DepositsRecorded.Inc()
	ex.logger.InfoContext(ctx, "deposit recorded",
		"owner", owner.Hex(), "token", token.Hex(), "amount", amount.String())
	return pending, nil
}

// ReclaimStaleDeposit converts a deposit the operator has ignored past the
// stale threshold into a withdrawable balance.
func (ex *Exchange) ReclaimStaleDeposit(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return nil, err
	}
	ex.st.Begin()
	amount, err := ex.deposits.ReclaimStale(owner, tokenID)
	if err != nil {
		ex.st.Revert()
		return nil, wrapDepositErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.logger.InfoContext(ctx, "stale deposit reclaimed",
		"owner", owner.Hex(), "tokenId", tokenID, "amount", amount.String())
	return amount, nil
}

// ForceWithdraw opens an escape-hatch request for (accountID, tokenID). fee
// is the accompanying spam bond.
func (ex *Exchange) ForceWithdraw(ctx context.Context, caller, owner common.Address, accountID, tokenID uint32, fee *big.Int) (*types.ForcedWithdrawal, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return nil, err
	}
	ex.st.Begin()
	request, err := ex.queue.Open(ctx, owner, caller, accountID, tokenID, fee)
	if err != nil {
		ex.st.Revert()
		return nil, wrapForcedErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.metrics.ForcedRequestsOpen.Inc()
	ex.logger.InfoContext(ctx, "forced withdrawal opened",
		"accountId", accountID, "tokenId", tokenID, "submitter", caller.Hex())
	return request, nil
}

// CancelForcedWithdrawal frees the slot for a still-unprocessed request and
// refunds the bond.
func (ex *Exchange) CancelForcedWithdrawal(ctx context.Context, caller, owner common.Address, accountID, tokenID uint32) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return err
	}
	ex.st.Begin()
	if err := ex.queue.Cancel(caller, accountID, tokenID); err != nil {
		ex.st.Revert()
		return wrapForcedErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	ex.metrics.ForcedRequestsOpen.Dec()
	ex.logger.InfoContext(ctx, "forced withdrawal cancelled",
		"accountId", accountID, "tokenId", tokenID)
	return nil
}

// NotifyForcedRequestTooOld is the permission-less liveness trigger: anyone
// may call it, and once the named request has aged past the threshold the
// exchange irreversibly enters withdrawal mode.
func (ex *Exchange) NotifyForcedRequestTooOld(ctx context.Context, accountID, tokenID uint32) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return err
	}
	ex.st.Begin()
	if _, err := ex.queue.TooOld(accountID, tokenID); err != nil {
		ex.st.Revert()
		return wrapForcedErr(err)
	}
	entered, err := ex.modeCtl.EnterWithdrawalMode("forced request too old")
	if err != nil {
		ex.st.Revert()
		return err
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	if entered {
		ex.metrics.ModeGauge.Set(float64(types.ModeWithdrawal))
		ex.logger.WarnContext(ctx, "withdrawal mode entered",
			"trigger", "forced request too old", "accountId", accountID, "tokenId", tokenID)
	}
	return nil
}

// Shutdown is the operator owner's voluntary wind-down. It starts the
// shutdown grace window during which users can exit normally.
func (ex *Exchange) Shutdown(ctx context.Context, caller common.Address) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return err
	}
	if caller != ex.params.Owner {
		return zkexerrors.Authorization("NOT_OWNER", nil)
	}
	ex.st.Begin()
	if err := ex.modeCtl.Shutdown(); err != nil {
		ex.st.Revert()
		switch {
		case errors.Is(err, mode.ErrAlreadyShutdown):
			return zkexerrors.State("ALREADY_SHUTDOWN", err)
		case errors.Is(err, mode.ErrWithdrawalMode):
			return zkexerrors.State("INVALID_MODE", err)
		}
		return err
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	ex.metrics.ModeGauge.Set(float64(types.ModeShutdownPending))
	ex.logger.WarnContext(ctx, "shutdown started")
	return nil
}

// NotifyShutdownTooOld escalates an unresolved voluntary shutdown into
// withdrawal mode once the grace window has fully elapsed. Like the forced
// trigger it is permission-less.
func (ex *Exchange) NotifyShutdownTooOld(ctx context.Context) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return err
	}
	ex.st.Begin()
	record, err := ex.modeCtl.Record()
	if err != nil {
		ex.st.Revert()
		return err
	}
	if record.Mode != types.ModeShutdownPending {
		ex.st.Revert()
		return zkexerrors.State("NOT_IN_SHUTDOWN", nil)
	}
	age := ex.now() - record.ShutdownAt
	if age < 0 || time.Duration(age)*time.Second < ex.params.MinTimeInShutdown {
		ex.st.Revert()
		return zkexerrors.Timing("SHUTDOWN_NOT_TOO_OLD", nil)
	}
	entered, err := ex.modeCtl.EnterWithdrawalMode("shutdown unresolved")
	if err != nil {
		ex.st.Revert()
		return err
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	if entered {
		ex.metrics.ModeGauge.Set(float64(types.ModeWithdrawal))
		ex.logger.WarnContext(ctx, "withdrawal mode entered", "trigger", "shutdown unresolved")
	}
	return nil
}

// RegisterToken assigns the next dense token id to addr. Owner-only.
func (ex *Exchange) RegisterToken(ctx context.Context, caller, addr common.Address, subID uint64) (*types.TokenRecord, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if caller != ex.params.Owner {
		return nil, zkexerrors.Authorization("NOT_OWNER", nil)
	}
	ex.st.Begin()
	if _, exists, err := ex.st.TokenByAddress(addr); err != nil {
		ex.st.Revert()
		return nil, err
	} else if exists {
		ex.st.Revert()
		return nil, zkexerrors.Duplicate("TOKEN_ALREADY_REGISTERED", nil)
	}
	count, err := ex.st.TokenCount()
	if err != nil {
		ex.st.Revert()
		return nil, err
	}
	if count >= ex.params.MaxNumTokens {
		ex.st.Revert()
		return nil, zkexerrors.Capacity("TOKEN_REGISTRY_FULL", nil)
	}
	record := &types.TokenRecord{ID: count, Address: addr, SubID: subID}
	if err := ex.st.PutToken(record); err != nil {
		ex.st.Revert()
		return nil, err
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.logger.InfoContext(ctx, "token registered", "tokenId", record.ID, "address", addr.Hex())
	return record, nil
}

// Claim transfers the caller-designated owner's full withdrawable balance
// for tokenID out through custody.
func (ex *Exchange) Claim(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return nil, err
	}
	ex.st.Begin()
	amount, err := ex.settlement.Claim(ctx, owner, tokenID)
	if err != nil {
		ex.st.Revert()
		return nil, wrapSettlementErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.metrics.ClaimsExecuted.Inc()
	ex.logger.InfoContext(ctx, "balance claimed",
		"owner", owner.Hex(), "tokenId", tokenID, "amount", amount.String())
	return amount, nil
}

// WithdrawFromDepositRequest drains withdrawable credits that originated
// from stale deposits. Empty entries are tolerated so batch sweeps never
// abort part-way.
func (ex *Exchange) WithdrawFromDepositRequest(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error) {
	return ex.drain(ctx, caller, owner, tokenID)
}

// WithdrawFromApprovedWithdrawals drains withdrawable credits that
// originated from block settlement (approved and forced withdrawals).
// Empty entries are tolerated so batch sweeps never abort part-way.
func (ex *Exchange) WithdrawFromApprovedWithdrawals(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error) {
	return ex.drain(ctx, caller, owner, tokenID)
}

func (ex *Exchange) drain(ctx context.Context, caller, owner common.Address, tokenID uint32) (*big.Int, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if err := ex.authorize(owner, caller); err != nil {
		return nil, err
	}
	ex.st.Begin()
	amount, err := ex.settlement.Drain(ctx, owner, tokenID)
	if err != nil {
		ex.st.Revert()
		return nil, wrapSettlementErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	if amount.Sign() > 0 {
		ex.metrics.ClaimsExecuted.Inc()
		ex.logger.InfoContext(ctx, "balance drained",
			"owner", owner.Hex(), "tokenId", tokenID, "amount", amount.String())
	}
	return amount, nil
}

// WithdrawFromMerkleTree is the emergency exit: only usable in withdrawal
// mode, it verifies the claimant's balance against the last committed root
// and credits it for claiming. Anyone may submit a proof on the owner's
// behalf; funds only ever credit the proven owner.
func (ex *Exchange) WithdrawFromMerkleTree(ctx context.Context, proof *merkle.Proof) (*big.Int, error) {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	currentMode, err := ex.modeCtl.Mode()
	if err != nil {
		return nil, err
	}
	if currentMode != types.ModeWithdrawal {
		return nil, zkexerrors.State("NOT_IN_WITHDRAWAL_MODE", nil)
	}
	ex.st.Begin()
	amount, err := ex.settlement.MerkleExit(proof)
	if err != nil {
		ex.st.Revert()
		return nil, wrapSettlementErr(err)
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return nil, err
	}
	ex.metrics.MerkleExits.Inc()
	ex.logger.InfoContext(ctx, "merkle exit credited",
		"owner", proof.Leaf.Owner.Hex(), "accountId", proof.Leaf.AccountID,
		"tokenId", proof.Leaf.TokenID, "amount", amount.String())
	return amount, nil
}

// WithdrawStake releases the residual operator bond to recipient once the
// terminal mode is active. Owner-only.
func (ex *Exchange) WithdrawStake(ctx context.Context, caller common.Address, recipient common.Address) (*big.Int, error) {
	_, release, err := ex.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return nil, err
	}
	if caller != ex.params.Owner {
		return nil, zkexerrors.Authorization("NOT_OWNER", nil)
	}
	currentMode, err := ex.modeCtl.Mode()
	if err != nil {
		return nil, err
	}
	if currentMode != types.ModeWithdrawal {
		return nil, zkexerrors.State("NOT_IN_WITHDRAWAL_MODE", nil)
	}
	return ex.modeCtl.WithdrawStake(recipient)
}

func wrapDepositErr(err error) error {
	switch {
	case errors.Is(err, deposit.ErrInvalidAmount), errors.Is(err, deposit.ErrNothingCredit):
		return zkexerrors.State("INVALID_AMOUNT", err)
	case errors.Is(err, deposit.ErrUnknownToken):
		return zkexerrors.State("TOKEN_NOT_REGISTERED", err)
	case errors.Is(err, deposit.ErrNoPending):
		return zkexerrors.NoBalance("NO_PENDING_DEPOSIT", err)
	case errors.Is(err, deposit.ErrNotStale), errors.Is(err, deposit.ErrClockRegressed):
		return zkexerrors.Timing("DEPOSIT_NOT_STALE", err)
	default:
		return err
	}
}

func wrapForcedErr(err error) error {
	switch {
	case errors.Is(err, forced.ErrQueueFull):
		return zkexerrors.Capacity("TOO_MANY_FORCED_REQUESTS", err)
	case errors.Is(err, forced.ErrDuplicate):
		return zkexerrors.Duplicate("FORCED_REQUEST_ALREADY_OPEN", err)
	case errors.Is(err, forced.ErrNotPending):
		return zkexerrors.State("FORCED_REQUEST_NOT_PENDING", err)
	case errors.Is(err, forced.ErrNotSubmitter):
		return zkexerrors.Authorization("NOT_REQUEST_SUBMITTER", err)
	case errors.Is(err, forced.ErrFeeTooLow), errors.Is(err, forced.ErrBondShortfall):
		return zkexerrors.State("FORCED_FEE_TOO_LOW", err)
	case errors.Is(err, forced.ErrNotOldEnough), errors.Is(err, forced.ErrClockRegressed):
		return zkexerrors.Timing("FORCED_REQUEST_NOT_TOO_OLD", err)
	default:
		return err
	}
}

func wrapSettlementErr(err error) error {
	switch {
	case errors.Is(err, settlement.ErrNoBalance):
		return zkexerrors.NoBalance("NO_WITHDRAWABLE_BALANCE", err)
	case errors.Is(err, settlement.ErrUnknownToken):
		return zkexerrors.State("TOKEN_NOT_REGISTERED", err)
	case errors.Is(err, settlement.ErrExitConsumed):
		return zkexerrors.Duplicate("MERKLE_EXIT_ALREADY_TAKEN", err)
	case errors.Is(err, merkle.ErrRootMismatch), errors.Is(err, merkle.ErrProofLength),
		errors.Is(err, merkle.ErrAmountRange), errors.Is(err, merkle.ErrDepthRange):
		return zkexerrors.Invariant("INVALID_EXIT_PROOF", err)
	default:
		return err
	}
}
