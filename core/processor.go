package core

import (
	"context"
	"errors"
	"math/big"

	zkexerrors "zkex/core/errors"
	"zkex/core/events"
	"zkex/core/types"
	"zkex/native/forced"

	"github.com/ethereum/go-ethereum/common"
)

var errNilBlock = errors.New("exchange: nil block")

// SubmitBlock validates and applies one batch commitment update. Operator
// only; mode must be Normal; the block must extend the log gaplessly from
// the current root; the injected verifier must accept the transition. On any
// failure nothing is mutated.
func (ex *Exchange) SubmitBlock(ctx context.Context, caller common.Address, block *types.Block) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := ex.requireInitialized(); err != nil {
		return err
	}
	if caller != ex.params.Operator {
		return zkexerrors.Authorization("NOT_OPERATOR", nil)
	}
	if block == nil {
		return zkexerrors.State("NIL_BLOCK", errNilBlock)
	}
	currentMode, err := ex.modeCtl.Mode()
	if err != nil {
		return err
	}
	if currentMode != types.ModeNormal {
		return zkexerrors.State("INVALID_MODE", nil)
	}

	ex.st.Begin()
	if err := ex.applyBlock(block); err != nil {
		ex.st.Revert()
		return err
	}
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	ex.metrics.BlocksApplied.Inc()
	// Gauge updates happen only after the commit; a reverted block must
	// leave the open-slot count untouched.
	for i := range block.Withdrawals {
		if block.Withdrawals[i].Forced {
			ex.metrics.ForcedRequestsOpen.Dec()
		}
	}
	ex.emitter.Emit(exchangeEvent{evt: events.BlockSubmitted{
		Index:     block.Index,
		RootAfter: block.RootAfter,
		Timestamp: block.Timestamp,
	}.Event()})
	ex.logger.InfoContext(ctx, "block applied",
		"index", block.Index, "rootAfter", block.RootAfter.Hex(),
		"deposits", block.DepositCount, "withdrawals", len(block.Withdrawals))
	return nil
}

func (ex *Exchange) applyBlock(block *types.Block) error {
	height, err := ex.st.BlockHeight()
	if err != nil {
		return err
	}
	if block.Index != height {
		return zkexerrors.Invariant("BLOCK_INDEX_MISMATCH", nil)
	}
	currentRoot, err := ex.st.CurrentRoot()
	if err != nil {
		return err
	}
	if block.RootBefore != currentRoot {
		return zkexerrors.Invariant("ROOT_MISMATCH", nil)
	}
	if !ex.verifier.Verify(block.RootBefore, block.RootAfter, block.PublicData) {
		return zkexerrors.Invariant("PROOF_REJECTED", nil)
	}
	if err := ex.consumeDeposits(block.DepositCount); err != nil {
		return err
	}
	if err := ex.settleWithdrawals(block.Withdrawals); err != nil {
		return err
	}
	if block.Fee != nil && block.Fee.Sign() > 0 {
		if err := ex.st.AddBalance(block.FeeRecipient, 0, block.Fee); err != nil {
			return err
		}
	}
	stamped := block.Clone()
	if stamped.Timestamp == 0 {
		stamped.Timestamp = ex.now()
	}
	if err := ex.st.AppendBlock(stamped); err != nil {
		return err
	}
	ex.st.SetCurrentRoot(block.RootAfter)
	return nil
}

// consumeDeposits absorbs the count oldest pending deposits into the
// off-chain tree, removing their pending entries.
func (ex *Exchange) consumeDeposits(count uint64) error {
	if count == 0 {
		return nil
	}
	consumed := uint64(0)
	err := ex.st.DepositsAscending(func(d *types.DepositRequest) error {
		if consumed == count {
			return errStopIteration
		}
		ex.st.DeleteDeposit(d)
		consumed++
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return err
	}
	if consumed < count {
		return zkexerrors.Invariant("DEPOSIT_CURSOR_OVERRUN", nil)
	}
	return nil
}

// settleWithdrawals credits each withdrawal to its owner's withdrawable
// balance; forced entries must match and consume an open forced request.
func (ex *Exchange) settleWithdrawals(withdrawals []types.BlockWithdrawal) error {
	for i := range withdrawals {
		w := withdrawals[i]
		if w.Forced {
			if _, err := ex.queue.Settle(w.AccountID, w.TokenID); err != nil {
				if errors.Is(err, forced.ErrNotPending) {
					return zkexerrors.Invariant("FORCED_REQUEST_NOT_OPEN", err)
				}
				return err
			}
		}
		amount := big.NewInt(0)
		if w.Amount != nil {
			amount = w.Amount
		}
		if err := ex.st.AddBalance(w.Owner, w.TokenID, amount); err != nil {
			return err
		}
	}
	return nil
}

var errStopIteration = errors.New("exchange: stop iteration")

type exchangeEvent struct {
	evt *types.Event
}

func (e exchangeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e exchangeEvent) Event() *types.Event { return e.evt }
