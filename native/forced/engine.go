// Package forced implements the escape-hatch request queue: bounded,
// user-funded demands that the operator settle a specific (account, token)
// withdrawal within a fixed time, on pain of the exchange tipping into
// withdrawal mode.
package forced

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/events"
	"zkex/core/types"
)

var (
	ErrNilState       = errors.New("forced queue: state not configured")
	ErrNilCustody     = errors.New("forced queue: custody contract not configured")
	ErrQueueFull      = errors.New("forced queue: all request slots occupied")
	ErrDuplicate      = errors.New("forced queue: request already open for pair")
	ErrNotPending     = errors.New("forced queue: no open request for pair")
	ErrNotSubmitter   = errors.New("forced queue: caller did not submit request")
	ErrFeeTooLow      = errors.New("forced queue: fee below required bond")
	ErrNotOldEnough   = errors.New("forced queue: request younger than trigger age")
	ErrClockRegressed = errors.New("forced queue: stored timestamp in the future")
	ErrBondShortfall  = errors.New("forced queue: custody credited less than the required bond")
)

type engineState interface {
	NextForcedSeq() (uint64, error)
	OpenForcedCount() (uint64, error)
	PutForced(*types.ForcedWithdrawal) error
	ForcedByPair(accountID, tokenID uint32) (*types.ForcedWithdrawal, bool, error)
	DeleteForced(*types.ForcedWithdrawal) error
	AddBalance(owner common.Address, tokenID uint32, amount *big.Int) error
	TokenByID(id uint32) (*types.TokenRecord, bool, error)
}

// CustodyContract collects the spam bond in the native token. Deposit
// returns the amount actually credited; only that amount is ever refunded.
type CustodyContract interface {
	Deposit(ctx context.Context, from common.Address, token common.Address, amount *big.Int) (*big.Int, error)
}

type forcedEvent struct {
	evt *types.Event
}

func (e forcedEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e forcedEvent) Event() *types.Event { return e.evt }

// Engine is the forced-withdrawal queue. maxOpen bounds the number of
// simultaneously open requests; requiredFee is the spam bond collected on
// submission and refunded on cancellation or settlement; triggerAge is how
// old an unserved request must grow before anyone may trip withdrawal mode.
type Engine struct {
	state       engineState
	custody     CustodyContract
	maxOpen     uint64
	requiredFee *big.Int
	triggerAge  time.Duration
	emitter     events.Emitter
	nowFn       func() int64
}

// NewEngine creates a forced-withdrawal queue engine with a no-op emitter.
func NewEngine(maxOpen uint64, requiredFee *big.Int, triggerAge time.Duration) *Engine {
	fee := big.NewInt(0)
	if requiredFee != nil {
		fee = new(big.Int).Set(requiredFee)
	}
	return &Engine{
		maxOpen:     maxOpen,
		requiredFee: fee,
		triggerAge:  triggerAge,
		emitter:     events.NoopEmitter{},
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the external custody contract the bond is paid into.
func (e *Engine) SetCustody(custody CustodyContract) { e.custody = custody }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(forcedEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Open creates a forced-withdrawal request for (accountID, tokenID),
// consuming one queue slot. fee is the declared bond; the bond is pulled
// into custody in the native token and the request records only the amount
// custody actually credited, so later refunds never exceed collected funds.
func (e *Engine) Open(ctx context.Context, owner, submitter common.Address, accountID, tokenID uint32, fee *big.Int) (*types.ForcedWithdrawal, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	declared := big.NewInt(0)
	if fee != nil {
		declared = new(big.Int).Set(fee)
	}
	if declared.Cmp(e.requiredFee) < 0 {
		return nil, ErrFeeTooLow
	}
	open, err := e.state.OpenForcedCount()
	if err != nil {
		return nil, err
	}
	if open >= e.maxOpen {
		return nil, ErrQueueFull
	}
	if _, exists, err := e.state.ForcedByPair(accountID, tokenID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicate
	}
	bond, err := e.collectBond(ctx, submitter, declared)
	if err != nil {
		return nil, err
	}
	seq, err := e.state.NextForcedSeq()
	if err != nil {
		return nil, err
	}
	request := &types.ForcedWithdrawal{
		Seq:       seq,
		AccountID: accountID,
		TokenID:   tokenID,
		Owner:     owner,
		Submitter: submitter,
		Fee:       bond,
		CreatedAt: e.now(),
	}
	if err := e.state.PutForced(request); err != nil {
		return nil, err
	}
	e.emit(events.ForcedWithdrawalOpened{
		AccountID: accountID,
		TokenID:   tokenID,
		Submitter: submitter,
		CreatedAt: request.CreatedAt,
	}.Event())
	return request.Clone(), nil
}

// Cancel removes an unprocessed request and refunds its bond into the
// submitter's withdrawable balance. Only valid while the request is open.
func (e *Engine) Cancel(submitter common.Address, accountID, tokenID uint32) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	request, ok, err := e.state.ForcedByPair(accountID, tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPending
	}
	if request.Submitter != submitter && request.Owner != submitter {
		return ErrNotSubmitter
	}
	if err := e.refundBond(request); err != nil {
		return err
	}
	if err := e.state.DeleteForced(request); err != nil {
		return err
	}
	e.emit(events.ForcedWithdrawalCanceled{AccountID: accountID, TokenID: tokenID}.Event())
	return nil
}

// TooOld checks whether the open request for (accountID, tokenID) has aged
// past the trigger threshold. It returns the request when eligible; the
// caller then trips the mode transition. The request itself stays open as the
// evidence for the transition.
func (e *Engine) TooOld(accountID, tokenID uint32) (*types.ForcedWithdrawal, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	request, ok, err := e.state.ForcedByPair(accountID, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPending
	}
	age := e.now() - request.CreatedAt
	if age < 0 {
		// An adversarially large stored timestamp must not satisfy
		// the trigger through wraparound.
		return nil, ErrClockRegressed
	}
	if time.Duration(age)*time.Second < e.triggerAge {
		return nil, ErrNotOldEnough
	}
	return request, nil
}

// Settle consumes the open request for (accountID, tokenID) on behalf of a
// block that included the matching withdrawal, refunding the bond.
func (e *Engine) Settle(accountID, tokenID uint32) (*types.ForcedWithdrawal, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	request, ok, err := e.state.ForcedByPair(accountID, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPending
	}
	if err := e.refundBond(request); err != nil {
		return nil, err
	}
	if err := e.state.DeleteForced(request); err != nil {
		return nil, err
	}
	return request, nil
}

// collectBond pulls the declared bond into custody via the native token
// (token id 0) and returns the credited amount. Fee-on-transfer shaving may
// leave the credited amount short of the required bond; that is rejected so
// every open request is backed by at least requiredFee held in custody.
func (e *Engine) collectBond(ctx context.Context, submitter common.Address, declared *big.Int) (*big.Int, error) {
	if declared.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if e.custody == nil {
		return nil, ErrNilCustody
	}
	native, ok, err := e.state.TokenByID(0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNilState
	}
	credited, err := e.custody.Deposit(ctx, submitter, native.Address, declared)
	if err != nil {
		return nil, err
	}
	if credited == nil || credited.Sign() < 0 {
		credited = big.NewInt(0)
	}
	if credited.Cmp(e.requiredFee) < 0 {
		return nil, ErrBondShortfall
	}
	return new(big.Int).Set(credited), nil
}

func (e *Engine) refundBond(request *types.ForcedWithdrawal) error {
	if request.Fee == nil || request.Fee.Sign() == 0 {
		return nil
	}
	// Bond refunds ride the native token entry (token id 0). The recorded
	// fee is the custody-credited amount, so the refund is always backed.
	return e.state.AddBalance(request.Submitter, 0, request.Fee)
}
