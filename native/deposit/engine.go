// Package deposit tracks funds received from users that the operator has not
// yet absorbed into the off-chain balance tree, and converts stale entries
// into directly claimable balances when the operator stops including them.
package deposit

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
	ErrNilState       = errors.New("deposit ledger: state not configured")
	ErrNilCustody     = errors.New("deposit ledger: custody contract not configured")
	ErrInvalidAmount  = errors.New("deposit ledger: amount must be positive")
	ErrUnknownToken   = errors.New("deposit ledger: token not registered")
	ErrNoPending      = errors.New("deposit ledger: no pending deposit")
	ErrNotStale       = errors.New("deposit ledger: deposit not yet reclaimable")
	ErrNothingCredit  = errors.New("deposit ledger: custody credited nothing")
	ErrClockRegressed = errors.New("deposit ledger: stored timestamp in the future")
)

type engineState interface {
	TokenByAddress(addr common.Address) (*types.TokenRecord, bool, error)
	TokenByID(id uint32) (*types.TokenRecord, bool, error)
	NextDepositSeq() (uint64, error)
	PutDeposit(*types.DepositRequest) error
	DepositByOwner(owner common.Address, tokenID uint32) (*types.DepositRequest, bool, error)
	DeleteDeposit(*types.DepositRequest)
	AddBalance(owner common.Address, tokenID uint32, amount *big.Int) error
}

// CustodyContract receives the actual funds. Deposit returns the amount that
// was really credited, which for fee-on-transfer tokens can be lower than the
// declared amount.
type CustodyContract interface {
	Deposit(ctx context.Context, from common.Address, token common.Address, amount *big.Int) (*big.Int, error)
}

type depositEvent struct {
	evt *types.Event
}

func (e depositEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e depositEvent) Event() *types.Event { return e.evt }

// Engine is the deposit ledger. MaxAge is the stale-deposit escape valve:
// entries older than it can be reclaimed into withdrawable balances without
// operator cooperation.
type Engine struct {
	state   engineState
	custody CustodyContract
	maxAge  time.Duration
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a deposit engine with a no-op emitter.
func NewEngine(maxAge time.Duration) *Engine {
	return &Engine{
		maxAge:  maxAge,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustody configures the external custody contract.
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
	e.emitter.Emit(depositEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Deposit moves funds into custody and records (or tops up) the pending
// entry for (owner, token). The recorded amount is whatever custody actually
// credited.
func (e *Engine) Deposit(ctx context.Context, owner common.Address, token common.Address, amount *big.Int) (*types.DepositRequest, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.custody == nil {
		return nil, ErrNilCustody
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	record, ok, err := e.state.TokenByAddress(token)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownToken
	}
	credited, err := e.custody.Deposit(ctx, owner, token, amount)
	if err != nil {
		return nil, err
	}
	if credited == nil || credited.Sign() <= 0 {
		return nil, ErrNothingCredit
	}
	now := e.now()
	pending, found, err := e.state.DepositByOwner(owner, record.ID)
	if err != nil {
		return nil, err
	}
	if found {
		pending.Amount = new(big.Int).Add(pending.Amount, credited)
	} else {
		seq, err := e.state.NextDepositSeq()
		if err != nil {
			return nil, err
		}
		pending = &types.DepositRequest{
			Seq:       seq,
			Owner:     owner,
			TokenID:   record.ID,
			Amount:    new(big.Int).Set(credited),
			CreatedAt: now,
		}
	}
	if err := e.state.PutDeposit(pending); err != nil {
		return nil, err
	}
	e.emit(events.DepositRecorded{
		Owner:     owner,
		TokenID:   record.ID,
		Amount:    credited,
		CreatedAt: pending.CreatedAt,
	}.Event())
	return pending.Clone(), nil
}

// ReclaimStale converts a pending deposit older than MaxAge into a
// withdrawable balance, independent of operator cooperation. The pending
// entry is removed exactly once.
func (e *Engine) ReclaimStale(owner common.Address, tokenID uint32) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pending, ok, err := e.state.DepositByOwner(owner, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoPending
	}
	now := e.now()
	age := now - pending.CreatedAt
	if age < 0 {
		// A stored timestamp past the current clock must not unlock
		// the valve early, nor wedge it through signed overflow.
		return nil, ErrClockRegressed
	}
	if time.Duration(age)*time.Second <= e.maxAge {
		return nil, ErrNotStale
	}
	if err := e.state.AddBalance(owner, tokenID, pending.Amount); err != nil {
		return nil, err
	}
	e.state.DeleteDeposit(pending)
	e.emit(events.DepositReclaimed{Owner: owner, TokenID: tokenID, Amount: pending.Amount}.Event())
	return new(big.Int).Set(pending.Amount), nil
}
