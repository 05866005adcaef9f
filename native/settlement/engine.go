// Package settlement turns credits into funds in users' hands. All payouts
// are pull-based: balances sit in the withdrawable table until the recipient
// (or someone acting for them) claims, so one recipient's broken transfer
// can never wedge anyone else's settlement.
package settlement

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/events"
	"zkex/core/types"
	"zkex/merkle"
)

var (
	ErrNilState     = errors.New("settlement: state not configured")
	ErrNilCustody   = errors.New("settlement: custody contract not configured")
	ErrNoBalance    = errors.New("settlement: no withdrawable balance")
	ErrUnknownToken = errors.New("settlement: token not registered")
	ErrExitConsumed = errors.New("settlement: merkle exit already taken")
	ErrNilProof     = errors.New("settlement: nil exit proof")
)

type engineState interface {
	TokenByID(id uint32) (*types.TokenRecord, bool, error)
	Balance(owner common.Address, tokenID uint32) (*big.Int, error)
	ZeroBalance(owner common.Address, tokenID uint32) (*big.Int, error)
	AddBalance(owner common.Address, tokenID uint32, amount *big.Int) error
	ExitConsumed(accountID, tokenID uint32) (bool, error)
	MarkExitConsumed(accountID, tokenID uint32)
	CurrentRoot() (common.Hash, error)
}

// CustodyContract pays out claimed funds.
type CustodyContract interface {
	Transfer(ctx context.Context, to common.Address, token common.Address, amount *big.Int) error
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Engine executes claims against the withdrawable-balance table and, once
// withdrawal mode is entered, the direct merkle exit against the last
// committed root. treeDepth and tokenBits fix the committed tree's layout.
type Engine struct {
	state     engineState
	custody   CustodyContract
	treeDepth uint
	tokenBits uint
	emitter   events.Emitter
}

// NewEngine creates a settlement engine with a no-op emitter.
func NewEngine(treeDepth, tokenBits uint) *Engine {
	return &Engine{
		treeDepth: treeDepth,
		tokenBits: tokenBits,
		emitter:   events.NoopEmitter{},
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

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

// Claim transfers the full withdrawable balance for (owner, token) to owner
// and zeroes the entry. A claim against an empty entry returns ErrNoBalance
// without touching state, so repeated claims are harmless.
func (e *Engine) Claim(ctx context.Context, owner common.Address, tokenID uint32) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.custody == nil {
		return nil, ErrNilCustody
	}
	record, ok, err := e.state.TokenByID(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownToken
	}
	amount, err := e.state.ZeroBalance(owner, tokenID)
	if err != nil {
		return nil, err
	}
	if amount.Sign() == 0 {
		return nil, ErrNoBalance
	}
	if err := e.custody.Transfer(ctx, owner, record.Address, amount); err != nil {
		return nil, err
	}
	e.emit(events.BalanceClaimed{Owner: owner, TokenID: tokenID, Amount: amount}.Event())
	return amount, nil
}

// Drain is the batch-tolerant claim used by the non-emergency withdrawal
// paths: an empty entry is a no-op returning zero rather than an error, so a
// sweep over many entries never aborts on an already-drained one.
func (e *Engine) Drain(ctx context.Context, owner common.Address, tokenID uint32) (*big.Int, error) {
	amount, err := e.Claim(ctx, owner, tokenID)
	if errors.Is(err, ErrNoBalance) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// MerkleExit verifies an inclusion proof for the claimant's balance against
// the last committed root and credits it as a withdrawable balance. Each
// (account, token) leaf can exit once; the caller has already checked that
// withdrawal mode is active.
func (e *Engine) MerkleExit(proof *merkle.Proof) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if proof == nil {
		return nil, ErrNilProof
	}
	leaf := proof.Leaf
	consumed, err := e.state.ExitConsumed(leaf.AccountID, leaf.TokenID)
	if err != nil {
		return nil, err
	}
	if consumed {
		return nil, ErrExitConsumed
	}
	root, err := e.state.CurrentRoot()
	if err != nil {
		return nil, err
	}
	if err := merkle.Verify(root, proof, e.treeDepth, e.tokenBits); err != nil {
		return nil, err
	}
	if err := e.state.AddBalance(leaf.Owner, leaf.TokenID, leaf.Balance); err != nil {
		return nil, err
	}
	e.state.MarkExitConsumed(leaf.AccountID, leaf.TokenID)
	amount := big.NewInt(0)
	if leaf.Balance != nil {
		amount = new(big.Int).Set(leaf.Balance)
	}
	e.emit(events.MerkleExit{
		Owner:     leaf.Owner,
		AccountID: leaf.AccountID,
		TokenID:   leaf.TokenID,
		Amount:    amount,
	}.Event())
	return amount, nil
}
