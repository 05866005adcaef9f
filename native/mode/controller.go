// Package mode owns the exchange operating-mode state machine. It is the
// sole writer of mode transitions; every other component only reads the
// record through it.
package mode

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/events"
	"zkex/core/types"
)

var (
	ErrNilState        = errors.New("mode controller: state not configured")
	ErrAlreadyShutdown = errors.New("mode controller: already shut down")
	ErrWithdrawalMode  = errors.New("mode controller: already in withdrawal mode")
)

type controllerState interface {
	ModeRecord() (*types.ModeRecord, error)
	PutModeRecord(*types.ModeRecord) error
}

// StakeRegistry is the external bond custodian. BurnStake is invoked exactly
// once, on the transition into withdrawal mode.
type StakeRegistry interface {
	GetStake(exchangeID uint64) (*big.Int, error)
	BurnStake(exchangeID uint64, amount *big.Int) error
	WithdrawStake(exchangeID uint64, recipient common.Address) (*big.Int, error)
}

type modeEvent struct {
	evt *types.Event
}

func (e modeEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e modeEvent) Event() *types.Event { return e.evt }

// Controller applies the Normal -> ShutdownPending -> WithdrawalMode machine.
// WithdrawalMode is terminal; EnterWithdrawalMode is safe to call repeatedly
// but only the first invocation transitions, records the timestamp and burns
// the operator's stake.
type Controller struct {
	state      controllerState
	stake      StakeRegistry
	exchangeID uint64
	emitter    events.Emitter
	nowFn      func() int64
}

// NewController creates a mode controller with a no-op emitter.
func NewController(exchangeID uint64) *Controller {
	return &Controller{
		exchangeID: exchangeID,
		emitter:    events.NoopEmitter{},
		nowFn:      func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the controller.
func (c *Controller) SetState(state controllerState) { c.state = state }

// SetStakeRegistry configures the external bond registry.
func (c *Controller) SetStakeRegistry(stake StakeRegistry) { c.stake = stake }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (c *Controller) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
func (c *Controller) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Controller) emit(event *types.Event) {
	if c == nil || c.emitter == nil || event == nil {
		return
	}
	c.emitter.Emit(modeEvent{evt: event})
}

func (c *Controller) now() int64 {
	if c == nil || c.nowFn == nil {
		return time.Now().Unix()
	}
	return c.nowFn()
}

// Record returns the current mode record.
func (c *Controller) Record() (*types.ModeRecord, error) {
	if c == nil || c.state == nil {
		return nil, ErrNilState
	}
	return c.state.ModeRecord()
}

// Mode returns the current operating mode.
func (c *Controller) Mode() (types.Mode, error) {
	record, err := c.Record()
	if err != nil {
		return 0, err
	}
	return record.Mode, nil
}

// Shutdown moves the exchange from Normal into ShutdownPending. It fails if
// a shutdown was already requested or the terminal mode has been reached.
func (c *Controller) Shutdown() error {
	record, err := c.Record()
	if err != nil {
		return err
	}
	switch record.Mode {
	case types.ModeWithdrawal:
		return ErrWithdrawalMode
	case types.ModeShutdownPending:
		return ErrAlreadyShutdown
	}
	now := c.now()
	record.Mode = types.ModeShutdownPending
	record.ShutdownAt = now
	if err := c.state.PutModeRecord(record); err != nil {
		return err
	}
	c.emit(events.ShutdownStarted{At: now}.Event())
	return nil
}

// EnterWithdrawalMode transitions into the terminal mode. It reports whether
// this invocation performed the transition; repeated calls return
// (false, nil) and have no effect. Stake forfeiture happens only on the
// transitioning call.
func (c *Controller) EnterWithdrawalMode(reason string) (bool, error) {
	record, err := c.Record()
	if err != nil {
		return false, err
	}
	if record.Mode == types.ModeWithdrawal {
		return false, nil
	}
	now := c.now()
	record.Mode = types.ModeWithdrawal
	record.WithdrawalAt = now
	if err := c.state.PutModeRecord(record); err != nil {
		return false, err
	}
	if err := c.burnStake(); err != nil {
		return false, err
	}
	c.emit(events.WithdrawalModeEntered{At: now, Reason: reason}.Event())
	return true, nil
}

func (c *Controller) burnStake() error {
	if c.stake == nil {
		return nil
	}
	amount, err := c.stake.GetStake(c.exchangeID)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := c.stake.BurnStake(c.exchangeID, amount); err != nil {
		return err
	}
	c.emit(events.StakeBurned{ExchangeID: c.exchangeID, Amount: amount}.Event())
	return nil
}

// WithdrawStake forwards a post-forfeiture stake withdrawal to the external
// registry. Exposed only once withdrawal mode is entered; the caller enforces
// that.
func (c *Controller) WithdrawStake(recipient common.Address) (*big.Int, error) {
	if c.stake == nil {
		return big.NewInt(0), nil
	}
	return c.stake.WithdrawStake(c.exchangeID, recipient)
}

// Stake reads the bonded amount for this exchange from the registry.
func (c *Controller) Stake() (*big.Int, error) {
	if c.stake == nil {
		return big.NewInt(0), nil
	}
	return c.stake.GetStake(c.exchangeID)
}
