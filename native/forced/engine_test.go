package forced

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
)

type pairKey struct {
	accountID uint32
	tokenID   uint32
}

type mockState struct {
	seq      uint64
	requests map[pairKey]*types.ForcedWithdrawal
	balances map[common.Address]map[uint32]*big.Int
	tokens   map[uint32]*types.TokenRecord
}

func newMockState() *mockState {
	return &mockState{
		requests: make(map[pairKey]*types.ForcedWithdrawal),
		balances: make(map[common.Address]map[uint32]*big.Int),
		tokens: map[uint32]*types.TokenRecord{
			0: {ID: 0, Address: newTestAddress(0xee)},
		},
	}
}

func (m *mockState) NextForcedSeq() (uint64, error) {
	m.seq++
	return m.seq, nil
}

func (m *mockState) OpenForcedCount() (uint64, error) {
	return uint64(len(m.requests)), nil
}

func (m *mockState) PutForced(f *types.ForcedWithdrawal) error {
	m.requests[pairKey{f.AccountID, f.TokenID}] = f.Clone()
	return nil
}

func (m *mockState) ForcedByPair(accountID, tokenID uint32) (*types.ForcedWithdrawal, bool, error) {
	f, ok := m.requests[pairKey{accountID, tokenID}]
	if !ok {
		return nil, false, nil
	}
	return f.Clone(), true, nil
}

func (m *mockState) DeleteForced(f *types.ForcedWithdrawal) error {
	delete(m.requests, pairKey{f.AccountID, f.TokenID})
	return nil
}

func (m *mockState) AddBalance(owner common.Address, tokenID uint32, amount *big.Int) error {
	byToken, ok := m.balances[owner]
	if !ok {
		byToken = make(map[uint32]*big.Int)
		m.balances[owner] = byToken
	}
	base, ok := byToken[tokenID]
	if !ok {
		base = big.NewInt(0)
	}
	byToken[tokenID] = new(big.Int).Add(base, amount)
	return nil
}

func (m *mockState) TokenByID(id uint32) (*types.TokenRecord, bool, error) {
	record, ok := m.tokens[id]
	if !ok {
		return nil, false, nil
	}
	return record, true, nil
}

func (m *mockState) balance(owner common.Address, tokenID uint32) *big.Int {
	if byToken, ok := m.balances[owner]; ok {
		if b, ok := byToken[tokenID]; ok {
			return b
		}
	}
	return big.NewInt(0)
}

// mockCustody records bond collections. shave is subtracted from every
// declared amount to mimic fee-on-transfer tokens.
type mockCustody struct {
	shave     int64
	fail      bool
	collected []*big.Int
}

func (c *mockCustody) Deposit(_ context.Context, _ common.Address, _ common.Address, amount *big.Int) (*big.Int, error) {
	if c.fail {
		return nil, errors.New("custody unavailable")
	}
	credited := new(big.Int).Sub(amount, big.NewInt(c.shave))
	c.collected = append(c.collected, new(big.Int).Set(credited))
	return credited, nil
}

func (c *mockCustody) total() *big.Int {
	sum := big.NewInt(0)
	for _, amount := range c.collected {
		sum.Add(sum, amount)
	}
	return sum
}

func newTestAddress(fill byte) common.Address {
	var addr common.Address
	copy(addr[:], bytes.Repeat([]byte{fill}, common.AddressLength))
	return addr
}

func newTestEngine(state *mockState, custody *mockCustody, maxOpen uint64, fee int64, trigger time.Duration) *Engine {
	engine := NewEngine(maxOpen, big.NewInt(fee), trigger)
	engine.SetState(state)
	if custody != nil {
		engine.SetCustody(custody)
	}
	engine.SetNowFunc(func() int64 { return 1_000 })
	return engine
}

func TestOpenRecordsRequest(t *testing.T) {
	state := newMockState()
	custody := &mockCustody{}
	engine := newTestEngine(state, custody, 4, 10, time.Hour)
	owner := newTestAddress(0x01)
	submitter := newTestAddress(0x02)

	request, err := engine.Open(context.Background(), owner, submitter, 7, 3, big.NewInt(10))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if request.Seq != 1 {
		t.Fatalf("expected seq 1, got %d", request.Seq)
	}
	if request.CreatedAt != 1_000 {
		t.Fatalf("expected createdAt 1000, got %d", request.CreatedAt)
	}
	if got, ok, _ := state.ForcedByPair(7, 3); !ok || got.Submitter != submitter {
		t.Fatalf("request not persisted: %+v ok=%v", got, ok)
	}
	if got := custody.total(); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected custody to hold the bond 10, got %s", got)
	}
}

func TestOpenRejectsLowFee(t *testing.T) {
	custody := &mockCustody{}
	engine := newTestEngine(newMockState(), custody, 4, 10, time.Hour)
	if _, err := engine.Open(context.Background(), newTestAddress(0x01), newTestAddress(0x01), 1, 1, big.NewInt(9)); !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("expected ErrFeeTooLow, got %v", err)
	}
	if _, err := engine.Open(context.Background(), newTestAddress(0x01), newTestAddress(0x01), 1, 1, nil); !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("expected ErrFeeTooLow for nil fee, got %v", err)
	}
	if len(custody.collected) != 0 {
		t.Fatalf("no bond should be collected for a rejected open")
	}
}

func TestOpenRejectsBondShortfall(t *testing.T) {
	state := newMockState()
	custody := &mockCustody{shave: 3}
	engine := newTestEngine(state, custody, 4, 10, time.Hour)
	owner := newTestAddress(0x01)

	// Declared 10 but custody credits only 7, below the required bond.
	if _, err := engine.Open(context.Background(), owner, owner, 1, 1, big.NewInt(10)); !errors.Is(err, ErrBondShortfall) {
		t.Fatalf("expected ErrBondShortfall, got %v", err)
	}
	if _, ok, _ := state.ForcedByPair(1, 1); ok {
		t.Fatalf("no request should be recorded on a short bond")
	}

	// Declaring enough headroom for the shave succeeds and records the
	// credited amount, not the declared one.
	request, err := engine.Open(context.Background(), owner, owner, 1, 1, big.NewInt(13))
	if err != nil {
		t.Fatalf("open with headroom: %v", err)
	}
	if request.Fee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected recorded bond 10, got %s", request.Fee)
	}
}

func TestOpenCustodyFailureLeavesNothing(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, &mockCustody{fail: true}, 4, 10, time.Hour)
	owner := newTestAddress(0x01)

	if _, err := engine.Open(context.Background(), owner, owner, 1, 1, big.NewInt(10)); err == nil {
		t.Fatalf("expected custody error")
	}
	if _, ok, _ := state.ForcedByPair(1, 1); ok {
		t.Fatalf("no request should be recorded when custody fails")
	}
}

func TestOpenRequiresCustodyForBond(t *testing.T) {
	engine := newTestEngine(newMockState(), nil, 4, 10, time.Hour)
	if _, err := engine.Open(context.Background(), newTestAddress(0x01), newTestAddress(0x01), 1, 1, big.NewInt(10)); !errors.Is(err, ErrNilCustody) {
		t.Fatalf("expected ErrNilCustody, got %v", err)
	}
}

func TestOpenEnforcesCapacityAndDuplicates(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, &mockCustody{}, 2, 10, time.Hour)
	owner := newTestAddress(0x01)
	ctx := context.Background()

	if _, err := engine.Open(ctx, owner, owner, 1, 0, big.NewInt(10)); err != nil {
		t.Fatalf("open first: %v", err)
	}
	if _, err := engine.Open(ctx, owner, owner, 1, 0, big.NewInt(10)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := engine.Open(ctx, owner, owner, 2, 0, big.NewInt(10)); err != nil {
		t.Fatalf("open second: %v", err)
	}
	if _, err := engine.Open(ctx, owner, owner, 3, 0, big.NewInt(10)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	// Cancelling releases a slot.
	if err := engine.Cancel(owner, 1, 0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := engine.Open(ctx, owner, owner, 3, 0, big.NewInt(10)); err != nil {
		t.Fatalf("open after cancel: %v", err)
	}
}

func TestCancelRefundsOnlyCollectedBond(t *testing.T) {
	state := newMockState()
	custody := &mockCustody{shave: 5}
	engine := newTestEngine(state, custody, 4, 10, time.Hour)
	owner := newTestAddress(0x01)
	submitter := newTestAddress(0x02)

	// Declared 25, custody credits 20; only the credited 20 is ever
	// refundable.
	if _, err := engine.Open(context.Background(), owner, submitter, 5, 2, big.NewInt(25)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := engine.Cancel(newTestAddress(0x03), 5, 2); !errors.Is(err, ErrNotSubmitter) {
		t.Fatalf("expected ErrNotSubmitter, got %v", err)
	}
	if err := engine.Cancel(submitter, 5, 2); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	refunded := state.balance(submitter, 0)
	if refunded.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected bond refund 20, got %s", refunded)
	}
	// The credit ledger never exceeds what custody took in.
	if refunded.Cmp(custody.total()) > 0 {
		t.Fatalf("refund %s exceeds custody inflow %s", refunded, custody.total())
	}
	if err := engine.Cancel(submitter, 5, 2); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending after cancel, got %v", err)
	}
}

func TestCancelAllowsOwner(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, &mockCustody{}, 4, 0, time.Hour)
	owner := newTestAddress(0x01)
	submitter := newTestAddress(0x02)

	if _, err := engine.Open(context.Background(), owner, submitter, 5, 2, big.NewInt(0)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := engine.Cancel(owner, 5, 2); err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
}

func TestTooOldThreshold(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, &mockCustody{}, 4, 0, time.Hour)
	owner := newTestAddress(0x01)

	if _, err := engine.Open(context.Background(), owner, owner, 9, 1, nil); err != nil {
		t.Fatalf("open: %v", err)
	}

	// One second short of the trigger age.
	engine.SetNowFunc(func() int64 { return 1_000 + 3599 })
	if _, err := engine.TooOld(9, 1); !errors.Is(err, ErrNotOldEnough) {
		t.Fatalf("expected ErrNotOldEnough, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return 1_000 + 3600 })
	request, err := engine.TooOld(9, 1)
	if err != nil {
		t.Fatalf("too-old at threshold: %v", err)
	}
	if request.AccountID != 9 || request.TokenID != 1 {
		t.Fatalf("unexpected request returned: %+v", request)
	}
	// The request stays open as evidence.
	if _, ok, _ := state.ForcedByPair(9, 1); !ok {
		t.Fatalf("expected request to remain open")
	}
}

func TestTooOldRejectsFutureTimestamp(t *testing.T) {
	state := newMockState()
	engine := newTestEngine(state, &mockCustody{}, 4, 0, time.Hour)
	owner := newTestAddress(0x01)

	if _, err := engine.Open(context.Background(), owner, owner, 9, 1, nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	engine.SetNowFunc(func() int64 { return 999 })
	if _, err := engine.TooOld(9, 1); !errors.Is(err, ErrClockRegressed) {
		t.Fatalf("expected ErrClockRegressed, got %v", err)
	}
}

func TestTooOldMissingRequest(t *testing.T) {
	engine := newTestEngine(newMockState(), &mockCustody{}, 4, 0, time.Hour)
	if _, err := engine.TooOld(1, 1); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestSettleConsumesRequestAndRefunds(t *testing.T) {
	state := newMockState()
	custody := &mockCustody{}
	engine := newTestEngine(state, custody, 4, 10, time.Hour)
	owner := newTestAddress(0x01)
	submitter := newTestAddress(0x02)

	if _, err := engine.Open(context.Background(), owner, submitter, 4, 2, big.NewInt(10)); err != nil {
		t.Fatalf("open: %v", err)
	}
	request, err := engine.Settle(4, 2)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if request.Owner != owner {
		t.Fatalf("unexpected owner on settled request: %x", request.Owner)
	}
	if got := state.balance(submitter, 0); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected bond refund 10, got %s", got)
	}
	if got := custody.total(); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("refund must match the custody inflow, custody saw %s", got)
	}
	if _, err := engine.Settle(4, 2); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending on second settle, got %v", err)
	}
}

func TestNilStateGuard(t *testing.T) {
	engine := NewEngine(4, nil, time.Hour)
	if _, err := engine.Open(context.Background(), newTestAddress(0x01), newTestAddress(0x01), 1, 1, nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}
