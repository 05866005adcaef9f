package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"zkex/core/types"
	"zkex/storage"
)

func newTestManager() (*Manager, *storage.MemDB) {
	db := storage.NewMemDB()
	return NewManager(db), db
}

func TestOverlayCommitAndRevert(t *testing.T) {
	m, db := newTestManager()
	owner := common.Address{0x01}
	deposit := &types.DepositRequest{Seq: 1, Owner: owner, TokenID: 2, Amount: big.NewInt(50), CreatedAt: 1_000}

	m.Begin()
	if err := m.PutDeposit(deposit); err != nil {
		t.Fatalf("put deposit: %v", err)
	}

	// Staged writes are visible through the manager but not yet in the db.
	if _, ok, err := m.DepositByOwner(owner, 2); err != nil || !ok {
		t.Fatalf("staged deposit not visible: ok=%v err=%v", ok, err)
	}
	if ok, _ := db.Has(depositIndexKey(owner, 2)); ok {
		t.Fatalf("staged write leaked to the db before commit")
	}

	m.Revert()
	if _, ok, err := m.DepositByOwner(owner, 2); err != nil || ok {
		t.Fatalf("reverted deposit still visible: ok=%v err=%v", ok, err)
	}

	m.Begin()
	if err := m.PutDeposit(deposit); err != nil {
		t.Fatalf("put deposit: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// A fresh manager over the same db sees the committed entry.
	fresh := NewManager(db)
	got, ok, err := fresh.DepositByOwner(owner, 2)
	if err != nil || !ok {
		t.Fatalf("committed deposit not visible: ok=%v err=%v", ok, err)
	}
	if got.Amount.Cmp(big.NewInt(50)) != 0 || got.CreatedAt != 1_000 {
		t.Fatalf("deposit round-trip mismatch: %+v", got)
	}
}

func TestOverlayDeleteShadowsBackingStore(t *testing.T) {
	m, _ := newTestManager()
	owner := common.Address{0x01}
	deposit := &types.DepositRequest{Seq: 1, Owner: owner, TokenID: 2, Amount: big.NewInt(50)}

	m.Begin()
	if err := m.PutDeposit(deposit); err != nil {
		t.Fatalf("put deposit: %v", err)
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	m.Begin()
	m.DeleteDeposit(deposit)
	if _, ok, _ := m.DepositByOwner(owner, 2); ok {
		t.Fatalf("staged delete must shadow the committed entry")
	}
	m.Revert()
	if _, ok, _ := m.DepositByOwner(owner, 2); !ok {
		t.Fatalf("reverted delete must restore visibility")
	}
}

func TestDepositsAscendingFIFO(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	// Sequence numbers straddle a byte boundary so lexicographic order of
	// the big-endian suffix must still equal numeric order.
	for _, seq := range []uint64{300, 2, 257, 1} {
		owner := common.Address{byte(seq)}
		if err := m.PutDeposit(&types.DepositRequest{Seq: seq, Owner: owner, TokenID: 0, Amount: big.NewInt(1)}); err != nil {
			t.Fatalf("put deposit %d: %v", seq, err)
		}
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	var order []uint64
	err := m.DepositsAscending(func(d *types.DepositRequest) error {
		order = append(order, d.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("ascend: %v", err)
	}
	want := []uint64{1, 2, 257, 300}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

func TestNextDepositSeqMonotonic(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	for want := uint64(0); want < 3; want++ {
		seq, err := m.NextDepositSeq()
		if err != nil {
			t.Fatalf("next seq: %v", err)
		}
		if seq != want {
			t.Fatalf("expected seq %d, got %d", want, seq)
		}
	}
}

func TestForcedSlotAccounting(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	request := &types.ForcedWithdrawal{Seq: 0, AccountID: 1, TokenID: 2, Fee: big.NewInt(10), CreatedAt: 500}

	if err := m.PutForced(request); err != nil {
		t.Fatalf("put forced: %v", err)
	}
	if open, _ := m.OpenForcedCount(); open != 1 {
		t.Fatalf("expected 1 open slot, got %d", open)
	}
	got, ok, err := m.ForcedByPair(1, 2)
	if err != nil || !ok {
		t.Fatalf("forced by pair: ok=%v err=%v", ok, err)
	}
	if got.Fee.Cmp(big.NewInt(10)) != 0 || got.CreatedAt != 500 {
		t.Fatalf("forced round-trip mismatch: %+v", got)
	}

	if err := m.DeleteForced(request); err != nil {
		t.Fatalf("delete forced: %v", err)
	}
	if open, _ := m.OpenForcedCount(); open != 0 {
		t.Fatalf("expected 0 open slots, got %d", open)
	}
	if err := m.DeleteForced(request); err == nil {
		t.Fatalf("expected slot underflow error")
	}
}

func TestBalanceLedger(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	owner := common.Address{0x01}

	if err := m.AddBalance(owner, 3, big.NewInt(40)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.AddBalance(owner, 3, big.NewInt(2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got, _ := m.Balance(owner, 3); got.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("expected balance 42, got %s", got)
	}
	// Entries are isolated per token.
	if got, _ := m.Balance(owner, 4); got.Sign() != 0 {
		t.Fatalf("expected empty entry, got %s", got)
	}

	if err := m.AddBalance(owner, 3, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}

	drained, err := m.ZeroBalance(owner, 3)
	if err != nil || drained.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("zero: drained=%v err=%v", drained, err)
	}
	if got, _ := m.Balance(owner, 3); got.Sign() != 0 {
		t.Fatalf("expected zero after drain, got %s", got)
	}
}

func TestBalanceOverflow(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	owner := common.Address{0x01}
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	if err := m.AddBalance(owner, 0, max); err != nil {
		t.Fatalf("add max: %v", err)
	}
	if err := m.AddBalance(owner, 0, big.NewInt(1)); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow, got %v", err)
	}
	over := new(big.Int).Add(max, big.NewInt(1))
	if err := m.AddBalance(owner, 1, over); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected ErrBalanceOverflow for wide credit, got %v", err)
	}
}

func TestExitSlots(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	if consumed, _ := m.ExitConsumed(7, 1); consumed {
		t.Fatalf("fresh slot must read unconsumed")
	}
	m.MarkExitConsumed(7, 1)
	if consumed, _ := m.ExitConsumed(7, 1); !consumed {
		t.Fatalf("marked slot must read consumed")
	}
	if consumed, _ := m.ExitConsumed(7, 2); consumed {
		t.Fatalf("neighboring slot must stay unconsumed")
	}
}

func TestBlockLogRoundTrip(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()

	if _, err := m.CurrentRoot(); err == nil {
		t.Fatalf("expected error before genesis root")
	}
	root := common.HexToHash("0x01")
	next := common.HexToHash("0x02")
	m.SetCurrentRoot(root)

	block := &types.Block{
		Index:        0,
		RootBefore:   root,
		RootAfter:    next,
		Timestamp:    1_000,
		DepositCount: 2,
		Withdrawals: []types.BlockWithdrawal{
			{Owner: common.Address{0x01}, AccountID: 4, TokenID: 1, Amount: big.NewInt(30), Forced: true},
		},
		FeeRecipient: common.Address{0x0F},
		Fee:          big.NewInt(5),
		PublicData:   []byte{0xDE, 0xAD},
	}
	if err := m.AppendBlock(block); err != nil {
		t.Fatalf("append: %v", err)
	}
	if height, _ := m.BlockHeight(); height != 1 {
		t.Fatalf("expected height 1, got %d", height)
	}

	got, ok, err := m.BlockByIndex(0)
	if err != nil || !ok {
		t.Fatalf("block by index: ok=%v err=%v", ok, err)
	}
	if got.RootAfter != next || got.DepositCount != 2 || len(got.Withdrawals) != 1 {
		t.Fatalf("block round-trip mismatch: %+v", got)
	}
	w := got.Withdrawals[0]
	if !w.Forced || w.Amount.Cmp(big.NewInt(30)) != 0 || w.AccountID != 4 {
		t.Fatalf("withdrawal round-trip mismatch: %+v", w)
	}
	if _, ok, _ := m.BlockByIndex(1); ok {
		t.Fatalf("missing block must report absent")
	}
}

func TestTokenRegistryBijection(t *testing.T) {
	m, _ := newTestManager()
	m.Begin()
	addr := common.Address{0xAA}

	if err := m.PutToken(&types.TokenRecord{ID: 0, Address: addr, SubID: 9}); err != nil {
		t.Fatalf("put token: %v", err)
	}
	if count, _ := m.TokenCount(); count != 1 {
		t.Fatalf("expected count 1, got %d", count)
	}

	byID, ok, err := m.TokenByID(0)
	if err != nil || !ok || byID.Address != addr || byID.SubID != 9 {
		t.Fatalf("token by id mismatch: %+v ok=%v err=%v", byID, ok, err)
	}
	byAddr, ok, err := m.TokenByAddress(addr)
	if err != nil || !ok || byAddr.ID != 0 {
		t.Fatalf("token by address mismatch: %+v ok=%v err=%v", byAddr, ok, err)
	}
	if _, ok, _ := m.TokenByAddress(common.Address{0xBB}); ok {
		t.Fatalf("unknown address must miss")
	}
}

func TestModeRecordDefaultsToNormal(t *testing.T) {
	m, _ := newTestManager()
	record, err := m.ModeRecord()
	if err != nil {
		t.Fatalf("mode record: %v", err)
	}
	if record.Mode != types.ModeNormal {
		t.Fatalf("expected Normal, got %v", record.Mode)
	}

	m.Begin()
	record.Mode = types.ModeShutdownPending
	record.ShutdownAt = 2_000
	if err := m.PutModeRecord(record); err != nil {
		t.Fatalf("put mode record: %v", err)
	}
	got, err := m.ModeRecord()
	if err != nil || got.Mode != types.ModeShutdownPending || got.ShutdownAt != 2_000 {
		t.Fatalf("mode round-trip mismatch: %+v err=%v", got, err)
	}
}
