package core

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	zkexerrors "zkex/core/errors"
	"zkex/core/events"
	"zkex/core/state"
	"zkex/core/types"
	"zkex/native/deposit"
	"zkex/native/forced"
	"zkex/native/mode"
	"zkex/native/settlement"
	"zkex/observability/metrics"
	"zkex/storage"
)

// ProofVerifier attests that applying the batch in publicData transforms
// rootBefore into rootAfter. It is an opaque trusted capability; a false
// verdict is fatal to the submission.
type ProofVerifier interface {
	Verify(rootBefore, rootAfter common.Hash, publicData []byte) bool
}

// AgentRegistry answers whether caller may act for owner.
type AgentRegistry interface {
	IsAgent(owner, caller common.Address) bool
}

// CustodyContract is the external token custodian: Deposit pulls funds in
// (returning the actually credited amount, which may differ for
// fee-on-transfer tokens), Transfer pays claims out. Implementations that
// call back into the exchange must propagate the ctx they were given; the
// reentrancy guard keys off it.
type CustodyContract interface {
	deposit.CustodyContract
	settlement.CustodyContract
}

var (
	errNilVerifier        = errors.New("exchange: proof verifier not configured")
	errZeroBound          = errors.New("exchange: zero capacity bound")
	errAlreadyInitialized = errors.New("exchange: already initialized")
	errNotInitialized     = errors.New("exchange: not initialized")
	errReentrantCall      = errors.New("exchange: reentrant call rejected")
)

// Params are the exchange's policy constants, fixed at construction.
type Params struct {
	ExchangeID                           uint64
	Operator                             common.Address
	Owner                                common.Address
	MaxNumTokens                         uint32
	MaxOpenForcedRequests                uint64
	ForcedRequestFee                     *big.Int
	MaxAgeDepositUntilWithdrawable       time.Duration
	MaxAgeForcedRequestUntilWithdrawMode time.Duration
	MinTimeInShutdown                    time.Duration
	TreeDepth                            uint
	TokenBits                            uint
}

// Exchange is the top-level service owning the shared state aggregate. Every
// entry point runs as one serialized, all-or-nothing step: a global mutex
// orders callers, a context marker rejects reentrant invocations (e.g. a
// custody callback calling back in), and the state overlay is committed only
// on success.
type Exchange struct {
	mu sync.Mutex

	st         *state.Manager
	deposits   *deposit.Engine
	queue      *forced.Engine
	modeCtl    *mode.Controller
	settlement *settlement.Engine
	verifier   ProofVerifier

	params  Params
	agents  AgentRegistry
	custody CustodyContract

	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.Exchange
	nowFn   func() int64

	initialized bool
	agentsSet   bool
	custodySet  bool
}

type ctxKey struct{}

// inCallKey marks a context as belonging to an in-flight entry point.
var inCallKey = ctxKey{}

// NewExchange wires collaborators and allocates empty structures. It performs
// no genesis writes; call Initialize exactly once before serving traffic.
func NewExchange(db storage.Database, params Params, verifier ProofVerifier, stake mode.StakeRegistry, opts ...Option) (*Exchange, error) {
	if verifier == nil {
		return nil, errNilVerifier
	}
	if params.MaxNumTokens == 0 || params.MaxOpenForcedRequests == 0 {
		return nil, errZeroBound
	}
	st := state.NewManager(db)

	ex := &Exchange{
		st:         st,
		params:     params,
		verifier:   verifier,
		deposits:   deposit.NewEngine(params.MaxAgeDepositUntilWithdrawable),
		queue:      forced.NewEngine(params.MaxOpenForcedRequests, params.ForcedRequestFee, params.MaxAgeForcedRequestUntilWithdrawMode),
		modeCtl:    mode.NewController(params.ExchangeID),
		settlement: settlement.NewEngine(params.TreeDepth, params.TokenBits),
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		metrics:    metrics.NewExchange(),
		nowFn:      func() int64 { return time.Now().Unix() },
	}
	ex.deposits.SetState(st)
	ex.queue.SetState(st)
	ex.modeCtl.SetState(st)
	ex.modeCtl.SetStakeRegistry(stake)
	ex.settlement.SetState(st)

	for _, opt := range opts {
		opt(ex)
	}

	initialized, err := st.Initialized()
	if err != nil {
		return nil, err
	}
	ex.initialized = initialized
	return ex, nil
}

// Option customizes an Exchange at construction.
type Option func(*Exchange)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ex *Exchange) {
		if logger != nil {
			ex.logger = logger
		}
	}
}

// WithEmitter sets the event emitter shared by all engines.
func WithEmitter(emitter events.Emitter) Option {
	return func(ex *Exchange) {
		if emitter == nil {
			return
		}
		ex.emitter = emitter
		ex.deposits.SetEmitter(emitter)
		ex.queue.SetEmitter(emitter)
		ex.modeCtl.SetEmitter(emitter)
		ex.settlement.SetEmitter(emitter)
	}
}

// WithMetrics sets the prometheus collector set.
func WithMetrics(m *metrics.Exchange) Option {
	return func(ex *Exchange) {
		if m != nil {
			ex.metrics = m
		}
	}
}

// WithNowFunc overrides the time source of the service and every engine,
// for tests.
func WithNowFunc(now func() int64) Option {
	return func(ex *Exchange) {
		if now == nil {
			return
		}
		ex.nowFn = now
		ex.deposits.SetNowFunc(now)
		ex.queue.SetNowFunc(now)
		ex.modeCtl.SetNowFunc(now)
	}
}

func (ex *Exchange) now() int64 { return ex.nowFn() }

// Initialize performs the one-time genesis setup: writes the genesis block
// (index 0, rootBefore == rootAfter == genesisRoot) and registers token id 0
// as the native asset. Re-initialization fails deterministically.
func (ex *Exchange) Initialize(ctx context.Context, genesisRoot common.Hash, nativeToken common.Address) error {
	ctx, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if ex.initialized {
		return zkexerrors.State("ALREADY_INITIALIZED", errAlreadyInitialized)
	}
	ex.st.Begin()
	genesis := &types.Block{
		Index:      0,
		RootBefore: genesisRoot,
		RootAfter:  genesisRoot,
		Fee:        big.NewInt(0),
	}
	if err := ex.st.AppendBlock(genesis); err != nil {
		ex.st.Revert()
		return err
	}
	ex.st.SetCurrentRoot(genesisRoot)
	if err := ex.st.PutToken(&types.TokenRecord{ID: 0, Address: nativeToken}); err != nil {
		ex.st.Revert()
		return err
	}
	ex.st.SetInitialized()
	if err := ex.st.Commit(); err != nil {
		ex.st.Revert()
		return err
	}
	ex.initialized = true
	ex.logger.InfoContext(ctx, "exchange initialized",
		"genesisRoot", genesisRoot.Hex(), "nativeToken", nativeToken.Hex())
	return nil
}

// SetAgentRegistry wires the agent registry. Owner-only, one-time.
func (ex *Exchange) SetAgentRegistry(ctx context.Context, caller common.Address, registry AgentRegistry) error {
	_, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if caller != ex.params.Owner {
		return zkexerrors.Authorization("NOT_OWNER", nil)
	}
	if ex.agentsSet {
		return zkexerrors.Duplicate("AGENT_REGISTRY_ALREADY_SET", nil)
	}
	if registry == nil {
		return zkexerrors.State("NIL_AGENT_REGISTRY", nil)
	}
	ex.agents = registry
	ex.agentsSet = true
	return nil
}

// SetDepositContract wires the custody contract. Owner-only, one-time.
func (ex *Exchange) SetDepositContract(ctx context.Context, caller common.Address, custody CustodyContract) error {
	_, release, err := ex.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if caller != ex.params.Owner {
		return zkexerrors.Authorization("NOT_OWNER", nil)
	}
	if ex.custodySet {
		return zkexerrors.Duplicate("DEPOSIT_CONTRACT_ALREADY_SET", nil)
	}
	if custody == nil {
		return zkexerrors.State("NIL_DEPOSIT_CONTRACT", nil)
	}
	ex.custody = custody
	ex.custodySet = true
	ex.deposits.SetCustody(custody)
	ex.settlement.SetCustody(custody)
	ex.queue.SetCustody(custody)
	return nil
}

// enter acquires the entry-point guard: reentrant invocations (a nested call
// carrying the in-call context marker) are rejected immediately; concurrent
// callers from other goroutines queue on the mutex. The returned release
// func must run on every exit path.
func (ex *Exchange) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Value(inCallKey) != nil {
		return ctx, func() {}, zkexerrors.State("REENTRANT_CALL", errReentrantCall)
	}
	ex.mu.Lock()
	return context.WithValue(ctx, inCallKey, struct{}{}), ex.mu.Unlock, nil
}

// requireInitialized gates serving entry points before genesis setup.
func (ex *Exchange) requireInitialized() error {
	if !ex.initialized {
		return zkexerrors.State("NOT_INITIALIZED", errNotInitialized)
	}
	return nil
}

// authorize allows owner themselves or a registered agent acting for them.
func (ex *Exchange) authorize(owner, caller common.Address) error {
	if owner == caller {
		return nil
	}
	if ex.agents != nil && ex.agents.IsAgent(owner, caller) {
		return nil
	}
	return zkexerrors.Authorization("UNAUTHORIZED", nil)
}
