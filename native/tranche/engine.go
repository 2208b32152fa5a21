package tranche

import (
	"context"
	"math/big"
	"sync"
	"time"

	"tranchepool/core/events"
	"tranchepool/crypto"
	nativecommon "tranchepool/native/common"
)

const moduleName = "tranche"

const (
	trancheJunior = "junior"
	trancheSenior = "senior"
)

// engineState is the persistence surface the engine requires. A single state
// object owns every table and is passed by reference into the engine; there
// are no ambient singletons.
type engineState interface {
	GetPool(id uint64) (*LendingPool, error)
	GetPoolByKey(key string) (*LendingPool, error)
	PutPool(pool *LendingPool) error
	PoolCount() (uint64, error)
	ListPools() ([]*LendingPool, error)
	GetJuniorTranche(key string) (*JuniorTranche, error)
	PutJuniorTranche(key string, tranche *JuniorTranche) error
	GetSeniorTranche(key string) (*SeniorTranche, error)
	PutSeniorTranche(key string, tranche *SeniorTranche) error
	GetInvestor(addr crypto.Address) (*Investor, error)
	PutInvestor(investor *Investor) error
	SeniorAggregates() (*SeniorAggregates, error)
	PutSeniorAggregates(aggregates *SeniorAggregates) error
}

// TokenLedger is the external fungible-token capability. Standard
// conserved-supply semantics are assumed, not re-verified here.
type TokenLedger interface {
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Transfer(from, to crypto.Address, amount *big.Int) error
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
	Approve(owner, spender crypto.Address, amount *big.Int) error
	Mint(to crypto.Address, amount *big.Int) error
	Burn(from crypto.Address, amount *big.Int) error
}

// priceSource is the narrow oracle surface the engine consumes; satisfied by
// oracle.Adapter.
type priceSource interface {
	CurrentPrice() (*big.Int, error)
}

// settlementClient is the narrow gateway surface the engine consumes;
// satisfied by settlement.Gateway.
type settlementClient interface {
	RequestTransfer(ctx context.Context, fromChain, toChain string, amount *big.Int) (string, error)
	RequestSwap(ctx context.Context, amountIn, minOut *big.Int, path []string, recipient string, deadline time.Time) (string, []*big.Int, error)
}

type roleBinding struct {
	addr crypto.Address
	set  bool
}

// Engine orchestrates the tranche accounting state transitions: pool
// registry, junior and senior ledgers and the leverage allocator. A single
// mutex serialises operations so each runs to completion against a
// consistent view of the state, matching the run-to-completion reference
// model.
type Engine struct {
	mu        sync.Mutex
	state     engineState
	oracle    priceSource
	gateway   settlementClient
	token     TokenLedger
	riskToken TokenLedger
	emitter   events.Emitter
	pauses    nativecommon.PauseView

	custodyAddress crypto.Address
	cfg            Config
	nowFn          func() time.Time

	owner             roleBinding
	borrower          roleBinding
	backer            roleBinding
	liquidityProvider roleBinding
}

// NewEngine constructs an engine configured with the custody address that
// holds deposited liquidity and the module configuration.
func NewEngine(custodyAddr crypto.Address, cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		custodyAddress: custodyAddr,
		cfg:            cfg,
		emitter:        events.NoopEmitter{},
		nowFn:          time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetOracle wires the validated price source.
func (e *Engine) SetOracle(source priceSource) {
	if e == nil {
		return
	}
	e.oracle = source
}

// SetGateway wires the settlement gateway used for cross-chain transfers and
// settlement swaps.
func (e *Engine) SetGateway(gateway settlementClient) {
	if e == nil {
		return
	}
	e.gateway = gateway
}

// SetTokenLedgers wires the underlying token ledger and the risk-tokenized
// unit ledger.
func (e *Engine) SetTokenLedgers(token, riskToken TokenLedger) {
	if e == nil {
		return
	}
	e.token = token
	e.riskToken = riskToken
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the time source used for swap deadlines. Primarily
// intended for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil {
		return
	}
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

// --- Role bindings ---
//
// Each role binds exactly one identity and the binding is immutable once
// set. Re-binding fails with ErrAlreadyInitialized.

// BindOwner binds the owner identity.
func (e *Engine) BindOwner(addr crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bindRole(&e.owner, addr)
}

// BindBorrower binds the borrower identity allowed to create pools.
func (e *Engine) BindBorrower(addr crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bindRole(&e.borrower, addr)
}

// BindBacker binds the backer identity allowed to fund junior tranches.
func (e *Engine) BindBacker(addr crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bindRole(&e.backer, addr)
}

// BindLiquidityProvider binds the senior liquidity provider identity.
func (e *Engine) BindLiquidityProvider(addr crypto.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return bindRole(&e.liquidityProvider, addr)
}

func bindRole(binding *roleBinding, addr crypto.Address) error {
	if binding.set {
		return ErrAlreadyInitialized
	}
	if addr.IsZero() {
		return ErrInvalidInput
	}
	binding.addr = addr
	binding.set = true
	return nil
}

func (e *Engine) isBorrower(addr crypto.Address) bool {
	return e.borrower.set && e.borrower.addr.Equal(addr)
}

func (e *Engine) isBacker(addr crypto.Address) bool {
	return e.backer.set && e.backer.addr.Equal(addr)
}

func (e *Engine) isLiquidityProvider(addr crypto.Address) bool {
	return e.liquidityProvider.set && e.liquidityProvider.addr.Equal(addr)
}

// --- Shared helpers ---

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) currentPrice() (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	price, err := e.oracle.CurrentPrice()
	if err != nil {
		return nil, joinOracleErr(err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrOracleInvalid
	}
	return price, nil
}

// ensureJuniorTranche loads the tranche for key, defaulting nil fields so
// arithmetic is safe. A missing record is returned zero-initialised.
func (e *Engine) ensureJuniorTranche(key string) (*JuniorTranche, error) {
	tranche, err := e.state.GetJuniorTranche(key)
	if err != nil {
		return nil, err
	}
	if tranche == nil {
		tranche = &JuniorTranche{}
	}
	if tranche.TotalSupply == nil {
		tranche.TotalSupply = big.NewInt(0)
	}
	if tranche.Balance == nil {
		tranche.Balance = big.NewInt(0)
	}
	return tranche, nil
}

func (e *Engine) ensureSeniorTranche(key string) (*SeniorTranche, error) {
	tranche, err := e.state.GetSeniorTranche(key)
	if err != nil {
		return nil, err
	}
	if tranche == nil {
		tranche = &SeniorTranche{}
	}
	if tranche.TotalSupply == nil {
		tranche.TotalSupply = big.NewInt(0)
	}
	return tranche, nil
}

func (e *Engine) ensureInvestor(addr crypto.Address) (*Investor, error) {
	investor, err := e.state.GetInvestor(addr)
	if err != nil {
		return nil, err
	}
	if investor == nil {
		investor = &Investor{Address: addr}
	}
	if investor.SuppliedAmount == nil {
		investor.SuppliedAmount = big.NewInt(0)
	}
	if investor.RedeemedAmount == nil {
		investor.RedeemedAmount = big.NewInt(0)
	}
	if investor.SeniorDeposit == nil {
		investor.SeniorDeposit = big.NewInt(0)
	}
	return investor, nil
}

func (e *Engine) ensureSeniorAggregates() (*SeniorAggregates, error) {
	aggregates, err := e.state.SeniorAggregates()
	if err != nil {
		return nil, err
	}
	if aggregates == nil {
		aggregates = &SeniorAggregates{}
	}
	if aggregates.TotalLiquidity == nil {
		aggregates.TotalLiquidity = big.NewInt(0)
	}
	if aggregates.TotalTokens == nil {
		aggregates.TotalTokens = big.NewInt(0)
	}
	return aggregates, nil
}

// activePool resolves key to an active pool or fails with ErrNotFound.
func (e *Engine) activePool(key string) (*LendingPool, error) {
	pool, err := e.state.GetPoolByKey(key)
	if err != nil {
		return nil, err
	}
	if pool == nil || !pool.IsActive {
		return nil, ErrNotFound
	}
	return pool, nil
}

func (e *Engine) swapDeadline() time.Time {
	window := time.Duration(e.cfg.SwapDeadlineSeconds) * time.Second
	return e.nowFn().Add(window)
}
