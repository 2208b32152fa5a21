package tranche

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"tranchepool/core/events"
	"tranchepool/crypto"
	nativecommon "tranchepool/native/common"
)

type mockEngineState struct {
	pools      map[uint64]*LendingPool
	poolsByKey map[string]*LendingPool
	order      []uint64
	junior     map[string]*JuniorTranche
	senior     map[string]*SeniorTranche
	investors  map[string]*Investor
	aggregates *SeniorAggregates
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		pools:      make(map[uint64]*LendingPool),
		poolsByKey: make(map[string]*LendingPool),
		junior:     make(map[string]*JuniorTranche),
		senior:     make(map[string]*SeniorTranche),
		investors:  make(map[string]*Investor),
	}
}

func (m *mockEngineState) key(addr crypto.Address) string {
	return string(addr.Bytes())
}

func (m *mockEngineState) GetPool(id uint64) (*LendingPool, error) {
	return m.pools[id], nil
}

func (m *mockEngineState) GetPoolByKey(key string) (*LendingPool, error) {
	return m.poolsByKey[key], nil
}

func (m *mockEngineState) PutPool(pool *LendingPool) error {
	if _, ok := m.pools[pool.ID]; !ok {
		m.order = append(m.order, pool.ID)
	}
	m.pools[pool.ID] = pool
	m.poolsByKey[pool.TrancheKey] = pool
	return nil
}

func (m *mockEngineState) PoolCount() (uint64, error) {
	return uint64(len(m.pools)), nil
}

func (m *mockEngineState) ListPools() ([]*LendingPool, error) {
	out := make([]*LendingPool, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.pools[id])
	}
	return out, nil
}

func (m *mockEngineState) GetJuniorTranche(key string) (*JuniorTranche, error) {
	return m.junior[key], nil
}

func (m *mockEngineState) PutJuniorTranche(key string, tranche *JuniorTranche) error {
	m.junior[key] = tranche
	return nil
}

func (m *mockEngineState) GetSeniorTranche(key string) (*SeniorTranche, error) {
	return m.senior[key], nil
}

func (m *mockEngineState) PutSeniorTranche(key string, tranche *SeniorTranche) error {
	m.senior[key] = tranche
	return nil
}

func (m *mockEngineState) GetInvestor(addr crypto.Address) (*Investor, error) {
	return m.investors[m.key(addr)], nil
}

func (m *mockEngineState) PutInvestor(investor *Investor) error {
	if investor == nil {
		return nil
	}
	m.investors[m.key(investor.Address)] = investor
	return nil
}

func (m *mockEngineState) SeniorAggregates() (*SeniorAggregates, error) {
	return m.aggregates, nil
}

func (m *mockEngineState) PutSeniorAggregates(aggregates *SeniorAggregates) error {
	m.aggregates = aggregates
	return nil
}

type fakeLedger struct {
	balances map[string]*big.Int
	burned   map[string]*big.Int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]*big.Int), burned: make(map[string]*big.Int)}
}

func (l *fakeLedger) key(addr crypto.Address) string { return string(addr.Bytes()) }

func (l *fakeLedger) setBalance(addr crypto.Address, amount *big.Int) {
	l.balances[l.key(addr)] = new(big.Int).Set(amount)
}

func (l *fakeLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if bal, ok := l.balances[l.key(addr)]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (l *fakeLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	fromBal, _ := l.BalanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return errors.New("fake ledger: insufficient balance")
	}
	toBal, _ := l.BalanceOf(to)
	l.balances[l.key(from)] = fromBal.Sub(fromBal, amount)
	l.balances[l.key(to)] = toBal.Add(toBal, amount)
	return nil
}

func (l *fakeLedger) TransferFrom(_, from, to crypto.Address, amount *big.Int) error {
	return l.Transfer(from, to, amount)
}

func (l *fakeLedger) Approve(_, _ crypto.Address, _ *big.Int) error { return nil }

func (l *fakeLedger) Mint(to crypto.Address, amount *big.Int) error {
	bal, _ := l.BalanceOf(to)
	l.balances[l.key(to)] = bal.Add(bal, amount)
	return nil
}

func (l *fakeLedger) Burn(from crypto.Address, amount *big.Int) error {
	bal, _ := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return errors.New("fake ledger: insufficient balance")
	}
	l.balances[l.key(from)] = bal.Sub(bal, amount)
	burned, ok := l.burned[l.key(from)]
	if !ok {
		burned = big.NewInt(0)
	}
	l.burned[l.key(from)] = burned.Add(burned, amount)
	return nil
}

type settlementRequest struct {
	kind      string
	fromChain string
	toChain   string
	amount    *big.Int
}

type stubSettlement struct {
	transferErr error
	swapErr     error
	requests    []settlementRequest
}

func (s *stubSettlement) RequestTransfer(_ context.Context, fromChain, toChain string, amount *big.Int) (string, error) {
	if s.transferErr != nil {
		return "", s.transferErr
	}
	s.requests = append(s.requests, settlementRequest{
		kind:      "transfer",
		fromChain: fromChain,
		toChain:   toChain,
		amount:    new(big.Int).Set(amount),
	})
	return "req-1", nil
}

func (s *stubSettlement) RequestSwap(_ context.Context, amountIn, _ *big.Int, path []string, _ string, _ time.Time) (string, []*big.Int, error) {
	if s.swapErr != nil {
		return "", nil, s.swapErr
	}
	s.requests = append(s.requests, settlementRequest{
		kind:      "swap",
		fromChain: path[0],
		toChain:   path[len(path)-1],
		amount:    new(big.Int).Set(amountIn),
	})
	return "req-1", []*big.Int{new(big.Int).Set(amountIn)}, nil
}

type staticPrice struct {
	price *big.Int
	err   error
}

func (s staticPrice) CurrentPrice() (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return new(big.Int).Set(s.price), nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) typed(eventType string) []events.Event {
	var out []events.Event
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type pausedModules map[string]bool

func (p pausedModules) IsPaused(module string) bool { return p[module] }

func makeAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.TPPrefix, raw)
}

type testHarness struct {
	engine     *Engine
	state      *mockEngineState
	token      *fakeLedger
	riskToken  *fakeLedger
	settlement *stubSettlement
	emitter    *captureEmitter
	custody    crypto.Address
	borrower   crypto.Address
	backer     crypto.Address
	provider   crypto.Address
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		state:      newMockEngineState(),
		token:      newFakeLedger(),
		riskToken:  newFakeLedger(),
		settlement: &stubSettlement{},
		emitter:    &captureEmitter{},
		custody:    makeAddress(0x01),
		borrower:   makeAddress(0x02),
		backer:     makeAddress(0x03),
		provider:   makeAddress(0x04),
	}
	cfg := DefaultConfig()
	cfg.MaxLeverageRatio = 900
	h.engine = NewEngine(h.custody, cfg)
	h.engine.SetState(h.state)
	h.engine.SetOracle(staticPrice{price: new(big.Int).Set(scale)})
	h.engine.SetGateway(h.settlement)
	h.engine.SetTokenLedgers(h.token, h.riskToken)
	h.engine.SetEmitter(h.emitter)
	if err := h.engine.BindBorrower(h.borrower); err != nil {
		t.Fatalf("bind borrower: %v", err)
	}
	if err := h.engine.BindBacker(h.backer); err != nil {
		t.Fatalf("bind backer: %v", err)
	}
	if err := h.engine.BindLiquidityProvider(h.provider); err != nil {
		t.Fatalf("bind liquidity provider: %v", err)
	}
	return h
}

func (h *testHarness) createPool(t *testing.T, key string, principal, rate int64) *LendingPool {
	t.Helper()
	pool, err := h.engine.CreatePool(h.borrower, key, big.NewInt(principal), big.NewInt(rate), 100, 30)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return pool
}

func TestRoleBindingsAreSetOnce(t *testing.T) {
	engine := NewEngine(makeAddress(0x01), DefaultConfig())
	owner := makeAddress(0x05)
	if err := engine.BindOwner(owner); err != nil {
		t.Fatalf("bind owner: %v", err)
	}
	if err := engine.BindOwner(makeAddress(0x06)); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if err := engine.BindBorrower(crypto.Address{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero address, got %v", err)
	}
}

func TestPauseGuardBlocksMutations(t *testing.T) {
	h := newTestHarness(t)
	h.engine.SetPauses(pausedModules{moduleName: true})
	_, err := h.engine.CreatePool(h.borrower, "pool-1", big.NewInt(1000), big.NewInt(10), 100, 30)
	if !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
	if err := h.engine.Fund(h.backer, "pool-1", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
	if err := h.engine.Rebalance(context.Background(), "remote"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module paused, got %v", err)
	}
}
