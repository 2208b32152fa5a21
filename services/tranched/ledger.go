package main

import (
	"errors"
	"math/big"
	"sync"

	"tranchepool/crypto"
)

var errLedgerInsufficient = errors.New("token ledger: insufficient balance")

// memLedger is an in-process fungible-token ledger with conserved-supply
// semantics. The production deployment consumes an external ledger; this one
// backs development and single-node runs, seeded from config.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]*big.Int
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]*big.Int)}
}

func (l *memLedger) key(addr crypto.Address) string {
	return string(addr.Prefix()) + "/" + string(addr.Bytes())
}

func (l *memLedger) seed(addr crypto.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[l.key(addr)] = new(big.Int).Set(amount)
}

func (l *memLedger) balance(addr crypto.Address) *big.Int {
	if bal, ok := l.balances[l.key(addr)]; ok {
		return bal
	}
	bal := big.NewInt(0)
	l.balances[l.key(addr)] = bal
	return bal
}

func (l *memLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balance(addr)), nil
}

func (l *memLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBal := l.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return errLedgerInsufficient
	}
	fromBal.Sub(fromBal, amount)
	toBal := l.balance(to)
	toBal.Add(toBal, amount)
	return nil
}

func (l *memLedger) TransferFrom(_, from, to crypto.Address, amount *big.Int) error {
	return l.Transfer(from, to, amount)
}

func (l *memLedger) Approve(_, _ crypto.Address, _ *big.Int) error {
	return nil
}

func (l *memLedger) Mint(to crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(to)
	bal.Add(bal, amount)
	return nil
}

func (l *memLedger) Burn(from crypto.Address, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(from)
	if bal.Cmp(amount) < 0 {
		return errLedgerInsufficient
	}
	bal.Sub(bal, amount)
	return nil
}
