package tranche

import (
	"fmt"
	"math/big"

	"tranchepool/core/events"
	"tranchepool/crypto"
)

// CreatePool opens a new lending pool for the bound borrower. Identifiers
// are sequential; the pool is stored active and its junior tranche is
// initialised to zero balance and supply.
func (e *Engine) CreatePool(caller crypto.Address, trancheKey string, principal, interestRate *big.Int, dueDate, repaymentSchedule uint64) (*LendingPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.isBorrower(caller) {
		return nil, ErrAccessDenied
	}
	if trancheKey == "" {
		return nil, fmt.Errorf("%w: tranche key must not be empty", ErrInvalidInput)
	}
	if principal == nil || principal.Sign() <= 0 {
		return nil, fmt.Errorf("%w: principal must be positive", ErrInvalidInput)
	}
	if interestRate == nil || interestRate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: interest rate must be positive", ErrInvalidInput)
	}
	if dueDate == 0 || repaymentSchedule == 0 {
		return nil, fmt.Errorf("%w: due date and repayment schedule must be positive", ErrInvalidInput)
	}
	existing, err := e.state.GetPoolByKey(trancheKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: tranche key already in use", ErrInvalidInput)
	}
	count, err := e.state.PoolCount()
	if err != nil {
		return nil, err
	}
	pool := &LendingPool{
		ID:                count + 1,
		PrincipalAmount:   new(big.Int).Set(principal),
		InterestRate:      new(big.Int).Set(interestRate),
		DueDate:           dueDate,
		RepaymentSchedule: repaymentSchedule,
		TrancheKey:        trancheKey,
		IsActive:          true,
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	junior := &JuniorTranche{TotalSupply: big.NewInt(0), Balance: big.NewInt(0)}
	if err := e.state.PutJuniorTranche(trancheKey, junior); err != nil {
		return nil, err
	}
	e.emit(events.PoolCreated{
		PoolID:    pool.ID,
		PoolKey:   trancheKey,
		Principal: new(big.Int).Set(principal),
		Borrower:  caller,
	})
	return pool.Clone(), nil
}

// GetPool resolves an active pool by id.
func (e *Engine) GetPool(id uint64) (*LendingPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool(id)
	if err != nil {
		return nil, err
	}
	if pool == nil || !pool.IsActive {
		return nil, ErrNotFound
	}
	return pool.Clone(), nil
}

// GetPoolByKey resolves a pool by its tranche key.
func (e *Engine) GetPoolByKey(key string) (*LendingPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPoolByKey(key)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotFound
	}
	return pool.Clone(), nil
}

// ListActivePools returns a fresh snapshot of the active pools in creation
// order.
func (e *Engine) ListActivePools() ([]*LendingPool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.listActivePoolsLocked()
}

func (e *Engine) listActivePoolsLocked() ([]*LendingPool, error) {
	pools, err := e.state.ListPools()
	if err != nil {
		return nil, err
	}
	active := make([]*LendingPool, 0, len(pools))
	for _, pool := range pools {
		if pool == nil || !pool.IsActive {
			continue
		}
		active = append(active, pool.Clone())
	}
	return active, nil
}
