package tranche

import (
	"context"
	"fmt"
	"math/big"

	"tranchepool/core/events"
)

var ratioBase = big.NewInt(100)

// Rebalance scans the active pools, computes each pool's target senior
// capital under the leverage model and journals one settlement transfer per
// pool that needs topping up. A pool whose senior capital already exceeds
// its target fails the scan; capital is never allocated in reverse.
func (e *Engine) Rebalance(ctx context.Context, targetChain string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if e.gateway == nil {
		return errNilGateway
	}
	if targetChain == "" {
		return fmt.Errorf("%w: target chain must not be empty", ErrInvalidInput)
	}
	pools, err := e.listActivePoolsLocked()
	if err != nil {
		return err
	}
	price, err := e.currentPrice()
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if err := e.rebalancePool(ctx, pool, price, targetChain); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) rebalancePool(ctx context.Context, pool *LendingPool, price *big.Int, targetChain string) error {
	senior, err := e.ensureSeniorTranche(pool.TrancheKey)
	if err != nil {
		return err
	}
	junior, err := e.ensureJuniorTranche(pool.TrancheKey)
	if err != nil {
		return err
	}
	seniorValue := valueAt(senior.TotalSupply, price)
	juniorValue := valueAt(junior.Balance, price)
	totalCapital := new(big.Int).Add(seniorValue, juniorValue)
	if totalCapital.Sign() == 0 {
		return nil
	}
	ratio := new(big.Int).Mul(seniorValue, ratioBase)
	ratio.Quo(ratio, totalCapital)
	target := TargetLeverageRatio(ratio.Uint64(), e.cfg.MaxLeverageRatio)

	targetSenior := new(big.Int).Mul(totalCapital, new(big.Int).SetUint64(target))
	targetSenior.Quo(targetSenior, ratioBase)
	capital, err := checkedSub(targetSenior, seniorValue)
	if err != nil {
		return fmt.Errorf("pool %s senior capital above target: %w", pool.TrancheKey, err)
	}

	e.emit(events.CapitalAllocated{PoolKey: pool.TrancheKey, CapitalToAllocate: new(big.Int).Set(capital)})
	if capital.Sign() == 0 {
		return nil
	}
	if _, err := e.gateway.RequestTransfer(ctx, e.cfg.SelfChain, targetChain, capital); err != nil {
		return fmt.Errorf("%w: pool %s: %v", ErrSettlementFailure, pool.TrancheKey, err)
	}
	return nil
}
