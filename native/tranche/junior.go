package tranche

import (
	"context"
	"fmt"
	"math/big"

	"tranchepool/core/events"
	"tranchepool/crypto"
)

// Fund places the single-shot backer contribution into a junior tranche.
// Balance and total supply both grow by amount; a second call against the
// same tranche fails with ErrAlreadyFunded regardless of who funds.
func (e *Engine) Fund(caller crypto.Address, trancheKey string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.isBacker(caller) {
		return ErrAccessDenied
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if _, err := e.activePool(trancheKey); err != nil {
		return err
	}
	tranche, err := e.ensureJuniorTranche(trancheKey)
	if err != nil {
		return err
	}
	if tranche.Funded {
		return ErrAlreadyFunded
	}
	investor, err := e.ensureInvestor(caller)
	if err != nil {
		return err
	}
	firstClaim := !investor.HasClaim

	tranche.Balance = new(big.Int).Add(tranche.Balance, amount)
	tranche.TotalSupply = new(big.Int).Add(tranche.TotalSupply, amount)
	tranche.Funded = true
	investor.SuppliedAmount = new(big.Int).Add(investor.SuppliedAmount, amount)
	investor.HasClaim = true

	if err := e.state.PutJuniorTranche(trancheKey, tranche); err != nil {
		return err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return err
	}
	e.emit(events.JuniorPoolFunded{Funder: caller, Amount: new(big.Int).Set(amount), PoolKey: trancheKey})
	if firstClaim {
		e.emit(events.ClaimMinted{Account: caller, Tranche: trancheJunior})
	}
	return nil
}

// Redeem draws against the backer's claim. The tranche balance shrinks;
// total supply does not, it is the cumulative contribution record.
func (e *Engine) Redeem(caller crypto.Address, trancheKey string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.isBacker(caller) {
		return ErrAccessDenied
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if _, err := e.activePool(trancheKey); err != nil {
		return err
	}
	investor, err := e.ensureInvestor(caller)
	if err != nil {
		return err
	}
	if !investor.HasClaim {
		return fmt.Errorf("%w: no claim to redeem against", ErrInvalidInput)
	}
	headroom := new(big.Int).Sub(investor.SuppliedAmount, investor.RedeemedAmount)
	if headroom.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	tranche, err := e.ensureJuniorTranche(trancheKey)
	if err != nil {
		return err
	}
	balance, err := checkedSub(tranche.Balance, amount)
	if err != nil {
		return err
	}
	tranche.Balance = balance
	investor.RedeemedAmount = new(big.Int).Add(investor.RedeemedAmount, amount)

	if err := e.state.PutJuniorTranche(trancheKey, tranche); err != nil {
		return err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return err
	}
	e.emit(events.ClaimRedeemed{Account: caller, Tranche: trancheJunior, Amount: new(big.Int).Set(amount)})
	return nil
}

// MintRiskShare prices and mints a risk-tokenized share against the junior
// tranche at the current oracle price. Local ledger state commits first; the
// settlement transfer is journalled afterwards, so a dispatch failure is
// reported while the committed state stands.
func (e *Engine) MintRiskShare(ctx context.Context, caller crypto.Address, trancheKey string, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.isBacker(caller) {
		return nil, ErrAccessDenied
	}
	if e.token == nil || e.riskToken == nil {
		return nil, errNilLedger
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	pool, err := e.activePool(trancheKey)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	tranche, err := e.ensureJuniorTranche(trancheKey)
	if err != nil {
		return nil, err
	}
	share, err := riskShare(amount, price, tranche.TotalSupply, pool.InterestRate)
	if err != nil {
		return nil, err
	}
	balance, err := e.token.BalanceOf(caller)
	if err != nil {
		return nil, err
	}
	if bigOrZero(balance).Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	tranche.Balance = new(big.Int).Add(tranche.Balance, amount)
	if err := e.state.PutJuniorTranche(trancheKey, tranche); err != nil {
		return nil, err
	}
	if share.Sign() > 0 {
		if err := e.riskToken.Mint(caller, share); err != nil {
			return nil, err
		}
	}
	e.emit(events.JuniorPoolInvestment{PoolKey: trancheKey, Investor: caller, Amount: new(big.Int).Set(amount)})

	if _, err := e.gateway.RequestTransfer(ctx, e.cfg.SelfChain, trancheKey, amount); err != nil {
		return share, fmt.Errorf("%w: %v", ErrSettlementFailure, err)
	}
	return share, nil
}
