package tranche

import (
	"context"
	"fmt"
	"math/big"

	"tranchepool/core/events"
	"tranchepool/crypto"
)

// ProvideLiquidity deposits senior liquidity into custody and records it
// against the provider and the process-wide aggregates. The follow-up
// settlement swap is best-effort: a dispatch failure is reported while the
// committed ledger state stands, the journalled request is resolved later by
// acknowledgment.
func (e *Engine) ProvideLiquidity(ctx context.Context, caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.isLiquidityProvider(caller) {
		return ErrAccessDenied
	}
	if e.token == nil {
		return errNilLedger
	}
	if e.gateway == nil {
		return errNilGateway
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	balance, err := e.token.BalanceOf(caller)
	if err != nil {
		return err
	}
	if bigOrZero(balance).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	aggregates, err := e.ensureSeniorAggregates()
	if err != nil {
		return err
	}
	investor, err := e.ensureInvestor(caller)
	if err != nil {
		return err
	}
	firstClaim := !investor.HasClaim

	if err := e.token.Transfer(caller, e.custodyAddress, amount); err != nil {
		return err
	}
	aggregates.TotalLiquidity = new(big.Int).Add(aggregates.TotalLiquidity, amount)
	investor.SeniorDeposit = new(big.Int).Add(investor.SeniorDeposit, amount)
	investor.SuppliedAmount = new(big.Int).Add(investor.SuppliedAmount, amount)
	investor.HasClaim = true

	if err := e.state.PutSeniorAggregates(aggregates); err != nil {
		return err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return err
	}
	e.emit(events.SeniorPoolLiquidityProvided{Provider: caller, Amount: new(big.Int).Set(amount)})
	if firstClaim {
		e.emit(events.ClaimMinted{Account: caller, Tranche: trancheSenior})
	}

	path := []string{e.cfg.UnderlyingAsset, e.cfg.SettlementAsset}
	if _, _, err := e.gateway.RequestSwap(ctx, amount, big.NewInt(0), path, e.custodyAddress.String(), e.swapDeadline()); err != nil {
		return fmt.Errorf("%w: %v", ErrSettlementFailure, err)
	}
	return nil
}

// ConvertToSeniorToken turns part of the provider's deposit into senior pool
// tokens. tokenAmount is the deposit's proportional share of the outstanding
// token supply rescaled by the oracle price; the returned sharedTokenAmount
// prices the converted amount against this pool's senior supply and interest
// rate.
func (e *Engine) ConvertToSeniorToken(ctx context.Context, caller crypto.Address, trancheKey string, amount *big.Int) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.isLiquidityProvider(caller) {
		return nil, ErrAccessDenied
	}
	if e.riskToken == nil {
		return nil, errNilLedger
	}
	if e.gateway == nil {
		return nil, errNilGateway
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	pool, err := e.activePool(trancheKey)
	if err != nil {
		return nil, err
	}
	investor, err := e.ensureInvestor(caller)
	if err != nil {
		return nil, err
	}
	if investor.SeniorDeposit.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}
	aggregates, err := e.ensureSeniorAggregates()
	if err != nil {
		return nil, err
	}
	price, err := e.currentPrice()
	if err != nil {
		return nil, err
	}
	base, err := mulQuo(amount, aggregates.TotalTokens, aggregates.TotalLiquidity)
	if err != nil {
		return nil, err
	}
	tokenAmount := valueAt(base, price)

	senior, err := e.ensureSeniorTranche(trancheKey)
	if err != nil {
		return nil, err
	}
	// The converted amount joins this pool's senior supply before pricing
	// the shared token, so the first conversion against a fresh tranche
	// does not divide by zero.
	senior.TotalSupply = new(big.Int).Add(senior.TotalSupply, amount)
	shared, err := riskShare(amount, price, senior.TotalSupply, pool.InterestRate)
	if err != nil {
		return nil, err
	}

	deposit, err := checkedSub(investor.SeniorDeposit, amount)
	if err != nil {
		return nil, err
	}
	liquidity, err := checkedSub(aggregates.TotalLiquidity, amount)
	if err != nil {
		return nil, err
	}
	investor.SeniorDeposit = deposit
	aggregates.TotalLiquidity = liquidity
	aggregates.TotalTokens = new(big.Int).Add(aggregates.TotalTokens, tokenAmount)

	if err := e.state.PutSeniorTranche(trancheKey, senior); err != nil {
		return nil, err
	}
	if err := e.state.PutSeniorAggregates(aggregates); err != nil {
		return nil, err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return nil, err
	}
	if tokenAmount.Sign() > 0 {
		if err := e.riskToken.Transfer(e.custodyAddress, caller, tokenAmount); err != nil {
			return nil, err
		}
	}
	e.emit(events.SeniorPoolTokensReceived{Investor: caller, Tokens: new(big.Int).Set(tokenAmount)})

	if tokenAmount.Sign() > 0 {
		if _, err := e.gateway.RequestTransfer(ctx, e.cfg.SelfChain, trancheKey, tokenAmount); err != nil {
			return shared, fmt.Errorf("%w: %v", ErrSettlementFailure, err)
		}
	}
	return shared, nil
}

// SwapSeniorToken burns senior pool tokens and moves their liquidity
// equivalent across chains through the settlement bridge.
func (e *Engine) SwapSeniorToken(ctx context.Context, caller crypto.Address, fromChain, toChain string, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.isLiquidityProvider(caller) {
		return ErrAccessDenied
	}
	if e.riskToken == nil {
		return errNilLedger
	}
	if e.gateway == nil {
		return errNilGateway
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	riskBalance, err := e.riskToken.BalanceOf(caller)
	if err != nil {
		return err
	}
	if bigOrZero(riskBalance).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	aggregates, err := e.ensureSeniorAggregates()
	if err != nil {
		return err
	}
	investor, err := e.ensureInvestor(caller)
	if err != nil {
		return err
	}
	equivalent, err := mulQuo(amount, aggregates.TotalLiquidity, aggregates.TotalTokens)
	if err != nil {
		return err
	}
	tokens, err := checkedSub(aggregates.TotalTokens, amount)
	if err != nil {
		return err
	}
	liquidity, err := checkedSub(aggregates.TotalLiquidity, equivalent)
	if err != nil {
		return err
	}
	deposit, err := checkedSub(investor.SeniorDeposit, equivalent)
	if err != nil {
		return err
	}
	aggregates.TotalTokens = tokens
	aggregates.TotalLiquidity = liquidity
	investor.SeniorDeposit = deposit

	if err := e.state.PutSeniorAggregates(aggregates); err != nil {
		return err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return err
	}
	if err := e.riskToken.Burn(caller, amount); err != nil {
		return err
	}
	e.emit(events.SeniorPoolTokenSwapped{
		User:             caller,
		FromChain:        fromChain,
		ToChain:          toChain,
		Amount:           new(big.Int).Set(amount),
		SettlementAmount: new(big.Int).Set(equivalent),
	})
	e.emit(events.RiskTokenizedLoanSwapped{
		FromChain: fromChain,
		ToChain:   toChain,
		Account:   caller,
		Amount:    new(big.Int).Set(equivalent),
	})

	if equivalent.Sign() > 0 {
		if _, err := e.gateway.RequestTransfer(ctx, fromChain, toChain, equivalent); err != nil {
			return fmt.Errorf("%w: %v", ErrSettlementFailure, err)
		}
	}
	return nil
}

// RedeemSenior draws against the provider's claim, returning un-converted
// deposit. The accounting mirrors the junior redemption pattern.
func (e *Engine) RedeemSenior(caller crypto.Address, amount *big.Int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.guard(); err != nil {
		return err
	}
	if !e.isLiquidityProvider(caller) {
		return ErrAccessDenied
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
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
	aggregates, err := e.ensureSeniorAggregates()
	if err != nil {
		return err
	}
	deposit, err := checkedSub(investor.SeniorDeposit, amount)
	if err != nil {
		return err
	}
	liquidity, err := checkedSub(aggregates.TotalLiquidity, amount)
	if err != nil {
		return err
	}
	investor.SeniorDeposit = deposit
	aggregates.TotalLiquidity = liquidity
	investor.RedeemedAmount = new(big.Int).Add(investor.RedeemedAmount, amount)

	if err := e.state.PutSeniorAggregates(aggregates); err != nil {
		return err
	}
	if err := e.state.PutInvestor(investor); err != nil {
		return err
	}
	e.emit(events.ClaimRedeemed{Account: caller, Tranche: trancheSenior, Amount: new(big.Int).Set(amount)})
	return nil
}
