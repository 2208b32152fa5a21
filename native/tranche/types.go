package tranche

import (
	"math/big"

	"tranchepool/crypto"
)

// LendingPool captures a borrower-opened pool. All fields except IsActive are
// immutable after creation; the design provides no deactivation operation.
type LendingPool struct {
	// ID is the sequential identifier assigned by the registry.
	ID uint64 `json:"id"`
	// PrincipalAmount is the amount the borrower requests, in base units.
	PrincipalAmount *big.Int `json:"principalAmount"`
	// InterestRate is the pool's interest rate used as the pricing divisor.
	InterestRate *big.Int `json:"interestRate"`
	// DueDate is the repayment deadline supplied by the borrower.
	DueDate uint64 `json:"dueDate"`
	// RepaymentSchedule is the repayment cadence supplied by the borrower.
	RepaymentSchedule uint64 `json:"repaymentSchedule"`
	// TrancheKey links the pool to its junior and senior tranche records.
	TrancheKey string `json:"trancheKey"`
	// IsActive starts true at creation.
	IsActive bool `json:"isActive"`
}

// Clone returns a deep copy of the pool.
func (p *LendingPool) Clone() *LendingPool {
	if p == nil {
		return nil
	}
	clone := *p
	if p.PrincipalAmount != nil {
		clone.PrincipalAmount = new(big.Int).Set(p.PrincipalAmount)
	}
	if p.InterestRate != nil {
		clone.InterestRate = new(big.Int).Set(p.InterestRate)
	}
	return &clone
}

// JuniorTranche tracks the first-loss capital layer for a pool.
//
// TotalSupply and Balance deliberately diverge over time: funding increases
// both, while redemption reduces only Balance. TotalSupply is the cumulative
// contribution record used as the share-pricing divisor; Balance is the live
// funds held by the tranche.
type JuniorTranche struct {
	TotalSupply *big.Int `json:"totalSupply"`
	Balance     *big.Int `json:"balance"`
	// Funded flips on the first successful funding; the tranche accepts
	// exactly one funding, from any backer.
	Funded bool `json:"funded"`
}

// Clone returns a deep copy of the tranche.
func (t *JuniorTranche) Clone() *JuniorTranche {
	if t == nil {
		return nil
	}
	clone := &JuniorTranche{Funded: t.Funded}
	if t.TotalSupply != nil {
		clone.TotalSupply = new(big.Int).Set(t.TotalSupply)
	}
	if t.Balance != nil {
		clone.Balance = new(big.Int).Set(t.Balance)
	}
	return clone
}

// SeniorTranche tracks the per-pool senior supply.
type SeniorTranche struct {
	TotalSupply *big.Int `json:"totalSupply"`
}

// Clone returns a deep copy of the tranche.
func (t *SeniorTranche) Clone() *SeniorTranche {
	if t == nil {
		return nil
	}
	clone := &SeniorTranche{}
	if t.TotalSupply != nil {
		clone.TotalSupply = new(big.Int).Set(t.TotalSupply)
	}
	return clone
}

// SeniorAggregates holds the process-wide senior pool accounting.
type SeniorAggregates struct {
	// TotalLiquidity is the aggregate senior liquidity deposited by
	// providers and not yet converted or swapped out.
	TotalLiquidity *big.Int `json:"totalLiquidity"`
	// TotalTokens is the outstanding senior pool token supply. It grows only
	// through conversion minting tied to a deposit and shrinks only through
	// burning tied to a swap-out.
	TotalTokens *big.Int `json:"totalTokens"`
}

// Clone returns a deep copy of the aggregates.
func (a *SeniorAggregates) Clone() *SeniorAggregates {
	if a == nil {
		return nil
	}
	clone := &SeniorAggregates{}
	if a.TotalLiquidity != nil {
		clone.TotalLiquidity = new(big.Int).Set(a.TotalLiquidity)
	}
	if a.TotalTokens != nil {
		clone.TotalTokens = new(big.Int).Set(a.TotalTokens)
	}
	return clone
}

// Investor tracks a participant's contributions and redemption rights.
// RedeemedAmount never exceeds SuppliedAmount; HasClaim becomes true on the
// first contribution and is never revoked.
type Investor struct {
	Address        crypto.Address `json:"address"`
	SuppliedAmount *big.Int       `json:"suppliedAmount"`
	RedeemedAmount *big.Int       `json:"redeemedAmount"`
	// SeniorDeposit is the provider's senior liquidity still held as a
	// deposit, i.e. not yet converted into senior pool tokens.
	SeniorDeposit *big.Int `json:"seniorDeposit"`
	HasClaim      bool     `json:"hasClaim"`
}

// Clone returns a deep copy of the investor record.
func (i *Investor) Clone() *Investor {
	if i == nil {
		return nil
	}
	clone := &Investor{Address: i.Address, HasClaim: i.HasClaim}
	if i.SuppliedAmount != nil {
		clone.SuppliedAmount = new(big.Int).Set(i.SuppliedAmount)
	}
	if i.RedeemedAmount != nil {
		clone.RedeemedAmount = new(big.Int).Set(i.RedeemedAmount)
	}
	if i.SeniorDeposit != nil {
		clone.SeniorDeposit = new(big.Int).Set(i.SeniorDeposit)
	}
	return clone
}
