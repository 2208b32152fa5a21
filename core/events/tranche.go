package events

import (
	"math/big"
	"strconv"

	"tranchepool/core/types"
	"tranchepool/crypto"
)

const (
	// TypePoolCreated is emitted when the borrower opens a new lending pool.
	TypePoolCreated = "tranche.pool.created"
	// TypeJuniorPoolFunded captures the single-shot backer funding of a
	// junior tranche.
	TypeJuniorPoolFunded = "tranche.junior.funded"
	// TypeJuniorPoolInvestment is emitted when a backer mints a
	// risk-tokenized share against a junior tranche.
	TypeJuniorPoolInvestment = "tranche.junior.invested"
	// TypeRiskTokenizedLoanSwapped captures a cross-chain movement of
	// risk-tokenized units.
	TypeRiskTokenizedLoanSwapped = "tranche.loan.swapped"
	// TypeSeniorLiquidityProvided is emitted on a senior tranche deposit.
	TypeSeniorLiquidityProvided = "tranche.senior.liquidityProvided"
	// TypeSeniorTokensReceived is emitted when senior liquidity is converted
	// into senior pool tokens.
	TypeSeniorTokensReceived = "tranche.senior.tokensReceived"
	// TypeSeniorTokenSwapped is emitted when senior pool tokens are swapped
	// back out across chains.
	TypeSeniorTokenSwapped = "tranche.senior.tokenSwapped"
	// TypeCapitalAllocated is emitted per pool during a rebalancing pass.
	TypeCapitalAllocated = "tranche.capital.allocated"
	// TypeClaimMinted records the first contribution of an investor, which
	// grants the right to redeem.
	TypeClaimMinted = "tranche.claim.minted"
	// TypeClaimRedeemed records a redemption against an investor claim.
	TypeClaimRedeemed = "tranche.claim.redeemed"
)

// PoolCreated is emitted when the registry stores a new active pool.
type PoolCreated struct {
	PoolID    uint64
	PoolKey   string
	Principal *big.Int
	Borrower  crypto.Address
}

func (PoolCreated) EventType() string { return TypePoolCreated }

// Event converts the structured payload into a broadcastable event.
func (e PoolCreated) Event() *types.Event {
	return &types.Event{Type: TypePoolCreated, Attributes: map[string]string{
		"poolId":    strconv.FormatUint(e.PoolID, 10),
		"poolKey":   e.PoolKey,
		"principal": formatAmount(e.Principal),
		"borrower":  e.Borrower.String(),
	}}
}

// JuniorPoolFunded captures the single-shot funding of a junior tranche.
type JuniorPoolFunded struct {
	Funder  crypto.Address
	Amount  *big.Int
	PoolKey string
}

func (JuniorPoolFunded) EventType() string { return TypeJuniorPoolFunded }

func (e JuniorPoolFunded) Event() *types.Event {
	return &types.Event{Type: TypeJuniorPoolFunded, Attributes: map[string]string{
		"funder":  e.Funder.String(),
		"amount":  formatAmount(e.Amount),
		"poolKey": e.PoolKey,
	}}
}

// JuniorPoolInvestment captures a risk-share mint against a junior tranche.
type JuniorPoolInvestment struct {
	PoolKey  string
	Investor crypto.Address
	Amount   *big.Int
}

func (JuniorPoolInvestment) EventType() string { return TypeJuniorPoolInvestment }

func (e JuniorPoolInvestment) Event() *types.Event {
	return &types.Event{Type: TypeJuniorPoolInvestment, Attributes: map[string]string{
		"poolKey":  e.PoolKey,
		"investor": e.Investor.String(),
		"amount":   formatAmount(e.Amount),
	}}
}

// RiskTokenizedLoanSwapped captures a cross-chain movement of risk units.
type RiskTokenizedLoanSwapped struct {
	FromChain string
	ToChain   string
	Account   crypto.Address
	Amount    *big.Int
}

func (RiskTokenizedLoanSwapped) EventType() string { return TypeRiskTokenizedLoanSwapped }

func (e RiskTokenizedLoanSwapped) Event() *types.Event {
	return &types.Event{Type: TypeRiskTokenizedLoanSwapped, Attributes: map[string]string{
		"fromChain": e.FromChain,
		"toChain":   e.ToChain,
		"account":   e.Account.String(),
		"amount":    formatAmount(e.Amount),
	}}
}

// SeniorPoolLiquidityProvided captures a senior tranche deposit.
type SeniorPoolLiquidityProvided struct {
	Provider crypto.Address
	Amount   *big.Int
}

func (SeniorPoolLiquidityProvided) EventType() string { return TypeSeniorLiquidityProvided }

func (e SeniorPoolLiquidityProvided) Event() *types.Event {
	return &types.Event{Type: TypeSeniorLiquidityProvided, Attributes: map[string]string{
		"provider": e.Provider.String(),
		"amount":   formatAmount(e.Amount),
	}}
}

// SeniorPoolTokensReceived captures the senior token conversion payout.
type SeniorPoolTokensReceived struct {
	Investor crypto.Address
	Tokens   *big.Int
}

func (SeniorPoolTokensReceived) EventType() string { return TypeSeniorTokensReceived }

func (e SeniorPoolTokensReceived) Event() *types.Event {
	return &types.Event{Type: TypeSeniorTokensReceived, Attributes: map[string]string{
		"investor": e.Investor.String(),
		"tokens":   formatAmount(e.Tokens),
	}}
}

// SeniorPoolTokenSwapped captures a swap-out of senior pool tokens.
type SeniorPoolTokenSwapped struct {
	User             crypto.Address
	FromChain        string
	ToChain          string
	Amount           *big.Int
	SettlementAmount *big.Int
}

func (SeniorPoolTokenSwapped) EventType() string { return TypeSeniorTokenSwapped }

func (e SeniorPoolTokenSwapped) Event() *types.Event {
	return &types.Event{Type: TypeSeniorTokenSwapped, Attributes: map[string]string{
		"user":             e.User.String(),
		"fromChain":        e.FromChain,
		"toChain":          e.ToChain,
		"amount":           formatAmount(e.Amount),
		"settlementAmount": formatAmount(e.SettlementAmount),
	}}
}

// CapitalAllocated captures the per-pool rebalancing decision.
type CapitalAllocated struct {
	PoolKey           string
	CapitalToAllocate *big.Int
}

func (CapitalAllocated) EventType() string { return TypeCapitalAllocated }

func (e CapitalAllocated) Event() *types.Event {
	return &types.Event{Type: TypeCapitalAllocated, Attributes: map[string]string{
		"poolKey":           e.PoolKey,
		"capitalToAllocate": formatAmount(e.CapitalToAllocate),
	}}
}

// ClaimMinted records the first contribution of an investor to a tranche.
type ClaimMinted struct {
	Account crypto.Address
	Tranche string
}

func (ClaimMinted) EventType() string { return TypeClaimMinted }

func (e ClaimMinted) Event() *types.Event {
	return &types.Event{Type: TypeClaimMinted, Attributes: map[string]string{
		"account": e.Account.String(),
		"tranche": e.Tranche,
	}}
}

// ClaimRedeemed records a redemption drawn against an investor claim.
type ClaimRedeemed struct {
	Account crypto.Address
	Tranche string
	Amount  *big.Int
}

func (ClaimRedeemed) EventType() string { return TypeClaimRedeemed }

func (e ClaimRedeemed) Event() *types.Event {
	return &types.Event{Type: TypeClaimRedeemed, Attributes: map[string]string{
		"account": e.Account.String(),
		"tranche": e.Tranche,
		"amount":  formatAmount(e.Amount),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
