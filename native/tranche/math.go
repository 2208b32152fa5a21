package tranche

import (
	"fmt"
	"math/big"
)

// scale is the 1e18 fixed-point factor applied before integer division so the
// truncating quotient keeps precision. Truncation is toward zero and is the
// accepted rounding policy, not an error.
var scale = mustBigInt("1000000000000000000")

const (
	leverageSlope     = 50
	leverageIntercept = 150
	minLeverageRatio  = 50
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// riskShare prices a risk-tokenized share:
//
//	share = amount * scale * price / (totalSupply * interestRate)
//
// A zero supply or rate is a zero-divisor input and fails, it does not
// default.
func riskShare(amount, price, totalSupply, interestRate *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrOracleInvalid
	}
	if totalSupply == nil || totalSupply.Sign() == 0 || interestRate == nil || interestRate.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero pricing divisor", ErrInvalidInput)
	}
	num := new(big.Int).Mul(amount, scale)
	num.Mul(num, price)
	den := new(big.Int).Mul(totalSupply, interestRate)
	return num.Quo(num, den), nil
}

// mulQuo computes a*b/den with truncation toward zero.
func mulQuo(a, b, den *big.Int) (*big.Int, error) {
	if den == nil || den.Sign() == 0 {
		return nil, fmt.Errorf("%w: zero divisor", ErrInvalidInput)
	}
	out := new(big.Int).Mul(bigOrZero(a), bigOrZero(b))
	return out.Quo(out, den), nil
}

// checkedSub computes a-b and fails instead of going negative.
func checkedSub(a, b *big.Int) (*big.Int, error) {
	diff := new(big.Int).Sub(bigOrZero(a), bigOrZero(b))
	if diff.Sign() < 0 {
		return nil, ErrArithmeticUnderflow
	}
	return diff, nil
}

// valueAt converts an amount of tranche units into the underlying asset at
// the given oracle price.
func valueAt(amount, price *big.Int) *big.Int {
	out := new(big.Int).Mul(bigOrZero(amount), bigOrZero(price))
	return out.Quo(out, scale)
}

// TargetLeverageRatio applies the leverage model to a current senior ratio:
//
//	target = clamp(currentRatio*slope/1000 + intercept, minRatio, maxRatio)
//
// with slope=50, intercept=150 and minRatio=50. The pre-clamp value is
// monotonic non-decreasing in currentRatio. A zero maxRatio disables the
// upper clamp.
func TargetLeverageRatio(currentRatio, maxRatio uint64) uint64 {
	target := currentRatio*leverageSlope/1000 + leverageIntercept
	if target < minLeverageRatio {
		target = minLeverageRatio
	}
	if maxRatio > 0 && target > maxRatio {
		target = maxRatio
	}
	return target
}
