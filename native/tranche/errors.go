package tranche

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied marks a call from an identity other than the bound
	// role for the operation.
	ErrAccessDenied = errors.New("tranche engine: access denied")
	// ErrInvalidInput marks zero or negative amounts, empty keys and
	// zero-divisor pricing inputs.
	ErrInvalidInput = errors.New("tranche engine: invalid input")
	// ErrAlreadyInitialized marks an attempt to re-bind a role.
	ErrAlreadyInitialized = errors.New("tranche engine: already initialized")
	// ErrAlreadyFunded marks a second funding attempt against a junior
	// tranche; funding is single-shot per tranche.
	ErrAlreadyFunded = errors.New("tranche engine: junior tranche already funded")
	// ErrNotFound marks lookups for unknown or inactive pools.
	ErrNotFound = errors.New("tranche engine: pool not found")
	// ErrInsufficientBalance marks a requested amount exceeding the
	// available balance, deposit or claim headroom.
	ErrInsufficientBalance = errors.New("tranche engine: insufficient balance")
	// ErrArithmeticUnderflow marks a subtraction that would drive a balance
	// negative. Balances fail rather than saturate.
	ErrArithmeticUnderflow = errors.New("tranche engine: arithmetic underflow")
	// ErrOracleInvalid marks a non-positive or stale oracle price.
	ErrOracleInvalid = errors.New("tranche engine: oracle price invalid")
	// ErrSettlementFailure marks a settlement request that could not be
	// issued to the external bridge or AMM.
	ErrSettlementFailure = errors.New("tranche engine: settlement request failed")

	errNilState   = errors.New("tranche engine: state not configured")
	errNilOracle  = errors.New("tranche engine: oracle not configured")
	errNilGateway = errors.New("tranche engine: settlement gateway not configured")
	errNilLedger  = errors.New("tranche engine: token ledger not configured")
)

// joinOracleErr folds an oracle failure into ErrOracleInvalid while keeping
// the underlying cause in the message.
func joinOracleErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOracleInvalid) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOracleInvalid, err)
}
