package staking

import "errors"

var (
	// ErrNilState indicates the engine was used before wiring a state backend.
	ErrNilState = errors.New("staking engine: state not configured")
	// ErrNilCustodian indicates a custodian dependency is missing.
	ErrNilCustodian = errors.New("staking engine: custodian not configured")
	// ErrPoolNotInitialised indicates no pool record exists in state.
	ErrPoolNotInitialised = errors.New("staking engine: pool not initialised")
	// ErrInvalidAmount rejects non-positive stake or withdrawal amounts.
	ErrInvalidAmount = errors.New("staking engine: amount must be positive")
	// ErrInsufficientBalance rejects a stake above the caller's free balance.
	ErrInsufficientBalance = errors.New("staking engine: insufficient balance")
	// ErrInsufficientStake rejects a withdrawal above the staked amount.
	ErrInsufficientStake = errors.New("staking engine: insufficient stake")
	// ErrNoStake rejects an emergency exit on an empty position.
	ErrNoStake = errors.New("staking engine: no stake to withdraw")
	// ErrUnauthorized rejects privileged operations by non-admin callers.
	ErrUnauthorized = errors.New("staking engine: caller not authorised")
	// ErrInvalidTimestamp rejects operations whose timestamp precedes the last
	// pool update; the time source must never move backward.
	ErrInvalidTimestamp = errors.New("staking engine: timestamp precedes last update")
	// ErrInvalidRate rejects nil or negative reward rates.
	ErrInvalidRate = errors.New("staking engine: reward rate must be non-negative")
	// ErrReentrancy reports that a mutating operation was attempted while
	// another one held the engine lock, including custodian callbacks.
	ErrReentrancy = errors.New("staking engine: concurrent mutation rejected")
	// ErrCustodianTransfer wraps asset-movement failures reported by a
	// custodian; the enclosing operation aborts with no state change.
	ErrCustodianTransfer = errors.New("staking engine: custodian transfer failed")
)
