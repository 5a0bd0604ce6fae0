package events

import (
	"math/big"
	"strconv"

	"stakepool/core/types"
	"stakepool/crypto"
)

const (
	// TypeStaked captures a deposit into the pool.
	TypeStaked = "staking.staked"
	// TypeWithdrawn captures a partial or full withdrawal.
	TypeWithdrawn = "staking.withdrawn"
	// TypeRewardsClaimed is emitted when accrued rewards are paid out.
	TypeRewardsClaimed = "staking.rewardsClaimed"
	// TypeEmergencyWithdrawn captures an emergency exit that forfeited rewards.
	TypeEmergencyWithdrawn = "staking.emergencyWithdrawn"
	// TypeRateUpdated is emitted when the pool reward rate changes.
	TypeRateUpdated = "staking.rateUpdated"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// Staked captures the stake delta realised by a deposit.
type Staked struct {
	Account     [20]byte
	Amount      *big.Int
	NewStake    *big.Int
	TotalStaked *big.Int
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	attrs := map[string]string{
		"addr":   crypto.MustNewAddress(crypto.StakePrefix, e.Account[:]).String(),
		"amount": formatAmount(e.Amount),
	}
	if e.NewStake != nil {
		attrs["newStake"] = e.NewStake.String()
	}
	if e.TotalStaked != nil {
		attrs["totalStaked"] = e.TotalStaked.String()
	}
	return &types.Event{Type: TypeStaked, Attributes: attrs}
}

// Withdrawn captures the stake delta realised by a withdrawal.
type Withdrawn struct {
	Account     [20]byte
	Amount      *big.Int
	NewStake    *big.Int
	TotalStaked *big.Int
}

// EventType satisfies the Event interface.
func (Withdrawn) EventType() string { return TypeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e Withdrawn) Event() *types.Event {
	attrs := map[string]string{
		"addr":   crypto.MustNewAddress(crypto.StakePrefix, e.Account[:]).String(),
		"amount": formatAmount(e.Amount),
	}
	if e.NewStake != nil {
		attrs["newStake"] = e.NewStake.String()
	}
	if e.TotalStaked != nil {
		attrs["totalStaked"] = e.TotalStaked.String()
	}
	return &types.Event{Type: TypeWithdrawn, Attributes: attrs}
}

// RewardsClaimed captures the reward payout for an account.
type RewardsClaimed struct {
	Account       [20]byte
	Paid          *big.Int
	MultiplierPct uint64
}

// EventType satisfies the Event interface.
func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// Event converts the structured payload into a broadcastable event.
func (e RewardsClaimed) Event() *types.Event {
	attrs := map[string]string{
		"addr": crypto.MustNewAddress(crypto.StakePrefix, e.Account[:]).String(),
		"paid": formatAmount(e.Paid),
	}
	if e.MultiplierPct > 0 {
		attrs["multiplierPct"] = strconv.FormatUint(e.MultiplierPct, 10)
	}
	return &types.Event{Type: TypeRewardsClaimed, Attributes: attrs}
}

// EmergencyWithdrawn captures an emergency exit returning the full stake while
// forfeiting any accrued rewards.
type EmergencyWithdrawn struct {
	Account   [20]byte
	Returned  *big.Int
	Forfeited *big.Int
}

// EventType satisfies the Event interface.
func (EmergencyWithdrawn) EventType() string { return TypeEmergencyWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e EmergencyWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"addr":     crypto.MustNewAddress(crypto.StakePrefix, e.Account[:]).String(),
		"returned": formatAmount(e.Returned),
	}
	if e.Forfeited != nil && e.Forfeited.Sign() > 0 {
		attrs["forfeited"] = e.Forfeited.String()
	}
	return &types.Event{Type: TypeEmergencyWithdrawn, Attributes: attrs}
}

// RateUpdated captures a pool reward-rate change.
type RateUpdated struct {
	Caller  [20]byte
	OldRate *big.Int
	NewRate *big.Int
}

// EventType satisfies the Event interface.
func (RateUpdated) EventType() string { return TypeRateUpdated }

// Event converts the structured payload into a broadcastable event.
func (e RateUpdated) Event() *types.Event {
	attrs := map[string]string{
		"oldRate": formatAmount(e.OldRate),
		"newRate": formatAmount(e.NewRate),
	}
	if e.Caller != ([20]byte{}) {
		attrs["caller"] = crypto.MustNewAddress(crypto.StakePrefix, e.Caller[:]).String()
	}
	return &types.Event{Type: TypeRateUpdated, Attributes: attrs}
}
