package staking

import (
	"errors"
	"fmt"
)

const daySeconds int64 = 24 * 60 * 60

// BaseMultiplierPct is the multiplier applied when no boost tier matches, i.e.
// freshly staked or unstaked positions earn at face value.
const BaseMultiplierPct uint64 = 100

// BoostTier grants a reward multiplier once a position has been continuously
// staked for at least MinDuration seconds. The multiplier is expressed in
// percent, 100 meaning 1.0x.
type BoostTier struct {
	MinDuration   int64
	MultiplierPct uint64
}

// BoostSchedule is an ascending list of boost tiers. The zero-duration tier is
// implicit: durations below the first tier earn BaseMultiplierPct.
type BoostSchedule []BoostTier

// DefaultBoostSchedule returns the standard duration tiers: 1.25x after a
// week, 1.5x after thirty days and 2x after ninety days of continuous stake.
func DefaultBoostSchedule() BoostSchedule {
	return BoostSchedule{
		{MinDuration: 7 * daySeconds, MultiplierPct: 125},
		{MinDuration: 30 * daySeconds, MultiplierPct: 150},
		{MinDuration: 90 * daySeconds, MultiplierPct: 200},
	}
}

// Validate ensures tier thresholds ascend strictly and multipliers never
// decrease with duration, so that longer holders are never rewarded less.
func (s BoostSchedule) Validate() error {
	lastDuration := int64(0)
	lastMultiplier := BaseMultiplierPct
	for i, tier := range s {
		if tier.MinDuration <= 0 {
			return errors.New("boost tier duration must be positive")
		}
		if tier.MinDuration <= lastDuration {
			return fmt.Errorf("boost tier %d duration %d not above previous %d", i, tier.MinDuration, lastDuration)
		}
		if tier.MultiplierPct < lastMultiplier {
			return fmt.Errorf("boost tier %d multiplier %d below previous %d", i, tier.MultiplierPct, lastMultiplier)
		}
		lastDuration = tier.MinDuration
		lastMultiplier = tier.MultiplierPct
	}
	return nil
}

// Multiplier resolves the multiplier percentage for a continuous stake
// duration in seconds. Negative or undefined durations earn the base rate.
func (s BoostSchedule) Multiplier(duration int64) uint64 {
	if duration < 0 {
		return BaseMultiplierPct
	}
	multiplier := BaseMultiplierPct
	for _, tier := range s {
		if duration < tier.MinDuration {
			break
		}
		multiplier = tier.MultiplierPct
	}
	return multiplier
}
