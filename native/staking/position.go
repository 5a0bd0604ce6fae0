package staking

import (
	"math/big"

	"stakepool/crypto"
)

// Position tracks one participant's stake. StakedSince is set only on the
// transition from zero to non-zero stake and survives partial withdrawals and
// top-ups, so boost continuity is preserved. IndexDebt is the pool index
// weighted by the position's stake at the last settlement; the difference
// against the current weighted index is the reward earned since then.
type Position struct {
	Address     crypto.Address
	Staked      *big.Int
	StakedSince int64
	IndexDebt   *big.Int
	Unclaimed   *big.Int
}

// NewPosition returns a zeroed position for the address. A missing stored
// position and a zeroed one are equivalent; positions are reset, not deleted.
func NewPosition(addr crypto.Address) *Position {
	return &Position{
		Address:   addr,
		Staked:    big.NewInt(0),
		IndexDebt: big.NewInt(0),
		Unclaimed: big.NewInt(0),
	}
}

func (pos *Position) ensure() {
	if pos.Staked == nil {
		pos.Staked = big.NewInt(0)
	}
	if pos.IndexDebt == nil {
		pos.IndexDebt = big.NewInt(0)
	}
	if pos.Unclaimed == nil {
		pos.Unclaimed = big.NewInt(0)
	}
}

// Clone produces a deep copy for read-only queries.
func (pos *Position) Clone() *Position {
	if pos == nil {
		return nil
	}
	pos.ensure()
	return &Position{
		Address:     pos.Address,
		Staked:      new(big.Int).Set(pos.Staked),
		StakedSince: pos.StakedSince,
		IndexDebt:   new(big.Int).Set(pos.IndexDebt),
		Unclaimed:   new(big.Int).Set(pos.Unclaimed),
	}
}

// weightedIndex scales the pool index by the position's stake, yielding the
// cumulative reward attributable to the stake in reward wei.
func weightedIndex(index, staked *big.Int) *big.Int {
	if index == nil || staked == nil || staked.Sign() == 0 {
		return big.NewInt(0)
	}
	w := new(big.Int).Mul(index, staked)
	return w.Quo(w, indexScale)
}

// accruedSince reports the unboosted reward earned since the last settlement
// against an already-advanced pool index. Zero when the index has not moved.
func (pos *Position) accruedSince(index *big.Int) *big.Int {
	pos.ensure()
	if pos.Staked.Sign() == 0 {
		return big.NewInt(0)
	}
	raw := weightedIndex(index, pos.Staked)
	raw.Sub(raw, pos.IndexDebt)
	if raw.Sign() < 0 {
		return big.NewInt(0)
	}
	return raw
}

// rebaseline snapshots the weighted index after a settlement or stake change.
func (pos *Position) rebaseline(index *big.Int) {
	pos.ensure()
	pos.IndexDebt = weightedIndex(index, pos.Staked)
}

// settle folds the reward earned since the last settlement into Unclaimed,
// boosted by the multiplier for the position's continuous duration at
// settlement time. The whole increment earns the multiplier in effect now,
// even when the interval straddles a tier boundary. Returns the multiplier
// applied, for observability.
func (pos *Position) settle(pool *Pool, schedule BoostSchedule, now int64) uint64 {
	pos.ensure()
	if pos.Staked.Sign() == 0 {
		return BaseMultiplierPct
	}
	multiplier := schedule.Multiplier(now - pos.StakedSince)
	raw := pos.accruedSince(pool.RewardIndex)
	if raw.Sign() > 0 {
		boosted := new(big.Int).Mul(raw, new(big.Int).SetUint64(multiplier))
		boosted.Quo(boosted, big.NewInt(int64(BaseMultiplierPct)))
		pos.Unclaimed = new(big.Int).Add(pos.Unclaimed, boosted)
	}
	pos.rebaseline(pool.RewardIndex)
	return multiplier
}
