package staking

import (
	"math/big"

	"stakepool/crypto"
)

// PositionInfo summarises a participant's position for account queries,
// including the reward a settlement at the query time would produce.
type PositionInfo struct {
	Address        crypto.Address
	Staked         *big.Int
	StakedSince    int64
	Unclaimed      *big.Int
	Pending        *big.Int
	MultiplierPct  uint64
	ComputedAtUnix int64
}

// PoolInfo summarises the pool ledger for queries.
type PoolInfo struct {
	RewardRate     *big.Int
	TotalStaked    *big.Int
	RewardIndex    *big.Int
	LastUpdateUnix int64
	ComputedAtUnix int64
}
