package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/crypto"
	"stakepool/native/staking"
	"stakepool/storage"
)

// Stored forms mirror the deterministic serialization layout: timestamps are
// clamped to uint64 for RLP and nil amounts normalise to zero, ensuring
// byte-identical encodings across clients for the same logical state.

type storedPool struct {
	RewardRate     *big.Int
	TotalStaked    *big.Int
	RewardIndex    *big.Int
	LastUpdateUnix uint64
}

type storedPosition struct {
	Address     []byte
	Staked      *big.Int
	StakedSince uint64
	IndexDebt   *big.Int
	Unclaimed   *big.Int
}

func clampUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// StakingPool loads the pool ledger, or nil when no pool has been initialised.
func (m *Manager) StakingPool() (*staking.Pool, error) {
	data, err := m.db.Get(poolKey)
	if err == storage.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := &storedPool{}
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("decode staking pool: %w", err)
	}
	return &staking.Pool{
		RewardRate:     normalizeBig(stored.RewardRate),
		TotalStaked:    normalizeBig(stored.TotalStaked),
		RewardIndex:    normalizeBig(stored.RewardIndex),
		LastUpdateUnix: int64(stored.LastUpdateUnix),
	}, nil
}

// PutStakingPool persists the pool ledger.
func (m *Manager) PutStakingPool(pool *staking.Pool) error {
	if pool == nil {
		return fmt.Errorf("nil staking pool")
	}
	stored := &storedPool{
		RewardRate:     normalizeBig(pool.RewardRate),
		TotalStaked:    normalizeBig(pool.TotalStaked),
		RewardIndex:    normalizeBig(pool.RewardIndex),
		LastUpdateUnix: clampUnix(pool.LastUpdateUnix),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("encode staking pool: %w", err)
	}
	return m.db.Put(poolKey, encoded)
}

// EnsureStakingPool initialises the pool ledger at first boot with the
// configured rate. An existing pool is returned untouched: the stored rate is
// authoritative once the service has run, so restarts never reset it.
func (m *Manager) EnsureStakingPool(rate *big.Int, now int64) (*staking.Pool, error) {
	pool, err := m.StakingPool()
	if err != nil {
		return nil, err
	}
	if pool != nil {
		return pool, nil
	}
	pool = staking.NewPool(rate, now)
	if err := m.PutStakingPool(pool); err != nil {
		return nil, err
	}
	return pool, nil
}

// StakingPosition loads the position for an address, or nil when the address
// has never staked. Callers treat nil as a zeroed position.
func (m *Manager) StakingPosition(addr crypto.Address) (*staking.Position, error) {
	data, err := m.db.Get(positionKey(addr))
	if err == storage.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	stored := &storedPosition{}
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("decode staking position: %w", err)
	}
	address, err := crypto.NewAddress(crypto.StakePrefix, stored.Address)
	if err != nil {
		return nil, fmt.Errorf("decode staking position address: %w", err)
	}
	return &staking.Position{
		Address:     address,
		Staked:      normalizeBig(stored.Staked),
		StakedSince: int64(stored.StakedSince),
		IndexDebt:   normalizeBig(stored.IndexDebt),
		Unclaimed:   normalizeBig(stored.Unclaimed),
	}, nil
}

// PutStakingPosition persists the position keyed by its address.
func (m *Manager) PutStakingPosition(pos *staking.Position) error {
	if pos == nil {
		return fmt.Errorf("nil staking position")
	}
	stored := &storedPosition{
		Address:     append([]byte(nil), pos.Address.Bytes()...),
		Staked:      normalizeBig(pos.Staked),
		StakedSince: clampUnix(pos.StakedSince),
		IndexDebt:   normalizeBig(pos.IndexDebt),
		Unclaimed:   normalizeBig(pos.Unclaimed),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("encode staking position: %w", err)
	}
	return m.db.Put(positionKey(pos.Address), encoded)
}
