package staking

import "math/big"

// indexScale is the fixed-point scale for the pool reward index: the index
// stores cumulative reward per staked unit multiplied by 1e18 so fractional
// accruals survive integer arithmetic.
var indexScale = big.NewInt(1_000_000_000_000_000_000)

// IndexScale returns a copy of the fixed-point scale constant.
func IndexScale() *big.Int {
	return new(big.Int).Set(indexScale)
}

// Pool is the single pool-wide accrual ledger. RewardIndex accumulates reward
// per staked unit since inception; together with each position's snapshot it
// apportions rewards in constant time, without iterating positions.
type Pool struct {
	RewardRate     *big.Int
	TotalStaked    *big.Int
	RewardIndex    *big.Int
	LastUpdateUnix int64
}

// NewPool initialises a pool ledger at the supplied timestamp with the given
// emission rate (reward wei per second across the whole pool).
func NewPool(rate *big.Int, now int64) *Pool {
	p := &Pool{LastUpdateUnix: now}
	p.ensure()
	if rate != nil {
		p.RewardRate = new(big.Int).Set(rate)
	}
	return p
}

func (p *Pool) ensure() {
	if p.RewardRate == nil {
		p.RewardRate = big.NewInt(0)
	}
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
	if p.RewardIndex == nil {
		p.RewardIndex = big.NewInt(0)
	}
}

// Clone produces a deep copy so read-only queries can advance the index
// without touching persisted state.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	p.ensure()
	return &Pool{
		RewardRate:     new(big.Int).Set(p.RewardRate),
		TotalStaked:    new(big.Int).Set(p.TotalStaked),
		RewardIndex:    new(big.Int).Set(p.RewardIndex),
		LastUpdateUnix: p.LastUpdateUnix,
	}
}

// Advance moves the reward index up to now. It must run against the
// pre-mutation TotalStaked before any operation changes stake weight or reads
// an earned amount, otherwise reward is misattributed between the old and new
// weights. With nothing staked there is no denominator to apportion against,
// so only the clock moves forward.
func (p *Pool) Advance(now int64) error {
	if p == nil {
		return ErrPoolNotInitialised
	}
	p.ensure()
	if now < p.LastUpdateUnix {
		return ErrInvalidTimestamp
	}
	elapsed := now - p.LastUpdateUnix
	if elapsed == 0 {
		return nil
	}
	if p.TotalStaked.Sign() == 0 || p.RewardRate.Sign() == 0 {
		p.LastUpdateUnix = now
		return nil
	}
	delta := big.NewInt(elapsed)
	delta.Mul(delta, p.RewardRate)
	delta.Mul(delta, indexScale)
	delta.Quo(delta, p.TotalStaked)
	p.RewardIndex = new(big.Int).Add(p.RewardIndex, delta)
	p.LastUpdateUnix = now
	return nil
}
