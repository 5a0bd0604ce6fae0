package staking

import (
	"fmt"
	"math/big"
	"sync"

	"stakepool/core/events"
	"stakepool/crypto"
	nativecommon "stakepool/native/common"
)

const moduleName = "staking"

// RoleStakingAdmin is the role required to change the pool reward rate.
const RoleStakingAdmin = "ROLE_STAKING_ADMIN"

type engineState interface {
	StakingPool() (*Pool, error)
	PutStakingPool(*Pool) error
	StakingPosition(addr crypto.Address) (*Position, error)
	PutStakingPosition(*Position) error
}

// StakeCustodian moves the staked asset between participants and the pool
// vault. Any error aborts the calling engine operation with no state change.
type StakeCustodian interface {
	BalanceOf(addr crypto.Address) (*big.Int, error)
	TransferIn(from crypto.Address, amount *big.Int) error
	TransferOut(to crypto.Address, amount *big.Int) error
}

// RewardCustodian pays out the reward asset, with the same abort contract.
type RewardCustodian interface {
	TransferOut(to crypto.Address, amount *big.Int) error
}

// AccessControl answers role membership queries for privileged operations.
type AccessControl interface {
	HasRole(role string, addr crypto.Address) bool
}

// Engine orchestrates the staking state transitions: deposits, withdrawals,
// reward claims and rate changes, each of which lazily advances the pool
// reward index before touching stake weights.
type Engine struct {
	// mu is held for the whole of every mutating operation, including the
	// custodian calls, so a custodian that re-enters the engine observes a
	// contended lock rather than half-updated state.
	mu          sync.RWMutex
	state       engineState
	stakeVault  StakeCustodian
	rewardVault RewardCustodian
	access      AccessControl
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	schedule    BoostSchedule
}

// NewEngine creates a staking engine with the default boost schedule and a
// no-op emitter. Callers wire state, custodians and access control before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		schedule: DefaultBoostSchedule(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetCustodians wires the asset custodians for stake and reward movement.
func (e *Engine) SetCustodians(stake StakeCustodian, reward RewardCustodian) {
	if e == nil {
		return
	}
	e.stakeVault = stake
	e.rewardVault = reward
}

// SetAccessControl wires the role oracle consulted by SetRewardRate.
func (e *Engine) SetAccessControl(access AccessControl) {
	if e == nil {
		return
	}
	e.access = access
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the governance pause view checked by mutating operations.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetBoostSchedule overrides the duration boost tiers. Invalid schedules are
// rejected so multiplier monotonicity holds for every stored position.
func (e *Engine) SetBoostSchedule(schedule BoostSchedule) error {
	if e == nil {
		return ErrNilState
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	e.schedule = append(BoostSchedule(nil), schedule...)
	return nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

// lock acquires the exclusive engine lock without blocking. Mutating
// operations never queue: an overlapping call, re-entrant or concurrent,
// fails immediately instead of observing intermediate state.
func (e *Engine) lock() error {
	if !e.mu.TryLock() {
		return ErrReentrancy
	}
	return nil
}

func (e *Engine) loadPool() (*Pool, error) {
	pool, err := e.state.StakingPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotInitialised
	}
	pool.ensure()
	return pool, nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, err := e.state.StakingPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = NewPosition(addr)
	}
	pos.ensure()
	return pos, nil
}

// Stake deposits amount of the staked asset for addr. The pool index advances
// at the pre-deposit weight, the position settles, and only then does the
// stake weight change; the custodian transfer runs before anything persists
// so a rejected transfer leaves no trace.
func (e *Engine) Stake(addr crypto.Address, amount *big.Int, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.stakeVault == nil {
		return ErrNilCustodian
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := e.stakeVault.BalanceOf(addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCustodianTransfer, err)
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if err := pool.Advance(now); err != nil {
		return err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return err
	}
	pos.settle(pool, e.schedule, now)

	if pos.Staked.Sign() == 0 {
		pos.StakedSince = now
	}
	pos.Staked = new(big.Int).Add(pos.Staked, amount)
	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	pos.rebaseline(pool.RewardIndex)

	if err := e.stakeVault.TransferIn(addr, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrCustodianTransfer, err)
	}

	if err := e.state.PutStakingPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutStakingPool(pool); err != nil {
		return err
	}

	e.emit(events.Staked{
		Account:     addressKey(addr),
		Amount:      new(big.Int).Set(amount),
		NewStake:    new(big.Int).Set(pos.Staked),
		TotalStaked: new(big.Int).Set(pool.TotalStaked),
	})
	return nil
}

// Withdraw returns amount of staked asset to addr. StakedSince is untouched
// while any stake remains, preserving boost continuity across partial
// withdrawals; a full withdrawal resets it.
func (e *Engine) Withdraw(addr crypto.Address, amount *big.Int, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.stakeVault == nil {
		return ErrNilCustodian
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return err
	}
	if pos.Staked.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	if err := pool.Advance(now); err != nil {
		return err
	}
	pos.settle(pool, e.schedule, now)

	pos.Staked = new(big.Int).Sub(pos.Staked, amount)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, amount)
	if pos.Staked.Sign() == 0 {
		pos.StakedSince = 0
	}
	pos.rebaseline(pool.RewardIndex)

	if err := e.stakeVault.TransferOut(addr, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrCustodianTransfer, err)
	}

	if err := e.state.PutStakingPosition(pos); err != nil {
		return err
	}
	if err := e.state.PutStakingPool(pool); err != nil {
		return err
	}

	e.emit(events.Withdrawn{
		Account:     addressKey(addr),
		Amount:      new(big.Int).Set(amount),
		NewStake:    new(big.Int).Set(pos.Staked),
		TotalStaked: new(big.Int).Set(pool.TotalStaked),
	})
	return nil
}

// ClaimRewards settles addr's position and pays out the unclaimed balance.
// A zero balance still persists the settlement bookkeeping but moves no funds
// and emits no event. Returns the amount paid.
func (e *Engine) ClaimRewards(addr crypto.Address, now int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.rewardVault == nil {
		return nil, ErrNilCustodian
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if err := pool.Advance(now); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	multiplier := pos.settle(pool, e.schedule, now)

	paid := new(big.Int).Set(pos.Unclaimed)
	if paid.Sign() > 0 {
		pos.Unclaimed = big.NewInt(0)
		if err := e.rewardVault.TransferOut(addr, paid); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCustodianTransfer, err)
		}
	}

	if err := e.state.PutStakingPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}

	if paid.Sign() > 0 {
		e.emit(events.RewardsClaimed{
			Account:       addressKey(addr),
			Paid:          new(big.Int).Set(paid),
			MultiplierPct: multiplier,
		})
	}
	return paid, nil
}

// EmergencyWithdraw returns addr's full stake immediately, bypassing reward
// settlement and forfeiting any pending or newly-accrued reward. The pool
// still advances first so positions other than the caller's stay exact.
// Returns the stake returned to the caller.
func (e *Engine) EmergencyWithdraw(addr crypto.Address, now int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.stakeVault == nil {
		return nil, ErrNilCustodian
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	if pos.Staked.Sign() == 0 {
		return nil, ErrNoStake
	}
	if err := pool.Advance(now); err != nil {
		return nil, err
	}

	returned := new(big.Int).Set(pos.Staked)
	forfeited := new(big.Int).Set(pos.Unclaimed)

	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, returned)
	pos.Staked = big.NewInt(0)
	pos.StakedSince = 0
	pos.IndexDebt = big.NewInt(0)
	pos.Unclaimed = big.NewInt(0)

	if err := e.stakeVault.TransferOut(addr, returned); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCustodianTransfer, err)
	}

	if err := e.state.PutStakingPosition(pos); err != nil {
		return nil, err
	}
	if err := e.state.PutStakingPool(pool); err != nil {
		return nil, err
	}

	e.emit(events.EmergencyWithdrawn{
		Account:   addressKey(addr),
		Returned:  returned,
		Forfeited: forfeited,
	})
	return returned, nil
}

// SetRewardRate installs a new pool-wide emission rate. The index advances at
// the old rate first so the change never applies to already-elapsed time.
func (e *Engine) SetRewardRate(caller crypto.Address, newRate *big.Int, now int64) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.access == nil || !e.access.HasRole(RoleStakingAdmin, caller) {
		return ErrUnauthorized
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if newRate == nil || newRate.Sign() < 0 {
		return ErrInvalidRate
	}

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if err := pool.Advance(now); err != nil {
		return err
	}
	oldRate := new(big.Int).Set(pool.RewardRate)
	pool.RewardRate = new(big.Int).Set(newRate)

	if err := e.state.PutStakingPool(pool); err != nil {
		return err
	}

	e.emit(events.RateUpdated{
		Caller:  addressKey(caller),
		OldRate: oldRate,
		NewRate: new(big.Int).Set(newRate),
	})
	return nil
}

// PendingRewards reports what a settlement at now would credit to addr,
// without mutating any persisted state. The computation runs against deep
// copies so it is reproducible for any now at or after the last pool update.
func (e *Engine) PendingRewards(addr crypto.Address, now int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pendingLocked(addr, now)
}

func (e *Engine) pendingLocked(addr crypto.Address, now int64) (*big.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	preview := pool.Clone()
	if err := preview.Advance(now); err != nil {
		return nil, err
	}
	stored, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	pos := stored.Clone()
	pending := new(big.Int).Set(pos.Unclaimed)
	raw := pos.accruedSince(preview.RewardIndex)
	if raw.Sign() > 0 {
		multiplier := e.schedule.Multiplier(now - pos.StakedSince)
		boosted := raw.Mul(raw, new(big.Int).SetUint64(multiplier))
		boosted.Quo(boosted, big.NewInt(int64(BaseMultiplierPct)))
		pending.Add(pending, boosted)
	}
	return pending, nil
}

// PositionInfo returns a consistent snapshot of addr's position together with
// its pending rewards and current boost multiplier.
func (e *Engine) PositionInfo(addr crypto.Address, now int64) (*PositionInfo, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, err
	}
	pending, err := e.pendingLocked(addr, now)
	if err != nil {
		return nil, err
	}
	multiplier := BaseMultiplierPct
	if pos.Staked.Sign() > 0 {
		multiplier = e.schedule.Multiplier(now - pos.StakedSince)
	}
	return &PositionInfo{
		Address:        pos.Address,
		Staked:         new(big.Int).Set(pos.Staked),
		StakedSince:    pos.StakedSince,
		Unclaimed:      new(big.Int).Set(pos.Unclaimed),
		Pending:        pending,
		MultiplierPct:  multiplier,
		ComputedAtUnix: now,
	}, nil
}

// PoolInfo returns a consistent snapshot of the pool ledger.
func (e *Engine) PoolInfo(now int64) (*PoolInfo, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return &PoolInfo{
		RewardRate:     new(big.Int).Set(pool.RewardRate),
		TotalStaked:    new(big.Int).Set(pool.TotalStaked),
		RewardIndex:    new(big.Int).Set(pool.RewardIndex),
		LastUpdateUnix: pool.LastUpdateUnix,
		ComputedAtUnix: now,
	}, nil
}

func addressKey(addr crypto.Address) [20]byte {
	var key [20]byte
	copy(key[:], addr.Bytes())
	return key
}
