package token

import (
	"errors"
	"math/big"

	"stakepool/core/types"
	"stakepool/crypto"
)

var (
	errNilState           = errors.New("token vault: state not configured")
	errInvalidAmount      = errors.New("token vault: amount must be positive")
	errInsufficientFunds  = errors.New("token vault: insufficient funds")
	errVaultNotConfigured = errors.New("token vault: vault address not configured")
	errSelfTransfer       = errors.New("token vault: vault cannot transfer to itself")
	errUnknownDestination = errors.New("token vault: destination address required")
)

type vaultState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
}

// Vault custodies the staked asset: TransferIn debits a participant's STK
// balance into the vault account, TransferOut releases it back. It backs the
// engine's stake custodian boundary with ledger accounts.
type Vault struct {
	state vaultState
	addr  crypto.Address
}

// NewVault constructs a stake-asset vault bound to the module address that
// holds deposited stake.
func NewVault(state vaultState, addr crypto.Address) *Vault {
	return &Vault{state: state, addr: addr}
}

// BalanceOf reports the free STK balance for the holder.
func (v *Vault) BalanceOf(addr crypto.Address) (*big.Int, error) {
	if v == nil || v.state == nil {
		return nil, errNilState
	}
	acc, err := v.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.BalanceSTK), nil
}

// TransferIn moves amount of STK from the participant into the vault.
func (v *Vault) TransferIn(from crypto.Address, amount *big.Int) error {
	return v.move(from, v.addr, amount)
}

// TransferOut releases amount of STK from the vault back to the participant.
func (v *Vault) TransferOut(to crypto.Address, amount *big.Int) error {
	return v.move(v.addr, to, amount)
}

func (v *Vault) move(from, to crypto.Address, amount *big.Int) error {
	if v == nil || v.state == nil {
		return errNilState
	}
	if v.addr.IsZero() {
		return errVaultNotConfigured
	}
	if to.IsZero() {
		return errUnknownDestination
	}
	if string(from.Bytes()) == string(to.Bytes()) {
		return errSelfTransfer
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	fromAcc, err := v.loadAccount(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceSTK.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	toAcc, err := v.loadAccount(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceSTK = new(big.Int).Sub(fromAcc.BalanceSTK, amount)
	toAcc.BalanceSTK = new(big.Int).Add(toAcc.BalanceSTK, amount)
	if err := v.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return v.state.PutAccount(to, toAcc)
}

func (v *Vault) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := v.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return acc.EnsureBalances(), nil
}

// Treasury custodies the reward asset: claims are paid from a funded RWD
// treasury account. An underfunded treasury rejects the payout, which aborts
// the enclosing claim atomically.
type Treasury struct {
	state vaultState
	addr  crypto.Address
}

// NewTreasury constructs a reward-asset treasury bound to the funding address.
func NewTreasury(state vaultState, addr crypto.Address) *Treasury {
	return &Treasury{state: state, addr: addr}
}

// TransferOut pays amount of RWD from the treasury to the recipient.
func (t *Treasury) TransferOut(to crypto.Address, amount *big.Int) error {
	if t == nil || t.state == nil {
		return errNilState
	}
	if t.addr.IsZero() {
		return errVaultNotConfigured
	}
	if to.IsZero() {
		return errUnknownDestination
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	treasury, err := t.state.GetAccount(t.addr)
	if err != nil {
		return err
	}
	treasury.EnsureBalances()
	if treasury.BalanceRWD.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	recipient, err := t.state.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.EnsureBalances()
	treasury.BalanceRWD = new(big.Int).Sub(treasury.BalanceRWD, amount)
	recipient.BalanceRWD = new(big.Int).Add(recipient.BalanceRWD, amount)
	if err := t.state.PutAccount(t.addr, treasury); err != nil {
		return err
	}
	return t.state.PutAccount(to, recipient)
}
