package types

import "math/big"

// Account holds the asset balances tracked for an address. BalanceSTK is the
// stakeable asset; BalanceRWD is the reward asset paid out by the pool.
type Account struct {
	Nonce      uint64
	BalanceSTK *big.Int
	BalanceRWD *big.Int
}

// NewAccount returns an account with zeroed balances.
func NewAccount() *Account {
	return &Account{
		BalanceSTK: big.NewInt(0),
		BalanceRWD: big.NewInt(0),
	}
}

// EnsureBalances normalises nil balance pointers to zero values so callers can
// operate on the account without nil checks.
func (a *Account) EnsureBalances() *Account {
	if a == nil {
		return NewAccount()
	}
	if a.BalanceSTK == nil {
		a.BalanceSTK = big.NewInt(0)
	}
	if a.BalanceRWD == nil {
		a.BalanceRWD = big.NewInt(0)
	}
	return a
}
