package state

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/core/types"
	"stakepool/crypto"
	"stakepool/storage"
)

// Manager provides deterministic key/value access to the service state:
// token accounts, role grants and the staking ledger records. Keys are
// keccak-derived from stable string prefixes so the layout is reproducible
// across restarts and migrations.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account:")
	rolePrefix    = []byte("role:")
	poolKey       = ethcrypto.Keccak256([]byte("staking-pool"))
	positionPfx   = []byte("staking-pos:")
)

func accountKey(addr crypto.Address) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr.Bytes()))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string, addr crypto.Address) []byte {
	buf := make([]byte, len(rolePrefix)+len(role)+1+len(addr.Bytes()))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	buf[len(rolePrefix)+len(role)] = ':'
	copy(buf[len(rolePrefix)+len(role)+1:], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

func positionKey(addr crypto.Address) []byte {
	buf := make([]byte, len(positionPfx)+len(addr.Bytes()))
	copy(buf, positionPfx)
	copy(buf[len(positionPfx):], addr.Bytes())
	return ethcrypto.Keccak256(buf)
}

type storedAccount struct {
	Nonce      uint64
	BalanceSTK *big.Int
	BalanceRWD *big.Int
}

// GetAccount loads the token account for an address. A missing record yields
// a zeroed account; accounts are created implicitly on first write.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if err == storage.ErrKeyNotFound {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	stored := &storedAccount{}
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	acc := &types.Account{
		Nonce:      stored.Nonce,
		BalanceSTK: stored.BalanceSTK,
		BalanceRWD: stored.BalanceRWD,
	}
	return acc.EnsureBalances(), nil
}

// PutAccount persists the token account for an address.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	account = account.EnsureBalances()
	stored := &storedAccount{
		Nonce:      account.Nonce,
		BalanceSTK: account.BalanceSTK,
		BalanceRWD: account.BalanceRWD,
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return m.db.Put(accountKey(addr), encoded)
}

// SetRole grants or revokes a named role for an address.
func (m *Manager) SetRole(role string, addr crypto.Address, granted bool) error {
	key := roleKey(role, addr)
	if !granted {
		return m.db.Put(key, []byte{0})
	}
	return m.db.Put(key, []byte{1})
}

// HasRole reports whether the address holds the named role. Lookup failures
// deny by default.
func (m *Manager) HasRole(role string, addr crypto.Address) bool {
	data, err := m.db.Get(roleKey(role, addr))
	if err != nil {
		return false
	}
	return len(data) == 1 && data[0] == 1
}
