package state

import (
	"fmt"
	"math/big"

	"github.com/ka1ii/developer-challenge/native/token"
)

var (
	tokenMetadataKey = []byte("token/metadata")
	balancePrefix    = []byte("token/balance/")
	allowancePrefix  = []byte("token/allowance/")
)

func balanceKey(addr [20]byte) []byte {
	return append(append([]byte{}, balancePrefix...), addr[:]...)
}

func allowanceKey(owner, spender [20]byte) []byte {
	key := append(append([]byte{}, allowancePrefix...), owner[:]...)
	key = append(key, ':')
	return append(key, spender[:]...)
}

// TokenMetadata returns the registered token metadata or nil.
func (m *Manager) TokenMetadata() (*token.Metadata, error) {
	meta := new(token.Metadata)
	ok, err := m.KVGet(tokenMetadataKey, meta)
	if err != nil || !ok {
		return nil, err
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = big.NewInt(0)
	}
	return meta, nil
}

// PutTokenMetadata stores the token metadata.
func (m *Manager) PutTokenMetadata(meta *token.Metadata) error {
	if meta == nil {
		return fmt.Errorf("state: nil token metadata")
	}
	stored := meta.Clone()
	return m.KVPut(tokenMetadataKey, stored)
}

// TokenBalance returns the balance of addr, zero when unset.
func (m *Manager) TokenBalance(addr [20]byte) (*big.Int, error) {
	return m.loadAmount(balanceKey(addr))
}

// SetTokenBalance stores the balance of addr.
func (m *Manager) SetTokenBalance(addr [20]byte, amount *big.Int) error {
	return m.storeAmount(balanceKey(addr), amount)
}

// TokenAllowance returns how much spender may pull from owner.
func (m *Manager) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	return m.loadAmount(allowanceKey(owner, spender))
}

// SetTokenAllowance stores the allowance of spender over owner's tokens.
func (m *Manager) SetTokenAllowance(owner, spender [20]byte, amount *big.Int) error {
	return m.storeAmount(allowanceKey(owner, spender), amount)
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	value := new(big.Int)
	if _, err := m.KVGet(key, value); err != nil {
		return nil, err
	}
	return value, nil
}

func (m *Manager) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	return m.KVPut(key, amount)
}
