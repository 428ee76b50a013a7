package token

import (
	"errors"
	"math/big"
	"strings"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrInvalidAmount         = errors.New("token: amount must be non-negative")
	ErrAmountOverflow        = errors.New("token: amount exceeds 256 bits")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrNotRegistered         = errors.New("token: metadata not registered")
	ErrMetadataConflict      = errors.New("token: metadata already registered with different definition")
)

// Metadata describes the fungible token hosted by the ledger.
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// Clone returns a deep copy of the metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.TotalSupply = cloneBigInt(m.TotalSupply)
	return &out
}

// SameDefinition reports whether two registrations describe the same token,
// ignoring supply.
func (m *Metadata) SameDefinition(other *Metadata) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Name == other.Name &&
		strings.EqualFold(m.Symbol, other.Symbol) &&
		m.Decimals == other.Decimals
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
