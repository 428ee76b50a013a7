package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
)

// Amounts travel as base-10 strings in base units.

type TokenMetadataResult struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

type AmountResult struct {
	Amount string `json:"amount"`
}

type AddressResult struct {
	Address string `json:"address"`
}

type AgreementResult struct {
	ID         string `json:"id"`
	Client     string `json:"client"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
	Handshake  bool   `json:"handshake"`
	Exists     bool   `json:"exists"`
	CreatedAt  int64  `json:"createdAt,omitempty"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
}

type CustodyResult struct {
	Vault      string `json:"vault"`
	Balance    string `json:"balance"`
	Escrowed   string `json:"escrowed"`
	Agreements int    `json:"agreements"`
	Balanced   bool   `json:"balanced"`
}

type addressParams struct {
	Address string `json:"address"`
}

type allowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type mintParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type transferParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type approveParams struct {
	Caller  string `json:"caller"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type transferFromParams struct {
	Caller string `json:"caller"`
	Owner  string `json:"owner"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

type escrowCreateParams struct {
	ID         string `json:"id"`
	Caller     string `json:"caller"`
	Freelancer string `json:"freelancer"`
	Amount     string `json:"amount"`
}

type escrowFundsParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseAccount(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAccount(value)
	if err != nil {
		return addr, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

func formatAccount(addr [20]byte) string {
	return crypto.AddressFromBytes(addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatMetadata(meta *token.Metadata) TokenMetadataResult {
	return TokenMetadataResult{
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: formatAmount(meta.TotalSupply),
	}
}

func formatAgreement(a *escrow.Agreement) AgreementResult {
	return AgreementResult{
		ID:         crypto.FormatID(a.ID),
		Client:     formatAccount(a.Client),
		Freelancer: formatAccount(a.Freelancer),
		Amount:     formatAmount(a.Amount),
		Handshake:  a.Handshake,
		Exists:     a.Exists(),
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func formatCustody(c *core.Custody) CustodyResult {
	return CustodyResult{
		Vault:      formatAccount(c.Vault),
		Balance:    formatAmount(c.Balance),
		Escrowed:   formatAmount(c.Escrowed),
		Agreements: c.Agreements,
		Balanced:   c.Balanced(),
	}
}
