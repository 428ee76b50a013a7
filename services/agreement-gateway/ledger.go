package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/gateway/middleware"
	"github.com/ka1ii/developer-challenge/native/token"
	"github.com/ka1ii/developer-challenge/rpc"
	"github.com/ka1ii/developer-challenge/rpc/client"
)

// Ledger is the subset of the node RPC surface the gateway drives.
type Ledger interface {
	Decimals(ctx context.Context) (uint8, error)
	BalanceOf(ctx context.Context, owner string) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)
	Mint(ctx context.Context, caller string, amount *big.Int) (*big.Int, error)
	Transfer(ctx context.Context, caller, to string, amount *big.Int) (*big.Int, error)
	Approve(ctx context.Context, caller, spender string, amount *big.Int) error
	Vault(ctx context.Context) (string, error)
	CreateAgreement(ctx context.Context, id, caller, freelancer string, amount *big.Int) (*rpc.AgreementResult, error)
	AddFunds(ctx context.Context, id, caller string, amount *big.Int) (*rpc.AgreementResult, error)
	ApproveAgreement(ctx context.Context, id, caller string) (*rpc.AgreementResult, error)
	ReleaseFunds(ctx context.Context, id, caller string, amount *big.Int) (*rpc.AgreementResult, error)
	GetAgreement(ctx context.Context, id string) (*rpc.AgreementResult, error)
}

var _ Ledger = (*client.Client)(nil)

// RecoverableError reports an allowance workflow whose approval committed
// but whose escrow call did not. The caller may retry the request.
type RecoverableError struct {
	Operation string
	Err       error
}

func (e *RecoverableError) Error() string {
	return fmt.Sprintf("%s: allowance approved but the escrow call failed: %v", e.Operation, e.Err)
}

func (e *RecoverableError) Unwrap() error { return e.Err }

// vaultCache remembers the escrow vault address after the first lookup.
type vaultCache struct {
	mu      sync.Mutex
	address string
}

func (c *vaultCache) get(ctx context.Context, ledger Ledger) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.address != "" {
		return c.address, nil
	}
	address, err := ledger.Vault(ctx)
	if err != nil {
		return "", err
	}
	c.address = address
	return address, nil
}

// resolveParty resolves a username or address and refuses the escrow vault.
func (s *Server) resolveParty(ctx context.Context, value string) (middleware.Identity, error) {
	party, err := s.directory.ResolveParty(value)
	if err != nil {
		return middleware.Identity{}, err
	}
	vault, err := s.vault.get(ctx, s.ledger)
	if err != nil {
		return middleware.Identity{}, err
	}
	vaultAccount, err := crypto.ParseAccount(vault)
	if err != nil {
		return middleware.Identity{}, fmt.Errorf("node reported invalid vault %q: %w", vault, err)
	}
	if partyAccount, err := crypto.ParseAccount(party.Address); err == nil && partyAccount == vaultAccount {
		return middleware.Identity{}, errVaultParty
	}
	return party, nil
}

// withAllowance raises the caller's vault allowance by delta and then runs
// op. The two ledger calls are separate transactions; a concurrent spend can
// consume the allowance between them.
func (s *Server) withAllowance(ctx context.Context, operation, caller string, delta *big.Int, op func(context.Context) (*rpc.AgreementResult, error)) (*rpc.AgreementResult, error) {
	vault, err := s.vault.get(ctx, s.ledger)
	if err != nil {
		return nil, err
	}
	current, err := s.ledger.Allowance(ctx, caller, vault)
	if err != nil {
		return nil, err
	}
	target := new(big.Int).Add(current, delta)
	if err := s.ledger.Approve(ctx, caller, vault, target); err != nil {
		return nil, err
	}
	result, err := op(ctx)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, token.ErrInsufficientAllowance) || !client.IsNodeError(err) {
		s.obs.RecordRecoverable(operation)
		s.logger.Warn("allowance workflow interrupted",
			"operation", operation,
			"caller", caller,
			"allowance", target.String(),
			"error", err)
		return nil, &RecoverableError{Operation: operation, Err: err}
	}
	return nil, err
}
