package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ka1ii/developer-challenge/core/events"
	ledgerstate "github.com/ka1ii/developer-challenge/core/state"
	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
	"github.com/ka1ii/developer-challenge/observability"
	"github.com/ka1ii/developer-challenge/storage"
)

// ErrVaultAccount rejects a direct token operation that would move tokens
// into or out of the escrow vault. Only the escrow engine moves custody.
var ErrVaultAccount = errors.New("node: escrow vault cannot take part in token operations")

// Node hosts the token and escrow engines over a single database. Every
// operation runs under stateMu against a fresh state manager and its writes
// are committed as one batch, so calls are atomic and serialized.
type Node struct {
	db       storage.Database
	operator [20]byte
	stream   *events.Stream
	logger   *slog.Logger
	nowFn    func() int64

	stateMu sync.Mutex
}

// Genesis describes the token registered on first start and the supply
// minted to the operator.
type Genesis struct {
	Name          string
	Symbol        string
	Decimals      uint8
	InitialSupply *big.Int
}

// Custody summarises the escrow vault against the agreements it backs.
type Custody struct {
	Vault      [20]byte
	Balance    *big.Int
	Escrowed   *big.Int
	Agreements int
}

// Balanced reports whether the vault holds exactly the escrowed total.
func (c Custody) Balanced() bool {
	return c.Balance != nil && c.Escrowed != nil && c.Balance.Cmp(c.Escrowed) == 0
}

// NewNode wires a node over db. operator receives the genesis supply.
func NewNode(db storage.Database, operator [20]byte, logger *slog.Logger) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		db:       db,
		operator: operator,
		stream:   events.NewStream(),
		logger:   logger,
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetNowFunc overrides the clock used to stamp agreements.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	n.nowFn = now
}

// Operator returns the account that received the genesis supply.
func (n *Node) Operator() [20]byte { return n.operator }

// Events exposes the stream of committed ledger events.
func (n *Node) Events() *events.Stream { return n.stream }

// InitGenesis registers the token and mints the initial supply to the
// operator. Running it again with the same definition is a no-op.
func (n *Node) InitGenesis(g Genesis) (bool, error) {
	var created bool
	err := n.apply("genesis", func(m *ledgerstate.Manager, emitter events.Emitter) error {
		tok := n.newTokenEngine(m, emitter)
		var err error
		created, err = tok.Register(&token.Metadata{Name: g.Name, Symbol: g.Symbol, Decimals: g.Decimals})
		if err != nil || !created {
			return err
		}
		if g.InitialSupply != nil && g.InitialSupply.Sign() > 0 {
			if n.operator == ([20]byte{}) {
				return fmt.Errorf("node: operator required to receive initial supply")
			}
			return tok.Mint(n.operator, g.InitialSupply)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		n.logger.Info("token registered", slog.String("symbol", g.Symbol), slog.String("initial_supply", amountString(g.InitialSupply)))
	}
	return created, nil
}

func (n *Node) newTokenEngine(m *ledgerstate.Manager, emitter events.Emitter) *token.Engine {
	engine := token.NewEngine()
	engine.SetState(m)
	engine.SetEmitter(emitter)
	return engine
}

func (n *Node) newEscrowEngine(m *ledgerstate.Manager, emitter events.Emitter) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(m)
	engine.SetToken(n.newTokenEngine(m, emitter))
	engine.SetEmitter(emitter)
	engine.SetNowFunc(n.nowFn)
	return engine
}

// apply runs fn as one atomic unit. Events raised by fn are only published
// after its writes have been committed.
func (n *Node) apply(operation string, fn func(m *ledgerstate.Manager, emitter events.Emitter) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	start := time.Now()
	manager := ledgerstate.NewManager(n.db)
	var buffer events.Buffer
	err := fn(manager, &buffer)
	if err == nil {
		err = manager.Commit()
	}
	observability.Ledger().Observe(operation, Outcome(err), time.Since(start))
	if err != nil {
		manager.Discard()
		return err
	}
	for _, evt := range buffer.Events() {
		observability.Ledger().RecordEvent(evt.EventType())
	}
	buffer.FlushTo(n.stream)
	return nil
}

func (n *Node) view(fn func(m *ledgerstate.Manager) error) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return fn(ledgerstate.NewManager(n.db))
}

// Outcome classifies an operation error into a short stable reason used for
// metric labels and RPC error data.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, escrow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrVaultAccount):
		return "vault_account"
	case errors.Is(err, escrow.ErrAgreementNotFound):
		return "not_found"
	case errors.Is(err, escrow.ErrDuplicateAgreement):
		return "duplicate"
	case errors.Is(err, escrow.ErrNotHandshaked):
		return "not_handshaked"
	case errors.Is(err, escrow.ErrInsufficientEscrowedFunds):
		return "insufficient_escrow"
	case errors.Is(err, token.ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, token.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, escrow.ErrInvalidAmount), errors.Is(err, token.ErrInvalidAmount), errors.Is(err, token.ErrAmountOverflow):
		return "invalid_amount"
	case errors.Is(err, escrow.ErrInvalidParty), errors.Is(err, token.ErrZeroAddress):
		return "invalid_party"
	case errors.Is(err, token.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, token.ErrMetadataConflict):
		return "metadata_conflict"
	default:
		return "error"
	}
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// --- Token operations ---

func rejectVault(accounts ...[20]byte) error {
	vault := escrow.VaultAddress()
	for _, account := range accounts {
		if account == vault {
			return ErrVaultAccount
		}
	}
	return nil
}

// TokenMetadata returns the registered token definition.
func (n *Node) TokenMetadata() (*token.Metadata, error) {
	var meta *token.Metadata
	err := n.view(func(m *ledgerstate.Manager) error {
		var err error
		meta, err = n.newTokenEngine(m, nil).Metadata()
		return err
	})
	return meta, err
}

// TokenBalance returns the balance held by owner.
func (n *Node) TokenBalance(owner [20]byte) (*big.Int, error) {
	var balance *big.Int
	err := n.view(func(m *ledgerstate.Manager) error {
		var err error
		balance, err = n.newTokenEngine(m, nil).BalanceOf(owner)
		return err
	})
	return balance, err
}

// TokenAllowance returns how much spender may still pull from owner.
func (n *Node) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	var allowance *big.Int
	err := n.view(func(m *ledgerstate.Manager) error {
		var err error
		allowance, err = n.newTokenEngine(m, nil).Allowance(owner, spender)
		return err
	})
	return allowance, err
}

// TokenMint credits amount to caller.
func (n *Node) TokenMint(caller [20]byte, amount *big.Int) error {
	return n.apply("token_mint", func(m *ledgerstate.Manager, emitter events.Emitter) error {
		if err := rejectVault(caller); err != nil {
			return err
		}
		return n.newTokenEngine(m, emitter).Mint(caller, amount)
	})
}

// TokenTransfer moves amount from the caller to another account.
func (n *Node) TokenTransfer(from, to [20]byte, amount *big.Int) error {
	return n.apply("token_transfer", func(m *ledgerstate.Manager, emitter events.Emitter) error {
		if err := rejectVault(from, to); err != nil {
			return err
		}
		return n.newTokenEngine(m, emitter).Transfer(from, to, amount)
	})
}

// TokenApprove sets the allowance owner grants to spender. The vault may be
// a spender but never an owner.
func (n *Node) TokenApprove(owner, spender [20]byte, amount *big.Int) error {
	return n.apply("token_approve", func(m *ledgerstate.Manager, emitter events.Emitter) error {
		if err := rejectVault(owner); err != nil {
			return err
		}
		return n.newTokenEngine(m, emitter).Approve(owner, spender, amount)
	})
}

// TokenTransferFrom lets spender move owner's tokens within its allowance.
func (n *Node) TokenTransferFrom(spender, owner, to [20]byte, amount *big.Int) error {
	return n.apply("token_transferFrom", func(m *ledgerstate.Manager, emitter events.Emitter) error {
		if err := rejectVault(spender, owner, to); err != nil {
			return err
		}
		return n.newTokenEngine(m, emitter).TransferFrom(spender, owner, to, amount)
	})
}

// --- Escrow operations ---

// EscrowVault returns the address clients approve as spender.
func (n *Node) EscrowVault() [20]byte { return escrow.VaultAddress() }

func (n *Node) escrowWrite(operation string, fn func(engine *escrow.Engine) (*escrow.Agreement, error)) (*escrow.Agreement, error) {
	var result *escrow.Agreement
	err := n.apply(operation, func(m *ledgerstate.Manager, emitter events.Emitter) error {
		engine := n.newEscrowEngine(m, emitter)
		var err error
		result, err = fn(engine)
		if err != nil {
			return err
		}
		return n.publishCustody(m)
	})
	return result, err
}

func (n *Node) publishCustody(m *ledgerstate.Manager) error {
	balance, err := n.newTokenEngine(m, nil).BalanceOf(escrow.VaultAddress())
	if err != nil {
		return err
	}
	ids, err := m.AgreementIDs()
	if err != nil {
		return err
	}
	observability.Ledger().SetCustody(balance, len(ids))
	return nil
}

// EscrowCreate opens an agreement funded from the caller's vault allowance.
func (n *Node) EscrowCreate(id [32]byte, caller, freelancer [20]byte, amount *big.Int) (*escrow.Agreement, error) {
	return n.escrowWrite("escrow_create", func(engine *escrow.Engine) (*escrow.Agreement, error) {
		return engine.Create(id, caller, freelancer, amount)
	})
}

// EscrowAddFunds pulls more of the client's tokens into an agreement.
func (n *Node) EscrowAddFunds(id [32]byte, caller [20]byte, amount *big.Int) (*escrow.Agreement, error) {
	return n.escrowWrite("escrow_addFunds", func(engine *escrow.Engine) (*escrow.Agreement, error) {
		return engine.AddFunds(id, caller, amount)
	})
}

// EscrowApprove records the freelancer's handshake.
func (n *Node) EscrowApprove(id [32]byte, caller [20]byte) (*escrow.Agreement, error) {
	return n.escrowWrite("escrow_approve", func(engine *escrow.Engine) (*escrow.Agreement, error) {
		return engine.Approve(id, caller)
	})
}

// EscrowRelease pays amount from an agreement to its freelancer.
func (n *Node) EscrowRelease(id [32]byte, caller [20]byte, amount *big.Int) (*escrow.Agreement, error) {
	return n.escrowWrite("escrow_release", func(engine *escrow.Engine) (*escrow.Agreement, error) {
		return engine.Release(id, caller, amount)
	})
}

// EscrowGet returns the agreement or its zero default.
func (n *Node) EscrowGet(id [32]byte) (*escrow.Agreement, error) {
	var agreement *escrow.Agreement
	err := n.view(func(m *ledgerstate.Manager) error {
		var err error
		agreement, err = n.newEscrowEngine(m, nil).Get(id)
		return err
	})
	return agreement, err
}

// EscrowList returns all agreements in creation order.
func (n *Node) EscrowList() ([]*escrow.Agreement, error) {
	var agreements []*escrow.Agreement
	err := n.view(func(m *ledgerstate.Manager) error {
		var err error
		agreements, err = n.newEscrowEngine(m, nil).List()
		return err
	})
	return agreements, err
}

// EscrowCustody compares the vault balance with the sum of agreements.
func (n *Node) EscrowCustody() (*Custody, error) {
	var custody *Custody
	err := n.view(func(m *ledgerstate.Manager) error {
		engine := n.newEscrowEngine(m, nil)
		escrowed, count, err := engine.Escrowed()
		if err != nil {
			return err
		}
		balance, err := n.newTokenEngine(m, nil).BalanceOf(escrow.VaultAddress())
		if err != nil {
			return err
		}
		custody = &Custody{
			Vault:      escrow.VaultAddress(),
			Balance:    balance,
			Escrowed:   escrowed,
			Agreements: count,
		}
		return nil
	})
	return custody, err
}
