package escrow

import (
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ka1ii/developer-challenge/core/events"
	"github.com/ka1ii/developer-challenge/core/types"
)

type engineState interface {
	AgreementGet(id [32]byte) (*Agreement, bool, error)
	AgreementPut(a *Agreement) error
	AgreementIndexAppend(id [32]byte) error
	AgreementIDs() ([][32]byte, error)
}

// tokenLedger is the slice of the token engine the escrow needs: pull
// payments by an approved spender and push payments from custody.
type tokenLedger interface {
	TransferFrom(spender, owner, to [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, amount *big.Int) error
}

var vaultAddress = deriveVaultAddress()

func deriveVaultAddress() [20]byte {
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte("escrow/agreement-vault"))[12:])
	return out
}

// VaultAddress returns the account that custodies escrowed tokens. Clients
// approve this address as spender before creating or funding agreements.
func VaultAddress() [20]byte { return vaultAddress }

// Engine implements the agreement state machine against a token ledger.
type Engine struct {
	state   engineState
	token   tokenLedger
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates an escrow engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetToken configures the token ledger that custodies agreement funds.
func (e *Engine) SetToken(token tokenLedger) { e.token = token }

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("escrow engine: state not configured")
	}
	if e.token == nil {
		return fmt.Errorf("escrow engine: token ledger not configured")
	}
	return nil
}

func (e *Engine) loadAgreement(id [32]byte) (*Agreement, error) {
	agreement, ok, err := e.state.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAgreementNotFound
	}
	return agreement, nil
}

func validAmount(amount *big.Int) (*big.Int, error) {
	amt := cloneBigInt(amount)
	if amt.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	return amt, nil
}

// Create opens an agreement under id, pulling amount from the caller into
// custody. The caller becomes the client.
func (e *Engine) Create(id [32]byte, caller, freelancer [20]byte, amount *big.Int) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller == ([20]byte{}) || freelancer == ([20]byte{}) {
		return nil, ErrInvalidParty
	}
	if caller == vaultAddress || freelancer == vaultAddress {
		return nil, fmt.Errorf("%w: the escrow vault cannot be a party", ErrInvalidParty)
	}
	amt, err := validAmount(amount)
	if err != nil {
		return nil, err
	}
	if _, exists, err := e.state.AgreementGet(id); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrDuplicateAgreement
	}
	if err := e.token.TransferFrom(vaultAddress, caller, vaultAddress, amt); err != nil {
		return nil, err
	}
	now := e.now()
	agreement := &Agreement{
		ID:         id,
		Client:     caller,
		Freelancer: freelancer,
		Amount:     amt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	if err := e.state.AgreementIndexAppend(id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(agreement))
	return agreement.Clone(), nil
}

// AddFunds pulls amount more tokens from the client into the agreement.
func (e *Engine) AddFunds(id [32]byte, caller [20]byte, amount *big.Int) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amt, err := validAmount(amount)
	if err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agreement.Client {
		return nil, fmt.Errorf("%w: only the client may add funds", ErrUnauthorized)
	}
	if err := e.token.TransferFrom(vaultAddress, caller, vaultAddress, amt); err != nil {
		return nil, err
	}
	agreement.Amount = new(big.Int).Add(agreement.Amount, amt)
	agreement.UpdatedAt = e.now()
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewFundedEvent(agreement, amt))
	return agreement.Clone(), nil
}

// Approve records the freelancer's handshake. Approving an agreement that is
// already handshaked succeeds without changing it.
func (e *Engine) Approve(id [32]byte, caller [20]byte) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agreement.Freelancer {
		return nil, fmt.Errorf("%w: only the freelancer may approve", ErrUnauthorized)
	}
	if agreement.Handshake {
		return agreement.Clone(), nil
	}
	agreement.Handshake = true
	agreement.UpdatedAt = e.now()
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	e.emit(NewHandshakeEvent(agreement))
	return agreement.Clone(), nil
}

// Release pays amount out of custody to the freelancer. The amount may not
// exceed what is currently escrowed.
func (e *Engine) Release(id [32]byte, caller [20]byte, amount *big.Int) (*Agreement, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amt, err := validAmount(amount)
	if err != nil {
		return nil, err
	}
	agreement, err := e.loadAgreement(id)
	if err != nil {
		return nil, err
	}
	if caller != agreement.Client {
		return nil, fmt.Errorf("%w: only the client may release funds", ErrUnauthorized)
	}
	if !agreement.Handshake {
		return nil, ErrNotHandshaked
	}
	if amt.Cmp(agreement.Amount) > 0 {
		return nil, fmt.Errorf("%w: escrowed %s, requested %s", ErrInsufficientEscrowedFunds, agreement.Amount, amt)
	}
	agreement.Amount = new(big.Int).Sub(agreement.Amount, amt)
	agreement.UpdatedAt = e.now()
	if err := e.state.AgreementPut(agreement); err != nil {
		return nil, err
	}
	if err := e.token.Transfer(vaultAddress, agreement.Freelancer, amt); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(agreement, amt))
	return agreement.Clone(), nil
}

// Get returns the agreement stored under id, or the zero default when the
// id was never created.
func (e *Engine) Get(id [32]byte) (*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	agreement, ok, err := e.state.AgreementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return Zero(id), nil
	}
	return agreement.Clone(), nil
}

// List returns every agreement in creation order.
func (e *Engine) List() ([]*Agreement, error) {
	if e == nil || e.state == nil {
		return nil, fmt.Errorf("escrow engine: state not configured")
	}
	ids, err := e.state.AgreementIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Agreement, 0, len(ids))
	for _, id := range ids {
		agreement, err := e.loadAgreement(id)
		if err != nil {
			return nil, fmt.Errorf("escrow engine: index entry %x: %w", id, err)
		}
		out = append(out, agreement)
	}
	return out, nil
}

// Escrowed sums the amount held across all agreements.
func (e *Engine) Escrowed() (*big.Int, int, error) {
	agreements, err := e.List()
	if err != nil {
		return nil, 0, err
	}
	total := big.NewInt(0)
	for _, agreement := range agreements {
		total.Add(total, agreement.Amount)
	}
	return total, len(agreements), nil
}
