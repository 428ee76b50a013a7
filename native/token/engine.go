package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/ka1ii/developer-challenge/core/events"
	"github.com/ka1ii/developer-challenge/core/types"
)

type engineState interface {
	TokenMetadata() (*Metadata, error)
	PutTokenMetadata(meta *Metadata) error
	TokenBalance(addr [20]byte) (*big.Int, error)
	SetTokenBalance(addr [20]byte, amount *big.Int) error
	TokenAllowance(owner, spender [20]byte) (*big.Int, error)
	SetTokenAllowance(owner, spender [20]byte, amount *big.Int) error
}

// Engine implements the fungible token rules: balances, overwrite-style
// allowances and pull transfers by approved spenders. All arithmetic is
// performed on 256-bit unsigned integers.
type Engine struct {
	state   engineState
	emitter events.Emitter
}

// NewEngine constructs a token engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Typed{Evt: evt})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("token engine not initialised")
	}
	return nil
}

// Register records the token metadata. Registering an identical definition
// again is a no-op and reports created=false.
func (e *Engine) Register(meta *Metadata) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if meta == nil || strings.TrimSpace(meta.Symbol) == "" {
		return false, fmt.Errorf("token: symbol required")
	}
	existing, err := e.state.TokenMetadata()
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.SameDefinition(meta) {
			return false, nil
		}
		return false, ErrMetadataConflict
	}
	stored := meta.Clone()
	stored.Symbol = strings.ToUpper(strings.TrimSpace(stored.Symbol))
	stored.TotalSupply = big.NewInt(0)
	if err := e.state.PutTokenMetadata(stored); err != nil {
		return false, err
	}
	return true, nil
}

// Metadata returns the registered token metadata.
func (e *Engine) Metadata() (*Metadata, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	meta, err := e.state.TokenMetadata()
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, ErrNotRegistered
	}
	return meta, nil
}

// Decimals returns the fixed display precision of the token.
func (e *Engine) Decimals() (uint8, error) {
	meta, err := e.Metadata()
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

// BalanceOf returns the balance held by owner.
func (e *Engine) BalanceOf(owner [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.TokenBalance(owner)
}

// Allowance returns the amount spender may still pull from owner.
func (e *Engine) Allowance(owner, spender [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.TokenAllowance(owner, spender)
}

// Mint creates amount new tokens and credits them to the caller.
func (e *Engine) Mint(caller [20]byte, amount *big.Int) error {
	meta, err := e.Metadata()
	if err != nil {
		return err
	}
	if caller == ([20]byte{}) {
		return ErrZeroAddress
	}
	delta, err := toUint(amount)
	if err != nil {
		return err
	}
	supply, err := toUint(meta.TotalSupply)
	if err != nil {
		return err
	}
	newSupply, overflow := new(uint256.Int).AddOverflow(supply, delta)
	if overflow {
		return ErrAmountOverflow
	}
	balance, err := e.balance(caller)
	if err != nil {
		return err
	}
	newBalance, overflow := new(uint256.Int).AddOverflow(balance, delta)
	if overflow {
		return ErrAmountOverflow
	}
	updated := meta.Clone()
	updated.TotalSupply = newSupply.ToBig()
	if err := e.state.PutTokenMetadata(updated); err != nil {
		return err
	}
	if err := e.state.SetTokenBalance(caller, newBalance.ToBig()); err != nil {
		return err
	}
	e.emit(NewTransferEvent([20]byte{}, caller, delta.ToBig()))
	return nil
}

// Transfer pushes amount from the caller to the recipient.
func (e *Engine) Transfer(from, to [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	delta, err := toUint(amount)
	if err != nil {
		return err
	}
	if err := e.move(from, to, delta); err != nil {
		return err
	}
	e.emit(NewTransferEvent(from, to, delta.ToBig()))
	return nil
}

// Approve sets the allowance of spender over the owner's tokens. The new
// value replaces any existing allowance.
func (e *Engine) Approve(owner, spender [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if owner == ([20]byte{}) || spender == ([20]byte{}) {
		return ErrZeroAddress
	}
	value, err := toUint(amount)
	if err != nil {
		return err
	}
	if err := e.state.SetTokenAllowance(owner, spender, value.ToBig()); err != nil {
		return err
	}
	e.emit(NewApprovalEvent(owner, spender, value.ToBig()))
	return nil
}

// TransferFrom moves amount from owner to the recipient on behalf of
// spender, consuming the same amount of allowance. Nothing is written when
// either the allowance or the owner's balance is insufficient.
func (e *Engine) TransferFrom(spender, owner, to [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	delta, err := toUint(amount)
	if err != nil {
		return err
	}
	current, err := e.state.TokenAllowance(owner, spender)
	if err != nil {
		return err
	}
	allowance, err := toUint(current)
	if err != nil {
		return err
	}
	if allowance.Lt(delta) {
		return fmt.Errorf("%w: allowance %s, need %s", ErrInsufficientAllowance, allowance.Dec(), delta.Dec())
	}
	if err := e.move(owner, to, delta); err != nil {
		return err
	}
	remaining := new(uint256.Int).Sub(allowance, delta)
	if err := e.state.SetTokenAllowance(owner, spender, remaining.ToBig()); err != nil {
		return err
	}
	e.emit(NewTransferEvent(owner, to, delta.ToBig()))
	return nil
}

func (e *Engine) move(from, to [20]byte, delta *uint256.Int) error {
	if from == ([20]byte{}) || to == ([20]byte{}) {
		return ErrZeroAddress
	}
	fromBal, err := e.balance(from)
	if err != nil {
		return err
	}
	if fromBal.Lt(delta) {
		return fmt.Errorf("%w: balance %s, need %s", ErrInsufficientBalance, fromBal.Dec(), delta.Dec())
	}
	if from == to {
		return nil
	}
	toBal, err := e.balance(to)
	if err != nil {
		return err
	}
	newTo, overflow := new(uint256.Int).AddOverflow(toBal, delta)
	if overflow {
		return ErrAmountOverflow
	}
	newFrom := new(uint256.Int).Sub(fromBal, delta)
	if err := e.state.SetTokenBalance(from, newFrom.ToBig()); err != nil {
		return err
	}
	return e.state.SetTokenBalance(to, newTo.ToBig())
}

func (e *Engine) balance(addr [20]byte) (*uint256.Int, error) {
	current, err := e.state.TokenBalance(addr)
	if err != nil {
		return nil, err
	}
	return toUint(current)
}

func toUint(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return out, nil
}
