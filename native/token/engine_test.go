package token

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ka1ii/developer-challenge/core/events"
)

type mockState struct {
	meta       *Metadata
	balances   map[[20]byte]*big.Int
	allowances map[[40]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[40]byte]*big.Int),
	}
}

func allowanceKey(owner, spender [20]byte) [40]byte {
	var key [40]byte
	copy(key[:20], owner[:])
	copy(key[20:], spender[:])
	return key
}

func (m *mockState) TokenMetadata() (*Metadata, error) { return m.meta.Clone(), nil }

func (m *mockState) PutTokenMetadata(meta *Metadata) error {
	m.meta = meta.Clone()
	return nil
}

func (m *mockState) TokenBalance(addr [20]byte) (*big.Int, error) {
	return cloneBigInt(m.balances[addr]), nil
}

func (m *mockState) SetTokenBalance(addr [20]byte, amount *big.Int) error {
	m.balances[addr] = cloneBigInt(amount)
	return nil
}

func (m *mockState) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	return cloneBigInt(m.allowances[allowanceKey(owner, spender)]), nil
}

func (m *mockState) SetTokenAllowance(owner, spender [20]byte, amount *big.Int) error {
	m.allowances[allowanceKey(owner, spender)] = cloneBigInt(amount)
	return nil
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[19] = b
	return out
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func newTestEngine(t *testing.T) (*Engine, *mockState, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	engine := NewEngine()
	engine.SetState(state)
	emitter := &capturingEmitter{}
	engine.SetEmitter(emitter)
	if _, err := engine.Register(&Metadata{Name: "Coin", Symbol: "coin", Decimals: 18}); err != nil {
		t.Fatalf("register: %v", err)
	}
	return engine, state, emitter
}

func mustBalance(t *testing.T, engine *Engine, owner [20]byte, want int64) {
	t.Helper()
	got, err := engine.BalanceOf(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("expected balance %d, got %s", want, got)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	created, err := engine.Register(&Metadata{Name: "Coin", Symbol: "COIN", Decimals: 18})
	if err != nil || created {
		t.Fatalf("expected idempotent re-registration, created=%v err=%v", created, err)
	}
	if _, err := engine.Register(&Metadata{Name: "Coin", Symbol: "COIN", Decimals: 6}); !errors.Is(err, ErrMetadataConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	decimals, err := engine.Decimals()
	if err != nil || decimals != 18 {
		t.Fatalf("decimals: %d %v", decimals, err)
	}
	meta, _ := engine.Metadata()
	if meta.Symbol != "COIN" {
		t.Fatalf("symbol not normalised: %s", meta.Symbol)
	}
}

func TestMintCreditsCallerAndSupply(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	owner := addr(1)
	if err := engine.Mint(owner, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Mint(owner, big.NewInt(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	mustBalance(t, engine, owner, 1001)
	meta, _ := engine.Metadata()
	if meta.TotalSupply.Int64() != 1001 {
		t.Fatalf("expected supply 1001, got %s", meta.TotalSupply)
	}
	if len(emitter.events) != 2 || emitter.events[0].EventType() != EventTypeTransfer {
		t.Fatalf("expected transfer events for mints")
	}
	if err := engine.Mint(owner, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestMintRejectsOverflow(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if err := engine.Mint(addr(1), max); err != nil {
		t.Fatalf("mint max: %v", err)
	}
	if err := engine.Mint(addr(2), big.NewInt(1)); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected supply overflow, got %v", err)
	}
	tooLarge := new(big.Int).Lsh(big.NewInt(1), 256)
	if err := engine.Transfer(addr(1), addr(2), tooLarge); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected amount overflow, got %v", err)
	}
}

func TestTransferRequiresBalance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	a, b := addr(1), addr(2)
	if err := engine.Mint(a, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Transfer(a, b, big.NewInt(40)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	mustBalance(t, engine, a, 60)
	mustBalance(t, engine, b, 40)
	if err := engine.Transfer(a, b, big.NewInt(61)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	mustBalance(t, engine, a, 60)
	if err := engine.Transfer(a, [20]byte{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
}

func TestApproveOverwritesAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner, spender := addr(1), addr(9)
	if err := engine.Approve(owner, spender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.Approve(owner, spender, big.NewInt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	allowance, _ := engine.Allowance(owner, spender)
	if allowance.Int64() != 10 {
		t.Fatalf("expected overwritten allowance 10, got %s", allowance)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner, spender, vault := addr(1), addr(9), addr(10)
	if err := engine.Mint(owner, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.TransferFrom(spender, owner, vault, big.NewInt(1)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	if err := engine.Approve(owner, spender, big.NewInt(70)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.TransferFrom(spender, owner, vault, big.NewInt(30)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	allowance, _ := engine.Allowance(owner, spender)
	if allowance.Int64() != 40 {
		t.Fatalf("expected remaining allowance 40, got %s", allowance)
	}
	mustBalance(t, engine, owner, 70)
	mustBalance(t, engine, vault, 30)
}

func TestTransferFromInsufficientBalanceLeavesAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	owner, spender, vault := addr(1), addr(9), addr(10)
	if err := engine.Mint(owner, big.NewInt(5)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := engine.Approve(owner, spender, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := engine.TransferFrom(spender, owner, vault, big.NewInt(6)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	allowance, _ := engine.Allowance(owner, spender)
	if allowance.Int64() != 50 {
		t.Fatalf("allowance consumed on failure: %s", allowance)
	}
	mustBalance(t, engine, vault, 0)
}

func TestZeroAmountTransferFromSucceedsWithoutAllowance(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.TransferFrom(addr(9), addr(1), addr(10), big.NewInt(0)); err != nil {
		t.Fatalf("zero transferFrom: %v", err)
	}
}

func TestUnregisteredTokenCannotMint(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if err := engine.Mint(addr(1), big.NewInt(1)); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
}
