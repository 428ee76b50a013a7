package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ka1ii/developer-challenge/core/events"
	"github.com/ka1ii/developer-challenge/native/token"
)

type mockState struct {
	agreements map[[32]byte]*Agreement
	index      [][32]byte
	meta       *token.Metadata
	balances   map[[20]byte]*big.Int
	allowances map[[40]byte]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		agreements: make(map[[32]byte]*Agreement),
		balances:   make(map[[20]byte]*big.Int),
		allowances: make(map[[40]byte]*big.Int),
	}
}

func (m *mockState) AgreementGet(id [32]byte) (*Agreement, bool, error) {
	a, ok := m.agreements[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) AgreementPut(a *Agreement) error {
	m.agreements[a.ID] = a.Clone()
	return nil
}

func (m *mockState) AgreementIndexAppend(id [32]byte) error {
	m.index = append(m.index, id)
	return nil
}

func (m *mockState) AgreementIDs() ([][32]byte, error) {
	return append([][32]byte(nil), m.index...), nil
}

func (m *mockState) TokenMetadata() (*token.Metadata, error) { return m.meta.Clone(), nil }

func (m *mockState) PutTokenMetadata(meta *token.Metadata) error {
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

func allowanceKey(owner, spender [20]byte) [40]byte {
	var key [40]byte
	copy(key[:20], owner[:])
	copy(key[20:], spender[:])
	return key
}

func (m *mockState) TokenAllowance(owner, spender [20]byte) (*big.Int, error) {
	return cloneBigInt(m.allowances[allowanceKey(owner, spender)]), nil
}

func (m *mockState) SetTokenAllowance(owner, spender [20]byte, amount *big.Int) error {
	m.allowances[allowanceKey(owner, spender)] = cloneBigInt(amount)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *capturingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	engine  *Engine
	token   *token.Engine
	state   *mockState
	emitter *capturingEmitter
}

var (
	client     = testAddress(0x01)
	freelancer = testAddress(0x02)
	stranger   = testAddress(0x03)
)

func testAddress(b byte) [20]byte {
	var out [20]byte
	out[0] = b
	out[19] = b
	return out
}

func testID(b byte) [32]byte {
	var out [32]byte
	out[31] = b
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	tok := token.NewEngine()
	tok.SetState(state)
	if _, err := tok.Register(&token.Metadata{Name: "Coin", Symbol: "COIN", Decimals: 18}); err != nil {
		t.Fatalf("register token: %v", err)
	}
	for _, holder := range [][20]byte{client, stranger} {
		if err := tok.Mint(holder, big.NewInt(1000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetToken(tok)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1700 })
	return &fixture{engine: engine, token: tok, state: state, emitter: emitter}
}

func (f *fixture) allow(t *testing.T, owner [20]byte, amount int64) {
	t.Helper()
	if err := f.token.Approve(owner, VaultAddress(), big.NewInt(amount)); err != nil {
		t.Fatalf("approve allowance: %v", err)
	}
}

func (f *fixture) create(t *testing.T, id [32]byte, amount int64) *Agreement {
	t.Helper()
	f.allow(t, client, amount)
	agreement, err := f.engine.Create(id, client, freelancer, big.NewInt(amount))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return agreement
}

func (f *fixture) balance(t *testing.T, owner [20]byte) int64 {
	t.Helper()
	bal, err := f.token.BalanceOf(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func (f *fixture) assertCustody(t *testing.T) {
	t.Helper()
	total, _, err := f.engine.Escrowed()
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if total.Int64() != f.balance(t, VaultAddress()) {
		t.Fatalf("custody mismatch: agreements hold %s, vault holds %d", total, f.balance(t, VaultAddress()))
	}
}

func TestGetUnknownReturnsZeroDefault(t *testing.T) {
	f := newFixture(t)
	agreement, err := f.engine.Get(testID(42))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agreement.Client != ([20]byte{}) || agreement.Freelancer != ([20]byte{}) {
		t.Fatalf("expected null identities, got %+v", agreement)
	}
	if agreement.Amount.Sign() != 0 || agreement.Handshake {
		t.Fatalf("expected zero amount and no handshake, got %+v", agreement)
	}
	if agreement.Exists() {
		t.Fatalf("zero default reported as existing")
	}
}

func TestCreatePullsFundsIntoCustody(t *testing.T) {
	f := newFixture(t)
	agreement := f.create(t, testID(1), 100)
	if agreement.Client != client || agreement.Freelancer != freelancer {
		t.Fatalf("unexpected parties %+v", agreement)
	}
	if agreement.Amount.Int64() != 100 || agreement.Handshake {
		t.Fatalf("unexpected agreement %+v", agreement)
	}
	if f.balance(t, client) != 900 || f.balance(t, VaultAddress()) != 100 {
		t.Fatalf("funds not moved into custody")
	}
	if f.emitter.count(EventTypeAgreementCreated) != 1 {
		t.Fatalf("expected created event")
	}
	f.assertCustody(t)
}

func TestCreateDuplicateKeepsFirstAgreement(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	f.allow(t, stranger, 50)
	_, err := f.engine.Create(testID(1), stranger, client, big.NewInt(50))
	if !errors.Is(err, ErrDuplicateAgreement) {
		t.Fatalf("expected duplicate agreement, got %v", err)
	}
	stored, _ := f.engine.Get(testID(1))
	if stored.Client != client || stored.Freelancer != freelancer || stored.Amount.Int64() != 100 {
		t.Fatalf("duplicate create altered agreement: %+v", stored)
	}
	if f.balance(t, stranger) != 1000 {
		t.Fatalf("duplicate create moved funds")
	}
}

func TestCreateRequiresAllowanceAndBalance(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Create(testID(1), client, freelancer, big.NewInt(10)); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	f.allow(t, client, 5000)
	if _, err := f.engine.Create(testID(1), client, freelancer, big.NewInt(5000)); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got, _ := f.engine.Get(testID(1)); got.Exists() {
		t.Fatalf("failed create stored an agreement")
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Create(testID(1), client, [20]byte{}, big.NewInt(0)); !errors.Is(err, ErrInvalidParty) {
		t.Fatalf("expected invalid party, got %v", err)
	}
	if _, err := f.engine.Create(testID(1), client, freelancer, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestCreateRejectsVaultAsParty(t *testing.T) {
	f := newFixture(t)
	f.allow(t, client, 100)
	if _, err := f.engine.Create(testID(1), client, VaultAddress(), big.NewInt(100)); !errors.Is(err, ErrInvalidParty) {
		t.Fatalf("expected invalid party for vault freelancer, got %v", err)
	}
	if _, err := f.engine.Create(testID(2), VaultAddress(), freelancer, big.NewInt(0)); !errors.Is(err, ErrInvalidParty) {
		t.Fatalf("expected invalid party for vault client, got %v", err)
	}
	if f.balance(t, client) != 1000 || f.balance(t, VaultAddress()) != 0 {
		t.Fatalf("rejected create moved funds")
	}
	f.assertCustody(t)
}

func TestAddFundsIncreasesByDelta(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	f.allow(t, client, 25)
	agreement, err := f.engine.AddFunds(testID(1), client, big.NewInt(25))
	if err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if agreement.Amount.Int64() != 125 {
		t.Fatalf("expected 125, got %s", agreement.Amount)
	}
	if f.emitter.count(EventTypeAgreementFunded) != 1 {
		t.Fatalf("expected funded event")
	}
	f.assertCustody(t)
}

func TestAddFundsRoleAndExistenceChecks(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.AddFunds(testID(9), client, big.NewInt(1)); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	f.create(t, testID(1), 100)
	f.allow(t, stranger, 10)
	for _, caller := range [][20]byte{stranger, freelancer} {
		if _, err := f.engine.AddFunds(testID(1), caller, big.NewInt(10)); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized for %x, got %v", caller, err)
		}
	}
}

func TestAllowanceTopUpScenario(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 50)
	if _, err := f.engine.AddFunds(testID(1), client, big.NewInt(10)); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	current, _ := f.token.Allowance(client, VaultAddress())
	f.allow(t, client, current.Int64()+10)
	agreement, err := f.engine.AddFunds(testID(1), client, big.NewInt(10))
	if err != nil {
		t.Fatalf("add funds after top-up: %v", err)
	}
	if agreement.Amount.Int64() != 60 {
		t.Fatalf("expected 60, got %s", agreement.Amount)
	}
	f.assertCustody(t)
}

func TestApproveIsFreelancerOnlyAndIdempotent(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Approve(testID(1), freelancer); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	f.create(t, testID(1), 10)
	for _, caller := range [][20]byte{client, stranger} {
		if _, err := f.engine.Approve(testID(1), caller); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		agreement, err := f.engine.Approve(testID(1), freelancer)
		if err != nil {
			t.Fatalf("approve #%d: %v", i+1, err)
		}
		if !agreement.Handshake {
			t.Fatalf("handshake not set")
		}
	}
	if f.emitter.count(EventTypeAgreementHandshake) != 1 {
		t.Fatalf("expected a single handshake event")
	}
}

func TestReleaseBeforeHandshakeFails(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	for _, amount := range []int64{0, 1, 100, 101} {
		if _, err := f.engine.Release(testID(1), client, big.NewInt(amount)); !errors.Is(err, ErrNotHandshaked) {
			t.Fatalf("amount %d: expected not handshaked, got %v", amount, err)
		}
	}
}

func TestReleasePartialAndFull(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	if _, err := f.engine.Approve(testID(1), freelancer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	agreement, err := f.engine.Release(testID(1), client, big.NewInt(30))
	if err != nil {
		t.Fatalf("partial release: %v", err)
	}
	if agreement.Amount.Int64() != 70 || f.balance(t, freelancer) != 30 {
		t.Fatalf("unexpected state after partial release")
	}
	f.assertCustody(t)

	agreement, err = f.engine.Release(testID(1), client, big.NewInt(70))
	if err != nil {
		t.Fatalf("full release: %v", err)
	}
	if agreement.Amount.Sign() != 0 || f.balance(t, freelancer) != 100 {
		t.Fatalf("unexpected state after full release")
	}
	stored, _ := f.engine.Get(testID(1))
	if !stored.Exists() || !stored.Handshake || stored.Client != client {
		t.Fatalf("drained agreement lost its history: %+v", stored)
	}
	f.assertCustody(t)
}

func TestReleaseOverEscrowedLeavesAmount(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	if _, err := f.engine.Approve(testID(1), freelancer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Release(testID(1), client, big.NewInt(101)); !errors.Is(err, ErrInsufficientEscrowedFunds) {
		t.Fatalf("expected insufficient escrowed funds, got %v", err)
	}
	stored, _ := f.engine.Get(testID(1))
	if stored.Amount.Int64() != 100 || f.balance(t, freelancer) != 0 {
		t.Fatalf("over-release changed state")
	}
}

func TestReleaseRequiresClient(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	if _, err := f.engine.Approve(testID(1), freelancer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	for _, caller := range [][20]byte{freelancer, stranger} {
		if _, err := f.engine.Release(testID(1), caller, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
	}
	if _, err := f.engine.Release(testID(7), client, big.NewInt(1)); !errors.Is(err, ErrAgreementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestZeroAmountLifecycle(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.Create(testID(1), client, freelancer, big.NewInt(0)); err != nil {
		t.Fatalf("create zero: %v", err)
	}
	if _, err := f.engine.Approve(testID(1), freelancer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	agreement, err := f.engine.Release(testID(1), client, big.NewInt(0))
	if err != nil {
		t.Fatalf("release zero: %v", err)
	}
	if agreement.Amount.Sign() != 0 || !agreement.Handshake {
		t.Fatalf("unexpected agreement %+v", agreement)
	}
}

func TestCustodyInvariantAcrossAgreements(t *testing.T) {
	f := newFixture(t)
	f.create(t, testID(1), 100)
	f.create(t, testID(2), 200)
	f.allow(t, client, 50)
	if _, err := f.engine.AddFunds(testID(2), client, big.NewInt(50)); err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if _, err := f.engine.Approve(testID(2), freelancer); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := f.engine.Release(testID(2), client, big.NewInt(120)); err != nil {
		t.Fatalf("release: %v", err)
	}
	total, count, err := f.engine.Escrowed()
	if err != nil {
		t.Fatalf("escrowed: %v", err)
	}
	if count != 2 || total.Int64() != 230 {
		t.Fatalf("expected 2 agreements holding 230, got %d holding %s", count, total)
	}
	f.assertCustody(t)

	list, err := f.engine.List()
	if err != nil || len(list) != 2 || list[0].ID != testID(1) {
		t.Fatalf("list order: %v", err)
	}
}
