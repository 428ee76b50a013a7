package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
	"github.com/ka1ii/developer-challenge/storage"
)

var (
	operator   = [20]byte{0xEE}
	client     = [20]byte{0x01}
	freelancer = [20]byte{0x02}
)

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	if db == nil {
		db = storage.NewMemDB()
	}
	node, err := NewNode(db, operator, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	if _, err := node.InitGenesis(Genesis{Name: "Coin", Symbol: "COIN", Decimals: 18, InitialSupply: big.NewInt(1000)}); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if err := node.TokenTransfer(operator, client, big.NewInt(500)); err != nil {
		t.Fatalf("fund client: %v", err)
	}
	return node
}

func balanceOf(t *testing.T, node *Node, owner [20]byte) int64 {
	t.Helper()
	bal, err := node.TokenBalance(owner)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal.Int64()
}

func TestGenesisIsIdempotent(t *testing.T) {
	node := newTestNode(t, nil)
	created, err := node.InitGenesis(Genesis{Name: "Coin", Symbol: "COIN", Decimals: 18, InitialSupply: big.NewInt(1000)})
	if err != nil || created {
		t.Fatalf("expected no-op genesis, created=%v err=%v", created, err)
	}
	if got := balanceOf(t, node, operator); got != 500 {
		t.Fatalf("genesis minted twice: operator holds %d", got)
	}
	meta, err := node.TokenMetadata()
	if err != nil || meta.TotalSupply.Int64() != 1000 {
		t.Fatalf("unexpected metadata %+v err=%v", meta, err)
	}
	if _, err := node.InitGenesis(Genesis{Name: "Other", Symbol: "OTH", Decimals: 6}); !errors.Is(err, token.ErrMetadataConflict) {
		t.Fatalf("expected metadata conflict, got %v", err)
	}
}

func TestEscrowLifecycleThroughNode(t *testing.T) {
	node := newTestNode(t, nil)
	id := [32]byte{0x42}
	vault := node.EscrowVault()

	if err := node.TokenApprove(client, vault, big.NewInt(50)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate(id, client, freelancer, big.NewInt(50)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := node.EscrowAddFunds(id, client, big.NewInt(10)); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("expected insufficient allowance, got %v", err)
	}
	current, _ := node.TokenAllowance(client, vault)
	if err := node.TokenApprove(client, vault, new(big.Int).Add(current, big.NewInt(10))); err != nil {
		t.Fatalf("top up: %v", err)
	}
	agreement, err := node.EscrowAddFunds(id, client, big.NewInt(10))
	if err != nil {
		t.Fatalf("add funds: %v", err)
	}
	if agreement.Amount.Int64() != 60 {
		t.Fatalf("expected 60 escrowed, got %s", agreement.Amount)
	}
	if _, err := node.EscrowRelease(id, client, big.NewInt(1)); !errors.Is(err, escrow.ErrNotHandshaked) {
		t.Fatalf("expected not handshaked, got %v", err)
	}
	if _, err := node.EscrowApprove(id, freelancer); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if _, err := node.EscrowRelease(id, client, big.NewInt(45)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := balanceOf(t, node, freelancer); got != 45 {
		t.Fatalf("freelancer expected 45, got %d", got)
	}

	custody, err := node.EscrowCustody()
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if !custody.Balanced() || custody.Escrowed.Int64() != 15 || custody.Agreements != 1 {
		t.Fatalf("unexpected custody %+v", custody)
	}
}

func TestTokenOperationsCannotMoveVaultFunds(t *testing.T) {
	node := newTestNode(t, nil)
	id := [32]byte{0x07}
	vault := node.EscrowVault()
	attacker := [20]byte{0x66}

	if err := node.TokenApprove(client, vault, big.NewInt(100)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate(id, client, freelancer, big.NewInt(60)); err != nil {
		t.Fatalf("create: %v", err)
	}

	attempts := map[string]error{
		"transfer from vault":       node.TokenTransfer(vault, attacker, big.NewInt(60)),
		"transfer into vault":       node.TokenTransfer(client, vault, big.NewInt(10)),
		"transferFrom as vault":     node.TokenTransferFrom(vault, client, attacker, big.NewInt(40)),
		"transferFrom out of vault": node.TokenTransferFrom(attacker, vault, attacker, big.NewInt(1)),
		"approve as vault":          node.TokenApprove(vault, attacker, big.NewInt(60)),
		"mint to vault":             node.TokenMint(vault, big.NewInt(5)),
	}
	for name, err := range attempts {
		if !errors.Is(err, ErrVaultAccount) {
			t.Fatalf("%s: expected vault rejection, got %v", name, err)
		}
	}
	if Outcome(ErrVaultAccount) != "vault_account" {
		t.Fatalf("unexpected outcome %q", Outcome(ErrVaultAccount))
	}
	if _, err := node.EscrowCreate([32]byte{0x08}, client, vault, big.NewInt(0)); !errors.Is(err, escrow.ErrInvalidParty) {
		t.Fatalf("expected invalid party for vault freelancer, got %v", err)
	}

	if got := balanceOf(t, node, attacker); got != 0 {
		t.Fatalf("attacker received %d", got)
	}
	allowance, _ := node.TokenAllowance(client, vault)
	if allowance.Int64() != 40 {
		t.Fatalf("client allowance to vault changed: %s", allowance)
	}
	custody, err := node.EscrowCustody()
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if !custody.Balanced() || custody.Escrowed.Int64() != 60 {
		t.Fatalf("custody out of balance: %+v", custody)
	}
}

func TestFailedOperationWritesNothing(t *testing.T) {
	node := newTestNode(t, nil)
	id := [32]byte{0x01}
	vault := node.EscrowVault()
	if err := node.TokenApprove(client, vault, big.NewInt(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate(id, client, freelancer, big.NewInt(10_000)); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	agreement, err := node.EscrowGet(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agreement.Exists() {
		t.Fatalf("failed create left an agreement behind")
	}
	allowance, _ := node.TokenAllowance(client, vault)
	if allowance.Int64() != 10_000 {
		t.Fatalf("failed create consumed allowance: %s", allowance)
	}
	list, _ := node.EscrowList()
	if len(list) != 0 {
		t.Fatalf("failed create indexed an agreement")
	}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	node := newTestNode(t, nil)
	updates, cancel, backlog := node.Events().Subscribe(context.Background(), "")
	defer cancel()
	before := len(backlog)

	if _, err := node.EscrowApprove([32]byte{0x99}, freelancer); !errors.Is(err, escrow.ErrAgreementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := node.TokenApprove(client, node.EscrowVault(), big.NewInt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate([32]byte{0x01}, client, freelancer, big.NewInt(5)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var seen []string
	for len(seen) < 3 {
		update := <-updates
		seen = append(seen, update.Event.Type)
	}
	want := []string{token.EventTypeApproval, token.EventTypeTransfer, escrow.EventTypeAgreementCreated}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if before == 0 {
		t.Fatalf("expected genesis events in backlog")
	}
}

func TestConcurrentFundingKeepsCustodyBalanced(t *testing.T) {
	node := newTestNode(t, nil)
	vault := node.EscrowVault()
	if err := node.TokenApprove(client, vault, big.NewInt(500)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate([32]byte{0x01}, client, freelancer, big.NewInt(0)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = node.EscrowAddFunds([32]byte{0x01}, client, big.NewInt(10))
		}()
	}
	wg.Wait()

	agreement, _ := node.EscrowGet([32]byte{0x01})
	if agreement.Amount.Int64() != 200 {
		t.Fatalf("expected 200 escrowed, got %s", agreement.Amount)
	}
	custody, err := node.EscrowCustody()
	if err != nil || !custody.Balanced() {
		t.Fatalf("custody unbalanced: %+v err=%v", custody, err)
	}
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	node := newTestNode(t, db)
	if err := node.TokenApprove(client, node.EscrowVault(), big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := node.EscrowCreate([32]byte{0x07}, client, freelancer, big.NewInt(30)); err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	restarted, err := NewNode(reopened, operator, nil)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	agreement, err := restarted.EscrowGet([32]byte{0x07})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if agreement.Client != client || agreement.Amount.Int64() != 30 {
		t.Fatalf("agreement not persisted: %+v", agreement)
	}
	if got := balanceOf(t, restarted, client); got != 470 {
		t.Fatalf("client balance not persisted: %d", got)
	}
}
