package state

import (
	"math/big"
	"testing"

	"github.com/ka1ii/developer-challenge/native/escrow"
	"github.com/ka1ii/developer-challenge/native/token"
	"github.com/ka1ii/developer-challenge/storage"
)

func TestManagerStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	owner := [20]byte{1}
	if err := m.SetTokenBalance(owner, big.NewInt(77)); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	got, err := m.TokenBalance(owner)
	if err != nil || got.Int64() != 77 {
		t.Fatalf("staged read: %v %v", got, err)
	}

	fresh := NewManager(db)
	got, _ = fresh.TokenBalance(owner)
	if got.Sign() != 0 {
		t.Fatalf("uncommitted write leaked: %s", got)
	}

	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if m.Dirty() != 0 {
		t.Fatalf("expected clean manager after commit")
	}
	got, _ = NewManager(db).TokenBalance(owner)
	if got.Int64() != 77 {
		t.Fatalf("expected committed balance, got %s", got)
	}
}

func TestManagerDiscardRollsBack(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	if err := m.SetTokenAllowance([20]byte{1}, [20]byte{2}, big.NewInt(5)); err != nil {
		t.Fatalf("set allowance: %v", err)
	}
	m.Discard()
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, _ := NewManager(db).TokenAllowance([20]byte{1}, [20]byte{2})
	if got.Sign() != 0 {
		t.Fatalf("discarded write persisted: %s", got)
	}
}

func TestTokenMetadataRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	if meta, err := m.TokenMetadata(); err != nil || meta != nil {
		t.Fatalf("expected no metadata, got %+v %v", meta, err)
	}
	if err := m.PutTokenMetadata(&token.Metadata{Name: "Coin", Symbol: "COIN", Decimals: 18, TotalSupply: big.NewInt(1000)}); err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	meta, err := m.TokenMetadata()
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta.Name != "Coin" || meta.Decimals != 18 || meta.TotalSupply.Int64() != 1000 {
		t.Fatalf("unexpected metadata %+v", meta)
	}
}

func TestAgreementStorageAndIndex(t *testing.T) {
	db := storage.NewMemDB()
	m := NewManager(db)
	ids := [][32]byte{{0xAA}, {0xBB}}
	for i, id := range ids {
		agreement := &escrow.Agreement{
			ID:         id,
			Client:     [20]byte{1},
			Freelancer: [20]byte{2},
			Amount:     big.NewInt(int64(100 * (i + 1))),
			CreatedAt:  1700,
			UpdatedAt:  1700,
		}
		if err := m.AgreementPut(agreement); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := m.AgreementIndexAppend(id); err != nil {
			t.Fatalf("index: %v", err)
		}
	}
	if err := m.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reader := NewManager(db)
	stored, ok, err := reader.AgreementGet(ids[1])
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if stored.Amount.Int64() != 200 || stored.Client != ([20]byte{1}) || stored.CreatedAt != 1700 {
		t.Fatalf("unexpected agreement %+v", stored)
	}
	if _, ok, _ := reader.AgreementGet([32]byte{0xCC}); ok {
		t.Fatalf("unknown id reported as stored")
	}
	list, err := reader.AgreementIDs()
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(list) != 2 || list[0] != ids[0] || list[1] != ids[1] {
		t.Fatalf("unexpected index %x", list)
	}
}
