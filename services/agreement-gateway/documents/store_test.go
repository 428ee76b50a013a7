package documents

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	store, err := New(db)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSaveAndGet(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	doc := Document{CID: "0x01", Title: "Logo", Body: "Design a logo", ClientUsername: "alice", ClientAddress: "mkt1a", FreelancerUsername: "bob", FreelancerAddress: "mkt1b"}
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Get(ctx, "0x01")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "Logo" || got.FreelancerUsername != "bob" {
		t.Fatalf("unexpected document %+v", got)
	}

	missing, err := store.Get(ctx, "0x02")
	if err != nil || missing != nil {
		t.Fatalf("expected no document, got %+v err=%v", missing, err)
	}
}

func TestSaveKeepsFirstDocument(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, Document{CID: "0x01", Title: "First", Body: "a", ClientAddress: "x", FreelancerAddress: "y"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, Document{CID: "0x01", Title: "Second", Body: "b", ClientAddress: "x", FreelancerAddress: "y"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, _ := store.Get(ctx, "0x01")
	if got.Title != "First" {
		t.Fatalf("document overwritten: %+v", got)
	}
	if err := store.Save(ctx, Document{}); err == nil {
		t.Fatalf("expected error for empty cid")
	}
}

func TestListForUserFiltersByRole(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	docs := []Document{
		{CID: "0x01", Title: "a", Body: "a", ClientUsername: "alice", ClientAddress: "x", FreelancerUsername: "bob", FreelancerAddress: "y", CreatedAt: base},
		{CID: "0x02", Title: "b", Body: "b", ClientUsername: "bob", ClientAddress: "y", FreelancerUsername: "alice", FreelancerAddress: "x", CreatedAt: base.Add(time.Minute)},
		{CID: "0x03", Title: "c", Body: "c", ClientUsername: "carol", ClientAddress: "z", FreelancerUsername: "bob", FreelancerAddress: "y", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, doc := range docs {
		if err := store.Save(ctx, doc); err != nil {
			t.Fatalf("save %s: %v", doc.CID, err)
		}
	}

	cases := []struct {
		user string
		role Role
		want []string
	}{
		{"alice", RoleAny, []string{"0x01", "0x02"}},
		{"alice", RoleClient, []string{"0x01"}},
		{"alice", RoleFreelancer, []string{"0x02"}},
		{"bob", RoleFreelancer, []string{"0x01", "0x03"}},
		{"dave", RoleAny, nil},
	}
	for _, tc := range cases {
		got, err := store.ListForUser(ctx, tc.user, tc.role)
		if err != nil {
			t.Fatalf("list %s/%s: %v", tc.user, tc.role, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("list %s/%s: expected %v, got %d documents", tc.user, tc.role, tc.want, len(got))
		}
		for i := range tc.want {
			if got[i].CID != tc.want[i] {
				t.Fatalf("list %s/%s[%d]: expected %s, got %s", tc.user, tc.role, i, tc.want[i], got[i].CID)
			}
		}
	}
}

func TestParseRole(t *testing.T) {
	for input, want := range map[string]Role{"": RoleAny, "client": RoleClient, " Freelancer ": RoleFreelancer} {
		got, err := ParseRole(input)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", input, got, err)
		}
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
