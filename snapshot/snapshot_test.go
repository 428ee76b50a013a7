package snapshot

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ka1ii/developer-challenge/native/escrow"
)

type staticSource struct {
	agreements []*escrow.Agreement
	err        error
}

func (s staticSource) EscrowList() ([]*escrow.Agreement, error) {
	return s.agreements, s.err
}

func sampleAgreements() []*escrow.Agreement {
	return []*escrow.Agreement{
		{ID: [32]byte{0x01}, Client: [20]byte{0x01}, Freelancer: [20]byte{0x02}, Amount: big.NewInt(60), CreatedAt: 100, UpdatedAt: 120},
		{ID: [32]byte{0x02}, Client: [20]byte{0x03}, Freelancer: [20]byte{0x02}, Amount: new(big.Int).Lsh(big.NewInt(1), 100), Handshake: true, CreatedAt: 130, UpdatedAt: 130},
	}
}

func TestWriteAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agreements.parquet")
	var records []Record
	for _, agreement := range sampleAgreements() {
		records = append(records, FromAgreement(agreement))
	}
	if err := WriteFile(path, records); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	for i := range records {
		if got[i] != records[i] {
			t.Fatalf("record %d: expected %+v, got %+v", i, records[i], got[i])
		}
	}
	if got[1].Amount != "1267650600228229401496703205376" {
		t.Fatalf("large amount not preserved: %s", got[1].Amount)
	}
}

func TestExportWritesTimestampedSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	fixed := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	exporter, err := NewExporter(Config{Source: staticSource{agreements: sampleAgreements()}, Dir: dir, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	result, err := exporter.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(result.Path) != "agreements-20240501T123000Z.parquet" {
		t.Fatalf("unexpected snapshot name %s", result.Path)
	}
	want := new(big.Int).Add(big.NewInt(60), new(big.Int).Lsh(big.NewInt(1), 100))
	if result.Agreements != 2 || result.Escrowed.Cmp(want) != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(result.Path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
	records, err := ReadFile(result.Path)
	if err != nil || len(records) != 2 {
		t.Fatalf("read back: %d records, err=%v", len(records), err)
	}
}

func TestExportPropagatesSourceErrors(t *testing.T) {
	exporter, err := NewExporter(Config{Source: staticSource{err: errors.New("boom")}, Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if _, err := exporter.Export(context.Background()); err == nil {
		t.Fatalf("expected export error")
	}
	if _, err := NewExporter(Config{Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected error without source")
	}
}

func TestSchedulerRunsExports(t *testing.T) {
	dir := t.TempDir()
	exporter, err := NewExporter(Config{Source: staticSource{agreements: sampleAgreements()}, Dir: dir})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if _, err := NewScheduler(exporter, "not a schedule"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
	scheduler, err := NewScheduler(exporter, "@every 1s")
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		matches, _ := filepath.Glob(filepath.Join(dir, "agreements-*.parquet"))
		if len(matches) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no scheduled snapshot written")
		}
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
