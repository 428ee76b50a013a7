package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRPCObserveCountsErrors(t *testing.T) {
	m := RPC()
	before := testutil.ToFloat64(m.errors.WithLabelValues("escrow_release", "403"))
	m.Observe("escrow_release", 403, 5*time.Millisecond)
	after := testutil.ToFloat64(m.errors.WithLabelValues("escrow_release", "403"))
	if after-before != 1 {
		t.Fatalf("expected error counter to increase by 1, got %v", after-before)
	}
}

func TestLedgerCustodyGauge(t *testing.T) {
	m := Ledger()
	m.SetCustody(big.NewInt(1234), 3)
	if got := testutil.ToFloat64(m.custody); got != 1234 {
		t.Fatalf("expected custody 1234, got %v", got)
	}
	if got := testutil.ToFloat64(m.agreements); got != 3 {
		t.Fatalf("expected 3 agreements, got %v", got)
	}
}
