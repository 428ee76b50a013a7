package otel

import (
	"context"
	"testing"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), Config{Traces: true}); err == nil {
		t.Fatalf("expected error without service name")
	}
}

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders("authorization=Bearer abc, x-team = ledger ,broken,=empty")
	if len(headers) != 2 {
		t.Fatalf("expected 2 headers, got %v", headers)
	}
	if headers["authorization"] != "Bearer abc" || headers["x-team"] != "ledger" {
		t.Fatalf("unexpected headers %v", headers)
	}
}

func TestSamplerHonoursRatio(t *testing.T) {
	if got := sampler(0).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("zero ratio should sample everything, got %s", got)
	}
	if got := sampler(1).Description(); got != "AlwaysOnSampler" {
		t.Fatalf("ratio 1 should sample everything, got %s", got)
	}
	if got := sampler(0.25).Description(); got != "TraceIDRatioBased{0.25}" {
		t.Fatalf("unexpected sampler %s", got)
	}
}
