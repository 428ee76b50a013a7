package main

import (
	"math/big"
	"testing"

	"github.com/ka1ii/developer-challenge/config"
	"github.com/ka1ii/developer-challenge/core"
	"github.com/ka1ii/developer-challenge/storage"
)

func TestGenesisFromConfigSeedsOperator(t *testing.T) {
	genesis, err := genesisFromConfig(config.Default().Token)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if genesis.Symbol != "COIN" || genesis.Decimals != 18 || genesis.InitialSupply.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unexpected genesis %+v", genesis)
	}

	operator := [20]byte{0xAA}
	node, err := core.NewNode(storage.NewMemDB(), operator, nil)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	created, err := node.InitGenesis(genesis)
	if err != nil || !created {
		t.Fatalf("first genesis: created=%v err=%v", created, err)
	}
	created, err = node.InitGenesis(genesis)
	if err != nil || created {
		t.Fatalf("repeat genesis should be a no-op: created=%v err=%v", created, err)
	}
	balance, err := node.TokenBalance(operator)
	if err != nil || balance.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("operator balance %v, err=%v", balance, err)
	}
}

func TestGenesisFromConfigRejectsBadSupply(t *testing.T) {
	tok := config.Default().Token
	tok.InitialSupply = "-5"
	if _, err := genesisFromConfig(tok); err == nil {
		t.Fatalf("expected invalid supply error")
	}
}

func TestResolveAuthToken(t *testing.T) {
	env := map[string]string{"MARKET_RPC_TOKEN": "  secret \n"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	if got := resolveAuthToken("MARKET_RPC_TOKEN", lookup); got != "secret" {
		t.Fatalf("expected trimmed token, got %q", got)
	}
	if got := resolveAuthToken("MISSING", lookup); got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
	if got := resolveAuthToken("", lookup); got != "" {
		t.Fatalf("expected empty token without env name, got %q", got)
	}
}
