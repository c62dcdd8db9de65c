package provider

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/core"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
)

func TestRegistryResolvesRegisteredAndDefinedChains(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte(`
chains:
  base-sepolia:
    chain_id: 84532
    rpc_url: http://127.0.0.1:1
  solana:
    type: svm
    rpc_url: http://127.0.0.1:2
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := NewRegistry(defs)
	t.Cleanup(reg.Close)

	sim := ethereum.NewSimulatedClient("local", big.NewInt(1337), backends.NewSimulatedBackend(core.GenesisAlloc{}, 8_000_000))
	reg.Register("local", sim)

	ctx := context.Background()
	if got, err := reg.Client(ctx, "local"); err != nil || got != sim {
		t.Fatalf("registered client not returned: %v", err)
	}
	if _, err := reg.Client(ctx, "base-sepolia"); err != nil {
		t.Fatalf("dial defined chain: %v", err)
	}
	if _, err := reg.Client(ctx, "solana"); xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
	if _, err := reg.Client(ctx, "mainnet"); xerrors.CodeOf(err) != xerrors.CodeConfigInvalid {
		t.Fatalf("expected undefined network error, got %v", err)
	}
	if chains := reg.Chains(); len(chains) != 2 {
		t.Fatalf("unexpected chains: %v", chains)
	}
}

func TestChainDefinitionsFind(t *testing.T) {
	defs, err := web3.ParseChainDefinitions([]byte("chains:\n  Base-Mainnet:\n    chain_id: 8453\n    native_symbol: ETH\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name, def, ok := defs.Find("8453"); !ok || name != "Base-Mainnet" || def.NativeSymbol != "ETH" {
		t.Fatalf("find by id failed: %s %+v", name, def)
	}
	if _, _, ok := defs.Find("base-mainnet"); !ok {
		t.Fatalf("find by name should be case insensitive")
	}
}
