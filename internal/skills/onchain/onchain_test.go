package onchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentHub/internal/skill"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3"
)

type stubKeys struct{ key *ecdsa.PrivateKey }

func (s stubKeys) CreateAccount(context.Context, string) (wallet.Material, error) {
	return wallet.Material{}, nil
}
func (s stubKeys) PrivateKey(wallet.Material) (*ecdsa.PrivateKey, error) { return s.key, nil }

type stubChain struct {
	balances map[common.Address]*big.Int
	sent     *big.Int
	to       common.Address
}

func (c *stubChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{Name: "base-sepolia", ChainID: "0x14a34"}, nil
}
func (c *stubChain) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := c.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}
func (c *stubChain) Transfer(_ context.Context, _ *ecdsa.PrivateKey, to common.Address, amount *big.Int) (common.Hash, error) {
	c.sent, c.to = amount, to
	return common.HexToHash("0x01"), nil
}
func (c *stubChain) Close() {}

type stubChains struct{ chain *stubChain }

func (s stubChains) Client(context.Context, string) (web3.Client, error) { return s.chain, nil }

func TestWalletTools(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)
	handle := wallet.NewHandle(wallet.Material{DefaultAddressID: addr.Hex(), NetworkID: "base-sepolia"}, stubKeys{key})
	chain := &stubChain{balances: map[common.Address]*big.Int{addr: big.NewInt(1_500_000_000_000_000_000)}}
	cat := NewCategory(stubChains{chain})

	details, err := cat.New(SkillWalletDetails, skill.Env{Wallet: handle})
	if err != nil {
		t.Fatalf("new details: %v", err)
	}
	out, err := details.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	var got detailsResult
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Address != addr.Hex() || got.Balance != "1.5" || got.ChainID != "0x14a34" {
		t.Fatalf("unexpected details %+v", got)
	}

	transfer, _ := cat.New(SkillTransfer, skill.Env{Wallet: handle})
	to := "0x00000000000000000000000000000000000000aa"
	if _, err := transfer.Invoke(context.Background(), json.RawMessage(`{"to":"`+to+`","amount":"0.25"}`)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if chain.sent.String() != "250000000000000000" || chain.to != common.HexToAddress(to) {
		t.Fatalf("unexpected transfer %s -> %s", chain.sent, chain.to.Hex())
	}
	if _, err := transfer.Invoke(context.Background(), json.RawMessage(`{"to":"nope","amount":"1"}`)); err == nil {
		t.Fatalf("expected invalid address error")
	}

	if _, err := cat.New(SkillBalance, skill.Env{}); err == nil {
		t.Fatalf("expected error without wallet")
	}
}

func TestParseEther(t *testing.T) {
	cases := map[string]string{"1": "1000000000000000000", "0.000000000000000001": "1", "2.5": "2500000000000000000"}
	for in, want := range cases {
		got, err := ParseEther(in)
		if err != nil || got.String() != want {
			t.Fatalf("ParseEther(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "-1", "0", "abc", "0.0000000000000000001"} {
		if _, err := ParseEther(bad); err == nil {
			t.Fatalf("ParseEther(%q) should fail", bad)
		}
	}
	if FormatEther(big.NewInt(0)) != "0" {
		t.Fatalf("FormatEther(0) = %s", FormatEther(big.NewInt(0)))
	}
}
