package ethereum

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentHub/internal/web3"
)

func TestClientBalanceAndTransfer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	chainID := big.NewInt(1337)
	oneEther := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

	alloc := core.GenesisAlloc{from: {Balance: new(big.Int).Mul(oneEther, big.NewInt(10))}}
	backend := backends.NewSimulatedBackend(alloc, 8_000_000)
	client := NewSimulatedClient("simulated", chainID, backend)
	t.Cleanup(client.Close)

	snapshot, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if snapshot.ChainID != "0x539" || snapshot.Name != "simulated" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}

	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	hash, err := client.Transfer(ctx, key, to, oneEther)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	receipt, err := backend.TransactionReceipt(ctx, hash)
	if err != nil || receipt.Status != 1 {
		t.Fatalf("transfer not mined: %+v %v", receipt, err)
	}

	balance, err := client.BalanceAt(ctx, to)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(oneEther) != 0 {
		t.Fatalf("unexpected recipient balance %s", balance)
	}

	after, err := client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if after.BlockNumber == snapshot.BlockNumber {
		t.Fatal("expected block number to advance after transfer")
	}
}

func TestTransferValidation(t *testing.T) {
	client := &Client{chainID: big.NewInt(1)}
	if _, err := client.Transfer(context.Background(), nil, common.Address{}, big.NewInt(1)); err == nil {
		t.Fatal("expected error without key")
	}
	key, _ := crypto.GenerateKey()
	if _, err := client.Transfer(context.Background(), key, common.Address{}, big.NewInt(0)); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

var _ web3.Client = (*Client)(nil)
