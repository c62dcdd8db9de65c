package web3

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot 汇总链的基础信息。
type ChainSnapshot struct {
	Name        string `json:"name"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client 是 agent 钱包技能所需的链访问能力。
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceAt(ctx context.Context, address common.Address) (*big.Int, error)
	// Transfer 使用 key 签名并广播一笔原生代币转账，返回交易哈希。
	Transfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amountWei *big.Int) (common.Hash, error)
	Close()
}
