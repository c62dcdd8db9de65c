package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/backends"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"AgentHub/internal/web3"
)

const transferGasLimit = 21000

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Notes   string
}

// Client implements web3.Client for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	backend   bind.ContractBackend
	chainID   *big.Int
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %s 未配置 RPC 地址", cfg.Name)
	}
	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %s 节点失败: %w", cfg.Name, err)
	}
	eth := ethclient.NewClient(rpcClient)

	var chainID *big.Int
	if cfg.ChainID > 0 {
		chainID = big.NewInt(cfg.ChainID)
	}
	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       eth,
		backend:   eth,
		chainID:   chainID,
	}, nil
}

// NewSimulatedClient wraps a go-ethereum simulated backend for tests.
func NewSimulatedClient(name string, chainID *big.Int, backend *backends.SimulatedBackend) *Client {
	return &Client{
		name:    name,
		backend: backend,
		chainID: new(big.Int).Set(chainID),
		notes:   "simulated backend",
	}
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// FetchChainSnapshot gathers the chain id and head block.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.backend == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, err
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	return web3.ChainSnapshot{
		Name:        c.name,
		ChainID:     toHexBig(chainID),
		BlockNumber: toHexBig(head.Number),
		Notes:       c.notes,
	}, nil
}

// BalanceAt returns the latest native balance of address in wei.
func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	backend, ok := c.backend.(interface {
		BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error)
	})
	if !ok {
		return nil, errors.New("当前客户端不支持余额查询")
	}
	balance, err := backend.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// Transfer signs and broadcasts an EIP-1559 value transfer.
func (c *Client) Transfer(ctx context.Context, key *ecdsa.PrivateKey, to common.Address, amountWei *big.Int) (common.Hash, error) {
	if key == nil {
		return common.Hash{}, errors.New("未提供签名私钥")
	}
	if amountWei == nil || amountWei.Sign() <= 0 {
		return common.Hash{}, errors.New("转账金额必须大于 0")
	}
	chainID, err := c.resolveChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("查询 nonce 失败: %w", err)
	}
	tip, err := c.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("估算小费失败: %w", err)
	}
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取最新区块失败: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       transferGasLimit,
		To:        &to,
		Value:     amountWei,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("广播交易失败: %w", err)
	}
	if sim, ok := c.backend.(*backends.SimulatedBackend); ok {
		sim.Commit()
	}
	return signed.Hash(), nil
}

func (c *Client) resolveChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	if c.eth == nil {
		return nil, errors.New("未配置链 ID")
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	c.chainID = id
	return id, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
