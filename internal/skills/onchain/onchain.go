// Package onchain exposes the agent's own wallet to the model: address
// details, native balances and native token transfers.
package onchain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/wallet"
	"AgentHub/internal/web3"
)

// Category 是技能分类名。
const Category = "wallet"

const (
	SkillWalletDetails = "get_wallet_details"
	SkillBalance       = "get_balance"
	SkillTransfer      = "transfer"
)

var weiPerEther = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Chains 按网络名返回链客户端，由 provider.Registry 实现。
type Chains interface {
	Client(ctx context.Context, network string) (web3.Client, error)
}

// NewCategory 返回钱包技能分类。
func NewCategory(chains Chains) skill.Category {
	return skill.Category{
		Name:           Category,
		Skills:         []string{SkillWalletDetails, SkillBalance, SkillTransfer},
		RequiresWallet: true,
		New: func(name string, env skill.Env) (skill.Tool, error) {
			if env.Wallet == nil {
				return nil, xerrors.New(xerrors.CodeConfigInvalid, "钱包未开通")
			}
			t := &tools{chains: chains, wallet: env.Wallet}
			switch name {
			case SkillWalletDetails:
				return skill.NewTool(SkillWalletDetails,
					"Get details about the agent's wallet: address, network and native balance.", t.details), nil
			case SkillBalance:
				return skill.NewTool(SkillBalance,
					"Get the native token balance of an address. Defaults to the agent's own wallet.", t.balance), nil
			case SkillTransfer:
				return skill.NewTool(SkillTransfer,
					"Transfer native tokens from the agent's wallet to another address.", t.transfer), nil
			}
			return nil, xerrors.New(skill.CodeSkillUnknown, "未知的钱包技能 "+name)
		},
	}
}

type tools struct {
	chains Chains
	wallet *wallet.Handle
}

type detailsResult struct {
	Address    string `json:"address"`
	NetworkID  string `json:"network_id"`
	ChainID    string `json:"chain_id,omitempty"`
	BalanceWei string `json:"balance_wei"`
	Balance    string `json:"balance"`
}

func (t *tools) details(ctx context.Context, _ skill.NoArgs) (string, error) {
	client, err := t.chains.Client(ctx, t.wallet.Network())
	if err != nil {
		return "", err
	}
	bal, err := client.BalanceAt(ctx, t.wallet.Address())
	if err != nil {
		return "", err
	}
	res := detailsResult{
		Address:    t.wallet.Address().Hex(),
		NetworkID:  t.wallet.Network(),
		BalanceWei: bal.String(),
		Balance:    FormatEther(bal),
	}
	if snap, err := client.FetchChainSnapshot(ctx); err == nil {
		res.ChainID = snap.ChainID
	}
	return skill.JSON(res)
}

type balanceArgs struct {
	Address string `json:"address,omitempty" jsonschema_description:"Address to query, defaults to the agent wallet"`
}

func (t *tools) balance(ctx context.Context, args balanceArgs) (string, error) {
	addr := t.wallet.Address()
	if s := strings.TrimSpace(args.Address); s != "" {
		if !common.IsHexAddress(s) {
			return "", xerrors.New(xerrors.CodeInvalidArgument, "无效的地址 "+s)
		}
		addr = common.HexToAddress(s)
	}
	client, err := t.chains.Client(ctx, t.wallet.Network())
	if err != nil {
		return "", err
	}
	bal, err := client.BalanceAt(ctx, addr)
	if err != nil {
		return "", err
	}
	return skill.JSON(map[string]string{
		"address":     addr.Hex(),
		"balance_wei": bal.String(),
		"balance":     FormatEther(bal),
	})
}

type transferArgs struct {
	To     string `json:"to" jsonschema:"required" jsonschema_description:"Recipient address"`
	Amount string `json:"amount" jsonschema:"required" jsonschema_description:"Amount in whole native tokens, e.g. 0.01"`
}

func (t *tools) transfer(ctx context.Context, args transferArgs) (string, error) {
	if !common.IsHexAddress(args.To) {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "无效的收款地址 "+args.To)
	}
	amount, err := ParseEther(args.Amount)
	if err != nil {
		return "", err
	}
	key, err := t.wallet.PrivateKey()
	if err != nil {
		return "", err
	}
	client, err := t.chains.Client(ctx, t.wallet.Network())
	if err != nil {
		return "", err
	}
	hash, err := client.Transfer(ctx, key, common.HexToAddress(args.To), amount)
	if err != nil {
		return "", err
	}
	return skill.JSON(map[string]string{
		"tx_hash":    hash.Hex(),
		"from":       t.wallet.Address().Hex(),
		"to":         common.HexToAddress(args.To).Hex(),
		"amount_wei": amount.String(),
		"network_id": t.wallet.Network(),
	})
}

// ParseEther 将十进制的代币数量转换为 wei，精度超过 18 位小数时报错。
func ParseEther(amount string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(amount))
	if !ok || r.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("无效的转账数量 %q", amount))
	}
	r.Mul(r, weiPerEther)
	if !r.IsInt() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("转账数量 %q 超出 18 位小数精度", amount))
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther 将 wei 格式化为去除尾随零的十进制字符串。
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	s := new(big.Rat).SetFrac(wei, weiPerEther.Num()).FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
