// Package wallet provisions and unlocks the on-chain wallets bound to agents.
// Wallet material is created at most once per agent and is persisted through
// the agent store before any handle to it is handed out.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"AgentHub/internal/agentstore"
	xerrors "AgentHub/internal/errors"
	"AgentHub/pkg/logger"
)

// UnknownAddress 是钱包开通失败时在通知中展示的地址占位符。
const UnknownAddress = "unknown"

// Material 是持久化在 AgentData.WalletData 中的钱包材料。
type Material struct {
	AccountData      json.RawMessage `json:"account_data,omitempty"`
	DefaultAddressID string          `json:"default_address_id"`
	NetworkID        string          `json:"network_id"`
}

// ParseMaterial 解析已保存的钱包材料。
func ParseMaterial(raw json.RawMessage) (Material, error) {
	var m Material
	if err := json.Unmarshal(raw, &m); err != nil {
		return Material{}, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "钱包材料无法解析")
	}
	if len(m.AccountData) == 0 || !common.IsHexAddress(m.DefaultAddressID) {
		return Material{}, xerrors.New(xerrors.CodeConfigInvalid, "钱包材料不完整")
	}
	return m, nil
}

// Placeholder 返回开通失败时用于通知的材料，不会被持久化。
func Placeholder(network string) Material {
	return Material{DefaultAddressID: UnknownAddress, NetworkID: network}
}

// KeyService 是外部密钥管理服务。
type KeyService interface {
	CreateAccount(ctx context.Context, networkID string) (Material, error)
	PrivateKey(m Material) (*ecdsa.PrivateKey, error)
}

// Handle 是可交给工具使用的钱包句柄。
type Handle struct {
	material Material
	keys     KeyService
}

// NewHandle 基于已保存的材料构造句柄。
func NewHandle(m Material, keys KeyService) *Handle {
	return &Handle{material: m, keys: keys}
}

func (h *Handle) Address() common.Address { return common.HexToAddress(h.material.DefaultAddressID) }
func (h *Handle) Network() string         { return h.material.NetworkID }
func (h *Handle) Material() Material      { return h.material }

// PrivateKey 解锁签名私钥。
func (h *Handle) PrivateKey() (*ecdsa.PrivateKey, error) {
	return h.keys.PrivateKey(h.material)
}

// DataStore 是 Provisioner 依赖的 agent 状态存储。
type DataStore interface {
	GetData(ctx context.Context, id string) (*agentstore.AgentData, error)
	SetData(ctx context.Context, id string, patch agentstore.DataPatch) (*agentstore.AgentData, error)
}

// Provisioner 负责为 agent 复用或开通钱包。
type Provisioner struct {
	keys           KeyService
	store          DataStore
	defaultNetwork string
	group          singleflight.Group
	log            *slog.Logger
}

// NewProvisioner 创建 Provisioner。
func NewProvisioner(keys KeyService, store DataStore, defaultNetwork string) *Provisioner {
	return &Provisioner{
		keys:           keys,
		store:          store,
		defaultNetwork: defaultNetwork,
		log:            logger.Named("wallet"),
	}
}

// Network 返回 agent 使用的网络。
func (p *Provisioner) Network(agent *agentstore.Agent) string {
	return agent.Network(p.defaultNetwork)
}

// Ensure 返回 agent 的钱包句柄。已有材料时直接复用，绝不重新开通；
// 否则调用密钥服务一次，先持久化材料再返回句柄。同一 agent 的并发调用合并为一次。
func (p *Provisioner) Ensure(ctx context.Context, agent *agentstore.Agent) (*Handle, error) {
	if agent == nil || agent.ID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	v, err, _ := p.group.Do(agent.ID, func() (any, error) {
		return p.ensure(ctx, agent)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (p *Provisioner) ensure(ctx context.Context, agent *agentstore.Agent) (*Handle, error) {
	data, err := p.store.GetData(ctx, agent.ID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 agent 状态失败")
	}
	if data.HasWallet() {
		material, err := ParseMaterial(data.WalletData)
		if err != nil {
			return nil, err
		}
		return NewHandle(material, p.keys), nil
	}

	network := p.Network(agent)
	material, err := p.keys.CreateAccount(ctx, network)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "开通钱包失败",
			xerrors.WithMetadata("agent_id", agent.ID), xerrors.WithMetadata("network_id", network))
	}
	if strings.TrimSpace(material.NetworkID) == "" {
		material.NetworkID = network
	}
	raw, err := json.Marshal(material)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "序列化钱包材料失败")
	}
	// 材料落盘失败时不能暴露句柄，否则资金可能转入一个无法恢复的地址。
	if _, err := p.store.SetData(ctx, agent.ID, agentstore.DataPatch{WalletData: raw}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存钱包材料失败",
			xerrors.WithMetadata("agent_id", agent.ID), xerrors.WithAlert(true))
	}
	p.log.Info("已为 agent 开通钱包",
		slog.String("agent_id", agent.ID),
		slog.String("address", material.DefaultAddressID),
		slog.String("network_id", material.NetworkID))
	logger.Audit().Info("wallet_provisioned",
		slog.String("agent_id", agent.ID),
		slog.String("address", material.DefaultAddressID))
	return NewHandle(material, p.keys), nil
}
