package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/web3"
	"AgentHub/internal/web3/ethereum"
)

// Registry 按网络名管理链客户端，客户端在首次使用时建立。
type Registry struct {
	mu      sync.Mutex
	defs    web3.ChainDefinitions
	clients map[string]web3.Client
}

// NewRegistry 基于链定义创建注册表。
func NewRegistry(defs web3.ChainDefinitions) *Registry {
	if defs.Chains == nil {
		defs.Chains = map[string]web3.ChainDefinition{}
	}
	return &Registry{defs: defs, clients: make(map[string]web3.Client)}
}

// Register 直接注册客户端，主要用于测试中的模拟链。
func (r *Registry) Register(name string, client web3.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
}

// Client 返回网络对应的客户端。
func (r *Registry) Client(ctx context.Context, network string) (web3.Client, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[network]; ok {
		return client, nil
	}
	def, ok := r.defs.Chains[network]
	if !ok {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("网络 %s 未在链配置中定义", network))
	}
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType != "" && chainType != "evm" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("网络 %s 使用了不支持的类型 %s", network, def.Type))
	}
	client, err := ethereum.NewClient(ctx, ethereum.Config{
		Name:    network,
		RPCURL:  def.RPCURL,
		ChainID: def.ChainID,
		Notes:   def.Description,
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "初始化链客户端失败")
	}
	r.clients[network] = client
	return client, nil
}

// Definitions 返回链定义。
func (r *Registry) Definitions() web3.ChainDefinitions {
	return r.defs
}

// Close 释放全部客户端。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains 返回已建立连接的网络名。
func (r *Registry) Chains() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
