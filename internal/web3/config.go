package web3

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions 对应 chains.yaml 的结构。
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains" json:"chains"`
}

// ChainDefinition 描述一条链的端点与元数据，网络名即 agent 的 network_id。
type ChainDefinition struct {
	Type         string `yaml:"type" json:"type"`
	ChainID      int64  `yaml:"chain_id" json:"chain_id"`
	RPCURL       string `yaml:"rpc_url" json:"-"`
	NativeSymbol string `yaml:"native_symbol" json:"native_symbol"`
	ExplorerURL  string `yaml:"explorer_url" json:"explorer_url,omitempty"`
	Testnet      bool   `yaml:"testnet" json:"testnet"`
	Description  string `yaml:"description" json:"description,omitempty"`
}

// LoadChainDefinitions 解析链配置文件，路径为空时返回空定义。
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions 从 YAML 内容解析链配置。
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Names 按字母序返回网络名。
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Find 按网络名或链 ID 查找，名称匹配不区分大小写。
func (d ChainDefinitions) Find(query string) (string, ChainDefinition, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	for _, name := range d.Names() {
		def := d.Chains[name]
		if strings.ToLower(name) == q || fmt.Sprint(def.ChainID) == q {
			return name, def, true
		}
	}
	return "", ChainDefinition{}, false
}
