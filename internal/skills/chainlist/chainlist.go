// Package chainlist answers chain metadata questions from the configured
// chain definitions.
package chainlist

import (
	"context"
	"strings"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/web3"
)

const (
	Category    = "chainlist"
	SkillLookup = "lookup_chain"
)

type lookupArgs struct {
	Query string `json:"query,omitempty" jsonschema_description:"Network name or numeric chain id; empty lists every configured chain"`
}

type chainInfo struct {
	Network      string `json:"network"`
	ChainID      int64  `json:"chain_id"`
	NativeSymbol string `json:"native_symbol,omitempty"`
	ExplorerURL  string `json:"explorer_url,omitempty"`
	Testnet      bool   `json:"testnet"`
	Description  string `json:"description,omitempty"`
}

func info(name string, def web3.ChainDefinition) chainInfo {
	return chainInfo{
		Network:      name,
		ChainID:      def.ChainID,
		NativeSymbol: def.NativeSymbol,
		ExplorerURL:  def.ExplorerURL,
		Testnet:      def.Testnet,
		Description:  def.Description,
	}
}

// NewCategory 返回链信息技能分类，RPC 地址不会暴露给模型。
func NewCategory(defs web3.ChainDefinitions) skill.Category {
	return skill.Category{
		Name:      Category,
		Skills:    []string{SkillLookup},
		Stateless: true,
		New: func(string, skill.Env) (skill.Tool, error) {
			return skill.NewTool(SkillLookup,
				"Look up EVM chain metadata such as chain id, native token and explorer by network name or chain id.",
				func(_ context.Context, args lookupArgs) (string, error) {
					if strings.TrimSpace(args.Query) == "" {
						out := make([]chainInfo, 0, len(defs.Chains))
						for _, name := range defs.Names() {
							out = append(out, info(name, defs.Chains[name]))
						}
						return skill.JSON(out)
					}
					name, def, ok := defs.Find(args.Query)
					if !ok {
						return "", xerrors.New(xerrors.CodeNotFound, "未找到链 "+args.Query)
					}
					return skill.JSON(info(name, def))
				}), nil
		},
	}
}
