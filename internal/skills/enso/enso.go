// Package enso wraps the Enso routing API.
package enso

import (
	"context"
	"strconv"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/skills/httpjson"
)

const (
	Category        = "enso"
	SkillNetworks   = "get_networks"
	networksToolKey = "enso_get_networks"
	networksDataKey = "networks"
)

// Network 是 Enso 支持的网络。
type Network struct {
	ID          int64  `json:"id"`
	Name        string `json:"name,omitempty"`
	IsConnected bool   `json:"isConnected"`
}

// NewCategory 返回 Enso 技能分类。api_token 取自分类配置。
func NewCategory(baseURL string) skill.Category {
	return skill.Category{
		Name:   Category,
		Skills: []string{SkillNetworks},
		New: func(name string, env skill.Env) (skill.Tool, error) {
			token := env.Config.Option("api_token")
			if token == "" {
				return nil, xerrors.New(xerrors.CodeConfigInvalid, "Enso api_token 未配置")
			}
			client := httpjson.New("Enso", baseURL)
			client.Header.Set("Authorization", "Bearer "+token)
			t := &networksTool{client: client, agentID: env.AgentID, store: env.Store}
			return skill.NewTool(networksToolKey,
				"Retrieve networks supported by the Enso API, the output should be kept.", t.run), nil
		},
	}
}

type networksTool struct {
	client  *httpjson.Client
	agentID string
	store   skill.Store
}

func (t *networksTool) run(ctx context.Context, _ skill.NoArgs) (string, error) {
	var networks []Network
	if err := t.client.Get(ctx, "/networks", &networks); err != nil {
		return "", err
	}
	memory := make(map[string]any, len(networks))
	for _, n := range networks {
		memory[strconv.FormatInt(n.ID, 10)] = n
	}
	if t.store != nil {
		if err := t.store.SaveAgentSkillData(ctx, t.agentID, networksToolKey, networksDataKey, memory); err != nil {
			return "", err
		}
	}
	return skill.JSON(map[string]any{"res": networks})
}
