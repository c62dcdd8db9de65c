package agentstore

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	xerrors "AgentHub/internal/errors"
)

// ExportYAML 将 agent 渲染为 YAML。已配置分类中未声明的技能以 disabled 补全，方便用户编辑。
func ExportYAML(agent *Agent, catalog Catalog) ([]byte, error) {
	out := agent.Clone()
	for name, cfg := range out.Skills {
		known, ok := catalog.CategorySkills(name)
		if !ok {
			continue
		}
		if cfg.States == nil {
			cfg.States = make(map[string]SkillState, len(known))
		}
		for _, skill := range known {
			if _, ok := cfg.States[skill]; !ok {
				cfg.States[skill] = StateDisabled
			}
		}
		out.Skills[name] = cfg
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "导出 agent YAML 失败")
	}
	if err := enc.Close(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "导出 agent YAML 失败")
	}
	return buf.Bytes(), nil
}

// ImportYAML 解析 YAML 并返回覆盖后的 agent。身份、归属与时间戳沿用 existing。
func ImportYAML(existing *Agent, content []byte) (*Agent, error) {
	var imported Agent
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&imported); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 agent YAML 失败")
	}
	if imported.ID != "" && imported.ID != existing.ID {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("YAML 中的 id %q 与目标 agent %q 不一致", imported.ID, existing.ID))
	}
	imported.ID = existing.ID
	imported.Number = existing.Number
	imported.Owner = existing.Owner
	imported.CreatedAt = existing.CreatedAt
	imported.UpdatedAt = existing.UpdatedAt
	return &imported, nil
}
