package agentstore

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	xerrors "AgentHub/internal/errors"
)

// Catalog 提供已注册的技能分类及其技能列表，由技能注册表实现。
type Catalog interface {
	CategorySkills(category string) ([]string, bool)
}

var agentIDPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,66}$`)

// Validate 校验 agent 配置，返回的错误包含全部问题。
func Validate(agent *Agent, catalog Catalog) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}
	var problems []error
	if !agentIDPattern.MatchString(agent.ID) {
		problems = append(problems, fmt.Errorf("id %q 只能包含小写字母、数字与连字符，且以字母开头，最长 67 个字符", agent.ID))
	}
	if strings.TrimSpace(agent.Model) == "" {
		problems = append(problems, errors.New("model 不能为空"))
	}
	if agent.Temperature < 0 || agent.Temperature > 2 {
		problems = append(problems, fmt.Errorf("temperature %.2f 超出 [0, 2]", agent.Temperature))
	}
	for name, v := range map[string]float32{"frequency_penalty": agent.FrequencyPenalty, "presence_penalty": agent.PresencePenalty} {
		if v < -2 || v > 2 {
			problems = append(problems, fmt.Errorf("%s %.2f 超出 [-2, 2]", name, v))
		}
	}
	if agent.TelegramEntrypointEnabled && strings.TrimSpace(agent.TelegramToken) == "" {
		problems = append(problems, errors.New("启用 telegram 入口时必须提供 telegram_token"))
	}

	categories := make([]string, 0, len(agent.Skills))
	for name := range agent.Skills {
		categories = append(categories, name)
	}
	slices.Sort(categories)
	for _, category := range categories {
		cfg := agent.Skills[category]
		known, ok := catalog.CategorySkills(category)
		if !ok {
			problems = append(problems, fmt.Errorf("未知的技能分类 %q", category))
			continue
		}
		for skill, state := range cfg.States {
			if !slices.Contains(known, skill) {
				problems = append(problems, fmt.Errorf("技能分类 %s 中不存在技能 %q", category, skill))
			}
			if !state.Valid() {
				problems = append(problems, fmt.Errorf("技能 %s/%s 的状态 %q 非法", category, skill, state))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeInvalidArgument, errors.Join(problems...), "agent 配置校验失败",
		xerrors.WithMetadata("agent_id", agent.ID))
}
