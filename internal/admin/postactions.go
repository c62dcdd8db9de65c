package admin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"AgentHub/internal/agentstore"
	"AgentHub/internal/observability/alerting"
	"AgentHub/internal/wallet"
)

// Notifier 发送带字段的运营通知，*alerting.SlackNotifier 满足该接口。
type Notifier interface {
	Post(ctx context.Context, title, color string, fields []alerting.Field) error
}

// postActions 依次开通钱包、解析 telegram 机器人、使已编译的图失效并发送通知。
// 各步骤失败只记录日志，不影响已经落库的配置。
func (s *Service) postActions(ctx context.Context, agent, previous *agentstore.Agent, title string) (*agentstore.AgentData, error) {
	log := s.log.With(slog.String("agent_id", agent.ID))
	address := s.provisionWallet(ctx, log, agent)
	s.resolveTelegram(ctx, log, agent, previous)
	s.invalidate(agent.ID)

	data, err := s.cfg.Agents.GetData(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	if address == "" && data.HasWallet() {
		if m, err := wallet.ParseMaterial(data.WalletData); err == nil {
			address = m.DefaultAddressID
		}
	}
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.Post(ctx, title, "good", notificationFields(agent, data, address)); err != nil {
			log.Error("发送 agent 通知失败", slog.Any("error", err))
		}
	}
	return data, nil
}

func (s *Service) provisionWallet(ctx context.Context, log *slog.Logger, agent *agentstore.Agent) string {
	if s.cfg.Wallets == nil {
		return ""
	}
	if _, ok := agent.Category(s.cfg.WalletCategory); !ok {
		return ""
	}
	handle, err := s.cfg.Wallets.Ensure(ctx, agent)
	if err != nil {
		log.Error("开通钱包失败", slog.Any("error", err))
		return wallet.Placeholder(s.cfg.Wallets.Network(agent)).DefaultAddressID
	}
	return handle.Material().DefaultAddressID
}

func (s *Service) resolveTelegram(ctx context.Context, log *slog.Logger, agent, previous *agentstore.Agent) {
	if s.cfg.Bots == nil || !agent.TelegramEntrypointEnabled || agent.TelegramToken == "" {
		return
	}
	if previous != nil && previous.TelegramToken == agent.TelegramToken {
		return
	}
	identity, err := s.cfg.Bots.Resolve(ctx, agent.TelegramToken)
	if err != nil {
		log.Error("获取 telegram 机器人信息失败", slog.Any("error", err))
		return
	}
	if _, err := s.cfg.Agents.SetData(ctx, agent.ID, agentstore.DataPatch{
		TelegramID:       agentstore.Ptr(identity.ID),
		TelegramUsername: agentstore.Ptr(identity.Username),
		TelegramName:     agentstore.Ptr(identity.Name),
	}); err != nil {
		log.Error("保存 telegram 机器人信息失败", slog.Any("error", err))
	}
}

func notificationFields(agent *agentstore.Agent, data *agentstore.AgentData, address string) []alerting.Field {
	var twitterUsername, telegramUsername string
	if data != nil {
		twitterUsername = data.TwitterUsername
		telegramUsername = data.TelegramUsername
	}
	return []alerting.Field{
		{Title: "Number", Value: strconv.FormatInt(agent.Number, 10), Short: true},
		{Title: "ID", Value: agent.ID, Short: true},
		{Title: "Name", Value: agent.Name, Short: true},
		{Title: "Model", Value: agent.Model, Short: true},
		{Title: "Network", Value: agent.Network("Default"), Short: true},
		{Title: "X Username", Value: twitterUsername, Short: true},
		{Title: "Telegram Enabled", Value: strconv.FormatBool(agent.TelegramEntrypointEnabled), Short: true},
		{Title: "Telegram Username", Value: telegramUsername, Short: true},
		{Title: "Wallet Address", Value: address},
		{Title: "Skills", Value: FormatSkills(agent.Skills)},
	}
}

// FormatSkills 列出已启用分类下的公开与私有技能。
func FormatSkills(skills map[string]agentstore.SkillCategoryConfig) string {
	if len(skills) == 0 {
		return "None"
	}
	categories := make([]string, 0, len(skills))
	for name, cfg := range skills {
		if cfg.Enabled {
			categories = append(categories, name)
		}
	}
	slices.Sort(categories)

	var sections []string
	for _, name := range categories {
		var public, private []string
		for skill, state := range skills[name].States {
			switch state {
			case agentstore.StatePublic:
				public = append(public, skill)
			case agentstore.StatePrivate:
				private = append(private, skill)
			}
		}
		slices.Sort(public)
		slices.Sort(private)
		var lines []string
		if len(public) > 0 {
			lines = append(lines, "  Public: "+strings.Join(public, ", "))
		}
		if len(private) > 0 {
			lines = append(lines, "  Private: "+strings.Join(private, ", "))
		}
		if len(lines) > 0 {
			sections = append(sections, fmt.Sprintf("• %s:\n%s", name, strings.Join(lines, "\n")))
		}
	}
	if len(sections) == 0 {
		return "No enabled skills"
	}
	return strings.Join(sections, "\n")
}
