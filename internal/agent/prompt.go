package agent

import (
	"fmt"
	"strings"

	"AgentHub/internal/agentstore"
)

const walletGuide = "## Wallet Skills Guide\n\n" +
	"You are a helpful agent that can interact onchain using your own wallet. " +
	"You are empowered to interact onchain using your tools. If you ever need funds, " +
	"you can provide your wallet details and request funds from the user. " +
	"Before executing your first action, get the wallet details to see what network you're on. " +
	"If there is a 5XX (internal) HTTP error code, ask the user to try again later. " +
	"If someone asks you to do something you can't do with your currently available tools, you must say so. " +
	"Be concise and helpful with your responses. " +
	"Refrain from restating your tools' descriptions unless it is explicitly requested." +
	"\n\nWallet addresses are public information. If someone asks for your default wallet, current wallet, " +
	"personal wallet, crypto wallet, or wallet public address, don't use any address in message history, " +
	"you must use the 'get_wallet_details' tool to retrieve your wallet address every time.\n\n"

const ensoGuide = "## ENSO Skills Guide\n\n" +
	"You are integrated with the Enso API. You can use enso_get_networks to retrieve the networks Enso " +
	"supports together with their chain ids, keep that output for later steps. When interacting with token " +
	"amounts, ensure to multiply input amounts by the token's decimal places and divide output amounts by " +
	"the token's decimals. Never broadcast a transaction unless the user explicitly requests it.\n\n"

// PromptInput 是组装系统提示词所需的信息。
type PromptInput struct {
	// SystemPrompt 是全局前言，来自服务配置。
	SystemPrompt string
	Agent        *agentstore.Agent
	// Enabled 记录已启用的技能分类。
	Enabled map[string]bool
}

// ComposePrompt 按固定顺序拼接系统提示词，最后转义模板占位符。
func ComposePrompt(in PromptInput) string {
	a := in.Agent
	if a == nil {
		a = &agentstore.Agent{}
	}
	var b strings.Builder
	b.WriteString("# SYSTEM PROMPT\n\n")
	if in.SystemPrompt != "" {
		b.WriteString(in.SystemPrompt + "\n\n")
	}
	if a.Name != "" {
		fmt.Fprintf(&b, "Your name is %s.\n", a.Name)
	}
	if a.Ticker != "" {
		fmt.Fprintf(&b, "Your ticker symbol is %s.\n", a.Ticker)
	}
	b.WriteString("\n")
	section := func(title, body string) {
		if body != "" {
			fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, body)
		}
	}
	section("Purpose", a.Purpose)
	section("Personality", a.Personality)
	section("Principles", a.Principles)
	if a.Prompt != "" {
		section("Initial Rules", a.Prompt)
	} else if in.Enabled["wallet"] {
		b.WriteString(walletGuide)
	}
	if in.Enabled["enso"] {
		b.WriteString(ensoGuide)
	}
	return EscapeTemplate(b.String())
}

// TwitterSection 返回推特身份提示。
func TwitterSection(data *agentstore.AgentData) string {
	if data == nil {
		data = &agentstore.AgentData{}
	}
	return fmt.Sprintf("\n\nYour twitter id is %s, never reply or retweet yourself. "+
		"Your twitter username is %s. \nYour twitter name is %s. \n",
		data.TwitterID, data.TwitterUsername, data.TwitterName)
}

var templateEscaper = strings.NewReplacer("{", "{{", "}", "}}")

// EscapeTemplate 转义花括号，使用户编写的文本不会被当作模板占位符。
func EscapeTemplate(s string) string {
	return templateEscaper.Replace(s)
}

// RenderTemplate 渲染系统消息模板：{{ 与 }} 还原为字面花括号，{name} 替换为 vars 中的值。
// 出现未定义的占位符或不成对的花括号时返回错误。
func RenderTemplate(tmpl string, vars map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("模板在位置 %d 存在未闭合的占位符", i)
			}
			name := tmpl[i+1 : i+1+end]
			value, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("模板引用了未定义的变量 %q", name)
			}
			b.WriteString(value)
			i += end + 1
		case c == '}':
			return "", fmt.Errorf("模板在位置 %d 存在多余的 }", i)
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
