// Package skills wires the concrete skill categories into a registry in their
// declared build order. Later categories win when tool names collide.
package skills

import (
	"net/http"

	"AgentHub/internal/skill"
	"AgentHub/internal/skills/chainlist"
	"AgentHub/internal/skills/common"
	"AgentHub/internal/skills/cryptocompare"
	"AgentHub/internal/skills/enso"
	"AgentHub/internal/skills/onchain"
	"AgentHub/internal/skills/twitter"
	"AgentHub/internal/skills/webscraper"
	"AgentHub/internal/web3"
)

// Deps 是构造技能分类所需的外部依赖。
type Deps struct {
	Chains               onchain.Chains
	ChainDefinitions     web3.ChainDefinitions
	Store                skill.Store
	EnsoBaseURL          string
	TwitterBaseURL       string
	TwitterBearerToken   string
	CryptoCompareAPIKey  string
	CryptoCompareBaseURL string
	HTTPClient           *http.Client
	CacheSize            int
}

// Order 是技能分类的构建顺序。
var Order = []string{
	onchain.Category,
	enso.Category,
	twitter.Category,
	cryptocompare.Category,
	chainlist.Category,
	webscraper.Category,
	common.Category,
}

// NewRegistry 按声明顺序注册全部技能分类。
func NewRegistry(deps Deps) *skill.Registry {
	r := skill.NewRegistry(deps.CacheSize)
	r.MustRegister(
		onchain.NewCategory(deps.Chains),
		enso.NewCategory(deps.EnsoBaseURL),
		twitter.NewCategory(twitter.Options{BaseURL: deps.TwitterBaseURL, BearerToken: deps.TwitterBearerToken}),
		cryptocompare.NewCategory(cryptocompare.Options{
			APIKey:  deps.CryptoCompareAPIKey,
			BaseURL: deps.CryptoCompareBaseURL,
			Store:   deps.Store,
		}),
		chainlist.NewCategory(deps.ChainDefinitions),
		webscraper.NewCategory(deps.HTTPClient),
		common.NewCategory(nil),
	)
	return r
}
