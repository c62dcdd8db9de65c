// Package cryptocompare wraps the CryptoCompare market-data API. Its tools are
// stateless and shared across agents; per-agent rate limits are keyed from the
// run information carried in the context.
package cryptocompare

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/skills/httpjson"
)

const Category = "cryptocompare"

const (
	SkillPrice          = "fetch_price"
	SkillNews           = "fetch_news"
	SkillTopMarketCap   = "fetch_top_market_cap"
	SkillTopExchanges   = "fetch_top_exchanges"
	SkillTopVolume      = "fetch_top_volume"
	SkillTradingSignals = "fetch_trading_signals"
)

const (
	rateLimitMax    = 10
	rateLimitWindow = 15 * time.Minute
)

// Options 是分类的系统配置。
type Options struct {
	APIKey  string
	BaseURL string
	// Store 用于限流计数，为 nil 时不限流。
	Store skill.Store
}

// NewCategory 返回 CryptoCompare 技能分类。
func NewCategory(opts Options) skill.Category {
	return skill.Category{
		Name:      Category,
		Skills:    []string{SkillNews, SkillPrice, SkillTradingSignals, SkillTopMarketCap, SkillTopExchanges, SkillTopVolume},
		Stateless: true,
		New: func(name string, _ skill.Env) (skill.Tool, error) {
			if opts.APIKey == "" {
				return nil, xerrors.New(xerrors.CodeConfigInvalid, "CryptoCompare API key is empty")
			}
			api := httpjson.New("CryptoCompare", opts.BaseURL)
			api.Header.Set("Authorization", "Apikey "+opts.APIKey)
			c := &client{api: api}
			if opts.Store != nil {
				c.limiter = skill.NewRateLimiter(opts.Store)
			}
			switch name {
			case SkillPrice:
				return skill.NewTool("cryptocompare_fetch_price",
					"Fetch the current price of a cryptocurrency in one or more quote currencies.", c.price), nil
			case SkillNews:
				return skill.NewTool("cryptocompare_fetch_news",
					"Fetch the latest news articles for a token.", c.news), nil
			case SkillTopMarketCap:
				return skill.NewTool("cryptocompare_fetch_top_market_cap",
					"Fetch the top cryptocurrencies ranked by market capitalization.", c.topMarketCap), nil
			case SkillTopExchanges:
				return skill.NewTool("cryptocompare_fetch_top_exchanges",
					"Fetch the top exchanges for a trading pair by volume.", c.topExchanges), nil
			case SkillTopVolume:
				return skill.NewTool("cryptocompare_fetch_top_volume",
					"Fetch the top cryptocurrencies ranked by 24h trading volume.", c.topVolume), nil
			case SkillTradingSignals:
				return skill.NewTool("cryptocompare_fetch_trading_signals",
					"Fetch the latest IntoTheBlock trading signals for a token.", c.tradingSignals), nil
			}
			return nil, xerrors.New(skill.CodeSkillUnknown, "Unknown CryptoCompare skill: "+name)
		},
	}
}

type client struct {
	api     *httpjson.Client
	limiter *skill.RateLimiter
}

func (c *client) call(ctx context.Context, tool, path string, q url.Values) (string, error) {
	if c.limiter != nil {
		if run, ok := skill.RunFrom(ctx); ok && run.AgentID != "" {
			if err := c.limiter.Allow(ctx, run.AgentID, tool, rateLimitMax, rateLimitWindow); err != nil {
				return "", err
			}
		}
	}
	var raw json.RawMessage
	if err := c.api.Get(ctx, path+"?"+q.Encode(), &raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func symbol(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func limitOr(n, fallback int) string {
	if n <= 0 || n > 100 {
		n = fallback
	}
	return strconv.Itoa(n)
}

type priceArgs struct {
	FromSymbol string   `json:"from_symbol" jsonschema_description:"Base cryptocurrency symbol, e.g. BTC"`
	ToSymbols  []string `json:"to_symbols" jsonschema_description:"Quote currency symbols, e.g. USD"`
}

func (c *client) price(ctx context.Context, args priceArgs) (string, error) {
	if symbol(args.FromSymbol) == "" || len(args.ToSymbols) == 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "from_symbol 与 to_symbols 不能为空")
	}
	to := make([]string, 0, len(args.ToSymbols))
	for _, s := range args.ToSymbols {
		to = append(to, symbol(s))
	}
	q := url.Values{"fsym": {symbol(args.FromSymbol)}, "tsyms": {strings.Join(to, ",")}}
	return c.call(ctx, "cryptocompare_fetch_price", "/data/price", q)
}

type newsArgs struct {
	Token string `json:"token" jsonschema_description:"Token symbol to fetch news for, e.g. ETH"`
}

func (c *client) news(ctx context.Context, args newsArgs) (string, error) {
	if symbol(args.Token) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "token 不能为空")
	}
	q := url.Values{"categories": {symbol(args.Token)}, "lang": {"EN"}, "sortOrder": {"latest"}}
	return c.call(ctx, "cryptocompare_fetch_news", "/data/v2/news/", q)
}

type rankArgs struct {
	ToSymbol string `json:"to_symbol,omitempty" jsonschema_description:"Quote currency, defaults to USD"`
	Limit    int    `json:"limit,omitempty" jsonschema_description:"Number of results (1-100), defaults to 10"`
}

func (r rankArgs) query() url.Values {
	tsym := symbol(r.ToSymbol)
	if tsym == "" {
		tsym = "USD"
	}
	return url.Values{"tsym": {tsym}, "limit": {limitOr(r.Limit, 10)}}
}

func (c *client) topMarketCap(ctx context.Context, args rankArgs) (string, error) {
	return c.call(ctx, "cryptocompare_fetch_top_market_cap", "/data/top/mktcapfull", args.query())
}

func (c *client) topVolume(ctx context.Context, args rankArgs) (string, error) {
	return c.call(ctx, "cryptocompare_fetch_top_volume", "/data/top/totalvolfull", args.query())
}

type exchangeArgs struct {
	FromSymbol string `json:"from_symbol" jsonschema_description:"Base cryptocurrency symbol"`
	ToSymbol   string `json:"to_symbol,omitempty" jsonschema_description:"Quote currency, defaults to USD"`
	Limit      int    `json:"limit,omitempty"`
}

func (c *client) topExchanges(ctx context.Context, args exchangeArgs) (string, error) {
	if symbol(args.FromSymbol) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "from_symbol 不能为空")
	}
	q := rankArgs{ToSymbol: args.ToSymbol, Limit: args.Limit}.query()
	q.Set("fsym", symbol(args.FromSymbol))
	return c.call(ctx, "cryptocompare_fetch_top_exchanges", "/data/top/exchanges", q)
}

type signalArgs struct {
	FromSymbol string `json:"from_symbol" jsonschema_description:"Token symbol, e.g. BTC"`
}

func (c *client) tradingSignals(ctx context.Context, args signalArgs) (string, error) {
	if symbol(args.FromSymbol) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "from_symbol 不能为空")
	}
	q := url.Values{"fsym": {symbol(args.FromSymbol)}}
	return c.call(ctx, "cryptocompare_fetch_trading_signals", "/data/tradingsignals/intotheblock/latest", q)
}
