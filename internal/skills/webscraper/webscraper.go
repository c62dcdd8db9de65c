// Package webscraper fetches a page and reduces it to its title and visible
// text so the model can read it.
package webscraper

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	xerrors "AgentHub/internal/errors"
	"AgentHub/internal/skill"
	"AgentHub/internal/skills/httpjson"
)

const (
	Category    = "webscraper"
	SkillScrape = "scrape_page"

	maxBodyBytes     = 2 << 20
	defaultMaxLength = 8000
)

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "svg": true, "iframe": true, "template": true,
}

// NewCategory 返回网页抓取技能分类。client 为 nil 时使用默认超时客户端。
func NewCategory(client *http.Client) skill.Category {
	if client == nil {
		client = &http.Client{Timeout: httpjson.DefaultTimeout}
	}
	return skill.Category{
		Name:      Category,
		Skills:    []string{SkillScrape},
		Stateless: true,
		New: func(string, skill.Env) (skill.Tool, error) {
			s := &scraper{client: client}
			return skill.NewTool(SkillScrape,
				"Fetch a web page and return its title and readable text content.", s.scrape), nil
		},
	}
}

type scrapeArgs struct {
	URL       string `json:"url" jsonschema_description:"Absolute http(s) URL of the page"`
	MaxLength int    `json:"max_length,omitempty" jsonschema_description:"Maximum characters of text to return"`
}

type page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated"`
}

type scraper struct {
	client *http.Client
}

func (s *scraper) scrape(ctx context.Context, args scrapeArgs) (string, error) {
	u, err := url.Parse(strings.TrimSpace(args.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "仅支持 http(s) 绝对地址")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造请求失败")
	}
	req.Header.Set("User-Agent", "AgentHub-WebScraper/1.0")
	resp, err := s.client.Do(req)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "抓取网页失败")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", xerrors.Newf(xerrors.CodeUpstreamFailure, "抓取网页失败: HTTP %d", resp.StatusCode)
	}

	title, text, err := Extract(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstreamFailure, err, "解析网页失败")
	}
	limit := args.MaxLength
	if limit <= 0 {
		limit = defaultMaxLength
	}
	p := page{URL: u.String(), Title: title, Text: text}
	if utf8.RuneCountInString(text) > limit {
		p.Text = string([]rune(text)[:limit])
		p.Truncated = true
	}
	return skill.JSON(p)
}

// Extract 返回页面标题与可见文本，文本按块级元素分行。
func Extract(r io.Reader) (string, string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}
	var (
		title string
		lines []string
		cur   strings.Builder
	)
	flush := func() {
		if line := strings.Join(strings.Fields(cur.String()), " "); line != "" {
			lines = append(lines, line)
		}
		cur.Reset()
	}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.Data == "title" {
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skippedElements[n.Data] {
				return
			}
		}
		if n.Type == html.TextNode {
			cur.WriteString(n.Data)
			cur.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			flush()
		}
	}
	walk(doc)
	flush()
	return title, strings.Join(lines, "\n"), nil
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "ul", "ol", "br", "tr", "table",
		"h1", "h2", "h3", "h4", "h5", "h6", "header", "footer", "main", "nav", "pre", "blockquote":
		return true
	}
	return false
}
