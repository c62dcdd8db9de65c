// Package httpjson holds the small JSON-over-HTTP helper shared by the skills
// that wrap third-party REST APIs.
package httpjson

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	xerrors "AgentHub/internal/errors"
)

// DefaultTimeout 是技能 HTTP 请求的默认超时。
const DefaultTimeout = 30 * time.Second

const maxErrorBody = 512

// Client 封装 JSON 请求。
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Header  http.Header
	// Service 用于错误信息，例如 "CryptoCompare"。
	Service string
}

// New 创建带默认超时的客户端。
func New(service, baseURL string) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		BaseURL: baseURL,
		Header:  http.Header{"Accept": []string{"application/json"}},
		Service: service,
	}
}

// Get 发送 GET 请求并解码响应。
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post 发送 JSON 请求体。
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do 发送请求。非 2xx 响应按上游错误返回，并截取部分响应体便于排查。
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求体失败")
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构造请求失败")
	}
	for key, values := range c.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, fmt.Sprintf("request error from %s API", c.Service))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		code := xerrors.CodeUpstreamFailure
		if resp.StatusCode == http.StatusTooManyRequests {
			code = xerrors.CodeRateLimited
		}
		return xerrors.New(code, fmt.Sprintf("http error from %s API: %d %s", c.Service, resp.StatusCode, bytes.TrimSpace(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return xerrors.Wrap(xerrors.CodeUpstreamFailure, err, fmt.Sprintf("error from %s API: 响应无法解析", c.Service))
	}
	return nil
}
