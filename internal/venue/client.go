package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 200 * time.Millisecond

// restClient 封装各接入点共用的 HTTP 访问与错误归类逻辑。
type restClient struct {
	name    string
	baseURL string
	http    *http.Client
}

func newRESTClient(name, baseURL string, timeout time.Duration) *restClient {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &restClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *restClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return NewError(c.name, "get "+path, ErrKindInvalid, "构造请求失败", err)
	}
	return c.do(req, "get "+path, out)
}

func (c *restClient) postJSON(ctx context.Context, path string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return NewError(c.name, "post "+path, ErrKindInvalid, "序列化请求失败", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return NewError(c.name, "post "+path, ErrKindInvalid, "构造请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(req, "post "+path, out)
}

func (c *restClient) deleteJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+path, nil)
	if err != nil {
		return NewError(c.name, "delete "+path, ErrKindInvalid, "构造请求失败", err)
	}
	return c.do(req, "delete "+path, out)
}

func (c *restClient) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return NewError(c.name, op, classifyTransportError(err), "请求失败", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return NewError(c.name, op, ErrKindNetwork, "读取响应失败", err)
	}

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		message := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(raw), 256))
		return NewError(c.name, op, kind, message, nil)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(c.name, op, ErrKindNetwork, "解析响应失败", err)
	}
	return nil
}

func classifyTransportError(err error) ErrKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrKindTimeout
	}
	return ErrKindNetwork
}

func classifyStatus(status int) ErrKind {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrKindRateLimit
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return ErrKindRejected
	case status >= 500:
		return ErrKindNetwork
	default:
		return ErrKindInvalid
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
