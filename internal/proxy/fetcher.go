package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/server"
	"github.com/any-hub/offline-agent/internal/version"
)

// HTTPFetcher 通过共享 http.Client 把拦截请求发往源站，是 cache.Fetcher 的生产实现。
type HTTPFetcher struct {
	client *http.Client
	origin *url.URL
}

// NewHTTPFetcher 构造抓取器；origin 用于判定响应类型（同源为 basic）。
func NewHTTPFetcher(client *http.Client, origin *url.URL) (*HTTPFetcher, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if origin == nil || !origin.IsAbs() {
		return nil, errors.New("absolute origin url is required")
	}
	return &HTTPFetcher{client: client, origin: origin}, nil
}

// Fetch 实现 cache.Fetcher。连接失败、超时等传输层错误以 error 返回，
// 任意 HTTP 状态码（包括 4xx/5xx）都视为成功抓取。
func (f *HTTPFetcher) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	upstream, err := f.buildUpstreamRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(upstream)
	if err != nil {
		return nil, err
	}

	header := make(http.Header, len(resp.Header))
	server.CopyHeaders(header, resp.Header)

	finalURL := upstream.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}

	return &cache.Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     header,
		Type:       f.classify(finalURL),
		URL:        finalURL.String(),
		Body:       cache.WrapBody(resp.Body),
	}, nil
}

func (f *HTTPFetcher) buildUpstreamRequest(ctx context.Context, req *cache.Request) (*http.Request, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	upstream, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	server.CopyHeaders(upstream.Header, req.Header)
	// 正文需要原样落入缓存，交由 Transport 自行协商压缩并透明解压。
	upstream.Header.Del("Accept-Encoding")
	upstream.Header.Del("Host")
	if upstream.Header.Get("User-Agent") == "" {
		upstream.Header.Set("User-Agent", version.UserAgent())
	}
	upstream.Host = upstream.URL.Host
	return upstream, nil
}

// classify 根据最终 URL 是否与源站同源区分 basic/cors。
func (f *HTTPFetcher) classify(final *url.URL) cache.ResponseType {
	if final == nil {
		return cache.ResponseTypeError
	}
	if strings.EqualFold(final.Scheme, f.origin.Scheme) && strings.EqualFold(final.Host, f.origin.Host) {
		return cache.ResponseTypeBasic
	}
	return cache.ResponseTypeCORS
}

func statusText(resp *http.Response) string {
	// resp.Status 形如 "200 OK"。
	if _, text, ok := strings.Cut(resp.Status, " "); ok && text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
