package proxy

import (
	"net/http"

	"github.com/any-hub/offline-agent/internal/cache"
)

// OfflineBody 是网络不可用且没有可用回退文档时的占位正文。
const OfflineBody = "Offline - Please check your internet connection"

// OfflineResponse 构造 503 离线占位响应。
func OfflineResponse() *cache.Response {
	resp := cache.NewResponse(
		http.StatusServiceUnavailable,
		http.Header{"Content-Type": []string{"text/plain"}},
		[]byte(OfflineBody),
	)
	resp.StatusText = "Service Unavailable"
	return resp
}

// BadGatewayResponse 用于绕过缓存的请求回源失败，沿用 upstream_failed 错误码。
func BadGatewayResponse() *cache.Response {
	resp := cache.NewResponse(
		http.StatusBadGateway,
		http.Header{"Content-Type": []string{"application/json"}},
		[]byte(`{"error":"upstream_failed"}`),
	)
	resp.Type = cache.ResponseTypeError
	return resp
}
