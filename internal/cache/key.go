package cache

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrUnsupportedMethod 表示请求方法不可缓存（仅 GET 可以入缓存）。
var ErrUnsupportedMethod = errors.New("only GET requests are cacheable")

// Key 是规范化后的请求身份：方法 + 绝对 URL（去除 fragment）。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化 method/URL 并构造 Key，非 GET 请求返回 ErrUnsupportedMethod。
func NewKey(method, rawURL string) (Key, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet {
		return Key{}, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return Key{}, err
	}
	return Key{Method: method, URL: normalized}, nil
}

// MustKey 供清单解析等已校验过输入的场景使用，失败时 panic。
func MustKey(method, rawURL string) Key {
	key, err := NewKey(method, rawURL)
	if err != nil {
		panic(err)
	}
	return key
}

// String 返回 "GET https://host/path" 形式，用作存储层的索引。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// NormalizeURL 去掉 fragment 并将 scheme/host 小写，要求 URL 为绝对地址。
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if !parsed.IsAbs() {
		return "", fmt.Errorf("url must be absolute: %s", rawURL)
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if parsed.Path == "" && parsed.Opaque == "" && parsed.Host != "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

// ResolveManifest 以 scope 为基准把清单中的相对路径（如 ./index.html）解析为绝对 URL，
// 保持原有顺序。
func ResolveManifest(scope *url.URL, entries []string) ([]string, error) {
	if scope == nil || !scope.IsAbs() {
		return nil, errors.New("manifest scope must be an absolute url")
	}
	resolved := make([]string, 0, len(entries))
	for _, entry := range entries {
		ref, err := url.Parse(strings.TrimSpace(entry))
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		abs, err := NormalizeURL(scope.ResolveReference(ref).String())
		if err != nil {
			return nil, fmt.Errorf("manifest entry %q: %w", entry, err)
		}
		resolved = append(resolved, abs)
	}
	return resolved, nil
}
