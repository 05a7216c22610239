package proxy

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
)

// Outcome 标记一次拦截请求最终由哪条路径应答。
type Outcome int

const (
	OutcomePassThrough Outcome = iota
	OutcomeCacheHit
	OutcomeNetworkStored
	OutcomeNetwork
	OutcomeFallbackDocument
	OutcomeOffline
)

// String 返回写入 X-Offline-Agent-Cache 响应头与日志的取值。
func (o Outcome) String() string {
	switch o {
	case OutcomeCacheHit:
		return "hit"
	case OutcomeNetworkStored:
		return "stored"
	case OutcomeNetwork:
		return "miss"
	case OutcomeFallbackDocument:
		return "fallback"
	case OutcomeOffline:
		return "offline"
	default:
		return "bypass"
	}
}

// CacheHit 表示响应是否来自缓存（含导航回退文档）。
func (o Outcome) CacheHit() bool {
	return o == OutcomeCacheHit || o == OutcomeFallbackDocument
}

// InterceptorOptions 汇总拦截器依赖。
type InterceptorOptions struct {
	Manager *cache.Manager
	Fetcher cache.Fetcher
	Writer  *cache.BackgroundWriter
	Logger  *logrus.Logger
	// FallbackURL 为导航请求离线时使用的缓存文档（绝对地址）。
	FallbackURL string
	// ExcludedSchemes 中的 scheme 完全绕过缓存，取值不带 "://"。
	// Handler 总以 Origin 拼出请求 URL，因此该规则只对直接调用 Handle 的嵌入方生效。
	ExcludedSchemes []string
}

// Interceptor 实现“缓存优先，网络兜底”的请求策略，永远返回一个可交付的响应。
type Interceptor struct {
	manager     *cache.Manager
	fetcher     cache.Fetcher
	writer      *cache.BackgroundWriter
	logger      *logrus.Logger
	fallbackKey *cache.Key
	excluded    map[string]struct{}
}

// NewInterceptor 校验依赖并预先计算回退文档的缓存 Key。
func NewInterceptor(opts InterceptorOptions) (*Interceptor, error) {
	if opts.Manager == nil {
		return nil, errors.New("cache manager is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("background writer is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	i := &Interceptor{
		manager:  opts.Manager,
		fetcher:  opts.Fetcher,
		writer:   opts.Writer,
		logger:   opts.Logger,
		excluded: make(map[string]struct{}, len(opts.ExcludedSchemes)),
	}
	if opts.FallbackURL != "" {
		key, err := cache.NewKey("GET", opts.FallbackURL)
		if err != nil {
			return nil, err
		}
		i.fallbackKey = &key
	}
	for _, scheme := range opts.ExcludedSchemes {
		scheme = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(scheme), "://"))
		if scheme != "" {
			i.excluded[scheme] = struct{}{}
		}
	}
	return i, nil
}

// Handle 处理一次拦截请求。generation 为空代表代理尚未接管页面，请求直接走网络。
// 查找严格早于回源；回源成功的 200 basic 响应在后台写入缓存，不阻塞本次应答。
func (i *Interceptor) Handle(ctx context.Context, generation string, req *cache.Request) (*cache.Response, Outcome) {
	key, cacheable := i.cacheKey(req)
	if !cacheable || generation == "" {
		return i.passThrough(ctx, req), OutcomePassThrough
	}

	cached, ok, err := i.manager.Lookup(ctx, generation, key)
	if err != nil {
		i.logger.WithFields(i.fields(req, generation)).WithError(err).Warn("cache_lookup_failed")
	}
	if ok {
		return cached, OutcomeCacheHit
	}

	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		i.logger.WithFields(i.fields(req, generation)).WithError(err).Info("network_request_failed")
		return i.offline(ctx, generation, req)
	}

	if resp.Status != 200 || resp.Type != cache.ResponseTypeBasic {
		return resp, OutcomeNetwork
	}

	dup, err := resp.Clone()
	if err != nil {
		i.logger.WithFields(i.fields(req, generation)).WithError(err).Warn("response_clone_failed")
		return resp, OutcomeNetwork
	}
	fields := i.fields(req, generation)
	fields["action"] = "cache_put"
	queued := i.writer.Go(fields, func(ctx context.Context) error {
		return i.manager.Store(ctx, generation, key, dup)
	})
	if !queued {
		return resp, OutcomeNetwork
	}
	return resp, OutcomeNetworkStored
}

// offline 在网络失败后应答：导航请求优先返回缓存的回退文档，否则返回 503 占位响应。
func (i *Interceptor) offline(ctx context.Context, generation string, req *cache.Request) (*cache.Response, Outcome) {
	if req.IsNavigation() && i.fallbackKey != nil {
		doc, ok, err := i.manager.Lookup(ctx, generation, *i.fallbackKey)
		if err != nil {
			i.logger.WithFields(i.fields(req, generation)).WithError(err).Warn("fallback_lookup_failed")
		}
		if ok {
			return doc, OutcomeFallbackDocument
		}
	}
	return OfflineResponse(), OutcomeOffline
}

func (i *Interceptor) passThrough(ctx context.Context, req *cache.Request) *cache.Response {
	resp, err := i.fetcher.Fetch(ctx, req)
	if err != nil {
		i.logger.WithFields(i.fields(req, "")).WithError(err).Warn("passthrough_failed")
		return BadGatewayResponse()
	}
	return resp
}

// cacheKey 判断请求是否进入缓存策略：仅 GET，且 scheme 不在排除列表中。
func (i *Interceptor) cacheKey(req *cache.Request) (cache.Key, bool) {
	if req == nil || !strings.EqualFold(req.Method, "GET") {
		return cache.Key{}, false
	}
	if parsed, err := url.Parse(req.URL); err == nil {
		if _, skip := i.excluded[strings.ToLower(parsed.Scheme)]; skip {
			return cache.Key{}, false
		}
	}
	key, err := req.Key()
	if err != nil {
		return cache.Key{}, false
	}
	return key, true
}

func (i *Interceptor) fields(req *cache.Request, generation string) logrus.Fields {
	return logrus.Fields{
		"action":     "intercept",
		"method":     req.Method,
		"url":        req.URL,
		"generation": generation,
	}
}
