package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
	"github.com/any-hub/offline-agent/internal/logging"
	"github.com/any-hub/offline-agent/internal/server"
)

// CacheHeader 标记响应来源：hit|miss|stored|fallback|offline|bypass。
const CacheHeader = "X-Offline-Agent-Cache"

// GenerationSource 提供当前正在服务的缓存代际，空字符串表示尚未接管。
type GenerationSource interface {
	Current() string
}

// Handler 把 Fiber 请求翻译为拦截请求，交给 Interceptor 后把结果流式写回客户端。
type Handler struct {
	interceptor *Interceptor
	generations GenerationSource
	origin      *url.URL
	logger      *logrus.Logger
}

// NewHandler 构造 Fiber 适配层；origin 决定拦截请求的绝对 URL（与清单 Key 同源）。
func NewHandler(interceptor *Interceptor, generations GenerationSource, origin *url.URL, logger *logrus.Logger) (*Handler, error) {
	if interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	if generations == nil {
		return nil, errors.New("generation source is required")
	}
	if origin == nil || !origin.IsAbs() {
		return nil, errors.New("absolute origin url is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Handler{
		interceptor: interceptor,
		generations: generations,
		origin:      origin,
		logger:      logger,
	}, nil
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildRequest(c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "proxy",
			"method":     c.Method(),
			"request_id": requestID,
		}).WithError(err).Warn("request_translate_failed")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}

	generation := h.generations.Current()
	resp, outcome := h.interceptor.Handle(ctx, generation, req)
	defer closeBody(resp)

	writeResponseHeaders(c, resp)
	c.Set(CacheHeader, outcome.String())
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	if c.Method() == http.MethodHead || resp.Body == nil {
		h.logResult(req, generation, outcome, resp.Status, requestID, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(req, generation, outcome, resp.Status, requestID, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

// buildRequest 以 origin 为基准拼出绝对 URL，并从 Sec-Fetch-* / Accept 推断导航请求。
func (h *Handler) buildRequest(c fiber.Ctx) (*cache.Request, error) {
	ref, err := url.Parse(string(c.Request().RequestURI()))
	if err != nil {
		return nil, err
	}
	target := *h.origin
	target.Path = ref.Path
	target.RawPath = ref.RawPath
	target.RawQuery = ref.RawQuery
	target.Fragment = ""

	header := fiberHeadersAsHTTP(c)
	req := &cache.Request{
		Method:      c.Method(),
		URL:         target.String(),
		Header:      header,
		Destination: strings.ToLower(header.Get("Sec-Fetch-Dest")),
		Mode:        strings.ToLower(header.Get("Sec-Fetch-Mode")),
	}
	if req.Destination == "" && req.Mode == "" && req.Method == http.MethodGet &&
		strings.Contains(header.Get("Accept"), "text/html") {
		req.Mode = cache.ModeNavigate
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req, nil
}

func (h *Handler) logResult(
	req *cache.Request,
	generation string,
	outcome Outcome,
	status int,
	requestID string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(req.Method, req.URL, generation, outcome.String(), outcome.CacheHit())
	fields["action"] = "proxy"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// writeResponseHeaders 复制非 hop-by-hop 头部；Content-Length 由 Fiber 按实际正文计算。
func writeResponseHeaders(c fiber.Ctx, resp *cache.Response) {
	for key, values := range resp.Header {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func closeBody(resp *cache.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}
