package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Destination/Mode 取值与 Fetch 规范保持一致，仅列出拦截策略关心的部分。
const (
	DestinationDocument = "document"
	ModeNavigate        = "navigate"
)

// Request 是一次被拦截的抓取请求；URL 为绝对地址。
type Request struct {
	Method      string
	URL         string
	Header      http.Header
	Destination string
	Mode        string
	Body        []byte
}

// NewRequest 构造不带正文的请求，常用于清单预取。
func NewRequest(method, rawURL string) *Request {
	return &Request{Method: method, URL: rawURL, Header: make(http.Header)}
}

// IsNavigation 判断请求是否为页面导航（document 目的地或 navigate 模式）。
func (r *Request) IsNavigation() bool {
	if r == nil {
		return false
	}
	return strings.EqualFold(r.Destination, DestinationDocument) ||
		strings.EqualFold(r.Mode, ModeNavigate)
}

// Key 返回请求对应的缓存 Key。
func (r *Request) Key() (Key, error) {
	return NewKey(r.Method, r.URL)
}

// Fetcher 是网络端口：把请求发往源站并返回响应，连接失败以 error 表示。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc 使普通函数满足 Fetcher 接口，便于测试注入。
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch 实现 Fetcher。
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ErrBodyUsed 表示正文已被读取，无法再复制。
var ErrBodyUsed = errors.New("response body already used")

// Response 表示一次抓取或缓存命中的结果。Body 只能读取一次，需要同时交付给
// 调用方与缓存时必须先 Clone。
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Type       ResponseType
	URL        string
	Body       io.ReadCloser
}

// NewResponse 用内存正文构造响应。
func NewResponse(status int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     header,
		Type:       ResponseTypeBasic,
		Body:       newTrackedBody(io.NopCloser(bytes.NewReader(body))),
	}
}

// WrapBody 接管一个单次读取的正文流，使其读取状态可被 Clone 感知。
func WrapBody(body io.ReadCloser) io.ReadCloser {
	if body == nil {
		body = http.NoBody
	}
	if _, ok := body.(*trackedBody); ok {
		return body
	}
	return newTrackedBody(body)
}

// ResponseFromEntry 从缓存快照还原响应，每次调用返回独立的正文 Reader。
func ResponseFromEntry(entry *Entry) *Response {
	cp := entry.clone()
	return &Response{
		Status:     cp.Status,
		StatusText: cp.StatusText,
		Header:     cp.Header,
		Type:       cp.Type,
		URL:        cp.URL,
		Body:       newTrackedBody(io.NopCloser(bytes.NewReader(cp.Body))),
	}
}

// OK 对应 Response.ok（2xx）。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// BodyUsed 返回正文是否已被读取。
func (r *Response) BodyUsed() bool {
	if r == nil || r.Body == nil {
		return false
	}
	if tracked, ok := r.Body.(*trackedBody); ok {
		return tracked.used()
	}
	return false
}

// Clone 在首次读取前把正文缓冲到内存，原响应与副本各自持有独立 Reader。
func (r *Response) Clone() (*Response, error) {
	if r == nil {
		return nil, errors.New("nil response")
	}
	if r.BodyUsed() {
		return nil, ErrBodyUsed
	}
	payload, err := r.drain()
	if err != nil {
		return nil, err
	}
	r.Body = newTrackedBody(io.NopCloser(bytes.NewReader(payload)))

	cp := *r
	cp.Header = r.Header.Clone()
	cp.Body = newTrackedBody(io.NopCloser(bytes.NewReader(payload)))
	return &cp, nil
}

// Snapshot 消费正文并生成可落盘的 Entry；调用后响应正文不可再读。
func (r *Response) Snapshot(key Key) (*Entry, error) {
	if r.BodyUsed() {
		return nil, ErrBodyUsed
	}
	payload, err := r.drain()
	if err != nil {
		return nil, err
	}
	statusText := r.StatusText
	if statusText == "" {
		statusText = http.StatusText(r.Status)
	}
	url := r.URL
	if url == "" {
		url = key.URL
	}
	return &Entry{
		Method:     key.Method,
		URL:        url,
		Status:     r.Status,
		StatusText: statusText,
		Header:     r.Header.Clone(),
		Type:       r.Type,
		Body:       payload,
		StoredAt:   time.Now().UTC(),
	}, nil
}

func (r *Response) drain() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// trackedBody 记录正文是否被读取过，用于强制“先复制再消费”。
type trackedBody struct {
	io.ReadCloser
	mu   sync.Mutex
	read bool
}

func newTrackedBody(rc io.ReadCloser) *trackedBody {
	return &trackedBody{ReadCloser: rc}
}

func (b *trackedBody) Read(p []byte) (int, error) {
	b.mu.Lock()
	b.read = true
	b.mu.Unlock()
	return b.ReadCloser.Read(p)
}

func (b *trackedBody) used() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read
}
