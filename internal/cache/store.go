package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

// Storage 描述按代际（generation）分桶的缓存存储，语义对齐浏览器 CacheStorage：
//
//	<generation>/<method + url>  →  Entry
//
// 同一 Key 的并发写入遵循 last-writer-wins，不做合并。
type Storage interface {
	// Open 创建（或复用已存在的）代际桶。
	Open(ctx context.Context, generation string) error

	// Keys 返回当前存在的全部代际名称，按字典序排列。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除整个代际及其所有条目；代际不存在时返回 false 且不报错。
	Delete(ctx context.Context, generation string) (bool, error)

	// Match 在单个代际内精确查找条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, generation string, key Key) (*Entry, error)

	// Put 插入或整体覆盖一个条目。代际不存在（未 Open 或已被 Delete）时返回 ErrNotFound，
	// 迟到的写入因此不会让已清理的代际复活。
	Put(ctx context.Context, generation string, key Key, entry *Entry) error

	// LoadActive/SaveActive 持久化最近一次激活的代际，进程重启后据此恢复。
	LoadActive(ctx context.Context) (string, error)
	SaveActive(ctx context.Context, generation string) error
}

// ResponseType 对应 Fetch 规范中的 Response.type。
type ResponseType string

const (
	ResponseTypeBasic  ResponseType = "basic"
	ResponseTypeCORS   ResponseType = "cors"
	ResponseTypeOpaque ResponseType = "opaque"
	ResponseTypeError  ResponseType = "error"
)

// Entry 是落入缓存的响应快照（状态、头部、正文），写入后不再原地修改。
type Entry struct {
	Method     string       `json:"method"`
	URL        string       `json:"url"`
	Status     int          `json:"status"`
	StatusText string       `json:"status_text"`
	Header     http.Header  `json:"header"`
	Type       ResponseType `json:"type"`
	Body       []byte       `json:"body"`
	StoredAt   time.Time    `json:"stored_at"`
}

// clone 深拷贝条目，避免调用方修改共享切片或 Header。
func (e *Entry) clone() *Entry {
	if e == nil {
		return nil
	}
	cp := *e
	cp.Header = e.Header.Clone()
	cp.Body = append([]byte(nil), e.Body...)
	return &cp
}

var (
	// ErrNotFound 表示条目或代际不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidGeneration 表示代际名称为空或包含路径字符。
	ErrInvalidGeneration = errors.New("invalid cache generation")
)

func validateGeneration(generation string) error {
	if strings.TrimSpace(generation) == "" ||
		strings.ContainsAny(generation, `/\`) ||
		strings.HasPrefix(generation, ".") {
		return ErrInvalidGeneration
	}
	return nil
}
