package platform

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/lifecycle"
)

// ErrClientNotFound 表示客户端 ID 未注册。
var ErrClientNotFound = errors.New("client not found")

// ClientRegistry 是 lifecycle.Clients 的进程内实现：宿主页面通过控制接口注册/注销窗口，
// 代理据此聚焦、打开窗口并在激活时接管。
type ClientRegistry struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	clients map[string]*lifecycle.ClientInfo
	ordered []string
	// claimed 为最近一次 Claim 的代际，新注册的客户端默认受其控制。
	claimed string
}

// NewClientRegistry 构建空注册表。
func NewClientRegistry(logger *logrus.Logger) *ClientRegistry {
	return &ClientRegistry{
		logger:  logger,
		clients: make(map[string]*lifecycle.ClientInfo),
	}
}

// Register 注册或更新客户端；ID 为空时分配 UUID，类型缺省为 window。
func (r *ClientRegistry) Register(info lifecycle.ClientInfo) (lifecycle.ClientInfo, error) {
	info.URL = strings.TrimSpace(info.URL)
	if info.URL == "" {
		return lifecycle.ClientInfo{}, errors.New("client url is required")
	}
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	if info.Type == "" {
		info.Type = lifecycle.ClientTypeWindow
	}

	r.mu.Lock()
	if info.Controller == "" {
		info.Controller = r.claimed
	}
	if _, exists := r.clients[info.ID]; !exists {
		r.ordered = append(r.ordered, info.ID)
	}
	stored := info
	r.clients[info.ID] = &stored
	r.mu.Unlock()

	r.log(logrus.Fields{"action": "client_register", "client_id": info.ID, "url": info.URL}).Info("client_registered")
	return info, nil
}

// Unregister 移除客户端，返回是否存在。
func (r *ClientRegistry) Unregister(id string) bool {
	r.mu.Lock()
	_, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		for i, existing := range r.ordered {
			if existing == id {
				r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		r.log(logrus.Fields{"action": "client_unregister", "client_id": id}).Info("client_unregistered")
	}
	return ok
}

// List 返回所有客户端（按注册顺序），用于诊断输出。
func (r *ClientRegistry) List() []lifecycle.ClientInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]lifecycle.ClientInfo, 0, len(r.ordered))
	for _, id := range r.ordered {
		result = append(result, *r.clients[id])
	}
	return result
}

// MatchAll 实现 lifecycle.Clients。
func (r *ClientRegistry) MatchAll(ctx context.Context, opts lifecycle.MatchOptions) ([]lifecycle.ClientInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []lifecycle.ClientInfo
	for _, client := range r.List() {
		if opts.Type != "" && client.Type != opts.Type {
			continue
		}
		if !opts.IncludeUncontrolled && client.Controller == "" {
			continue
		}
		result = append(result, client)
	}
	return result, nil
}

// Focus 实现 lifecycle.Clients：同一时刻只有一个客户端处于聚焦状态。
func (r *ClientRegistry) Focus(ctx context.Context, id string) (lifecycle.ClientInfo, error) {
	if err := ctx.Err(); err != nil {
		return lifecycle.ClientInfo{}, err
	}
	r.mu.Lock()
	target, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return lifecycle.ClientInfo{}, ErrClientNotFound
	}
	for _, client := range r.clients {
		client.Focused = false
	}
	target.Focused = true
	focused := *target
	r.mu.Unlock()

	r.log(logrus.Fields{"action": "client_focus", "client_id": id, "url": focused.URL}).Info("client_focused")
	return focused, nil
}

// OpenWindow 实现 lifecycle.Clients：登记一个新的聚焦窗口。
func (r *ClientRegistry) OpenWindow(ctx context.Context, url string) (lifecycle.ClientInfo, error) {
	if err := ctx.Err(); err != nil {
		return lifecycle.ClientInfo{}, err
	}
	info, err := r.Register(lifecycle.ClientInfo{URL: url, Type: lifecycle.ClientTypeWindow})
	if err != nil {
		return lifecycle.ClientInfo{}, err
	}
	return r.Focus(ctx, info.ID)
}

// Claim 实现 lifecycle.Clients：所有已注册客户端改由 generation 控制。
func (r *ClientRegistry) Claim(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.claimed = generation
	for _, client := range r.clients {
		client.Controller = generation
	}
	count := len(r.clients)
	r.mu.Unlock()

	r.log(logrus.Fields{"action": "claim", "generation": generation, "clients": count}).Info("clients_claimed")
	return nil
}

func (r *ClientRegistry) log(fields logrus.Fields) *logrus.Entry {
	logger := r.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fields["component"] = "clients"
	return logger.WithFields(fields)
}
