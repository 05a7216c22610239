package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/cache"
)

const testOrigin = "https://salah.example.com"

type fakeClients struct {
	mu       sync.Mutex
	windows  []ClientInfo
	focused  []string
	opened   []string
	claimed  []string
	matchErr error
}

func (f *fakeClients) MatchAll(ctx context.Context, opts MatchOptions) ([]ClientInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	var out []ClientInfo
	for _, w := range f.windows {
		if opts.Type != "" && w.Type != opts.Type {
			continue
		}
		if !opts.IncludeUncontrolled && w.Controller == "" {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (f *fakeClients) Focus(ctx context.Context, id string) (ClientInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.windows {
		if w.ID == id {
			f.focused = append(f.focused, id)
			return ClientInfo{ID: w.ID, URL: w.URL, Type: w.Type, Controller: w.Controller, Focused: true}, nil
		}
	}
	return ClientInfo{}, errors.New("client not found")
}

func (f *fakeClients) OpenWindow(ctx context.Context, url string) (ClientInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, url)
	info := ClientInfo{ID: fmt.Sprintf("opened-%d", len(f.opened)), URL: url, Type: ClientTypeWindow}
	return info, nil
}

func (f *fakeClients) Claim(ctx context.Context, generation string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimed = append(f.claimed, generation)
	for i := range f.windows {
		f.windows[i].Controller = generation
	}
	return nil
}

type shownNotification struct {
	title string
	opts  NotificationOptions
}

type fakeNotifier struct {
	mu     sync.Mutex
	shown  []shownNotification
	closed []string
}

func (f *fakeNotifier) Show(ctx context.Context, title string, opts NotificationOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, shownNotification{title: title, opts: opts})
	return nil
}

func (f *fakeNotifier) Close(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, tag)
	return nil
}

// switchableOrigin 按路径返回固定内容，可整体切换为失败。
type switchableOrigin struct {
	mu      sync.Mutex
	bodies  map[string]string
	failing map[string]bool
}

func newSwitchableOrigin(bodies map[string]string) *switchableOrigin {
	return &switchableOrigin{bodies: bodies, failing: make(map[string]bool)}
}

func (o *switchableOrigin) fail(path string) {
	o.mu.Lock()
	o.failing[path] = true
	o.mu.Unlock()
}

func (o *switchableOrigin) setBody(path, body string) {
	o.mu.Lock()
	o.bodies[path] = body
	o.mu.Unlock()
}

func (o *switchableOrigin) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	path := strings.TrimPrefix(req.URL, testOrigin)
	if o.failing[path] {
		return cache.NewResponse(http.StatusInternalServerError, nil, nil), nil
	}
	body, ok := o.bodies[path]
	if !ok {
		return cache.NewResponse(http.StatusNotFound, nil, nil), nil
	}
	return cache.NewResponse(http.StatusOK, nil, []byte(body)), nil
}

// undeletableStorage 让所有整代删除失败，用于验证清理失败不影响激活。
type undeletableStorage struct {
	cache.Storage
}

func (s undeletableStorage) Delete(ctx context.Context, generation string) (bool, error) {
	return false, errors.New("device busy")
}

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestManager(t *testing.T, storage cache.Storage, fetcher cache.Fetcher) *cache.Manager {
	t.Helper()
	manager, err := cache.NewManager(cache.ManagerOptions{Storage: storage, Fetcher: fetcher, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("manager init error: %v", err)
	}
	return manager
}

func lookupBody(t *testing.T, manager *cache.Manager, generation, path string) (string, bool) {
	t.Helper()
	resp, ok, err := manager.Lookup(context.Background(), generation, cache.MustKey(http.MethodGet, testOrigin+path))
	if err != nil {
		t.Fatalf("lookup error: %v", err)
	}
	if !ok {
		return "", false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body), true
}
