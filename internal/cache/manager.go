package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PopulateError 描述清单预取失败的资源；任何一项失败都会使整个代际作废。
type PopulateError struct {
	Generation string
	URL        string
	Status     int
	Err        error
}

func (e *PopulateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("populate %s: fetch %s: %v", e.Generation, e.URL, e.Err)
	}
	return fmt.Sprintf("populate %s: fetch %s: unexpected status %d", e.Generation, e.URL, e.Status)
}

func (e *PopulateError) Unwrap() error {
	return e.Err
}

// ManagerOptions 控制 Manager 的依赖与并发度。
type ManagerOptions struct {
	Storage Storage
	Fetcher Fetcher
	Logger  *logrus.Logger
	// Concurrency 为清单预取的最大并发数，<=0 时退化为串行。
	Concurrency int
}

// Manager 持有唯一的缓存存储，负责代际预填充、旧代际清理以及条目读写。
// Manager 本身不记录“当前代际”，所有操作都显式传入 generation。
type Manager struct {
	storage     Storage
	fetcher     Fetcher
	logger      *logrus.Logger
	concurrency int
}

// NewManager 校验依赖并构造 Manager。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Storage == nil {
		return nil, errors.New("cache storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		storage:     opts.Storage,
		fetcher:     opts.Fetcher,
		logger:      opts.Logger,
		concurrency: concurrency,
	}, nil
}

// Populate 抓取清单中的全部资源并写入 generation。任一资源抓取失败或返回非 2xx
// 时整体失败（*PopulateError），已写入的部分会被回滚，不会留下半成品代际。
// 调用方需保证 generation 不是当前正在服务的代际。
func (m *Manager) Populate(ctx context.Context, generation string, manifest []string) error {
	if err := validateGeneration(generation); err != nil {
		return err
	}

	fields := logrus.Fields{"action": "populate", "generation": generation, "resources": len(manifest)}
	m.logger.WithFields(fields).Info("app_shell_caching")

	keys := make([]Key, len(manifest))
	for i, raw := range manifest {
		key, err := NewKey(http.MethodGet, raw)
		if err != nil {
			return &PopulateError{Generation: generation, URL: raw, Err: err}
		}
		keys[i] = key
	}

	entries := make([]*Entry, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, key := range keys {
		g.Go(func() error {
			entry, err := m.fetchManifestEntry(gctx, generation, key)
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.WithFields(fields).WithError(err).Error("app_shell_cache_failed")
		return err
	}

	if err := m.storage.Open(ctx, generation); err != nil {
		m.logger.WithFields(fields).WithError(err).Error("app_shell_cache_failed")
		return fmt.Errorf("open generation %s: %w", generation, err)
	}
	for i, key := range keys {
		if err := m.storage.Put(ctx, generation, key, entries[i]); err != nil {
			m.rollback(generation)
			m.logger.WithFields(fields).WithError(err).Error("app_shell_cache_failed")
			return fmt.Errorf("store %s in %s: %w", key.URL, generation, err)
		}
	}

	m.logger.WithFields(fields).Info("app_shell_cached")
	return nil
}

func (m *Manager) fetchManifestEntry(ctx context.Context, generation string, key Key) (*Entry, error) {
	resp, err := m.fetcher.Fetch(ctx, NewRequest(key.Method, key.URL))
	if err != nil {
		return nil, &PopulateError{Generation: generation, URL: key.URL, Err: err}
	}
	if !resp.OK() {
		if resp.Body != nil {
			resp.Body.Close()
		}
		return nil, &PopulateError{Generation: generation, URL: key.URL, Status: resp.Status}
	}
	entry, err := resp.Snapshot(key)
	if err != nil {
		return nil, &PopulateError{Generation: generation, URL: key.URL, Err: err}
	}
	return entry, nil
}

// rollback 在写入失败后删除半成品代际，使用独立 context 确保清理不被取消。
func (m *Manager) rollback(generation string) {
	if _, err := m.storage.Delete(context.Background(), generation); err != nil {
		m.logger.WithFields(logrus.Fields{
			"action":     "populate_rollback",
			"generation": generation,
		}).WithError(err).Warn("populate_rollback_failed")
	}
}

// Prune 删除 keep 以外的全部代际；重复调用结果一致。单个代际删除失败只记录日志，
// 汇总后的错误在清理结束时返回。
func (m *Manager) Prune(ctx context.Context, keep string) error {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		m.logger.WithFields(logrus.Fields{"action": "prune", "keep": keep}).WithError(err).Error("cache_keys_failed")
		return fmt.Errorf("list generations: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == keep {
			continue
		}
		fields := logrus.Fields{"action": "prune", "keep": keep, "generation": name}
		deleted, err := m.storage.Delete(ctx, name)
		if err != nil {
			m.logger.WithFields(fields).WithError(err).Warn("old_cache_delete_failed")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		if deleted {
			m.logger.WithFields(fields).Info("old_cache_deleted")
		}
	}

	m.logger.WithFields(logrus.Fields{"action": "prune", "keep": keep}).Info("cleanup_complete")
	return errors.Join(errs...)
}

// Lookup 在单个代际中精确匹配，不回退到其它代际；命中时返回独立可读的响应。
func (m *Manager) Lookup(ctx context.Context, generation string, key Key) (*Response, bool, error) {
	entry, err := m.storage.Match(ctx, generation, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ResponseFromEntry(entry), true, nil
}

// Store 插入或覆盖条目。内部先复制响应，调用方持有的 resp 仍可继续读取。
// generation 已被清理时返回 ErrNotFound，不会重新创建该代际。
func (m *Manager) Store(ctx context.Context, generation string, key Key, resp *Response) error {
	if err := validateGeneration(generation); err != nil {
		return err
	}
	dup, err := resp.Clone()
	if err != nil {
		return fmt.Errorf("duplicate response for %s: %w", key.URL, err)
	}
	entry, err := dup.Snapshot(key)
	if err != nil {
		return fmt.Errorf("snapshot response for %s: %w", key.URL, err)
	}
	return m.storage.Put(ctx, generation, key, entry)
}

// Generations 返回存储中现存的代际，供诊断接口使用。
func (m *Manager) Generations(ctx context.Context) ([]string, error) {
	return m.storage.Keys(ctx)
}

// HasGeneration 判断代际是否存在于存储中。
func (m *Manager) HasGeneration(ctx context.Context, generation string) (bool, error) {
	names, err := m.storage.Keys(ctx)
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == generation {
			return true, nil
		}
	}
	return false, nil
}

// LoadActive/SaveActive 透传到底层存储的激活指针。
func (m *Manager) LoadActive(ctx context.Context) (string, error) {
	return m.storage.LoadActive(ctx)
}

func (m *Manager) SaveActive(ctx context.Context, generation string) error {
	return m.storage.SaveActive(ctx, generation)
}
