package cache

import (
	"context"
	"errors"
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// NewMemoryStorage 构建仅驻留进程内存的缓存，每个代际对应一个 go-cache 实例。
// 进程退出后内容丢失，适合开发与测试场景。
func NewMemoryStorage() Storage {
	return &memoryStorage{buckets: make(map[string]*gocache.Cache)}
}

type memoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*gocache.Cache
	active  string
}

func (s *memoryStorage) Open(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(generation); err != nil {
		return err
	}
	s.bucket(generation, true)
	return nil
}

func (s *memoryStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Delete(ctx context.Context, generation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateGeneration(generation); err != nil {
		return false, err
	}
	s.mu.Lock()
	bucket, ok := s.buckets[generation]
	delete(s.buckets, generation)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	bucket.Flush()
	return true, nil
}

func (s *memoryStorage) Match(ctx context.Context, generation string, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateGeneration(generation); err != nil {
		return nil, err
	}
	bucket := s.bucket(generation, false)
	if bucket == nil {
		return nil, ErrNotFound
	}
	value, ok := bucket.Get(key.String())
	if !ok {
		return nil, ErrNotFound
	}
	entry, ok := value.(*Entry)
	if !ok {
		return nil, ErrNotFound
	}
	return entry.clone(), nil
}

func (s *memoryStorage) Put(ctx context.Context, generation string, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(generation); err != nil {
		return err
	}
	stored := entry.clone()
	stored.Method = key.Method
	stored.URL = key.URL

	// 持有读锁完成写入，Delete 无法在检查与写入之间移除代际。
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.buckets[generation]
	if bucket == nil {
		return ErrNotFound
	}
	bucket.Set(key.String(), stored, gocache.NoExpiration)
	return nil
}

func (s *memoryStorage) LoadActive(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

func (s *memoryStorage) SaveActive(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(generation); err != nil {
		return err
	}
	s.mu.Lock()
	s.active = generation
	s.mu.Unlock()
	return nil
}

func (s *memoryStorage) bucket(generation string, create bool) *gocache.Cache {
	s.mu.RLock()
	bucket := s.buckets[generation]
	s.mu.RUnlock()
	if bucket != nil || !create {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket = s.buckets[generation]; bucket == nil {
		// 条目永不过期，生命周期完全由代际删除决定，因此无需后台清理协程。
		bucket = gocache.New(gocache.NoExpiration, 0)
		s.buckets[generation] = bucket
	}
	return bucket
}
