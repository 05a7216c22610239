package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	entrySuffix    = ".json"
	activePointer  = ".active"
	tempFilePrefix = ".cache-"
)

// NewDiskStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
// 目录布局：
//
//	<basePath>/.active                       # 最近激活的代际
//	<basePath>/<generation>/<sha1(key)>.json # 响应快照
func NewDiskStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// fsStorage 通过 entryLock 串行化同一条目的写入；layout 锁让整代删除与条目写入互斥，
// 读路径无锁。
type fsStorage struct {
	basePath string
	layout   sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fsStorage) Open(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *fsStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() || strings.HasPrefix(item.Name(), ".") {
			continue
		}
		names = append(names, item.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *fsStorage) Delete(ctx context.Context, generation string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	dir, err := s.generationDir(generation)
	if err != nil {
		return false, err
	}

	s.layout.Lock()
	defer s.layout.Unlock()

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fsStorage) Match(ctx context.Context, generation string, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.entryPath(generation, key)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	// sha1 冲突极不可能，但仍以 Key 二次确认，避免返回错误的条目。
	if entry.Method != key.Method || entry.URL != key.URL {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (s *fsStorage) Put(ctx context.Context, generation string, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	filePath, err := s.entryPath(generation, key)
	if err != nil {
		return err
	}

	s.layout.RLock()
	defer s.layout.RUnlock()
	unlock := s.lock(generation + "::" + key.String())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if info, err := os.Stat(filepath.Dir(filePath)); err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}

	stored := entry.clone()
	stored.Method = key.Method
	stored.URL = key.URL
	payload, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.writeAtomic(filePath, payload)
}

func (s *fsStorage) LoadActive(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(filepath.Join(s.basePath, activePointer))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s *fsStorage) SaveActive(ctx context.Context, generation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateGeneration(generation); err != nil {
		return err
	}
	return s.writeAtomic(filepath.Join(s.basePath, activePointer), []byte(generation+"\n"))
}

// writeAtomic 通过临时文件 + rename 写入，失败时清理临时文件。目标目录必须已存在。
func (s *fsStorage) writeAtomic(filePath string, payload []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempFilePrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(payload)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fsStorage) lock(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *fsStorage) generationDir(generation string) (string, error) {
	if err := validateGeneration(generation); err != nil {
		return "", err
	}
	dir := filepath.Join(s.basePath, generation)
	if filepath.Dir(dir) != s.basePath {
		return "", ErrInvalidGeneration
	}
	return dir, nil
}

func (s *fsStorage) entryPath(generation string, key Key) (string, error) {
	dir, err := s.generationDir(generation)
	if err != nil {
		return "", err
	}
	if key.URL == "" {
		return "", errors.New("cache key url required")
	}
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(dir, hex.EncodeToString(sum[:])+entrySuffix), nil
}
