package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// BackgroundWriter 以“发射后不管”的方式执行缓存写入：任务在独立 context 上运行，
// 不阻塞响应路径；失败只记录日志。Wait 相当于延长事件生命周期，直到所有写入结束。
// 退出时先 Close 再 Wait，Close 之后提交的任务直接丢弃。
type BackgroundWriter struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewBackgroundWriter 构造后台写入器，timeout<=0 时不设置超时。
func NewBackgroundWriter(logger *logrus.Logger, timeout time.Duration) *BackgroundWriter {
	return &BackgroundWriter{logger: logger, timeout: timeout}
}

// Go 启动一个后台任务；fields 会附加到失败日志中。写入器已关闭时丢弃任务并返回 false。
func (w *BackgroundWriter) Go(fields logrus.Fields, task func(ctx context.Context) error) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.WithFields(fields).Warn("cache_put_dropped")
		}
		return false
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()

		ctx := context.Background()
		var cancel context.CancelFunc = func() {}
		if w.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, w.timeout)
		}
		defer cancel()

		err := w.run(ctx, task)
		if w.logger == nil {
			return
		}
		entry := w.logger.WithFields(fields)
		if err != nil {
			entry.WithError(err).Warn("cache_put_failed")
			return
		}
		entry.Debug("cache_put_complete")
	}()
	return true
}

// Close 停止接收新任务，已提交的任务继续执行；可重复调用。
func (w *BackgroundWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// Wait 阻塞直到所有已提交的任务结束。
func (w *BackgroundWriter) Wait() {
	w.wg.Wait()
}

// WaitContext 与 Wait 相同，但在 ctx 结束时提前返回 ctx.Err()。
func (w *BackgroundWriter) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *BackgroundWriter) run(ctx context.Context, task func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
