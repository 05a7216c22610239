package platform

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/lifecycle"
)

// Notification 是当前仍在展示中的通知。
type Notification struct {
	Title   string                        `json:"title"`
	Options lifecycle.NotificationOptions `json:"options"`
	ShownAt time.Time                     `json:"shown_at"`
}

// LogNotifier 是 lifecycle.Notifier 的默认实现：以结构化日志记录通知，
// 并按 tag 保留仍未关闭的通知。相同 tag 的新通知替换旧通知。
type LogNotifier struct {
	logger *logrus.Logger

	mu     sync.Mutex
	active map[string]Notification
}

// NewLogNotifier 构建通知端口。
func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger, active: make(map[string]Notification)}
}

// Show 实现 lifecycle.Notifier。
func (n *LogNotifier) Show(ctx context.Context, title string, opts lifecycle.NotificationOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	_, replaced := n.active[opts.Tag]
	n.active[opts.Tag] = Notification{Title: title, Options: opts, ShownAt: time.Now().UTC()}
	n.mu.Unlock()

	n.logger.WithFields(logrus.Fields{
		"action":   "notification_show",
		"title":    title,
		"body":     opts.Body,
		"tag":      opts.Tag,
		"url":      opts.Data.URL,
		"replaced": replaced,
	}).Info("notification_displayed")
	return nil
}

// Close 实现 lifecycle.Notifier；tag 不存在时不报错。
func (n *LogNotifier) Close(ctx context.Context, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	_, ok := n.active[tag]
	delete(n.active, tag)
	n.mu.Unlock()

	if ok {
		n.logger.WithFields(logrus.Fields{"action": "notification_close", "tag": tag}).Info("notification_dismissed")
	}
	return nil
}

// Active 返回仍在展示的通知，按 tag 排序。
func (n *LogNotifier) Active() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	tags := make([]string, 0, len(n.active))
	for tag := range n.active {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	result := make([]Notification, 0, len(tags))
	for _, tag := range tags {
		result = append(result, n.active[tag])
	}
	return result
}
