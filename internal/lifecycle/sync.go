package lifecycle

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// SyncTagPrayerTimes 是宿主页面注册的后台同步标签。
const SyncTagPrayerTimes = "sync-prayer-times"

// SyncFunc 处理一次后台同步事件。
type SyncFunc func(ctx context.Context, tag string) error

// HandleSync 分发后台同步事件；未注册的 tag 记录后忽略。
func (c *Controller) HandleSync(ctx context.Context, tag string) error {
	fields := logrus.Fields{"action": "sync", "tag": tag, "generation": c.Current()}
	c.logger.WithFields(fields).Info("background_sync")

	fn, ok := c.onSync[tag]
	if !ok {
		c.logger.WithFields(fields).Debug("sync_tag_ignored")
		return nil
	}
	if err := fn(ctx, tag); err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("sync_failed")
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	return nil
}

// logOnlySync 是 sync-prayer-times 的默认处理：目前只记录事件，数据刷新尚未接入。
func logOnlySync(logger *logrus.Logger) SyncFunc {
	return func(ctx context.Context, tag string) error {
		logger.WithFields(logrus.Fields{"action": "sync", "tag": tag}).Info("syncing_prayer_times")
		return nil
	}
}
