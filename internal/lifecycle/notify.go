package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-agent/internal/config"
)

// 通知按钮动作。
const (
	ActionViewTimes = "view-times"
	ActionClose     = "close"
)

// Click 描述一次通知点击事件。
type Click struct {
	Action string           `json:"action"`
	Tag    string           `json:"tag"`
	Data   NotificationData `json:"data"`
}

// pushPayload 是推送正文中可识别的字段，其余字段忽略。
type pushPayload struct {
	Body       string `json:"body"`
	PrimaryKey any    `json:"primaryKey"`
	URL        string `json:"url"`
}

// DispatcherOptions 汇总通知分发所需的端口与固定展示参数。
type DispatcherOptions struct {
	Notifier Notifier
	Clients  Clients
	Logger   *logrus.Logger
	Config   config.NotificationConfig
	// Scope 用于把 ./index.html 这类相对地址解析为可打开的窗口 URL。
	Scope *url.URL
}

// Dispatcher 把推送转为通知，并处理通知的点击与关闭。
type Dispatcher struct {
	notifier Notifier
	clients  Clients
	logger   *logrus.Logger
	cfg      config.NotificationConfig
	scope    *url.URL
	now      func() time.Time
}

// NewDispatcher 校验端口并构造分发器。
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Notifier == nil {
		return nil, errors.New("notifier port is required")
	}
	if opts.Clients == nil {
		return nil, errors.New("clients port is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Dispatcher{
		notifier: opts.Notifier,
		clients:  opts.Clients,
		logger:   opts.Logger,
		cfg:      opts.Config,
		scope:    opts.Scope,
		now:      time.Now,
	}, nil
}

// Push 处理一次推送。没有正文时不展示任何通知；正文不是合法 JSON 时记录后丢弃。
func (d *Dispatcher) Push(ctx context.Context, data []byte) error {
	fields := logrus.Fields{"action": "push", "bytes": len(data)}
	d.logger.WithFields(fields).Info("push_received")

	if len(bytes.TrimSpace(data)) == 0 {
		d.logger.WithFields(fields).Debug("push_without_data")
		return nil
	}

	var payload pushPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.logger.WithFields(fields).WithError(err).Warn("push_payload_invalid")
		return nil
	}

	opts := d.buildOptions(payload)
	if err := d.notifier.Show(ctx, d.cfg.Title, opts); err != nil {
		d.logger.WithFields(fields).WithError(err).Error("notification_show_failed")
		return fmt.Errorf("show notification: %w", err)
	}
	fields["tag"] = opts.Tag
	d.logger.WithFields(fields).Info("notification_shown")
	return nil
}

func (d *Dispatcher) buildOptions(payload pushPayload) NotificationOptions {
	body := payload.Body
	if body == "" {
		body = d.cfg.DefaultBody
	}
	target := payload.URL
	if target == "" {
		target = d.cfg.DefaultURL
	}
	return NotificationOptions{
		Body:    body,
		Icon:    d.cfg.Icon,
		Badge:   d.cfg.Badge,
		Vibrate: append([]int(nil), d.cfg.Vibrate...),
		Data: NotificationData{
			DateOfArrival: d.now().UnixMilli(),
			PrimaryKey:    primaryKeyOrDefault(payload.PrimaryKey),
			URL:           target,
		},
		Actions: []NotificationAction{
			{Action: ActionViewTimes, Title: "View Prayer Times"},
			{Action: ActionClose, Title: "Close"},
		},
		Tag:                d.cfg.Tag,
		Renotify:           true,
		RequireInteraction: false,
	}
}

// primaryKeyOrDefault 保留推送给出的 primaryKey，缺失或为零值时使用 1。
func primaryKeyOrDefault(value any) any {
	switch v := value.(type) {
	case nil:
		return 1
	case string:
		if v == "" {
			return 1
		}
	case float64:
		if v == 0 {
			return 1
		}
	case bool:
		if !v {
			return 1
		}
	}
	return value
}

// Click 关闭被点击的通知，然后聚焦或打开应用窗口：
// view-times 优先聚焦 URL 含 index.html 的窗口，其它动作聚焦第一个窗口；
// 找不到可聚焦窗口时打开 data.url（默认 ./index.html）。
func (d *Dispatcher) Click(ctx context.Context, click Click) error {
	fields := logrus.Fields{"action": "notification_click", "notification_action": click.Action, "tag": click.Tag}
	d.logger.WithFields(fields).Info("notification_clicked")

	if err := d.notifier.Close(ctx, click.Tag); err != nil {
		d.logger.WithFields(fields).WithError(err).Warn("notification_close_failed")
	}

	target := click.Data.URL
	if target == "" {
		target = d.cfg.DefaultURL
	}

	windows, err := d.clients.MatchAll(ctx, MatchOptions{Type: ClientTypeWindow, IncludeUncontrolled: true})
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Warn("clients_match_failed")
		windows = nil
	}

	if candidate, ok := pickWindow(click.Action, windows); ok {
		if _, err := d.clients.Focus(ctx, candidate.ID); err != nil {
			d.logger.WithFields(fields).WithError(err).Warn("client_focus_failed")
			return fmt.Errorf("focus client %s: %w", candidate.ID, err)
		}
		fields["client_id"] = candidate.ID
		d.logger.WithFields(fields).Info("client_focused")
		return nil
	}

	opened, err := d.clients.OpenWindow(ctx, d.resolve(target))
	if err != nil {
		d.logger.WithFields(fields).WithError(err).Warn("open_window_failed")
		return fmt.Errorf("open window %s: %w", target, err)
	}
	fields["client_id"] = opened.ID
	fields["url"] = opened.URL
	d.logger.WithFields(fields).Info("window_opened")
	return nil
}

func pickWindow(action string, windows []ClientInfo) (ClientInfo, bool) {
	if action == ActionViewTimes {
		for _, w := range windows {
			if strings.Contains(w.URL, "index.html") {
				return w, true
			}
		}
		return ClientInfo{}, false
	}
	if len(windows) > 0 {
		return windows[0], true
	}
	return ClientInfo{}, false
}

// Close 处理用户主动关闭通知，仅记录日志。
func (d *Dispatcher) Close(ctx context.Context, tag string) error {
	d.logger.WithFields(logrus.Fields{"action": "notification_close", "tag": tag}).Info("notification_closed")
	return nil
}

func (d *Dispatcher) resolve(target string) string {
	if d.scope == nil {
		return target
	}
	ref, err := url.Parse(target)
	if err != nil {
		return target
	}
	return d.scope.ResolveReference(ref).String()
}
