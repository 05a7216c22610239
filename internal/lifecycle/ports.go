package lifecycle

import "context"

// ClientTypeWindow 是唯一会被聚焦或打开的客户端类型。
const ClientTypeWindow = "window"

// ClientInfo 描述宿主平台上的一个客户端（页面窗口）。Controller 为控制该客户端的
// 缓存代际，空字符串表示未受控。
type ClientInfo struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Type       string `json:"type"`
	Controller string `json:"controller,omitempty"`
	Focused    bool   `json:"focused"`
}

// MatchOptions 对应 clients.matchAll 的过滤条件。
type MatchOptions struct {
	Type                string
	IncludeUncontrolled bool
}

// Clients 是宿主平台的客户端注册表端口。代理只读取、聚焦或打开窗口，
// 客户端的生命周期归平台所有。
type Clients interface {
	MatchAll(ctx context.Context, opts MatchOptions) ([]ClientInfo, error)
	Focus(ctx context.Context, id string) (ClientInfo, error)
	OpenWindow(ctx context.Context, url string) (ClientInfo, error)
	// Claim 让 generation 立即接管范围内的所有客户端。
	Claim(ctx context.Context, generation string) error
}

// NotificationAction 是通知上的一个操作按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// NotificationData 随通知携带、点击时回传的数据。
type NotificationData struct {
	DateOfArrival int64  `json:"dateOfArrival"`
	PrimaryKey    any    `json:"primaryKey"`
	URL           string `json:"url"`
}

// NotificationOptions 对应 showNotification 的参数。
type NotificationOptions struct {
	Body               string               `json:"body"`
	Icon               string               `json:"icon"`
	Badge              string               `json:"badge"`
	Vibrate            []int                `json:"vibrate"`
	Data               NotificationData     `json:"data"`
	Actions            []NotificationAction `json:"actions"`
	Tag                string               `json:"tag"`
	Renotify           bool                 `json:"renotify"`
	RequireInteraction bool                 `json:"requireInteraction"`
}

// Notifier 是通知展示端口，实际渲染由宿主平台负责。
type Notifier interface {
	Show(ctx context.Context, title string, opts NotificationOptions) error
	Close(ctx context.Context, tag string) error
}
