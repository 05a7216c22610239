package config

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储驱动：disk 落盘到 StoragePath，memory 仅驻留进程内存。
const (
	StorageDriverDisk   = "disk"
	StorageDriverMemory = "memory"
)

// GlobalConfig 描述代理进程的运行参数与缓存代际设置。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StorageDriver       string   `mapstructure:"StorageDriver"`
	StoragePath         string   `mapstructure:"StoragePath"`
	Origin              string   `mapstructure:"Origin"`
	Scope               string   `mapstructure:"Scope"`
	CacheName           string   `mapstructure:"CacheName"`
	Manifest            []string `mapstructure:"Manifest"`
	FallbackDocument    string   `mapstructure:"FallbackDocument"`
	ExcludedSchemes     []string `mapstructure:"ExcludedSchemes"`
	SkipWaiting         bool     `mapstructure:"SkipWaiting"`
	PopulateConcurrency int      `mapstructure:"PopulateConcurrency"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	StoreTimeout        Duration `mapstructure:"StoreTimeout"`
}

// NotificationConfig 决定推送通知的固定结构（标题、图标、动作按钮等）。
type NotificationConfig struct {
	Title       string `mapstructure:"Title"`
	DefaultBody string `mapstructure:"DefaultBody"`
	Icon        string `mapstructure:"Icon"`
	Badge       string `mapstructure:"Badge"`
	Tag         string `mapstructure:"Tag"`
	DefaultURL  string `mapstructure:"DefaultURL"`
	Vibrate     []int  `mapstructure:"Vibrate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// ScopeURL 返回 Origin + Scope 拼接后的根地址，Manifest 中的相对路径均以此为基准。
// 假定 Validate 已经通过。
func (g GlobalConfig) ScopeURL() *url.URL {
	base, err := url.Parse(g.Origin)
	if err != nil {
		return &url.URL{}
	}
	scope := strings.TrimSpace(g.Scope)
	if scope == "" {
		scope = "/"
	}
	scoped := *base
	scoped.Path = path.Clean("/" + scope)
	if !strings.HasSuffix(scoped.Path, "/") {
		scoped.Path += "/"
	}
	scoped.RawQuery = ""
	scoped.Fragment = ""
	return &scoped
}

// OriginHost 返回 Origin 中的 host，用于日志字段。
func (g GlobalConfig) OriginHost() string {
	if parsed, err := url.Parse(g.Origin); err == nil {
		return parsed.Host
	}
	return ""
}
