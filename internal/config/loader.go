package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 与原始 service worker 保持一致的默认应用壳清单。
var defaultManifest = []string{
	"./",
	"./index.html",
	"./icon-192.png",
	"./icon-512.png",
	"./manifest.json",
}

var defaultExcludedSchemes = []string{"chrome-extension", "chrome", "moz-extension"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyNotificationDefaults(&cfg.Notification)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageDriver == StorageDriverDisk {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", StorageDriverDisk)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("Scope", "/")
	v.SetDefault("CacheName", "salah-times-v1")
	v.SetDefault("Manifest", defaultManifest)
	v.SetDefault("FallbackDocument", "./index.html")
	v.SetDefault("ExcludedSchemes", defaultExcludedSchemes)
	v.SetDefault("SkipWaiting", true)
	v.SetDefault("PopulateConcurrency", 4)
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("StoreTimeout", "10s")
}

// ApplyDefaults 为手工构造的配置补齐默认值，测试与嵌入场景复用。
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	applyGlobalDefaults(&cfg.Global)
	applyNotificationDefaults(&cfg.Notification)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = StorageDriverDisk
	}
	if strings.TrimSpace(g.Scope) == "" {
		g.Scope = "/"
	}
	if g.Manifest == nil {
		g.Manifest = append([]string(nil), defaultManifest...)
	}
	if strings.TrimSpace(g.FallbackDocument) == "" {
		g.FallbackDocument = "./index.html"
	}
	if g.ExcludedSchemes == nil {
		g.ExcludedSchemes = append([]string(nil), defaultExcludedSchemes...)
	}
	for i, scheme := range g.ExcludedSchemes {
		g.ExcludedSchemes[i] = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(scheme), "://"))
	}
	if g.PopulateConcurrency <= 0 {
		g.PopulateConcurrency = 4
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.StoreTimeout.DurationValue() == 0 {
		g.StoreTimeout = Duration(10 * time.Second)
	}
}

func applyNotificationDefaults(n *NotificationConfig) {
	if n.Title == "" {
		n.Title = "🕌 Salah Times"
	}
	if n.DefaultBody == "" {
		n.DefaultBody = "Time for prayer"
	}
	if n.Icon == "" {
		n.Icon = "./icon-192.png"
	}
	if n.Badge == "" {
		n.Badge = "./icon-192.png"
	}
	if n.Tag == "" {
		n.Tag = "prayer-notification"
	}
	if n.DefaultURL == "" {
		n.DefaultURL = "./index.html"
	}
	if n.Vibrate == nil {
		n.Vibrate = []int{100, 50, 100}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
