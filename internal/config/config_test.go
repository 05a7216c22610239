package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := fixture("valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.StorageDriver != StorageDriverDisk {
		t.Fatalf("StorageDriver 默认应为 disk，得到 %s", cfg.Global.StorageDriver)
	}
	if cfg.Global.StoragePath == "" {
		t.Fatalf("StoragePath 应该被保留")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 15*time.Second {
		t.Fatalf("UpstreamTimeout 应解析为 15s，得到 %s", cfg.Global.UpstreamTimeout.DurationValue())
	}
	if cfg.Global.StoreTimeout.DurationValue() == 0 {
		t.Fatalf("StoreTimeout 应该自动填充默认值")
	}
	if len(cfg.Global.Manifest) != 5 {
		t.Fatalf("Manifest 长度不符: %v", cfg.Global.Manifest)
	}
	if !cfg.Global.SkipWaiting {
		t.Fatalf("SkipWaiting 默认应开启")
	}
	if cfg.Notification.DefaultBody != "Time for prayer" {
		t.Fatalf("通知正文默认值缺失: %q", cfg.Notification.DefaultBody)
	}
	if len(cfg.Global.ExcludedSchemes) != 3 {
		t.Fatalf("ExcludedSchemes 默认值缺失: %v", cfg.Global.ExcludedSchemes)
	}
}

func TestValidateRejectsMissingOrigin(t *testing.T) {
	cfgPath := fixture("missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("缺少 Origin 的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "Global.ListenPort" {
		t.Fatalf("ListenPort 超出范围应当返回 FieldError，得到 %v", err)
	}
}

func TestValidateOrigin(t *testing.T) {
	testCases := []struct {
		name      string
		origin    string
		shouldErr bool
	}{
		{"https ok", "https://salah.example.com", false},
		{"http with port ok", "http://127.0.0.1:9000", false},
		{"missing", "", true},
		{"ftp scheme", "ftp://salah.example.com", true},
		{"contains path", "https://salah.example.com/app", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Global.Origin = tc.origin
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error for origin %q", tc.origin)
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error for origin %q: %v", tc.origin, err)
			}
		})
	}
}

func TestValidateManifestEntries(t *testing.T) {
	cfg := validConfig()
	cfg.Global.Manifest = []string{"./index.html", "https://cdn.example.com/app.js"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("跨域清单项应报错")
	}

	cfg = validConfig()
	cfg.Global.Manifest = []string{"./index.html", "./index.html"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("重复清单项应报错")
	}
}

func TestValidateStorageDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Global.StorageDriver = "redis"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("未知存储驱动应报错")
	}

	cfg = validConfig()
	cfg.Global.StorageDriver = StorageDriverMemory
	cfg.Global.StoragePath = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory 驱动不需要 StoragePath: %v", err)
	}
}

func TestValidateCacheName(t *testing.T) {
	cfg := validConfig()
	cfg.Global.CacheName = "../escape"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("包含路径分隔符的 CacheName 应报错")
	}
}

func TestOriginHost(t *testing.T) {
	g := GlobalConfig{Origin: "https://salah.example.com:8443/base"}
	if got := g.OriginHost(); got != "salah.example.com:8443" {
		t.Fatalf("OriginHost 不符: %s", got)
	}
	g.Origin = "://bad"
	if got := g.OriginHost(); got != "" {
		t.Fatalf("无法解析的 Origin 应返回空字符串，得到 %s", got)
	}
}

func TestScopeURL(t *testing.T) {
	g := GlobalConfig{Origin: "https://salah.example.com", Scope: "/app"}
	if got := g.ScopeURL().String(); got != "https://salah.example.com/app/" {
		t.Fatalf("ScopeURL 不符: %s", got)
	}
	g.Scope = "/"
	if got := g.ScopeURL().String(); got != "https://salah.example.com/" {
		t.Fatalf("根 scope 不符: %s", got)
	}
}

