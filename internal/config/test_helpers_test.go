package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// fixture 返回 testdata 下的配置样例路径。
func fixture(name string) string {
	return filepath.Join("testdata", name)
}

// writeTempConfig 把内联 TOML 写入临时目录并返回路径。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offline-agent.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 返回一份通过校验的最小配置，单项校验测试在此基础上修改。
func validConfig() *Config {
	cfg := &Config{Global: GlobalConfig{
		ListenPort:      8080,
		StoragePath:     "./data",
		Origin:          "https://salah.example.com",
		CacheName:       "salah-times-v1",
		UpstreamTimeout: Duration(time.Second),
	}}
	ApplyDefaults(cfg)
	return cfg
}
