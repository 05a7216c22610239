package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/any-hub/offline-agent/internal/config"
	"github.com/any-hub/offline-agent/internal/logging"
	"github.com/any-hub/offline-agent/internal/proxy"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("OFFLINE_AGENT_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsDefaultPath(t *testing.T) {
	t.Setenv("OFFLINE_AGENT_CONFIG", "")

	opts, err := parseCLIFlags([]string{"-check-config"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "config.toml" || !opts.checkOnly {
		t.Fatalf("默认参数不符合预期: %+v", opts)
	}
	if _, err := parseCLIFlags([]string{"--unknown"}); err == nil {
		t.Fatalf("未知参数应返回错误")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d，stderr=%s", code, stdErrBuffer().String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(stdErrBuffer().String(), "加载配置失败") {
		t.Fatalf("stderr 应包含失败原因，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "offline-agent") {
		t.Fatalf("version 输出应包含 offline-agent 标识")
	}
}

func TestAgentServesInstalledShellOffline(t *testing.T) {
	var down atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "body:"+r.URL.Path)
	}))
	defer upstream.Close()

	cfg := &config.Config{Global: config.GlobalConfig{
		Origin:        upstream.URL,
		StorageDriver: config.StorageDriverMemory,
		CacheName:     "salah-times-v1",
		Manifest:      []string{"./index.html", "./app.js"},
	}}
	config.ApplyDefaults(cfg)

	ag, err := newAgent(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("newAgent 失败: %v", err)
	}
	ag.bootstrap(context.Background())
	if got := ag.controller.Current(); got != "salah-times-v1" {
		t.Fatalf("安装后应激活 salah-times-v1，得到 %q", got)
	}

	get := func(path string, header map[string]string) *http.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		for k, v := range header {
			req.Header.Set(k, v)
		}
		resp, err := ag.app.Test(req)
		if err != nil {
			t.Fatalf("请求 %s 失败: %v", path, err)
		}
		return resp
	}

	// 未在清单中的资源首次回源并写入缓存。
	resp := get("/extra.css", nil)
	if resp.Header.Get(proxy.CacheHeader) != "stored" {
		t.Fatalf("首次请求应写入缓存，得到 %s", resp.Header.Get(proxy.CacheHeader))
	}
	resp.Body.Close()
	ag.writer.Wait()

	down.Store(true)

	for _, path := range []string{"/app.js", "/extra.css"} {
		resp := get(path, nil)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || string(body) != "body:"+path {
			t.Fatalf("离线时 %s 应命中缓存，得到 %d %q", path, resp.StatusCode, body)
		}
		if resp.Header.Get(proxy.CacheHeader) != "hit" {
			t.Fatalf("%s 应标记为 hit，得到 %s", path, resp.Header.Get(proxy.CacheHeader))
		}
	}

	resp = get("/prayer/today", map[string]string{"Sec-Fetch-Mode": "navigate", "Sec-Fetch-Dest": "document"})
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "body:/index.html" {
		t.Fatalf("离线导航应回退到 index.html，得到 %q", body)
	}

	resp = get("/api/times.json", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("离线未缓存资源应返回 503，得到 %d", resp.StatusCode)
	}

	resp = get("/-/sw/status", nil)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `"current":"salah-times-v1"`) {
		t.Fatalf("状态接口应返回当前代际，得到 %s", body)
	}
}

func TestAgentInstallFailureKeepsPassThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "ok")
	}))
	defer upstream.Close()

	cfg := &config.Config{Global: config.GlobalConfig{
		Origin:        upstream.URL,
		StorageDriver: config.StorageDriverMemory,
		CacheName:     "salah-times-v2",
		Manifest:      []string{"./index.html", "./missing.js"},
	}}
	config.ApplyDefaults(cfg)

	ag, err := newAgent(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("newAgent 失败: %v", err)
	}
	ag.bootstrap(context.Background())
	if got := ag.controller.Current(); got != "" {
		t.Fatalf("安装失败不应激活任何代际，得到 %q", got)
	}

	resp, err := ag.app.Test(httptest.NewRequest(http.MethodGet, "/index.html", nil))
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	resp.Body.Close()
	if resp.Header.Get(proxy.CacheHeader) != "bypass" {
		t.Fatalf("没有当前代际时应直连，得到 %s", resp.Header.Get(proxy.CacheHeader))
	}
}

func TestOpenStorageRejectsUnknownDriver(t *testing.T) {
	if _, err := openStorage(config.GlobalConfig{StorageDriver: "redis"}); err == nil {
		t.Fatalf("未知存储驱动应返回错误")
	}
	storage, err := openStorage(config.GlobalConfig{StorageDriver: config.StorageDriverDisk, StoragePath: t.TempDir()})
	if err != nil || storage == nil {
		t.Fatalf("磁盘驱动应成功，err=%v", err)
	}
}
