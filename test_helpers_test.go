package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// cliOutput 收集 run 在测试期间写到 stdout/stderr 的内容。
type cliOutput struct {
	out bytes.Buffer
	err bytes.Buffer
}

var captured *cliOutput

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲，结束后还原。
func useBufferWriters(t *testing.T) {
	t.Helper()
	restoreOut, restoreErr := stdOut, stdErr
	captured = &cliOutput{}
	stdOut, stdErr = &captured.out, &captured.err
	t.Cleanup(func() {
		stdOut, stdErr = restoreOut, restoreErr
		captured = nil
	})
}

func stdOutBuffer() *bytes.Buffer { return &captured.out }

func stdErrBuffer() *bytes.Buffer { return &captured.err }

// configFixture 指向 internal/config/testdata 中的样例；go test 以包目录为工作目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("internal", "config", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("配置样例不存在: %v", err)
	}
	return path
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
