package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// go test 以包目录（即仓库根目录）为工作目录运行 main 包测试。
var configFixtureDir = filepath.Join("internal", "config", "testdata")

func configFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(configFixtureDir, name)
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

// captureOutput 在测试期间把 stdOut/stdErr 换成内存缓冲区。
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}
