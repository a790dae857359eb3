package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "advent/internal/config"
	"advent/internal/diag"
	"advent/internal/pipeline"
	"advent/internal/proc"
	"advent/pkg/contract"
)

// setup 切换到临时目录、捕获输出，日志写 stderr 缓冲。
func setup(t *testing.T) (dir string, out, errOut *bytes.Buffer) {
	t.Helper()
	dir = t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr := stdout, stderr
	stdout, stderr = out, errOut
	t.Cleanup(func() {
		stdout, stderr = oldOut, oldErr
		_ = os.Chdir(cwd)
	})
	t.Setenv("ADVENT_LOG_DIR", "-")
	t.Setenv("ADVENT_CONFIG_JSON", "")
	t.Setenv("ADVENT_CONFIG_FILE", "")
	return dir, out, errOut
}

func stubSync(t *testing.T, f func(pipeline.Settings) error) *pipeline.Settings {
	t.Helper()
	var got pipeline.Settings
	orig := syncRun
	syncRun = func(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger, out io.Writer) (pipeline.Summary, error) {
		got = set
		return pipeline.Summary{}, f(set)
	}
	t.Cleanup(func() { syncRun = orig })
	return &got
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const depths = "199\n200\n208\n210\n200\n207\n240\n269\n260\n263\n"

func TestRunUsage(t *testing.T) {
	_, out, errOut := setup(t)
	assert.Equal(t, exitUsage, run(nil))
	assert.Contains(t, errOut.String(), "advent depths")
	assert.Equal(t, exitUsage, run([]string{"frobnicate"}))
	assert.Equal(t, exitOK, run([]string{"help"}))
	assert.Contains(t, out.String(), "advent sync")
	assert.Equal(t, exitUsage, run([]string{"depths", "--no-such-flag"}))
	assert.Equal(t, exitOK, run([]string{"sync", "--help"}))
}

func TestRunDepths(t *testing.T) {
	dir, out, _ := setup(t)
	writeFile(t, filepath.Join(dir, "data", "depths.txt"), depths)

	require.Equal(t, exitOK, run([]string{"depths"}))
	assert.Equal(t, "5\n", out.String())

	out.Reset()
	require.Equal(t, exitOK, run([]string{"depths", "--window", "1", "data/depths.txt"}))
	assert.Equal(t, "7\n", out.String())

	out.Reset()
	t.Setenv("ADVENT_DEPTHS_WINDOW", "1")
	require.Equal(t, exitOK, run([]string{"depths", "--window=3"}))
	assert.Equal(t, "5\n", out.String(), "CLI overrides env")
}

func TestRunDepthsMultipleFiles(t *testing.T) {
	dir, out, _ := setup(t)
	writeFile(t, filepath.Join(dir, "in", "a.txt"), depths)
	writeFile(t, filepath.Join(dir, "in", "b.txt"), "1\n2\n")
	require.Equal(t, exitOK, run([]string{"depths", "in/a.txt", "in/b.txt"}))
	assert.Equal(t, "in/a.txt\t5\nin/b.txt\t0\n", out.String())
}

func TestRunDepthsErrors(t *testing.T) {
	dir, out, errOut := setup(t)
	assert.Equal(t, exitUsage, run([]string{"depths", "--window", "-1"}))

	writeFile(t, filepath.Join(dir, "bad.txt"), "1\nx\n3\n")
	assert.Equal(t, exitRuntime, run([]string{"depths", "bad.txt"}))
	assert.Contains(t, errOut.String(), "line 2")
	assert.Empty(t, out.String())

	// "-" 不能与其他根混用
	assert.Equal(t, exitConfig, run([]string{"depths", "-", "bad.txt"}))
}

func TestRunSyncFlags(t *testing.T) {
	_, _, _ = setup(t)
	got := stubSync(t, func(pipeline.Settings) error { return nil })
	code := run([]string{"sync", "--url", "https://example.org/l.html", "--dir", "/tmp/x",
		"--concurrency", "3", "--max-retries", "0", "--dry-run", "--keep-stale", "--rpm", "10"})
	require.Equal(t, exitOK, code)
	assert.Equal(t, "https://example.org/l.html", got.ManifestURL)
	assert.Equal(t, "/tmp/x", got.DataDir)
	assert.Equal(t, 3, got.Concurrency)
	assert.Equal(t, 0, got.MaxRetries)
	assert.True(t, got.DryRun)
	assert.True(t, got.KeepStale)
	assert.True(t, got.DecompressExisting)
	assert.NotNil(t, got.Gate)
}

func TestRunSyncPrecedence(t *testing.T) {
	dir, _, _ := setup(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"sync":{"concurrency":2,"max_retries":4,"data_dir":"/tmp/file"}}`)
	got := stubSync(t, func(pipeline.Settings) error { return nil })

	require.Equal(t, exitOK, run([]string{"sync"}))
	assert.Equal(t, 2, got.Concurrency)
	assert.Equal(t, 4, got.MaxRetries)

	t.Setenv("ADVENT_SYNC_CONCURRENCY", "3")
	require.Equal(t, exitOK, run([]string{"sync"}))
	assert.Equal(t, 3, got.Concurrency)

	require.Equal(t, exitOK, run([]string{"sync", "--concurrency", "5"}))
	assert.Equal(t, 5, got.Concurrency)
	assert.Equal(t, "/tmp/file", got.DataDir)
}

// keep_stale / dry_run：每一层都可显式打开或关闭
func TestRunSyncBoolPrecedence(t *testing.T) {
	dir, _, _ := setup(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"sync":{"keep_stale":true,"dry_run":true}}`)
	got := stubSync(t, func(pipeline.Settings) error { return nil })

	require.Equal(t, exitOK, run([]string{"sync"}))
	assert.True(t, got.KeepStale)
	assert.True(t, got.DryRun)

	t.Setenv("ADVENT_SYNC_KEEP_STALE", "false")
	require.Equal(t, exitOK, run([]string{"sync"}))
	assert.False(t, got.KeepStale)
	assert.True(t, got.DryRun)

	require.Equal(t, exitOK, run([]string{"sync", "--keep-stale", "--dry-run=false"}))
	assert.True(t, got.KeepStale)
	assert.False(t, got.DryRun)
}

func TestRunSyncYAMLConfig(t *testing.T) {
	dir, _, _ := setup(t)
	writeFile(t, filepath.Join(dir, "c.yaml"), "sync:\n  data_dir: /tmp/yaml\n  decompress_existing: false\n")
	got := stubSync(t, func(pipeline.Settings) error { return nil })
	require.Equal(t, exitOK, run([]string{"sync", "--config", "c.yaml"}))
	assert.Equal(t, "/tmp/yaml", got.DataDir)
	assert.False(t, got.DecompressExisting)
}

func TestRunSyncConfigErrors(t *testing.T) {
	_, _, errOut := setup(t)
	stubSync(t, func(pipeline.Settings) error { return nil })

	assert.Equal(t, exitConfig, run([]string{"sync", "--config", "missing.json"}))

	t.Setenv("ADVENT_CONFIG_JSON", `{"unknown":1}`)
	assert.Equal(t, exitConfig, run([]string{"sync"}))
	t.Setenv("ADVENT_CONFIG_JSON", "")

	assert.Equal(t, exitConfig, run([]string{"sync", "--url", "ftp://example.org/x"}))
	assert.Contains(t, errOut.String(), "有效配置")

	assert.Equal(t, exitConfig, run([]string{"sync", "--transfer", "rsync"}))

	t.Setenv("ADVENT_SYNC_MAX_RETRIES", "lots")
	assert.Equal(t, exitConfig, run([]string{"sync"}))
	t.Setenv("ADVENT_SYNC_MAX_RETRIES", "")

	assert.Equal(t, exitUsage, run([]string{"sync", "extra"}))
}

func TestRunSyncRuntimeErrors(t *testing.T) {
	_, _, errOut := setup(t)
	stubSync(t, func(pipeline.Settings) error {
		return errors.Annotatef(contract.ErrDownloadIncomplete, "01-depths")
	})
	assert.Equal(t, exitRuntime, run([]string{"sync"}))
	assert.Contains(t, errOut.String(), "运行失败")

	stubSync(t, func(pipeline.Settings) error { return context.Canceled })
	assert.Equal(t, exitRuntime, run([]string{"sync"}))
	assert.Contains(t, errOut.String(), "已取消")
}

func TestRunMetricsFile(t *testing.T) {
	dir, _, _ := setup(t)
	stubSync(t, func(pipeline.Settings) error { return nil })
	path := filepath.Join(dir, "m", "advent.prom")
	require.Equal(t, exitOK, run([]string{"sync", "--metrics-file", path}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "advent_op_total")
}

func TestRunInitConfig(t *testing.T) {
	dir, _, _ := setup(t)
	out := filepath.Join(dir, "out")
	require.Equal(t, exitOK, run([]string{"init-config", out}))
	b, err := os.ReadFile(filepath.Join(out, "config.json"))
	require.NoError(t, err)
	var cfg cfgpkg.Config
	require.NoError(t, json.Unmarshal(b, &cfg))
	assert.Equal(t, "curl", cfg.Components.Transfer)

	// 从不覆盖
	assert.Equal(t, exitConfig, run([]string{"init-config", out}))
	assert.Equal(t, exitUsage, run([]string{"init-config", "a", "b"}))

	// 缺省为当前目录，生成的模板可直接被读取
	require.Equal(t, exitOK, run([]string{"init-config"}))
	got := stubSync(t, func(pipeline.Settings) error { return nil })
	require.Equal(t, exitOK, run([]string{"sync", "--dir", "/tmp/tpl"}))
	assert.Equal(t, 2, got.MaxRetries)
}

// fakeXZRunner 模拟 xz：-t 总是成功；-d 去掉后缀写出并删除压缩文件。
type fakeXZRunner struct{ calls []string }

func (r *fakeXZRunner) Run(ctx context.Context, name string, args ...string) (proc.Result, error) {
	r.calls = append(r.calls, proc.CommandLine(name, args...))
	path := args[len(args)-1]
	if args[0] == "-d" {
		b, err := os.ReadFile(path)
		if err != nil {
			return proc.Result{}, err
		}
		if err := os.WriteFile(strings.TrimSuffix(path, ".xz"), b, 0o644); err != nil {
			return proc.Result{}, err
		}
		return proc.Result{}, os.Remove(path)
	}
	return proc.Result{}, nil
}

// 端到端：真实配置/注册表/流水线 + 进程内下载 + 模拟 xz。
func TestRunSyncEndToEnd(t *testing.T) {
	dir, out, _ := setup(t)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/list.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><a href="%[1]s/f/01-depths.in.xz">1</a><a href="%[1]s/f/02-dive.in.xz">2</a><a href="/rel.in.xz">x</a></html>`, srv.URL)
	})
	mux.HandleFunc("/f/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "payload:"+r.URL.Path)
	})
	xz := &fakeXZRunner{}
	orig := newRunner
	newRunner = func(io.Writer) proc.Runner { return xz }
	t.Cleanup(func() { newRunner = orig })

	data := filepath.Join(dir, "bigdata")
	writeFile(t, filepath.Join(data, "02-dive"), "already")
	args := []string{"sync", "--url", srv.URL + "/list.html", "--dir", data, "--transfer", "http", "--status=false"}
	require.Equal(t, exitOK, run(args))

	b, err := os.ReadFile(filepath.Join(data, "01-depths"))
	require.NoError(t, err)
	assert.Equal(t, "payload:/f/01-depths.in.xz", string(b))
	assert.NoFileExists(t, filepath.Join(data, "01-depths.xz"))
	assert.Equal(t, "already", func() string { b, _ := os.ReadFile(filepath.Join(data, "02-dive")); return string(b) }())
	assert.Len(t, xz.calls, 2)
	assert.Contains(t, out.String(), "File "+filepath.Join(data, "02-dive")+" already exists.")
	assert.Contains(t, out.String(), "entries=2 existing=1 downloaded=1 decompressed=1 failed=0")

	// 再次运行：全部已存在，不再启动工具
	out.Reset()
	require.Equal(t, exitOK, run(args))
	assert.Len(t, xz.calls, 2)
	assert.Contains(t, out.String(), "existing=2 downloaded=0")
}
