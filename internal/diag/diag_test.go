package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advent/internal/httpx"
	"advent/pkg/contract"
)

func decodeEvents(t *testing.T, b []byte) []Event {
	t.Helper()
	var out []Event
	for _, line := range strings.Split(strings.TrimSpace(string(b)), "\n") {
		if line == "" {
			continue
		}
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(line), &ev), line)
		out = append(out, ev)
	}
	return out
}

// 日志写入轮转文件
func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewFileLogger("corr", "info", SinkOptions{Dir: dir})
	timer := l.Start("fetcher", "fetch page")
	timer.Finish("ok", 1)
	require.NoError(t, l.Close())

	b, err := os.ReadFile(filepath.Join(dir, LogFileName))
	require.NoError(t, err)
	evs := decodeEvents(t, b)
	require.Len(t, evs, 2)
	assert.Equal(t, "start", evs[0].Stage)
	assert.Equal(t, "finish", evs[1].Stage)
	assert.Equal(t, "corr", evs[1].CorrID)
	assert.EqualValues(t, 1, evs[1].Count)
}

func TestLoggerEventsAndFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("c1", "info", &buf)
	assert.Equal(t, "c1", l.CorrID())

	l.DebugStart("comp", "hidden", "f", nil) // info 级别下被过滤
	timer := l.StartWithKV("transfer", "download", "1-x", map[string]string{"url": "https://h/1-x.in.xz"})
	l.Warn("transfer", "retry", string(CodeIO), "verify failed", "1-x", map[string]string{"attempt": "1"})
	l.ErrorWithKV("transfer", string(CodeNetwork), "boom", timer.Since(), "1-x", map[string]string{"http_status": "502"})
	l.Info("sync", "skip", "already exists", "2-y", nil)
	l.InfoFinish("sync", "done", time.Now(), 3)

	evs := decodeEvents(t, buf.Bytes())
	require.Len(t, evs, 5)
	assert.Equal(t, "info", evs[0].Level)
	assert.Equal(t, "1-x", evs[0].FileID)
	assert.Equal(t, "warn", evs[1].Level)
	assert.Equal(t, "retry", evs[1].Stage)
	assert.Equal(t, "error", evs[2].Level)
	assert.Equal(t, "network", evs[2].Code)
	assert.Equal(t, "502", evs[2].KV["http_status"])
	assert.Equal(t, "skip", evs[3].Stage)
	assert.EqualValues(t, 3, evs[4].Count)
}

func TestLoggerLevels(t *testing.T) {
	assert.Equal(t, "warn", Warn.String())
	assert.Equal(t, "info", Level(12345).String())

	var buf bytes.Buffer
	l := NewWriterLogger("c", "ERROR", &buf)
	l.Start("comp", "x")
	l.Warn("comp", "retry", "", "x", "", nil)
	assert.Zero(t, buf.Len())
	l.ErrorWithKV("comp", "io", "x", nil, "", nil)
	assert.NotZero(t, buf.Len())

	// nil 安全
	var nl *Logger
	nl.Start("comp", "x").Finish("x", 0)
	assert.NoError(t, nl.Close())
	var tnil *Timer
	tnil.Finish("x", 0)
	assert.Nil(t, tnil.Since())
	(&Timer{}).Finish("x", 0)
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, fmt.Errorf("disk full") }

// sink 写失败时回退 stderr，不 panic
func TestLoggerSinkFailure(t *testing.T) {
	l := NewWriterLogger("c", "info", failWriter{})
	l.ErrorWithKV("comp", "io", "msg", nil, "f", map[string]string{"k": "v"})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		code Code
	}{
		{contract.ErrResponseInvalid, CodeProtocol},
		{errors.Annotate(context.Canceled, "x"), CodeCancel},
		{context.DeadlineExceeded, CodeCancel},
		{&fs.PathError{Op: "open", Path: "/", Err: fmt.Errorf("x")}, CodeIO},
		{errors.Annotatef(contract.ErrDownloadIncomplete, "1-x"), CodeIO},
		{&net.DNSError{Err: "x"}, CodeNetwork},
		{httpx.UpstreamError{Status: 503}, CodeNetwork},
		{errors.Annotatef(contract.ErrToolMissing, "xz"), CodeTool},
		{contract.ErrToolFailed, CodeTool},
		{errors.Annotatef(contract.ErrInvalidInput, "line 3"), CodeInvariant},
		{contract.ErrIdentifierNotFound, CodeInvariant},
		{contract.ErrPathInvalid, CodeInvariant},
		{errors.NotValidf("window 0"), CodeInvariant},
		{fmt.Errorf("other"), CodeUnknown},
		{nil, CodeUnknown},
	}
	for _, c := range cases {
		assert.Equal(t, c.code, Classify(c.err), "%v", c.err)
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(errors.Annotatef(contract.ErrDownloadIncomplete, "x")))
	assert.True(t, Retryable(httpx.UpstreamError{Status: 502}))
	assert.True(t, Retryable(contract.ErrToolFailed))
	assert.False(t, Retryable(contract.ErrToolMissing))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(contract.ErrPathInvalid))
	assert.False(t, Retryable(&fs.PathError{Op: "open", Path: "/", Err: fs.ErrPermission}))
	assert.False(t, Retryable(contract.ErrResponseInvalid))
}

func TestMetrics(t *testing.T) {
	before := testutil.ToFloat64(opTotal.WithLabelValues("test", "stage", "success"))
	IncOp("test", "stage", "success")
	assert.Equal(t, before+1, testutil.ToFloat64(opTotal.WithLabelValues("test", "stage", "success")))

	IncError("test", "io")
	assert.GreaterOrEqual(t, testutil.ToFloat64(errorTotal.WithLabelValues("test", "io")), 1.0)

	b0 := testutil.ToFloat64(downloadBytes)
	AddDownloadBytes(10)
	AddDownloadBytes(-5)
	assert.Equal(t, b0+10, testutil.ToFloat64(downloadBytes))

	ObserveDuration("test", "stage", 12)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(opDuration), 1)
}

func TestWriteMetrics(t *testing.T) {
	require.NoError(t, WriteMetrics(""))
	IncOp("export", "stage", "success")
	p := filepath.Join(t.TempDir(), "sub", "advent.prom")
	require.NoError(t, WriteMetrics(p))
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `advent_op_total{comp="export",result="success",stage="stage"}`)
	assert.NotNil(t, Registry())
}

func TestNowUTC(t *testing.T) {
	_, err := time.Parse(time.RFC3339, NowUTC())
	assert.NoError(t, err)
}

// 终端（非 TTY）关键节点输出
func TestTerminalNonTTYFlow(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	require.False(t, term.isTTY)

	term.RunStart(4, "https://the-tk.com/project/aoc2021-bigboys.html")
	term.ItemStart("/data/bigdata/01-depths", "download")
	term.Progress(1, 2, 0) // 非 TTY：不输出进度
	term.ItemFinish("/data/bigdata/01-depths", true, 1536, 5100*time.Millisecond)
	term.ItemFinish("02-dive", false, 0, 20*time.Millisecond)
	term.RunFinish(false, 1536, 41300*time.Millisecond)

	out := sb.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, "[run] 并发=4 | 来源=https://the-tk.com/project/aoc2021-bigboys.html")
	assert.Contains(t, out, "[item] 01-depths | download")
	assert.Contains(t, out, "[done] 01-depths | 1.5 KiB | 用时 5.1s")
	assert.Contains(t, out, "[fail] 02-dive | 用时 20ms")
	assert.Contains(t, out, "[fail] 全部完成 | 条目 2 | 下载 1.5 KiB | 总用时 41.3s")
}

// 终端（TTY）进度节流与清尾
func TestTerminalTTYProgressThrottleAndClear(t *testing.T) {
	var sb strings.Builder
	term := NewTerminal(&sb, true)
	term.isTTY = true
	term.RunStart(2, "page")
	term.ItemStart("x", "download") // TTY 下不打点

	term.Progress(1, 3, 0)
	first := sb.String()
	require.Contains(t, first, "\r[sync] 进度 1/3")
	term.Progress(2, 3, 1) // <100ms 被节流
	assert.Equal(t, first, sb.String())
	time.Sleep(120 * time.Millisecond)
	term.Progress(2, 3, 1)
	assert.Greater(t, len(sb.String()), len(first))

	term.ItemFinish("x", true, 0, time.Second)
	final := sb.String()
	idx := strings.LastIndex(final, "[done]")
	require.Greater(t, idx, 0)
	seg := final[:idx]
	cr := strings.LastIndex(seg, "\r")
	require.GreaterOrEqual(t, cr, 0)
	assert.Contains(t, seg[cr+1:], " ")
}

type flakyWriter struct{ fail bool }

func (w *flakyWriter) Write(p []byte) (int, error) {
	if w.fail {
		w.fail = false
		return 0, fmt.Errorf("boom")
	}
	return len(p), nil
}

// 写失败降级为禁用态
func TestTerminalDisableOnWriteError(t *testing.T) {
	term := NewTerminal(&flakyWriter{fail: true}, true)
	term.RunStart(1, "x")
	assert.False(t, term.enabled)
	term.ItemStart("a", "b")
	term.Progress(0, 0, 0)
	term.ItemFinish("a", true, 0, 0)
	term.RunFinish(true, 0, 0)

	tty := NewTerminal(&flakyWriter{fail: true}, true)
	tty.isTTY = true
	tty.Progress(1, 2, 0)
	assert.False(t, tty.enabled)
}

func TestTerminalGlobalsAndEnv(t *testing.T) {
	SetTerminal(nil)
	assert.Nil(t, GetTerminal())
	SetTerminal(NewTerminal(os.Stderr, false))
	assert.NotNil(t, GetTerminal())
	SetTerminal(nil)

	t.Setenv("CI", "true")
	assert.False(t, NewTerminal(os.Stderr, true).isTTY)

	var tn *Terminal
	tn.RunStart(1, "x")
	tn.ItemStart("a", "b")
	tn.Progress(0, 0, 0)
	tn.ItemFinish("a", true, 0, 0)
	tn.RunFinish(true, 0, 0)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "abcdefghi…", shortenBase("/x/y/abcdefghijk.txt", 10))
	assert.Equal(t, "", shortenBase("x", 0))
	assert.Equal(t, "a b c", safe("a\nb\rc"))
	assert.Equal(t, "0ms", formatDur(0))
	assert.Equal(t, "1.5s", formatDur(1500*time.Millisecond))
}
