package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/juju/lumberjack/v2"
)

// 级别定义
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// SinkOptions 为日志文件轮转参数；零值使用默认。
type SinkOptions struct {
	Dir        string // 默认 "logs"
	MaxSizeMB  int    // 默认 10
	MaxBackups int    // 默认 5
	MaxAgeDays int    // 0 表示不按时间清理
	Compress   bool
}

// LogFileName 为日志文件名（位于 SinkOptions.Dir 下）。
const LogFileName = "advent.log"

// Logger 为最小结构化日志器：单行 JSON；支持级别过滤。
type Logger struct {
	corrID string
	level  Level
	sink   io.Writer
	closer io.Closer
	mu     sync.Mutex
}

// NewFileLogger 写入 <Dir>/advent.log，按大小轮转。
func NewFileLogger(corrID, level string, opt SinkOptions) *Logger {
	if strings.TrimSpace(opt.Dir) == "" {
		opt.Dir = "logs"
	}
	if opt.MaxSizeMB <= 0 {
		opt.MaxSizeMB = 10
	}
	if opt.MaxBackups <= 0 {
		opt.MaxBackups = 5
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(opt.Dir, LogFileName),
		MaxSize:    opt.MaxSizeMB,
		MaxBackups: opt.MaxBackups,
		MaxAge:     opt.MaxAgeDays,
		Compress:   opt.Compress,
	}
	return &Logger{corrID: corrID, level: parseLevel(level), sink: lj, closer: lj}
}

// NewWriterLogger 写入任意 io.Writer；w 为 nil 时写 stderr。
func NewWriterLogger(corrID, level string, w io.Writer) *Logger {
	return &Logger{corrID: corrID, level: parseLevel(level), sink: w}
}

// Close 关闭文件 sink（若有）。
func (l *Logger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closer.Close()
}

// CorrID 返回本次运行的关联 ID。
func (l *Logger) CorrID() string { return l.corrID }

func parseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

// Event 为标准事件结构。
type Event struct {
	Level  string            `json:"level"`
	TS     string            `json:"ts"`
	CorrID string            `json:"corr_id"`
	Comp   string            `json:"comp"`
	Stage  string            `json:"stage"` // start|finish|error|retry|skip
	Code   string            `json:"code,omitempty"`
	DurMS  int64             `json:"dur_ms,omitempty"`
	Count  int64             `json:"count,omitempty"`
	FileID string            `json:"file_id,omitempty"`
	Msg    string            `json:"msg"`
	KV     map[string]string `json:"kv,omitempty"`
}

func (l *Logger) log(lv Level, ev Event) {
	if l == nil || lv < l.level {
		return
	}
	ev.Level = lv.String()
	ev.TS = NowUTC()
	ev.CorrID = l.corrID
	b, _ := json.Marshal(ev)
	b = append(b, '\n')
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		_, _ = os.Stderr.Write(b)
		return
	}
	if _, err := l.sink.Write(b); err != nil {
		// 后备：写 stderr
		fmt.Fprintf(os.Stderr, "logger sink error: %v\n", err)
		_, _ = os.Stderr.Write(b)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", Msg: msg})
	return &Timer{l: l, comp: comp, t0: time.Now()}
}

// StartWith 记录带 file_id 的 start。
func (l *Logger) StartWith(comp, msg, fileID string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// StartWithKV 记录带 file_id 与键值的 start。
func (l *Logger) StartWithKV(comp, msg, fileID string, kv map[string]string) *Timer {
	l.log(Info, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
	return &Timer{l: l, comp: comp, fileID: fileID, t0: time.Now()}
}

// ErrorWithKV 支持附带键值对（例如 HTTP 状态码、工具 stderr 摘要）。
func (l *Logger) ErrorWithKV(comp, code, msg string, durSince *time.Time, fileID string, kv map[string]string) {
	var dur int64
	if durSince != nil {
		dur = time.Since(*durSince).Milliseconds()
	}
	l.log(Error, Event{Comp: comp, Stage: "error", Code: code, DurMS: dur, Msg: msg, FileID: fileID, KV: kv})
}

// Warn 记录可恢复的问题（例如即将重试）。
func (l *Logger) Warn(comp, stage, code, msg, fileID string, kv map[string]string) {
	l.log(Warn, Event{Comp: comp, Stage: stage, Code: code, Msg: msg, FileID: fileID, KV: kv})
}

// Info 记录一般事件。
func (l *Logger) Info(comp, stage, msg, fileID string, kv map[string]string) {
	l.log(Info, Event{Comp: comp, Stage: stage, Msg: msg, FileID: fileID, KV: kv})
}

// InfoFinish 在已有起点的情况下记录 finish。
func (l *Logger) InfoFinish(comp, msg string, start time.Time, count int64) {
	l.log(Info, Event{Comp: comp, Stage: "finish", DurMS: time.Since(start).Milliseconds(), Count: count, Msg: msg})
}

// DebugStart 输出调试级别的 start 类事件（仅在 level=debug 时生效）。
func (l *Logger) DebugStart(comp, msg, fileID string, kv map[string]string) {
	l.log(Debug, Event{Comp: comp, Stage: "start", FileID: fileID, Msg: msg, KV: kv})
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l      *Logger
	comp   string
	fileID string
	t0     time.Time
}

// Since 返回计时起点。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish；可选 count。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	t.l.log(Info, Event{Comp: t.comp, Stage: "finish", DurMS: time.Since(t.t0).Milliseconds(), Count: count, FileID: t.fileID, Msg: msg})
}
