// Package proc 以参数列表直接启动外部工具（不经 shell）。
package proc

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/kballard/go-shellquote"

	"advent/pkg/contract"
)

//go:generate go run go.uber.org/mock/mockgen -package mocks -destination mocks/runner_mock.go advent/internal/proc Runner

// Result 为一次进程执行的捕获输出。
type Result struct {
	Stdout []byte
	Stderr []byte
}

// Runner 同步执行一个外部命令并等待其退出。
// 实现必须以 argv 形式传参；name 与 args 不经过任何 shell 解释。
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// Exec 是基于 os/exec 的 Runner。
type Exec struct {
	// Env 为附加环境变量（KEY=VALUE）；为空时继承当前进程环境。
	Env []string
	// LookPath 可替换以便测试；默认 exec.LookPath。
	LookPath func(file string) (string, error)
	// GracePeriod 为取消时发出中断信号后等待退出的时长，超时再强制结束；默认 DefaultGracePeriod。
	GracePeriod time.Duration
}

// DefaultGracePeriod 给工具留出清理未完成输出的时间（xz 收到 SIGINT 会删除半成品）。
const DefaultGracePeriod = 5 * time.Second

// NewExec 返回默认的进程执行器。
func NewExec() *Exec { return &Exec{LookPath: exec.LookPath} }

// Run 查找可执行文件后启动并等待其结束。
// 找不到工具返回 ErrToolMissing；非零退出返回 ErrToolFailed（附 stderr 摘要）。
func (e *Exec) Run(ctx context.Context, name string, args ...string) (Result, error) {
	look := e.LookPath
	if look == nil {
		look = exec.LookPath
	}
	path, err := look(name)
	if err != nil {
		return Result{}, errors.Annotatef(contract.ErrToolMissing, "%s", name)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	// 取消时先中断而非直接 kill，让工具自行清理
	cmd.Cancel = func() error { return interrupt(cmd.Process) }
	cmd.WaitDelay = e.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}
	if len(e.Env) > 0 {
		cmd.Env = append(cmd.Environ(), e.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	res := func() Result { return Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()} }
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res(), ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res(), errors.Annotatef(contract.ErrToolFailed, "%s exited %d: %s",
				CommandLine(name, args...), exitErr.ExitCode(), summarize(stderr.Bytes()))
		}
		return res(), errors.Annotatef(err, "starting %s", name)
	}
	return res(), nil
}

// CommandLine 返回可安全复制到 shell 的命令行文本，仅用于日志与报告。
func CommandLine(name string, args ...string) string {
	return shellquote.Join(append([]string{name}, args...)...)
}

// summarize 取 stderr 的最后一行非空文本，避免把大段输出塞进错误信息。
func summarize(b []byte) string {
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(lines[i]); s != "" {
			if len(s) > 200 {
				s = s[:200] + "…"
			}
			return s
		}
	}
	return "no output"
}

// Echo 包装 Runner：每次执行结束后把捕获的 stdout/stderr 原样写入 W。
// 并发调用时按整次输出串行写入，不交错。
type Echo struct {
	Runner Runner
	W      io.Writer

	mu sync.Mutex
}

func (e *Echo) Run(ctx context.Context, name string, args ...string) (Result, error) {
	res, err := e.Runner.Run(ctx, name, args...)
	if e.W != nil && (len(res.Stdout) > 0 || len(res.Stderr) > 0) {
		e.mu.Lock()
		_, _ = e.W.Write(res.Stdout)
		_, _ = e.W.Write(res.Stderr)
		e.mu.Unlock()
	}
	return res, err
}

var (
	_ Runner = (*Exec)(nil)
	_ Runner = (*Echo)(nil)
)
