package xz

import (
	"context"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"advent/internal/proc"
	"advent/pkg/contract"
)

// Suffix 为 xz 压缩文件后缀。
const Suffix = ".xz"

// Options 为 xz 解压器配置。
type Options struct {
	// Binary: 可执行文件名或路径，默认 "xz"。
	Binary string `json:"binary"`
	// Threads: 传给 -T 的线程数；0 表示使用工具默认值。
	Threads int `json:"threads"`
	// Keep: 解压后保留压缩文件（-k）。默认 false，与原地解压语义一致。
	Keep bool `json:"keep"`
}

// XZ 通过外部 xz 工具完成校验与解压。
type XZ struct {
	run     proc.Runner
	bin     string
	threads int
	keep    bool
}

// New 创建 xz 解压器。
func New(opts *Options, run proc.Runner) (*XZ, error) {
	if run == nil {
		return nil, errors.NotValidf("nil runner")
	}
	x := &XZ{run: run, bin: "xz"}
	if opts != nil {
		if b := strings.TrimSpace(opts.Binary); b != "" {
			x.bin = b
		}
		if opts.Threads < 0 {
			return nil, errors.NotValidf("threads %d", opts.Threads)
		}
		x.threads = opts.Threads
		x.keep = opts.Keep
	}
	return x, nil
}

func (x *XZ) Suffix() string { return Suffix }

// Verify 运行 `xz -t`；截断或损坏的文件返回 ErrDownloadIncomplete。
func (x *XZ) Verify(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if _, err := x.run.Run(ctx, x.bin, "-t", "--", path); err != nil {
		if errors.Is(err, contract.ErrToolFailed) {
			return errors.Annotatef(contract.ErrDownloadIncomplete, "%s: %v", path, err)
		}
		return errors.Trace(err)
	}
	return nil
}

// Decompress 原地解压 path（去掉 .xz 后缀）。
// 不传 -f：目标已存在时由 xz 拒绝覆盖。
func (x *XZ) Decompress(ctx context.Context, path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	args := []string{"-d"}
	if x.keep {
		args = append(args, "-k")
	}
	if x.threads > 0 {
		args = append(args, "-T", strconv.Itoa(x.threads))
	}
	args = append(args, "--", path)
	_, err := x.run.Run(ctx, x.bin, args...)
	return errors.Trace(err)
}

func checkPath(path string) error {
	if !strings.HasSuffix(path, Suffix) || len(path) == len(Suffix) {
		return errors.Annotatef(contract.ErrPathInvalid, "%q has no %s suffix", path, Suffix)
	}
	return nil
}

var _ contract.Decompressor = (*XZ)(nil)
