package filesystem

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/juju/errors"

	"advent/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 扫描目录时跳过的目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// IncludeExts: 扫描目录时仅处理这些扩展名（含点，大小写不敏感）。
	// 为空表示不过滤；显式给出的文件 root 不受影响。
	IncludeExts []string `json:"include_exts"`
}

// FileSystem 实现基于文件系统与 STDIN 的 Reader。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	includeExt map[string]struct{}
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	r := &FileSystem{bufSize: 64 * 1024}
	if opts == nil {
		return r
	}
	if opts.BufSize > 0 {
		r.bufSize = opts.BufSize
	}
	r.excludeDir = lowerSet(opts.ExcludeDirNames)
	r.includeExt = lowerSet(opts.IncludeExts)
	return r
}

func lowerSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			m[strings.ToLower(n)] = struct{}{}
		}
	}
	return m
}

// Iterate 遍历 roots，按稳定顺序对每个常规文件调用 yield。
// roots 为空或仅含 "-" 时读取 STDIN；"-" 不得与其他 root 混用。
// yield 负责关闭传入的 ReadCloser；yield 返回错误时由本方法关闭。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(fileID contract.FileID, rc io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield(contract.FileID("stdin"), newBufferedCloser(io.NopCloser(os.Stdin), r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return errors.NotValidf("stdin '-' mixed with other roots")
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(contract.FileID, io.ReadCloser) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Stat 跟随符号链接：指向目录的链接作为 root 时同样展开
	info, err := os.Stat(root)
	if err != nil {
		return errors.Annotatef(err, "input %q", root)
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.open(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(contract.FileID, io.ReadCloser) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Trace(err)
	}
	// 稳定顺序：字典序；先目录后文件
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		if r.includeExt != nil {
			if _, ok := r.includeExt[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
				continue
			}
		}
		p := filepath.Join(dir, e.Name())
		// 目录内的符号链接仅跟随到常规文件；设备、FIFO 等跳过
		t, err := os.Stat(p)
		if err != nil {
			return errors.Trace(err)
		}
		if !t.Mode().IsRegular() {
			continue
		}
		if err := r.open(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) open(p string, yield func(contract.FileID, io.ReadCloser) error) error {
	f, err := os.Open(p)
	if err != nil {
		return errors.Trace(err)
	}
	brc := newBufferedCloser(f, r.bufSize)
	if err := yield(contract.NormalizeFileID(p), brc); err != nil {
		_ = brc.Close()
		return err
	}
	return nil
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }

var _ contract.Reader = (*FileSystem)(nil)
