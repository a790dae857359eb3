package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"golang.org/x/sync/errgroup"

	"advent/internal/diag"
	"advent/internal/manifest"
	"advent/internal/rate"
	"advent/pkg/contract"
)

// Summary 为一次同步的汇总。
type Summary struct {
	Entries      int
	Existing     int // 已存在且未做处理（解压文件，或保持原样的压缩文件）
	Downloaded   int
	Decompressed int
	Failed       int
	Bytes        int64
	// Plans 按页面顺序给出每个条目的路径与运行前状态。
	Plans []contract.Plan
}

func (s Summary) String() string {
	return fmt.Sprintf("entries=%d existing=%d downloaded=%d decompressed=%d failed=%d bytes=%s",
		s.Entries, s.Existing, s.Downloaded, s.Decompressed, s.Failed, humanize.IBytes(uint64(max(s.Bytes, 0))))
}

// RunSync 执行 Fetcher → Extractor → Resolve → (Gate) → Transfer → Verify → Decompress。
// 约束：
// - 抓取或提取失败立即返回；
// - 条目之间可并发（Concurrency），条目内步骤严格有序；
// - 单条目失败不影响其余条目，结束后返回首个错误。
func RunSync(ctx context.Context, comp Components, set Settings, logger *diag.Logger, out io.Writer) (Summary, error) {
	var sum Summary
	if err := sanitySync(comp, set); err != nil {
		return sum, errors.Annotate(err, "sanity")
	}
	res, err := manifest.NewResolver(set.DataDir, comp.Decompressor.Suffix(), set.StemPattern)
	if err != nil {
		return sum, errors.Annotate(err, "resolver")
	}
	if out == nil {
		out = io.Discard
	}
	runStart := time.Now()

	ftimer := logger.StartWithKV("fetcher", "fetch", "", map[string]string{"url": set.ManifestURL})
	page, err := comp.Fetcher.Fetch(ctx, set.ManifestURL)
	if err != nil {
		return sum, fail(logger, "fetcher", "fetch failed", ftimer, "", map[string]string{"url": set.ManifestURL}, errors.Annotate(err, "fetch manifest"))
	}
	ok("fetcher", "fetch", ftimer, int64(len(page)))

	etimer := logger.Start("extractor", "extract")
	entries, err := comp.Extractor.Extract(ctx, page)
	if err != nil {
		return sum, fail(logger, "extractor", "extract failed", etimer, "", nil, errors.Annotate(err, "extract entries"))
	}
	ok("extractor", "extract", etimer, int64(len(entries)))

	sum.Entries = len(entries)
	sum.Plans = make([]contract.Plan, len(entries))
	planErrs := make([]error, len(entries))
	// 同一标识只由首个条目处理，后续条目视为已存在，避免并发写同一路径
	dups := make([]bool, len(entries))
	firstOf := make(map[string]int, len(entries))
	for i, e := range entries {
		p, err := res.Resolve(e)
		p.Entry = e
		sum.Plans[i], planErrs[i] = p, err
		if _, seen := firstOf[e.Stem]; seen && err == nil {
			dups[i] = true
			continue
		}
		firstOf[e.Stem] = i
	}

	if set.DryRun {
		return dryRun(logger, out, sum, planErrs, dups)
	}

	conc := set.Concurrency
	if conc < 1 {
		conc = 1
	}
	s := &syncer{
		comp:   comp,
		set:    set,
		logger: logger,
		out:    out,
		term:   diag.GetTerminal(),
		sum:    &sum,
		total:  len(entries),
	}
	s.term.RunStart(conc, set.ManifestURL)

	var g errgroup.Group
	g.SetLimit(conc)
	for i := range sum.Plans {
		if ctx.Err() != nil {
			break
		}
		p, perr := sum.Plans[i], planErrs[i]
		if dups[i] {
			s.duplicate(p, time.Now())
			continue
		}
		g.Go(func() error {
			s.one(ctx, p, perr)
			return nil
		})
	}
	_ = g.Wait()

	firstErr := s.firstErr
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	s.term.RunFinish(firstErr == nil, sum.Bytes, time.Since(runStart))
	logger.InfoFinish("sync", sum.String(), runStart, int64(sum.Entries))
	fmt.Fprintln(out, sum.String())
	return sum, firstErr
}

// dryRun 只打印计划：<state>\t<stem>\t<path>\t<url>，不触碰文件系统、不启动工具。
// 重复标识的条目状态列为 duplicate。
func dryRun(logger *diag.Logger, out io.Writer, sum Summary, planErrs []error, dups []bool) (Summary, error) {
	var firstErr error
	for i, p := range sum.Plans {
		if err := planErrs[i]; err != nil {
			sum.Failed++
			fail(logger, "manifest", "resolve failed", nil, p.Entry.Stem, map[string]string{"url": p.Entry.URL}, err)
			if firstErr == nil {
				firstErr = err
			}
			fmt.Fprintf(out, "invalid\t%s\t-\t%s\n", p.Entry.Stem, p.Entry.URL)
			continue
		}
		path := p.CompressedPath
		if p.State == contract.StateDecompressed {
			path = p.DataPath
		}
		if dups[i] {
			sum.Existing++
			fmt.Fprintf(out, "duplicate\t%s\t%s\t%s\n", p.Entry.Stem, p.DataPath, p.Entry.URL)
			continue
		}
		if p.State != contract.StateMissing {
			sum.Existing++
		}
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", p.State, p.Entry.Stem, path, p.Entry.URL)
	}
	return sum, firstErr
}

type syncer struct {
	comp   Components
	set    Settings
	logger *diag.Logger
	out    io.Writer
	term   *diag.Terminal

	mu       sync.Mutex
	sum      *Summary
	total    int
	done     int
	errs     int
	firstErr error
}

func (s *syncer) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

// one 处理单个条目；结果计入汇总。
func (s *syncer) one(ctx context.Context, p contract.Plan, perr error) {
	start := time.Now()
	fid := p.Entry.Stem
	if perr != nil {
		s.finish(fid, false, 0, start, fail(s.logger, "manifest", "resolve failed", nil, fid, map[string]string{"url": p.Entry.URL}, perr))
		return
	}
	switch p.State {
	case contract.StateDecompressed:
		s.printf("File %s already exists.\n", p.DataPath)
		s.skip(fid, p.DataPath, start)
	case contract.StateCompressed:
		s.printf("File %s already exists.\n", p.CompressedPath)
		if !s.set.DecompressExisting {
			s.skip(fid, p.CompressedPath, start)
			return
		}
		s.term.ItemStart(fid, "decompress")
		err := s.verify(ctx, fid, p.CompressedPath)
		if err == nil {
			err = s.decompress(ctx, fid, p)
		}
		s.finish(fid, err == nil, 0, start, err)
	default:
		s.term.ItemStart(fid, "download")
		n, err := s.download(ctx, p)
		if err == nil {
			err = s.decompress(ctx, fid, p)
		}
		s.finish(fid, err == nil, n, start, err)
	}
}

// duplicate 跳过与先前条目标识相同的链接。
func (s *syncer) duplicate(p contract.Plan, start time.Time) {
	s.printf("File %s already exists.\n", p.DataPath)
	s.logger.Info("sync", "skip", "duplicate identifier", p.Entry.Stem, map[string]string{"url": p.Entry.URL})
	s.skip(p.Entry.Stem, p.DataPath, start)
}

func (s *syncer) skip(fid, path string, start time.Time) {
	s.logger.Info("sync", "skip", "already exists", fid, map[string]string{"path": path})
	diag.IncOp("sync", "skip", "success")
	s.mu.Lock()
	s.sum.Existing++
	s.mu.Unlock()
	s.finish(fid, false, 0, start, nil)
}

// finish 汇总一个条目的结果；unpacked 表示完成了一次解压。
func (s *syncer) finish(fid string, unpacked bool, n int64, start time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done++
	switch {
	case err != nil:
		s.errs++
		s.sum.Failed++
		if s.firstErr == nil {
			s.firstErr = err
		}
	case unpacked:
		s.sum.Decompressed++
	}
	s.term.ItemFinish(fid, err == nil, n, time.Since(start))
	s.term.Progress(s.done, s.total, s.errs)
}

// download 下载并校验；校验失败删除文件并重试，重试耗尽返回最后一次的错误。
func (s *syncer) download(ctx context.Context, p contract.Plan) (int64, error) {
	fid := p.Entry.Stem
	kv := map[string]string{"url": p.Entry.URL, "dest": p.CompressedPath}
	key, kerr := rate.DeriveKey(p.Entry.URL)
	attempts := s.set.MaxRetries + 1
	delay := s.set.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	clk := s.set.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	dtimer := s.logger.StartWithKV("transfer", "download", fid, kv)
	var n int64
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			if s.set.Gate != nil && kerr == nil {
				if err := s.set.Gate.Wait(ctx, key); err != nil {
					return err
				}
			}
			got, err := s.comp.Transfer.Download(ctx, p.Entry.URL, p.CompressedPath)
			if err != nil {
				s.discard(p.CompressedPath)
				return err
			}
			if err := s.verify(ctx, fid, p.CompressedPath); err != nil {
				s.discard(p.CompressedPath)
				return err
			}
			n = got
			return nil
		},
		IsFatalError: func(err error) bool { return !diag.Retryable(err) },
		NotifyFunc: func(err error, attempt int) {
			lastErr = err
			if attempt < attempts {
				s.logger.Warn("transfer", "retry", string(diag.Classify(err)), err.Error(), fid,
					map[string]string{"attempt": itoa(attempt), "of": itoa(attempts)})
				diag.IncOp("transfer", "retry", "error")
			}
		},
		Attempts:    attempts,
		Delay:       delay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err != nil {
		switch {
		case retry.IsAttemptsExceeded(err):
			if lastErr == nil {
				lastErr = retry.LastError(err)
			}
			if lastErr == nil {
				lastErr = contract.ErrDownloadIncomplete
			}
			err = errors.Annotatef(lastErr, "%s: giving up after %d attempt(s)", fid, attempts)
		case retry.IsRetryStopped(err):
			if ctx.Err() != nil {
				err = ctx.Err()
			}
		}
		return 0, fail(s.logger, "transfer", "download failed", dtimer, fid, kv, err)
	}
	ok("transfer", "download", dtimer, n)
	diag.AddDownloadBytes(n)
	s.mu.Lock()
	s.sum.Downloaded++
	s.sum.Bytes += n
	s.mu.Unlock()
	return n, nil
}

// verify: 文件存在、非空且通过完整性校验。
func (s *syncer) verify(ctx context.Context, fid, path string) error {
	st, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return errors.Annotatef(contract.ErrDownloadIncomplete, "%s missing after download", filepath.Base(path))
	case err != nil:
		return errors.Trace(err)
	case !st.Mode().IsRegular():
		return errors.Annotatef(contract.ErrPathInvalid, "%s is not a regular file", path)
	case st.Size() == 0:
		return errors.Annotatef(contract.ErrDownloadIncomplete, "%s is empty", filepath.Base(path))
	}
	vtimer := s.logger.StartWith("decompressor", "verify", fid)
	if err := s.comp.Decompressor.Verify(ctx, path); err != nil {
		return fail(s.logger, "decompressor", "verify failed", vtimer, fid, map[string]string{"path": path}, err)
	}
	ok("decompressor", "verify", vtimer, st.Size())
	return nil
}

// decompress 解压已校验的压缩文件。失败（含取消）时删除本次产生的解压输出：
// 残留的半成品会在下次运行被判定为已存在。
func (s *syncer) decompress(ctx context.Context, fid string, p contract.Plan) error {
	path := p.CompressedPath
	_, statErr := os.Lstat(p.DataPath)
	existed := statErr == nil
	dtimer := s.logger.StartWith("decompressor", "decompress", fid)
	if err := s.comp.Decompressor.Decompress(ctx, path); err != nil {
		if !existed {
			if rerr := os.Remove(p.DataPath); rerr == nil {
				s.logger.Warn("decompressor", "cleanup", string(diag.Classify(err)), "removed partial output", fid, map[string]string{"path": p.DataPath})
			} else if !os.IsNotExist(rerr) {
				s.logger.Warn("decompressor", "cleanup", string(diag.CodeIO), rerr.Error(), fid, map[string]string{"path": p.DataPath})
			}
		}
		return fail(s.logger, "decompressor", "decompress failed", dtimer, fid, map[string]string{"path": path}, errors.Annotatef(err, "decompress %s", fid))
	}
	ok("decompressor", "decompress", dtimer, 1)
	return nil
}

// discard 删除未通过校验的下载；KeepStale 时保留。
func (s *syncer) discard(path string) {
	if s.set.KeepStale {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("transfer", "cleanup", string(diag.CodeIO), err.Error(), filepath.Base(path), nil)
	}
}
