package pipeline

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/juju/errors"

	"advent/internal/diag"
	"advent/pkg/contract"
)

// FileCount 为单个输入的计数结果。
type FileCount struct {
	FileID contract.FileID
	Values int
	Count  int
}

// RunCount 执行 Reader → Parser → Counter，并把结果写到 out。
// 只有一个输入时输出单个整数行；多个输入时每行为 "<file>\t<count>"。
// 任一文件解析失败则整次运行失败，且不输出任何结果。
func RunCount(ctx context.Context, comp Components, set Settings, logger *diag.Logger, out io.Writer) error {
	_, err := CountAll(ctx, comp, set, logger, out)
	return err
}

// CountAll 同 RunCount，并返回每个文件的结果。
func CountAll(ctx context.Context, comp Components, set Settings, logger *diag.Logger, out io.Writer) ([]FileCount, error) {
	if err := sanityCount(comp, set); err != nil {
		return nil, errors.Annotate(err, "sanity")
	}
	term := diag.GetTerminal()
	runStart := time.Now()
	term.RunStart(1, "depths")

	var results []FileCount
	logged := false
	rtimer := logger.Start("reader", "iterate")
	err := comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		fileStart := time.Now()
		ptimer := logger.StartWith("parser", "parse", string(fid))
		seq, err := comp.Parser.Parse(ctx, fid, rc)
		if err != nil {
			term.ItemFinish(string(fid), false, 0, time.Since(fileStart))
			logged = true
			return fail(logger, "parser", "parse failed", ptimer, string(fid), nil, errors.Annotate(err, "parser parse"))
		}
		ok("parser", "parse", ptimer, int64(len(seq)))

		ctimer := logger.StartWith("counter", "count", string(fid))
		n := comp.Counter.Count(seq)
		ok("counter", "count", ctimer, int64(n))
		term.ItemFinish(string(fid), true, 0, time.Since(fileStart))
		results = append(results, FileCount{FileID: fid, Values: len(seq), Count: n})
		return nil
	})
	if err != nil {
		term.RunFinish(false, 0, time.Since(runStart))
		if logged {
			return nil, err
		}
		return nil, fail(logger, "reader", "iterate failed", rtimer, "", nil, errors.Annotate(err, "reader iterate"))
	}
	ok("reader", "iterate", rtimer, int64(len(results)))
	term.RunFinish(true, 0, time.Since(runStart))

	if err := writeCounts(out, results); err != nil {
		return results, errors.Annotate(err, "write result")
	}
	return results, nil
}

func writeCounts(out io.Writer, results []FileCount) error {
	if len(results) == 1 {
		_, err := fmt.Fprintln(out, results[0].Count)
		return err
	}
	for _, r := range results {
		if _, err := fmt.Fprintf(out, "%s\t%d\n", r.FileID, r.Count); err != nil {
			return err
		}
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
