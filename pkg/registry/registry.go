package registry

import (
	"bytes"
	"encoding/json"

	"github.com/juju/errors"

	"advent/internal/proc"
	"advent/pkg/contract"
	csld "advent/plugins/counter/sliding"
	dxz "advent/plugins/decompressor/xz"
	eanc "advent/plugins/extractor/anchor"
	fhttp "advent/plugins/fetcher/httpget"
	plines "advent/plugins/parser/lines"
	rfs "advent/plugins/reader/filesystem"
	tcurl "advent/plugins/transfer/curl"
	thttp "advent/plugins/transfer/httpdl"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.NewNotValid(err, "options")
	}
	return nil
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewParser 工厂签名：接收原样 JSON Options。
type NewParser func(raw json.RawMessage) (contract.Parser, error)

// NewCounter 工厂签名：接收原样 JSON Options。
type NewCounter func(raw json.RawMessage) (contract.Counter, error)

// NewFetcher 工厂签名：接收原样 JSON Options。
type NewFetcher func(raw json.RawMessage) (contract.Fetcher, error)

// NewExtractor 工厂签名：接收原样 JSON Options。
type NewExtractor func(raw json.RawMessage) (contract.Extractor, error)

// NewTransfer 工厂签名：外部工具实现通过 run 启动子进程；进程内实现忽略 run。
type NewTransfer func(raw json.RawMessage, run proc.Runner) (contract.Transfer, error)

// NewDecompressor 工厂签名：同 NewTransfer。
type NewDecompressor func(raw json.RawMessage, run proc.Runner) (contract.Decompressor, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统/STDIN Reader
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Parser 工厂注册表。
var Parser = map[string]NewParser{
	// lines: 每行一个整数
	"lines": func(raw json.RawMessage) (contract.Parser, error) {
		var opts plines.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return plines.New(&opts)
	},
}

// Counter 工厂注册表。
var Counter = map[string]NewCounter{
	// sliding: 滑动窗口和递增计数
	"sliding": func(raw json.RawMessage) (contract.Counter, error) {
		var opts csld.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return csld.New(&opts)
	},
}

// Fetcher 工厂注册表。
var Fetcher = map[string]NewFetcher{
	"http": func(raw json.RawMessage) (contract.Fetcher, error) {
		var opts fhttp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return fhttp.New(&opts)
	},
}

// Extractor 工厂注册表。
var Extractor = map[string]NewExtractor{
	// anchor: <a href> 链接按后缀过滤，并派生 Stem
	"anchor": func(raw json.RawMessage) (contract.Extractor, error) {
		var opts eanc.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return eanc.New(&opts)
	},
}

// Transfer 工厂注册表。
var Transfer = map[string]NewTransfer{
	// curl: 外部工具，参数列表直接 exec，不经 shell
	"curl": func(raw json.RawMessage, run proc.Runner) (contract.Transfer, error) {
		var opts tcurl.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tcurl.New(&opts, run)
	},
	// http: 进程内下载，临时文件 + rename
	"http": func(raw json.RawMessage, _ proc.Runner) (contract.Transfer, error) {
		var opts thttp.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return thttp.New(&opts)
	},
}

// Decompressor 工厂注册表。
var Decompressor = map[string]NewDecompressor{
	"xz": func(raw json.RawMessage, run proc.Runner) (contract.Decompressor, error) {
		var opts dxz.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return dxz.New(&opts, run)
	},
}
