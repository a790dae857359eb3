// Package manifest 将清单条目映射到数据目录中的候选路径，并判定本地状态。
//
// Stem 来自远端页面，视为不可信输入：必须完整匹配 Stem 模式，
// 不得包含路径分隔符或 '..'，映射后的路径必须位于数据目录之内。
package manifest

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/juju/errors"
	"github.com/mitchellh/go-homedir"

	"advent/pkg/contract"
)

// DefaultSuffix 为压缩文件后缀。
const DefaultSuffix = ".xz"

// Resolver 绑定数据目录、压缩后缀与 Stem 模式。
type Resolver struct {
	dir    string
	suffix string
	stem   *regexp.Regexp
}

// NewResolver 展开 dir 中的 '~' 并编译 Stem 模式；空值使用默认。
func NewResolver(dir, suffix, stemPattern string) (*Resolver, error) {
	d, err := ExpandDir(dir)
	if err != nil {
		return nil, err
	}
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if strings.ContainsAny(suffix, `/\`) {
		return nil, errors.NotValidf("suffix %q", suffix)
	}
	if stemPattern == "" {
		stemPattern = contract.DefaultStemPattern
	}
	re, err := regexp.Compile(`^(?:` + stemPattern + `)$`)
	if err != nil {
		return nil, errors.NotValidf("stem pattern %q: %v", stemPattern, err)
	}
	return &Resolver{dir: d, suffix: suffix, stem: re}, nil
}

// ExpandDir 展开家目录并清理路径。
func ExpandDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.NotValidf("empty data dir")
	}
	d, err := homedir.Expand(dir)
	if err != nil {
		return "", errors.Annotatef(err, "expand %q", dir)
	}
	return filepath.Clean(d), nil
}

// Dir 返回展开后的数据目录。
func (r *Resolver) Dir() string { return r.dir }

// Suffix 返回压缩后缀。
func (r *Resolver) Suffix() string { return r.suffix }

// Locate 计算候选路径，不访问文件系统；State 恒为 StateMissing。
func (r *Resolver) Locate(e contract.Entry) (contract.Plan, error) {
	if err := r.CheckStem(e.Stem); err != nil {
		return contract.Plan{}, err
	}
	data := filepath.Join(r.dir, e.Stem)
	if !within(r.dir, data) {
		return contract.Plan{}, errors.Annotatef(contract.ErrPathInvalid, "stem %q escapes %s", e.Stem, r.dir)
	}
	return contract.Plan{Entry: e, DataPath: data, CompressedPath: data + r.suffix}, nil
}

// Resolve 计算候选路径并判定状态：解压文件优先于压缩文件。
func (r *Resolver) Resolve(e contract.Entry) (contract.Plan, error) {
	p, err := r.Locate(e)
	if err != nil {
		return p, err
	}
	ok, err := isFile(p.DataPath)
	if err != nil {
		return p, err
	}
	if ok {
		p.State = contract.StateDecompressed
		return p, nil
	}
	ok, err = isFile(p.CompressedPath)
	if err != nil {
		return p, err
	}
	if ok {
		p.State = contract.StateCompressed
	}
	return p, nil
}

// CheckStem 拒绝空值、分隔符、'..' 以及不完整匹配模式的 Stem。
func (r *Resolver) CheckStem(stem string) error {
	switch {
	case stem == "", stem == ".", stem == "..":
		return errors.Annotatef(contract.ErrPathInvalid, "stem %q", stem)
	case strings.ContainsAny(stem, `/\`+"\x00"):
		return errors.Annotatef(contract.ErrPathInvalid, "stem %q contains separator", stem)
	case strings.Contains(stem, ".."):
		return errors.Annotatef(contract.ErrPathInvalid, "stem %q contains '..'", stem)
	case !r.stem.MatchString(stem):
		return errors.Annotatef(contract.ErrPathInvalid, "stem %q does not match %s", stem, r.stem)
	}
	return nil
}

// Resolve 使用默认后缀与 Stem 模式解析单个条目。
func Resolve(dir string, e contract.Entry) (contract.Plan, error) {
	r, err := NewResolver(dir, "", "")
	if err != nil {
		return contract.Plan{}, err
	}
	return r.Resolve(e)
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// isFile: 存在且为普通文件返回 true；存在但非普通文件视为路径冲突。
func isFile(p string) (bool, error) {
	st, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Trace(err)
	}
	if !st.Mode().IsRegular() {
		return false, errors.Annotatef(contract.ErrPathInvalid, "%s is not a regular file", p)
	}
	return true, nil
}
