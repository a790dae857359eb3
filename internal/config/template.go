package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/juju/errors"
)

// TemplateFileName 为 init-config 写出的文件名。
const TemplateFileName = "config.json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 组件名采用仓库内置实现（curl + xz 外部工具）；
// - 选项包含所有键，值为安全中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "exclude_dir_names": [".git"],
  "include_exts": []
}`)
	cfg.Options.Parser = json.RawMessage(`{
  "max_line_bytes": 65536,
  "base": 0,
  "skip_blank": false
}`)
	cfg.Options.Counter = json.RawMessage(`{
  "window": 3
}`)
	cfg.Options.Fetcher = json.RawMessage(`{
  "timeout_seconds": 60,
  "user_agent": "",
  "max_bytes": 8388608,
  "headers": {}
}`)
	cfg.Options.Extractor = json.RawMessage(`{
  "suffix": ".xz",
  "input_suffix": ".in.xz",
  "stem_pattern": "\\d+-[\\w-]+"
}`)
	// curl 选项；切换为 "http" 时改用 timeout_seconds/user_agent/perm_file/perm_dir/buf_size
	cfg.Options.Transfer = json.RawMessage(`{
  "binary": "curl",
  "connect_timeout_seconds": 30,
  "max_time_seconds": 0,
  "user_agent": ""
}`)
	cfg.Options.Decompressor = json.RawMessage(`{
  "binary": "xz",
  "threads": 0,
  "keep": false
}`)
	return cfg
}

// WriteTemplate 在 dir 下写出 config.json；文件已存在时返回 AlreadyExists，从不覆盖。
func WriteTemplate(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, TemplateFileName)
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return path, errors.Trace(err)
	}
	b = append(b, '\n')
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, errors.Annotatef(err, "mkdir %s", dir)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return path, errors.AlreadyExistsf("%s", path)
		}
		return path, errors.Annotatef(err, "create %s", path)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return path, errors.Annotatef(err, "write %s", path)
	}
	return path, errors.Trace(f.Close())
}
