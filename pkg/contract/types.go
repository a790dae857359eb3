package contract

// FileID: 逻辑输入标识（通常为路径，需规范化，跨平台一致）。
type FileID string

// Entry: 清单条目。
// URL 来自远端页面（不可信输入）；Stem 为由 URL 派生的本地文件标识。
type Entry struct {
	URL  string
	Stem string
}

// State: 条目在本地的存在状态（每次运行重新判定，不缓存）。
type State int

const (
	// StateMissing: 解压与压缩两种形态均不存在，需要下载。
	StateMissing State = iota
	// StateCompressed: 仅存在压缩文件。
	StateCompressed
	// StateDecompressed: 已存在解压后的数据文件。
	StateDecompressed
)

func (s State) String() string {
	switch s {
	case StateCompressed:
		return "compressed"
	case StateDecompressed:
		return "exists"
	default:
		return "missing"
	}
}

// Plan: 单条目的候选路径与本地状态。
// 约束：DataPath 与 CompressedPath 均位于数据目录之内。
type Plan struct {
	Entry          Entry
	DataPath       string
	CompressedPath string
	State          State
}

// 清单的默认匹配规则。
const (
	// DefaultStemPattern: Stem 的形态（数字-单词字符/连字符）。
	DefaultStemPattern = `\d+-[\w-]+`
	// DefaultInputSuffix: 紧跟在 Stem 之后的输入数据后缀。
	DefaultInputSuffix = ".in.xz"
)
