package contract

// Counter: 对只读整数序列做纯计算计数。
// 实现不得修改 seq。
type Counter interface {
	Count(seq []int64) int
}
