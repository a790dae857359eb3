package sliding

import (
	"fmt"
	"testing"
)

// BenchmarkCount 基准测试 Count，不同序列长度下的表现。
func BenchmarkCount(b *testing.B) {
	for _, n := range []int{2000, 200_000, 2_000_000} {
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			seq := make([]int64, n)
			for i := range seq {
				seq[i] = int64((i * 7919) % 10007)
			}
			c, _ := New(nil)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = c.Count(seq)
			}
		})
	}
}
