package fusion

import (
	"fmt"
	"testing"
)

func benchLists(n int) (sparse, dense []Scored) {
	sparse = make([]Scored, n)
	dense = make([]Scored, n)
	for i := 0; i < n; i++ {
		sparse[i] = Scored{DocID: fmt.Sprintf("doc-%d", i), Score: float64(n - i)}
		dense[i] = Scored{DocID: fmt.Sprintf("doc-%d", (i*7)%(2*n)), Score: 1 / float64(i+1)}
	}
	return sparse, dense
}

func BenchmarkFuse(b *testing.B) {
	for _, n := range []int{10, 100, 1000} {
		sparse, dense := benchLists(n)
		for _, cfg := range []Config{DefaultConfig(), {Mode: RRF, K: DefaultRRFK}} {
			b.Run(fmt.Sprintf("%s/candidates_%d", cfg.Mode, n), func(b *testing.B) {
				b.ReportAllocs()
				for i := 0; i < b.N; i++ {
					if _, err := Fuse(sparse, dense, 10, cfg); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}
