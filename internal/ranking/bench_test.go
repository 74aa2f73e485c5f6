package ranking

import (
	"math/rand"
	"strconv"
	"testing"

	"github.com/umt-belongings/hub/internal/models"
)

func benchCandidates(n, dim int) []*models.Post {
	r := rand.New(rand.NewSource(1))
	out := make([]*models.Post, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()
		}
		out[i] = post(strconv.Itoa(i), v...)
	}
	return out
}

func BenchmarkRank_1000x1024(b *testing.B) {
	candidates := benchCandidates(1000, 1024)
	query := candidates[0].Features
	opts := DefaultOptions()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Rank(query, candidates, opts)
	}
}

func BenchmarkRank_1000x512Histogram(b *testing.B) {
	candidates := benchCandidates(1000, 512)
	query := candidates[0].Features
	opts := Options{Threshold: -2, Limit: 50}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Rank(query, candidates, opts)
	}
}
