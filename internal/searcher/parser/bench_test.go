package parser

import "testing"

// BenchmarkParse measures parsing for queries of varying complexity.
func BenchmarkParse(b *testing.B) {
	queries := []struct {
		name  string
		query string
	}{
		{"simple", "deep work"},
		{"phrase", `"spaced repetition" memory`},
		{"filters", "author:ada score:>10 date:2023-01..2023-06 type:post"},
		{"regex", `/lesswrong\.com\/posts/i -draft`},
		{"long", "alignment interpretability forecasting calibration rationality epistemics bayes priors updates"},
	}
	for _, q := range queries {
		b.Run(q.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = Parse(q.query)
			}
		})
	}
}
