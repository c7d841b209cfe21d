package normalize

import (
	"strings"
	"testing"
)

var sampleBodies = map[string]string{
	"short": "<p>The quick brown fox jumps over the lazy dog</p>",
	"medium": `<p>Spaced repetition schedules reviews at growing intervals. Each
		successful recall pushes the next review further out, and a failed
		recall resets the interval.</p><blockquote>Memory is a muscle.</blockquote>`,
	"long": strings.Repeat(`<p>Calibration means your 70% predictions come true about
		70% of the time. Track forecasts, score them with a <em>Brier</em> score
		and revisit the ones you got most wrong.</p>`, 40),
}

func BenchmarkBodyHTML(b *testing.B) {
	for name, html := range sampleBodies {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(html)))
			for i := 0; i < b.N; i++ {
				_ = Tokenize(Body("", html))
			}
		})
	}
}

func BenchmarkBodyMarkdown(b *testing.B) {
	md := strings.Repeat("Some **bold** claim with a [link](https://example.com) and `code`.\n\n", 50)
	b.ReportAllocs()
	b.SetBytes(int64(len(md)))
	for i := 0; i < b.N; i++ {
		_ = Tokenize(Body(md, ""))
	}
}
