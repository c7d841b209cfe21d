package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/archive-search/pkg/logger"
)

// Timeout bounds each request with a context deadline. Handlers that honour
// the context answer on their own (the search handler maps a deadline to
// 504); for one that does not, Timeout writes the 504 itself and discards
// anything the handler writes afterwards.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	log := slog.Default().With("component", "timeout")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			done := make(chan struct{})
			tw := &timeoutWriter{w: w, header: w.Header().Clone()}
			go func() {
				defer close(done)
				next.ServeHTTP(tw, r.WithContext(ctx))
			}()
			select {
			case <-done:
			case <-ctx.Done():
			}
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && tw.expire() {
				log.Warn("request timed out",
					"method", r.Method,
					"path", r.URL.Path,
					"timeout", timeout,
					"request_id", logger.RequestID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusGatewayTimeout)
				_, _ = w.Write([]byte(`{"error":"request timeout"}` + "\n"))
			}
		})
	}
}

// timeoutWriter forwards to w until the request expires. Headers are
// staged on a copy so a late handler cannot touch the real map.
type timeoutWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	header  http.Header
	written bool
	expired bool
}

func (tw *timeoutWriter) Header() http.Header {
	return tw.header
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.expired || tw.written {
		return
	}
	tw.commitLocked(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.expired {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.written {
		tw.commitLocked(http.StatusOK)
	}
	return tw.w.Write(b)
}

func (tw *timeoutWriter) commitLocked(code int) {
	dst := tw.w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	tw.written = true
	tw.w.WriteHeader(code)
}

// expire marks the writer dead and reports whether nothing was written
// yet, in which case the caller owns the response.
func (tw *timeoutWriter) expire() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.expired = true
	return !tw.written
}
