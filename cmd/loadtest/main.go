// Command loadtest drives concurrent queries against a running search
// service and reports latency, status codes and how many results came back
// partial or superseded.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 8 -duration 30s
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

var defaultQueries = []string{
	"calibration",
	`"spaced repetition"`,
	"forecast* score:>5",
	"author:ada type:comment",
	"date:2023 alignment",
	`/bayes(ian)?/i`,
	"scope:all interpretability",
	"epistemics -politics",
	"replyto:grace",
	"deep work habits",
}

type searchReply struct {
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Diagnostics struct {
		PartialResults bool `json:"partialResults"`
	} `json:"diagnostics"`
}

type recorder struct {
	mu         sync.Mutex
	latencies  []time.Duration
	codes      map[int]int
	failures   int
	partial    int
	superseded int
	zero       int
}

func (r *recorder) record(d time.Duration, code int, reply *searchReply, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failures++
		return
	}
	r.latencies = append(r.latencies, d)
	r.codes[code]++
	if reply == nil {
		return
	}
	if reply.Diagnostics.PartialResults {
		r.partial++
	}
	switch {
	case reply.Status == "cancelled-superseded":
		r.superseded++
	case reply.Total == 0:
		r.zero++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 8, "number of concurrent clients")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 20, "results per query")
	queriesFile := flag.String("queries", "", "file with one query per line (default: built-in set)")
	flag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		loaded, err := readQueries(*queriesFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading queries: %v\n", err)
			os.Exit(1)
		}
		queries = loaded
	}

	fmt.Printf("target %s, %d clients for %s, %d queries\n", *baseURL, *concurrency, *duration, len(queries))

	rec := &recorder{codes: make(map[int]int)}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: *concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < *concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				q := queries[i%len(queries)]
				u := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", *baseURL, url.QueryEscape(q), *limit)
				start := time.Now()
				code, reply, err := search(ctx, client, u)
				if ctx.Err() != nil {
					return nil
				}
				rec.record(time.Since(start), code, reply, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if !report(rec, *duration) {
		os.Exit(1)
	}
}

func search(ctx context.Context, client *http.Client, u string) (int, *searchReply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return resp.StatusCode, nil, nil
	}
	var reply searchReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, &reply, nil
}

func readQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" && !strings.HasPrefix(line, "#") {
			out = append(out, line)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s has no queries", path)
	}
	return out, sc.Err()
}

func report(rec *recorder, duration time.Duration) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	total := len(rec.latencies) + rec.failures
	fmt.Printf("\nrequests %d (%.1f/s), transport failures %d\n", total, float64(total)/duration.Seconds(), rec.failures)
	fmt.Printf("partial %d, superseded %d, zero-result %d\n", rec.partial, rec.superseded, rec.zero)

	if len(rec.latencies) > 0 {
		slices.Sort(rec.latencies)
		fmt.Printf("latency p50 %s  p90 %s  p99 %s  max %s\n",
			percentile(rec.latencies, 50),
			percentile(rec.latencies, 90),
			percentile(rec.latencies, 99),
			rec.latencies[len(rec.latencies)-1],
		)
	}

	codes := make([]int, 0, len(rec.codes))
	for code := range rec.codes {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, rec.codes[code])
	}

	if total == 0 {
		fmt.Println("no requests completed; is the service running?")
		return false
	}
	return true
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p*len(sorted)+99)/100 - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
