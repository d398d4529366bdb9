// Command loadtest drives synthetic OpenAI-shaped chat-completion traffic
// against a running gateway (or cluster of nodes started by cmd/launcher)
// and reports admission rate and latency percentiles.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type outcome struct {
	status  int
	latency time.Duration
}

func main() {
	targets := flag.String("targets", "http://localhost:8080", "comma-separated base URLs of gateway nodes to spread load across")
	apiKey := flag.String("key", "sk-live", "API key to send as a Bearer token")
	workers := flag.Int("workers", 16, "concurrent requesting goroutines")
	requests := flag.Int("requests", 1000, "total requests across all workers")
	maxTokens := flag.Int("max-tokens", 64, "max_tokens to request per call")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request client timeout")
	flag.Parse()

	urls := strings.Split(*targets, ",")
	for i := range urls {
		urls[i] = strings.TrimRight(strings.TrimSpace(urls[i]), "/")
	}

	client := &http.Client{Timeout: *timeout}

	var (
		sent        atomic.Int64
		ok200       atomic.Int64
		rejected429 atomic.Int64
		errored     atomic.Int64
	)

	results := make(chan outcome, *requests)

	var wg sync.WaitGroup
	perWorker := *requests / *workers
	extra := *requests % *workers

	rng := rand.New(rand.NewSource(1))

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		target := urls[w%len(urls)]
		seed := rng.Int63()
		count := perWorker
		if w < extra {
			count++
		}
		go func(base string, workerSeed int64, count int) {
			defer wg.Done()
			local := rand.New(rand.NewSource(workerSeed))
			for i := 0; i < count; i++ {
				sent.Add(1)
				body := chatBody(*maxTokens, local.Intn(4096))

				req, err := http.NewRequest(http.MethodPost, base+"/v1/chat/completions", bytes.NewReader(body))
				if err != nil {
					errored.Add(1)
					continue
				}
				req.Header.Set("Authorization", "Bearer "+*apiKey)
				req.Header.Set("Content-Type", "application/json")

				start := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(start)
				if err != nil {
					errored.Add(1)
					results <- outcome{status: 0, latency: elapsed}
					continue
				}
				resp.Body.Close()

				switch resp.StatusCode {
				case http.StatusOK:
					ok200.Add(1)
				case http.StatusTooManyRequests:
					rejected429.Add(1)
				default:
					errored.Add(1)
				}
				results <- outcome{status: resp.StatusCode, latency: elapsed}
			}
		}(target, seed, count)
	}

	wg.Wait()
	close(results)

	latencies := make([]time.Duration, 0, *requests)
	for r := range results {
		latencies = append(latencies, r.latency)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	fmt.Printf("targets: %s\n", strings.Join(urls, ", "))
	fmt.Printf("sent=%d ok=%d rejected_429=%d errored=%d\n", sent.Load(), ok200.Load(), rejected429.Load(), errored.Load())
	fmt.Printf("latency p50=%s p95=%s p99=%s\n", percentile(latencies, 50), percentile(latencies, 95), percentile(latencies, 99))
}

func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

func chatBody(maxTokens, seed int) []byte {
	return []byte(fmt.Sprintf(
		`{"model":"gpt-4o-mini","max_tokens":%d,"messages":[{"role":"user","content":"loadtest message %d"}]}`,
		maxTokens, seed,
	))
}
