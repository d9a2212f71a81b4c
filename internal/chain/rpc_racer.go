package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	rpcTimeout           = 2 * time.Second
	jitterThreshold      = 0.5
	latencyWindow        = 10
	minFailuresForWindow = 3
)

// nodeStats tracks rolling performance for one RPC endpoint so RpcRacer can
// rank nodes instead of racing blindly across all of them every time.
type nodeStats struct {
	mu       sync.Mutex
	url      string
	latency  []float64
	success  int
	failures int
}

func (s *nodeStats) record(latency time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latency = append(s.latency, latency.Seconds())
	if len(s.latency) > latencyWindow {
		s.latency = s.latency[len(s.latency)-latencyWindow:]
	}
	if ok {
		s.success++
	} else {
		s.failures++
	}
}

func (s *nodeStats) avgLatency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latency) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, v := range s.latency {
		sum += v
	}
	return sum / float64(len(s.latency))
}

func (s *nodeStats) jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latency) < 2 {
		return 0
	}
	var sum float64
	for _, v := range s.latency {
		sum += v
	}
	mean := sum / float64(len(s.latency))
	var variance float64
	for _, v := range s.latency {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(s.latency))
	return math.Sqrt(variance)
}

func (s *nodeStats) reliabilityScore() float64 {
	s.mu.Lock()
	total := s.success + s.failures
	s.mu.Unlock()
	if total == 0 {
		return 0.5
	}
	successRate := float64(s.success) / float64(total)
	return s.avgLatency()*(2-successRate) + s.jitter()*2
}

func (s *nodeStats) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// RpcRacer broadcasts a signed transaction to every configured RPC endpoint
// in parallel and returns the first accepted transaction hash, ranking
// endpoints by a rolling reliability score. A node whose jitter and failure
// count are both at or above their thresholds is left out of the race,
// unless that would leave no node at all.
type RpcRacer struct {
	http   *resty.Client
	logger *slog.Logger
	mu     sync.Mutex
	stats  map[string]*nodeStats
	urls   []string
}

// NewRpcRacer builds an RpcRacer over the given RPC endpoint URLs.
func NewRpcRacer(urls []string, logger *slog.Logger) *RpcRacer {
	stats := make(map[string]*nodeStats, len(urls))
	for _, u := range urls {
		stats[u] = &nodeStats{url: u}
	}
	if len(urls) == 0 {
		logger.Warn("rpc racer configured with no endpoints")
	}
	return &RpcRacer{
		http:   resty.New().SetTimeout(rpcTimeout),
		logger: logger,
		stats:  stats,
		urls:   urls,
	}
}

// rankedNodes returns endpoint URLs ordered best-first by reliability score.
// A node is excluded only when its jitter is at least jitterThreshold and it
// has failed at least minFailuresForWindow times; if that would exclude every
// node, all of them are kept.
func (r *RpcRacer) rankedNodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]string, 0, len(r.urls))
	for _, u := range r.urls {
		s := r.stats[u]
		if s.jitter() < jitterThreshold || s.failureCount() < minFailuresForWindow {
			active = append(active, u)
		}
	}
	if len(active) == 0 {
		active = append(active, r.urls...)
	}

	sort.Slice(active, func(i, j int) bool {
		return r.stats[active[i]].reliabilityScore() < r.stats[active[j]].reliabilityScore()
	})
	return active
}

type rpcResponse struct {
	Result string          `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// BroadcastTxRacing submits rawTxHex to every ranked endpoint concurrently
// and returns the first transaction hash accepted by the network. All other
// in-flight requests keep running in the background to update node stats,
// but the caller is unblocked as soon as one node accepts the tx.
func (r *RpcRacer) BroadcastTxRacing(ctx context.Context, rawTxHex string) (string, error) {
	urls := r.rankedNodes()
	if len(urls) == 0 {
		return "", fmt.Errorf("rpc racer: no endpoints configured")
	}

	results := make(chan string, len(urls))
	var wg sync.WaitGroup

	for _, u := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			hash, ok := r.sendToRPC(ctx, url, rawTxHex)
			if ok {
				select {
				case results <- hash:
				default:
				}
			}
		}(u)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	select {
	case hash, ok := <-results:
		if !ok {
			return "", fmt.Errorf("rpc racer: all %d endpoints rejected the transaction", len(urls))
		}
		r.logger.Info("transaction accepted by network", "hash", hash)
		return hash, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *RpcRacer) sendToRPC(ctx context.Context, url, rawTxHex string) (string, bool) {
	stats := r.stats[url]
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  "eth_sendRawTransaction",
		"params":  []string{rawTxHex},
		"id":      1,
	}

	start := time.Now()
	var parsed rpcResponse
	resp, err := r.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&parsed).
		Post(url)
	latency := time.Since(start)

	if err != nil || resp.IsError() {
		stats.record(latency, false)
		r.logger.Debug("rpc endpoint failed", "url", url, "err", err)
		return "", false
	}
	if len(parsed.Error) > 0 {
		stats.record(latency, false)
		r.logger.Debug("rpc endpoint returned error", "url", url, "error", string(parsed.Error))
		return "", false
	}
	if parsed.Result == "" {
		stats.record(latency, false)
		return "", false
	}

	stats.record(latency, true)
	return parsed.Result, true
}
