package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

type CallStats struct {
	Call        string  `json:"call"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type CallIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type CallSnapshot struct {
	GeneratedAt time.Time       `json:"generated_at"`
	WindowSize  int             `json:"window_size"`
	Calls       []CallStats     `json:"calls"`
	Indicators  []CallIndicator `json:"indicators,omitempty"`
}

// callWindow keeps a fixed ring of recent latencies per call name.
type callWindow struct {
	mu         sync.RWMutex
	maxSamples int
	calls      map[string]*ring
	indicators map[string]int
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newCallWindow(maxSamples int) *callWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &callWindow{
		maxSamples: maxSamples,
		calls:      make(map[string]*ring),
		indicators: make(map[string]int),
	}
}

func (w *callWindow) Observe(call string, ms float64) {
	if call == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	buf, ok := w.calls[call]
	if !ok {
		buf = &ring{values: make([]float64, w.maxSamples)}
		w.calls[call] = buf
	}
	buf.values[buf.next] = ms
	buf.last = ms
	buf.next++
	if buf.next >= len(buf.values) {
		buf.next = 0
		buf.filled = true
	}
}

func (w *callWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *callWindow) Snapshot() CallSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.calls))
	for call := range w.calls {
		keys = append(keys, call)
	}
	sort.Strings(keys)

	stats := make([]CallStats, 0, len(keys))
	for _, call := range keys {
		buf := w.calls[call]
		n := buf.next
		if buf.filled {
			n = len(buf.values)
		}
		if n <= 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, buf.values[:n])
		sort.Float64s(samples)

		sum := 0.0
		for _, v := range samples {
			sum += v
		}
		stats = append(stats, CallStats{
			Call:        call,
			Samples:     n,
			LastMS:      round2(buf.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(samples, 0.50)),
			P95MS:       round2(quantile(samples, 0.95)),
			P99MS:       round2(quantile(samples, 0.99)),
			TargetP95MS: callTargetP95MS(call),
		})
	}

	names := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		names = append(names, name)
	}
	sort.Strings(names)
	indicators := make([]CallIndicator, 0, len(names))
	for _, name := range names {
		indicators = append(indicators, CallIndicator{Name: name, Count: w.indicators[name]})
	}

	return CallSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Calls:       stats,
		Indicators:  indicators,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func callTargetP95MS(call string) float64 {
	switch {
	case strings.HasPrefix(call, "parser."):
		return 2500
	case strings.HasPrefix(call, "calendar."):
		return 250
	default:
		return 0
	}
}
