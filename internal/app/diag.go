package app

import (
	"sync"
	"time"

	"pinintel/internal/domain"
)

// DiagCollector accumulates timings, the ordered fallback decisions, and
// upload failures for one resolution. Safe for the concurrent ingest path;
// everything else appends sequentially.
type DiagCollector struct {
	mu        sync.Mutex
	timings   map[string]time.Duration
	fallbacks []string
	failures  []domain.UploadFailure
}

func NewDiagCollector() *DiagCollector {
	return &DiagCollector{timings: make(map[string]time.Duration)}
}

// Time starts a named timer and returns its stop function.
func (c *DiagCollector) Time(name string) func() {
	start := time.Now()
	return func() {
		c.mu.Lock()
		c.timings[name] = time.Since(start)
		c.mu.Unlock()
	}
}

func (c *DiagCollector) Fallback(name string) {
	c.mu.Lock()
	c.fallbacks = append(c.fallbacks, name)
	c.mu.Unlock()
}

func (c *DiagCollector) Failure(f domain.UploadFailure) {
	c.mu.Lock()
	c.failures = append(c.failures, f)
	c.mu.Unlock()
}

// HasFallback reports whether a named decision was recorded.
func (c *DiagCollector) HasFallback(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.fallbacks {
		if f == name {
			return true
		}
	}
	return false
}

// Snapshot freezes the accumulated state into the response shape.
func (c *DiagCollector) Snapshot() domain.Diagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := domain.Diagnostics{
		Timings:        make(map[string]time.Duration, len(c.timings)),
		FallbacksUsed:  make([]string, len(c.fallbacks)),
		UploadFailures: make([]domain.UploadFailure, len(c.failures)),
	}
	for k, v := range c.timings {
		d.Timings[k] = v
	}
	copy(d.FallbacksUsed, c.fallbacks)
	copy(d.UploadFailures, c.failures)
	return d
}
