// Package stats provides case-level statistics for a test session.
//
// This file implements CaseDurations, a streaming quantile estimator over
// the wall time between consecutive case events.
package stats

import (
	"math"
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// DurationQuantiles is a point-in-time view of CaseDurations.
type DurationQuantiles struct {
	Count int64         `json:"count"`
	Min   time.Duration `json:"min_ns"`
	Max   time.Duration `json:"max_ns"`
	Mean  time.Duration `json:"mean_ns"`
	P50   time.Duration `json:"p50_ns"`
	P90   time.Duration `json:"p90_ns"`
	P99   time.Duration `json:"p99_ns"`
}

// CaseDurations tracks how long cases take.
//
// Memory stays bounded no matter how many cases a suite runs: samples are
// folded into a t-digest (~100 centroids) instead of being kept.
type CaseDurations struct {
	mu     sync.Mutex // TDigest is not thread-safe
	digest *tdigest.TDigest
	count  int64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
}

// NewCaseDurations creates an empty tracker.
func NewCaseDurations() *CaseDurations {
	return &CaseDurations{
		digest: tdigest.NewWithCompression(100),
		min:    -1, // -1 = unset
	}
}

// Add records one case duration. Negative values are ignored.
func (c *CaseDurations) Add(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.digest.Add(float64(d), 1)
	c.count++
	c.sum += d
	if c.min < 0 || d < c.min {
		c.min = d
	}
	if d > c.max {
		c.max = d
	}
}

// Count returns the number of recorded durations.
func (c *CaseDurations) Count() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Quantile returns the estimated q-quantile (0..1), or 0 with no samples.
func (c *CaseDurations) Quantile(q float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quantileLocked(q)
}

func (c *CaseDurations) quantileLocked(q float64) time.Duration {
	if c.count == 0 {
		return 0
	}
	v := c.digest.Quantile(q)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return time.Duration(v)
}

// Snapshot returns min/max/mean and the p50/p90/p99 estimates.
func (c *CaseDurations) Snapshot() DurationQuantiles {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count == 0 {
		return DurationQuantiles{}
	}
	return DurationQuantiles{
		Count: c.count,
		Min:   c.min,
		Max:   c.max,
		Mean:  c.sum / time.Duration(c.count),
		P50:   c.quantileLocked(0.50),
		P90:   c.quantileLocked(0.90),
		P99:   c.quantileLocked(0.99),
	}
}
