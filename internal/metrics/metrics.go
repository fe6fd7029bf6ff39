// Package metrics tracks what the server has served during its lifetime.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ServeMetrics holds request counters. Safe for concurrent use.
type ServeMetrics struct {
	StartTime time.Time

	requests     atomic.Int64
	bytes        atomic.Int64
	wasm         atomic.Int64
	notFound     atomic.Int64
	serverErrors atomic.Int64
}

// NewServeMetrics creates a new metrics instance.
func NewServeMetrics() *ServeMetrics {
	return &ServeMetrics{
		StartTime: time.Now(),
	}
}

// Record accounts for one finished response.
func (m *ServeMetrics) Record(status int, written int64, wasm bool) {
	m.requests.Add(1)
	m.bytes.Add(written)
	if wasm && status < http.StatusBadRequest {
		m.wasm.Add(1)
	}
	switch {
	case status == http.StatusNotFound:
		m.notFound.Add(1)
	case status >= http.StatusInternalServerError:
		m.serverErrors.Add(1)
	}
}

// Requests returns the number of responses recorded.
func (m *ServeMetrics) Requests() int64 { return m.requests.Load() }

// Bytes returns the number of body bytes written.
func (m *ServeMetrics) Bytes() int64 { return m.bytes.Load() }

// Wasm returns the number of successful .wasm responses.
func (m *ServeMetrics) Wasm() int64 { return m.wasm.Load() }

// NotFound returns the number of 404 responses.
func (m *ServeMetrics) NotFound() int64 { return m.notFound.Load() }

// ServerErrors returns the number of 5xx responses.
func (m *ServeMetrics) ServerErrors() int64 { return m.serverErrors.Load() }

// Uptime returns the time since the metrics were created.
func (m *ServeMetrics) Uptime() time.Duration {
	return time.Since(m.StartTime)
}

// String returns a single-line summary.
func (m *ServeMetrics) String() string {
	return fmt.Sprintf("📊 Served %d requests (%d wasm, %d not found, %d errors, %s) in %v",
		m.Requests(),
		m.Wasm(),
		m.NotFound(),
		m.ServerErrors(),
		formatBytes(m.Bytes()),
		m.Uptime().Round(time.Second),
	)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
