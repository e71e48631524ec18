package bot

import (
	"log"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PerformanceMonitor tracks the latencies that matter on the detection
// path: gateway, REST (audit log lookups), and the detector itself
type PerformanceMonitor struct {
	eventCount   atomic.Uint64
	eventLatency atomic.Int64 // nanoseconds

	restCallCount atomic.Uint64
	restLatency   atomic.Int64 // nanoseconds

	wsLatency atomic.Int64 // milliseconds

	detectionCount   atomic.Uint64
	detectionLatency atomic.Int64 // nanoseconds

	startTime time.Time
}

func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{
		startTime: time.Now(),
	}
}

// TrackEvent records event processing time
func (pm *PerformanceMonitor) TrackEvent(duration time.Duration) {
	pm.eventCount.Add(1)
	pm.eventLatency.Store(duration.Nanoseconds())
}

// TrackREST records REST API call time
func (pm *PerformanceMonitor) TrackREST(duration time.Duration) {
	pm.restCallCount.Add(1)
	pm.restLatency.Store(duration.Nanoseconds())
}

// TrackDetection records one end-to-end detection pass
func (pm *PerformanceMonitor) TrackDetection(duration time.Duration) {
	pm.detectionCount.Add(1)
	pm.detectionLatency.Store(duration.Nanoseconds())
}

// UpdateWSLatency updates WebSocket latency
func (pm *PerformanceMonitor) UpdateWSLatency(latency time.Duration) {
	pm.wsLatency.Store(latency.Milliseconds())
}

// GetStats returns current performance statistics
func (pm *PerformanceMonitor) GetStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"uptime_seconds":       time.Since(pm.startTime).Seconds(),
		"event_count":          pm.eventCount.Load(),
		"event_latency_ns":     pm.eventLatency.Load(),
		"rest_call_count":      pm.restCallCount.Load(),
		"rest_latency_ns":      pm.restLatency.Load(),
		"ws_latency_ms":        pm.wsLatency.Load(),
		"detection_count":      pm.detectionCount.Load(),
		"detection_latency_ns": pm.detectionLatency.Load(),
		"goroutines":           runtime.NumGoroutine(),
		"memory_alloc_mb":      m.Alloc / 1024 / 1024,
		"memory_sys_mb":        m.Sys / 1024 / 1024,
		"gc_count":             m.NumGC,
	}
}

// PerfTransport wraps http.RoundTripper to track REST latency
type PerfTransport struct {
	Base    http.RoundTripper
	Monitor *PerformanceMonitor
}

func (t *PerfTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.Base.RoundTrip(req)
	t.Monitor.TrackREST(time.Since(start))
	return resp, err
}

// StartMonitoring logs a performance summary on a fixed interval
func (b *Bot) StartMonitoring(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			if b.Session != nil {
				b.PerfMonitor.UpdateWSLatency(b.Session.HeartbeatLatency())
			}

			stats := b.PerfMonitor.GetStats()
			log.Printf("📊 Perf: events=%d detections=%d rest_calls=%d ws=%dms mem=%dMB goroutines=%d",
				stats["event_count"], stats["detection_count"], stats["rest_call_count"],
				stats["ws_latency_ms"], stats["memory_alloc_mb"], stats["goroutines"])

			if wsLatency := stats["ws_latency_ms"].(int64); wsLatency > 50 {
				log.Printf("⚠️  WebSocket latency is %dms - check network routing!", wsLatency)
			}
			if restLatency := stats["rest_latency_ns"].(int64); restLatency > 200_000_000 {
				log.Printf("⚠️  REST latency is %.2fms - check HTTP client configuration!", float64(restLatency)/1_000_000.0)
			}
			if mem := stats["memory_alloc_mb"].(uint64); mem > 2500 {
				log.Printf("⚠️  Memory usage is %d MB - approaching the 3GB limit!", mem)
			}
			if err := b.DB.CachedPing(); err != nil {
				log.Printf("⚠️  Database unreachable: %v", err)
			}
		}
	}()

	log.Printf("📊 Performance monitoring started (interval: %v)", interval)
}
