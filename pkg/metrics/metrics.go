package metrics

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Metrics collects performance and usage counters for OSD playback
type Metrics struct {
	mu sync.RWMutex

	// Range GET metrics
	RangeGetBytesTotal map[string]int64 // by source
	RangeGetCountTotal map[string]int64 // by source
	RangeGetDurationNs map[string]int64 // by source

	// Read path metrics
	ReadHitsTotal   int64
	ReadMissesTotal int64
	ReadBytesTotal  int64

	// Index metrics
	ContainersIndexedTotal int64
	RecordsIndexedTotal    int64
	TruncatedTotal         int64
	IndexDurationNs        int64

	// Playback metrics
	BlocksEmittedTotal int64
	SeeksTotal         int64
	SeekMissesTotal    int64

	// Render metrics
	FramesRenderedTotal int64
	GlyphsBlittedTotal  int64
	RenderDurationNs    int64

	// Cache metrics
	CacheHitsTotal   int64
	CacheMissesTotal int64
	CacheSizeBytes   int64
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		RangeGetBytesTotal: make(map[string]int64),
		RangeGetCountTotal: make(map[string]int64),
		RangeGetDurationNs: make(map[string]int64),
	}
}

// RecordRangeGet records a ranged read against a remote source
func (m *Metrics) RecordRangeGet(source string, bytes int64, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RangeGetBytesTotal[source] += bytes
	m.RangeGetCountTotal[source]++
	m.RangeGetDurationNs[source] += duration.Nanoseconds()

	log.Debug().
		Str("source", source).
		Int64("bytes", bytes).
		Dur("duration", duration).
		Msg("range GET completed")
}

// RecordRead records a read served locally (hit) or remotely (miss)
func (m *Metrics) RecordRead(bytes int64, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReadBytesTotal += bytes
	if hit {
		m.ReadHitsTotal++
	} else {
		m.ReadMissesTotal++
	}
}

// RecordIndex records a finished container scan
func (m *Metrics) RecordIndex(records int, truncated bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ContainersIndexedTotal++
	m.RecordsIndexedTotal += int64(records)
	if truncated {
		m.TruncatedTotal++
	}
	m.IndexDurationNs += duration.Nanoseconds()

	log.Debug().
		Int("records", records).
		Bool("truncated", truncated).
		Dur("duration", duration).
		Msg("container indexed")
}

func (m *Metrics) RecordBlockEmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.BlocksEmittedTotal++
}

func (m *Metrics) RecordSeek(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SeeksTotal++
	if !hit {
		m.SeekMissesTotal++
	}
}

// RecordRender records one composited overlay
func (m *Metrics) RecordRender(glyphs int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FramesRenderedTotal++
	m.GlyphsBlittedTotal += int64(glyphs)
	m.RenderDurationNs += duration.Nanoseconds()
}

// RecordCacheOperation records cache hit/miss
func (m *Metrics) RecordCacheOperation(hit bool, sizeBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hit {
		m.CacheHitsTotal++
	} else {
		m.CacheMissesTotal++
	}

	if sizeBytes > 0 {
		m.CacheSizeBytes += sizeBytes
	}
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (m *Metrics) GetPrometheusMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	metrics := make(map[string]interface{})

	var totalRangeGetBytes, totalRangeGetCount int64
	for source, bytes := range m.RangeGetBytesTotal {
		totalRangeGetBytes += bytes
		totalRangeGetCount += m.RangeGetCountTotal[source]

		metrics["fpvosd_range_get_bytes_total{source=\""+source+"\"}"] = bytes
		metrics["fpvosd_range_get_count_total{source=\""+source+"\"}"] = m.RangeGetCountTotal[source]
	}

	metrics["fpvosd_range_get_bytes_total"] = totalRangeGetBytes
	metrics["fpvosd_range_get_count_total"] = totalRangeGetCount
	metrics["fpvosd_read_hits_total"] = m.ReadHitsTotal
	metrics["fpvosd_read_misses_total"] = m.ReadMissesTotal
	metrics["fpvosd_read_bytes_total"] = m.ReadBytesTotal
	metrics["fpvosd_containers_indexed_total"] = m.ContainersIndexedTotal
	metrics["fpvosd_records_indexed_total"] = m.RecordsIndexedTotal
	metrics["fpvosd_truncated_containers_total"] = m.TruncatedTotal
	metrics["fpvosd_index_seconds_total"] = float64(m.IndexDurationNs) / 1e9
	metrics["fpvosd_blocks_emitted_total"] = m.BlocksEmittedTotal
	metrics["fpvosd_seeks_total"] = m.SeeksTotal
	metrics["fpvosd_seek_misses_total"] = m.SeekMissesTotal
	metrics["fpvosd_frames_rendered_total"] = m.FramesRenderedTotal
	metrics["fpvosd_glyphs_blitted_total"] = m.GlyphsBlittedTotal
	metrics["fpvosd_render_seconds_total"] = float64(m.RenderDurationNs) / 1e9
	metrics["fpvosd_cache_hits_total"] = m.CacheHitsTotal
	metrics["fpvosd_cache_misses_total"] = m.CacheMissesTotal
	metrics["fpvosd_cache_size_bytes"] = m.CacheSizeBytes

	return metrics
}

// LogSummary logs a summary of current metrics
func (m *Metrics) LogSummary() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var totalRangeGetBytes, totalRangeGetCount int64
	for _, bytes := range m.RangeGetBytesTotal {
		totalRangeGetBytes += bytes
	}
	for _, count := range m.RangeGetCountTotal {
		totalRangeGetCount += count
	}

	cacheHitRate := float64(0)
	if m.CacheHitsTotal+m.CacheMissesTotal > 0 {
		cacheHitRate = float64(m.CacheHitsTotal) / float64(m.CacheHitsTotal+m.CacheMissesTotal)
	}

	avgRender := time.Duration(0)
	if m.FramesRenderedTotal > 0 {
		avgRender = time.Duration(m.RenderDurationNs / m.FramesRenderedTotal)
	}

	log.Info().
		Int64("range_get_bytes", totalRangeGetBytes).
		Int64("range_get_count", totalRangeGetCount).
		Int64("records_indexed", m.RecordsIndexedTotal).
		Int64("blocks_emitted", m.BlocksEmittedTotal).
		Int64("seeks", m.SeeksTotal).
		Int64("frames_rendered", m.FramesRenderedTotal).
		Int64("glyphs_blitted", m.GlyphsBlittedTotal).
		Dur("avg_render", avgRender).
		Float64("cache_hit_rate", cacheHitRate).
		Msg("metrics summary")
}

// Global metrics instance
var GlobalMetrics = NewMetrics()

// Convenience functions for global metrics
func RecordRangeGet(source string, bytes int64, duration time.Duration) {
	GlobalMetrics.RecordRangeGet(source, bytes, duration)
}

func RecordRead(bytes int64, hit bool) {
	GlobalMetrics.RecordRead(bytes, hit)
}

func RecordIndex(records int, truncated bool, duration time.Duration) {
	GlobalMetrics.RecordIndex(records, truncated, duration)
}

func RecordBlockEmitted() {
	GlobalMetrics.RecordBlockEmitted()
}

func RecordSeek(hit bool) {
	GlobalMetrics.RecordSeek(hit)
}

func RecordRender(glyphs int, duration time.Duration) {
	GlobalMetrics.RecordRender(glyphs, duration)
}

func RecordCacheOperation(hit bool, sizeBytes int64) {
	GlobalMetrics.RecordCacheOperation(hit, sizeBytes)
}

func LogMetricsSummary() {
	GlobalMetrics.LogSummary()
}
