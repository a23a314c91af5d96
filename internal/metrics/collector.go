package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrMissingTimer is returned when a timer is ended without a matching
	// start. That is a programming error and is never retried.
	ErrMissingTimer = errors.New("no timer started for id")

	// ErrNotFound is returned when no metrics were recorded for a document.
	ErrNotFound = errors.New("no metrics recorded for document")
)

// Record is one document's processing measurement.
type Record struct {
	DocumentID            string         `json:"document_id"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
	FileSizeBytes         int64          `json:"file_size_bytes"`
	Stats                 map[string]any `json:"stats,omitempty"`
}

// DocumentMetrics is the per-document view, with throughput and the rank of
// this document's processing time against everything recorded so far.
type DocumentMetrics struct {
	Record
	ThroughputBytesPerSec float64 `json:"throughput_bytes_per_sec"`
	Percentile            float64 `json:"percentile"`
}

// GlobalMetrics summarizes the full history at call time.
type GlobalMetrics struct {
	TotalDocuments     int     `json:"total_documents_processed"`
	TotalTimeSeconds   float64 `json:"total_processing_time_seconds"`
	AverageTimeSeconds float64 `json:"average_processing_time_seconds"`
	MedianTimeSeconds  float64 `json:"median_processing_time_seconds"`
	MinTimeSeconds     float64 `json:"min_processing_time_seconds"`
	MaxTimeSeconds     float64 `json:"max_processing_time_seconds"`
	TotalDataMB        float64 `json:"total_data_mb"`
}

// Collector is the process-wide ledger of timing and size statistics. One
// instance is constructed at process start and handed to every consumer; the
// history is unbounded and lives for the process lifetime.
//
// A single mutex serializes every operation, reads included, so no caller
// ever observes a torn history.
type Collector struct {
	mu        sync.Mutex
	timers    map[string]time.Time
	history   []Record
	byDoc     map[string]int // documentID -> index of latest record in history
	totalTime float64
	now       func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		timers: make(map[string]time.Time),
		byDoc:  make(map[string]int),
		now:    time.Now,
	}
}

// StartTimer records the current time under timerID. Restarting an id
// overwrites the previous start.
func (c *Collector) StartTimer(timerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timers[timerID] = c.now()
}

// EndTimer returns the elapsed seconds since the matching StartTimer and
// removes the timer entry.
func (c *Collector) EndTimer(timerID string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start, ok := c.timers[timerID]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingTimer, timerID)
	}
	delete(c.timers, timerID)
	return c.now().Sub(start).Seconds(), nil
}

// RecordDocument appends one document's measurement to the history.
func (c *Collector) RecordDocument(documentID string, processingTime float64, fileSize int64, stats map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, Record{
		DocumentID:            documentID,
		ProcessingTimeSeconds: processingTime,
		FileSizeBytes:         fileSize,
		Stats:                 stats,
	})
	c.byDoc[documentID] = len(c.history) - 1
	c.totalTime += processingTime
}

// DocumentMetrics returns the latest record for a document together with its
// throughput and percentile rank. Unrecorded ids yield ErrNotFound.
func (c *Collector) DocumentMetrics(documentID string) (*DocumentMetrics, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.byDoc[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, documentID)
	}
	rec := c.history[idx]

	atOrBelow := 0
	for _, r := range c.history {
		if r.ProcessingTimeSeconds <= rec.ProcessingTimeSeconds {
			atOrBelow++
		}
	}

	m := &DocumentMetrics{
		Record:     rec,
		Percentile: float64(atOrBelow) / float64(len(c.history)) * 100,
	}
	if rec.ProcessingTimeSeconds > 0 {
		m.ThroughputBytesPerSec = float64(rec.FileSizeBytes) / rec.ProcessingTimeSeconds
	}
	return m, nil
}

// GlobalMetrics computes aggregate statistics over the full history. The
// O(n) walk per call is accepted; corpora are moderate.
func (c *Collector) GlobalMetrics() GlobalMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	g := GlobalMetrics{
		TotalDocuments:   len(c.history),
		TotalTimeSeconds: c.totalTime,
	}
	if len(c.history) == 0 {
		return g
	}

	times := make([]float64, len(c.history))
	var totalBytes int64
	for i, r := range c.history {
		times[i] = r.ProcessingTimeSeconds
		totalBytes += r.FileSizeBytes
	}
	sort.Float64s(times)

	g.AverageTimeSeconds = c.totalTime / float64(len(times))
	g.MinTimeSeconds = times[0]
	g.MaxTimeSeconds = times[len(times)-1]
	g.TotalDataMB = float64(totalBytes) / (1 << 20)

	mid := len(times) / 2
	if len(times)%2 == 1 {
		g.MedianTimeSeconds = times[mid]
	} else {
		g.MedianTimeSeconds = (times[mid-1] + times[mid]) / 2
	}

	return g
}
