package metrics

import (
	"sync"
	"time"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	FeedsFetched         int64
	FeedsFailed          int64
	ItemsFetched         int64
	InvalidURLs          int64
	SeenFiltered         int64
	DuplicatesFiltered   int64
	SimilarTitles        int64
	ItemsKept            int64
	DigestsWritten       int64
	TelegramMessagesSent int64
	Runs                 int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunID     string
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool
}

var Global = New()

func New() *Metrics {
	return &Metrics{IsHealthy: true}
}

func (m *Metrics) IncrementFeedsFetched() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedsFetched++
}

func (m *Metrics) IncrementFeedsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FeedsFailed++
}

func (m *Metrics) AddItemsFetched(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsFetched += int64(n)
}

// RecordDedupe adds one run's drop counters.
func (m *Metrics) RecordDedupe(invalid, seen, duplicate, similar int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvalidURLs += int64(invalid)
	m.SeenFiltered += int64(seen)
	m.DuplicatesFiltered += int64(duplicate)
	m.SimilarTitles += int64(similar)
}

func (m *Metrics) AddItemsKept(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ItemsKept += int64(n)
}

func (m *Metrics) IncrementDigestsWritten() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DigestsWritten++
}

func (m *Metrics) IncrementTelegramMessagesSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TelegramMessagesSent++
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Runs++
	m.LastRunID = runID
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"runs":                       m.Runs,
		"feeds_fetched":              m.FeedsFetched,
		"feeds_failed":               m.FeedsFailed,
		"items_fetched":              m.ItemsFetched,
		"invalid_urls":               m.InvalidURLs,
		"seen_filtered":              m.SeenFiltered,
		"duplicates_filtered":        m.DuplicatesFiltered,
		"similar_titles_filtered":    m.SimilarTitles,
		"items_kept":                 m.ItemsKept,
		"digests_written":            m.DigestsWritten,
		"telegram_messages_sent":     m.TelegramMessagesSent,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_id":                m.LastRunID,
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
