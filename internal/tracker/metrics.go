package tracker

import (
	"sync"
	"time"

	"harbor-presence/internal/classifier"
)

// Metrics counts what the pipeline did. Safe for concurrent use.
type Metrics struct {
	mu sync.RWMutex

	samplesReceived  int64
	samplesProcessed int64
	rejected         map[RejectReason]int64

	directionEvents     int64
	suppressed          int64
	inconclusive        int64
	unrelated           int64
	ties                int64
	staleDecisions      int64
	duplicatesDiscarded int64
	presenceChanges     int64

	notificationsDropped int64
	listenerFailures     int64

	beaconsReaped  int64
	filtersEvicted int64

	totalProcessingTime time.Duration
	lastProcessTime     time.Time
	startTime           time.Time
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	SamplesReceived      int64                  `json:"samples_received"`
	SamplesProcessed     int64                  `json:"samples_processed"`
	Rejected             map[RejectReason]int64 `json:"rejected"`
	DirectionEvents      int64                  `json:"direction_events"`
	Suppressed           int64                  `json:"debounce_suppressed"`
	Inconclusive         int64                  `json:"inconclusive"`
	Unrelated            int64                  `json:"unrelated"`
	Ties                 int64                  `json:"ties"`
	StaleDecisions       int64                  `json:"stale_decisions"`
	DuplicatesDiscarded  int64                  `json:"duplicates_discarded"`
	PresenceChanges      int64                  `json:"presence_changes"`
	NotificationsDropped int64                  `json:"notifications_dropped"`
	ListenerFailures     int64                  `json:"listener_failures"`
	BeaconsReaped        int64                  `json:"beacons_reaped"`
	FiltersEvicted       int64                  `json:"filters_evicted"`
	TotalProcessingTime  time.Duration          `json:"total_processing_ns"`
	LastProcessTime      time.Time              `json:"last_process_time"`
	StartTime            time.Time              `json:"start_time"`
}

func newMetrics(now time.Time) *Metrics {
	return &Metrics{
		rejected:  make(map[RejectReason]int64),
		startTime: now,
	}
}

// GetSnapshot returns a copy of all counters.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rejected := make(map[RejectReason]int64, len(m.rejected))
	for k, v := range m.rejected {
		rejected[k] = v
	}
	return MetricsSnapshot{
		SamplesReceived:      m.samplesReceived,
		SamplesProcessed:     m.samplesProcessed,
		Rejected:             rejected,
		DirectionEvents:      m.directionEvents,
		Suppressed:           m.suppressed,
		Inconclusive:         m.inconclusive,
		Unrelated:            m.unrelated,
		Ties:                 m.ties,
		StaleDecisions:       m.staleDecisions,
		DuplicatesDiscarded:  m.duplicatesDiscarded,
		PresenceChanges:      m.presenceChanges,
		NotificationsDropped: m.notificationsDropped,
		ListenerFailures:     m.listenerFailures,
		BeaconsReaped:        m.beaconsReaped,
		FiltersEvicted:       m.filtersEvicted,
		TotalProcessingTime:  m.totalProcessingTime,
		LastProcessTime:      m.lastProcessTime,
		StartTime:            m.startTime,
	}
}

// TotalRejected sums the per-reason reject counters.
func (s MetricsSnapshot) TotalRejected() int64 {
	var n int64
	for _, v := range s.Rejected {
		n += v
	}
	return n
}

func (m *Metrics) incReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samplesReceived++
}

func (m *Metrics) incRejected(reason RejectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *Metrics) incProcessed(d time.Duration, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samplesProcessed++
	m.totalProcessingTime += d
	m.lastProcessTime = at
}

func (m *Metrics) incOutcome(o classifier.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch o {
	case classifier.OutcomeAccepted:
		m.directionEvents++
	case classifier.OutcomeSuppressed:
		m.suppressed++
	case classifier.OutcomeInconclusive:
		m.inconclusive++
	case classifier.OutcomeUnrelated:
		m.unrelated++
	case classifier.OutcomeTie:
		m.ties++
	case classifier.OutcomeStale:
		m.staleDecisions++
	}
}

func (m *Metrics) incDuplicate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplicatesDiscarded++
}

func (m *Metrics) incPresenceChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presenceChanges++
}

func (m *Metrics) incDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notificationsDropped++
}

func (m *Metrics) incListenerFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listenerFailures++
}

func (m *Metrics) addSwept(beacons, filters int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beaconsReaped += int64(beacons)
	m.filtersEvicted += int64(filters)
}
